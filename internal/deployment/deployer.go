package deployment

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"jardeploy/internal/build"
	"jardeploy/internal/security"
	"jardeploy/pkg/fileutil"
)

// DeployedJar is an artifact after it was copied into the deploy tree.
type DeployedJar struct {
	Project string
	Source  string
	Path    string
	// Index is the version index of a stamped name, 0 otherwise.
	Index int
	Sign  bool
}

// Name returns the deployed file name.
func (j DeployedJar) Name() string {
	return filepath.Base(j.Path)
}

// Deployer copies artifacts into the deploy tree.
type Deployer struct {
	Logger *slog.Logger
}

// Deploy copies source to destDir/name, creating destDir as needed. An
// existing file with the same name is replaced.
func (d *Deployer) Deploy(source, destDir, name string) (string, error) {
	if !fileutil.FileExists(source) {
		return "", fmt.Errorf("%w: %s", build.ErrArtifactNotFound, source)
	}

	if err := os.MkdirAll(destDir, security.PermPublicDir); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", destDir, err)
	}

	dest := filepath.Join(destDir, name)
	if _, err := security.PathWithin(destDir, dest); err != nil {
		return "", err
	}

	n, err := fileutil.CopyFile(source, dest, security.PermPublicFile)
	if err != nil {
		return "", fmt.Errorf("failed to copy %s: %w", source, err)
	}

	d.logger().Info("Copied jar", "from", source, "to", dest, "size", humanize.Bytes(uint64(n)))
	return dest, nil
}

func (d *Deployer) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return d.Logger
}
