package version

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"jardeploy/pkg/fileutil"
)

// TimestampLayout formats the run start time embedded in stamped names.
const TimestampLayout = "20060102150405"

// DefaultPattern is the listing filter used when no pattern is given.
const DefaultPattern = "*.jar"

var (
	indexSuffix = regexp.MustCompile(`-(\d+)\.jar$`)
	stampedName = regexp.MustCompile(`^(.+)__V(.*)-(\d{14})-(\d+)\.jar$`)
)

// Lister lists the base names of files in dir matching a glob pattern.
// A missing directory lists as empty.
type Lister interface {
	List(dir, pattern string) ([]string, error)
}

// GlobLister lists the real file system.
type GlobLister struct{}

func (GlobLister) List(dir, pattern string) ([]string, error) {
	return fileutil.Glob(dir, pattern)
}

// Stamp formats the run start time for use in file names.
func Stamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// Versioner derives the next version-stamped file name for a destination
// directory. The directory listing is the only ledger: every name it
// produces carries an index one above the highest index already present.
type Versioner struct {
	Lister    Lister
	Timestamp string
}

// New creates a Versioner stamping names with the given run start time.
func New(lister Lister, runStart time.Time) *Versioner {
	if lister == nil {
		lister = GlobLister{}
	}
	return &Versioner{Lister: lister, Timestamp: Stamp(runStart)}
}

// NextIndex returns the index for the next jar written to dir. Names
// matching pattern (DefaultPattern when empty) are scanned for a trailing
// "-<digits>.jar"; names without one count as index 0.
func (v *Versioner) NextIndex(dir, pattern string) (int, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	names, err := v.Lister.List(dir, pattern)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	highest := 0
	for _, name := range names {
		if i := trailingIndex(name); i > highest {
			highest = i
		}
	}
	return highest + 1, nil
}

// Name returns the destination file name for an artifact. An empty
// version label keeps the source's base name and yields index 0.
func (v *Versioner) Name(dir, project, label, source string) (string, int, error) {
	if label == "" {
		return filepath.Base(source), 0, nil
	}
	index, err := v.NextIndex(dir, DefaultPattern)
	if err != nil {
		return "", 0, err
	}
	return Compose(project, label, v.Timestamp, index), index, nil
}

// Compose builds "<project>__V<version>-<timestamp>-<index>.jar".
func Compose(project, label, timestamp string, index int) string {
	return fmt.Sprintf("%s__V%s-%s-%d.jar", project, label, timestamp, index)
}

func trailingIndex(name string) int {
	m := indexSuffix.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	i, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return i
}

// Stamped is a decomposed version-stamped file name.
type Stamped struct {
	Project   string
	Version   string
	Timestamp time.Time
	Index     int
}

// Parse decomposes a stamped file name. ok is false for names that do
// not follow the scheme, such as jars deployed under their own names.
func Parse(name string) (Stamped, bool) {
	m := stampedName.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return Stamped{}, false
	}
	ts, err := time.ParseInLocation(TimestampLayout, m[3], time.Local)
	if err != nil {
		return Stamped{}, false
	}
	index, err := strconv.Atoi(m[4])
	if err != nil {
		return Stamped{}, false
	}
	return Stamped{Project: m[1], Version: m[2], Timestamp: ts, Index: index}, true
}
