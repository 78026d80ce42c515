package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"jardeploy/internal/packer"
	versionpkg "jardeploy/internal/version"
	"jardeploy/pkg/fileutil"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list [PROJECT]",
	Short: "List deployed jars",
	Long:  `List the jars deployed for every project (or just PROJECT), newest last.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

// deployedEntry is one jar found in a project's deploy directory.
type deployedEntry struct {
	Name      string
	Size      int64
	Stamped   versionpkg.Stamped
	IsStamped bool
	Companion bool
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, registry, err := loadConfig()
	if err != nil {
		return err
	}

	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	projects, err := registry.Select(name)
	if err != nil {
		return configError(err)
	}

	out := cmd.OutOrStdout()
	for _, p := range projects {
		dir := p.DeployDir(cfg.DeployRoot())
		entries, err := deployedJars(dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s (%s)\n", p.Name, p.Path)
		printEntries(out, entries)
	}
	return nil
}

// deployedJars lists the jars in dir: unstamped names first, then
// stamped ones by ascending index.
func deployedJars(dir string) ([]deployedEntry, error) {
	names, err := fileutil.Glob(dir, "*.jar")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	entries := make([]deployedEntry, 0, len(names))
	for _, name := range names {
		p := filepath.Join(dir, name)
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		e := deployedEntry{
			Name:      name,
			Size:      info.Size(),
			Companion: fileutil.FileExists(p + packer.CompanionExt),
		}
		e.Stamped, e.IsStamped = versionpkg.Parse(e.Name)
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsStamped != b.IsStamped {
			return !a.IsStamped
		}
		if a.IsStamped && a.Stamped.Index != b.Stamped.Index {
			return a.Stamped.Index < b.Stamped.Index
		}
		return a.Name < b.Name
	})
	return entries, nil
}

func printEntries(w io.Writer, entries []deployedEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "  (nothing deployed)")
		return
	}
	for _, e := range entries {
		pack := ""
		if e.Companion {
			pack = " +pack.gz"
		}
		if e.IsStamped {
			fmt.Fprintf(w, "  %4d  %-60s %9s  %s%s\n", e.Stamped.Index, e.Name,
				humanize.Bytes(uint64(e.Size)), humanize.Time(e.Stamped.Timestamp), pack)
		} else {
			fmt.Fprintf(w, "     -  %-60s %9s%s\n", e.Name, humanize.Bytes(uint64(e.Size)), pack)
		}
	}
}
