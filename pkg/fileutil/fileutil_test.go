package fileutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// Tests for search.go

func TestSearchPaths(t *testing.T) {
	tmpDir := t.TempDir()

	file1 := filepath.Join(tmpDir, "file1.yml")
	file2 := filepath.Join(tmpDir, "file2.yml")
	if err := os.WriteFile(file1, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	tests := []struct {
		name    string
		paths   []string
		want    string
		wantErr bool
	}{
		{"finds first existing file", []string{file2, file1}, file1, false},
		{"returns error when no files exist", []string{file2}, "", true},
		{"handles empty path list", []string{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SearchPaths(tt.paths)
			if (err != nil) != tt.wantErr {
				t.Errorf("SearchPaths() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SearchPaths() = %v, want %v", got, tt.want)
			}
			if opt := SearchPathsOptional(tt.paths); opt != tt.want {
				t.Errorf("SearchPathsOptional() = %v, want %v", opt, tt.want)
			}
		})
	}
}

func TestDefaultConfigPaths(t *testing.T) {
	paths := DefaultConfigPaths("config.yml")
	if len(paths) != 3 {
		t.Fatalf("DefaultConfigPaths() returned %d paths, want 3", len(paths))
	}
	if !strings.HasSuffix(paths[1], filepath.Join("config", "config.yml")) {
		t.Errorf("second search path = %s, want ./config/config.yml", paths[1])
	}
	if paths[2] != "/etc/jardeploy/config.yml" {
		t.Errorf("system path = %s", paths[2])
	}
}

func TestFileAndDirExists(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "a.jar")
	if err := os.WriteFile(file, []byte("jar"), 0644); err != nil {
		t.Fatal(err)
	}

	if !FileExists(file) {
		t.Error("FileExists() = false for existing file")
	}
	if FileExists(tmpDir) {
		t.Error("FileExists() = true for directory")
	}
	if !DirExists(tmpDir) {
		t.Error("DirExists() = false for directory")
	}
	if DirExists(file) {
		t.Error("DirExists() = true for file")
	}
	if FileExists(filepath.Join(tmpDir, "missing.jar")) {
		t.Error("FileExists() = true for missing file")
	}
}

func TestGlob(t *testing.T) {
	tmpDir := t.TempDir()
	for _, name := range []string{"b.jar", "a.jar", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(tmpDir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(tmpDir, "dir.jar"), 0755); err != nil {
		t.Fatal(err)
	}

	got, err := Glob(tmpDir, "*.jar")
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	if diff := cmp.Diff([]string{"a.jar", "b.jar"}, got); diff != "" {
		t.Errorf("Glob() mismatch (-want +got):\n%s", diff)
	}

	missing, err := Glob(filepath.Join(tmpDir, "nope"), "*.jar")
	if err != nil {
		t.Fatalf("Glob() on missing dir error = %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("Glob() on missing dir = %v, want empty", missing)
	}

	if _, err := Glob(tmpDir, "[bad"); err == nil {
		t.Error("Glob() should reject malformed pattern")
	}
}

func TestFindFiles(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "org", "concord", "otrunk")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{
		filepath.Join(root, "top.jar"),
		filepath.Join(nested, "otrunk.jar"),
		filepath.Join(nested, "otrunk.jar.pack.gz"),
	} {
		if err := os.WriteFile(p, nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := FindFiles(root, "*.jar")
	if err != nil {
		t.Fatalf("FindFiles() error = %v", err)
	}
	want := []string{
		filepath.Join(nested, "otrunk.jar"),
		filepath.Join(root, "top.jar"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FindFiles() mismatch (-want +got):\n%s", diff)
	}
}

// Tests for copy.go

func TestCopyFile(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "src.jar")
	dst := filepath.Join(tmpDir, "dst.jar")
	if err := os.WriteFile(src, []byte("PK jar bytes"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	n, err := CopyFile(src, dst, 0644)
	if err != nil {
		t.Fatalf("CopyFile() error = %v", err)
	}
	if n != int64(len("PK jar bytes")) {
		t.Errorf("CopyFile() copied %d bytes", n)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "PK jar bytes" {
		t.Errorf("destination content = %q", data)
	}

	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0644 {
		t.Errorf("destination mode = %o, want 644", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(tmpDir)
	if len(entries) != 2 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestCopyFileMissingSource(t *testing.T) {
	tmpDir := t.TempDir()
	_, err := CopyFile(filepath.Join(tmpDir, "missing.jar"), filepath.Join(tmpDir, "out.jar"), 0644)
	if err == nil {
		t.Fatal("CopyFile() should fail for missing source")
	}
	if FileExists(filepath.Join(tmpDir, "out.jar")) {
		t.Error("CopyFile() created destination for missing source")
	}
}
