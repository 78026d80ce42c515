package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDeployedJars_Order(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"otrunk__V1.0-20260314092653-10.jar",
		"otrunk__V1.0-20260301080000-9.jar",
		"otrunk__V1.0-20260214092653-2.jar",
		"plain.jar",
		"notes.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "otrunk__V1.0-20260314092653-10.jar.pack.gz"), []byte("p"), 0644); err != nil {
		t.Fatal(err)
	}

	entries, err := deployedJars(dir)
	if err != nil {
		t.Fatalf("deployedJars() error = %v", err)
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	want := []string{
		"plain.jar",
		"otrunk__V1.0-20260214092653-2.jar",
		"otrunk__V1.0-20260301080000-9.jar",
		"otrunk__V1.0-20260314092653-10.jar",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if !entries[3].Companion || entries[2].Companion {
		t.Error("companion detection wrong")
	}

	var out bytes.Buffer
	printEntries(&out, entries)
	if !strings.Contains(out.String(), "+pack.gz") {
		t.Errorf("listing lacks companion marker:\n%s", out.String())
	}
}

func TestDeployedJars_MissingDir(t *testing.T) {
	entries, err := deployedJars(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("deployedJars() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %v", entries)
	}

	var out bytes.Buffer
	printEntries(&out, entries)
	if !strings.Contains(out.String(), "nothing deployed") {
		t.Errorf("empty listing = %q", out.String())
	}
}
