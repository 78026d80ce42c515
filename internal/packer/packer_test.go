package packer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"jardeploy/internal/project"
	"jardeploy/pkg/cmdutil"
)

const password = "s3cret-storepass"

// recorder is a fake cmdutil.Runner. It answers jarsigner -verify with
// "jar verified." unless the target is listed in badVerify, and fails
// tools listed in fail.
type recorder struct {
	calls     [][]string
	badVerify map[string]bool
	fail      map[string]int
}

func (r *recorder) Run(ctx context.Context, opts cmdutil.ExecOptions, cmd []string) (*cmdutil.Result, error) {
	r.calls = append(r.calls, cmd)
	if code, ok := r.fail[cmd[0]]; ok {
		return &cmdutil.Result{ExitCode: code, Output: []byte("boom")}, errors.New("command failed: exit status")
	}
	if cmd[0] == "jarsigner" && cmd[1] == "-verify" {
		if r.badVerify[filepath.Base(cmd[2])] {
			return &cmdutil.Result{ExitCode: 0, Output: []byte("jar is unsigned.")}, nil
		}
		return &cmdutil.Result{Output: []byte("jar verified.")}, nil
	}
	return &cmdutil.Result{Output: []byte("ok " + strings.Join(cmd, " "))}, nil
}

// tools returns the first element of every recorded call with its first
// flag, e.g. "jar umf" or "pack200 --repack".
func (r *recorder) tools() []string {
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c[0] + " " + c[1]
	}
	return out
}

func (r *recorder) count(tool, arg string) int {
	n := 0
	for _, c := range r.calls {
		if c[0] == tool && (arg == "" || c[1] == arg) {
			n++
		}
	}
	return n
}

func newTestPacker(t *testing.T, r *recorder) *Packer {
	t.Helper()
	return &Packer{
		Runner: r,
		Tools:  project.ToolConfig{}.WithDefaults(),
		Manifests: project.ManifestConfig{
			Library:     "/cfg/manifest-library",
			Jar:         "/cfg/manifest-jar",
			SignedJar:   "/cfg/manifest-signed-jar",
			ServicesDir: "/cfg",
		},
		Signing:    project.SigningConfig{Password: password, Alias: "concord"},
		ScratchDir: t.TempDir(),
	}
}

func writeJar(t *testing.T, dir, name string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("PK\x03\x04"), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestIsLibrary(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"vernier-goio-win32-nar.jar", true},
		{"vernier-goio-macosx-i386-nar__V1.5.0-20260101000000-3.jar", true},
		{"/srv/jnlp/org/x/vernier-goio-win32-nar.jar", true},
		{"otrunk__V0.1-20260101000000-1.jar", false},
		{"narrative.jar", false},
		{"sensor-nar-sources.jar", false},
	}
	for _, tt := range tests {
		if got := IsLibrary(tt.name); got != tt.want {
			t.Errorf("IsLibrary(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestProcessSignedJar(t *testing.T) {
	r := &recorder{}
	p := newTestPacker(t, r)
	dir := t.TempDir()
	jar := writeJar(t, dir, "otrunk__V0.1-20260101000000-1.jar")
	name := filepath.Base(jar)
	scratch := filepath.Join(p.ScratchDir, ScratchPrefix+name)

	res, err := p.Process(context.Background(), jar, true)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	want := [][]string{
		{"zip", "-d", name, "META-INF/*"},
		{"jar", "uf", name, "-C", "/cfg", "META-INF"},
		{"jar", "umf", "/cfg/manifest-signed-jar", name},
		{"pack200", "--repack", "--segment-limit=-1", name},
		{"jarsigner", "-storepass", password, name, "concord"},
		{"jarsigner", "-verify", name},
		{"pack200", "--segment-limit=-1", name + ".pack.gz", name},
		{"unpack200", jar + ".pack.gz", scratch},
		{"jarsigner", "-verify", scratch},
	}
	if diff := cmp.Diff(want, r.calls); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	if res.Companion != jar+".pack.gz" {
		t.Errorf("Companion = %s", res.Companion)
	}
	if !res.Verified() {
		t.Errorf("VerifyFailures = %v", res.VerifyFailures)
	}
}

func TestProcessNoSign(t *testing.T) {
	for _, name := range []string{"otrunk__V0.1-20260101000000-1.jar", "vernier-goio-win32-nar.jar"} {
		t.Run(name, func(t *testing.T) {
			r := &recorder{}
			jar := writeJar(t, t.TempDir(), name)

			if _, err := newTestPacker(t, r).Process(context.Background(), jar, false); err != nil {
				t.Fatalf("Process() error = %v", err)
			}

			if n := r.count("zip", ""); n != 0 {
				t.Errorf("strip ran %d times with signing off", n)
			}
			if n := r.count("jarsigner", ""); n != 0 {
				t.Errorf("jarsigner ran %d times with signing off", n)
			}
			if n := r.count("unpack200", ""); n != 0 {
				t.Errorf("unpack200 ran %d times with signing off", n)
			}
			if n := r.count("pack200", "--repack"); n != 1 {
				t.Errorf("repack ran %d times, want 1", n)
			}
			for _, c := range r.calls {
				if strings.Contains(strings.Join(c, " "), password) {
					t.Errorf("password passed to %v with signing off", c)
				}
			}
		})
	}
}

func TestProcessUnsignedUsesPlainManifest(t *testing.T) {
	r := &recorder{}
	jar := writeJar(t, t.TempDir(), "energy2d__V0.1.0-20260101000000-1.jar")
	res, err := newTestPacker(t, r).Process(context.Background(), jar, false)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	want := []string{"jar uf", "jar umf", "pack200 --repack", "pack200 --segment-limit=-1"}
	if diff := cmp.Diff(want, r.tools()); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}
	if r.calls[1][2] != "/cfg/manifest-jar" {
		t.Errorf("manifest = %s, want plain jar manifest", r.calls[1][2])
	}
	if res.Companion == "" {
		t.Error("unsigned regular jar should still get a .pack.gz companion")
	}
}

func TestProcessLibrary(t *testing.T) {
	for _, sign := range []bool{true, false} {
		r := &recorder{}
		jar := writeJar(t, t.TempDir(), "vernier-goio-macosx-ppc-nar__V1.5.0-20260101000000-1.jar")

		res, err := newTestPacker(t, r).Process(context.Background(), jar, sign)
		if err != nil {
			t.Fatalf("sign=%v: Process() error = %v", sign, err)
		}

		if res.Companion != "" {
			t.Errorf("sign=%v: library got companion %s", sign, res.Companion)
		}
		if n := r.count("pack200", "--segment-limit=-1"); n != 0 {
			t.Errorf("sign=%v: library packed to .pack.gz", sign)
		}
		if r.count("unpack200", "") != 0 {
			t.Errorf("sign=%v: library round trip ran", sign)
		}

		var manifests []string
		for _, c := range r.calls {
			if c[0] == "jar" {
				manifests = append(manifests, strings.Join(c[:3], " "))
			}
		}
		if diff := cmp.Diff([]string{"jar umf /cfg/manifest-library"}, manifests); diff != "" {
			t.Errorf("sign=%v: jar calls mismatch (-want +got):\n%s", sign, diff)
		}
		if _, err := os.Stat(jar + ".pack.gz"); !os.IsNotExist(err) {
			t.Errorf("sign=%v: .pack.gz exists", sign)
		}
	}
}

func TestProcessVerifyFailureIsNotFatal(t *testing.T) {
	r := &recorder{}
	p := newTestPacker(t, r)
	jar := writeJar(t, t.TempDir(), "mw__V2.1.0-20260101000000-4.jar")
	scratch := filepath.Join(p.ScratchDir, ScratchPrefix+filepath.Base(jar))
	r.badVerify = map[string]bool{filepath.Base(scratch): true}

	// A leftover from an earlier run must be replaced.
	if err := os.WriteFile(scratch, []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}
	p.Runner = &unpackingRecorder{recorder: r, scratch: scratch}

	res, err := p.Process(context.Background(), jar, true)
	if err != nil {
		t.Fatalf("Process() error = %v, verify failures must not be fatal", err)
	}
	if res.Verified() || len(res.VerifyFailures) != 1 {
		t.Fatalf("VerifyFailures = %v, want one diagnostic", res.VerifyFailures)
	}
	if _, err := os.Stat(scratch); err != nil {
		t.Errorf("scratch file should be kept for triage: %v", err)
	}
}

func TestProcessRoundTripCleansScratch(t *testing.T) {
	r := &recorder{}
	p := newTestPacker(t, r)
	jar := writeJar(t, t.TempDir(), "data__V0.2-20260101000000-2.jar")
	scratch := filepath.Join(p.ScratchDir, ScratchPrefix+filepath.Base(jar))
	p.Runner = &unpackingRecorder{recorder: r, scratch: scratch}

	if _, err := p.Process(context.Background(), jar, true); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if _, err := os.Stat(scratch); !os.IsNotExist(err) {
		t.Errorf("scratch file %s should be removed after a verified round trip", scratch)
	}
}

// unpackingRecorder creates the scratch file when unpack200 runs.
type unpackingRecorder struct {
	*recorder
	scratch string
}

func (u *unpackingRecorder) Run(ctx context.Context, opts cmdutil.ExecOptions, cmd []string) (*cmdutil.Result, error) {
	if cmd[0] == "unpack200" {
		if err := os.WriteFile(u.scratch, []byte("unpacked"), 0644); err != nil {
			return nil, err
		}
	}
	return u.recorder.Run(ctx, opts, cmd)
}

func TestProcessStripFailureIsWarning(t *testing.T) {
	r := &recorder{fail: map[string]int{"zip": 12}}
	jar := writeJar(t, t.TempDir(), "sensor__V0.1-20260101000000-1.jar")
	if _, err := newTestPacker(t, r).Process(context.Background(), jar, true); err != nil {
		t.Errorf("Process() error = %v, zip exit 12 must only warn", err)
	}
}

func TestProcessRepackFailureAborts(t *testing.T) {
	r := &recorder{fail: map[string]int{"pack200": 1}}
	jar := writeJar(t, t.TempDir(), "sensor__V0.1-20260101000000-1.jar")
	res, err := newTestPacker(t, r).Process(context.Background(), jar, true)
	if err == nil {
		t.Fatal("Process() should fail when repack fails")
	}
	if r.count("jarsigner", "") != 0 {
		t.Error("jar signed after a failed repack")
	}
	if res == nil || len(res.Steps) == 0 {
		t.Error("partial result should record the steps that ran")
	}
}

func TestProcessMissingJar(t *testing.T) {
	_, err := newTestPacker(t, &recorder{}).Process(context.Background(), filepath.Join(t.TempDir(), "gone.jar"), false)
	if !errors.Is(err, ErrJarNotFound) {
		t.Errorf("Process() error = %v, want ErrJarNotFound", err)
	}
}

func TestStepsRedactPassword(t *testing.T) {
	r := &recorder{}
	p := newTestPacker(t, r)
	p.Signing.Keystore = "/keys/concord.jks"
	jar := writeJar(t, t.TempDir(), "otrunk__V0.1-20260101000000-1.jar")

	res, err := p.Process(context.Background(), jar, true)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	for _, s := range res.Steps {
		if strings.Contains(s.Command, password) || strings.Contains(s.Output, password) {
			t.Errorf("step %s leaks the password: %q / %q", s.Step, s.Command, s.Output)
		}
		if s.Step == StepSign && !strings.Contains(s.Command, "-keystore /keys/concord.jks -storepass ******") {
			t.Errorf("sign command = %q", s.Command)
		}
	}
}

func TestPackTree(t *testing.T) {
	root := t.TempDir()
	a := writeJar(t, filepath.Join(root, "org", "concord", "otrunk"), "otrunk__V0.1-20260101000000-1.jar")
	writeJar(t, filepath.Join(root, "org", "concord", "data"), "data__V0.1-20260101000000-1.jar")
	if err := os.WriteFile(a+".pack.gz", nil, 0644); err != nil {
		t.Fatal(err)
	}

	r := &recorder{}
	results, err := newTestPacker(t, r).PackTree(context.Background(), root, "otrunk", false)
	if err != nil {
		t.Fatalf("PackTree() error = %v", err)
	}
	if len(results) != 1 || results[0].Result.Jar != a {
		t.Fatalf("PackTree() = %+v, want only %s", results, a)
	}

	all, err := newTestPacker(t, &recorder{}).PackTree(context.Background(), root, "", false)
	if err != nil || len(all) != 2 {
		t.Errorf("PackTree() without filter = %d results, %v", len(all), err)
	}

	if _, err := newTestPacker(t, r).PackTree(context.Background(), root, "(", false); err == nil {
		t.Error("PackTree() should reject an invalid filter")
	}
}

func TestPackTreeContinuesAfterFailure(t *testing.T) {
	root := t.TempDir()
	writeJar(t, root, "a__V1-20260101000000-1.jar")
	writeJar(t, root, "b__V1-20260101000000-1.jar")

	r := &recorder{fail: map[string]int{"pack200": 1}}
	results, err := newTestPacker(t, r).PackTree(context.Background(), root, "", false)
	if err != nil {
		t.Fatalf("PackTree() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, tr := range results {
		if tr.Err == nil {
			t.Errorf("%s: expected error", tr.Result.Jar)
		}
	}
}

func TestPackTreeMissingRoot(t *testing.T) {
	r := &recorder{}
	results, err := newTestPacker(t, r).PackTree(context.Background(), filepath.Join(t.TempDir(), "public"), "", true)
	if err != nil {
		t.Fatalf("PackTree() error = %v", err)
	}
	if len(results) != 0 || len(r.calls) != 0 {
		t.Errorf("PackTree() on a missing root = %d results, %d commands; want none", len(results), len(r.calls))
	}
}
