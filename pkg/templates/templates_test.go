package templates

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// chdirTemp switches into a fresh temp dir holding a templates/ override
// directory.
func chdirTemp(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, "templates"), 0755); err != nil {
		t.Fatalf("Failed to create templates directory: %v", err)
	}

	oldWd, _ := os.Getwd()
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(oldWd) })
	return tmpDir
}

func TestGetTemplate_Builtin(t *testing.T) {
	chdirTemp(t)

	tests := []struct {
		name string
		want string
	}{
		{LibraryManifest, "Trusted-Library: true"},
		{SignedJarManifest, "Trusted-Library: true"},
		{JarManifest, "Implementation-Vendor: jardeploy"},
		{SAXParserFactory, "org.apache.xerces.jaxp.SAXParserFactoryImpl"},
		{ConfigSample, "projects:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, err := GetTemplate(tt.name)
			if err != nil {
				t.Fatalf("GetTemplate() error = %v", err)
			}
			if !strings.Contains(content, tt.want) {
				t.Errorf("GetTemplate(%s) = %q, want it to contain %q", tt.name, content, tt.want)
			}
		})
	}
}

func TestGetTemplate_Manifests(t *testing.T) {
	chdirTemp(t)

	// jar umf rejects manifest fragments without a trailing newline.
	for _, name := range []string{LibraryManifest, JarManifest, SignedJarManifest} {
		content, err := GetTemplate(name)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasSuffix(content, "\n") {
			t.Errorf("%s does not end in a newline", name)
		}
	}
}

func TestGetTemplate_ManifestsAvoidToolAttributes(t *testing.T) {
	chdirTemp(t)

	// jar writes these itself; merging them again makes it warn.
	owned := []string{"Manifest-Version:", "Created-By:"}
	for _, name := range []string{LibraryManifest, JarManifest, SignedJarManifest} {
		content, err := GetTemplate(name)
		if err != nil {
			t.Fatal(err)
		}
		for _, attr := range owned {
			if strings.Contains(content, attr) {
				t.Errorf("%s sets %s", name, attr)
			}
		}
	}
}

func TestGetTemplate_Override(t *testing.T) {
	dir := chdirTemp(t)

	override := "Trusted-Library: true\nPermissions: all-permissions\n"
	if err := os.WriteFile(filepath.Join(dir, "templates", "manifest-signed-jar.template"), []byte(override), 0644); err != nil {
		t.Fatal(err)
	}

	content, err := GetTemplate(SignedJarManifest)
	if err != nil {
		t.Fatalf("GetTemplate() error = %v", err)
	}
	if content != override {
		t.Errorf("GetTemplate() = %q, want override", content)
	}
}

func TestGetTemplate_Unknown(t *testing.T) {
	if _, err := GetTemplate("nginx-site"); err == nil || !strings.Contains(err.Error(), "unknown template") {
		t.Errorf("GetTemplate(unknown) error = %v", err)
	}
}

func TestRender(t *testing.T) {
	chdirTemp(t)

	rendered, err := Render(ConfigSample, TemplateData{"WEBHOOK_SECRET": "s3cret-value"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if strings.Contains(rendered, "{{WEBHOOK_SECRET}}") {
		t.Error("placeholder left unreplaced")
	}

	var parsed struct {
		Webhook struct {
			Secret string `yaml:"secret"`
		} `yaml:"webhook"`
		Projects map[string]map[string]interface{} `yaml:"projects"`
	}
	if err := yaml.Unmarshal([]byte(rendered), &parsed); err != nil {
		t.Fatalf("rendered sample is not valid YAML: %v", err)
	}
	if parsed.Webhook.Secret != "s3cret-value" {
		t.Errorf("webhook.secret = %q", parsed.Webhook.Secret)
	}
	if len(parsed.Projects) != 4 {
		t.Errorf("sample has %d projects, want 4", len(parsed.Projects))
	}
}

func TestListTemplates(t *testing.T) {
	names := ListTemplates()
	if len(names) != len(destinations) {
		t.Errorf("ListTemplates() = %d names, want %d", len(names), len(destinations))
	}
	for _, name := range names {
		if !ValidateTemplate(name) {
			t.Errorf("listed template %s does not validate", name)
		}
	}
}

func TestDestination(t *testing.T) {
	got := Destination("/srv/config", SAXParserFactory)
	want := filepath.Join("/srv/config", "META-INF", "services", "javax.xml.parsers.SAXParserFactory")
	if got != want {
		t.Errorf("Destination() = %s, want %s", got, want)
	}
}

func TestBootstrap(t *testing.T) {
	chdirTemp(t)
	configDir := filepath.Join(t.TempDir(), "config")

	results, err := Bootstrap(configDir, TemplateData{"WEBHOOK_SECRET": "abc"})
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if len(results) != len(ListTemplates()) {
		t.Fatalf("Bootstrap() returned %d results", len(results))
	}
	for _, r := range results {
		if !r.Written {
			t.Errorf("%s was not written", r.Template)
		}
		if _, err := os.Stat(r.Path); err != nil {
			t.Errorf("%s missing: %v", r.Path, err)
		}
	}

	info, err := os.Stat(filepath.Join(configDir, "config_sample.yml"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0640 {
		t.Errorf("config_sample.yml mode = %o, want 640", info.Mode().Perm())
	}
}

func TestBootstrap_NeverOverwrites(t *testing.T) {
	chdirTemp(t)
	configDir := t.TempDir()

	custom := filepath.Join(configDir, "manifest-jar")
	if err := os.WriteFile(custom, []byte("Custom: yes\n"), 0644); err != nil {
		t.Fatal(err)
	}

	results, err := Bootstrap(configDir, nil)
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	for _, r := range results {
		if r.Template == JarManifest && r.Written {
			t.Error("existing manifest-jar reported as written")
		}
	}
	data, _ := os.ReadFile(custom)
	if string(data) != "Custom: yes\n" {
		t.Errorf("manifest-jar overwritten: %q", data)
	}
}

func BenchmarkRender(b *testing.B) {
	data := TemplateData{"WEBHOOK_SECRET": "abc"}
	for i := 0; i < b.N; i++ {
		_, _ = Render(ConfigSample, data)
	}
}
