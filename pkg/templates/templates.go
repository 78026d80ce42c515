package templates

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"jardeploy/internal/security"
)

// Template names
const (
	LibraryManifest   = "manifest-library"
	JarManifest       = "manifest-jar"
	SignedJarManifest = "manifest-signed-jar"
	SAXParserFactory  = "sax-parser-factory"
	ConfigSample      = "config-sample"
)

//go:embed files/*.template
var builtin embed.FS

// destinations maps each template to its path below the config directory.
var destinations = map[string]string{
	LibraryManifest:   "manifest-library",
	JarManifest:       "manifest-jar",
	SignedJarManifest: "manifest-signed-jar",
	SAXParserFactory:  filepath.Join("META-INF", "services", "javax.xml.parsers.SAXParserFactory"),
	ConfigSample:      "config_sample.yml",
}

// TemplateData holds variables for template rendering.
type TemplateData map[string]string

// GetTemplatePaths returns the override search paths for a template
func GetTemplatePaths(templateName string) []string {
	filename := templateName + ".template"
	return []string{
		filepath.Join(".", "templates", filename),
		filepath.Join(".", "config", "templates", filename),
		filepath.Join("/etc", "jardeploy", "templates", filename),
	}
}

// GetTemplate returns the raw template content by name.
// Overrides are looked up in this order before the built-in copy:
// 1. ./templates/<name>.template
// 2. ./config/templates/<name>.template
// 3. /etc/jardeploy/templates/<name>.template
func GetTemplate(name string) (string, error) {
	if !ValidateTemplate(name) {
		return "", fmt.Errorf("unknown template: %s", name)
	}

	for _, path := range GetTemplatePaths(name) {
		if content, err := os.ReadFile(path); err == nil {
			return string(content), nil
		}
	}

	content, err := builtin.ReadFile("files/" + name + ".template")
	if err != nil {
		return "", fmt.Errorf("template file not found: %s: %w", name, err)
	}
	return string(content), nil
}

// Render renders a template with the given data.
// Uses {{PLACEHOLDER}} syntax for variable substitution.
//
// Example:
//
//	rendered, err := Render(ConfigSample, TemplateData{
//		"WEBHOOK_SECRET": secret,
//	})
func Render(templateName string, data TemplateData) (string, error) {
	tmplContent, err := GetTemplate(templateName)
	if err != nil {
		return "", err
	}

	rendered := tmplContent
	for key, value := range data {
		placeholder := fmt.Sprintf("{{%s}}", key)
		rendered = strings.ReplaceAll(rendered, placeholder, value)
	}

	return rendered, nil
}

// ListTemplates returns a list of all available template names.
func ListTemplates() []string {
	return []string{
		LibraryManifest,
		JarManifest,
		SignedJarManifest,
		SAXParserFactory,
		ConfigSample,
	}
}

// ValidateTemplate checks if a template name is valid.
func ValidateTemplate(name string) bool {
	_, ok := destinations[name]
	return ok
}

// Destination returns where name is written below configDir.
func Destination(configDir, name string) string {
	return filepath.Join(configDir, destinations[name])
}

// WriteResult reports one file handled by Bootstrap.
type WriteResult struct {
	Template string
	Path     string
	Written  bool
}

// Bootstrap writes every template missing from configDir. Existing files
// are never overwritten.
func Bootstrap(configDir string, data TemplateData) ([]WriteResult, error) {
	results := make([]WriteResult, 0, len(destinations))

	for _, name := range ListTemplates() {
		dest := Destination(configDir, name)
		res := WriteResult{Template: name, Path: dest}

		content, err := Render(name, data)
		if err != nil {
			return results, err
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return results, fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
		}

		perm := security.PermPublicFile
		if name == ConfigSample {
			// Carries the generated webhook secret.
			perm = security.PermConfigFile
		}
		f, err := security.CreateSecureFile(dest, perm)
		if errors.Is(err, fs.ErrExist) {
			results = append(results, res)
			continue
		}
		if err != nil {
			return results, err
		}
		_, err = f.WriteString(content)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return results, fmt.Errorf("failed to write %s: %w", dest, err)
		}

		res.Written = true
		results = append(results, res)
	}

	return results, nil
}
