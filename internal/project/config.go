package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"jardeploy/internal/security"
	"jardeploy/pkg/cmdutil"
)

const (
	DefaultDeployPrefix = "jnlp"
	DefaultBranch       = "main"
	DefaultJavacTarget  = "5"
	DefaultSourceDir    = "src"
	DefaultOutputDir    = "bin"
	DefaultNarVersion   = "1.5.0"
	DefaultNarName      = "vernier-goio"
)

var (
	// ErrConfigNotFound is returned when the configuration file is missing.
	ErrConfigNotFound = errors.New("missing configuration file")

	// ErrMissingCredentials is returned when a signing run has no keystore
	// password or key alias.
	ErrMissingCredentials = errors.New("missing signing credentials")
)

// DefaultNarArches are the platforms of the native-archive pipeline.
var DefaultNarArches = []string{"macosx-ppc", "macosx-i386", "macosx-x86_64", "win32"}

var (
	defaultMavenCommands = [][]string{
		{"mvn", "clean"},
		{"mvn", "-Dmaven.compiler.source=1.5", "-Dmaven.test.skip=true", "package"},
	}
	defaultAntCommands = [][]string{
		{"ant", "clean"},
		{"ant", "dist2"},
	}
)

// LoadConfig loads and validates the configuration from a YAML file.
// Relative paths in the file resolve against Root, which defaults to the
// parent of the directory holding the file (config/config.yml lives in
// the project root's config directory).
func LoadConfig(configPath string) (*Config, map[string]*Project, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s\n\n    cp config/config_sample.yml config/config.yml\n\n    and edit appropriately", ErrConfigNotFound, configPath)
		}
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := env.Parse(&config.Signing); err != nil {
		return nil, nil, fmt.Errorf("failed to read signing environment: %w", err)
	}
	if err := env.Parse(&config.Webhook); err != nil {
		return nil, nil, fmt.Errorf("failed to read webhook environment: %w", err)
	}

	absConfig, err := filepath.Abs(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	config.applyDefaults(filepath.Dir(filepath.Dir(absConfig)))

	// Initialize Projects map if it's nil (happens with empty YAML files)
	if config.Projects == nil {
		config.Projects = make(map[string]ProjectConfig)
	}

	projects := make(map[string]*Project)
	for name, projectConfig := range config.Projects {
		problems := ValidateProjectConfig(name, projectConfig)
		if len(problems) > 0 {
			return nil, nil, fmt.Errorf("invalid configuration for project '%s':\n%s",
				name, strings.Join(problems, "\n"))
		}

		proj, err := NewProject(name, projectConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid configuration for project '%s': %w", name, err)
		}
		projects[name] = proj
	}

	return &config, projects, nil
}

// applyDefaults fills empty settings and makes every path absolute.
func (c *Config) applyDefaults(defaultRoot string) {
	if c.Root == "" {
		c.Root = defaultRoot
	}
	if abs, err := filepath.Abs(c.Root); err == nil {
		c.Root = abs
	}

	c.PublicRoot = absUnder(c.Root, orDefault(c.PublicRoot, filepath.Join("app", "public")))
	c.DeployPrefix = orDefault(c.DeployPrefix, DefaultDeployPrefix)
	c.JavaProjects = absUnder(c.Root, orDefault(c.JavaProjects, "java"))
	c.ConfigDir = absUnder(c.Root, orDefault(c.ConfigDir, "config"))
	c.ScratchDir = absUnder(c.Root, orDefault(c.ScratchDir, "."))

	c.Manifests.Library = absUnder(c.Root, orDefault(c.Manifests.Library, filepath.Join(c.ConfigDir, "manifest-library")))
	c.Manifests.Jar = absUnder(c.Root, orDefault(c.Manifests.Jar, filepath.Join(c.ConfigDir, "manifest-jar")))
	c.Manifests.SignedJar = absUnder(c.Root, orDefault(c.Manifests.SignedJar, filepath.Join(c.ConfigDir, "manifest-signed-jar")))
	c.Manifests.ServicesDir = absUnder(c.Root, orDefault(c.Manifests.ServicesDir, c.ConfigDir))
	if c.Signing.Keystore != "" {
		c.Signing.Keystore = absUnder(c.Root, c.Signing.Keystore)
	}

	c.Tools = c.Tools.WithDefaults()

	na := &c.NativeArchives
	na.SourceDir = absUnder(c.Root, orDefault(na.SourceDir, filepath.Join(c.JavaProjects, "sensor-native", "native-archives")))
	na.Destination = orDefault(na.Destination, "org/concord/sensor/vernier/vernier-goio")
	na.Name = orDefault(na.Name, DefaultNarName)
	na.Version = orDefault(na.Version, DefaultNarVersion)
	if len(na.Arches) == 0 {
		na.Arches = append([]string(nil), DefaultNarArches...)
	}
}

// WithDefaults returns a copy with every empty tool set to its PATH name.
func (t ToolConfig) WithDefaults() ToolConfig {
	t.Jar = orDefault(t.Jar, "jar")
	t.Javac = orDefault(t.Javac, "javac")
	t.Jarsigner = orDefault(t.Jarsigner, "jarsigner")
	t.Pack200 = orDefault(t.Pack200, "pack200")
	t.Unpack200 = orDefault(t.Unpack200, "unpack200")
	t.Zip = orDefault(t.Zip, "zip")
	return t
}

// NewProject turns a validated ProjectConfig into a Project, resolving
// the build method variant and its defaults.
func NewProject(name string, pc ProjectConfig) (*Project, error) {
	method, err := buildMethod(name, pc)
	if err != nil {
		return nil, err
	}

	return &Project{
		Name:           name,
		Path:           strings.Trim(pc.Path, "/"),
		Method:         method,
		HasAppletClass: pc.Applet,
		Sign:           pc.Sign,
		Branch:         orDefault(pc.Branch, DefaultBranch),
		Repo:           pc.Repo,
	}, nil
}

func buildMethod(name string, pc ProjectConfig) (BuildMethod, error) {
	switch normalizeBuild(pc.Build) {
	case "maven":
		commands, err := commandsOrDefault(pc.Commands, defaultMavenCommands)
		if err != nil {
			return nil, err
		}
		return DelegateBuild{
			Tool:           ToolMaven,
			Commands:       commands,
			ArtifactGlob:   orDefault(pc.Artifact, filepath.Join("target", name+"*SNAPSHOT.jar")),
			VersionPattern: regexp.MustCompile(regexp.QuoteMeta(name) + `-(.*?)-SNAPSHOT`),
			Version:        pc.Version,
		}, nil
	case "ant":
		commands, err := commandsOrDefault(pc.Commands, defaultAntCommands)
		if err != nil {
			return nil, err
		}
		return DelegateBuild{
			Tool:         ToolAnt,
			Commands:     commands,
			ArtifactGlob: orDefault(pc.Artifact, filepath.Join("dist", name+".jar")),
			Version:      pc.Version,
		}, nil
	case "manual":
		return ManualBuild{
			Version:   pc.Version,
			SourceDir: orDefault(pc.SourceDir, DefaultSourceDir),
			OutputDir: orDefault(pc.OutputDir, DefaultOutputDir),
			Target:    orDefault(pc.Target, DefaultJavacTarget),
			Classpath: pc.Classpath,
		}, nil
	case "copy_jars":
		return CopyJars{}, nil
	default:
		return nil, fmt.Errorf("unknown build method '%s'", pc.Build)
	}
}

func commandsOrDefault(cmds []interface{}, defaults [][]string) ([][]string, error) {
	if len(cmds) == 0 {
		out := make([][]string, len(defaults))
		for i, c := range defaults {
			out[i] = append([]string(nil), c...)
		}
		return out, nil
	}
	return cmdutil.ParseCommands(cmds)
}

// normalizeBuild maps configuration keywords, including the historical
// "custom" alias, onto the canonical method names.
func normalizeBuild(build string) string {
	switch strings.ToLower(strings.TrimSpace(build)) {
	case "maven", "mvn":
		return "maven"
	case "ant":
		return "ant"
	case "manual", "custom":
		return "manual"
	case "copy_jars", "copy-jars", "copy":
		return "copy_jars"
	default:
		return ""
	}
}

// ValidateProjectConfig validates a single project configuration
func ValidateProjectConfig(name string, config ProjectConfig) []string {
	var problems []string

	if err := security.ValidateProjectName(name); err != nil {
		problems = append(problems, fmt.Sprintf("  - Project '%s': %v", name, err))
	}

	if config.Path == "" {
		problems = append(problems, fmt.Sprintf("  - Project '%s': missing required 'path' field", name))
	} else if err := security.ValidatePackagePath(strings.TrimSuffix(config.Path, "/")); err != nil {
		problems = append(problems, fmt.Sprintf("  - Project '%s': %v", name, err))
	}

	build := normalizeBuild(config.Build)
	switch build {
	case "":
		if config.Build == "" {
			problems = append(problems, fmt.Sprintf("  - Project '%s': missing required 'build' field", name))
		} else {
			problems = append(problems, fmt.Sprintf("  - Project '%s': unknown build method '%s' (maven, ant, manual, copy_jars)", name, config.Build))
		}
	case "manual":
		if config.Version == "" {
			problems = append(problems, fmt.Sprintf("  - Project '%s': manual builds require a 'version'", name))
		}
	case "ant":
		if config.Version == "" {
			problems = append(problems, fmt.Sprintf("  - Project '%s': ant builds require a 'version'", name))
		}
	}

	if len(config.Commands) > 0 && build != "maven" && build != "ant" {
		problems = append(problems, fmt.Sprintf("  - Project '%s': 'commands' only apply to maven and ant builds", name))
	}

	for i, cmd := range config.Commands {
		switch cmd.(type) {
		case string:
		case []interface{}:
		default:
			problems = append(problems, fmt.Sprintf("  - Project '%s': commands[%d] must be a string or list, got %T", name, i, cmd))
		}
	}

	if config.Artifact != "" {
		if filepath.IsAbs(config.Artifact) || strings.Contains(config.Artifact, "..") {
			problems = append(problems, fmt.Sprintf("  - Project '%s': artifact must be a pattern relative to the project directory, got '%s'", name, config.Artifact))
		} else if _, err := filepath.Match(config.Artifact, ""); err != nil {
			problems = append(problems, fmt.Sprintf("  - Project '%s': artifact pattern is malformed: %v", name, err))
		}
	}

	if config.Branch != "" {
		if err := security.ValidateBranchName(config.Branch); err != nil {
			problems = append(problems, fmt.Sprintf("  - Project '%s': %v", name, err))
		}
	}

	if config.Repo != "" {
		if err := security.ValidateRepo(config.Repo); err != nil {
			problems = append(problems, fmt.Sprintf("  - Project '%s': %v", name, err))
		}
	}

	return problems
}

// RequireSigning fails with ErrMissingCredentials when any of the
// projects signs its jars and the keystore password or alias is unset.
func (c *Config) RequireSigning(projects []*Project) error {
	for _, p := range projects {
		if !p.Sign {
			continue
		}
		if c.Signing.Password == "" || c.Signing.Alias == "" {
			return fmt.Errorf("%w: project '%s' signs its jars; set signing.password and signing.alias (or JARDEPLOY_STOREPASS and JARDEPLOY_KEY_ALIAS)", ErrMissingCredentials, p.Name)
		}
	}
	return nil
}

// CheckSigning is RequireSigning for runs that sign regardless of project
// flags (pack without --nosign, the native-archive pipeline).
func (c *Config) CheckSigning() error {
	if c.Signing.Password == "" || c.Signing.Alias == "" {
		return fmt.Errorf("%w: set signing.password and signing.alias (or JARDEPLOY_STOREPASS and JARDEPLOY_KEY_ALIAS)", ErrMissingCredentials)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func absUnder(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}
