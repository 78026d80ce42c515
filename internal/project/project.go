package project

import (
	"path/filepath"
	"regexp"
)

// Tool names a delegate build tool.
type Tool string

const (
	ToolMaven Tool = "maven"
	ToolAnt   Tool = "ant"
)

// BuildMethod is one of DelegateBuild, ManualBuild or CopyJars.
// Builders dispatch on the concrete type.
type BuildMethod interface {
	// Method returns the configuration keyword for the variant.
	Method() string
	isBuildMethod()
}

// DelegateBuild runs a build tool in the project directory and picks up
// the artifact it produced.
type DelegateBuild struct {
	Tool     Tool
	Commands [][]string
	// ArtifactGlob is relative to the project directory.
	ArtifactGlob string
	// VersionPattern, when set, extracts the version label from the
	// artifact file name (first capture group).
	VersionPattern *regexp.Regexp
	// Version is used when VersionPattern is nil or does not match.
	Version string
}

// ManualBuild compiles the sources with javac and archives them with jar.
type ManualBuild struct {
	Version   string
	SourceDir string
	OutputDir string
	Target    string
	Classpath string
}

// CopyJars deploys the jars already present in the project directory
// under their own names.
type CopyJars struct{}

func (DelegateBuild) Method() string {
	return "delegate"
}

func (ManualBuild) Method() string {
	return "manual"
}

func (CopyJars) Method() string {
	return "copy_jars"
}

func (DelegateBuild) isBuildMethod() {}
func (ManualBuild) isBuildMethod()   {}
func (CopyJars) isBuildMethod()      {}

// Project represents a validated Java project from the registry.
type Project struct {
	Name string
	// Path is the deploy path below the jnlp root, mirroring the Java
	// package ("org/concord/otrunk").
	Path           string
	Method         BuildMethod
	HasAppletClass bool
	Sign           bool
	// Branch and Repo are only used by the webhook trigger.
	Branch string
	Repo   string
}

// MatchesRef checks if a git ref matches the project's target branch
func (p *Project) MatchesRef(ref string) bool {
	return ref == "refs/heads/"+p.Branch
}

// DeployDir returns the destination directory below deployRoot.
func (p *Project) DeployDir(deployRoot string) string {
	return filepath.Join(deployRoot, filepath.FromSlash(p.Path))
}

// ProjectConfig represents the YAML configuration for a project
type ProjectConfig struct {
	Path      string        `yaml:"path"`
	Build     string        `yaml:"build"`
	Commands  []interface{} `yaml:"commands"`
	Artifact  string        `yaml:"artifact"`
	Version   string        `yaml:"version"`
	SourceDir string        `yaml:"source_dir"`
	OutputDir string        `yaml:"output_dir"`
	Target    string        `yaml:"target"`
	Classpath string        `yaml:"classpath"`
	Applet    bool          `yaml:"applet"`
	Sign      bool          `yaml:"sign"`
	Branch    string        `yaml:"branch"`
	Repo      string        `yaml:"repo"`
}

// SigningConfig holds the keystore credentials used by jarsigner.
// Environment variables override the file.
type SigningConfig struct {
	Password string `yaml:"password" env:"JARDEPLOY_STOREPASS"`
	Alias    string `yaml:"alias"    env:"JARDEPLOY_KEY_ALIAS"`
	Keystore string `yaml:"keystore" env:"JARDEPLOY_KEYSTORE"`
}

// ManifestConfig locates the manifest fragments merged into jars and the
// directory holding META-INF/services.
type ManifestConfig struct {
	Library     string `yaml:"library"`
	Jar         string `yaml:"jar"`
	SignedJar   string `yaml:"signed_jar"`
	ServicesDir string `yaml:"services_dir"`
}

// ToolConfig names the external executables. Empty fields fall back to
// the plain tool name on PATH.
type ToolConfig struct {
	Jar       string `yaml:"jar"`
	Javac     string `yaml:"javac"`
	Jarsigner string `yaml:"jarsigner"`
	Pack200   string `yaml:"pack200"`
	Unpack200 string `yaml:"unpack200"`
	Zip       string `yaml:"zip"`
}

// NativeArchiveConfig drives the native-archive deploy pipeline.
type NativeArchiveConfig struct {
	SourceDir   string   `yaml:"source_dir"`
	Destination string   `yaml:"destination"`
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Arches      []string `yaml:"arches"`
}

// WebhookConfig configures the rebuild trigger of the serve command.
type WebhookConfig struct {
	Secret      string `yaml:"secret"       env:"JARDEPLOY_WEBHOOK_SECRET"`
	GitHubToken string `yaml:"github_token" env:"JARDEPLOY_GITHUB_TOKEN"`
}

// Config represents the root configuration structure
type Config struct {
	Root           string                   `yaml:"root"`
	PublicRoot     string                   `yaml:"public_root"`
	DeployPrefix   string                   `yaml:"deploy_prefix"`
	JavaProjects   string                   `yaml:"java_projects"`
	ConfigDir      string                   `yaml:"config_dir"`
	ScratchDir     string                   `yaml:"scratch_dir"`
	Signing        SigningConfig            `yaml:"signing"`
	Manifests      ManifestConfig           `yaml:"manifests"`
	Tools          ToolConfig               `yaml:"tools"`
	NativeArchives NativeArchiveConfig      `yaml:"native_archives"`
	Webhook        WebhookConfig            `yaml:"webhook"`
	Projects       map[string]ProjectConfig `yaml:"projects"`
}

// DeployRoot is the directory the jar tree is deployed into.
func (c *Config) DeployRoot() string {
	return filepath.Join(c.PublicRoot, c.DeployPrefix)
}

// ProjectDir is the source checkout of a project.
func (c *Config) ProjectDir(name string) string {
	return filepath.Join(c.JavaProjects, name)
}
