package config

// PipelineConfig is the merged configuration for one project.
type PipelineConfig struct {
	Team        string                   `yaml:"team,omitempty"`
	App         string                   `yaml:"app,omitempty"`
	Description string                   `yaml:"description,omitempty"`
	Release     Release                  `yaml:"release"`
	Branch      BranchRules              `yaml:"branch"`
	Sdk         SdkSection               `yaml:"sdk"`
	Build       map[string]BuildTarget   `yaml:"build,omitempty"`
	Publish     map[string]PublishTarget `yaml:"publish,omitempty"`
	Deploy      map[string]DeployTarget  `yaml:"deploy,omitempty"`
	Profile     map[string]DeployProfile `yaml:"profile,omitempty"`
	Execution   Execution                `yaml:"execution"`
	History     History                  `yaml:"history"`
}

// Release selects the container registry flavour and its parameters.
type Release struct {
	Type string        `yaml:"type"`
	GAR  ReleaseParams `yaml:"gar"`
	GHCR ReleaseParams `yaml:"ghcr"`
}

// ReleaseParams holds per-registry settings.
type ReleaseParams struct {
	Registry string `yaml:"registry"`
}

// Registry returns the registry host for the selected release type.
func (r Release) Registry() string {
	switch r.Type {
	case "ghcr":
		return r.GHCR.Registry
	default:
		return r.GAR.Registry
	}
}

// BranchRule is one pattern-matched configuration fragment. Pointer fields
// distinguish "not set" from the zero value so that merging only applies
// fields a rule actually declares.
type BranchRule struct {
	Pattern    string    `yaml:"-"`
	Output     *string   `yaml:"output,omitempty"`
	Deploy     *[]string `yaml:"deploy,omitempty"`
	NamePrefix *string   `yaml:"name_prefix,omitempty"`
	Parallel   *bool     `yaml:"parallel,omitempty"`
}

// BranchRules keeps branch rules in declaration order.
type BranchRules []BranchRule

// SdkSection holds SDK overrides keyed by SDK id plus an explicit selection.
type SdkSection struct {
	Override string       `yaml:"override,omitempty"`
	Go       *SdkOverride `yaml:"go,omitempty"`
	Rust     *SdkOverride `yaml:"rust,omitempty"`
	Node     *SdkOverride `yaml:"node,omitempty"`
	Java     *SdkOverride `yaml:"java,omitempty"`
}

// ByID returns the override block for an SDK id, or nil.
func (s SdkSection) ByID(id string) *SdkOverride {
	switch id {
	case "go":
		return s.Go
	case "rust":
		return s.Rust
	case "node":
		return s.Node
	case "java":
		return s.Java
	}
	return nil
}

// SdkOverride replaces individual fields of a built-in SDK definition.
type SdkOverride struct {
	BuilderImage string            `yaml:"builder_image,omitempty"`
	RuntimeImage string            `yaml:"runtime_image,omitempty"`
	Prepare      string            `yaml:"prepare,omitempty"`
	Build        string            `yaml:"build,omitempty"`
	Test         string            `yaml:"test,omitempty"`
	Lint         string            `yaml:"lint,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	Ports        []int             `yaml:"ports,omitempty"`
	User         string            `yaml:"user,omitempty"`
	Group        string            `yaml:"group,omitempty"`
}

// BuildTarget declares something to build.
type BuildTarget struct {
	Kind       string            `yaml:"kind"`
	Sdk        string            `yaml:"sdk,omitempty"`
	Inputs     []string          `yaml:"inputs,omitempty"`
	Outputs    []string          `yaml:"outputs,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`
	Ports      []int             `yaml:"ports,omitempty"`
	User       string            `yaml:"user,omitempty"`
	Group      string            `yaml:"group,omitempty"`
	Copy       []string          `yaml:"copy,omitempty"`
	PreScript  string            `yaml:"pre_script,omitempty"`
	PostScript string            `yaml:"post_script,omitempty"`
	BuildCmd   string            `yaml:"build,omitempty"`
	TestCmd    string            `yaml:"test,omitempty"`
	LintCmd    string            `yaml:"lint,omitempty"`
	Command    string            `yaml:"command,omitempty"`
	Entrypoint []string          `yaml:"entrypoint,omitempty"`
	Dockerfile string            `yaml:"dockerfile,omitempty"`
	Tag        string            `yaml:"tag,omitempty"`
}

// PublishTarget stores build outputs at a well-known location.
type PublishTarget struct {
	Kind        string            `yaml:"kind"`
	Inputs      []string          `yaml:"inputs"`
	Destination string            `yaml:"destination,omitempty"`
	Vars        map[string]string `yaml:"vars,omitempty"`
}

// DeployTarget deploys published artifacts through the branch's deploy profiles.
type DeployTarget struct {
	Inputs    []string          `yaml:"inputs"`
	Resources []string          `yaml:"resources,omitempty"`
	Vars      map[string]string `yaml:"vars,omitempty"`
}

// DeployProfile bundles clusters and variable files.
type DeployProfile struct {
	Clusters  []string `yaml:"clusters"`
	Resources []string `yaml:"resources,omitempty"`
	Vars      []string `yaml:"vars,omitempty"`
	Parallel  bool     `yaml:"parallel,omitempty"`
}

// Execution tunes the executor.
type Execution struct {
	Workers     int         `yaml:"workers"`
	Timeout     string      `yaml:"timeout,omitempty"`
	OnCancel    string      `yaml:"on_cancel,omitempty"`
	Retry       Retry       `yaml:"retry"`
	Attestation Attestation `yaml:"attestation"`
}

// Retry configures retries of transient collaborator failures.
type Retry struct {
	Attempts        int    `yaml:"attempts"`
	InitialInterval string `yaml:"initial_interval,omitempty"`
	MaxInterval     string `yaml:"max_interval,omitempty"`
	RetryTimeouts   bool   `yaml:"retry_timeouts,omitempty"`
}

// Attestation toggles signature/attestation generation for docker targets.
type Attestation struct {
	Enabled bool `yaml:"enabled"`
	Fatal   bool `yaml:"fatal"`
}

// History configures the run-history store.
type History struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver,omitempty"`
	DSN     string `yaml:"dsn,omitempty"`
}

// Target kinds.
const (
	KindDocker    = "docker"
	KindBinary    = "binary"
	KindDirectory = "directory"

	PublishRegistry = "registry"
	PublishRelease  = "release"
	PublishCDN      = "cdn"
)

// Output stages, ordered.
const (
	OutputBuild   = "build"
	OutputRelease = "release"
	OutputDeploy  = "deploy"
)
