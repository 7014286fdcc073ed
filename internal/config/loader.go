package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/nbuild/internal/failure"
)

//go:embed default.yaml
var defaultYAML []byte

// Filenames are the project config files searched for, in order.
var Filenames = []string{"nb.yaml", "nb.yml", "nb.toml"}

// DefaultTag is the image tag template used when a target declares none.
const DefaultTag = "{{date}}-{{time}}-{{sha}}"

// DefaultYAML returns the embedded base configuration document.
func DefaultYAML() []byte {
	out := make([]byte, len(defaultYAML))
	copy(out, defaultYAML)
	return out
}

// Load reads the project config at path and layers it over the built-in
// defaults. An empty path loads the defaults alone.
func Load(path string) (*PipelineConfig, error) {
	if path == "" {
		return Parse(nil, "yaml")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.New(failure.Config, fmt.Errorf("reading config file: %w", err))
	}
	cfg, err := Parse(data, formatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// LoadDefault searches dir for a project config and loads the first one
// found. It returns the path that was used, or "" when only the built-in
// defaults apply.
func LoadDefault(dir string) (*PipelineConfig, string, error) {
	for _, name := range Filenames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			return cfg, path, err
		}
	}
	cfg, err := Load("")
	return cfg, "", err
}

// Parse layers a project document of the given format ("yaml" or "toml")
// over the defaults, decodes the result strictly and applies defaults.
// A nil project document yields the defaults alone.
func Parse(project []byte, format string) (*PipelineConfig, error) {
	tree, err := parseYAMLTree(defaultYAML)
	if err != nil {
		return nil, failure.New(failure.Config, fmt.Errorf("built-in defaults: %w", err))
	}

	if len(project) > 0 {
		var over *yaml.Node
		switch format {
		case "toml":
			over, err = parseTOMLTree(project)
		default:
			over, err = parseYAMLTree(project)
		}
		if err != nil {
			return nil, failure.New(failure.Config, err)
		}
		tree = mergeTrees(tree, over)
	}

	var cfg PipelineConfig
	if err := decodeStrict(tree, &cfg); err != nil {
		return nil, failure.New(failure.Config, fmt.Errorf("decoding config: %w", err))
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Marshal renders a config as YAML, branch rules in declaration order.
func Marshal(cfg *PipelineConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func formatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return "toml"
	}
	return "yaml"
}

// applyDefaults fills per-target fields that the layered documents cannot
// express as defaults because target tables are project-owned.
func applyDefaults(cfg *PipelineConfig) {
	for name, t := range cfg.Build {
		if t.Kind == "" {
			t.Kind = KindDocker
		}
		if t.Kind == KindDocker && len(t.Copy) == 0 {
			t.Copy = []string{"."}
		}
		if t.Tag == "" {
			t.Tag = DefaultTag
		}
		cfg.Build[name] = t
	}

	for name, t := range cfg.Publish {
		if t.Kind == "" {
			t.Kind = PublishRegistry
		}
		cfg.Publish[name] = t
	}

	e := &cfg.Execution
	if e.Workers == 0 {
		e.Workers = 4
	}
	if e.OnCancel == "" {
		e.OnCancel = "drain"
	}
	if e.Retry.Attempts == 0 {
		e.Retry.Attempts = 3
	}
	if cfg.History.Driver == "" {
		cfg.History.Driver = "sqlite"
	}
}

// TimeoutDuration returns the run-wide deadline, zero meaning none.
func (e Execution) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(e.Timeout)
	return d
}

// Intervals returns the parsed retry backoff bounds with fallbacks for
// empty values.
func (r Retry) Intervals() (initial, ceiling time.Duration) {
	initial, ceiling = time.Second, 30*time.Second
	if d, err := time.ParseDuration(r.InitialInterval); err == nil && d > 0 {
		initial = d
	}
	if d, err := time.ParseDuration(r.MaxInterval); err == nil && d > 0 {
		ceiling = d
	}
	return initial, ceiling
}
