package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/lucasnoah/nbuild/internal/failure"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in one config.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return "invalid configuration:\n  " + strings.Join(msgs, "\n  ")
}

// FailureKind marks validation problems as configuration errors.
func (errs ValidationErrors) FailureKind() failure.Kind { return failure.Config }

var (
	releaseTypes = map[string]bool{"gar": true, "ghcr": true}
	outputs      = map[string]bool{OutputBuild: true, OutputRelease: true, OutputDeploy: true}
	buildKinds   = map[string]bool{KindDocker: true, KindBinary: true, KindDirectory: true}
	publishKinds = map[string]bool{PublishRegistry: true, PublishRelease: true, PublishCDN: true}
	drivers      = map[string]bool{"sqlite": true, "postgres": true}
	cancelModes  = map[string]bool{"abandon": true, "drain": true}
)

// Validate checks a PipelineConfig for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
// References to targets that do not exist at all are left to graph
// construction, which reports them with the referring target.
func Validate(cfg *PipelineConfig) []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Release
	if !releaseTypes[cfg.Release.Type] {
		add("release.type", "must be gar or ghcr, got %q", cfg.Release.Type)
	} else if cfg.Release.Registry() == "" {
		add("release."+cfg.Release.Type+".registry", "is required")
	}

	// Branch rules
	if len(cfg.Branch) == 0 {
		add("branch", "at least one branch rule is required")
	}
	for _, r := range cfg.Branch {
		field := fmt.Sprintf("branch.%q", r.Pattern)
		if _, err := regexp.Compile(r.Pattern); err != nil {
			add(field, "invalid pattern: %v", err)
		}
		if r.Output != nil && !outputs[*r.Output] {
			add(field+".output", "must be build, release or deploy, got %q", *r.Output)
		}
		if r.Deploy != nil {
			for _, name := range *r.Deploy {
				if _, ok := cfg.Profile[name]; !ok {
					add(field+".deploy", "references undefined profile %q", name)
				}
			}
		}
	}

	// SDK override
	if o := cfg.Sdk.Override; o != "" && !knownSdk(o) {
		add("sdk.override", "unknown sdk %q", o)
	}

	// Target names are unique across all three tables.
	owner := make(map[string]string)
	claim := func(section, name string) {
		if prev, ok := owner[name]; ok {
			add(section+"."+name, "duplicate target name, already declared in %s", prev)
			return
		}
		owner[name] = section
	}
	for _, name := range sortedKeys(cfg.Build) {
		claim("build", name)
	}
	for _, name := range sortedKeys(cfg.Publish) {
		claim("publish", name)
	}
	for _, name := range sortedKeys(cfg.Deploy) {
		claim("deploy", name)
	}

	for _, name := range sortedKeys(cfg.Build) {
		t := cfg.Build[name]
		prefix := "build." + name
		if !buildKinds[t.Kind] {
			add(prefix+".kind", "must be docker, binary or directory, got %q", t.Kind)
		}
		if t.Sdk != "" && !knownSdk(t.Sdk) {
			add(prefix+".sdk", "unknown sdk %q", t.Sdk)
		}
		if t.Kind == KindDirectory && t.Command == "" && len(t.Outputs) == 0 {
			add(prefix, "directory targets need a command or declared outputs")
		}
		if t.Kind == KindBinary && t.Command == "" {
			add(prefix+".command", "is required for binary targets")
		}
		for _, in := range t.Inputs {
			if sec, ok := owner[in]; ok && sec != "build" {
				add(prefix+".inputs", "%q is a %s target; build inputs must be build targets", in, sec)
			}
		}
	}

	for _, name := range sortedKeys(cfg.Publish) {
		t := cfg.Publish[name]
		prefix := "publish." + name
		if !publishKinds[t.Kind] {
			add(prefix+".kind", "must be registry, release or cdn, got %q", t.Kind)
		}
		if len(t.Inputs) == 0 {
			add(prefix+".inputs", "at least one input is required")
		}
		if t.Kind == PublishCDN && t.Destination == "" {
			add(prefix+".destination", "is required for cdn targets")
		}
		for _, in := range t.Inputs {
			sec, ok := owner[in]
			if !ok {
				continue
			}
			if sec != "build" {
				add(prefix+".inputs", "%q is a %s target; publish inputs must be build targets", in, sec)
				continue
			}
			kind := cfg.Build[in].Kind
			switch {
			case t.Kind == PublishRegistry && kind != KindDocker:
				add(prefix+".inputs", "registry target needs docker inputs, %q is %s", in, kind)
			case t.Kind != PublishRegistry && kind == KindDocker:
				add(prefix+".inputs", "%s target needs binary or directory inputs, %q is docker", t.Kind, in)
			}
		}
	}

	for _, name := range sortedKeys(cfg.Deploy) {
		t := cfg.Deploy[name]
		prefix := "deploy." + name
		if len(t.Inputs) == 0 {
			add(prefix+".inputs", "at least one input is required")
		}
		for _, in := range t.Inputs {
			if sec, ok := owner[in]; ok && sec != "publish" {
				add(prefix+".inputs", "%q is a %s target; deploy inputs must be publish targets", in, sec)
			}
		}
	}

	for _, name := range sortedKeys(cfg.Profile) {
		if len(cfg.Profile[name].Clusters) == 0 {
			add("profile."+name+".clusters", "at least one cluster is required")
		}
	}

	// Execution
	e := cfg.Execution
	if e.Workers < 1 {
		add("execution.workers", "must be at least 1")
	}
	if e.Retry.Attempts < 1 {
		add("execution.retry.attempts", "must be at least 1")
	}
	if !cancelModes[e.OnCancel] {
		add("execution.on_cancel", "must be abandon or drain, got %q", e.OnCancel)
	}
	for field, v := range map[string]string{
		"execution.timeout":                e.Timeout,
		"execution.retry.initial_interval": e.Retry.InitialInterval,
		"execution.retry.max_interval":     e.Retry.MaxInterval,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			add(field, "invalid duration %q", v)
		}
	}

	// History
	if !drivers[cfg.History.Driver] {
		add("history.driver", "must be sqlite or postgres, got %q", cfg.History.Driver)
	}
	if cfg.History.Enabled && cfg.History.Driver == "postgres" && cfg.History.DSN == "" {
		add("history.dsn", "is required for postgres")
	}

	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return errs
}

// Check runs Validate and returns the problems as a single error.
func Check(cfg *PipelineConfig) error {
	if errs := Validate(cfg); len(errs) > 0 {
		return ValidationErrors(errs)
	}
	return nil
}

func knownSdk(id string) bool {
	switch id {
	case "go", "rust", "node", "java":
		return true
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
