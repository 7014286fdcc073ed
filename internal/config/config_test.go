package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lucasnoah/nbuild/internal/failure"
)

const validConfig = `
team: myteam
app: myapp
release:
  type: ghcr
  ghcr:
    registry: ghcr.io/navikt
branch:
  "^feature/(?P<topic>.+)$":
    output: deploy
    deploy: [dev]
    name_prefix: "{{topic}}-"
  "^(main|master)$":
    deploy: [prod]
    parallel: true
build:
  api:
    kind: docker
    sdk: go
    ports: [8080]
  cli:
    kind: binary
    command: "go build -o bin/cli ./cmd/cli"
    outputs: [bin/cli]
publish:
  image:
    kind: registry
    inputs: [api]
  binaries:
    kind: release
    inputs: [cli]
deploy:
  nais:
    inputs: [image]
    resources: [.nais/app.yaml]
profile:
  prod:
    clusters: [prod-gcp, prod-fss]
    parallel: true
`

func writeTestConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func patterns(rules BranchRules) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Pattern
	}
	return out
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTestConfig(t, "nb.yaml", validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Team != "myteam" || cfg.App != "myapp" {
		t.Errorf("team/app = %q/%q", cfg.Team, cfg.App)
	}
	if got := cfg.Release.Registry(); got != "ghcr.io/navikt" {
		t.Errorf("Registry() = %q, want ghcr.io/navikt", got)
	}
	if cfg.Release.GAR.Registry == "" {
		t.Error("expected gar registry to be kept from the defaults")
	}

	want := []string{".*", "^(main|master)$", "^feature/(?P<topic>.+)$"}
	if diff := cmp.Diff(want, patterns(cfg.Branch)); diff != "" {
		t.Errorf("branch order mismatch (-want +got):\n%s", diff)
	}

	main := cfg.Branch[1]
	if main.Output == nil || *main.Output != OutputDeploy {
		t.Errorf("main output = %v, want deploy kept from defaults", main.Output)
	}
	if main.Deploy == nil || cmp.Diff([]string{"prod"}, *main.Deploy) != "" {
		t.Errorf("main deploy = %v, want [prod] replacing the default list", main.Deploy)
	}
	if main.Parallel == nil || !*main.Parallel {
		t.Error("main parallel should be true")
	}

	if len(cfg.Build) != 2 {
		t.Fatalf("expected 2 build targets, got %d", len(cfg.Build))
	}
	if _, ok := cfg.Build["app"]; ok {
		t.Error("default app target leaked into a project with its own targets")
	}
	api := cfg.Build["api"]
	if api.Tag != DefaultTag {
		t.Errorf("api tag = %q, want %q", api.Tag, DefaultTag)
	}
	if diff := cmp.Diff([]string{"."}, api.Copy); diff != "" {
		t.Errorf("api copy mismatch (-want +got):\n%s", diff)
	}
	if cfg.Build["cli"].Copy != nil {
		t.Error("binary targets should not get a default copy list")
	}

	// Profiles merge key by key: dev comes from the defaults.
	if _, ok := cfg.Profile["dev"]; !ok {
		t.Error("expected default dev profile")
	}
	prod := cfg.Profile["prod"]
	if diff := cmp.Diff([]string{"prod-gcp", "prod-fss"}, prod.Clusters); diff != "" {
		t.Errorf("prod clusters mismatch (-want +got):\n%s", diff)
	}
	if !prod.Parallel {
		t.Error("prod profile should be parallel")
	}
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if _, ok := cfg.Build["app"]; !ok {
		t.Error("expected default app build target")
	}
	if cfg.Publish["image"].Kind != PublishRegistry {
		t.Errorf("image kind = %q", cfg.Publish["image"].Kind)
	}
	if cfg.Execution.Workers != 4 {
		t.Errorf("workers = %d, want 4", cfg.Execution.Workers)
	}
	if cfg.Execution.OnCancel != "drain" {
		t.Errorf("on_cancel = %q, want drain", cfg.Execution.OnCancel)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate() returned %d errors for defaults:", len(errs))
		for _, e := range errs {
			t.Errorf("  - %s", e)
		}
	}
}

func TestValidateValidConfig(t *testing.T) {
	path := writeTestConfig(t, "nb.yaml", validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	errs := Validate(cfg)
	if len(errs) != 0 {
		t.Errorf("Validate() returned %d errors for valid config:", len(errs))
		for _, e := range errs {
			t.Errorf("  - %s", e)
		}
	}
}

func TestLoadTOMLKeepsBranchOrder(t *testing.T) {
	content := `
team = "myteam"

[branch."^release/.*$"]
output = "release"

[branch."^dev$"]
output = "deploy"
deploy = ["dev"]

[build.app]
kind = "docker"
sdk = "rust"

[publish.image]
kind = "registry"
inputs = ["app"]
`
	path := writeTestConfig(t, "nb.toml", content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	want := []string{".*", "^(main|master)$", "^release/.*$", "^dev$"}
	if diff := cmp.Diff(want, patterns(cfg.Branch)); diff != "" {
		t.Errorf("branch order mismatch (-want +got):\n%s", diff)
	}
	if cfg.Build["app"].Sdk != "rust" {
		t.Errorf("sdk = %q, want rust", cfg.Build["app"].Sdk)
	}
	if cfg.Team != "myteam" {
		t.Errorf("team = %q", cfg.Team)
	}
}

func TestTOMLBranchOrderInlineTables(t *testing.T) {
	content := `
[branch]
"^b$" = { output = "build" }
"^a$" = { output = "deploy", deploy = ["dev"] }
`
	order, err := tomlBranchOrder([]byte(content))
	if err != nil {
		t.Fatalf("tomlBranchOrder() error: %v", err)
	}
	if diff := cmp.Diff([]string{"^b$", "^a$"}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"top level", "bogus: 1\n"},
		{"branch rule", "branch:\n  \"^x$\":\n    outptu: build\n"},
		{"build target", "build:\n  app:\n    kind: docker\n    imgae: foo\n"},
		{"execution", "execution:\n  wrokers: 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTestConfig(t, "nb.yaml", tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error for unknown key")
			}
			if k := failure.KindOf(err); k != failure.Config {
				t.Errorf("KindOf() = %v, want config", k)
			}
		})
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTestConfig(t, "nb.yaml", "not: [valid: yaml: !!!")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if failure.KindOf(err) != failure.Config {
		t.Errorf("KindOf() = %v, want config", failure.KindOf(err))
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/nb.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestLoadDefaultSearchesDir(t *testing.T) {
	dir := t.TempDir()
	cfg, path, err := LoadDefault(dir)
	if err != nil {
		t.Fatalf("LoadDefault() error: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty for defaults", path)
	}
	if cfg.Description != "Default configuration file" {
		t.Errorf("description = %q", cfg.Description)
	}

	if err := os.WriteFile(filepath.Join(dir, "nb.toml"), []byte("description = \"from toml\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, path, err = LoadDefault(dir)
	if err != nil {
		t.Fatalf("LoadDefault() error: %v", err)
	}
	if filepath.Base(path) != "nb.toml" {
		t.Errorf("path = %q, want nb.toml", path)
	}
	if cfg.Description != "from toml" {
		t.Errorf("description = %q, want from toml", cfg.Description)
	}
}

func TestMarshalRoundTripKeepsOrder(t *testing.T) {
	path := writeTestConfig(t, "nb.yaml", validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	data, err := Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	again, err := Parse(data, "yaml")
	if err != nil {
		t.Fatalf("Parse() error: %v\n%s", err, data)
	}
	if diff := cmp.Diff(patterns(cfg.Branch), patterns(again.Branch)); diff != "" {
		t.Errorf("branch order changed (-before +after):\n%s", diff)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{
			name:    "undefined profile",
			content: "branch:\n  \"^x$\":\n    deploy: [staging]\n",
			field:   `branch."^x$".deploy`,
		},
		{
			name:    "bad output",
			content: "branch:\n  \"^x$\":\n    output: ship\n",
			field:   `branch."^x$".output`,
		},
		{
			name:    "bad pattern",
			content: "branch:\n  \"^(x$\":\n    output: build\n",
			field:   `branch."^(x$"`,
		},
		{
			name:    "duplicate target name",
			content: "build:\n  app: {kind: docker}\npublish:\n  app: {kind: registry, inputs: [app]}\n",
			field:   "publish.app",
		},
		{
			name:    "registry with binary input",
			content: "build:\n  cli: {kind: binary, command: make}\npublish:\n  image: {kind: registry, inputs: [cli]}\n",
			field:   "publish.image.inputs",
		},
		{
			name:    "binary without command",
			content: "build:\n  cli: {kind: binary, outputs: [bin/cli]}\n",
			field:   "build.cli.command",
		},
		{
			name:    "deploy input is a build target",
			content: "build:\n  app: {kind: docker}\ndeploy:\n  app2: {inputs: [app]}\n",
			field:   "deploy.app2.inputs",
		},
		{
			name:    "profile without clusters",
			content: "profile:\n  dev:\n    clusters: []\n",
			field:   "profile.dev.clusters",
		},
		{
			name:    "unknown release type",
			content: "release:\n  type: quay\n",
			field:   "release.type",
		},
		{
			name:    "bad duration",
			content: "execution:\n  timeout: soon\n",
			field:   "execution.timeout",
		},
		{
			name:    "postgres without dsn",
			content: "history:\n  enabled: true\n  driver: postgres\n",
			field:   "history.dsn",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTestConfig(t, "nb.yaml", tt.content)
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			errs := Validate(cfg)
			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected validation error for %s, got %v", tt.field, errs)
			}
		})
	}
}

func TestCheckClassifiesAsConfig(t *testing.T) {
	path := writeTestConfig(t, "nb.yaml", "execution:\n  workers: -1\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	err = Check(cfg)
	if err == nil {
		t.Fatal("expected Check() error")
	}
	if failure.KindOf(err) != failure.Config {
		t.Errorf("KindOf() = %v, want config", failure.KindOf(err))
	}
	if !strings.Contains(err.Error(), "execution.workers") {
		t.Errorf("error should name the field: %v", err)
	}
}
