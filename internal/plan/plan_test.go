package plan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lucasnoah/nbuild/internal/config"
	"github.com/lucasnoah/nbuild/internal/facts"
	"github.com/lucasnoah/nbuild/internal/failure"
	"github.com/lucasnoah/nbuild/internal/graph"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// goProject lays out a Go module with one command and a nais manifest.
func goProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "go.mod", "module example.com/app\n")
	writeFile(t, dir, "cmd/app/main.go", "package main\n")
	writeFile(t, dir, ".nais/app.yaml", "metadata:\n  name: app\n  namespace: team\n")
	return dir
}

func testFacts(dir, branch string) *facts.Facts {
	return &facts.Facts{
		Branch:         branch,
		SHA:            "abc1234def",
		ShortSHA:       "abc1234",
		Date:           "2024-06-01",
		Time:           "120000",
		Started:        time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Team:           "team",
		App:            "app",
		WorkDir:        dir,
		ReleaseCounter: "7",
		Manifest:       filepath.Join(dir, ".nais", "app.yaml"),
	}
}

func parse(t *testing.T, doc string) *config.PipelineConfig {
	t.Helper()
	var data []byte
	if doc != "" {
		data = []byte(doc)
	}
	cfg, err := config.Parse(data, "yaml")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	return cfg
}

func TestPrepare_Defaults(t *testing.T) {
	dir := goProject(t)
	p, err := Prepare(context.Background(), parse(t, ""), testFacts(dir, "main"), Options{})
	if err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}

	if p.Output != config.OutputDeploy {
		t.Errorf("output = %q, want deploy", p.Output)
	}
	if len(p.Deploys) != 1 || p.Deploys[0].Profile != "dev" {
		t.Errorf("deploys = %+v", p.Deploys)
	}

	app := p.Targets["app"]
	want := "europe-north1-docker.pkg.dev/nais-management-233d/nais/team/app:2024-06-01-120000-abc1234"
	if app.Image != want {
		t.Errorf("image = %q, want %q", app.Image, want)
	}
	if app.SDK != "go" {
		t.Errorf("sdk = %q", app.SDK)
	}
	if !strings.Contains(app.Dockerfile, "go build -a -installsuffix cgo -o /build/app ./cmd/app") {
		t.Errorf("dockerfile does not build cmd/app:\n%s", app.Dockerfile)
	}
	if !strings.Contains(app.Dockerfile, `CMD ["/app/app"]`) {
		t.Errorf("dockerfile has no default CMD:\n%s", app.Dockerfile)
	}

	nais := p.Targets["nais"]
	if diff := cmp.Diff([]string{".nais/app.yaml"}, nais.Resources); diff != "" {
		t.Errorf("resources mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([][]string{{"app"}, {"image"}, {"nais"}}, p.Graph.Layers()); diff != "" {
		t.Errorf("layers mismatch (-want +got):\n%s", diff)
	}
	if app.Layer != 0 || nais.Layer != 2 {
		t.Errorf("layers = %d, %d", app.Layer, nais.Layer)
	}
}

func TestPrepare_MaxStageCapsOutput(t *testing.T) {
	dir := goProject(t)
	p, err := Prepare(context.Background(), parse(t, ""), testFacts(dir, "main"), Options{MaxStage: config.OutputRelease})
	if err != nil {
		t.Fatal(err)
	}
	if p.Output != config.OutputRelease {
		t.Errorf("output = %q, want release", p.Output)
	}
	if p.Decision.Output != config.OutputDeploy {
		t.Errorf("decision output must stay deploy, got %q", p.Decision.Output)
	}
	if !p.Selected(graph.StagePublish) || p.Selected(graph.StageDeploy) {
		t.Error("release output selects build and publish only")
	}
}

func TestPrepare_FeatureBranchPrefix(t *testing.T) {
	dir := goProject(t)
	cfg := parse(t, `
branch:
  "^feature/(?P<topic>[a-z]+)$":
    output: release
    name_prefix: "{{topic}}-"
`)
	p, err := Prepare(context.Background(), cfg, testFacts(dir, "feature/login"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Targets["app"].Image; !strings.Contains(got, "/team/login-app:") {
		t.Errorf("image = %q, want prefixed app name", got)
	}
}

func TestPrepare_OnePrimaryImage(t *testing.T) {
	dir := goProject(t)
	cfg := parse(t, `
build:
  app:
    kind: docker
  shop:
    kind: docker
`)
	f := testFacts(dir, "topic")
	f.App = "shop"

	p, err := Prepare(context.Background(), cfg, f, Options{})
	if err != nil {
		t.Fatal(err)
	}
	const repo = "europe-north1-docker.pkg.dev/nais-management-233d/nais/team/"
	want := map[string]string{
		"app":  repo + "shop-app:2024-06-01-120000-abc1234",
		"shop": repo + "shop:2024-06-01-120000-abc1234",
	}
	got := map[string]string{"app": p.Targets["app"].Image, "shop": p.Targets["shop"].Image}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("images mismatch (-want +got):\n%s", diff)
	}
}

func TestPrimaryImage(t *testing.T) {
	tests := []struct {
		name   string
		docker []string
		app    string
		want   string
	}{
		{"named after app wins", []string{"app", "shop"}, "shop", "shop"},
		{"app fallback", []string{"app", "worker"}, "shop", "app"},
		{"lone target", []string{"api"}, "shop", "api"},
		{"no primary", []string{"api", "worker"}, "shop", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := primaryImage(tt.docker, tt.app); got != tt.want {
				t.Errorf("primaryImage(%v, %q) = %q, want %q", tt.docker, tt.app, got, tt.want)
			}
		})
	}
}

func TestPrepare_UnknownPlaceholder(t *testing.T) {
	dir := goProject(t)
	cfg := parse(t, `
build:
  app:
    kind: docker
    tag: "{{version}}"
`)
	_, err := Prepare(context.Background(), cfg, testFacts(dir, "main"), Options{})
	if failure.KindOf(err) != failure.Template {
		t.Fatalf("KindOf() = %v, want template (err %v)", failure.KindOf(err), err)
	}
}

func TestPrepare_NoSDK(t *testing.T) {
	dir := t.TempDir()
	_, err := Prepare(context.Background(), parse(t, ""), testFacts(dir, "main"), Options{})
	if failure.KindOf(err) != failure.SdkDetection {
		t.Fatalf("KindOf() = %v, want sdk_detection (err %v)", failure.KindOf(err), err)
	}
}

func TestPrepare_UnknownInput(t *testing.T) {
	dir := goProject(t)
	cfg := parse(t, `
build:
  app:
    kind: docker
publish:
  image:
    kind: registry
    inputs: [ap]
`)
	_, err := Prepare(context.Background(), cfg, testFacts(dir, "main"), Options{})
	var ute *graph.UnknownTargetError
	if !errors.As(err, &ute) {
		t.Fatalf("expected UnknownTargetError, got %v", err)
	}
	if ute.Missing != "ap" || ute.Referrer != "image" {
		t.Errorf("got %+v", ute)
	}
}

func TestPrepare_UserDockerfile(t *testing.T) {
	dir := goProject(t)
	writeFile(t, dir, "Dockerfile.custom", "FROM scratch\n")
	p, err := Prepare(context.Background(), parse(t, ""), testFacts(dir, "main"), Options{Dockerfile: "Dockerfile.custom"})
	if err != nil {
		t.Fatal(err)
	}
	app := p.Targets["app"]
	if app.Dockerfile != "FROM scratch\n" || app.UserDockerfile != "Dockerfile.custom" {
		t.Errorf("got dockerfile %q from %q", app.Dockerfile, app.UserDockerfile)
	}
}

func TestPrepare_MissingUserDockerfile(t *testing.T) {
	dir := goProject(t)
	_, err := Prepare(context.Background(), parse(t, ""), testFacts(dir, "main"), Options{Dockerfile: "nope"})
	if failure.KindOf(err) != failure.Config {
		t.Fatalf("KindOf() = %v, want config", failure.KindOf(err))
	}
}

func TestPrepare_DeployNeedsResources(t *testing.T) {
	dir := goProject(t)
	f := testFacts(dir, "main")
	f.Manifest = ""

	_, err := Prepare(context.Background(), parse(t, ""), f, Options{})
	if failure.KindOf(err) != failure.Config {
		t.Fatalf("KindOf() = %v, want config", failure.KindOf(err))
	}

	// Not reaching deploy, the missing resources do not matter.
	if _, err := Prepare(context.Background(), parse(t, ""), testFacts(dir, "topic"), Options{}); err != nil {
		t.Fatalf("build-only branch: %v", err)
	}
}

func TestPrepare_PublishTargets(t *testing.T) {
	dir := goProject(t)
	cfg := parse(t, `
build:
  cli:
    kind: binary
    command: go build -o bin/cli ./cmd/app
  web:
    kind: directory
    command: npm run build
    outputs: [dist]
publish:
  binaries:
    kind: release
    inputs: [cli]
    vars:
      name: "v{{counter}}"
      notes: "built from {{sha}}"
  site:
    kind: cdn
    inputs: [web]
    destination: "gs://cdn/{{team}}/{{app}}"
`)
	p, err := Prepare(context.Background(), cfg, testFacts(dir, "main"), Options{})
	if err != nil {
		t.Fatal(err)
	}

	rel := p.Targets["binaries"].Release
	if rel == nil || rel.Tag != "v7" || rel.Notes != "built from abc1234" {
		t.Fatalf("release = %+v", rel)
	}
	if diff := cmp.Diff([]string{"bin/app"}, rel.Assets); diff != "" {
		t.Errorf("assets mismatch (-want +got):\n%s", diff)
	}

	site := p.Targets["site"]
	if site.Destination != "gs://cdn/team/app" {
		t.Errorf("destination = %q", site.Destination)
	}
	if diff := cmp.Diff([]string{"dist"}, site.Artifacts); diff != "" {
		t.Errorf("artifacts mismatch (-want +got):\n%s", diff)
	}
}

func TestPrepare_DockerInputsCopied(t *testing.T) {
	dir := goProject(t)
	cfg := parse(t, `
build:
  web:
    kind: directory
    command: npm run build
    outputs: [dist]
  app:
    kind: docker
    inputs: [web]
`)
	p, err := Prepare(context.Background(), cfg, testFacts(dir, "topic"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p.Targets["app"].Dockerfile, "COPY dist /app/dist") {
		t.Errorf("dockerfile does not copy web output:\n%s", p.Targets["app"].Dockerfile)
	}
}

func TestPrepare_Deterministic(t *testing.T) {
	dir := goProject(t)
	cfg := parse(t, "")
	a, err := Prepare(context.Background(), cfg, testFacts(dir, "main"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Prepare(context.Background(), cfg, testFacts(dir, "main"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if a.Targets["app"].Dockerfile != b.Targets["app"].Dockerfile {
		t.Error("dockerfile differs between identical prepares")
	}
}
