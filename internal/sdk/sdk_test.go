package sdk

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lucasnoah/nbuild/internal/config"
	"github.com/lucasnoah/nbuild/internal/failure"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name   string
		files  []string
		wantID string
	}{
		{"go", []string{"go.mod"}, "go"},
		{"rust", []string{"Cargo.toml"}, "rust"},
		{"node", []string{"package.json"}, "node"},
		{"java", []string{"pom.xml"}, "java"},
		{"go wins over node", []string{"package.json", "go.mod"}, "go"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			for _, f := range tt.files {
				writeFile(t, root, f, "")
			}
			d, err := NewCatalog(config.SdkSection{}).Detect(root)
			if err != nil {
				t.Fatalf("Detect() error: %v", err)
			}
			if d.ID != tt.wantID {
				t.Errorf("Detect() = %q, want %q", d.ID, tt.wantID)
			}
		})
	}
}

func TestDetect_NoMarker(t *testing.T) {
	root := t.TempDir()
	_, err := NewCatalog(config.SdkSection{}).Detect(root)
	var de *DetectionError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DetectionError, got %v", err)
	}
	if failure.KindOf(err) != failure.SdkDetection {
		t.Errorf("KindOf() = %v, want sdk_detection", failure.KindOf(err))
	}
	if len(de.Tried) == 0 {
		t.Error("expected tried markers to be listed")
	}
}

func TestDetect_MarkerMustBeFile(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "go.mod"), 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := NewCatalog(config.SdkSection{}).Detect(root); err == nil {
		t.Error("a directory named go.mod must not count as a marker")
	}
}

func TestResolve_OverrideShortCircuits(t *testing.T) {
	root := t.TempDir() // no markers at all
	c := NewCatalog(config.SdkSection{Override: "rust"})

	d, err := c.Resolve(root, "")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if d.ID != "rust" {
		t.Errorf("Resolve() = %q, want rust", d.ID)
	}

	d, err = c.Resolve(root, "go")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if d.ID != "go" {
		t.Errorf("target sdk should beat the project override, got %q", d.ID)
	}
}

func TestResolve_UnknownID(t *testing.T) {
	_, err := NewCatalog(config.SdkSection{}).Resolve(t.TempDir(), "cobol")
	if failure.KindOf(err) != failure.SdkDetection {
		t.Errorf("KindOf() = %v, want sdk_detection", failure.KindOf(err))
	}
}

func TestNewCatalog_AppliesOverrides(t *testing.T) {
	c := NewCatalog(config.SdkSection{
		Go: &config.SdkOverride{
			BuilderImage: "golang:1.23",
			Test:         "go test -race ./...",
			Env:          map[string]string{"GOFLAGS": "-mod=vendor"},
		},
	})
	d, ok := c.Get("go")
	if !ok {
		t.Fatal("go sdk missing")
	}
	if d.BuilderImage != "golang:1.23" {
		t.Errorf("builder image = %q", d.BuilderImage)
	}
	if d.Test != "go test -race ./..." {
		t.Errorf("test = %q", d.Test)
	}
	if d.Lint != "go vet ./..." {
		t.Errorf("lint should keep the built-in default, got %q", d.Lint)
	}
	want := map[string]string{"GOOS": "linux", "CGO_ENABLED": "0", "GOFLAGS": "-mod=vendor"}
	if diff := cmp.Diff(want, d.Env); diff != "" {
		t.Errorf("env mismatch (-want +got):\n%s", diff)
	}

	// Built-ins are not shared between catalogs.
	fresh, _ := NewCatalog(config.SdkSection{}).Get("go")
	if _, ok := fresh.Env["GOFLAGS"]; ok {
		t.Error("override leaked into the built-in definition")
	}
}

func TestGoOutputs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "go.mod", "module example.com/x\n")
	writeFile(t, root, "cmd/worker/main.go", "package main\n")
	writeFile(t, root, "cmd/api/main.go", "package main\n")

	d, _ := NewCatalog(config.SdkSection{}).Get("go")
	got, err := d.Outputs(root, "myapp", nil)
	if err != nil {
		t.Fatalf("Outputs() error: %v", err)
	}
	want := []Output{{Name: "api", Source: "./cmd/api"}, {Name: "worker", Source: "./cmd/worker"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}
}

func TestGoOutputs_NoCmdDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "go.mod", "module example.com/x\n")

	d, _ := NewCatalog(config.SdkSection{}).Get("go")
	got, err := d.Outputs(root, "myapp", nil)
	if err != nil {
		t.Fatalf("Outputs() error: %v", err)
	}
	if diff := cmp.Diff([]Output{{Name: "myapp", Source: "."}}, got); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}
}

func TestOutputs_Declared(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "cmd/api/main.go", "package main\n")

	d, _ := NewCatalog(config.SdkSection{}).Get("go")
	got, err := d.Outputs(root, "myapp", []string{"api", "tool"})
	if err != nil {
		t.Fatalf("Outputs() error: %v", err)
	}
	want := []Output{{Name: "api", Source: "./cmd/api"}, {Name: "tool", Source: "."}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}
}

func TestRustOutputs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Cargo.toml", "[package]\nname = \"nb\"\nversion = \"0.1.0\"\n")

	d, _ := NewCatalog(config.SdkSection{}).Get("rust")
	got, err := d.Outputs(root, "myapp", nil)
	if err != nil {
		t.Fatalf("Outputs() error: %v", err)
	}
	if diff := cmp.Diff([]Output{{Name: "nb", Source: "."}}, got); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}

	writeFile(t, root, "Cargo.toml", "[package]\nname = \"nb\"\n\n[[bin]]\nname = \"nbd\"\npath = \"src/d.rs\"\n\n[[bin]]\nname = \"nbctl\"\npath = \"src/ctl.rs\"\n")
	got, err = d.Outputs(root, "myapp", nil)
	if err != nil {
		t.Fatalf("Outputs() error: %v", err)
	}
	want := []Output{{Name: "nbd", Source: "."}, {Name: "nbctl", Source: "."}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}
}

func TestJavaOutputs(t *testing.T) {
	d, _ := NewCatalog(config.SdkSection{}).Get("java")
	got, err := d.Outputs(t.TempDir(), "svc", nil)
	if err != nil {
		t.Fatalf("Outputs() error: %v", err)
	}
	if diff := cmp.Diff([]Output{{Name: "svc.jar", Source: "."}}, got); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}
}
