// Package sdk holds the built-in build technology definitions and detects
// which one a project uses.
package sdk

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasnoah/nbuild/internal/config"
	"github.com/lucasnoah/nbuild/internal/failure"
)

// Default identity and runtime image shared by the compiled SDKs.
const (
	DefaultUser         = "1069"
	DefaultGroup        = "1069"
	DefaultRuntimeImage = "gcr.io/distroless/static-debian12:nonroot"
)

// Definition describes how to build, test and lint one technology.
//
// Build is a template rendered once per output with {{output}} and
// {{source}}; it must leave the artifact at /build/{{output}} inside the
// builder stage. Cmd is rendered with {{output}} when a target has exactly
// one output and no entrypoint of its own.
type Definition struct {
	ID           string
	BuilderImage string
	RuntimeImage string
	Markers      []string
	CacheFiles   []string
	Prepare      string
	Build        string
	Test         string
	Lint         string
	Env          map[string]string
	Ports        []int
	User         string
	Group        string
	Cmd          []string

	outputs outputDetector
}

// Detect reports whether root contains one of the definition's markers.
func (d Definition) Detect(root string) bool {
	for _, m := range d.Markers {
		if fileExists(filepath.Join(root, m)) {
			return true
		}
	}
	return false
}

// DetectionError is returned when no SDK marker matches and none was chosen.
type DetectionError struct {
	Root  string
	Tried []string
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("could not detect sdk in %s (looked for %s); set sdk.override or the target's sdk", e.Root, strings.Join(e.Tried, ", "))
}

// FailureKind implements failure.Classified.
func (e *DetectionError) FailureKind() failure.Kind { return failure.SdkDetection }

// Builtins returns the built-in definitions in detection order.
func Builtins() []Definition {
	return []Definition{
		{
			ID:           "go",
			BuilderImage: "library/golang:1-alpine",
			RuntimeImage: DefaultRuntimeImage,
			Markers:      []string{"go.mod"},
			CacheFiles:   []string{"go.*"},
			Prepare:      "go mod download",
			Build:        "go build -a -installsuffix cgo -o /build/{{output}} {{source}}",
			Test:         "go test ./...",
			Lint:         "go vet ./...",
			Env:          map[string]string{"GOOS": "linux", "CGO_ENABLED": "0"},
			User:         DefaultUser,
			Group:        DefaultGroup,
			Cmd:          []string{"/app/{{output}}"},
			outputs:      goOutputs,
		},
		{
			ID:           "rust",
			BuilderImage: "library/rust:1-alpine",
			RuntimeImage: DefaultRuntimeImage,
			Markers:      []string{"Cargo.toml"},
			Build:        "cargo build --release --bin {{output}} && cp target/release/{{output}} /build/{{output}}",
			Test:         "cargo test --release",
			User:         DefaultUser,
			Group:        DefaultGroup,
			Cmd:          []string{"/app/{{output}}"},
			outputs:      rustOutputs,
		},
		{
			ID:           "node",
			BuilderImage: "library/node:22-alpine",
			RuntimeImage: "gcr.io/distroless/nodejs22-debian12:nonroot",
			Markers:      []string{"package.json"},
			CacheFiles:   []string{"package.json", "package-lock.json*"},
			Prepare:      "npm ci",
			Build:        "npm run build --if-present && cp -r /src /build/{{output}}",
			Test:         "npm test --if-present",
			Lint:         "npm run lint --if-present",
			User:         DefaultUser,
			Group:        DefaultGroup,
			Cmd:          []string{"/app/{{output}}/index.js"},
			outputs:      appOutput(""),
		},
		{
			ID:           "java",
			BuilderImage: "library/maven:3-eclipse-temurin-21",
			RuntimeImage: "gcr.io/distroless/java21-debian12:nonroot",
			Markers:      []string{"pom.xml"},
			CacheFiles:   []string{"pom.xml"},
			Prepare:      "mvn -B -q dependency:go-offline",
			Build:        "mvn -B -q package -DskipTests && cp target/*.jar /build/{{output}}",
			Test:         "mvn -B -q test",
			User:         DefaultUser,
			Group:        DefaultGroup,
			Cmd:          []string{"-jar", "/app/{{output}}"},
			outputs:      appOutput(".jar"),
		},
	}
}

// Catalog is the set of SDK definitions available to one run, with the
// project's overrides applied.
type Catalog struct {
	defs     []Definition
	override string
}

// NewCatalog builds a catalog from the built-ins and the config's sdk section.
func NewCatalog(section config.SdkSection) *Catalog {
	defs := Builtins()
	for i := range defs {
		if o := section.ByID(defs[i].ID); o != nil {
			defs[i] = applyOverride(defs[i], o)
		}
	}
	return &Catalog{defs: defs, override: section.Override}
}

// IDs lists the catalog's SDK ids in detection order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.defs))
	for i, d := range c.defs {
		ids[i] = d.ID
	}
	return ids
}

// Get returns the definition with the given id.
func (c *Catalog) Get(id string) (Definition, bool) {
	for _, d := range c.defs {
		if d.ID == id {
			return d, true
		}
	}
	return Definition{}, false
}

// Detect returns the first definition whose markers exist in root.
func (c *Catalog) Detect(root string) (Definition, error) {
	var tried []string
	for _, d := range c.defs {
		if d.Detect(root) {
			return d, nil
		}
		tried = append(tried, d.Markers...)
	}
	return Definition{}, &DetectionError{Root: root, Tried: tried}
}

// Resolve picks the SDK for a target: its explicit sdk, else the project
// override, else detection in root.
func (c *Catalog) Resolve(root, explicit string) (Definition, error) {
	for _, id := range []string{explicit, c.override} {
		if id == "" {
			continue
		}
		d, ok := c.Get(id)
		if !ok {
			return Definition{}, failure.Newf(failure.SdkDetection, "unknown sdk %q", id)
		}
		return d, nil
	}
	return c.Detect(root)
}

func applyOverride(d Definition, o *config.SdkOverride) Definition {
	if o.BuilderImage != "" {
		d.BuilderImage = o.BuilderImage
	}
	if o.RuntimeImage != "" {
		d.RuntimeImage = o.RuntimeImage
	}
	if o.Prepare != "" {
		d.Prepare = o.Prepare
	}
	if o.Build != "" {
		d.Build = o.Build
	}
	if o.Test != "" {
		d.Test = o.Test
	}
	if o.Lint != "" {
		d.Lint = o.Lint
	}
	if len(o.Env) > 0 {
		env := make(map[string]string, len(d.Env)+len(o.Env))
		for k, v := range d.Env {
			env[k] = v
		}
		for k, v := range o.Env {
			env[k] = v
		}
		d.Env = env
	}
	if o.Ports != nil {
		d.Ports = append([]int(nil), o.Ports...)
	}
	if o.User != "" {
		d.User = o.User
	}
	if o.Group != "" {
		d.Group = o.Group
	}
	return d
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
