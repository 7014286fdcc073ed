package sdk

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Output is one artifact a build produces: its name under /build and the
// source it is built from.
type Output struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

type outputDetector func(root, app string) ([]Output, error)

// Outputs returns the artifacts for a target. Declared names are used as
// given, with sources looked up the same way detection would; otherwise
// the SDK detects them from the project layout.
func (d Definition) Outputs(root, app string, declared []string) ([]Output, error) {
	if len(declared) > 0 {
		out := make([]Output, len(declared))
		for i, name := range declared {
			out[i] = Output{Name: name, Source: d.sourceFor(root, name)}
		}
		return out, nil
	}
	if d.outputs == nil {
		return []Output{{Name: app, Source: "."}}, nil
	}
	return d.outputs(root, app)
}

func (d Definition) sourceFor(root, name string) string {
	if d.ID == "go" && dirExists(filepath.Join(root, "cmd", name)) {
		return "./cmd/" + name
	}
	return "."
}

// goOutputs builds every directory under ./cmd, or the module root as one
// binary named after the app when there is no ./cmd.
func goOutputs(root, app string) ([]Output, error) {
	entries, err := os.ReadDir(filepath.Join(root, "cmd"))
	if os.IsNotExist(err) {
		return []Output{{Name: app, Source: "."}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing cmd directory: %w", err)
	}

	var out []Output
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, Output{Name: e.Name(), Source: "./cmd/" + e.Name()})
	}
	if len(out) == 0 {
		return []Output{{Name: app, Source: "."}}, nil
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type cargoManifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Bin []struct {
		Name string `toml:"name"`
	} `toml:"bin"`
}

// rustOutputs uses the [[bin]] entries of Cargo.toml, falling back to the
// package name.
func rustOutputs(root, app string) ([]Output, error) {
	raw, err := os.ReadFile(filepath.Join(root, "Cargo.toml"))
	if err != nil {
		return nil, fmt.Errorf("reading Cargo.toml: %w", err)
	}
	var m cargoManifest
	if err := toml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parsing Cargo.toml: %w", err)
	}

	var out []Output
	for _, b := range m.Bin {
		if b.Name != "" {
			out = append(out, Output{Name: b.Name, Source: "."})
		}
	}
	if len(out) > 0 {
		return out, nil
	}
	if m.Package.Name != "" {
		return []Output{{Name: m.Package.Name, Source: "."}}, nil
	}
	return []Output{{Name: app, Source: "."}}, nil
}

// appOutput names the single output after the app, plus a suffix.
func appOutput(suffix string) outputDetector {
	return func(_, app string) ([]Output, error) {
		return []Output{{Name: app + suffix, Source: "."}}, nil
	}
}
