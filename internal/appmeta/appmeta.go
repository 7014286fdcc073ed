// Package appmeta finds the project's NAIS application manifest and reads
// the app and team names from it.
package appmeta

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"
)

// Candidates are the manifest file names looked for, in order, first in the
// project root and then in .nais/.
var Candidates = []string{
	".nais.yaml",
	".nais.yml",
	".naiserator.yaml",
	".naiserator.yml",
	"nais.yaml",
	"nais.yml",
	"naiserator.yaml",
	"naiserator.yml",
	"dev-gcp.yaml",
	"dev-gcp.yml",
	"dev-fss.yaml",
	"dev-fss.yml",
	"dev.yml",
	"prod-gcp.yaml",
	"prod-gcp.yml",
	"prod-fss.yaml",
	"prod-fss.yml",
	"prod.yml",
}

// ErrNotFound is returned when no candidate manifest exists.
var ErrNotFound = errors.New("no nais manifest found")

// Metadata is what the manifest tells us about the application.
type Metadata struct {
	Path string
	App  string
	Team string
}

// Find returns the path of the first candidate manifest under root.
func Find(root string) (string, error) {
	for _, dir := range []string{root, filepath.Join(root, ".nais")} {
		for _, name := range Candidates {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
	}
	return "", ErrNotFound
}

// Detect finds and parses the manifest under root.
func Detect(root string) (*Metadata, error) {
	path, err := Find(root)
	if err != nil {
		return nil, err
	}
	return Read(path)
}

// Read parses metadata.name and metadata.namespace from the first YAML
// document in path.
func Read(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if i := bytes.Index(data, []byte("\n---")); i >= 0 {
		data = data[:i]
	}

	var obj metav1.PartialObjectMetadata
	if err := yaml.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &Metadata{Path: path, App: obj.Name, Team: obj.Namespace}, nil
}
