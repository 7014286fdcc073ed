// Package imagename builds and validates container image references.
package imagename

import (
	"fmt"

	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"

	"github.com/lucasnoah/nbuild/internal/config"
	"github.com/lucasnoah/nbuild/internal/failure"
)

// Spec names one docker target's image.
type Spec struct {
	Release config.Release
	Team    string
	App     string
	// Target is appended to the app name unless Primary is set.
	Target  string
	Primary bool
	Prefix  string
	Tag     string
}

// Repository returns the image name without a tag: GAR images live under
// registry/team/app, GHCR images under registry/app.
func (s Spec) Repository() string {
	name := s.Prefix + s.App
	if !s.Primary && s.Target != "" {
		name += "-" + s.Target
	}
	registry := s.Release.Registry()
	if s.Release.Type == "gar" {
		return fmt.Sprintf("%s/%s/%s", registry, s.Team, name)
	}
	return fmt.Sprintf("%s/%s", registry, name)
}

// Build returns the validated, tagged image reference.
func Build(s Spec) (string, error) {
	raw := s.Repository() + ":" + s.Tag
	named, err := reference.ParseNamed(raw)
	if err != nil {
		return "", failure.New(failure.Template, fmt.Errorf("invalid image name %q: %w", raw, err))
	}
	if _, ok := named.(reference.Tagged); !ok {
		return "", failure.Newf(failure.Template, "image name %q has no tag", raw)
	}
	return named.String(), nil
}

// Pin returns ref with its digest attached, keeping the tag.
func Pin(ref string, d digest.Digest) (string, error) {
	if err := d.Validate(); err != nil {
		return "", fmt.Errorf("invalid digest %q: %w", d, err)
	}
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", fmt.Errorf("invalid image name %q: %w", ref, err)
	}
	pinned, err := reference.WithDigest(named, d)
	if err != nil {
		return "", err
	}
	return reference.FamiliarString(pinned), nil
}

// Domain returns the registry host of ref, used for docker login.
func Domain(ref string) (string, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", fmt.Errorf("invalid image name %q: %w", ref, err)
	}
	return reference.Domain(named), nil
}
