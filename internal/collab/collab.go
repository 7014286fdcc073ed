// Package collab defines the ports through which the pipeline reaches
// external systems: the container builder, registries, release hosts, the
// CDN, the deploy tool and the attestor.
package collab

import (
	"context"

	"github.com/opencontainers/go-digest"
)

// BuildSpec is one container image build.
type BuildSpec struct {
	Target     string
	ContextDir string
	Dockerfile string
	Image      string
}

// ContainerBuilder builds an image and returns its reference.
type ContainerBuilder interface {
	Build(ctx context.Context, spec BuildSpec) (string, error)
}

// Registry pushes a built image and returns its digest.
type Registry interface {
	Push(ctx context.Context, image string) (digest.Digest, error)
}

// Release is a release to create on the source host.
type Release struct {
	Target string
	Tag    string
	Title  string
	Notes  string
	Assets []string
}

// ReleaseHost creates releases and returns their URL.
type ReleaseHost interface {
	CreateRelease(ctx context.Context, r Release) (string, error)
}

// CDN uploads files to a bucket path.
type CDN interface {
	Upload(ctx context.Context, sources []string, destination string) error
}

// DeployRequest is one deploy to one cluster.
type DeployRequest struct {
	Target    string
	Profile   string
	Cluster   string
	Resources []string
	VarFiles  []string
	Vars      map[string]string
}

// DeployTool applies resources to a cluster and returns its status line.
type DeployTool interface {
	Deploy(ctx context.Context, req DeployRequest) (string, error)
}

// Attestor signs or attests a pushed image.
type Attestor interface {
	Attest(ctx context.Context, image string) error
}

// Script is a host command run for a binary or directory target.
type Script struct {
	Target  string
	Dir     string
	Command string
	Env     map[string]string
}

// HostRunner runs build commands on the host.
type HostRunner interface {
	RunScript(ctx context.Context, s Script) error
}

// Ports bundles every collaborator a run may use.
type Ports struct {
	Builder  ContainerBuilder
	Registry Registry
	Releases ReleaseHost
	CDN      CDN
	Deployer DeployTool
	Attestor Attestor
	Host     HostRunner
}
