package collab

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"
)

// Call is one recorded collaborator invocation.
type Call struct {
	Op      string
	Target  string
	Subject string
}

// Recorder implements every port without side effects. It backs --dry-run
// and the executor tests.
type Recorder struct {
	// Handler, when set, decides the outcome of each call. It runs outside
	// the recorder's lock and may block.
	Handler func(ctx context.Context, c Call) error

	mu    sync.Mutex
	calls []Call
}

// Ports returns a Ports with every collaborator backed by r.
func (r *Recorder) Ports() Ports {
	return Ports{Builder: r, Registry: r, Releases: r, CDN: r, Deployer: r, Attestor: r, Host: r}
}

func (r *Recorder) record(ctx context.Context, c Call) error {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
	if r.Handler != nil {
		return r.Handler(ctx, c)
	}
	return ctx.Err()
}

// Calls returns a copy of the recorded calls in invocation order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Ops returns "op:target" for every call, sorted, for order-insensitive checks.
func (r *Recorder) Ops() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Op + ":" + c.Target
	}
	sort.Strings(out)
	return out
}

// Count returns how many calls had the given op.
func (r *Recorder) Count(op string) int {
	n := 0
	for _, c := range r.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (r *Recorder) Build(ctx context.Context, spec BuildSpec) (string, error) {
	if err := r.record(ctx, Call{Op: "build", Target: spec.Target, Subject: spec.Image}); err != nil {
		return "", err
	}
	return spec.Image, nil
}

func (r *Recorder) Push(ctx context.Context, image string) (digest.Digest, error) {
	if err := r.record(ctx, Call{Op: "push", Target: repoName(image), Subject: image}); err != nil {
		return "", err
	}
	return digest.FromString(image), nil
}

func (r *Recorder) CreateRelease(ctx context.Context, rel Release) (string, error) {
	if err := r.record(ctx, Call{Op: "release", Target: rel.Target, Subject: rel.Tag}); err != nil {
		return "", err
	}
	return "https://example.invalid/releases/" + rel.Tag, nil
}

func (r *Recorder) Upload(ctx context.Context, sources []string, destination string) error {
	return r.record(ctx, Call{Op: "upload", Target: destination, Subject: strings.Join(sources, ",")})
}

func (r *Recorder) Deploy(ctx context.Context, req DeployRequest) (string, error) {
	if err := r.record(ctx, Call{Op: "deploy", Target: req.Target, Subject: req.Cluster}); err != nil {
		return "", err
	}
	return "deployed to " + req.Cluster, nil
}

func (r *Recorder) Attest(ctx context.Context, image string) error {
	return r.record(ctx, Call{Op: "attest", Target: repoName(image), Subject: image})
}

func (r *Recorder) RunScript(ctx context.Context, s Script) error {
	return r.record(ctx, Call{Op: "run", Target: s.Target, Subject: s.Command})
}

// repoName strips the registry path and tag from an image reference.
func repoName(image string) string {
	name := image
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.IndexAny(name, ":@"); i >= 0 {
		name = name[:i]
	}
	return name
}
