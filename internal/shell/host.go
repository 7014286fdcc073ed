package shell

import (
	"context"
	"io"

	"github.com/lucasnoah/nbuild/internal/collab"
	"github.com/lucasnoah/nbuild/internal/failure"
)

// Host runs binary and directory target commands on the local machine.
type Host struct {
	Runner Runner
	Output io.Writer
}

// RunScript implements collab.HostRunner. A non-zero exit is a build
// failure and is never retried.
func (h *Host) RunScript(ctx context.Context, s collab.Script) error {
	c := Script(s.Dir, s.Command, s.Env)
	c.Output = h.Output
	if _, err := Check(ctx, h.Runner, c); err != nil {
		return failure.ForTarget(failure.Build, s.Target, err)
	}
	return nil
}
