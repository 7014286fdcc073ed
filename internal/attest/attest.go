// Package attest signs pushed images with cosign.
package attest

import (
	"context"
	"fmt"

	"github.com/lucasnoah/nbuild/internal/failure"
	"github.com/lucasnoah/nbuild/internal/shell"
)

// Cosign signs images keylessly. Images must be pinned by digest.
type Cosign struct {
	Runner shell.Runner
	// Binary defaults to "cosign".
	Binary string
}

// Attest implements collab.Attestor.
func (c *Cosign) Attest(ctx context.Context, image string) error {
	bin := c.Binary
	if bin == "" {
		bin = "cosign"
	}
	res, err := shell.Check(ctx, c.Runner, shell.Cmd{
		Name: bin,
		Args: []string{"sign", "--yes", image},
		Env:  map[string]string{"COSIGN_YES": "true"},
	})
	if err != nil {
		err = fmt.Errorf("sign %s: %w", image, err)
		if shell.LooksTransient(res.Stderr) {
			return failure.AsTransient(err)
		}
		return err
	}
	return nil
}
