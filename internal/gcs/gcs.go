// Package gcs uploads directory and binary outputs to a Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"strings"

	"github.com/lucasnoah/nbuild/internal/failure"
	"github.com/lucasnoah/nbuild/internal/shell"
)

// Uploader copies files with gcloud storage.
type Uploader struct {
	Runner shell.Runner
	Dir    string
}

// Upload implements collab.CDN. destination is a gs:// URL or a bare
// bucket path.
func (u *Uploader) Upload(ctx context.Context, sources []string, destination string) error {
	if len(sources) == 0 {
		return fmt.Errorf("nothing to upload to %s", destination)
	}
	dest := destination
	if !strings.HasPrefix(dest, "gs://") {
		dest = "gs://" + strings.TrimPrefix(dest, "/")
	}
	if !strings.HasSuffix(dest, "/") {
		dest += "/"
	}

	args := append([]string{"storage", "cp", "--recursive"}, sources...)
	args = append(args, dest)
	res, err := shell.Check(ctx, u.Runner, shell.Cmd{Dir: u.Dir, Name: "gcloud", Args: args})
	if err != nil {
		if shell.LooksTransient(res.Stderr) {
			return failure.AsTransient(fmt.Errorf("upload to %s: %w", dest, err))
		}
		return fmt.Errorf("upload to %s: %w", dest, err)
	}
	return nil
}
