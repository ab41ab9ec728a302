// Package publish makes rendered artifacts reachable by URL.
//
// The pipeline leaves artifacts in the output directory and never deletes
// them. A Publisher decides how users reach them: Local serves them from the
// upload server's /img/ route, S3 uploads them to an S3-compatible bucket.
package publish

import (
	"context"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/matzehuels/gerbershot/pkg/errors"
	"github.com/matzehuels/gerbershot/pkg/pipeline"
)

// ImagePrefix is the URL path the upload server serves the output directory on.
const ImagePrefix = "/img/"

// Publisher makes an artifact reachable and returns its URL.
type Publisher interface {
	Publish(ctx context.Context, a pipeline.Artifact) (string, error)
}

// Key returns the slash-separated object key of artifact path p below root.
func Key(root, p string) (string, error) {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidPath, err, "artifact %s outside %s", p, root)
	}
	rel = filepath.ToSlash(rel)
	if err := errors.ValidatePath(rel); err != nil {
		return "", err
	}
	return rel, nil
}

// Local publishes artifacts by URL only; the files are served from Root by
// the upload server.
type Local struct {
	// BaseURL is prepended to ImagePrefix. Empty yields root-relative URLs.
	BaseURL string
	// Root is the output directory artifacts live in.
	Root string
}

var _ Publisher = (*Local)(nil)

// Publish returns <BaseURL>/img/<key>.
func (l *Local) Publish(ctx context.Context, a pipeline.Artifact) (string, error) {
	key, err := Key(l.Root, a.Path)
	if err != nil {
		return "", err
	}
	return joinURL(l.BaseURL, path.Join(ImagePrefix, key)), nil
}

// joinURL appends an absolute path to base, escaping each segment.
func joinURL(base, p string) string {
	segs := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.Join(segs, "/")
}
