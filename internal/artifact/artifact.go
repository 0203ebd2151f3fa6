// Package artifact stores submitted files until their job reaches a terminal
// state.
package artifact

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store saves, reads and removes submitted files.
type Store interface {
	// Save stores the content under a unique name derived from name and
	// returns a reference to it.
	Save(ctx context.Context, name string, r io.Reader) (string, error)

	// Read returns the stored bytes.
	Read(ctx context.Context, ref string) ([]byte, error)

	// Remove deletes the stored file. Removing a missing file is an error.
	Remove(ctx context.Context, ref string) error
}

// New returns a GCS-backed store when bucket is set, a local one otherwise.
func New(ctx context.Context, dir, bucket string, log zerolog.Logger) (Store, error) {
	if bucket != "" {
		return NewGCSStore(ctx, bucket, log)
	}
	return NewLocalStore(dir)
}

// uniqueName prefixes a sanitized base name with a random id so concurrent
// uploads of the same file never collide.
func uniqueName(name string) string {
	return uuid.NewString() + "_" + sanitize(name)
}

func sanitize(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == "/" || base == "" {
		return "upload"
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
