package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

const (
	objectPrefix  = "uploads/"
	uploadTimeout = 2 * time.Minute
	readTries     = 4
)

// GCSStore keeps artifacts as objects in a Cloud Storage bucket.
// References have the form gs://bucket/uploads/<id>_<name>.
type GCSStore struct {
	client *storage.Client
	bucket string
	log    zerolog.Logger
}

// NewGCSStore creates a storage client using Application Default Credentials.
func NewGCSStore(ctx context.Context, bucket string, log zerolog.Logger) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStore: creating storage client: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: bucket,
		log:    log.With().Str("component", "gcs_artifacts").Logger(),
	}, nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// Save implements Store.
func (s *GCSStore) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	object := objectPrefix + uniqueName(name)

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", fmt.Errorf("Save: copy to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Save: finalize upload: %w", err)
	}

	return "gs://" + s.bucket + "/" + object, nil
}

// Read implements Store. Transient failures are retried with exponential backoff.
func (s *GCSStore) Read(ctx context.Context, ref string) ([]byte, error) {
	bucket, object, err := ParseURI(ref)
	if err != nil {
		return nil, err
	}

	read := func() ([]byte, error) {
		rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, backoff.Permanent(err)
		}
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}

	data, err := backoff.Retry(ctx, read,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(readTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.log.Warn().Err(err).Str("artifact", ref).Dur("retry_in", wait).Msg("artifact read failed, retrying")
		}))
	if err != nil {
		return nil, fmt.Errorf("Read: reading object %s/%s: %w", bucket, object, err)
	}
	return data, nil
}

// Remove implements Store.
func (s *GCSStore) Remove(ctx context.Context, ref string) error {
	bucket, object, err := ParseURI(ref)
	if err != nil {
		return err
	}
	if err := s.client.Bucket(bucket).Object(object).Delete(ctx); err != nil {
		return fmt.Errorf("Remove: deleting object %s/%s: %w", bucket, object, err)
	}
	return nil
}

// ParseURI splits gs://bucket/object into its parts.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// BaseName returns the object's file name, e.g. gs://b/uploads/x.csv → x.csv.
func BaseName(uri string) string {
	_, object, err := ParseURI(uri)
	if err != nil {
		return path.Base(uri)
	}
	return path.Base(object)
}

var _ Store = (*GCSStore)(nil)
