package icestore

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-catfeed/pkg/catfeed"
	"github.com/rs/zerolog"
)

// GCSResultArchiverConfig holds configuration for the archiver.
type GCSResultArchiverConfig struct {
	BucketName      string `yaml:"bucket_name"`
	ObjectPrefix    string `yaml:"object_prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// ApplyEnv overrides fields from GCS_ARCHIVE_BUCKET, GCS_ARCHIVE_PREFIX and
// GCP_GCS_CREDENTIALS_FILE.
func (c *GCSResultArchiverConfig) ApplyEnv() {
	if v := os.Getenv("GCS_ARCHIVE_BUCKET"); v != "" {
		c.BucketName = v
	}
	if v := os.Getenv("GCS_ARCHIVE_PREFIX"); v != "" {
		c.ObjectPrefix = v
	}
	if v := os.Getenv("GCP_GCS_CREDENTIALS_FILE"); v != "" {
		c.CredentialsFile = v
	}
}

// GCSResultArchiver writes the cats of each Result to a gzip-compressed JSONL
// object at <prefix>/<yyyy>/<mm>/<dd>/<uuid>.jsonl.gz, one cat per line.
type GCSResultArchiver struct {
	client GCSClient
	config GCSResultArchiverConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewGCSResultArchiver creates an archiver writing to config.BucketName.
func NewGCSResultArchiver(client GCSClient, config GCSResultArchiverConfig, logger zerolog.Logger) (*GCSResultArchiver, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSResultArchiver{
		client: client,
		config: config,
		logger: logger.With().Str("component", "GCSResultArchiver").Str("bucket", config.BucketName).Logger(),
		now:    time.Now,
	}, nil
}

// Write archives one result. Empty results produce no object.
func (a *GCSResultArchiver) Write(ctx context.Context, result *catfeed.Result) error {
	if result == nil || len(result.Cats) == 0 {
		return nil
	}

	objectName := path.Join(a.config.ObjectPrefix, a.now().UTC().Format("2006/01/02"), uuid.New().String()+".jsonl.gz")
	w := a.client.Bucket(a.config.BucketName).Object(objectName).NewWriter(ctx)

	pr, pw := io.Pipe()
	encoded := make(chan struct{})
	go func() {
		defer close(encoded)
		pw.CloseWithError(encodeCats(pw, result.Cats))
	}()

	written, copyErr := io.Copy(w, pr)
	// Unblock the encoder if the copy stopped early.
	pr.CloseWithError(copyErr)
	<-encoded
	closeErr := w.Close()
	if copyErr != nil {
		return fmt.Errorf("failed to stream data for GCS object %s: %w", objectName, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close GCS object writer for %s: %w", objectName, closeErr)
	}

	a.logger.Info().
		Str("object_name", objectName).
		Int("cat_count", len(result.Cats)).
		Int64("bytes_written", written).
		Msg("Archived result to GCS")
	return nil
}

// Close is a no-op; the storage client is owned by the caller.
func (a *GCSResultArchiver) Close() error { return nil }

func encodeCats(w io.Writer, cats []catfeed.Item) error {
	gz := gzip.NewWriter(w)
	enc := json.NewEncoder(gz)
	for _, cat := range cats {
		if err := enc.Encode(cat); err != nil {
			return fmt.Errorf("json encoding failed: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("gzip writer close failed: %w", err)
	}
	return nil
}
