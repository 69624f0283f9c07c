package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

// Uploader writes an object's bytes.
type Uploader interface {
	Upload(ctx context.Context, bucket, object, contentType string, data []byte) error
}

// GCSUploader writes objects with a Cloud Storage client.
type GCSUploader struct {
	client *gcs.Client
}

// NewGCSUploader wraps client.
func NewGCSUploader(client *gcs.Client) (*GCSUploader, error) {
	if client == nil {
		return nil, errors.New("storage uploader: client is required")
	}
	return &GCSUploader{client: client}, nil
}

// Upload writes data to bucket/object in a single request.
func (u *GCSUploader) Upload(ctx context.Context, bucket, object, contentType string, data []byte) error {
	w := u.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.ChunkSize = 0
	w.CacheControl = "private, max-age=0"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: close %s: %w", object, err)
	}
	return nil
}

// ExportFile is a rendered export ready for upload.
type ExportFile struct {
	Object      string
	FileName    string
	ContentType string
	Data        []byte
}

// ExportStore uploads rendered exports and returns a signed link to each.
type ExportStore struct {
	uploader Uploader
	signer   *Client
	bucket   string
	ttl      time.Duration
}

// NewExportStore binds uploads and signing to one bucket.
func NewExportStore(uploader Uploader, signer *Client, bucket string, ttl time.Duration) (*ExportStore, error) {
	bucket = strings.TrimSpace(bucket)
	switch {
	case uploader == nil:
		return nil, errors.New("export store: uploader is required")
	case signer == nil:
		return nil, errNoSigner
	case bucket == "":
		return nil, errInvalidBucket
	}
	return &ExportStore{uploader: uploader, signer: signer, bucket: bucket, ttl: ttl}, nil
}

// Put uploads file and signs a download URL that saves under file.FileName.
func (s *ExportStore) Put(ctx context.Context, file ExportFile) (SignedURLResult, error) {
	if err := s.uploader.Upload(ctx, s.bucket, file.Object, file.ContentType, file.Data); err != nil {
		return SignedURLResult{}, err
	}
	disposition := ""
	if file.FileName != "" {
		disposition = fmt.Sprintf("attachment; filename=%q", file.FileName)
	}
	return s.signer.SignedDownloadURL(ctx, s.bucket, file.Object, DownloadOptions{
		ExpiresIn:    s.ttl,
		Disposition:  disposition,
		ResponseType: file.ContentType,
	})
}
