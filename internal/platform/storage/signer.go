package storage

import (
	"errors"
	"fmt"
	"os"
	"strings"

	gcs "cloud.google.com/go/storage"
	"golang.org/x/oauth2/google"
)

// URLSigner turns prepared signing options into a signed object URL.
type URLSigner interface {
	SignURL(bucket, object string, opts *gcs.SignedURLOptions) (string, error)
}

// KeySigner signs with a downloaded service account key. It is used locally
// and wherever the export bucket lives in another project.
type KeySigner struct {
	email string
	key   []byte
}

// NewKeySigner parses a service account JSON key.
func NewKeySigner(data []byte) (*KeySigner, error) {
	if len(data) == 0 {
		return nil, errors.New("storage: service account key is empty")
	}
	cfg, err := google.JWTConfigFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("storage: parse service account key: %w", err)
	}
	email := strings.TrimSpace(cfg.Email)
	if email == "" || len(cfg.PrivateKey) == 0 {
		return nil, errors.New("storage: service account key lacks client_email or private_key")
	}
	return &KeySigner{email: email, key: cfg.PrivateKey}, nil
}

// NewKeySignerFromFile reads the JSON key at path.
func NewKeySignerFromFile(path string) (*KeySigner, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read service account key: %w", err)
	}
	return NewKeySigner(contents)
}

// Email is the GoogleAccessID placed on signed URLs.
func (s *KeySigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

func (s *KeySigner) SignURL(bucket, object string, opts *gcs.SignedURLOptions) (string, error) {
	if s == nil || len(s.key) == 0 {
		return "", errNoSigner
	}
	signed := *opts
	signed.GoogleAccessID = s.email
	signed.PrivateKey = s.key
	signed.SignBytes = nil
	return gcs.SignedURL(bucket, object, &signed)
}

// BucketSigner signs with the Cloud Storage client's own credentials. On Cloud
// Run the library resolves the runtime service account and signs through the
// IAM credentials API, so no key material is deployed.
type BucketSigner struct {
	client *gcs.Client
}

// NewBucketSigner wraps client.
func NewBucketSigner(client *gcs.Client) (*BucketSigner, error) {
	if client == nil {
		return nil, errNoSigner
	}
	return &BucketSigner{client: client}, nil
}

func (s *BucketSigner) SignURL(bucket, object string, opts *gcs.SignedURLOptions) (string, error) {
	return s.client.Bucket(bucket).SignedURL(object, opts)
}
