package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	defaultSignedURLExpiry = 15 * time.Minute
	// MaxSignedURLExpiry is the longest lifetime V4 signing allows.
	MaxSignedURLExpiry = 7 * 24 * time.Hour
)

var (
	errNoSigner         = errors.New("storage: signer is required")
	errInvalidBucket    = errors.New("storage: bucket name is required")
	errInvalidObject    = errors.New("storage: object name is required")
	errMethodNotAllowed = errors.New("storage: HTTP method not allowed for download")
	errExpiryTooLong    = errors.New("storage: expiry exceeds permitted maximum")
)

// Client generates V4 signed download URLs for export objects.
type Client struct {
	signer URLSigner
	scheme storage.SigningScheme
	now    func() time.Time
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithClock injects the clock used for expiry calculation.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewClient returns a signing client.
func NewClient(signer URLSigner, opts ...ClientOption) (*Client, error) {
	if signer == nil {
		return nil, errNoSigner
	}
	client := &Client{
		signer: signer,
		scheme: storage.SigningSchemeV4,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// DownloadOptions control a signed download URL.
type DownloadOptions struct {
	Method       string
	ExpiresIn    time.Duration
	Disposition  string
	ResponseType string
}

// SignedURLResult describes a generated signed URL.
type SignedURLResult struct {
	URL       string
	Method    string
	ExpiresAt time.Time
}

// SignedDownloadURL signs a GET (or HEAD) URL for object.
func (c *Client) SignedDownloadURL(ctx context.Context, bucket, object string, opts DownloadOptions) (SignedURLResult, error) {
	if c == nil {
		return SignedURLResult{}, errNoSigner
	}
	if err := ctx.Err(); err != nil {
		return SignedURLResult{}, err
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return SignedURLResult{}, errInvalidBucket
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return SignedURLResult{}, errInvalidObject
	}

	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = "GET"
	}
	if method != "GET" && method != "HEAD" {
		return SignedURLResult{}, errMethodNotAllowed
	}

	expiry := opts.ExpiresIn
	if expiry <= 0 {
		expiry = defaultSignedURLExpiry
	}
	if expiry > MaxSignedURLExpiry {
		return SignedURLResult{}, errExpiryTooLong
	}
	expiresAt := c.now().Add(expiry)

	urlOpts := storage.SignedURLOptions{
		Scheme:  c.scheme,
		Method:  method,
		Expires: expiresAt,
	}
	query := url.Values{}
	if opts.Disposition != "" {
		query.Set("response-content-disposition", opts.Disposition)
	}
	if opts.ResponseType != "" {
		query.Set("response-content-type", opts.ResponseType)
	}
	if len(query) > 0 {
		urlOpts.QueryParameters = query
	}

	signed, err := c.signer.SignURL(bucket, object, &urlOpts)
	if err != nil {
		return SignedURLResult{}, fmt.Errorf("storage: sign download url: %w", err)
	}
	return SignedURLResult{URL: signed, Method: method, ExpiresAt: expiresAt}, nil
}
