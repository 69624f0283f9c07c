package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
	latestVersion       = "latest"
	meterName           = "github.com/kidsdream/api/internal/platform/secrets"
)

// ErrInvalidReference is returned for references that are not secret:// or sm:// URIs.
var ErrInvalidReference = errors.New("secrets: invalid reference")

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves Stripe keys and other credentials referenced from configuration.
// Values come from Secret Manager when a client is available and from a local
// KEY=VALUE file otherwise.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	projectID  string
	logger     *zap.Logger
	ttl        time.Duration
	now        func() time.Time

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	mu    sync.Mutex
	cache map[string]cachedSecret

	lookups metric.Int64Counter
	latency metric.Float64Histogram
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

type fetcherConfig struct {
	logger       *zap.Logger
	projectID    string
	fallbackPath string
	ttl          time.Duration
	meter        metric.Meter
	client       secretManagerClient
	clientOpts   []option.ClientOption
	clock        func() time.Time
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) { cfg.logger = logger }
}

// WithDefaultProject sets the project used for short references such as secret://stripe_api_key.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) { cfg.projectID = strings.TrimSpace(projectID) }
}

// WithFallbackFile overrides the local fallback file path.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) { cfg.fallbackPath = strings.TrimSpace(path) }
}

// WithCacheTTL controls how long resolved values are reused. Zero disables expiry.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *fetcherConfig) { cfg.ttl = ttl }
}

func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) { cfg.meter = m }
}

func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) { cfg.client = client }
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

func WithClock(clock func() time.Time) Option {
	return func(cfg *fetcherConfig) { cfg.clock = clock }
}

// NewFetcher builds a Fetcher. A missing Secret Manager client is not fatal: the
// fetcher then serves only from the fallback file.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		projectID:    strings.TrimSpace(os.Getenv("KD_FIREBASE_PROJECT_ID")),
		fallbackPath: defaultFallbackPath,
		ttl:          defaultCacheTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.clock == nil {
		cfg.clock = time.Now
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		client:       cfg.client,
		projectID:    cfg.projectID,
		logger:       cfg.logger.Named("secrets"),
		ttl:          cfg.ttl,
		now:          cfg.clock,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]cachedSecret),
	}

	if f.client == nil {
		client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
		if err != nil {
			f.logger.Warn("secret manager unavailable; using fallback file only",
				zap.String("fallbackPath", f.fallbackPath), zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}

	var err error
	if f.lookups, err = cfg.meter.Int64Counter("kidsdream.secrets.lookups",
		metric.WithDescription("Secret lookups by source")); err != nil {
		f.logger.Debug("secret lookup counter disabled", zap.Error(err))
	}
	if f.latency, err = cfg.meter.Float64Histogram("kidsdream.secrets.fetch.latency",
		metric.WithDescription("Secret Manager access latency"), metric.WithUnit("ms")); err != nil {
		f.logger.Debug("secret latency histogram disabled", zap.Error(err))
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f == nil || f.client == nil || !f.ownsClient {
		return nil
	}
	return f.client.Close()
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the plaintext for ref. Remote failures caused by missing
// credentials or an unreachable service fall back to the local file; NotFound does not.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	if f == nil {
		return "", errors.New("secrets: fetcher is nil")
	}
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	if parsed.project == "" {
		parsed.project = f.projectID
	}

	key := parsed.canonical()
	if value, ok := f.cached(key); ok {
		f.count(ctx, "cache")
		return value, nil
	}

	if f.client != nil && parsed.project != "" {
		value, err := f.fetchRemote(ctx, parsed)
		if err == nil {
			f.store(key, value)
			f.count(ctx, "remote")
			return value, nil
		}
		if !isFallbackError(err) {
			return "", fmt.Errorf("secrets: access %s: %w", maskReference(key), err)
		}
		f.logger.Warn("secret manager lookup failed; trying fallback",
			zap.String("secret", maskReference(key)), zap.Error(err))
	}

	value, ok, err := f.lookupFallback(parsed)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("secrets: %s not found", maskReference(key))
	}
	f.store(key, value)
	f.count(ctx, "fallback")
	return value, nil
}

// Invalidate drops the cached value for ref so the next Resolve refetches it.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := parseReference(ref)
	if err != nil {
		return
	}
	if parsed.project == "" {
		parsed.project = f.projectID
	}
	f.mu.Lock()
	delete(f.cache, parsed.canonical())
	f.mu.Unlock()
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache[key]
	if !ok {
		return "", false
	}
	if !entry.expiresAt.IsZero() && !f.now().Before(entry.expiresAt) {
		delete(f.cache, key)
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) store(key, value string) {
	entry := cachedSecret{value: value}
	if f.ttl > 0 {
		entry.expiresAt = f.now().Add(f.ttl)
	}
	f.mu.Lock()
	f.cache[key] = entry
	f.mu.Unlock()
}

func (f *Fetcher) fetchRemote(ctx context.Context, ref reference) (string, error) {
	start := f.now()
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: ref.resourceName(),
	})
	if f.latency != nil {
		outcome := "ok"
		if err != nil {
			outcome = status.Code(err).String()
		}
		f.latency.Record(ctx, float64(f.now().Sub(start).Milliseconds()),
			metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if err != nil {
		return "", err
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) lookupFallback(ref reference) (string, bool, error) {
	f.fallbackOnce.Do(func() {
		f.fallback, f.fallbackErr = readFallbackFile(f.fallbackPath)
	})
	if f.fallbackErr != nil {
		return "", false, f.fallbackErr
	}
	for _, key := range ref.fallbackKeys() {
		if value, ok := f.fallback[key]; ok {
			return value, true, nil
		}
	}
	return "", false, nil
}

func (f *Fetcher) count(ctx context.Context, source string) {
	if f.lookups == nil {
		return
	}
	f.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// readFallbackFile parses lines of the form `secret://name=value`. Blank lines and
// # comments are ignored; a missing file yields an empty set.
func readFallbackFile(path string) (map[string]string, error) {
	values := make(map[string]string)
	if path == "" {
		return values, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}
		return nil, fmt.Errorf("secrets: open fallback file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("secrets: fallback file line %d: expected key=value", lineNo)
		}
		key = normalizeScheme(strings.TrimSpace(key))
		values[key] = strings.Trim(strings.TrimSpace(value), `"`)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("secrets: read fallback file: %w", err)
	}
	return values, nil
}

type reference struct {
	project string
	name    string
	version string
}

// parseReference accepts secret://name, secret://name#version,
// secret://projects/p/secrets/name[/versions/v] and the sm:// spelling of each.
func parseReference(raw string) (reference, error) {
	trimmed := normalizeScheme(strings.TrimSpace(raw))
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme != "secret" {
		return reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, raw)
	}
	path := strings.Trim(u.Host+u.Path, "/")
	ref := reference{version: strings.TrimSpace(u.Fragment)}

	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		ref.name = parts[0]
	case (len(parts) == 4 || len(parts) == 6) && parts[0] == "projects" && parts[2] == "secrets":
		ref.project = parts[1]
		ref.name = parts[3]
		if len(parts) == 6 {
			if parts[4] != "versions" {
				return reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, raw)
			}
			ref.version = parts[5]
		}
	default:
		return reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, raw)
	}
	if ref.name == "" {
		return reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, raw)
	}
	if ref.version == "" {
		ref.version = latestVersion
	}
	return ref, nil
}

func (r reference) resourceName() string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", r.project, r.name, r.version)
}

func (r reference) canonical() string {
	return r.project + "/" + r.name + "#" + r.version
}

func (r reference) fallbackKeys() []string {
	keys := make([]string, 0, 2)
	if r.version != latestVersion {
		keys = append(keys, "secret://"+r.name+"#"+r.version)
	}
	return append(keys, "secret://"+r.name)
}

func normalizeScheme(value string) string {
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest
	}
	return value
}

func maskReference(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:8])
}

func isFallbackError(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
