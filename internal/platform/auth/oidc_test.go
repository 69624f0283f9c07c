package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

func TestJWKSCache_KeyCachesKeys(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "key1", Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig"}

	var mu sync.Mutex
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(server.Close)

	cache := NewJWKSCache(server.URL, WithJWKSClock(func() time.Time { return time.Unix(1_000_000, 0) }))

	ctx := context.Background()
	got, err := cache.Key(ctx, "key1")
	if err != nil {
		t.Fatalf("cache.Key: %v", err)
	}
	if _, ok := got.(*rsa.PublicKey); !ok {
		t.Fatalf("expected *rsa.PublicKey, got %T", got)
	}
	if _, err := cache.Key(ctx, "key1"); err != nil {
		t.Fatalf("cache.Key second call: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if requests != 1 {
		t.Fatalf("expected single JWKS fetch, got %d", requests)
	}
}

func TestMaxAge(t *testing.T) {
	if got := maxAge("public, max-age=120, must-revalidate"); got != 2*time.Minute {
		t.Fatalf("unexpected max-age %s", got)
	}
	if got := maxAge("no-store"); got != 0 {
		t.Fatalf("expected zero, got %s", got)
	}
}

func TestRequireOIDC_Success(t *testing.T) {
	validator, token := setupOIDCTest(t, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/reset-quotas", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	validator.RequireOIDC("https://api.kidsdream.test", []string{"https://accounts.google.com"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := ServiceIdentityFromContext(r.Context())
			if !ok {
				t.Fatalf("expected service identity in context")
			}
			if identity.Email != "scheduler@kidsdream.iam.gserviceaccount.com" {
				t.Fatalf("unexpected email %s", identity.Email)
			}
			w.WriteHeader(http.StatusNoContent)
		}),
	).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
}

func TestRequireOIDC_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(jwt.MapClaims)
		audience string
		want     int
	}{
		{name: "audience mismatch", audience: "https://other.test", want: http.StatusUnauthorized},
		{name: "issuer mismatch", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil.test" }, audience: "https://api.kidsdream.test", want: http.StatusUnauthorized},
		{name: "expired", mutate: func(c jwt.MapClaims) { c["exp"] = float64(time.Unix(1_600_000_000, 0).Unix()) }, audience: "https://api.kidsdream.test", want: http.StatusUnauthorized},
		{name: "audience not configured", audience: "", want: http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			validator, token := setupOIDCTest(t, tc.mutate)
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/reset-quotas", nil)
			req.Header.Set("Authorization", "Bearer "+token)

			validator.RequireOIDC(tc.audience, []string{"https://accounts.google.com"})(
				http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
					t.Fatalf("handler should not be called")
				}),
			).ServeHTTP(rr, req)

			if rr.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestRequireOIDC_JWKSUnavailable(t *testing.T) {
	validator, token := setupOIDCTest(t, nil)
	validator.cache.url = "http://127.0.0.1:1/unreachable"

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/reset-quotas", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	validator.RequireOIDC("https://api.kidsdream.test", nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func setupOIDCTest(t *testing.T, mutateClaims func(jwt.MapClaims)) (*OIDCValidator, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "svc-key", Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig"}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "max-age=600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(server.Close)

	now := time.Unix(1_700_000_000, 0)
	originalTimeFunc := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return now }
	t.Cleanup(func() { jwt.TimeFunc = originalTimeFunc })

	validator := NewOIDCValidator(NewJWKSCache(server.URL, WithJWKSClock(func() time.Time { return now })), nil)

	claims := jwt.MapClaims{
		"aud":   "https://api.kidsdream.test",
		"iss":   "https://accounts.google.com",
		"sub":   "1234567890",
		"email": "scheduler@kidsdream.iam.gserviceaccount.com",
		"exp":   float64(now.Add(time.Hour).Unix()),
		"iat":   float64(now.Unix()),
	}
	if mutateClaims != nil {
		mutateClaims(claims)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "svc-key"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return validator, signed
}
