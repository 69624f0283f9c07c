package auth

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/kidsdream/api/internal/platform/config"
)

// TierClaim is the custom claim mirroring the account's subscription tier.
// Clients read it to unlock premium screens without an extra round trip; the
// server always trusts the stored subscription instead.
const TierClaim = "kd_tier"

// ErrUnknownUser is returned when a claim update targets a deleted account.
var ErrUnknownUser = errors.New("auth: firebase user not found")

// firebaseClient is the part of the Admin SDK auth client the service uses.
type firebaseClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
	SetCustomUserClaims(ctx context.Context, uid string, claims map[string]interface{}) error
}

// Firebase verifies parents' ID tokens and keeps their tier claim current.
type Firebase struct {
	client  firebaseClient
	timeout time.Duration
}

// FirebaseOption customises Firebase.
type FirebaseOption func(*Firebase)

// WithFirebaseTimeout bounds each Admin SDK call.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(f *Firebase) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// NewFirebase initialises the Admin SDK for cfg.ProjectID.
func NewFirebase(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*Firebase, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}
	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}
	return newFirebase(client, opts...), nil
}

func newFirebase(client firebaseClient, opts ...FirebaseOption) *Firebase {
	f := &Firebase{client: client, timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// VerifyIDToken checks a bearer token against Firebase.
func (f *Firebase) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if f == nil || f.client == nil {
		return nil, errors.New("firebase client not initialised")
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.client.VerifyIDToken(ctx, idToken)
}

// SetTierClaim writes tier into the user's custom claims, keeping any other
// claims. It is a no-op when the claim already matches.
func (f *Firebase) SetTierClaim(ctx context.Context, uid, tier string) error {
	if f == nil || f.client == nil {
		return errors.New("firebase client not initialised")
	}
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return errors.New("firebase: uid is required")
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	user, err := f.client.GetUser(ctx, uid)
	if err != nil {
		if firebaseauth.IsUserNotFound(err) {
			return fmt.Errorf("%w: %s", ErrUnknownUser, uid)
		}
		return fmt.Errorf("firebase: load user: %w", err)
	}
	if current, _ := user.CustomClaims[TierClaim].(string); current == tier {
		return nil
	}
	claims := make(map[string]interface{}, len(user.CustomClaims)+1)
	maps.Copy(claims, user.CustomClaims)
	claims[TierClaim] = tier
	if err := f.client.SetCustomUserClaims(ctx, uid, claims); err != nil {
		return fmt.Errorf("firebase: set tier claim: %w", err)
	}
	return nil
}
