package photos

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/manankhh/facesort/internal/config"
	"github.com/manankhh/facesort/internal/models"
	"github.com/manankhh/facesort/internal/observability"
)

// expirySkew guards against clock drift between us and the provider.
const expirySkew = 30 * time.Second

// CredentialStore persists delegated-access credentials per identity.
// GetCredential returns (nil, nil) when no credential exists.
type CredentialStore interface {
	GetCredential(ctx context.Context, identity string) (*models.Credential, error)
	UpsertCredential(ctx context.Context, cred *models.Credential) error
}

// Sessions hands out authorized HTTP clients for identities and owns
// credential renewal. Renewal is not idempotent against the provider,
// so at most one renewal is in flight per identity; concurrent callers
// share the outcome of that single attempt.
type Sessions struct {
	store   CredentialStore
	conf    *oauth2.Config
	group   singleflight.Group
	timeout time.Duration
}

func NewSessions(store CredentialStore, cfg config.ProviderConfig) *Sessions {
	return &Sessions{
		store: store,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		},
		timeout: cfg.CallTimeout,
	}
}

// Client returns an HTTP client that attaches the identity's current
// access token to outbound calls, renewing it transparently when the
// stored expiry has passed. Fails with ErrIdentityNotFound when no
// credential exists for the identity.
func (s *Sessions) Client(ctx context.Context, identity string) (*http.Client, error) {
	cred, err := s.store.GetCredential(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, identity)
	}

	return &http.Client{
		Transport: &oauth2.Transport{
			Source: &identitySource{sessions: s, identity: identity, ctx: ctx},
		},
		Timeout: s.timeout,
	}, nil
}

// identitySource is an oauth2.TokenSource backed by the credential store.
// It re-reads the stored credential on every call so separate clients for
// the same identity observe each other's renewals.
type identitySource struct {
	sessions *Sessions
	identity string
	ctx      context.Context
}

func (ts *identitySource) Token() (*oauth2.Token, error) {
	s := ts.sessions

	cred, err := s.store.GetCredential(ts.ctx, ts.identity)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, ts.identity)
	}

	if cred.Valid(time.Now(), expirySkew) {
		return credToken(cred), nil
	}

	return s.renew(ts.ctx, ts.identity)
}

// renew performs at most one renewal for the identity, serialized across
// all callers. The renewed credential is persisted before any caller
// proceeds with its original request.
func (s *Sessions) renew(ctx context.Context, identity string) (*oauth2.Token, error) {
	v, err, _ := s.group.Do(identity, func() (interface{}, error) {
		return s.renewOnce(ctx, identity, "")
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

// ForceRenew renews the identity's credential after an authenticated call
// failed with an auth error despite a valid-looking stored token (unknown
// expiry). staleToken is the access token that was rejected; if the store
// already holds a different token, a concurrent renewal won and no second
// provider call is issued.
func (s *Sessions) ForceRenew(ctx context.Context, identity, staleToken string) error {
	_, err, _ := s.group.Do(identity, func() (interface{}, error) {
		return s.renewOnce(ctx, identity, staleToken)
	})
	return err
}

// renewOnce runs inside the per-identity singleflight. When staleToken is
// empty the stored credential short-circuits if still valid; otherwise the
// short-circuit is "stored token differs from the rejected one".
func (s *Sessions) renewOnce(ctx context.Context, identity, staleToken string) (*oauth2.Token, error) {
	cred, err := s.store.GetCredential(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, identity)
	}

	if staleToken == "" {
		if cred.Valid(time.Now(), expirySkew) {
			return credToken(cred), nil
		}
	} else if cred.AccessToken != staleToken {
		return credToken(cred), nil
	}

	if cred.RefreshToken == "" {
		observability.CredentialRenewals.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: no refresh token stored for %s", ErrCredentialRenewalFailed, identity)
	}

	// Exactly one renewal attempt; the refresh token must not be replayed.
	tok, err := s.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			observability.CredentialRenewals.WithLabelValues("rejected").Inc()
			return nil, fmt.Errorf("%w: %v", ErrCredentialRenewalFailed, err)
		}
		observability.CredentialRenewals.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("%w: token renewal: %v", ErrProviderUnavailable, err)
	}

	// Providers may not resend the refresh token; keep the one we have.
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = cred.RefreshToken
	}

	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry
		expiry = &e
	}

	renewed := &models.Credential{
		Identity:     identity,
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		TokenExpiry:  expiry,
	}
	if err := s.store.UpsertCredential(ctx, renewed); err != nil {
		return nil, fmt.Errorf("persist renewed credential: %w", err)
	}

	observability.CredentialRenewals.WithLabelValues("renewed").Inc()
	return credToken(renewed), nil
}

// AccessToken returns the identity's currently stored access token.
func (s *Sessions) AccessToken(ctx context.Context, identity string) (string, error) {
	cred, err := s.store.GetCredential(ctx, identity)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return "", fmt.Errorf("%w: %s", ErrIdentityNotFound, identity)
	}
	return cred.AccessToken, nil
}

func credToken(cred *models.Credential) *oauth2.Token {
	tok := &oauth2.Token{AccessToken: cred.AccessToken}
	if cred.TokenExpiry != nil {
		tok.Expiry = *cred.TokenExpiry
	}
	return tok
}
