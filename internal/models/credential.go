package models

import "time"

// Credential is the delegated-access token pair for one identity.
// At most one live credential exists per identity; the refresh token,
// once observed, is retained even when a later renewal omits it.
type Credential struct {
	Identity     string     `json:"identity" db:"identity"`
	AccessToken  string     `json:"-" db:"access_token"`
	RefreshToken string     `json:"-" db:"refresh_token"`
	// TokenExpiry is nil when the provider did not report an expiry.
	// An unknown expiry means "assume valid until a call fails".
	TokenExpiry *time.Time `json:"token_expiry,omitempty" db:"token_expiry"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Valid reports whether the access token can still be attached to calls.
// skew guards against clock drift between us and the provider.
func (c *Credential) Valid(now time.Time, skew time.Duration) bool {
	if c.AccessToken == "" {
		return false
	}
	if c.TokenExpiry == nil {
		return true
	}
	return now.Add(skew).Before(*c.TokenExpiry)
}
