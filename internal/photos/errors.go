package photos

import "errors"

var (
	// ErrIdentityNotFound means no credential exists for the identity.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrCredentialRenewalFailed means the provider rejected the refresh
	// token. Terminal: the identity must re-authenticate out of band.
	ErrCredentialRenewalFailed = errors.New("credential renewal failed")

	// ErrAlbumNotFound is the normal negative outcome of album resolution,
	// returned only after both owned and shared listings are exhausted.
	ErrAlbumNotFound = errors.New("album not found")

	// ErrProviderUnavailable covers transient provider failures and
	// malformed provider responses.
	ErrProviderUnavailable = errors.New("provider unavailable")
)
