package service

import "errors"

// Validation errors map to invalid_grant (or a more specific OAuth error)
// at the transport layer; infrastructure errors map to server_error.
var (
	// ErrTokenNotFound reports that no record carries the presented
	// refresh-token value for the client.
	ErrTokenNotFound = errors.New("refresh_token_not_found")

	// ErrPersistedTokenMissing reports that a cached record had no
	// corresponding store record. The cache entry is evicted.
	ErrPersistedTokenMissing = errors.New("persisted_token_missing")

	// ErrInvalidTokenState reports a record in a state that can never be
	// refreshed (REVOKED or unrecognised).
	ErrInvalidTokenState = errors.New("invalid_token_state")

	// ErrStaleRefreshToken reports a refresh token that has already been
	// rotated away; retrying cannot succeed.
	ErrStaleRefreshToken = errors.New("stale_refresh_token")

	// ErrNoPriorTokens reports that the lookback found no tokens at all
	// for the grant context.
	ErrNoPriorTokens = errors.New("no_prior_tokens")

	// ErrInvalidTokenBinding reports that the request did not prove
	// possession of the token's binding.
	ErrInvalidTokenBinding = errors.New("invalid_token_binding")

	// ErrUnregisteredBinder reports a token bound with a type no binder is
	// registered for.
	ErrUnregisteredBinder = errors.New("unregistered_token_binder")

	// ErrScopeExceedsGrant reports a requested scope outside the
	// originally granted set.
	ErrScopeExceedsGrant = errors.New("scope_exceeds_grant")

	// ErrRefreshTokenExpired reports a refresh token past (or within the
	// minimum remaining window of) its validity.
	ErrRefreshTokenExpired = errors.New("refresh_token_expired")

	// ErrUserIdentity reports a record whose user identity could not be
	// resolved.
	ErrUserIdentity = errors.New("user_identity_unresolvable")

	ErrIssuerFailure    = errors.New("issuer_failure")
	ErrStoreFailure     = errors.New("store_failure")
	ErrCacheSyncFailure = errors.New("cache_sync_failure")
)

// IsValidationError reports whether err is a client-addressable grant
// validation failure rather than an infrastructure fault.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrTokenNotFound,
		ErrPersistedTokenMissing,
		ErrInvalidTokenState,
		ErrStaleRefreshToken,
		ErrNoPriorTokens,
		ErrInvalidTokenBinding,
		ErrUnregisteredBinder,
		ErrScopeExceedsGrant,
		ErrRefreshTokenExpired,
		ErrUserIdentity,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
