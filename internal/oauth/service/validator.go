package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/regrant/internal/oauth/binding"
	"github.com/aussiebroadwan/regrant/internal/oauth/domain"
	"github.com/aussiebroadwan/regrant/internal/oauth/store"
	"github.com/aussiebroadwan/regrant/pkg/slogx"
)

// DefaultLookbackLimit bounds the latest-token search under high
// rotation churn.
const DefaultLookbackLimit = 10

// RefreshTokenValidator runs the validation pipeline over an incoming
// refresh-token request: lookup, state check, latest-token check, and
// binding validation. Expiry is deliberately left to the rotation
// engine, which uses a fresher clock reading at issuance.
//
// Validation never mutates persisted state. Its only side effect is
// evicting cache entries that still serve a rotated-away token.
type RefreshTokenValidator struct {
	Store   store.Store
	Binders *binding.Registry
	Cache   *CacheCoordinator

	// LookbackLimit caps the latest-token search; 0 uses the default.
	LookbackLimit int
}

func (v *RefreshTokenValidator) lookbackLimit() int {
	if v.LookbackLimit <= 0 {
		return DefaultLookbackLimit
	}
	return v.LookbackLimit
}

// Validate resolves and checks the prior token record for a grant
// request. On success the returned context carries everything rotation
// needs; on failure it is nil and the error names the failed stage.
func (v *RefreshTokenValidator) Validate(ctx context.Context, req GrantRequest) (*ValidationContext, error) {
	l := slogx.FromContext(ctx)

	prior, err := v.lookup(ctx, req)
	if err != nil {
		return nil, err
	}

	if prior.AccessToken == "" {
		// A record without an access-token component was never fully
		// issued; treat it as corrupted and drop any cache entry for it.
		v.Cache.EvictRecord(ctx, prior)
		return nil, ErrPersistedTokenMissing
	}

	if prior.UserID == "" {
		return nil, ErrUserIdentity
	}

	app, err := v.Store.Applications().GetApplicationByClientID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: load application: %v", ErrStoreFailure, err)
	}

	vc := &ValidationContext{
		Request:          req,
		Prior:            prior,
		App:              app,
		UserID:           prior.UserID,
		UserDomain:       prior.UserDomain,
		IdentityProvider: prior.IdentityProvider,
		Scopes:           prior.Scopes,
	}

	if err := v.checkLatest(ctx, vc); err != nil {
		return nil, err
	}

	if err := v.checkBinding(ctx, vc); err != nil {
		l.Info("token binding validation failed",
			slog.String("client_id", req.ClientID),
			slog.String("token_id", prior.TokenID))
		return nil, err
	}

	return vc, nil
}

func (v *RefreshTokenValidator) lookup(ctx context.Context, req GrantRequest) (domain.TokenRecord, error) {
	if rec, ok := v.Cache.LookupToken(ctx, req.RefreshToken); ok && rec.ClientID == req.ClientID {
		return rec, nil
	}

	rec, err := v.Store.Tokens().GetByRefreshToken(ctx, req.ClientID, req.RefreshToken)
	if errors.Is(err, store.ErrNotFound) {
		return domain.TokenRecord{}, ErrTokenNotFound
	}
	if err != nil {
		return domain.TokenRecord{}, fmt.Errorf("%w: lookup refresh token: %v", ErrStoreFailure, err)
	}
	return rec, nil
}

// checkLatest distinguishes a still-usable refresh token from one that
// was already rotated away. ACTIVE records are latest by definition.
// EXPIRED and INACTIVE records must match the newest record in their
// grant context; a token superseded by a later rotation is stale, and
// its lingering cache entries are evicted before rejecting.
func (v *RefreshTokenValidator) checkLatest(ctx context.Context, vc *ValidationContext) error {
	prior := vc.Prior

	switch prior.State {
	case domain.TokenStateActive:
		vc.Latest = prior
		return nil
	case domain.TokenStateExpired, domain.TokenStateInactive:
	default:
		return ErrInvalidTokenState
	}

	recent, err := v.Store.Tokens().GetLatestAccessTokens(ctx,
		prior.ClientID, prior.UserID, prior.UserDomain,
		prior.ScopeString(), prior.BindingRef,
		false, v.lookbackLimit())
	if err != nil {
		return fmt.Errorf("%w: latest-token lookback: %v", ErrStoreFailure, err)
	}

	if len(recent) == 0 {
		// Zero prior records for a context that produced this token is a
		// distinct hard failure, not an ordinary stale token.
		return ErrNoPriorTokens
	}

	for _, rec := range recent {
		if rec.RefreshToken == prior.RefreshToken {
			vc.Latest = rec
			return nil
		}
	}

	v.Cache.EvictRecord(ctx, prior)
	return ErrStaleRefreshToken
}

func (v *RefreshTokenValidator) checkBinding(ctx context.Context, vc *ValidationContext) error {
	prior := vc.Prior
	if !prior.HasBinding() {
		return nil
	}

	bound, err := v.Store.Tokens().GetTokenBinding(ctx, prior.TokenID, prior.BindingRef)
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvalidTokenBinding
	}
	if err != nil {
		return fmt.Errorf("%w: resolve token binding: %v", ErrStoreFailure, err)
	}
	vc.Binding = &bound

	if !vc.App.ValidateBinding {
		return nil
	}

	binder, err := v.Binders.Resolve(vc.App.BindingType)
	if err != nil {
		return ErrUnregisteredBinder
	}
	if !binder.IsValidBinding(vc.Request.Binding, prior.BindingRef) {
		return ErrInvalidTokenBinding
	}
	return nil
}
