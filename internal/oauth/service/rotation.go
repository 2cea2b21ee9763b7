package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/regrant/internal/oauth/domain"
	"github.com/aussiebroadwan/regrant/internal/oauth/issuer"
	"github.com/aussiebroadwan/regrant/internal/oauth/store"
	"github.com/aussiebroadwan/regrant/pkg/idx"
	"github.com/google/uuid"
)

// DefaultMinRemainingValidity is the safety margin under which a refresh
// token counts as expired at issuance time.
const DefaultMinRemainingValidity = 1000 * time.Millisecond

// RotationConfig holds the global token policy defaults. Per-application
// overrides from the store and per-request overrides on the validation
// context take precedence.
type RotationConfig struct {
	AccessTokenValidity  time.Duration // 0 = never expires
	RefreshTokenValidity time.Duration // <= 0 = never expires
	RenewRefreshToken    bool
	ExtendRenewedExpiry  bool
	MinRemainingValidity time.Duration // 0 uses the default
}

// TokenRotationEngine computes the replacement token record for a
// validated grant: negotiated scopes, fresh token values, validity
// windows, and the propagated consent flag. It performs no writes; the
// caller commits the result through the store's invalidate-and-create.
type TokenRotationEngine struct {
	Store   store.Store
	Issuers *issuer.Registry
	Config  RotationConfig

	// Now is the clock, overridable in tests. Nil means time.Now.
	Now func() time.Time
}

func (e *TokenRotationEngine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *TokenRotationEngine) minRemaining() time.Duration {
	if e.Config.MinRemainingValidity > 0 {
		return e.Config.MinRemainingValidity
	}
	return DefaultMinRemainingValidity
}

// Rotate produces the new ACTIVE token record superseding vc.Prior.
func (e *TokenRotationEngine) Rotate(ctx context.Context, vc *ValidationContext) (domain.TokenRecord, error) {
	now := e.now()
	prior := vc.Prior

	scopes, err := negotiateScopes(vc.Request.Scopes, prior.Scopes, prior.InternalScopes)
	if err != nil {
		return domain.TokenRecord{}, err
	}

	// Expiry is gated here rather than in validation so the freshest
	// clock reading decides the boundary case.
	if remaining, never := refreshRemaining(prior, now); !never && remaining < e.minRemaining() {
		return domain.TokenRecord{}, ErrRefreshTokenExpired
	}

	consented, err := e.resolveConsent(ctx, prior)
	if err != nil {
		return domain.TokenRecord{}, err
	}

	iss, err := e.Issuers.Resolve(vc.App.IssuerType)
	if err != nil {
		return domain.TokenRecord{}, fmt.Errorf("%w: %v", ErrIssuerFailure, err)
	}

	tc := issuer.Context{
		ClientID:  prior.ClientID,
		UserID:    vc.UserID,
		Scopes:    scopes,
		GrantType: domain.GrantTypeRefreshToken,
		Validity:  e.accessValidity(vc),
	}

	accessToken, err := iss.NewAccessToken(tc)
	if err != nil || accessToken == "" {
		return domain.TokenRecord{}, fmt.Errorf("%w: access token: %v", ErrIssuerFailure, err)
	}

	renewed := domain.TokenRecord{
		ID:               idx.New().String(),
		TokenID:          uuid.NewString(),
		AccessToken:      accessToken,
		RefreshToken:     prior.RefreshToken,
		ClientID:         prior.ClientID,
		UserID:           vc.UserID,
		UserDomain:       vc.UserDomain,
		IdentityProvider: vc.IdentityProvider,
		Scopes:           scopes,
		InternalScopes:   prior.InternalScopes,
		BindingRef:       prior.BindingRef,
		GrantType:        domain.GrantTypeRefreshToken,
		IssuedAt:         now,
		Validity:         tc.Validity,
		RefreshIssuedAt:  prior.RefreshIssuedAt,
		RefreshValidity:  prior.RefreshValidity,
		State:            domain.TokenStateActive,
		Consented:        consented,
	}

	if e.renewEnabled(vc.App) {
		refreshToken, err := iss.NewRefreshToken(tc)
		if err != nil || refreshToken == "" {
			return domain.TokenRecord{}, fmt.Errorf("%w: refresh token: %v", ErrIssuerFailure, err)
		}
		renewed.RefreshToken = refreshToken

		// The expiry clock only restarts when extension is enabled;
		// otherwise rotation resets the token string but not its window.
		if e.Config.ExtendRenewedExpiry {
			renewed.RefreshIssuedAt = now
			renewed.RefreshValidity = e.refreshValidity(vc)
		}
	}

	return renewed, nil
}

// negotiateScopes checks a requested scope set against the union of the
// previously granted external and internal scopes. An omitted request
// defaults to the full granted set.
func negotiateScopes(requested, granted, internal []string) ([]string, error) {
	if len(requested) == 0 {
		return granted, nil
	}

	allowed := make(map[string]struct{}, len(granted)+len(internal))
	for _, s := range granted {
		allowed[s] = struct{}{}
	}
	for _, s := range internal {
		allowed[s] = struct{}{}
	}

	for _, s := range requested {
		if _, ok := allowed[s]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrScopeExceedsGrant, s)
		}
	}
	return requested, nil
}

// refreshRemaining reports the remaining refresh validity window, or
// never=true for non-expiring tokens.
func refreshRemaining(t domain.TokenRecord, now time.Time) (remaining time.Duration, never bool) {
	if t.RefreshValidity < 0 {
		return 0, true
	}
	return t.RefreshIssuedAt.Add(t.RefreshValidity).Sub(now), false
}

// resolveConsent propagates the consent flag onto the new record. A
// prior record minted by this same grant carries the flag forward from
// the original consent decision; the durable record is preferred over
// whatever projection validation worked from. For any other grant type
// the flag follows whether that grant implies resource-owner consent.
func (e *TokenRotationEngine) resolveConsent(ctx context.Context, prior domain.TokenRecord) (bool, error) {
	if prior.GrantType != domain.GrantTypeRefreshToken {
		return grantImpliesConsent(prior.GrantType), nil
	}

	original, err := e.Store.Tokens().GetByAccessToken(ctx, prior.AccessToken)
	if errors.Is(err, store.ErrNotFound) {
		return prior.Consented, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: resolve consent: %v", ErrStoreFailure, err)
	}
	return original.Consented, nil
}

func grantImpliesConsent(grantType string) bool {
	switch grantType {
	case "authorization_code", "implicit", "urn:ietf:params:oauth:grant-type:device_code":
		return true
	default:
		return false
	}
}

func (e *TokenRotationEngine) renewEnabled(app domain.Application) bool {
	if app.RenewRefreshToken != nil {
		return *app.RenewRefreshToken
	}
	return e.Config.RenewRefreshToken
}

// accessValidity resolves with override precedence: request context,
// then application, then global default. Zero everywhere means the
// token never expires.
func (e *TokenRotationEngine) accessValidity(vc *ValidationContext) time.Duration {
	if vc.AccessValidityOverride > 0 {
		return vc.AccessValidityOverride
	}
	if vc.App.AccessTokenValidity > 0 {
		return vc.App.AccessTokenValidity
	}
	return e.Config.AccessTokenValidity
}

func (e *TokenRotationEngine) refreshValidity(vc *ValidationContext) time.Duration {
	if vc.RefreshValidityOverride > 0 {
		return vc.RefreshValidityOverride
	}
	if vc.App.RefreshTokenValidity > 0 {
		return vc.App.RefreshTokenValidity
	}
	return e.Config.RefreshTokenValidity
}
