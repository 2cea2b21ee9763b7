package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/regrant/internal/oauth/domain"
	"github.com/aussiebroadwan/regrant/internal/oauth/issuer"
	"github.com/aussiebroadwan/regrant/internal/oauth/store"
	"github.com/aussiebroadwan/regrant/pkg/idx"
	"github.com/aussiebroadwan/regrant/pkg/slogx"
)

// processStage names the sequential stages of one grant request, used
// for structured logging and failure attribution.
type processStage string

const (
	stageReceived   processStage = "received"
	stageValidated  processStage = "validated"
	stageRotated    processStage = "rotated"
	stagePersisted  processStage = "persisted"
	stageCacheSync  processStage = "cache_synced"
	stageResponded  processStage = "responded"
	stageErrored    processStage = "errored"
)

// GrantProcessor sequences one refresh-token grant: validation, rotation,
// the atomic persistence commit, best-effort cache sync, and the response
// payload. It holds no per-request state; concurrency correctness rests
// on the store's invalidate-and-create.
type GrantProcessor struct {
	Validator *RefreshTokenValidator
	Rotation  *TokenRotationEngine
	Store     store.Store
	Cache     *CacheCoordinator
	Issuers   *issuer.Registry

	// StoreTimeout bounds the persistence commit; 0 uses a default.
	StoreTimeout time.Duration
}

func (p *GrantProcessor) storeTimeout() time.Duration {
	if p.StoreTimeout <= 0 {
		return 10 * time.Second
	}
	return p.StoreTimeout
}

// Process runs a grant request end to end. Failures before the
// persistence commit leave no trace; after the commit, cache-sync
// problems degrade to a logged warning on an otherwise successful
// response.
func (p *GrantProcessor) Process(ctx context.Context, req GrantRequest) (domain.GrantedToken, error) {
	l := slogx.FromContext(ctx).With(slog.String("client_id", req.ClientID))
	l.Debug("refresh grant received", slog.String("stage", string(stageReceived)))

	vc, err := p.Validator.Validate(ctx, req)
	if err != nil {
		return p.fail(l, stageReceived, err)
	}
	l.Debug("refresh grant validated",
		slog.String("stage", string(stageValidated)),
		slog.String("token_id", vc.Prior.TokenID))

	renewed, err := p.Rotation.Rotate(ctx, vc)
	if err != nil {
		return p.fail(l, stageValidated, err)
	}
	l.Debug("refresh grant rotated", slog.String("stage", string(stageRotated)))

	if err := p.persist(ctx, vc, renewed); err != nil {
		return p.fail(l, stageRotated, err)
	}
	l.Info("refresh token rotated",
		slog.String("stage", string(stagePersisted)),
		slog.String("old_token_id", vc.Prior.TokenID),
		slog.String("new_token_id", renewed.TokenID))

	iss, issErr := p.Issuers.Resolve(vc.App.IssuerType)
	if issErr != nil {
		iss = nil
	}
	if err := p.Cache.SyncRotation(ctx, iss, vc.Prior, renewed); err != nil {
		// Cache is advisory; the commit already happened.
		l.Warn("cache sync failed after rotation",
			slog.String("stage", string(stageCacheSync)),
			slog.String("error", err.Error()))
	}

	l.Debug("refresh grant responded", slog.String("stage", string(stageResponded)))
	return buildResponse(vc, renewed), nil
}

func (p *GrantProcessor) persist(ctx context.Context, vc *ValidationContext, renewed domain.TokenRecord) error {
	pctx, cancel := context.WithTimeout(ctx, p.storeTimeout())
	defer cancel()

	err := p.Store.Tokens().InvalidateAndCreate(pctx,
		vc.Prior.TokenID, domain.TokenStateInactive,
		vc.Prior.ClientID, idx.New().String(),
		renewed, vc.UserDomain, domain.GrantTypeRefreshToken)
	if err == nil {
		return nil
	}

	if errors.Is(err, store.ErrConflict) {
		// A concurrent rotation committed first. Heal the cache so the
		// rotated-away pair stops being served, then reject as stale.
		p.Cache.EvictRecord(context.WithoutCancel(ctx), vc.Prior)
		return ErrStaleRefreshToken
	}

	return fmt.Errorf("%w: invalidate and create: %v", ErrStoreFailure, err)
}

func buildResponse(vc *ValidationContext, renewed domain.TokenRecord) domain.GrantedToken {
	expiresIn := domain.NeverExpires
	expiresInMillis := domain.NeverExpires
	if renewed.Validity > 0 {
		expiresInMillis = renewed.Validity.Milliseconds()
		expiresIn = expiresInMillis / 1000
	}

	return domain.GrantedToken{
		AccessToken:     renewed.AccessToken,
		RefreshToken:    renewed.RefreshToken,
		TokenID:         renewed.TokenID,
		TokenType:       "Bearer",
		Scope:           renewed.ScopeString(),
		ExpiresIn:       expiresIn,
		ExpiresInMillis: expiresInMillis,
		Consented:       renewed.Consented,
		Headers: []domain.ResponseHeader{
			{Key: domain.HeaderDeactivatedAccessToken, Value: vc.Prior.AccessToken},
		},
	}
}

func (p *GrantProcessor) fail(l *slog.Logger, from processStage, err error) (domain.GrantedToken, error) {
	level := slog.LevelWarn
	if !IsValidationError(err) {
		level = slog.LevelError
	}
	l.Log(context.Background(), level, "refresh grant failed",
		slog.String("stage", string(stageErrored)),
		slog.String("failed_after", string(from)),
		slog.String("error", err.Error()))
	return domain.GrantedToken{}, err
}
