package service

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/regrant/internal/oauth/binding"
	"github.com/aussiebroadwan/regrant/internal/oauth/cache"
	"github.com/aussiebroadwan/regrant/internal/oauth/domain"
	"github.com/aussiebroadwan/regrant/internal/oauth/issuer"
	"github.com/aussiebroadwan/regrant/internal/oauth/store/drivers/sqlite"
	"github.com/aussiebroadwan/regrant/pkg/idx"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())

	require.NoError(t, s.Applications().CreateApplication(context.Background(), domain.Application{
		ClientID: "c1",
		Name:     "Test Client",
	}))
	return s
}

func newTestCoordinator() *CacheCoordinator {
	return &CacheCoordinator{
		Enabled:    true,
		ByContext:  cache.NewMemory(cache.Config{DefaultTTL: time.Minute}),
		ByToken:    cache.NewMemory(cache.Config{DefaultTTL: time.Minute}),
		Attributes: cache.NewMemory(cache.Config{DefaultTTL: time.Minute}),
		Timeout:    time.Second,
	}
}

// priorToken builds the canonical prior record: refresh token r1, scopes
// read+write, unbound, one-hour refresh validity.
func priorToken(issuedAt time.Time) domain.TokenRecord {
	return domain.TokenRecord{
		ID:              idx.New().String(),
		TokenID:         uuid.NewString(),
		AccessToken:     "a1-" + uuid.NewString(),
		RefreshToken:    "r1",
		ClientID:        "c1",
		UserID:          "u1",
		UserDomain:      "PRIMARY",
		Scopes:          []string{"read", "write"},
		BindingRef:      domain.BindingRefNone,
		GrantType:       "authorization_code",
		IssuedAt:        issuedAt,
		Validity:        time.Hour,
		RefreshIssuedAt: issuedAt,
		RefreshValidity: 3600000 * time.Millisecond,
		State:           domain.TokenStateActive,
		Consented:       true,
	}
}

func newTestProcessor(t *testing.T, s *sqlite.Store, cfg RotationConfig, coord *CacheCoordinator) *GrantProcessor {
	t.Helper()

	issuers := issuer.NewRegistry(issuer.NewOpaque())
	binders := binding.NewRegistry(binding.NewDevice())

	return &GrantProcessor{
		Validator: &RefreshTokenValidator{Store: s, Binders: binders, Cache: coord},
		Rotation:  &TokenRotationEngine{Store: s, Issuers: issuers, Config: cfg},
		Store:     s,
		Cache:     coord,
		Issuers:   issuers,
	}
}
