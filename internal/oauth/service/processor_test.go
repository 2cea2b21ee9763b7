package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/regrant/internal/oauth/cache"
	"github.com/aussiebroadwan/regrant/internal/oauth/domain"
	"github.com/stretchr/testify/require"
)

func TestProcessEndToEnd(t *testing.T) {
	s := newTestStore(t)
	coord := newTestCoordinator()
	p := newTestProcessor(t, s, RotationConfig{
		AccessTokenValidity: time.Hour,
		RenewRefreshToken:   false,
	}, coord)
	ctx := context.Background()

	issued := time.Now().Add(-10 * time.Second)
	prior := priorToken(issued)
	require.NoError(t, s.Tokens().CreateToken(ctx, prior))

	granted, err := p.Process(ctx, GrantRequest{ClientID: "c1", RefreshToken: "r1"})
	require.NoError(t, err)

	t.Run("response payload", func(t *testing.T) {
		require.NotEmpty(t, granted.AccessToken)
		require.NotEqual(t, prior.AccessToken, granted.AccessToken)
		require.Equal(t, "r1", granted.RefreshToken) // renewal disabled
		require.Equal(t, "read write", granted.Scope)
		require.Equal(t, "Bearer", granted.TokenType)
		require.Equal(t, int64(3600), granted.ExpiresIn)
		require.Equal(t, int64(3600000), granted.ExpiresInMillis)
		require.Len(t, granted.Headers, 1)
		require.Equal(t, domain.HeaderDeactivatedAccessToken, granted.Headers[0].Key)
		require.Equal(t, prior.AccessToken, granted.Headers[0].Value)
	})

	t.Run("prior record transitioned, new record active", func(t *testing.T) {
		rec, err := s.Tokens().GetByAccessToken(ctx, prior.AccessToken)
		require.NoError(t, err)
		require.Equal(t, domain.TokenStateInactive, rec.State)

		rec, err = s.Tokens().GetByAccessToken(ctx, granted.AccessToken)
		require.NoError(t, err)
		require.Equal(t, domain.TokenStateActive, rec.State)
		require.Equal(t, granted.TokenID, rec.TokenID)
	})

	t.Run("cache repopulated with the new record", func(t *testing.T) {
		raw, err := coord.ByToken.Get(ctx, cache.TokenKey(granted.AccessToken))
		require.NoError(t, err)

		var rec domain.TokenRecord
		require.NoError(t, json.Unmarshal(raw, &rec))
		require.Equal(t, granted.TokenID, rec.TokenID)

		ctxKey := cache.ContextKey("c1", "u1", "PRIMARY", "read write", "", domain.BindingRefNone)
		_, err = coord.ByContext.Get(ctx, ctxKey)
		require.NoError(t, err)
	})
}

func TestProcessStaleTokenIsIdempotentlyRejected(t *testing.T) {
	s := newTestStore(t)
	p := newTestProcessor(t, s, RotationConfig{RenewRefreshToken: true}, newTestCoordinator())
	ctx := context.Background()

	prior := priorToken(time.Now())
	require.NoError(t, s.Tokens().CreateToken(ctx, prior))

	granted, err := p.Process(ctx, GrantRequest{ClientID: "c1", RefreshToken: "r1"})
	require.NoError(t, err)
	require.NotEqual(t, "r1", granted.RefreshToken)

	// The rotated-away token must fail the same way every time.
	for i := 0; i < 2; i++ {
		_, err := p.Process(ctx, GrantRequest{ClientID: "c1", RefreshToken: "r1"})
		require.ErrorIs(t, err, ErrStaleRefreshToken)
	}

	// The renewed token still works.
	_, err = p.Process(ctx, GrantRequest{ClientID: "c1", RefreshToken: granted.RefreshToken})
	require.NoError(t, err)
}

func TestProcessConcurrentUseOfSameToken(t *testing.T) {
	s := newTestStore(t)
	p := newTestProcessor(t, s, RotationConfig{RenewRefreshToken: true}, newTestCoordinator())
	ctx := context.Background()

	prior := priorToken(time.Now())
	require.NoError(t, s.Tokens().CreateToken(ctx, prior))

	const workers = 4
	var wg sync.WaitGroup
	results := make([]error, workers)

	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = p.Process(ctx, GrantRequest{ClientID: "c1", RefreshToken: "r1"})
		}()
	}
	wg.Wait()

	var successes, stale int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrStaleRefreshToken):
			stale++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, workers-1, stale)
}

func TestProcessNeverExpiresSentinel(t *testing.T) {
	s := newTestStore(t)
	p := newTestProcessor(t, s, RotationConfig{}, newTestCoordinator())
	ctx := context.Background()

	prior := priorToken(time.Now())
	require.NoError(t, s.Tokens().CreateToken(ctx, prior))

	granted, err := p.Process(ctx, GrantRequest{ClientID: "c1", RefreshToken: "r1"})
	require.NoError(t, err)
	require.Equal(t, domain.NeverExpires, granted.ExpiresIn)
	require.Equal(t, domain.NeverExpires, granted.ExpiresInMillis)
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("cache down")
}

func (brokenCache) Put(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}

func (brokenCache) Invalidate(context.Context, string) error { return errors.New("cache down") }

func (brokenCache) Close() error { return nil }

func TestProcessCacheFailureIsNonFatal(t *testing.T) {
	s := newTestStore(t)
	coord := &CacheCoordinator{
		Enabled:    true,
		ByContext:  brokenCache{},
		ByToken:    brokenCache{},
		Attributes: brokenCache{},
		Timeout:    time.Second,
	}
	p := newTestProcessor(t, s, RotationConfig{RenewRefreshToken: true}, coord)
	ctx := context.Background()

	prior := priorToken(time.Now())
	require.NoError(t, s.Tokens().CreateToken(ctx, prior))

	granted, err := p.Process(ctx, GrantRequest{ClientID: "c1", RefreshToken: "r1"})
	require.NoError(t, err)
	require.NotEmpty(t, granted.AccessToken)

	// The commit happened even though every cache call failed.
	rec, err := s.Tokens().GetByAccessToken(ctx, granted.AccessToken)
	require.NoError(t, err)
	require.Equal(t, domain.TokenStateActive, rec.State)
}

func TestProcessAttributeMigration(t *testing.T) {
	s := newTestStore(t)
	coord := newTestCoordinator()
	p := newTestProcessor(t, s, RotationConfig{RenewRefreshToken: true}, coord)
	ctx := context.Background()

	prior := priorToken(time.Now())
	require.NoError(t, s.Tokens().CreateToken(ctx, prior))

	entry := domain.AuthAttributeEntry{
		TokenID: prior.TokenID,
		Claims:  map[string]string{"acr": "urn:mace:incommon:iap:silver"},
	}
	raw, err := json.Marshal(entry)
	require.NoError(t, err)
	require.NoError(t, coord.Attributes.Put(ctx, cache.AttributeKey(prior.TokenID), raw, 0))

	granted, err := p.Process(ctx, GrantRequest{ClientID: "c1", RefreshToken: "r1"})
	require.NoError(t, err)

	_, err = coord.Attributes.Get(ctx, cache.AttributeKey(prior.TokenID))
	require.ErrorIs(t, err, cache.ErrNotFound)

	migrated, err := coord.Attributes.Get(ctx, cache.AttributeKey(granted.TokenID))
	require.NoError(t, err)

	var got domain.AuthAttributeEntry
	require.NoError(t, json.Unmarshal(migrated, &got))
	require.Equal(t, granted.TokenID, got.TokenID)
	require.Equal(t, entry.Claims, got.Claims)
}

func TestProcessExpiredRefreshToken(t *testing.T) {
	s := newTestStore(t)
	p := newTestProcessor(t, s, RotationConfig{}, newTestCoordinator())
	ctx := context.Background()

	prior := priorToken(time.Now().Add(-2 * time.Hour))
	require.NoError(t, s.Tokens().CreateToken(ctx, prior))

	_, err := p.Process(ctx, GrantRequest{ClientID: "c1", RefreshToken: "r1"})
	require.ErrorIs(t, err, ErrRefreshTokenExpired)

	// Fail-fast: nothing was rotated.
	rec, err := s.Tokens().GetByRefreshToken(ctx, "c1", "r1")
	require.NoError(t, err)
	require.Equal(t, prior.TokenID, rec.TokenID)
	require.Equal(t, domain.TokenStateActive, rec.State)
}
