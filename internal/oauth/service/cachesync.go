package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/regrant/internal/oauth/cache"
	"github.com/aussiebroadwan/regrant/internal/oauth/domain"
	"github.com/aussiebroadwan/regrant/internal/oauth/issuer"
	"github.com/aussiebroadwan/regrant/pkg/slogx"
)

// CacheCoordinator keeps the token caches coherent with the store across
// rotations. Three namespaces: by grant context, by raw token value (or
// issuer alias), and by token id for authentication attributes. The
// caches are advisory projections; the store stays authoritative, so
// every method here degrades to an error the caller may log and ignore.
type CacheCoordinator struct {
	Enabled    bool
	ByContext  cache.Cache
	ByToken    cache.Cache
	Attributes cache.Cache

	// TTL applied to repopulated entries; 0 uses the backend default.
	TTL time.Duration

	// Timeout bounds post-commit sync work, which runs detached from the
	// request context.
	Timeout time.Duration
}

func (c *CacheCoordinator) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 5 * time.Second
	}
	return c.Timeout
}

// LookupToken resolves a cached record by raw token value. A miss, a
// decode failure, or a disabled cache all report !ok.
func (c *CacheCoordinator) LookupToken(ctx context.Context, token string) (domain.TokenRecord, bool) {
	if c == nil || !c.Enabled || token == "" {
		return domain.TokenRecord{}, false
	}

	raw, err := c.ByToken.Get(ctx, cache.TokenKey(token))
	if err != nil {
		return domain.TokenRecord{}, false
	}

	var rec domain.TokenRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		// Undecodable entries are evicted rather than served again.
		_ = c.ByToken.Invalidate(ctx, cache.TokenKey(token))
		return domain.TokenRecord{}, false
	}
	return rec, true
}

// StoreToken caches a record under a raw token value.
func (c *CacheCoordinator) StoreToken(ctx context.Context, token string, rec domain.TokenRecord) error {
	if c == nil || !c.Enabled || token == "" {
		return nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSyncFailure, err)
	}
	if err := c.ByToken.Put(ctx, cache.TokenKey(token), raw, c.TTL); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSyncFailure, err)
	}
	return nil
}

// EvictRecord removes the context-keyed and token-keyed entries for a
// record. Used on the stale-token path so a cache that still serves a
// rotated-away token heals itself even though the request fails.
func (c *CacheCoordinator) EvictRecord(ctx context.Context, rec domain.TokenRecord) {
	if c == nil || !c.Enabled {
		return
	}

	keys := []struct {
		store cache.Cache
		key   string
	}{
		{c.ByContext, cache.ContextKey(rec.ClientID, rec.UserID, rec.UserDomain, rec.ScopeString(), rec.IdentityProvider, rec.BindingRef)},
		{c.ByToken, cache.TokenKey(rec.AccessToken)},
		{c.ByToken, cache.TokenKey(rec.RefreshToken)},
	}
	for _, k := range keys {
		if err := k.store.Invalidate(ctx, k.key); err != nil {
			slogx.FromContext(ctx).Warn("cache eviction failed",
				slog.String("key", k.key),
				slog.String("error", err.Error()))
		}
	}
}

// SyncRotation replaces the old record's cache entries with the new
// record's. Must only run after the persistence transaction commits; it
// therefore detaches from request cancellation and applies its own
// timeout, so a client that hangs up after the commit point cannot leave
// the cache serving the rotated-away pair.
func (c *CacheCoordinator) SyncRotation(ctx context.Context, iss issuer.Issuer, old, renewed domain.TokenRecord) error {
	if c == nil || !c.Enabled {
		return nil
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout())
	defer cancel()

	// The context key addresses whichever record is newest for the grant
	// context; the renewed scope set with the old binding ref is the
	// tuple both records share.
	oldContextKey := cache.ContextKey(old.ClientID, old.UserID, old.UserDomain, renewed.ScopeString(), old.IdentityProvider, old.BindingRef)

	var errs []error
	for _, key := range []string{cache.TokenKey(old.AccessToken), cache.TokenKey(old.RefreshToken)} {
		if err := c.ByToken.Invalidate(sctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.ByContext.Invalidate(sctx, oldContextKey); err != nil {
		errs = append(errs, err)
	}

	raw, err := json.Marshal(renewed)
	if err != nil {
		errs = append(errs, err)
	} else {
		accessKey := renewed.AccessToken
		if iss != nil && iss.UsesAliasedCacheKey() {
			alias, aerr := iss.DeriveAlias(renewed.AccessToken)
			if aerr != nil {
				errs = append(errs, aerr)
			} else {
				accessKey = alias
			}
		}

		newContextKey := cache.ContextKey(renewed.ClientID, renewed.UserID, renewed.UserDomain, renewed.ScopeString(), renewed.IdentityProvider, renewed.BindingRef)
		if err := c.ByContext.Put(sctx, newContextKey, raw, c.TTL); err != nil {
			errs = append(errs, err)
		}
		if err := c.ByToken.Put(sctx, cache.TokenKey(accessKey), raw, c.TTL); err != nil {
			errs = append(errs, err)
		}
		if err := c.ByToken.Put(sctx, cache.TokenKey(renewed.RefreshToken), raw, c.TTL); err != nil {
			errs = append(errs, err)
		}
	}

	if err := c.migrateAttributes(sctx, old.TokenID, renewed.TokenID); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrCacheSyncFailure, errors.Join(errs...))
	}
	return nil
}

// migrateAttributes moves the authentication-attribute entry from the
// old token id to the new one. An absent entry is a no-op; an empty new
// id clears the entry's token-id field and drops it instead of
// re-inserting under an empty key.
func (c *CacheCoordinator) migrateAttributes(ctx context.Context, oldID, newID string) error {
	raw, err := c.Attributes.Get(ctx, cache.AttributeKey(oldID))
	if errors.Is(err, cache.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var entry domain.AuthAttributeEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return err
	}

	if err := c.Attributes.Invalidate(ctx, cache.AttributeKey(oldID)); err != nil {
		return err
	}

	if newID == "" {
		entry.TokenID = ""
		return nil
	}

	entry.TokenID = newID
	updated, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.Attributes.Put(ctx, cache.AttributeKey(newID), updated, entry.Validity)
}
