package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/regrant/internal/oauth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict reports that a guarded state transition found the record
	// already transitioned, i.e. the caller lost a rotation race.
	ErrConflict = errors.New("store: conflict")
)

// Store is the root data access interface. Concrete drivers (sqlite,
// postgres) implement this. Sub-repositories keep concerns tidy and stop
// callers from accidentally nesting transactions.
type Store interface {
	Tokens() Tokens
	Applications() Applications

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, rolling back when fn
	// returns an error and committing otherwise. This is the recommended
	// way to run multi-step operations that must be atomic.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds
// Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Tokens interface {
	// CreateToken inserts a new token record (ids provided by the caller).
	CreateToken(ctx context.Context, t domain.TokenRecord) error

	// GetByRefreshToken returns the most recently issued record carrying
	// the given refresh-token value for the client, regardless of state.
	GetByRefreshToken(ctx context.Context, clientID, refreshToken string) (domain.TokenRecord, error)

	// GetByAccessToken returns the record identified by an access-token
	// value, used for transitive consent resolution.
	GetByAccessToken(ctx context.Context, accessToken string) (domain.TokenRecord, error)

	// GetLatestAccessTokens returns up to limit records sharing the given
	// client/user/scope/binding context, newest first. When activeOnly is
	// false, EXPIRED records are included alongside ACTIVE ones.
	GetLatestAccessTokens(ctx context.Context, clientID, userID, userDomain, scope, bindingRef string, activeOnly bool, limit int) ([]domain.TokenRecord, error)

	// GetTokenBinding resolves the binding object recorded for a token.
	GetTokenBinding(ctx context.Context, tokenID, bindingRef string) (domain.TokenBinding, error)

	// CreateTokenBinding records a binding for a token.
	CreateTokenBinding(ctx context.Context, b domain.TokenBinding) error

	// InvalidateAndCreate transitions the prior record to newState and
	// inserts the new record in a single durable transaction, writing a
	// rotation audit row identified by rotationID. Returns ErrConflict
	// when the prior record was already transitioned by a concurrent
	// rotation; in that case nothing is written.
	InvalidateAndCreate(ctx context.Context, oldTokenID string, newState domain.TokenState, clientID, rotationID string, t domain.TokenRecord, userDomain, grantType string) error

	// ExpireOverdueTokens transitions ACTIVE records whose refresh
	// validity window has fully elapsed to EXPIRED. Housekeeping.
	ExpireOverdueTokens(ctx context.Context, now time.Time) (int64, error)

	// DeleteInactiveTokensBefore prunes INACTIVE records last updated
	// before the cutoff. Housekeeping.
	DeleteInactiveTokensBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Applications interface {
	// GetApplicationByClientID fetches client application metadata.
	GetApplicationByClientID(ctx context.Context, clientID string) (domain.Application, error)

	// CreateApplication inserts a new application.
	CreateApplication(ctx context.Context, a domain.Application) error

	// IsEmpty returns true if there are no applications (seeding).
	IsEmpty(ctx context.Context) (bool, error)
}
