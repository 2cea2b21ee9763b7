package service

import (
	"time"

	"github.com/aussiebroadwan/regrant/internal/oauth/binding"
	"github.com/aussiebroadwan/regrant/internal/oauth/domain"
)

// GrantRequest is the refresh-token grant input after transport-level
// client authentication.
type GrantRequest struct {
	ClientID     string
	RefreshToken string
	Scopes       []string // requested scopes; empty re-uses the granted set
	Binding      *binding.Request
}

// ValidationContext accumulates state across the validation pipeline and
// hands it to rotation. Validation fills it; rotation reads it.
type ValidationContext struct {
	Request GrantRequest

	// Prior is the record being rotated away.
	Prior domain.TokenRecord

	// App is the client application the grant belongs to.
	App domain.Application

	// UserID/UserDomain/IdentityProvider are resolved from the prior
	// record.
	UserID           string
	UserDomain       string
	IdentityProvider string

	// Scopes are the effective scopes for the new grant.
	Scopes []string

	// Binding is the prior token's recorded binding, if any.
	Binding *domain.TokenBinding

	// Latest is the newest record in the grant context, used to detect
	// stale (already rotated) tokens.
	Latest domain.TokenRecord

	// Validity overrides propagated from upstream callbacks; zero means
	// no override.
	AccessValidityOverride  time.Duration
	RefreshValidityOverride time.Duration
}
