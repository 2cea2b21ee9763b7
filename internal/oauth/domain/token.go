package domain

import (
	"math"
	"strings"
	"time"
)

// TokenState is the lifecycle state of a token record. ACTIVE records may
// transition to INACTIVE (superseded by rotation) or EXPIRED (time-based);
// INACTIVE, EXPIRED and REVOKED are terminal for this core. REVOKED is
// written by external revocation surfaces only.
type TokenState string

const (
	TokenStateActive   TokenState = "ACTIVE"
	TokenStateInactive TokenState = "INACTIVE"
	TokenStateExpired  TokenState = "EXPIRED"
	TokenStateRevoked  TokenState = "REVOKED"
)

// GrantTypeRefreshToken is the grant type recorded on records produced by
// refresh-token rotation.
const GrantTypeRefreshToken = "refresh_token"

// BindingRefNone is the sentinel binding reference for unbound tokens.
const BindingRefNone = "none"

// TokenRecord represents one issued access/refresh token pair. A record is
// created only at grant issuance, has its state transitioned only by the
// store's atomic invalidate-and-create, and is never deleted independently.
type TokenRecord struct {
	ID               string // record id (ULID)
	TokenID          string // token identifier (UUID), stable on the rotation trail
	AccessToken      string
	RefreshToken     string
	ClientID         string
	UserID           string
	UserDomain       string
	IdentityProvider string // federated IdP name, "LOCAL" for local users
	Scopes           []string
	InternalScopes   []string // privileged scopes granted alongside Scopes
	BindingRef       string   // "none" when the token carries no binding
	GrantType        string   // grant type that produced this record
	IssuedAt         time.Time
	Validity         time.Duration // access-token validity; 0 means never expires
	RefreshIssuedAt  time.Time
	RefreshValidity  time.Duration // negative means never expires
	State            TokenState
	Consented        bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ScopeString returns the granted scopes as a space-joined string.
func (t TokenRecord) ScopeString() string {
	return strings.Join(t.Scopes, " ")
}

// HasBinding reports whether the record carries a real binding reference.
func (t TokenRecord) HasBinding() bool {
	return t.BindingRef != "" && t.BindingRef != BindingRefNone
}

// TokenBinding ties a token to a client context (device, certificate) that
// must be re-validated on use.
type TokenBinding struct {
	TokenID   string
	Type      string
	Reference string
	Value     string
}

// NeverExpires is the expiry sentinel surfaced to clients for
// non-expiring tokens.
const NeverExpires = int64(math.MaxInt64)

// GrantedToken is the payload produced for a successful grant.
type GrantedToken struct {
	AccessToken     string           `json:"access_token"`
	RefreshToken    string           `json:"refresh_token"`
	TokenID         string           `json:"token_id"`
	TokenType       string           `json:"token_type,omitempty"` // typically "Bearer"
	Scope           string           `json:"scope,omitempty"`      // space-delimited
	ExpiresIn       int64            `json:"expires_in"`           // seconds, NeverExpires sentinel
	ExpiresInMillis int64            `json:"expires_in_ms"`
	Consented       bool             `json:"consented"`
	Headers         []ResponseHeader `json:"-"` // informational response headers
}

// ResponseHeader is an informational header item attached to a grant
// response, e.g. the deactivated prior access token for downstream
// revocation propagation.
type ResponseHeader struct {
	Key   string
	Value string
}

// HeaderDeactivatedAccessToken identifies the prior access-token value
// deactivated by a rotation.
const HeaderDeactivatedAccessToken = "DeactivatedAccessToken"

// AuthAttributeEntry holds authentication-context attributes cached
// against a token id, migrated from the old id to the new one on rotation.
type AuthAttributeEntry struct {
	TokenID  string            `json:"token_id"`
	Claims   map[string]string `json:"claims,omitempty"`
	Validity time.Duration     `json:"validity,omitempty"`
}
