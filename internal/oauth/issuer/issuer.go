// Package issuer mints access and refresh token values. Applications pick
// an issuer by type; the registry falls back to a default when an
// application does not name one.
package issuer

import (
	"fmt"
	"time"
)

// Context carries the grant details an issuer may embed in the minted
// token value.
type Context struct {
	ClientID  string
	UserID    string
	Scopes    []string
	GrantType string
	Validity  time.Duration // access-token validity; <= 0 means non-expiring
}

// Issuer mints token values for one token format.
type Issuer interface {
	// Type is the registry key, matched against Application.IssuerType.
	Type() string

	NewAccessToken(tc Context) (string, error)
	NewRefreshToken(tc Context) (string, error)

	// UsesAliasedCacheKey reports whether cached lookups for this issuer's
	// tokens are keyed by a derived alias rather than the full value.
	UsesAliasedCacheKey() bool

	// DeriveAlias computes the cache alias for a minted token value. Only
	// meaningful when UsesAliasedCacheKey is true.
	DeriveAlias(token string) (string, error)
}

// Registry resolves issuers by type.
type Registry struct {
	issuers     map[string]Issuer
	defaultType string
}

func NewRegistry(defaultIssuer Issuer, extra ...Issuer) *Registry {
	r := &Registry{
		issuers:     make(map[string]Issuer),
		defaultType: defaultIssuer.Type(),
	}
	r.issuers[defaultIssuer.Type()] = defaultIssuer
	for _, iss := range extra {
		r.issuers[iss.Type()] = iss
	}
	return r
}

// Resolve returns the issuer for the given type, or the default issuer
// when issuerType is empty.
func (r *Registry) Resolve(issuerType string) (Issuer, error) {
	if issuerType == "" {
		issuerType = r.defaultType
	}
	iss, ok := r.issuers[issuerType]
	if !ok {
		return nil, fmt.Errorf("issuer: unknown type %q", issuerType)
	}
	return iss, nil
}
