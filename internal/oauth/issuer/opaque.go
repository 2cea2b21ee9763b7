package issuer

import "github.com/aussiebroadwan/regrant/pkg/cryptox"

// Opaque mints random bearer token values with no embedded claims. This
// is the default issuer.
type Opaque struct{}

func NewOpaque() *Opaque { return &Opaque{} }

func (*Opaque) Type() string { return "opaque" }

func (*Opaque) NewAccessToken(Context) (string, error) {
	return cryptox.GenerateToken(cryptox.TokenSize256)
}

func (*Opaque) NewRefreshToken(Context) (string, error) {
	return cryptox.GenerateToken(cryptox.TokenSize256)
}

func (*Opaque) UsesAliasedCacheKey() bool { return false }

func (*Opaque) DeriveAlias(token string) (string, error) { return token, nil }
