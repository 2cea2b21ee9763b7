package issuer

import (
	"errors"
	"strings"
	"time"

	"github.com/aussiebroadwan/regrant/pkg/cryptox"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWT mints self-contained HS256 access tokens. Refresh tokens stay
// opaque; only the access token carries claims. Cached lookups for JWT
// access tokens are keyed by the jti claim so the cache key stays short
// and stable.
type JWT struct {
	issuerName string
	secret     []byte
}

func NewJWT(issuerName string, secret []byte) *JWT {
	return &JWT{issuerName: issuerName, secret: secret}
}

func (*JWT) Type() string { return "jwt" }

func (j *JWT) NewAccessToken(tc Context) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"jti":   uuid.NewString(),
		"iss":   j.issuerName,
		"sub":   tc.UserID,
		"aud":   tc.ClientID,
		"scope": strings.Join(tc.Scopes, " "),
		"iat":   now.Unix(),
		"nbf":   now.Unix(),
	}
	if tc.Validity > 0 {
		claims["exp"] = now.Add(tc.Validity).Unix()
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

func (j *JWT) NewRefreshToken(Context) (string, error) {
	return cryptox.GenerateToken(cryptox.TokenSize256)
}

func (*JWT) UsesAliasedCacheKey() bool { return true }

// DeriveAlias extracts the jti claim without verifying the signature; the
// alias is a cache key, not an authentication decision.
func (*JWT) DeriveAlias(token string) (string, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("issuer: unexpected claims type")
	}
	jti, ok := claims["jti"].(string)
	if !ok || jti == "" {
		return "", errors.New("issuer: token has no jti claim")
	}
	return jti, nil
}
