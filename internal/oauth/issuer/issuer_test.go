package issuer

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	opaque := NewOpaque()
	jwtIssuer := NewJWT("https://auth.test", []byte("secret"))
	reg := NewRegistry(opaque, jwtIssuer)

	t.Run("empty type resolves the default", func(t *testing.T) {
		iss, err := reg.Resolve("")
		require.NoError(t, err)
		require.Equal(t, "opaque", iss.Type())
	})

	t.Run("named type resolves", func(t *testing.T) {
		iss, err := reg.Resolve("jwt")
		require.NoError(t, err)
		require.Equal(t, "jwt", iss.Type())
	})

	t.Run("unknown type errors", func(t *testing.T) {
		_, err := reg.Resolve("paseto")
		require.Error(t, err)
	})
}

func TestOpaqueIssuer(t *testing.T) {
	t.Parallel()

	iss := NewOpaque()

	access, err := iss.NewAccessToken(Context{})
	require.NoError(t, err)
	refresh, err := iss.NewRefreshToken(Context{})
	require.NoError(t, err)

	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)
	require.NotEqual(t, access, refresh)
	require.False(t, iss.UsesAliasedCacheKey())
}

func TestJWTIssuer(t *testing.T) {
	t.Parallel()

	secret := []byte("signing-secret")
	iss := NewJWT("https://auth.test", secret)

	tc := Context{
		ClientID:  "client-1",
		UserID:    "user-1",
		Scopes:    []string{"openid", "profile"},
		GrantType: "refresh_token",
		Validity:  time.Hour,
	}

	token, err := iss.NewAccessToken(tc)
	require.NoError(t, err)

	t.Run("claims verify with the signing secret", func(t *testing.T) {
		parsed, err := jwt.Parse(token, func(tok *jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		require.NoError(t, err)
		require.True(t, parsed.Valid)

		claims := parsed.Claims.(jwt.MapClaims)
		require.Equal(t, "user-1", claims["sub"])
		require.Equal(t, "client-1", claims["aud"])
		require.Equal(t, "openid profile", claims["scope"])
		require.NotEmpty(t, claims["exp"])
	})

	t.Run("alias is the jti claim", func(t *testing.T) {
		require.True(t, iss.UsesAliasedCacheKey())

		alias, err := iss.DeriveAlias(token)
		require.NoError(t, err)
		require.NotEmpty(t, alias)
		require.NotEqual(t, token, alias)
	})

	t.Run("non-expiring tokens omit exp", func(t *testing.T) {
		eternal, err := iss.NewAccessToken(Context{ClientID: "c", UserID: "u"})
		require.NoError(t, err)

		parsed, _, err := jwt.NewParser().ParseUnverified(eternal, jwt.MapClaims{})
		require.NoError(t, err)
		_, hasExp := parsed.Claims.(jwt.MapClaims)["exp"]
		require.False(t, hasExp)
	})

	t.Run("refresh tokens stay opaque", func(t *testing.T) {
		refresh, err := iss.NewRefreshToken(tc)
		require.NoError(t, err)
		require.NotContains(t, refresh, ".")
	})
}
