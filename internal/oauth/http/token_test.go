package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/regrant/internal/oauth/binding"
	"github.com/aussiebroadwan/regrant/internal/oauth/domain"
	"github.com/aussiebroadwan/regrant/internal/oauth/issuer"
	"github.com/aussiebroadwan/regrant/internal/oauth/service"
	"github.com/aussiebroadwan/regrant/internal/oauth/store/drivers/sqlite"
	"github.com/aussiebroadwan/regrant/pkg/cryptox"
	"github.com/aussiebroadwan/regrant/pkg/httpx"
	"github.com/aussiebroadwan/regrant/pkg/idx"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testClientSecret = "shhh-very-secret"

func newTestServer(t *testing.T) (*httptest.Server, *sqlite.Store) {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())

	secretHash, err := cryptox.HashSecret(testClientSecret)
	require.NoError(t, err)
	require.NoError(t, s.Applications().CreateApplication(context.Background(), domain.Application{
		ClientID:   "c1",
		Name:       "Confidential Client",
		SecretHash: secretHash,
	}))
	require.NoError(t, s.Applications().CreateApplication(context.Background(), domain.Application{
		ClientID: "c-public",
		Name:     "Public Client",
	}))

	issuers := issuer.NewRegistry(issuer.NewOpaque())
	binders := binding.NewRegistry(binding.NewDevice())

	processor := &service.GrantProcessor{
		Validator: &service.RefreshTokenValidator{Store: s, Binders: binders},
		Rotation: &service.TokenRotationEngine{
			Store:   s,
			Issuers: issuers,
			Config:  service.RotationConfig{AccessTokenValidity: time.Hour},
		},
		Store:   s,
		Issuers: issuers,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter("test", s, processor, logger)
	router.TokenRateLimit = httpx.RateLimitConfig{
		RequestsPerWindow: 1000, Window: time.Minute, Burst: 1000,
	}
	router.ApplyRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, s
}

func seedToken(t *testing.T, s *sqlite.Store, clientID, refreshToken string) domain.TokenRecord {
	t.Helper()

	rec := domain.TokenRecord{
		ID:              idx.New().String(),
		TokenID:         uuid.NewString(),
		AccessToken:     "at-" + uuid.NewString(),
		RefreshToken:    refreshToken,
		ClientID:        clientID,
		UserID:          "u1",
		UserDomain:      "PRIMARY",
		Scopes:          []string{"read", "write"},
		BindingRef:      domain.BindingRefNone,
		GrantType:       "authorization_code",
		IssuedAt:        time.Now(),
		Validity:        time.Hour,
		RefreshIssuedAt: time.Now(),
		RefreshValidity: time.Hour,
		State:           domain.TokenStateActive,
	}
	require.NoError(t, s.Tokens().CreateToken(context.Background(), rec))
	return rec
}

func postToken(t *testing.T, srv *httptest.Server, form url.Values) (*http.Response, map[string]any) {
	t.Helper()

	resp, err := http.Post(srv.URL+"/v1/oauth2/token",
		"application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func TestTokenEndpointRefreshGrant(t *testing.T) {
	srv, s := newTestServer(t)
	prior := seedToken(t, s, "c1", "r1")

	resp, body := postToken(t, srv, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {"c1"},
		"client_secret": {testClientSecret},
		"refresh_token": {"r1"},
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	require.Equal(t, prior.AccessToken, resp.Header.Get(domain.HeaderDeactivatedAccessToken))

	require.NotEmpty(t, body["access_token"])
	require.NotEqual(t, prior.AccessToken, body["access_token"])
	require.Equal(t, "read write", body["scope"])
	require.Equal(t, "Bearer", body["token_type"])
	require.EqualValues(t, 3600, body["expires_in"])
}

func TestTokenEndpointScopeSubset(t *testing.T) {
	srv, s := newTestServer(t)
	seedToken(t, s, "c-public", "r-pub")

	resp, body := postToken(t, srv, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {"c-public"},
		"refresh_token": {"r-pub"},
		"scope":         {"read"},
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "read", body["scope"])
}

func TestTokenEndpointErrors(t *testing.T) {
	srv, s := newTestServer(t)
	seedToken(t, s, "c1", "r1")

	// An overdue token, issued far in the past.
	prior := domain.TokenRecord{
		ID:              idx.New().String(),
		TokenID:         uuid.NewString(),
		AccessToken:     "at-" + uuid.NewString(),
		RefreshToken:    "r-old",
		ClientID:        "c1",
		UserID:          "u2",
		UserDomain:      "PRIMARY",
		Scopes:          []string{"read"},
		BindingRef:      domain.BindingRefNone,
		GrantType:       "authorization_code",
		IssuedAt:        time.Now().Add(-3 * time.Hour),
		Validity:        time.Hour,
		RefreshIssuedAt: time.Now().Add(-3 * time.Hour),
		RefreshValidity: time.Hour,
		State:           domain.TokenStateActive,
	}
	require.NoError(t, s.Tokens().CreateToken(context.Background(), prior))

	t.Run("unsupported grant type", func(t *testing.T) {
		resp, body := postToken(t, srv, url.Values{
			"grant_type": {"authorization_code"},
			"client_id":  {"c1"},
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, "unsupported_grant_type", body["error"])
	})

	t.Run("missing refresh token", func(t *testing.T) {
		resp, body := postToken(t, srv, url.Values{
			"grant_type": {"refresh_token"},
			"client_id":  {"c1"},
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, "invalid_request", body["error"])
	})

	t.Run("bad client secret", func(t *testing.T) {
		resp, body := postToken(t, srv, url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {"c1"},
			"client_secret": {"wrong"},
			"refresh_token": {"r1"},
		})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, "invalid_client", body["error"])
	})

	t.Run("unknown client", func(t *testing.T) {
		resp, body := postToken(t, srv, url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {"c-nope"},
			"refresh_token": {"r1"},
		})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, "invalid_client", body["error"])
	})

	t.Run("unknown refresh token", func(t *testing.T) {
		resp, body := postToken(t, srv, url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {"c-public"},
			"refresh_token": {"r-missing"},
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, "invalid_grant", body["error"])
	})

	t.Run("scope outside the grant", func(t *testing.T) {
		resp, body := postToken(t, srv, url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {"c1"},
			"client_secret": {testClientSecret},
			"refresh_token": {"r1"},
			"scope":         {"admin"},
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, "invalid_scope", body["error"])
	})

	t.Run("expired refresh token", func(t *testing.T) {
		resp, body := postToken(t, srv, url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {"c1"},
			"client_secret": {testClientSecret},
			"refresh_token": {"r-old"},
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, "expired_token", body["error"])
	})
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/livez", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	}
}
