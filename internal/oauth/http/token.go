package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/regrant/internal/oauth/binding"
	"github.com/aussiebroadwan/regrant/internal/oauth/service"
	"github.com/aussiebroadwan/regrant/internal/oauth/store"
	"github.com/aussiebroadwan/regrant/pkg/cryptox"
	"github.com/aussiebroadwan/regrant/pkg/httpx"
	"github.com/aussiebroadwan/regrant/pkg/slogx"
)

// TokenHandler serves POST /v1/oauth2/token for the refresh_token grant.
// Accepts application/x-www-form-urlencoded per RFC 6749.
type TokenHandler struct {
	Store     store.Store
	Processor *service.GrantProcessor
}

// oauthError is the RFC 6749 error payload.
type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	httpx.WriteJSON(w, status, oauthError{Error: code, ErrorDescription: description})
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "unsupported content type")
		return
	}

	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	if grantType := r.Form.Get("grant_type"); grantType != "refresh_token" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "only refresh_token is supported")
		return
	}

	clientID := strings.TrimSpace(r.Form.Get("client_id"))
	clientSecret := r.Form.Get("client_secret")
	refreshToken := strings.TrimSpace(r.Form.Get("refresh_token"))
	scopes := httpx.ParseSpaceDelimitedFields(r.Form.Get("scope"))

	if clientID == "" || refreshToken == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "client_id and refresh_token are required")
		return
	}

	if !h.authenticateClient(ctx, w, clientID, clientSecret) {
		return
	}

	granted, err := h.Processor.Process(ctx, service.GrantRequest{
		ClientID:     clientID,
		RefreshToken: refreshToken,
		Scopes:       scopes,
		Binding: &binding.Request{
			Headers:    r.Header,
			RemoteAddr: r.RemoteAddr,
		},
	})
	if err != nil {
		writeGrantError(w, err)
		return
	}

	for _, hdr := range granted.Headers {
		w.Header().Set(hdr.Key, hdr.Value)
	}
	httpx.WriteJSON(w, http.StatusOK, granted)
	log.Debug("refresh grant served", slog.String("client_id", clientID))
}

// authenticateClient enforces secret authentication for confidential
// clients. Public clients (no stored secret) pass through. Writes the
// error response itself and reports whether processing may continue.
func (h *TokenHandler) authenticateClient(ctx context.Context, w http.ResponseWriter, clientID, clientSecret string) bool {
	app, err := h.Store.Applications().GetApplicationByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
			return false
		}
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "")
		return false
	}

	if !app.Confidential() {
		return true
	}

	if clientSecret == "" || cryptox.VerifySecret(clientSecret, app.SecretHash) != nil {
		slogx.FromContext(ctx).Info("client authentication failed", slog.String("client_id", clientID))
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return false
	}
	return true
}

// writeGrantError maps service errors onto the OAuth error vocabulary.
// Expired tokens get their own code: the client's recourse is a full
// re-authentication, not a retry.
func writeGrantError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrRefreshTokenExpired):
		writeOAuthError(w, http.StatusBadRequest, "expired_token", "refresh token has expired")
	case errors.Is(err, service.ErrScopeExceedsGrant):
		writeOAuthError(w, http.StatusBadRequest, "invalid_scope", "requested scope exceeds the original grant")
	case service.IsValidationError(err):
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "refresh token is not valid for this client")
	default:
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "")
	}
}
