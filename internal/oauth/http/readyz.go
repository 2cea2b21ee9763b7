package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/regrant/internal/oauth/store"
	"github.com/aussiebroadwan/regrant/pkg/httpx"
)

// ReadyzHandler is the readiness probe: verifies the token store is
// reachable before reporting ready.
func ReadyzHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			httpx.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, healthResponse{Status: "ready"})
	}
}
