package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/draw-your-dream/logflare/internal/domain"
)

// SourceToken is a minimal opaque source-token check at the ingest
// boundary (spec.md's own source_token concept, not a general auth
// system): the path's {token} must name a known source.
func SourceToken(store domain.SourceStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.PathValue("token")
			if token == "" {
				http.Error(w, "source token is required", http.StatusBadRequest)
				return
			}

			_, err := store.GetSourceByToken(r.Context(), token)
			if errors.Is(err, domain.ErrSourceNotFound) {
				logger.Warn("unknown source token", "source_token", token, "remote_addr", r.RemoteAddr)
				http.Error(w, "unknown source", http.StatusNotFound)
				return
			}
			if err != nil {
				logger.Error("failed to look up source token", "error", err)
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
