package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"doppel/internal/logging"
)

const maxDeliveryBytes = 1 << 20

// Handler exposes the provider callback surface. Provider-side problems
// always answer 200 so the vendor does not hammer us with redeliveries;
// only malformed or unauthenticated input earns a 4xx.
type Handler struct {
	ingestor *Ingestor
	logger   *slog.Logger
}

// NewHandler builds the HTTP handler around an ingestor.
func NewHandler(ingestor *Ingestor, logger *slog.Logger) *Handler {
	return &Handler{
		ingestor: ingestor,
		logger:   logging.WithComponent(logger, "webhook-http"),
	}
}

// Routes returns the router for mounting under /hooks.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{provider}", h.handleDelivery)
	return r
}

func (h *Handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDeliveryBytes))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "read body"})
		return
	}

	err = h.ingestor.Ingest(r.Context(), providerName, body)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case errors.Is(err, ErrBadSignature):
		h.logger.Warn("delivery rejected", logging.Args(
			logging.String(logging.FieldProvider, providerName),
			logging.Error(err))...)
		h.writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "invalid signature"})
	case errors.Is(err, ErrMalformed):
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "malformed delivery"})
	default:
		// Internal trouble is ours, not the provider's.
		h.logger.Error("ingest delivery", logging.Args(
			logging.String(logging.FieldProvider, providerName),
			logging.Error(err))...)
		h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("write response", logging.Args(logging.Error(err))...)
	}
}
