package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/entgate/entgate"
	"github.com/entgate/entgate/provider"
)

// maxWebhookBody bounds webhook payload reads.
const maxWebhookBody = 1 << 20

func newHandler(engine *entgate.Engine, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhooks/provider", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "read body")
			return
		}

		res, err := engine.Ingest(r.Context(), body, r.Header.Get(provider.SignatureHeader))
		switch {
		case errors.Is(err, entgate.ErrSignatureInvalid):
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		case errors.Is(err, entgate.ErrEventStale):
			writeError(w, http.StatusBadRequest, "stale event")
			return
		case errors.Is(err, entgate.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "malformed payload")
			return
		case err != nil:
			logger.Error("webhook processing failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("POST /reconcile", func(w http.ResponseWriter, r *http.Request) {
		report, err := engine.Scan(r.Context())
		switch {
		case errors.Is(err, entgate.ErrNoProvider):
			writeError(w, http.StatusServiceUnavailable, "no provider client configured")
			return
		case err != nil:
			logger.Error("reconciliation failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, report)
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := engine.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
