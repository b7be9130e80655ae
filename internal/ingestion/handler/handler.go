// Package handler serves the dataset notification webhook.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Recorder is satisfied by *publisher.Publisher.
type Recorder interface {
	Record(ctx context.Context, n *ingestion.Notification, raw []byte) error
}

type Handler struct {
	recorder Recorder
	secret   string
	logger   *slog.Logger
}

func New(recorder Recorder, secret string) *Handler {
	return &Handler{
		recorder: recorder,
		secret:   secret,
		logger:   slog.Default().With("component", "webhook-handler"),
	}
}

// Webhook accepts a signed notification. Nothing is recorded unless the
// signature and payload are valid.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	if err := validator.VerifySignature(body, r.Header.Get(ingestion.SignatureHeader), h.secret); err != nil {
		log.Warn("webhook signature rejected", "error", err, "remote", r.RemoteAddr)
		h.writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var n ingestion.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validator.ValidateNotification(&n); err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}

	if err := h.recorder.Record(ctx, &n, body); err != nil {
		log.Error("webhook processing failed", "version", n.Version, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Webhook processing failed")
		return
	}
	log.Info("webhook received", "version", n.Version, "timestamp", n.Timestamp)
	h.writeJSON(w, http.StatusOK, ingestion.Response{
		Success: true,
		Message: "Database metadata updated",
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
