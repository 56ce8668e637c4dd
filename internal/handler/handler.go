package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"ellen/internal/domain"
	"ellen/internal/logging"
	"ellen/internal/service"
)

// HealthMessage is the body served by the liveness endpoint
const HealthMessage = "Ellen is Running"

// DefaultMaxBodyBytes bounds a notification body when none is configured
const DefaultMaxBodyBytes = 32 << 20

// Receiver stores one raw notification
type Receiver interface {
	Receive(ctx context.Context, raw []byte) (*domain.Event, error)
}

// WebhookHandler handles notification requests
type WebhookHandler struct {
	receiver     Receiver
	maxBodyBytes int64
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(receiver Receiver, maxBodyBytes int64) *WebhookHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &WebhookHandler{receiver: receiver, maxBodyBytes: maxBodyBytes}
}

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SavedResponse acknowledges a stored notification
type SavedResponse struct {
	ID string `json:"id"`
}

// SaveGorilla receives a Gorilla formatted notification and stores it
func (h *WebhookHandler) SaveGorilla(w http.ResponseWriter, r *http.Request) {
	log := logging.Ctx(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "Request body too large", err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Failed to read request body", err.Error(), http.StatusBadRequest)
		return
	}

	event, err := h.receiver.Receive(r.Context(), body)
	if err != nil {
		status, message := classify(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Int("status", status).Msg("notification not stored")
		} else {
			log.Warn().Err(err).Msg("rejected notification")
		}
		writeError(w, message, err.Error(), status)
		return
	}

	writeJSON(w, SavedResponse{ID: event.ID}, http.StatusOK)
}

// Healthcheck reports that the process is serving
func (h *WebhookHandler) Healthcheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, HealthMessage)
}

// classify maps an ingestion error to a status code and message
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidPayload):
		return http.StatusBadRequest, "received post data wasn't a valid Gorilla formatted JSON object"
	case errors.Is(err, service.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, service.ErrStorageUnavailable.Error()
	case errors.Is(err, service.ErrProcessing):
		return http.StatusInternalServerError, service.ErrProcessing.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// Helper methods

func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("failed to encode JSON")
	}
}

func writeError(w http.ResponseWriter, message, details string, statusCode int) {
	writeJSON(w, ErrorResponse{Error: message, Details: details}, statusCode)
}
