package server

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/siftlab/sieve/internal/auth"
	"github.com/siftlab/sieve/internal/model"
)

type createReviewerRequest struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role"`
}

// HandleCreateReviewer registers a reviewer and mints their API key. The
// key is returned exactly once; only its Argon2 hash is stored.
func (h *Handlers) HandleCreateReviewer(w http.ResponseWriter, r *http.Request) {
	var req createReviewerRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Handle == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "handle is required")
		return
	}
	role := model.ReviewerRole(req.Role)
	switch role {
	case model.RoleReviewer, model.RoleLead, model.RoleAdmin:
	case model.RoleSystem:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "the system role is reserved")
		return
	default:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, fmt.Sprintf("unknown role %q", req.Role))
		return
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		h.logger.Error("generate api key", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}
	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		h.logger.Error("hash api key", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}

	reviewer, err := h.db.CreateReviewer(r.Context(), model.Reviewer{
		Handle:      req.Handle,
		DisplayName: req.DisplayName,
		Role:        role,
		APIKeyHash:  &hash,
	})
	if err != nil {
		writeServiceError(h.logger, w, r, err)
		return
	}

	h.logger.Info("reviewer created", "handle", reviewer.Handle, "role", reviewer.Role)
	writeJSON(w, r, http.StatusCreated, map[string]any{
		"reviewer": reviewer,
		"api_key":  apiKey,
	})
}

// generateAPIKey mints a 256-bit random key, base64url-encoded.
func generateAPIKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return "sieve_" + base64.RawURLEncoding.EncodeToString(raw), nil
}

// HandleSubscribe streams decision and phase events as server-sent events.
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInternalError, "event streaming is not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming unsupported")
		return
	}

	events, unsubscribe := h.broker.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
