package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"moment-backend/internal/middleware"
	"moment-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// maxImageBytes caps a decoded capture upload.
const maxImageBytes = 10 << 20

// MomentHandler handles moment-related HTTP requests
type MomentHandler struct {
	momentService *services.MomentService
}

// NewMomentHandler creates a new moment handler
func NewMomentHandler(momentService *services.MomentService) *MomentHandler {
	return &MomentHandler{
		momentService: momentService,
	}
}

// InitiateMomentRequest represents the request body for initiating a moment
type InitiateMomentRequest struct {
	MemoryID             *string `json:"memory_id,omitempty"`
	InitiatorImageBase64 string  `json:"initiator_image_base64"`
}

// CompleteMomentRequest represents the request body for completing a moment
type CompleteMomentRequest struct {
	PartnerImageBase64 string `json:"partner_image_base64"`
}

// InitiateMoment handles POST /api/v1/moments/initiate
func (h *MomentHandler) InitiateMoment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req InitiateMomentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	imageData, err := decodeImage(req.InitiatorImageBase64)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	moment, err := h.momentService.Initiate(ctx, userID, req.MemoryID, imageData)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Msg("Failed to initiate moment")
		respondError(w, err.Error(), momentStatusCode(err))
		return
	}

	respondJSON(w, moment, http.StatusCreated)
}

// CompleteMoment handles POST /api/v1/moments/{moment_id}/complete
func (h *MomentHandler) CompleteMoment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	momentID := chi.URLParam(r, "moment_id")

	if momentID == "" {
		respondError(w, "moment_id is required", http.StatusBadRequest)
		return
	}

	var req CompleteMomentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	imageData, err := decodeImage(req.PartnerImageBase64)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	moment, err := h.momentService.Complete(ctx, userID, momentID, imageData)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("moment_id", momentID).
			Msg("Failed to complete moment")
		respondError(w, err.Error(), momentStatusCode(err))
		return
	}

	respondJSON(w, moment, http.StatusOK)
}

// GetActiveMoment handles GET /api/v1/moments/active
func (h *MomentHandler) GetActiveMoment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	moment, err := h.momentService.ActiveForCouple(ctx, userID)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Msg("Failed to get active moment")
		respondError(w, err.Error(), momentStatusCode(err))
		return
	}

	// moment is nil when the couple has no open invitation; the body is
	// an explicit JSON null either way.
	respondJSON(w, moment, http.StatusOK)
}

// ProcessExpired handles POST /api/v1/moments/process-expired. Invoked by an
// external scheduler in addition to the in-process sweeper; unauthenticated
// automated calls are tolerated.
func (h *MomentHandler) ProcessExpired(w http.ResponseWriter, r *http.Request) {
	count, err := h.momentService.ExpireDue(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to process expired moments")
		respondError(w, "Failed to process expired moments", http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]int{"processed_count": count}, http.StatusOK)
}

// decodeImage decodes a base64 image body, accepting a data-URL prefix.
func decodeImage(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, errors.New("image is required")
	}
	if idx := strings.Index(encoded, ","); idx >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.New("image must be valid base64")
	}
	if len(data) == 0 {
		return nil, errors.New("image is required")
	}
	if len(data) > maxImageBytes {
		return nil, errors.New("image is too large")
	}
	return data, nil
}

// momentStatusCode maps lifecycle controller errors to HTTP status codes.
func momentStatusCode(err error) int {
	switch {
	case errors.Is(err, services.ErrNoCouple):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrSelfComplete):
		return http.StatusForbidden
	case errors.Is(err, services.ErrMomentNotFound),
		errors.Is(err, services.ErrMomentNotPending),
		errors.Is(err, services.ErrMemoryNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrMomentExpired):
		return http.StatusGone
	case errors.Is(err, services.ErrPendingMomentExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
