package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"moment-backend/internal/middleware"
	"moment-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// CoupleHandler handles couple-related HTTP requests
type CoupleHandler struct {
	coupleService *services.CoupleService
	events        services.EventPublisher
}

// NewCoupleHandler creates a new couple handler
func NewCoupleHandler(coupleService *services.CoupleService, events services.EventPublisher) *CoupleHandler {
	return &CoupleHandler{
		coupleService: coupleService,
		events:        events,
	}
}

// CreateCoupleRequest represents the request body for pairing
type CreateCoupleRequest struct {
	PartnerCode string `json:"partner_code"`
}

// CreateCouple handles POST /api/v1/couples
func (h *CoupleHandler) CreateCouple(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req CreateCoupleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.PartnerCode == "" {
		respondError(w, "partner_code is required", http.StatusBadRequest)
		return
	}

	couple, err := h.coupleService.CreateCouple(ctx, userID, req.PartnerCode)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Msg("Failed to create couple")

		statusCode := http.StatusInternalServerError
		if strings.HasPrefix(err.Error(), "partner not found") {
			statusCode = http.StatusNotFound
		} else if err.Error() == "cannot create couple with yourself" ||
			err.Error() == "user is already in a couple" ||
			err.Error() == "partner is already in a couple" {
			statusCode = http.StatusConflict
		} else if strings.HasPrefix(err.Error(), "partner code must be") {
			statusCode = http.StatusBadRequest
		}

		respondError(w, err.Error(), statusCode)
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("couple_id", couple.ID).
		Msg("Couple created")

	h.events.Publish(couple.ID, services.EventCouplePaired, services.CouplePairedEvent{
		CoupleID:  couple.ID,
		UserAID:   couple.UserAID,
		UserBID:   couple.UserBID,
		CreatedAt: couple.CreatedAt,
	})

	respondJSON(w, couple, http.StatusCreated)
}

// DeleteCouple handles DELETE /api/v1/couples/{couple_id}
func (h *CoupleHandler) DeleteCouple(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	coupleID := chi.URLParam(r, "couple_id")

	if coupleID == "" {
		respondError(w, "couple_id is required", http.StatusBadRequest)
		return
	}

	err := h.coupleService.DeleteCouple(ctx, coupleID, userID)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("couple_id", coupleID).
			Msg("Failed to delete couple")

		statusCode := http.StatusInternalServerError
		if strings.HasPrefix(err.Error(), "couple not found") {
			statusCode = http.StatusNotFound
		} else if err.Error() == "user is not a member of this couple" {
			statusCode = http.StatusForbidden
		}

		respondError(w, err.Error(), statusCode)
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("couple_id", coupleID).
		Msg("Couple deleted")

	h.events.Publish(coupleID, services.EventCoupleUnpaired, nil)

	w.WriteHeader(http.StatusNoContent)
}

// GetMyCouple handles GET /api/v1/couples/me
func (h *CoupleHandler) GetMyCouple(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	couple, err := h.coupleService.GetCoupleByUserID(ctx, userID)
	if err != nil {
		respondError(w, "user is not in a couple", http.StatusNotFound)
		return
	}

	respondJSON(w, couple, http.StatusOK)
}
