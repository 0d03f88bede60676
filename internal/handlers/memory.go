package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"moment-backend/internal/middleware"
	"moment-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// MemoryHandler handles memory-related HTTP requests
type MemoryHandler struct {
	memoryService *services.MemoryService
}

// NewMemoryHandler creates a new memory handler
func NewMemoryHandler(memoryService *services.MemoryService) *MemoryHandler {
	return &MemoryHandler{
		memoryService: memoryService,
	}
}

// CreateMemoryRequest represents the request body for creating a memory
type CreateMemoryRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
}

// CreateMemory handles POST /api/v1/memories
func (h *MemoryHandler) CreateMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req CreateMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	memory, err := h.memoryService.CreateMemory(ctx, userID, req.Title, req.Description)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Msg("Failed to create memory")

		statusCode := http.StatusInternalServerError
		if strings.HasPrefix(err.Error(), "user is not in a couple") {
			statusCode = http.StatusNotFound
		} else if err.Error() == "title is required" ||
			strings.HasPrefix(err.Error(), "title must be") {
			statusCode = http.StatusBadRequest
		}

		respondError(w, err.Error(), statusCode)
		return
	}

	respondJSON(w, memory, http.StatusCreated)
}

// GetMemories handles GET /api/v1/memories
func (h *MemoryHandler) GetMemories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	limit := 50
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil {
			limit = parsedLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsedOffset, err := strconv.Atoi(offsetStr); err == nil {
			offset = parsedOffset
		}
	}

	memories, total, err := h.memoryService.GetMemoriesByUser(ctx, userID, limit, offset)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Msg("Failed to get memories")

		statusCode := http.StatusInternalServerError
		if strings.HasPrefix(err.Error(), "user is not in a couple") {
			statusCode = http.StatusNotFound
		}

		respondError(w, err.Error(), statusCode)
		return
	}

	respondJSON(w, map[string]any{
		"memories": memories,
		"total":    total,
	}, http.StatusOK)
}
