package saved

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/homescout/homescout-api/internal/domain/listing"
	"github.com/homescout/homescout-api/internal/middleware"
	"github.com/homescout/homescout-api/internal/pkg/response"
	"github.com/homescout/homescout-api/internal/pkg/validator"
)

// Handler handles saved listing HTTP requests
type Handler struct {
	repo *Repository
}

// NewHandler creates saved listings handler
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// ToggleRequest names the listing to save or unsave
type ToggleRequest struct {
	ListingID string `json:"listing_id" validate:"required,uuid"`
}

// Toggle handles POST /saved. A listing that isn't saved gets saved, one that
// is gets unsaved; the response reports the resulting state.
func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if details := validator.Validate(req); details != nil {
		response.UnprocessableEntity(w, details)
		return
	}

	listingID, err := uuid.Parse(req.ListingID)
	if err != nil {
		response.BadRequest(w, "Invalid listing ID")
		return
	}

	saved, err := h.repo.Toggle(r.Context(), userID, listingID)
	if err != nil {
		if errors.Is(err, listing.ErrListingNotFound) {
			response.NotFound(w, "Listing not found")
			return
		}
		log.Error().Err(err).Str("listing_id", req.ListingID).Msg("failed to toggle saved listing")
		response.InternalError(w)
		return
	}

	response.OK(w, map[string]bool{"saved": saved})
}

// Check handles GET /saved/{listingID}
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	listingID, err := uuid.Parse(chi.URLParam(r, "listingID"))
	if err != nil {
		response.BadRequest(w, "Invalid listing ID")
		return
	}

	saved, err := h.repo.IsSaved(r.Context(), userID, listingID)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, map[string]bool{"saved": saved})
}

// List handles GET /saved, returning the saved listings themselves
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	limit := 20
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	listings, err := h.repo.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, listings)
}

// Routes returns saved listings router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/", h.Toggle)
		r.Get("/", h.List)
		r.Get("/{listingID}", h.Check)
	})

	return r
}
