package listing

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/homescout/homescout-api/internal/domain/credit"
	"github.com/homescout/homescout-api/internal/middleware"
	"github.com/homescout/homescout-api/internal/pkg/response"
	"github.com/homescout/homescout-api/internal/pkg/validator"
)

// Handler handles listing HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates listing handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Create handles POST /listings
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req CreateListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if details := validator.Validate(req); details != nil {
		response.UnprocessableEntity(w, details)
		return
	}

	l, err := h.service.Create(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, err, "failed to create listing")
		return
	}

	response.Created(w, l)
}

// Get handles GET /listings/{listingID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	l, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "failed to get listing")
		return
	}

	response.OK(w, l)
}

// List handles GET /listings
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filters := ListFilters{
		City:        r.URL.Query().Get("city"),
		ListingType: r.URL.Query().Get("type"),
		Limit:       20,
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			filters.Limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			filters.Offset = v
		}
	}

	listings, err := h.service.ListActive(r.Context(), filters)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, listings)
}

// ListMine handles GET /listings/mine
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
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

	listings, err := h.service.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, listings)
}

// Update handles PATCH /listings/{listingID}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req UpdateListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if details := validator.Validate(req); details != nil {
		response.UnprocessableEntity(w, details)
		return
	}

	l, err := h.service.Update(r.Context(), userID, id, req)
	if err != nil {
		h.writeError(w, err, "failed to update listing")
		return
	}

	response.OK(w, l)
}

// Publish handles POST /listings/{listingID}/publish
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	l, err := h.service.Publish(r.Context(), userID, id)
	if err != nil {
		h.writeError(w, err, "failed to publish listing")
		return
	}

	response.OK(w, l)
}

// Renew handles POST /listings/{listingID}/renew
func (h *Handler) Renew(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	l, err := h.service.Renew(r.Context(), userID, id)
	if err != nil {
		h.writeError(w, err, "failed to renew listing")
		return
	}

	response.OK(w, l)
}

// Delete handles DELETE /listings/{listingID}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	result, err := h.service.Delete(r.Context(), userID, id)
	if err != nil {
		h.writeError(w, err, "failed to delete listing")
		return
	}

	response.OK(w, result)
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "listingID"))
	if err != nil {
		response.BadRequest(w, "Invalid listing ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, ErrListingNotFound):
		response.NotFound(w, "Listing not found")
	case errors.Is(err, ErrNotOwner):
		response.Forbidden(w, "You do not own this listing")
	case errors.Is(err, ErrInvalidStatus):
		response.Conflict(w, "Listing status does not allow this operation")
	case errors.Is(err, credit.ErrInsufficientCredits):
		response.Error(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS", err.Error())
	case errors.Is(err, credit.ErrUserNotFound):
		response.NotFound(w, "User not found")
	default:
		log.Error().Err(err).Msg(logMsg)
		response.InternalError(w)
	}
}

// Routes returns listing router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/", h.Create)
		r.Get("/mine", h.ListMine)
		r.Patch("/{listingID}", h.Update)
		r.Post("/{listingID}/publish", h.Publish)
		r.Post("/{listingID}/renew", h.Renew)
		r.Delete("/{listingID}", h.Delete)
	})

	r.Get("/{listingID}", h.Get)

	return r
}
