package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/homescout/homescout-api/internal/middleware"
	"github.com/homescout/homescout-api/internal/pkg/response"
	"github.com/homescout/homescout-api/internal/pkg/validator"
)

// Limit webhook bodies; gateway payloads are small.
const maxWebhookBody = 1 << 20

// Handler handles payment HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates payment handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// ListPackages handles GET /payments/packages
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := h.service.ListPackages(r.Context())
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, packages)
}

// CreateOrder handles POST /payments/orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if details := validator.Validate(req); details != nil {
		response.UnprocessableEntity(w, details)
		return
	}

	result, err := h.service.CreateOrder(r.Context(), userID, req.PackageName)
	if err != nil {
		switch {
		case errors.Is(err, ErrPackageNotFound):
			response.NotFound(w, "Credit package not found")
		case errors.Is(err, ErrProviderUnavailable):
			response.Error(w, http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE", "Payment provider is unavailable, try again later")
		default:
			log.Error().Err(err).Str("package", req.PackageName).Msg("failed to create order")
			response.InternalError(w)
		}
		return
	}

	response.Created(w, result)
}

// VerifyPayment handles POST /payments/verify
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req VerifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if details := validator.Validate(req); details != nil {
		response.UnprocessableEntity(w, details)
		return
	}

	result, err := h.service.VerifyPayment(r.Context(), userID, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrTransactionNotFound):
			response.NotFound(w, "Transaction not found")
		case errors.Is(err, ErrSignatureMismatch):
			response.BadRequest(w, "Payment signature verification failed")
		case errors.Is(err, ErrAlreadyProcessed):
			response.Conflict(w, "Transaction already processed")
		default:
			log.Error().Err(err).Str("order_id", req.OrderID).Msg("failed to verify payment")
			response.InternalError(w)
		}
		return
	}

	response.OK(w, result)
}

// Webhook handles POST /webhooks/razorpay. Bodies that can never be
// processed (bad signature, unusable payload) are terminal: a 400 or an ack,
// never a retry. Transient failures return 5xx so the gateway redelivers;
// settlement idempotency makes the redelivery safe.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "Unable to read request body")
		return
	}

	signature := r.Header.Get("X-Razorpay-Signature")
	if err := h.service.HandleWebhook(r.Context(), body, signature); err != nil {
		switch {
		case errors.Is(err, ErrSignatureMismatch):
			response.BadRequest(w, "Webhook signature verification failed")
		case errors.Is(err, ErrInvalidPayload):
			log.Warn().Err(err).Msg("unprocessable webhook payload, acknowledging")
			response.OK(w, map[string]string{"status": "ok"})
		default:
			log.Error().Err(err).Msg("webhook processing failed, requesting redelivery")
			response.InternalError(w)
		}
		return
	}

	response.OK(w, map[string]string{"status": "ok"})
}

// GetPayment handles GET /payments/{paymentID}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")
	if paymentID == "" {
		response.BadRequest(w, "Payment ID is required")
		return
	}

	payment, err := h.service.FetchPayment(r.Context(), paymentID)
	if err != nil {
		if errors.Is(err, ErrProviderUnavailable) {
			response.Error(w, http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE", "Payment provider is unavailable, try again later")
			return
		}
		response.InternalError(w)
		return
	}

	response.OK(w, payment)
}

// GetHistory handles GET /payments/transactions
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
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

	transactions, err := h.service.GetHistory(r.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, transactions)
}

// Routes returns payment router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/packages", h.ListPackages)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/orders", h.CreateOrder)
		r.Post("/verify", h.VerifyPayment)
		r.Get("/transactions", h.GetHistory)
		r.Get("/{paymentID}", h.GetPayment)
	})

	return r
}

// WebhookRoutes returns the unauthenticated webhook router
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/razorpay", h.Webhook)
	return r
}
