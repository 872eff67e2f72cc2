package payments

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/ghiblify/wallet-middleware/pkg/app/errors"
	apphttp "github.com/ghiblify/wallet-middleware/pkg/app/http"
	"github.com/ghiblify/wallet-middleware/pkg/auth"
	"github.com/ghiblify/wallet-middleware/pkg/pricing"
)

// HTTP wraps the Service to provide HTTP endpoints
type HTTP struct {
	service Service
	logger  *zap.Logger
}

// RegisterRoutes registers the payment endpoints on the given chi router.
// The guard middleware protects purchase and cancel operations.
func RegisterRoutes(r chi.Router, service Service, guard func(http.Handler) http.Handler, logger *zap.Logger) {
	h := &HTTP{
		service: service,
		logger:  logger,
	}

	r.Get("/payments/{id}", apphttp.HandleError(h.getPayment))
	r.Get("/payments/history/{address}", apphttp.HandleError(h.history))

	r.Group(func(r chi.Router) {
		if guard != nil {
			r.Use(guard)
		}
		r.Post("/payments/{method}", apphttp.HandleError(h.purchase))
		r.Delete("/payments/{id}", apphttp.HandleError(h.cancel))
	})
}

type purchaseRequest struct {
	Address string `json:"address"`
	Tier    string `json:"tier"`
}

// purchase starts a credit purchase with the method from the URL and
// blocks until the payment reaches a terminal status. Stripe purchases
// return early with the checkout URL in the receipt.
func (h *HTTP) purchase(w http.ResponseWriter, r *http.Request) error {
	method, err := pricing.ParseMethod(chi.URLParam(r, "method"))
	if err != nil {
		return apperrors.BadRequestError(err, "unknown payment method")
	}

	var req purchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}

	receipt, err := h.service.Purchase(r.Context(), &PurchaseRequest{
		Address: req.Address,
		Method:  method,
		Tier:    req.Tier,
	})
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, receipt)
	return nil
}

func (h *HTTP) getPayment(w http.ResponseWriter, r *http.Request) error {
	payment, err := h.service.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, payment)
	return nil
}

func (h *HTTP) history(w http.ResponseWriter, r *http.Request) error {
	address := auth.NormalizeAddress(chi.URLParam(r, "address"))
	if !auth.ValidateEVMAddress(address) {
		return apperrors.BadRequestError(nil, "invalid EVM address")
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return apperrors.BadRequestError(err, "invalid limit")
		}
		limit = parsed
	}

	payments, err := h.service.History(r.Context(), address, limit)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, payments)
	return nil
}

// cancel aborts an in-flight payment. Cancelling a payment that already
// reached a terminal status is a 404; funds already sent on chain are
// reconciled by the poller, not reversed.
func (h *HTTP) cancel(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	if !h.service.Cancel(id) {
		return apperrors.ResourceNotFoundError(nil, "no in-flight payment with that id")
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
	return nil
}

func decodeJSON(r *http.Request, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		return apperrors.BadRequestError(err, "failed to read request")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.BadRequestError(err, "invalid JSON")
	}
	return nil
}

func (h *HTTP) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
