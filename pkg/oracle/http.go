package oracle

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/ghiblify/wallet-middleware/pkg/app/errors"
	apphttp "github.com/ghiblify/wallet-middleware/pkg/app/http"
	"github.com/ghiblify/wallet-middleware/pkg/pricing"
)

// HTTP exposes the price oracle over HTTP
type HTTP struct {
	oracle *Oracle
	logger *zap.Logger
}

// RegisterRoutes registers the price endpoints on the given chi router.
func RegisterRoutes(r chi.Router, oracle *Oracle, logger *zap.Logger) {
	h := &HTTP{
		oracle: oracle,
		logger: logger,
	}

	r.Get("/price", apphttp.HandleError(h.price))
	r.Get("/price/stable", apphttp.HandleError(h.stable))
	r.Post("/price/calculate", apphttp.HandleError(h.calculate))
}

func (h *HTTP) price(w http.ResponseWriter, r *http.Request) error {
	h.writeJSON(w, http.StatusOK, h.oracle.GetTokenPrice(r.Context()))
	return nil
}

func (h *HTTP) stable(w http.ResponseWriter, r *http.Request) error {
	h.writeJSON(w, http.StatusOK, map[string]bool{
		"stable": h.oracle.IsPriceStable(r.Context()),
	})
	return nil
}

type calculateRequest struct {
	Tier string `json:"tier"`
}

// calculate converts a tier's base USD price into the token amount the
// wallet must approve, with the token discount and safety buffer
// applied.
func (h *HTTP) calculate(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		return apperrors.BadRequestError(err, "failed to read request")
	}
	var req calculateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return apperrors.BadRequestError(err, "invalid JSON")
	}

	tier, err := pricing.GetTier(req.Tier)
	if err != nil {
		return apperrors.BadRequestError(err, "unknown pricing tier")
	}

	calc, err := h.oracle.CalculateTokenAmount(r.Context(), tier.PriceUSD, tier.Name)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, calc)
	return nil
}

func (h *HTTP) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
