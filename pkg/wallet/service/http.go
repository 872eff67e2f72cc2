package service

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/ghiblify/wallet-middleware/pkg/app/errors"
	apphttp "github.com/ghiblify/wallet-middleware/pkg/app/http"
	"github.com/ghiblify/wallet-middleware/pkg/auth"
	"github.com/ghiblify/wallet-middleware/pkg/wallet"
)

// HTTP wraps the Service to provide HTTP endpoints
type HTTP struct {
	service Service
	logger  *zap.Logger
}

// RegisterRoutes registers the wallet endpoints on the given chi router.
// The guard middleware protects credit mutations.
func RegisterRoutes(r chi.Router, service Service, guard func(http.Handler) http.Handler, logger *zap.Logger) {
	h := &HTTP{
		service: service,
		logger:  logger,
	}

	r.Post("/wallet/connect", apphttp.HandleError(h.connect))
	r.Post("/wallet/disconnect", apphttp.HandleError(h.disconnect))
	r.Get("/wallet/state", apphttp.HandleError(h.state))
	r.Get("/wallet/credits/{address}", apphttp.HandleError(h.credits))

	r.Group(func(r chi.Router) {
		if guard != nil {
			r.Use(guard)
		}
		r.Post("/wallet/credits/use", apphttp.HandleError(h.useCredits))
		r.Post("/wallet/credits/add", apphttp.HandleError(h.addCredits))
	})
}

type connectRequest struct {
	Address  string `json:"address"`
	Provider string `json:"provider"`
}

func (h *HTTP) connect(w http.ResponseWriter, r *http.Request) error {
	var req connectRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}

	provider, err := wallet.ParseProvider(req.Provider)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid wallet provider")
	}

	conn, err := h.service.Connect(r.Context(), req.Address, provider)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, conn)
	return nil
}

func (h *HTTP) disconnect(w http.ResponseWriter, r *http.Request) error {
	if err := h.service.Disconnect(r.Context()); err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"disconnected": true})
	return nil
}

func (h *HTTP) state(w http.ResponseWriter, r *http.Request) error {
	h.writeJSON(w, http.StatusOK, h.service.GetState())
	return nil
}

// credits reports the connected wallet's balance. The address path param
// must match the active connection; the backend is re-queried so the
// response is never a stale cache.
func (h *HTTP) credits(w http.ResponseWriter, r *http.Request) error {
	address := auth.NormalizeAddress(chi.URLParam(r, "address"))
	if !auth.ValidateEVMAddress(address) {
		return apperrors.BadRequestError(nil, "invalid EVM address")
	}

	conn := h.service.GetState()
	if !conn.IsConnected || conn.User == nil || conn.User.Address != address {
		return apperrors.ResourceNotFoundError(nil, "wallet not connected")
	}

	balance, err := h.service.RefreshCredits(r.Context())
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"address": address, "credits": balance})
	return nil
}

type creditsRequest struct {
	Amount int `json:"amount"`
}

func (h *HTTP) useCredits(w http.ResponseWriter, r *http.Request) error {
	var req creditsRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	balance, err := h.service.UseCredits(r.Context(), req.Amount)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"credits": balance})
	return nil
}

func (h *HTTP) addCredits(w http.ResponseWriter, r *http.Request) error {
	var req creditsRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	balance, err := h.service.AddCredits(r.Context(), req.Amount)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"credits": balance})
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
