package autoconnect

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/ghiblify/wallet-middleware/pkg/app/errors"
	apphttp "github.com/ghiblify/wallet-middleware/pkg/app/http"
	"github.com/ghiblify/wallet-middleware/pkg/auth"
)

// HTTP exposes network policy over HTTP
type HTTP struct {
	service *Service
	logger  *zap.Logger
}

// RegisterRoutes registers the network endpoints on the given chi router.
func RegisterRoutes(r chi.Router, service *Service, logger *zap.Logger) {
	h := &HTTP{
		service: service,
		logger:  logger,
	}

	r.Get("/networks/validate", apphttp.HandleError(h.validate))
	r.Post("/networks/switch", apphttp.HandleError(h.switchNetwork))
	r.Post("/networks/autoconnect", apphttp.HandleError(h.autoConnect))
	r.Get("/networks/config", apphttp.HandleError(h.getConfig))
	r.Put("/networks/config", apphttp.HandleError(h.putConfig))
}

// validate reports whether the wallet's active chain matches the given
// network.
func (h *HTTP) validate(w http.ResponseWriter, r *http.Request) error {
	network, err := ParseNetwork(r.URL.Query().Get("network"))
	if err != nil {
		return apperrors.BadRequestError(err, "unknown network")
	}

	ok, err := h.service.ValidateNetwork(r.Context(), network)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"network": network,
		"active":  ok,
	})
	return nil
}

type switchRequest struct {
	Address string `json:"address"`
	Network string `json:"network"`
}

func (h *HTTP) switchNetwork(w http.ResponseWriter, r *http.Request) error {
	var req switchRequest
	if err := h.decodeJSON(r, &req); err != nil {
		return err
	}
	if !auth.ValidateEVMAddress(req.Address) {
		return apperrors.BadRequestError(nil, "invalid EVM address")
	}
	network, err := ParseNetwork(req.Network)
	if err != nil {
		return apperrors.BadRequestError(err, "unknown network")
	}

	switched := h.service.SwitchNetwork(r.Context(), auth.NormalizeAddress(req.Address), network)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"network":  network,
		"switched": switched,
	})
	return nil
}

type autoConnectRequest struct {
	Address string `json:"address"`
}

func (h *HTTP) autoConnect(w http.ResponseWriter, r *http.Request) error {
	var req autoConnectRequest
	if err := h.decodeJSON(r, &req); err != nil {
		return err
	}
	if !auth.ValidateEVMAddress(req.Address) {
		return apperrors.BadRequestError(nil, "invalid EVM address")
	}

	network, err := h.service.AttemptAutoConnection(r.Context(), auth.NormalizeAddress(req.Address))
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"network": network})
	return nil
}

func (h *HTTP) getConfig(w http.ResponseWriter, r *http.Request) error {
	h.writeJSON(w, http.StatusOK, h.service.Config())
	return nil
}

func (h *HTTP) putConfig(w http.ResponseWriter, r *http.Request) error {
	var cfg Config
	if err := h.decodeJSON(r, &cfg); err != nil {
		return err
	}
	if cfg.PreferredNetwork != "" {
		if _, err := ParseNetwork(string(cfg.PreferredNetwork)); err != nil {
			return apperrors.BadRequestError(err, "unknown preferred network")
		}
	}

	h.service.SetConfig(r.Context(), cfg)
	h.writeJSON(w, http.StatusOK, h.service.Config())
	return nil
}

func (h *HTTP) decodeJSON(r *http.Request, out any) error {
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
