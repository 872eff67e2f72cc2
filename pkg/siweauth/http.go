package siweauth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/ghiblify/wallet-middleware/pkg/app/errors"
	apphttp "github.com/ghiblify/wallet-middleware/pkg/app/http"
)

// HTTP exposes the sign-in flow over HTTP
type HTTP struct {
	service *Service
	logger  *zap.Logger
}

// RegisterRoutes registers the auth endpoints on the given chi router.
func RegisterRoutes(r chi.Router, service *Service, logger *zap.Logger) {
	h := &HTTP{
		service: service,
		logger:  logger,
	}

	r.Post("/auth/login", apphttp.HandleError(h.login))
	r.Post("/auth/logout", apphttp.HandleError(h.logout))
	r.Get("/auth/session", apphttp.HandleError(h.session))
	r.Get("/auth/state", apphttp.HandleError(h.state))
}

// login runs the full sign-in flow against the connected wallet and
// returns the authenticated session with its bearer token.
func (h *HTTP) login(w http.ResponseWriter, r *http.Request) error {
	session, err := h.service.Authenticate(r.Context())
	if err != nil {
		if errors.Is(err, ErrAuthInProgress) {
			return apperrors.ConflictError(err, "authentication already in progress")
		}
		return err
	}
	h.writeJSON(w, http.StatusOK, session)
	return nil
}

func (h *HTTP) logout(w http.ResponseWriter, r *http.Request) error {
	h.service.Logout(r.Context())
	h.writeJSON(w, http.StatusOK, map[string]bool{"authenticated": false})
	return nil
}

func (h *HTTP) session(w http.ResponseWriter, r *http.Request) error {
	session := h.service.Session()
	if session == nil {
		return apperrors.UnAuthorizedError(nil, "not authenticated")
	}
	h.writeJSON(w, http.StatusOK, session)
	return nil
}

func (h *HTTP) state(w http.ResponseWriter, r *http.Request) error {
	state, errMsg := h.service.State()
	h.writeJSON(w, http.StatusOK, map[string]string{
		"state": string(state),
		"error": errMsg,
	})
	return nil
}

func (h *HTTP) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
