package backend

// Payment status values reported by the backend for on-chain payment
// verification endpoints.
const (
	StatusPending               = "pending"
	StatusProcessed             = "processed"
	StatusFailed                = "failed"
	StatusNoEvents              = "no_events"
	StatusConfirmedNotProcessed = "confirmed_not_processed"
)

// CreditsResponse is the backend's credit balance shape.
type CreditsResponse struct {
	Address string `json:"address"`
	Credits int    `json:"credits"`
}

// NonceResponse carries a server-issued SIWE nonce. Nonces are hex
// strings with a 15-minute expiry on the backend side.
type NonceResponse struct {
	Nonce string `json:"nonce"`
}

// VerifyRequest is the SIWE verification payload.
type VerifyRequest struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// VerifyResponse is the backend's SIWE verification result.
type VerifyResponse struct {
	Verified bool   `json:"verified"`
	Address  string `json:"address"`
	Credits  int    `json:"credits"`
}

// CheckoutSession is a Stripe checkout session created by the backend.
type CheckoutSession struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// CheckoutSessionStatus is the polled Stripe session state.
type CheckoutSessionStatus struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Credits       int    `json:"credits"`
}

// PaymentResult is the common shape of on-chain payment verification
// responses (Celo, Base Pay, token payments).
type PaymentResult struct {
	Status  string `json:"status"`
	Credits int    `json:"credits"`
	TxHash  string `json:"tx_hash,omitempty"`
	Message string `json:"message,omitempty"`
}

// Terminal reports whether the payment status needs no further polling.
func (p *PaymentResult) Terminal() bool {
	switch p.Status {
	case StatusProcessed, StatusFailed:
		return true
	}
	return false
}
