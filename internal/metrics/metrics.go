// Package metrics defines the Prometheus instrumentation for the wallet
// middleware.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WalletConnectsTotal counts wallet connection attempts by provider and outcome
	WalletConnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_connects_total",
			Help: "Total number of wallet connection attempts",
		},
		[]string{"provider", "status"},
	)

	// PaymentsTotal counts payments by method and terminal status
	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_payments_total",
			Help: "Total number of payment attempts",
		},
		[]string{"method", "status"},
	)

	// PaymentDuration tracks end-to-end payment processing time
	PaymentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletd_payment_duration_seconds",
			Help:    "Payment processing duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"method"},
	)

	// CreditsGranted tracks credits granted per payment method
	CreditsGranted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_credits_granted_total",
			Help: "Total credits granted by payment method",
		},
		[]string{"method"},
	)

	// PriceFetchesTotal counts oracle price fetches by source and outcome
	PriceFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_price_fetches_total",
			Help: "Total number of token price fetches",
		},
		[]string{"source", "status"},
	)

	// TokenPriceUSD tracks the last accepted token price
	TokenPriceUSD = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "walletd_token_price_usd",
			Help: "Last accepted GHIBLIFY token price in USD",
		},
	)

	// AuthAttemptsTotal counts sign-in attempts by outcome
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_auth_attempts_total",
			Help: "Total number of sign-in attempts",
		},
		[]string{"status"},
	)

	// BackendRequestsTotal counts requests to the Ghiblify backend
	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_backend_requests_total",
			Help: "Total number of backend API requests",
		},
		[]string{"endpoint", "status"},
	)

	// HTTPRequestDuration tracks HTTP handler latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletd_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// ErrorsTotal counts errors by component
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)
