// Package wallet defines the domain types for wallet connection state.
package wallet

import "fmt"

// Provider identifies which wallet integration produced a connection.
type Provider string

const (
	ProviderRainbowKit Provider = "rainbowkit"
	ProviderBase       Provider = "base"
	ProviderFarcaster  Provider = "farcaster"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderRainbowKit, ProviderBase, ProviderFarcaster:
		return true
	}
	return false
}

// ParseProvider converts a string into a Provider, rejecting unknown values.
func ParseProvider(s string) (Provider, error) {
	p := Provider(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown wallet provider: %q", s)
	}
	return p, nil
}

// User is the connected wallet identity. Address is always stored in
// lowercase canonical form. Credits mirrors the backend ledger and is
// never computed locally.
type User struct {
	Address       string   `json:"address"`
	Provider      Provider `json:"provider"`
	Credits       int      `json:"credits"`
	Authenticated bool     `json:"authenticated"`
	Timestamp     int64    `json:"timestamp"` // epoch milliseconds
}

// Connection is the full wallet connection snapshot. At most one User is
// held at a time; connecting a second provider replaces it.
type Connection struct {
	IsConnected bool   `json:"isConnected"`
	User        *User  `json:"user"`
	IsLoading   bool   `json:"isLoading"`
	Error       string `json:"error,omitempty"`
}

// Clone returns a deep copy so subscribers cannot mutate service state.
func (c Connection) Clone() Connection {
	out := c
	if c.User != nil {
		u := *c.User
		out.User = &u
	}
	return out
}
