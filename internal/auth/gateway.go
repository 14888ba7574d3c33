// Package auth answers relay authentication callbacks and guards the
// gateway API
package auth

import (
	"github.com/eneverre/eneverre/internal/relay"
)

// Result is the outcome of a relay authentication callback
type Result int

const (
	// NotAvailable means no relay is configured
	NotAvailable Result = iota
	Unauthorized
	Authorized
)

func (r Result) String() string {
	switch r {
	case Authorized:
		return "authorized"
	case Unauthorized:
		return "unauthorized"
	default:
		return "not_available"
	}
}

// Observer receives every authentication outcome
type Observer interface {
	ObserveAuth(result string)
}

// Gateway checks relay viewers against the provisioned credential.
// It only reads immutable state and is safe for concurrent use.
type Gateway struct {
	cred     *relay.Credential
	observer Observer
}

// NewGateway creates a gateway. A nil credential reports NotAvailable.
func NewGateway(cred *relay.Credential) *Gateway {
	return &Gateway{cred: cred}
}

// SetObserver attaches a metrics observer
func (g *Gateway) SetObserver(o Observer) {
	g.observer = o
}

// Authenticate compares the submitted pair with the relay credential
func (g *Gateway) Authenticate(username, password string) Result {
	res := g.authenticate(username, password)
	if g.observer != nil {
		g.observer.ObserveAuth(res.String())
	}
	return res
}

func (g *Gateway) authenticate(username, password string) Result {
	if g.cred == nil {
		return NotAvailable
	}
	if username == "" || password == "" {
		return Unauthorized
	}
	if g.cred.Matches(username, password) {
		return Authorized
	}
	return Unauthorized
}
