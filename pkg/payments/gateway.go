// Package payments abstracts the payment gateways the agent can drive.
// Each provider implements Gateway; webhooks are verified and normalised
// here so the rest of the system only ever sees the internal payment
// status vocabulary.
package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tokotalk/tokotalk/pkg/models"
)

var (
	// ErrUnknownProvider is returned for unregistered provider names.
	ErrUnknownProvider = errors.New("payments: unknown provider")

	// ErrInvalidSignature is returned when webhook authenticity
	// verification fails.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
)

// CreateRequest describes the transaction to open with a gateway.
type CreateRequest struct {
	OrderID       string
	Amount        float64
	CustomerName  string
	CustomerPhone string
	Description   string
}

// Transaction is the normalised result of a gateway call.
type Transaction struct {
	ExternalID string
	PaymentURL string
	Status     models.PaymentStatus
	RawStatus  string // provider's own status string, kept for audits
}

// WebhookNotification is a parsed, verified gateway callback.
type WebhookNotification struct {
	OrderID    string
	ExternalID string
	Status     models.PaymentStatus
	RawStatus  string
}

// Gateway is one payment provider.
type Gateway interface {
	Name() string
	CreateTransaction(ctx context.Context, req CreateRequest) (*Transaction, error)
	CheckStatus(ctx context.Context, orderID string) (*Transaction, error)
	Cancel(ctx context.Context, orderID string) error

	// VerifyWebhook authenticates and parses a raw callback. Returns
	// ErrInvalidSignature when the payload cannot be trusted.
	VerifyWebhook(header http.Header, body []byte) (*WebhookNotification, error)
}

// Registry maps provider names to gateways.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry creates a registry over the given gateways.
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Name()] = g
	}
	return r
}

// Get returns the gateway for a provider name.
func (r *Registry) Get(provider string) (Gateway, error) {
	g, ok := r.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return g, nil
}

// Providers lists registered provider names.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	return names
}
