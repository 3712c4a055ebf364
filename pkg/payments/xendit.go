package payments

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tokotalk/tokotalk/pkg/models"
)

const xenditAPI = "https://api.xendit.co"

// Xendit drives the Xendit invoice API.
type Xendit struct {
	secretKey     string
	callbackToken string
	baseURL       string
	client        *http.Client
}

// NewXendit creates a Xendit gateway. callbackToken authenticates
// incoming webhooks via the x-callback-token header.
func NewXendit(secretKey, callbackToken string) *Xendit {
	return &Xendit{
		secretKey:     secretKey,
		callbackToken: callbackToken,
		baseURL:       xenditAPI,
		client:        &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements Gateway.
func (x *Xendit) Name() string { return "xendit" }

type xenditInvoiceRequest struct {
	ExternalID  string  `json:"external_id"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description,omitempty"`
	PayerName   string  `json:"payer_name,omitempty"`
}

type xenditInvoice struct {
	ID         string  `json:"id"`
	ExternalID string  `json:"external_id"`
	Status     string  `json:"status"`
	InvoiceURL string  `json:"invoice_url"`
	Amount     float64 `json:"amount"`
}

// CreateTransaction creates an invoice keyed by the order id.
func (x *Xendit) CreateTransaction(ctx context.Context, req CreateRequest) (*Transaction, error) {
	var inv xenditInvoice
	err := x.do(ctx, http.MethodPost, x.baseURL+"/v2/invoices", xenditInvoiceRequest{
		ExternalID:  req.OrderID,
		Amount:      req.Amount,
		Description: req.Description,
		PayerName:   req.CustomerName,
	}, &inv)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		ExternalID: inv.ID,
		PaymentURL: inv.InvoiceURL,
		Status:     xenditStatus(inv.Status),
		RawStatus:  inv.Status,
	}, nil
}

// CheckStatus looks the invoice up by its external id (the order id).
func (x *Xendit) CheckStatus(ctx context.Context, orderID string) (*Transaction, error) {
	var invoices []xenditInvoice
	err := x.do(ctx, http.MethodGet, x.baseURL+"/v2/invoices?external_id="+orderID, nil, &invoices)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, fmt.Errorf("payments: no xendit invoice for order %s", orderID)
	}
	inv := invoices[0]
	return &Transaction{
		ExternalID: inv.ID,
		PaymentURL: inv.InvoiceURL,
		Status:     xenditStatus(inv.Status),
		RawStatus:  inv.Status,
	}, nil
}

// Cancel expires the invoice.
func (x *Xendit) Cancel(ctx context.Context, orderID string) error {
	tx, err := x.CheckStatus(ctx, orderID)
	if err != nil {
		return err
	}
	return x.do(ctx, http.MethodPost, fmt.Sprintf("%s/invoices/%s/expire!", x.baseURL, tx.ExternalID), nil, nil)
}

// VerifyWebhook compares the x-callback-token header against the
// configured token, then parses the invoice callback.
func (x *Xendit) VerifyWebhook(header http.Header, body []byte) (*WebhookNotification, error) {
	token := header.Get("x-callback-token")
	if x.callbackToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(x.callbackToken)) != 1 {
		return nil, ErrInvalidSignature
	}
	var inv xenditInvoice
	if err := json.Unmarshal(body, &inv); err != nil {
		return nil, fmt.Errorf("payments: parse xendit webhook: %w", err)
	}
	return &WebhookNotification{
		OrderID:    inv.ExternalID,
		ExternalID: inv.ID,
		Status:     xenditStatus(inv.Status),
		RawStatus:  inv.Status,
	}, nil
}

func (x *Xendit) do(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("payments: encode xendit request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("payments: build xendit request: %w", err)
	}
	req.SetBasicAuth(x.secretKey, "")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := x.client.Do(req)
	if err != nil {
		return fmt.Errorf("payments: xendit request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("payments: xendit returned %d: %s", resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("payments: decode xendit response: %w", err)
	}
	return nil
}

// xenditStatus maps Xendit invoice statuses to the internal vocabulary.
func xenditStatus(status string) models.PaymentStatus {
	switch status {
	case "PAID", "SETTLED":
		return models.PaymentPaid
	case "PENDING":
		return models.PaymentPendingPayment
	case "EXPIRED":
		return models.PaymentExpired
	default:
		return models.PaymentPending
	}
}
