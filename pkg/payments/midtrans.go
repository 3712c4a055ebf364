package payments

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tokotalk/tokotalk/pkg/models"
)

const (
	midtransSandboxAPI    = "https://api.sandbox.midtrans.com"
	midtransProductionAPI = "https://api.midtrans.com"
	midtransSandboxApp    = "https://app.sandbox.midtrans.com"
	midtransProductionApp = "https://app.midtrans.com"
)

// Midtrans drives the Midtrans Snap API.
type Midtrans struct {
	serverKey string
	apiBase   string
	appBase   string
	client    *http.Client
}

// NewMidtrans creates a Midtrans gateway. Production toggles the live
// endpoints; otherwise the sandbox is used.
func NewMidtrans(serverKey string, production bool) *Midtrans {
	m := &Midtrans{
		serverKey: serverKey,
		apiBase:   midtransSandboxAPI,
		appBase:   midtransSandboxApp,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
	if production {
		m.apiBase = midtransProductionAPI
		m.appBase = midtransProductionApp
	}
	return m
}

// Name implements Gateway.
func (m *Midtrans) Name() string { return "midtrans" }

type midtransSnapRequest struct {
	TransactionDetails struct {
		OrderID     string `json:"order_id"`
		GrossAmount int64  `json:"gross_amount"`
	} `json:"transaction_details"`
	CustomerDetails struct {
		FirstName string `json:"first_name,omitempty"`
		Phone     string `json:"phone,omitempty"`
	} `json:"customer_details"`
}

type midtransSnapResponse struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

type midtransStatusResponse struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
}

// CreateTransaction opens a Snap transaction and returns the redirect URL.
func (m *Midtrans) CreateTransaction(ctx context.Context, req CreateRequest) (*Transaction, error) {
	var snapReq midtransSnapRequest
	snapReq.TransactionDetails.OrderID = req.OrderID
	snapReq.TransactionDetails.GrossAmount = int64(req.Amount)
	snapReq.CustomerDetails.FirstName = req.CustomerName
	snapReq.CustomerDetails.Phone = req.CustomerPhone

	var snapResp midtransSnapResponse
	if err := m.do(ctx, http.MethodPost, m.appBase+"/snap/v1/transactions", snapReq, &snapResp); err != nil {
		return nil, err
	}
	return &Transaction{
		ExternalID: snapResp.Token,
		PaymentURL: snapResp.RedirectURL,
		Status:     models.PaymentPendingPayment,
		RawStatus:  "pending",
	}, nil
}

// CheckStatus queries the current transaction status for an order.
func (m *Midtrans) CheckStatus(ctx context.Context, orderID string) (*Transaction, error) {
	var status midtransStatusResponse
	if err := m.do(ctx, http.MethodGet, fmt.Sprintf("%s/v2/%s/status", m.apiBase, orderID), nil, &status); err != nil {
		return nil, err
	}
	return &Transaction{
		ExternalID: status.TransactionID,
		Status:     midtransStatus(status.TransactionStatus, status.FraudStatus),
		RawStatus:  status.TransactionStatus,
	}, nil
}

// Cancel voids a pending transaction.
func (m *Midtrans) Cancel(ctx context.Context, orderID string) error {
	return m.do(ctx, http.MethodPost, fmt.Sprintf("%s/v2/%s/cancel", m.apiBase, orderID), nil, nil)
}

// VerifyWebhook checks the notification's SHA-512 signature
// (order_id + status_code + gross_amount + server_key) and parses it.
func (m *Midtrans) VerifyWebhook(_ http.Header, body []byte) (*WebhookNotification, error) {
	var n midtransStatusResponse
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("payments: parse midtrans webhook: %w", err)
	}
	expected := midtransSignature(n.OrderID, n.StatusCode, n.GrossAmount, m.serverKey)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(n.SignatureKey)) != 1 {
		return nil, ErrInvalidSignature
	}
	return &WebhookNotification{
		OrderID:    n.OrderID,
		ExternalID: n.TransactionID,
		Status:     midtransStatus(n.TransactionStatus, n.FraudStatus),
		RawStatus:  n.TransactionStatus,
	}, nil
}

func (m *Midtrans) do(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("payments: encode midtrans request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("payments: build midtrans request: %w", err)
	}
	req.SetBasicAuth(m.serverKey, "")
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("payments: midtrans request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("payments: midtrans returned %d: %s", resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("payments: decode midtrans response: %w", err)
	}
	return nil
}

func midtransSignature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// midtransStatus maps Midtrans transaction statuses to the internal
// payment vocabulary. A capture flagged as fraud counts as failed.
func midtransStatus(status, fraud string) models.PaymentStatus {
	switch status {
	case "capture":
		if fraud == "challenge" || fraud == "deny" {
			return models.PaymentFailed
		}
		return models.PaymentPaid
	case "settlement":
		return models.PaymentPaid
	case "pending":
		return models.PaymentPendingPayment
	case "deny", "failure":
		return models.PaymentFailed
	case "expire":
		return models.PaymentExpired
	case "cancel":
		return models.PaymentCancelled
	case "refund", "partial_refund":
		return models.PaymentRefunded
	default:
		return models.PaymentPending
	}
}
