package api

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokotalk/tokotalk/pkg/events"
	"github.com/tokotalk/tokotalk/pkg/metrics"
	"github.com/tokotalk/tokotalk/pkg/orchestrator"
)

// signatureHeader carries the bridge's HMAC-SHA512 of the raw body.
const signatureHeader = "X-Webhook-Hmac"

// wahaWebhook is the subset of the bridge's webhook envelope we consume.
type wahaWebhook struct {
	Event   string `json:"event"`
	Session string `json:"session"`
	Payload struct {
		ID        string `json:"id"`
		From      string `json:"from"`
		FromMe    bool   `json:"fromMe"`
		Body      string `json:"body"`
		Timestamp int64  `json:"timestamp"`
		Notify    string `json:"_data_notifyName"`
		Location  *struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"location"`
	} `json:"payload"`
}

// WhatsAppWebhookCheck answers the bridge's reachability probe.
func (s *Server) WhatsAppWebhookCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// WhatsAppWebhook ingests one bridge event: verify, parse, publish one
// task. No processing happens inline.
func (s *Server) WhatsAppWebhook(c *gin.Context) {
	tenantID := c.Param("tenant_id")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if !verifySignature(s.cfg.WAHA.WebhookSecret, c.GetHeader(signatureHeader), body) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var hook wahaWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if hook.Event != "message" || hook.Payload.FromMe {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	task := orchestrator.IncomingMessage{
		TenantID:    tenantID,
		Session:     hook.Session,
		ChatID:      hook.Payload.From,
		MessageID:   hook.Payload.ID,
		FromName:    hook.Payload.Notify,
		Type:        "text",
		Text:        hook.Payload.Body,
		Timestamp:   time.Unix(hook.Payload.Timestamp, 0),
		WebhookType: "whatsapp",
	}
	if loc := hook.Payload.Location; loc != nil {
		task.Type = "location"
		task.Latitude = loc.Latitude
		task.Longitude = loc.Longitude
	}

	if err := s.pub.PublishTask(c.Request.Context(), s.cfg.Broker.CRMQueue, task); err != nil {
		s.logger.Error("Failed to publish incoming message", "chat_id", task.ChatID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable"})
		return
	}

	metrics.WebhooksReceived.WithLabelValues("whatsapp").Inc()
	s.emitter.Message(c.Request.Context(), events.EventMessageReceived, tenantID, task.ChatID, task.MessageID)
	c.JSON(http.StatusOK, gin.H{"status": "queued"})
}

// paymentNotification is the loose parse needed to acknowledge fast.
// Full verification happens on the worker against the gateway.
type paymentNotification struct {
	OrderID    string `json:"order_id"`
	ExternalID string `json:"external_id"`
}

// PaymentWebhook acknowledges a gateway callback immediately and defers
// verification and state application to the worker.
func (s *Server) PaymentWebhook(c *gin.Context) {
	provider := c.Param("provider")
	if _, err := s.gateways.Get(provider); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	var note paymentNotification
	_ = json.Unmarshal(body, &note)
	orderID := note.OrderID
	if orderID == "" {
		orderID = note.ExternalID
	}

	task := orchestrator.PaymentWebhookTask{
		Provider:   provider,
		Headers:    relevantHeaders(c.Request.Header),
		Body:       body,
		ReceivedAt: time.Now(),
	}
	if err := s.pub.PublishTask(c.Request.Context(), s.cfg.Broker.TaskQueue, orchestrator.TaskEnvelope{
		Kind:           orchestrator.TaskKindPaymentWebhook,
		PaymentWebhook: &task,
	}); err != nil {
		s.logger.Error("Failed to publish payment notification", "provider", provider, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable"})
		return
	}

	metrics.WebhooksReceived.WithLabelValues("payment").Inc()
	c.JSON(http.StatusOK, gin.H{"status": "queued", "provider": provider, "order_id": orderID})
}

// relevantHeaders keeps only the headers gateways sign with.
func relevantHeaders(h http.Header) map[string]string {
	out := make(map[string]string)
	for _, name := range []string{"X-Callback-Token", "Content-Type"} {
		if v := h.Get(name); v != "" {
			out[name] = v
		}
	}
	return out
}

// verifySignature checks an HMAC-SHA512 hex digest over the raw body.
// An empty configured secret disables the check.
func verifySignature(secret, signature string, body []byte) bool {
	if secret == "" {
		return true
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
