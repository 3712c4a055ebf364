// Package bridge talks to the WAHA WhatsApp HTTP bridge.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client sends messages through a WAHA server. One server hosts many
// sessions; the session name selects the tenant's WhatsApp account.
type Client struct {
	serverURL string
	apiKey    string
	client    *http.Client
}

// NewClient creates a WAHA client.
func NewClient(serverURL, apiKey string) *Client {
	return &Client{
		serverURL: serverURL,
		apiKey:    apiKey,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

type sendTextRequest struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// SendText delivers one text bubble to a chat.
func (c *Client) SendText(ctx context.Context, session, chatID, text, replyTo string) error {
	raw, err := json.Marshal(sendTextRequest{
		Session: session,
		ChatID:  chatID,
		Text:    text,
		ReplyTo: replyTo,
	})
	if err != nil {
		return fmt.Errorf("bridge: encode sendText: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.serverURL+"/api/sendText", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("bridge: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge: sendText: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("bridge: sendText returned %d: %s", resp.StatusCode, body)
	}
	return nil
}

// SendSeen marks a chat as read so the customer sees the blue ticks
// while the agent is working.
func (c *Client) SendSeen(ctx context.Context, session, chatID string) error {
	raw, err := json.Marshal(map[string]string{"session": session, "chatId": chatID})
	if err != nil {
		return fmt.Errorf("bridge: encode sendSeen: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.serverURL+"/api/sendSeen", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("bridge: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge: sendSeen: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("bridge: sendSeen returned %d: %s", resp.StatusCode, body)
	}
	return nil
}
