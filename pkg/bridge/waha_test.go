package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendText(t *testing.T) {
	var got sendTextRequest
	var apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/sendText", r.URL.Path)
		apiKey = r.Header.Get("X-Api-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret-key")
	err := c.SendText(context.Background(), "toko", "628111@c.us", "Halo kak!", "")
	require.NoError(t, err)
	assert.Equal(t, "secret-key", apiKey)
	assert.Equal(t, "toko", got.Session)
	assert.Equal(t, "628111@c.us", got.ChatID)
	assert.Equal(t, "Halo kak!", got.Text)
}

func TestSendTextServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"session not started"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	err := c.SendText(context.Background(), "toko", "628111@c.us", "Halo", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "session not started")
}
