package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acme-manager/internal/config"
)

func newTestNotifier(cfg *config.WebhookConfig) *WebhookNotifier {
	w := NewWebhookNotifier(cfg)
	w.retryInterval = time.Millisecond
	return w
}

func TestDisabledNotifier(t *testing.T) {
	assert.Nil(t, NewWebhookNotifier(nil))
	assert.Nil(t, NewWebhookNotifier(&config.WebhookConfig{URL: "http://unused"}))

	var w *WebhookNotifier
	assert.False(t, w.IsEnabled())
	assert.NoError(t, w.NotifyCertFailed(context.Background(), "example.com", "id", "boom"))
}

func TestNotifySendsEvent(t *testing.T) {
	var got EventData
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		rw.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := newTestNotifier(&config.WebhookConfig{
		Enabled: true,
		URL:     srv.URL,
		Headers: map[string]string{"X-Token": "secret"},
	})

	require.NoError(t, w.NotifyCleanupFailed(context.Background(), "example.com", "attempt-1", 2))
	assert.Equal(t, "secret", header)
	assert.Equal(t, string(EventCleanupFailed), got.Event)
	assert.Equal(t, "example.com", got.Domain)
	assert.Equal(t, "attempt-1", got.Data["attempt_id"])
	assert.EqualValues(t, 2, got.Data["failed"])
}

func TestNotifyFiltersEvents(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	w := newTestNotifier(&config.WebhookConfig{Enabled: true, URL: srv.URL, Events: []string{"cert_failed"}})

	require.NoError(t, w.NotifyCertRenewed(context.Background(), "example.com", "id", time.Now()))
	assert.Zero(t, calls.Load())

	require.NoError(t, w.NotifyCertFailed(context.Background(), "example.com", "id", "boom"))
	assert.EqualValues(t, 1, calls.Load())
}

func TestNotifyRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			rw.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	w := newTestNotifier(&config.WebhookConfig{Enabled: true, URL: srv.URL, Retries: 3})
	require.NoError(t, w.NotifyDNSTimeout(context.Background(), "example.com", "id"))
	assert.EqualValues(t, 3, calls.Load())
}

func TestNotifyGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		rw.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := newTestNotifier(&config.WebhookConfig{Enabled: true, URL: srv.URL, Retries: 2})
	err := w.NotifyCertFailed(context.Background(), "example.com", "id", "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.EqualValues(t, 2, calls.Load())
}

func TestNotifyBodyTemplate(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	}))
	defer srv.Close()

	w := newTestNotifier(&config.WebhookConfig{
		Enabled:      true,
		URL:          srv.URL,
		BodyTemplate: `{"text":"{{.Event}} {{.Domain}}","data":{{toJson .Data}}}`,
	})

	require.NoError(t, w.NotifyDNSTimeout(context.Background(), "example.com", "a1"))
	assert.JSONEq(t, `{"text":"dns_timeout example.com","data":{"attempt_id":"a1"}}`, body)
}
