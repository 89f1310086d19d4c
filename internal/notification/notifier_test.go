package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ta-enginev1/internal/execution"
	"ta-enginev1/internal/strategy"
)

func TestWebhookNotifier_PostsJSON(t *testing.T) {
	var got webhookPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "s3cret")
	err := n.Send(context.Background(), Alert{Level: LevelWarning, Title: "risk", Message: "daily loss limit hit"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer s3cret", auth)
	assert.Equal(t, "WARNING", got.Level)
	assert.Equal(t, "risk", got.Title)
	assert.Equal(t, "daily loss limit hit", got.Message)
	_, perr := time.Parse(time.RFC3339Nano, got.TS)
	assert.NoError(t, perr)
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "")
	err := n.Send(context.Background(), Alert{Level: LevelInfo, Title: "t", Message: "m"})
	assert.ErrorContains(t, err, "502")
}

func TestTelegramNotifier_SendsMessage(t *testing.T) {
	var got telegramMessage
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "-100123")
	n.apiBase = srv.URL
	err := n.Send(context.Background(), Alert{Level: LevelCritical, Title: "feed down", Message: "reconnect failed"})
	require.NoError(t, err)

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "-100123", got.ChatID)
	assert.Equal(t, "MarkdownV2", got.ParseMode)
	assert.Contains(t, got.Text, "feed down")
}

func TestEscapeMarkdownV2(t *testing.T) {
	assert.Equal(t, `SMA\(9\) \> SMA\(21\)`, escapeMarkdownV2("SMA(9) > SMA(21)"))
	assert.Equal(t, "plain text", escapeMarkdownV2("plain text"))
}

type failNotifier struct{ err error }

func (f *failNotifier) Send(context.Context, Alert) error { return f.err }

type captureNotifier struct{ alerts []Alert }

func (c *captureNotifier) Send(_ context.Context, a Alert) error {
	c.alerts = append(c.alerts, a)
	return nil
}

func TestMultiNotifier_ContinuesPastFailure(t *testing.T) {
	boom := errors.New("boom")
	cap := &captureNotifier{}
	m := NewMultiNotifier(&failNotifier{err: boom}, cap)

	err := m.Send(context.Background(), Alert{Level: LevelInfo, Title: "t", Message: "m"})
	assert.ErrorIs(t, err, boom)
	require.Len(t, cap.alerts, 1, "healthy backend still receives the alert")
}

func TestFillAlert_Levels(t *testing.T) {
	sig := strategy.Signal{StrategyName: "ma_x", Action: strategy.ActionBuy, Token: "99926000", Exchange: "NSE", Qty: 10}

	filled := FillAlert(execution.OrderResult{OrderID: "PAPER-1", Status: "FILLED", Signal: sig})
	assert.Equal(t, LevelInfo, filled.Level)

	rejected := FillAlert(execution.OrderResult{OrderID: "PAPER-2", Status: "REJECTED", Message: "no mark price", Signal: sig})
	assert.Equal(t, LevelWarning, rejected.Level)
	assert.Contains(t, rejected.Message, "no mark price")
}
