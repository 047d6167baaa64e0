package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexhq/cortex/internal/model"
)

func TestSendLowSeverityLogsOnly(t *testing.T) {
	n := New("", "", "")
	sent := n.Send(context.Background(), "api-x", model.SeverityLow, "title", "message", nil)
	assert.Equal(t, []string{"log only"}, sent)
}

func TestSendCriticalRoutesToWebhook(t *testing.T) {
	var received webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New("", srv.URL, "")
	sent := n.Send(context.Background(), "api-x", model.SeverityCritical, "down", "service is down", nil)

	assert.Contains(t, sent, "webhook")
	assert.Equal(t, "api-x", received.Service)
	assert.Equal(t, "critical", received.Severity)
}

func TestSendEmailChannelNotImplemented(t *testing.T) {
	n := New("", "", "oncall@example.com")
	err := n.sendEmail(context.Background(), "title", "message")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSendIncidentFormatsActionSummary(t *testing.T) {
	var received webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New("", srv.URL, "")
	inc := model.Incident{
		ID:       "inc-1",
		Service:  "api-x",
		Severity: model.SeverityCritical,
		Diagnosis: "crash loop",
		Actions:  []model.Action{{Type: model.ActionRestart, Status: model.ActionStatusSuccess}},
		Turns:    2,
	}

	sent := n.SendIncident(context.Background(), inc)
	assert.Contains(t, sent, "webhook")
	assert.Equal(t, "inc-1", received.IncidentID)
}
