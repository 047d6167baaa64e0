// Package notify implements severity-routed alert delivery (spec
// [SUPPLEMENTED] component 4.I), grounded on original_source/notify.py.
// Channels: Slack webhook, a generic webhook, and an email channel that is
// intentionally unimplemented.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/cortexhq/cortex/internal/model"
)

// ErrNotConfigured is returned by channels that have no destination wired.
var ErrNotConfigured = errors.New("notify: channel not configured")

// routing maps severity to the channels that fire for it, 1:1 with
// original_source/notify.py's ROUTING table.
var routing = map[model.Severity][]string{
	model.SeverityCritical: {"slack", "email", "webhook"},
	model.SeverityHigh:     {"slack", "email"},
	model.SeverityMedium:   {"slack"},
	model.SeverityLow:      {},
}

var severityEmoji = map[model.Severity]string{
	model.SeverityCritical: "\U0001F534",
	model.SeverityHigh:     "\U0001F7E0",
	model.SeverityMedium:   "\U0001F7E1",
	model.SeverityLow:      "\U0001F535",
}

var severityColor = map[model.Severity]string{
	model.SeverityCritical: "#ff0000",
	model.SeverityHigh:     "#ff8800",
	model.SeverityMedium:   "#ffcc00",
	model.SeverityLow:      "#0088ff",
}

// Notifier delivers alerts to the channels configured for a severity.
type Notifier struct {
	slackWebhookURL string
	webhookURL      string
	emailTo         string
	httpClient      *http.Client
}

// New builds a Notifier. Any destination left blank disables its channel.
func New(slackWebhookURL, webhookURL, emailTo string) *Notifier {
	return &Notifier{
		slackWebhookURL: slackWebhookURL,
		webhookURL:      webhookURL,
		emailTo:         emailTo,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Send routes one alert through the channels appropriate to severity,
// returning the channels it actually delivered to.
func (n *Notifier) Send(ctx context.Context, service string, severity model.Severity, title, message string, incident *model.Incident) []string {
	channels, ok := routing[severity]
	if !ok {
		channels = []string{"slack"}
	}

	fullTitle := fmt.Sprintf("%s [%s] %s: %s", severityEmoji[severity], severity, service, title)
	var sentTo []string

	if contains(channels, "slack") && n.slackWebhookURL != "" {
		if err := n.sendSlack(ctx, fullTitle, message, severity, incident); err != nil {
			log.Warn().Err(err).Msg("notify: slack delivery failed")
		} else {
			sentTo = append(sentTo, "slack")
		}
	}

	if contains(channels, "email") && n.emailTo != "" {
		if err := n.sendEmail(ctx, fullTitle, message); err != nil {
			log.Warn().Err(err).Msg("notify: email delivery failed")
		} else {
			sentTo = append(sentTo, "email")
		}
	}

	if contains(channels, "webhook") && n.webhookURL != "" {
		if err := n.sendWebhook(ctx, service, severity, title, message, incident); err != nil {
			log.Warn().Err(err).Msg("notify: webhook delivery failed")
		} else {
			sentTo = append(sentTo, "webhook")
		}
	}

	if len(sentTo) == 0 {
		sentTo = []string{"log only"}
	}
	log.Info().Str("service", service).Str("severity", string(severity)).Strs("sent_to", sentTo).Msg(title)
	return sentTo
}

// SendIncident formats and routes a full incident report.
func (n *Notifier) SendIncident(ctx context.Context, inc model.Incident) []string {
	severity := inc.Severity
	if severity == "" {
		severity = model.SeverityMedium
	}
	diagnosisText := inc.Diagnosis
	if diagnosisText == "" {
		diagnosisText = "No diagnosis reached."
	}

	actionSummary := "none"
	if len(inc.Actions) > 0 {
		actionSummary = ""
		for i, a := range inc.Actions {
			if i > 0 {
				actionSummary += ", "
			}
			actionSummary += fmt.Sprintf("%s=%s", a.Type, a.Status)
		}
	}

	message := fmt.Sprintf(
		"*Diagnosis:* %s\n\n*Actions taken:* %s\n*Investigation turns:* %d\n*Incident ID:* %s",
		diagnosisText, actionSummary, inc.Turns, inc.ID,
	)

	return n.Send(ctx, inc.Service, severity, "Incident Report", message, &inc)
}

func (n *Notifier) sendSlack(ctx context.Context, title, message string, severity model.Severity, incident *model.Incident) error {
	blocks := slack.Blocks{
		BlockSet: []slack.Block{
			slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, truncate(title, 150), false, false)),
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, truncate(message, 2500), false, false), nil, nil),
		},
	}

	if incident != nil && len(incident.Actions) > 0 {
		actionText := ""
		for i, a := range incident.Actions {
			if i > 0 {
				actionText += "\n"
			}
			actionText += fmt.Sprintf("• %s: %s", a.Type, a.Status)
		}
		blocks.BlockSet = append(blocks.BlockSet, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "*Actions:*\n"+actionText, false, false), nil, nil,
		))
	}

	msg := slack.WebhookMessage{
		Text: title,
		Attachments: []slack.Attachment{
			{Color: severityColor[severity], Blocks: blocks},
		},
	}

	return slack.PostWebhookContext(ctx, n.slackWebhookURL, &msg)
}

// sendEmail is intentionally unimplemented: swap in a real provider
// (Postmark, SES, SendGrid) when one is available.
func (n *Notifier) sendEmail(ctx context.Context, title, message string) error {
	log.Info().Str("to", n.emailTo).Str("title", title).Msg("notify: email channel not implemented, would have sent")
	return ErrNotConfigured
}

type webhookPayload struct {
	Service    string `json:"service"`
	Severity   string `json:"severity"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	IncidentID string `json:"incident_id,omitempty"`
}

func (n *Notifier) sendWebhook(ctx context.Context, service string, severity model.Severity, title, message string, incident *model.Incident) error {
	payload := webhookPayload{Service: service, Severity: string(severity), Title: title, Message: message}
	if incident != nil {
		payload.IncidentID = incident.ID
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("notify: building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
