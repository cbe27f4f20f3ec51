// Package slack sends escalation notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MaxMed21M/Teletriagem-MVP/internal/triage"
)

const (
	maxListItems = 5
	httpTimeout  = 10 * time.Second
)

// Notifier posts guardrail escalations to a Slack webhook. Implements
// triage.Notifier.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, notifications are
// a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// NotifyEscalation posts a guardrail-forced emergent result to the configured
// webhook. Returns nil immediately when no webhook is configured.
func (n *Notifier) NotifyEscalation(ctx context.Context, caseID string, res *triage.TriageResult) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(caseID, res)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(caseID string, res *triage.TriageResult) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(),
			{"type": "divider"},
			fieldsBlock(res),
			detailBlock(res),
			{"type": "divider"},
			contextBlock(caseID, res),
		},
	}
}

func headerBlock() map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": "\U0001f534 Escalação de Triagem: emergência",
		},
	}
}

func fieldsBlock(res *triage.TriageResult) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Prioridade:* %s", res.Priority),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Encaminhamento:* %s", res.Disposition),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Regras:* %s", strings.Join(res.Verdict.TriggeredRules, ", ")),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Modelo:* %s", res.Model),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func detailBlock(res *triage.TriageResult) map[string]any {
	var lines []string
	for i, reason := range res.Verdict.Reasons {
		if i >= maxListItems {
			break
		}
		lines = append(lines, "• "+reason)
	}
	for i, flag := range res.RedFlags {
		if i >= maxListItems {
			break
		}
		lines = append(lines, "• red flag: "+flag)
	}
	text := strings.Join(lines, "\n")
	if text == "" {
		text = "_Sem detalhes adicionais._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(caseID string, res *triage.TriageResult) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("teletriagem • caso %s • %s",
				caseID, res.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}
