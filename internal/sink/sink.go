// Package sink delivers alerts to external destinations: chat webhooks,
// message buses and the local store.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/devblac/chain-sentinel/internal/alert"
)

const (
	defaultTemplate = "[{{upper .Severity}}] {{.Title}}: {{.Message}}{{with .TxHash}} ({{short_addr .}}){{end}}"
	httpTimeout     = 8 * time.Second
)

// Sender delivers one alert to one destination.
type Sender interface {
	Send(ctx context.Context, a alert.Alert) error
}

// StatusError carries the HTTP status of a rejected delivery.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sink http status %d", e.Code)
}

// payloadFunc shapes the rendered text and alert into a request body.
type payloadFunc func(text string, a alert.Alert) any

type httpSender struct {
	url     string
	method  string
	render  *template.Template
	payload payloadFunc
	client  *http.Client
	headers map[string]string
}

// NewWebhookSender posts {"text": rendered, "alert": alert} to url.
func NewWebhookSender(url, method, tmpl string, headers map[string]string) (Sender, error) {
	if method == "" {
		method = http.MethodPost
	}
	return newHTTPSender(url, strings.ToUpper(method), tmpl, headers, webhookPayload)
}

// NewSlackSender posts a Slack incoming-webhook message with a colored
// attachment per severity.
func NewSlackSender(url, tmpl string) (Sender, error) {
	return newHTTPSender(url, http.MethodPost, tmpl, nil, slackPayload)
}

// NewTeamsSender posts a Teams MessageCard.
func NewTeamsSender(url, tmpl string) (Sender, error) {
	return newHTTPSender(url, http.MethodPost, tmpl, nil, teamsPayload)
}

func newHTTPSender(url, method, tmpl string, headers map[string]string, payload payloadFunc) (Sender, error) {
	if url == "" {
		return nil, errors.New("webhook url required")
	}
	t, err := parseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	h := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		h[k] = v
	}
	return &httpSender{
		url:     url,
		method:  method,
		render:  t,
		payload: payload,
		client:  &http.Client{Timeout: httpTimeout},
		headers: h,
	}, nil
}

func (s *httpSender) Send(ctx context.Context, a alert.Alert) error {
	text, err := executeTemplate(s.render, templateData{Alert: a, TxHash: a.TxHash()})
	if err != nil {
		return err
	}
	body, err := json.Marshal(s.payload(text, a))
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, s.method, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

func webhookPayload(text string, a alert.Alert) any {
	return map[string]any{"text": text, "alert": a}
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color    string       `json:"color"`
	Fallback string       `json:"fallback"`
	Fields   []slackField `json:"fields"`
	TS       int64        `json:"ts"`
}

func slackPayload(text string, a alert.Alert) any {
	fields := []slackField{
		{Title: "Severity", Value: string(a.Severity), Short: true},
		{Title: "Source", Value: a.Source, Short: true},
	}
	if tx := a.TxHash(); tx != "" {
		fields = append(fields, slackField{Title: "Transaction", Value: tx})
	}
	if p, ok := a.Metadata["protocol"].(string); ok && p != "" {
		fields = append(fields, slackField{Title: "Protocol", Value: p, Short: true})
	}
	return map[string]any{
		"text": text,
		"attachments": []slackAttachment{{
			Color:    severityColor(a.Severity),
			Fallback: text,
			Fields:   fields,
			TS:       a.Timestamp.Unix(),
		}},
	}
}

func teamsPayload(text string, a alert.Alert) any {
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "https://schema.org/extensions",
		"summary":    a.Title,
		"themeColor": strings.TrimPrefix(severityColor(a.Severity), "#"),
		"title":      a.Title,
		"text":       text,
	}
}

func severityColor(s alert.Severity) string {
	switch s {
	case alert.SeverityCritical:
		return "#b71c1c"
	case alert.SeverityHigh:
		return "#e65100"
	case alert.SeverityMedium:
		return "#f9a825"
	default:
		return "#546e7a"
	}
}

// templateData is what templates see: the alert plus its tx hash.
type templateData struct {
	alert.Alert
	TxHash string
}

func parseTemplate(tmpl string) (*template.Template, error) {
	if tmpl == "" {
		tmpl = defaultTemplate
	}
	funcs := template.FuncMap{
		"pretty_json": func(v any) string {
			out, _ := json.MarshalIndent(v, "", "  ")
			return string(out)
		},
		"short_addr": func(addr string) string {
			if len(addr) <= 10 {
				return addr
			}
			return addr[:6] + "..." + addr[len(addr)-4:]
		},
		"meta": func(m map[string]any, k string) any {
			return m[k]
		},
		"upper": func(v any) string {
			return strings.ToUpper(fmt.Sprint(v))
		},
	}
	t, err := template.New("alert").Funcs(funcs).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return t, nil
}

func executeTemplate(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}
