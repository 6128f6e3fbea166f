package sink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/devblac/chain-sentinel/internal/alert"
)

func testAlert() alert.Alert {
	return alert.New(alert.KindWarning, alert.SeverityHigh, "High risk transaction detected",
		"Transaction flagged with risk score 72", alert.SourceMonitor,
		map[string]any{"txHash": "0x1234567890abcdef", "riskScore": 72.0, "protocol": "venus"})
}

// capture starts a server that records the last request body.
func capture(t *testing.T, status int) (*httptest.Server, *[]byte) {
	t.Helper()
	var got []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, &got
}

func TestWebhookSenderEmbedsAlert(t *testing.T) {
	server, got := capture(t, http.StatusOK)

	sender, err := NewWebhookSender(server.URL, "", "ALERT {{.Severity}} {{.Source}} {{short_addr .TxHash}} {{meta .Metadata \"riskScore\"}}", nil)
	if err != nil {
		t.Fatalf("sender: %v", err)
	}
	if err := sender.Send(context.Background(), testAlert()); err != nil {
		t.Fatalf("send: %v", err)
	}

	var body struct {
		Text  string      `json:"text"`
		Alert alert.Alert `json:"alert"`
	}
	if err := json.Unmarshal(*got, &body); err != nil {
		t.Fatalf("decode body %q: %v", *got, err)
	}
	if body.Text != "ALERT high blockchain-monitor 0x1234...cdef 72" {
		t.Fatalf("unexpected text: %s", body.Text)
	}
	if body.Alert.Title != "High risk transaction detected" {
		t.Fatalf("alert not embedded: %+v", body.Alert)
	}
}

func TestSlackSenderColorsBySeverity(t *testing.T) {
	server, got := capture(t, http.StatusOK)

	sender, err := NewSlackSender(server.URL, "{{.Title}}")
	if err != nil {
		t.Fatalf("sender: %v", err)
	}
	if err := sender.Send(context.Background(), testAlert()); err != nil {
		t.Fatalf("send: %v", err)
	}

	var body struct {
		Text        string            `json:"text"`
		Attachments []slackAttachment `json:"attachments"`
	}
	if err := json.Unmarshal(*got, &body); err != nil {
		t.Fatalf("decode body %q: %v", *got, err)
	}
	if body.Text != "High risk transaction detected" {
		t.Fatalf("unexpected text: %s", body.Text)
	}
	if len(body.Attachments) != 1 || body.Attachments[0].Color != "#e65100" {
		t.Fatalf("unexpected attachments: %+v", body.Attachments)
	}
	titles := map[string]string{}
	for _, f := range body.Attachments[0].Fields {
		titles[f.Title] = f.Value
	}
	if titles["Transaction"] != "0x1234567890abcdef" || titles["Protocol"] != "venus" {
		t.Fatalf("unexpected fields: %+v", titles)
	}
}

func TestTeamsSenderMessageCard(t *testing.T) {
	server, got := capture(t, http.StatusOK)

	sender, err := NewTeamsSender(server.URL, "")
	if err != nil {
		t.Fatalf("sender: %v", err)
	}
	a := testAlert()
	a.Severity = alert.SeverityCritical
	if err := sender.Send(context.Background(), a); err != nil {
		t.Fatalf("send: %v", err)
	}

	var card map[string]any
	if err := json.Unmarshal(*got, &card); err != nil {
		t.Fatalf("decode body %q: %v", *got, err)
	}
	if card["@type"] != "MessageCard" || card["themeColor"] != "b71c1c" {
		t.Fatalf("unexpected card: %v", card)
	}
	if !strings.HasPrefix(card["text"].(string), "[CRITICAL] ") {
		t.Fatalf("unexpected text: %v", card["text"])
	}
}

func TestDefaultTemplate(t *testing.T) {
	tmpl, err := parseTemplate("")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	a := testAlert()
	out, err := executeTemplate(tmpl, templateData{Alert: a, TxHash: a.TxHash()})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := "[HIGH] High risk transaction detected: Transaction flagged with risk score 72 (0x1234...cdef)"
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}

func TestWebhookStatusFailure(t *testing.T) {
	server, _ := capture(t, http.StatusBadGateway)

	sender, err := NewWebhookSender(server.URL, http.MethodPost, "msg", nil)
	if err != nil {
		t.Fatalf("sender: %v", err)
	}
	err = sender.Send(context.Background(), testAlert())
	se, ok := err.(*StatusError)
	if !ok || se.Code != http.StatusBadGateway {
		t.Fatalf("expected status error 502, got %v", err)
	}
}

func TestWebhookRequiresURL(t *testing.T) {
	if _, err := NewWebhookSender("", "", "", nil); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := NewWebhookSender("http://x", "", "{{.Broken", nil); err == nil {
		t.Fatalf("expected template parse error")
	}
}
