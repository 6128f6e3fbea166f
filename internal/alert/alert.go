package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventAlert is the event name every alert is published under.
const EventAlert = "alert"

// Kind classifies an alert for display.
type Kind string

const (
	KindWarning Kind = "warning"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
)

// Severity ranks how urgent an alert is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Sources that raise alerts.
const (
	SourceMonitor  = "blockchain-monitor"
	SourceSecurity = "security"
)

// Alert is an immutable notification record. Acknowledged and Resolved are
// owned by downstream persistence; they are always false at creation.
type Alert struct {
	ID           string         `json:"id"`
	Kind         Kind           `json:"type"`
	Severity     Severity       `json:"severity"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	Timestamp    time.Time      `json:"timestamp"`
	Source       string         `json:"source"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Acknowledged bool           `json:"acknowledged"`
	Resolved     bool           `json:"resolved"`
}

// New builds an alert with a fresh id and a UTC timestamp.
func New(kind Kind, severity Severity, title, message, source string, metadata map[string]any) Alert {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Alert{
		ID:        uuid.NewString(),
		Kind:      kind,
		Severity:  severity,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Metadata:  metadata,
	}
}

// TxHash returns the transaction hash carried in metadata, if any.
func (a Alert) TxHash() string {
	if v, ok := a.Metadata["txHash"].(string); ok {
		return v
	}
	return ""
}

// Emitter publishes alerts. Implementations are best-effort; callers never
// read an acknowledgment back.
type Emitter interface {
	Emit(ctx context.Context, event string, a Alert) error
}

// EmitterFunc adapts a plain function to Emitter.
type EmitterFunc func(ctx context.Context, event string, a Alert) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, event string, a Alert) error {
	return f(ctx, event, a)
}
