package alert

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAlertDefaults(t *testing.T) {
	a := New(KindWarning, SeverityHigh, "t", "m", SourceMonitor, nil)
	b := New(KindWarning, SeverityHigh, "t", "m", SourceMonitor, nil)

	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)
	require.False(t, a.Acknowledged)
	require.False(t, a.Resolved)
	require.NotNil(t, a.Metadata)
	require.Equal(t, "UTC", a.Timestamp.Location().String())
}

func TestAlertJSONUsesTypeField(t *testing.T) {
	a := New(KindError, SeverityCritical, "Exploit", "msg", SourceSecurity, map[string]any{"protocol": "venus"})
	raw, err := json.Marshal(a)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Equal(t, "error", out["type"])
	require.Equal(t, "critical", out["severity"])
	require.Equal(t, "security", out["source"])
}

func TestTxHash(t *testing.T) {
	a := New(KindInfo, SeverityLow, "", "", SourceMonitor, map[string]any{"txHash": "0xabc"})
	require.Equal(t, "0xabc", a.TxHash())
	require.Empty(t, New(KindInfo, SeverityLow, "", "", SourceMonitor, nil).TxHash())
}

func TestEmitterFunc(t *testing.T) {
	var got string
	var e Emitter = EmitterFunc(func(_ context.Context, event string, a Alert) error {
		got = event + ":" + a.Title
		return nil
	})
	require.NoError(t, e.Emit(context.Background(), EventAlert, Alert{Title: "x"}))
	require.Equal(t, "alert:x", got)
}
