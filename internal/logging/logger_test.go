package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entries(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var out []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &e), line)
		out = append(out, e)
	}
	return out
}

func TestLogger_FormattedLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LevelInfo, FormatJSON)
	l.SetOutput(&buf)

	l.Debug("hidden")
	l.Infof("cycle %d of %s", 3, "tutti")
	l.Warnf("%d listings unresolved", 2)
	l.Errorf("commit failed: %s", "timeout")

	got := entries(t, &buf)
	require.Len(t, got, 3)
	assert.Equal(t, "info", got[0].Level)
	assert.Equal(t, "cycle 3 of tutti", got[0].Message)
	assert.Equal(t, "warn", got[1].Level)
	assert.Equal(t, "error", got[2].Level)
	assert.Contains(t, got[2].Caller, "logger_test.go")
}

func TestLogger_DerivedLoggersShareOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LevelDebug, FormatJSON)
	l.SetOutput(&buf)

	l.WithCycle("job-1", "cycle-1", "anibis").WithField("created", 2).Info("Reconciliation cycle committed")

	got := entries(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "job-1", got[0].Fields["job_id"])
	assert.Equal(t, "anibis", got[0].Fields["provider"])
	assert.Equal(t, float64(2), got[0].Fields["created"])
	assert.Empty(t, l.fields, "parent fields are not modified")
}
