package temporal

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	buf.Reset()
	return line
}

func TestTemporalAdapterFields(t *testing.T) {
	buf := &bytes.Buffer{}
	a := NewTemporalAdapter(zerolog.New(buf))

	a.Info("Workflow started", "WorkflowID", "dq-validation-1", "Attempt", 1)
	line := decodeLine(t, buf)
	assert.Equal(t, "temporal-sdk", line["component"])
	assert.Equal(t, "dq-validation-1", line["WorkflowID"])
	assert.Equal(t, "Workflow started", line["message"])

	a.Error("Activity failed", "error", errors.New("boom"), "dangling")
	line = decodeLine(t, buf)
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "MISSING_VALUE", line["dangling"])
}

func TestTemporalAdapterWith(t *testing.T) {
	buf := &bytes.Buffer{}
	a := NewTemporalAdapter(zerolog.New(buf)).With("Namespace", "default")

	a.Warn("Poller backing off")
	line := decodeLine(t, buf)
	assert.Equal(t, "default", line["Namespace"])
	assert.Equal(t, "warn", line["level"])
}
