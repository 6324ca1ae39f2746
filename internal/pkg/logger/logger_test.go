package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-address"))
}

func TestLogRedactsRecipientFields(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, "json", DEBUG)
	SetRedactPII(true)
	t.Cleanup(func() { SetLevel(INFO) })

	Info("send failed", "recipient", "alice@example.com", "error", errors.New("550 mailbox bob@example.org unavailable"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "send failed", entry["msg"])
	assert.Equal(t, "al***@example.com", entry["recipient"])
	assert.Equal(t, "550 mailbox bo***@example.org unavailable", entry["error"])
}

func TestLogKeepsIdentifierFields(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, "json", DEBUG)
	SetRedactPII(true)
	t.Cleanup(func() { SetLevel(INFO) })

	Info("email sent", "email_id", "6f1c2a9e-1b7d-4c55-9a0e-3e2f8d1c7b10", "from", "owner@example.com",
		"recipients", 3, "user_email_count", "12")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "6f1c2a9e-1b7d-4c55-9a0e-3e2f8d1c7b10", entry["email_id"])
	assert.Equal(t, "ow***@example.com", entry["from"])
	assert.Equal(t, float64(3), entry["recipients"])
	assert.Equal(t, "12", entry["user_email_count"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, "json", WARN)
	t.Cleanup(func() { SetLevel(INFO) })

	Info("hidden")
	assert.Zero(t, buf.Len())

	Warn("shown", "count", 3)
	assert.Contains(t, buf.String(), `"count":3`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("DEBUG"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("bogus"))
}
