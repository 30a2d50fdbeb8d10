package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, hclog.Debug, ParseLevel("DEBUG"))
	assert.Equal(t, hclog.Warn, ParseLevel(" warn "))
	assert.Equal(t, hclog.Info, ParseLevel("nonsense"))
	assert.Equal(t, hclog.Info, ParseLevel(""))
}

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New("rolodex", Options{Level: "info", JSON: true, Output: &buf})

	logger.Named("lock").Info("lock acquired", "record", "r1", "owner", "alice")
	logger.Debug("dropped below level")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "lock acquired", line["@message"])
	assert.Equal(t, "rolodex.lock", line["@module"])
	assert.Equal(t, "alice", line["owner"])
}

func TestOrNull(t *testing.T) {
	assert.NotNil(t, OrNull(nil))

	l := hclog.NewNullLogger()
	assert.Equal(t, l, OrNull(l))
}
