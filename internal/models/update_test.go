package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/ble-node/internal/models"
)

func TestParseUpdateCommand(t *testing.T) {
	cmd, err := models.ParseUpdateCommand([]byte(`{"url":"http://x/fw.bin","version":"2.0","extra":1}`))
	require.NoError(t, err)
	assert.Equal(t, "http://x/fw.bin", cmd.URL)
	assert.Equal(t, "2.0", cmd.Version)
}

func TestParseUpdateCommand_Malformed(t *testing.T) {
	payloads := []string{
		`not json`,
		`[]`,
		`{"version":"2.0"}`,
		`{"url":"http://x/fw.bin"}`,
		`{"url":"http://x/fw.bin","version":2}`,
		`{"url":"","version":"2.0"}`,
		`{"url":null,"version":"2.0"}`,
	}
	for _, p := range payloads {
		_, err := models.ParseUpdateCommand([]byte(p))
		assert.ErrorIs(t, err, models.ErrMalformedCommand, p)
	}
}

func TestStatusPayloads(t *testing.T) {
	assert.Equal(t, `{"status": "online", "firmware": "1.3"}`, models.OnlinePayload("1.3"))
	assert.Equal(t, "Up now 1700000000 (v1.3) after 7 seconds of booting.",
		models.BootNotice(1700000000, "1.3", 7500*time.Millisecond))
	assert.Equal(t,
		"OTA update info received for\n - version \"2.0\"\n - url \"http://x/fw.bin\"\n Will start update now.",
		models.UpdatePendingNotice(models.UpdateCommandPayload{URL: "http://x/fw.bin", Version: "2.0"}))
}
