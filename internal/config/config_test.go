package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, DefaultListenIP, cfg.ListenIP)
	assert.Equal(t, DefaultListenPort, cfg.ListenPort)
	assert.Equal(t, "127.0.0.1:5000", cfg.ListenAddr())
	assert.Equal(t, DefaultReadTimeout, cfg.ReadTimeout)
	assert.Equal(t, []string{"ADT^A01", "ORM^O01", "ORU^R01"}, cfg.AllowedTypes)
	assert.True(t, cfg.AutoStart)
	assert.Empty(t, cfg.RedisURL)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HL7_LISTEN_IP", "0.0.0.0")
	t.Setenv("HL7_LISTEN_PORT", "2575")
	t.Setenv("HL7_READ_TIMEOUT", "45")
	t.Setenv("HL7_WRITE_TIMEOUT", "2s")
	t.Setenv("HL7_ALLOWED_TYPES", " SIU^S12, ,ADT^A08 ")
	t.Setenv("HL7_AUTO_START", "false")
	t.Setenv("HL7_MAX_FRAME_BYTES", "not-a-number")

	cfg := Load()
	assert.Equal(t, "0.0.0.0:2575", cfg.ListenAddr())
	assert.Equal(t, 45*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 2*time.Second, cfg.WriteTimeout)
	assert.Equal(t, []string{"SIU^S12", "ADT^A08"}, cfg.AllowedTypes)
	assert.False(t, cfg.AutoStart)
	assert.Equal(t, DefaultMaxFrameBytes, cfg.MaxFrameBytes)
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.ListenIP = "localhost"
	cfg.ListenPort = 70000
	cfg.ReadTimeout = 0
	cfg.MaxFrameBytes = -1
	cfg.AllowedTypes = nil

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"listen ip", "listen port", "read timeout", "max frame bytes", "allowed message type"} {
		assert.Contains(t, err.Error(), want)
	}
}
