package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("POWEROCEAN_SERIAL", testSN)
	t.Setenv("ECOFLOW_EMAIL", "me@example.com")
	t.Setenv("ECOFLOW_PASSWORD", "secret")
	t.Setenv("MQTT_BROKER", "homeassistant.lan")
	t.Setenv("MQTT_USERNAME", "mqtt")
	t.Setenv("MQTT_PASSWORD", "mqtt-secret")
	t.Setenv("POLL_INTERVAL_SECONDS", "")
}

func TestLoadConfig(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, testSN, cfg.Serial)
	assert.Equal(t, "homeassistant.lan", cfg.MQTTBroker)
	assert.Equal(t, defaultPollInterval, cfg.PollInterval)
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ECOFLOW_PASSWORD", "")

	_, err := loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ECOFLOW_PASSWORD")
}

func TestLoadConfig_PollInterval(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("POLL_INTERVAL_SECONDS", "30")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
}

func TestLoadConfig_InvalidPollInterval(t *testing.T) {
	setRequiredEnv(t)

	for _, raw := range []string{"abc", "0", "-5"} {
		t.Setenv("POLL_INTERVAL_SECONDS", raw)
		_, err := loadConfig()
		assert.Error(t, err, "interval %q", raw)
	}
}
