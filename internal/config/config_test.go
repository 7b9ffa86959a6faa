package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hagw/pixie-gateway/internal/model"
)

var allKeys = []string{
	"HAGW_HTTP_PORT", "HAGW_MQTT_BIND", "HAGW_SERVICE_EDGE_BROKER", "HAGW_APPLIANCE_URL",
	"HAGW_REFERENCE_POINTS", "HAGW_DIMENSIONS", "HAGW_FETCH_TIMEOUT", "HAGW_SEND_TIMEOUT",
	"HAGW_SERVICE_ID", "HAGW_TOPIC_PREFIX", "HAGW_DATABASE_PATH", "HAGW_LOG_LEVEL",
	"HAGW_MDNS_ENABLED", "HAGW_STRICT_STATUS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 20001, cfg.HTTPPort)
	assert.Equal(t, ":1883", cfg.MQTTBindAddress)
	assert.Empty(t, cfg.ServiceEdgeBroker)
	assert.Equal(t, "http://127.0.0.1:3000", cfg.ApplianceURL)
	assert.Equal(t, [2]string{"D78D11E03AC8", "DC955EBFD1C1"}, cfg.ReferencePoints)
	assert.Equal(t, model.Dimensions{X: 350, Y: 300}, cfg.Dimensions)
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 10*time.Second, cfg.SendTimeout)
	assert.Equal(t, "/pixie", cfg.ServiceID)
	assert.Equal(t, "rvi", cfg.TopicPrefix)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.MDNSEnabled)
	assert.False(t, cfg.StrictStatus)
}

func TestLoadEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("HAGW_HTTP_PORT", "21001")
	t.Setenv("HAGW_SERVICE_EDGE_BROKER", "tcp://edge:1883")
	t.Setenv("HAGW_APPLIANCE_URL", "http://pixie.local:3000/")
	t.Setenv("HAGW_REFERENCE_POINTS", " AAA , BBB ")
	t.Setenv("HAGW_DIMENSIONS", "500X400")
	t.Setenv("HAGW_FETCH_TIMEOUT", "750ms")
	t.Setenv("HAGW_SERVICE_ID", "locator/")
	t.Setenv("HAGW_TOPIC_PREFIX", "")
	t.Setenv("HAGW_MDNS_ENABLED", "false")
	t.Setenv("HAGW_STRICT_STATUS", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 21001, cfg.HTTPPort)
	assert.Equal(t, "tcp://edge:1883", cfg.ServiceEdgeBroker)
	assert.Equal(t, "http://pixie.local:3000", cfg.ApplianceURL)
	assert.Equal(t, [2]string{"AAA", "BBB"}, cfg.ReferencePoints)
	assert.Equal(t, model.Dimensions{X: 500, Y: 400}, cfg.Dimensions)
	assert.Equal(t, 750*time.Millisecond, cfg.FetchTimeout)
	assert.Equal(t, "/locator", cfg.ServiceID)
	assert.Empty(t, cfg.TopicPrefix)
	assert.False(t, cfg.MDNSEnabled)
	assert.True(t, cfg.StrictStatus)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"HAGW_HTTP_PORT":        "http",
		"HAGW_REFERENCE_POINTS": "AAA,BBB,CCC",
		"HAGW_DIMENSIONS":       "350",
		"HAGW_FETCH_TIMEOUT":    "-1s",
		"HAGW_STRICT_STATUS":    "maybe",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestParseReferencePoints(t *testing.T) {
	_, err := ParseReferencePoints("AAA")
	assert.Error(t, err)
	_, err = ParseReferencePoints("AAA,")
	assert.Error(t, err)
	_, err = ParseReferencePoints("AAA,AAA")
	assert.Error(t, err)

	refs, err := ParseReferencePoints("AAA,BBB")
	require.NoError(t, err)
	assert.Equal(t, [2]string{"AAA", "BBB"}, refs)
}
