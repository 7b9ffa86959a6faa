package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"hagw/pixie-gateway/internal/model"
)

// Config lists the tunable parameters for the pixie gateway.
type Config struct {
	HTTPPort          int
	MQTTBindAddress   string
	ServiceEdgeBroker string
	ApplianceURL      string
	ReferencePoints   [2]string
	Dimensions        model.Dimensions
	FetchTimeout      time.Duration
	SendTimeout       time.Duration
	ServiceID         string
	TopicPrefix       string
	DatabasePath      string
	LogLevel          string
	MDNSEnabled       bool
	StrictStatus      bool
}

const (
	defaultHTTPPort        = 20001
	defaultMQTTBindAddress = ":1883"
	defaultApplianceURL    = "http://127.0.0.1:3000"
	defaultReferencePoints = "D78D11E03AC8,DC955EBFD1C1"
	defaultDimensions      = "350x300"
	defaultFetchTimeout    = 5 * time.Second
	defaultSendTimeout     = 10 * time.Second
	defaultServiceID       = "/pixie"
	defaultTopicPrefix     = "rvi"
	defaultDatabasePath    = "data/hagw.db"
	defaultLogLevel        = "info"
)

// Load derives configuration values from environment variables, falling back to defaults.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:        defaultHTTPPort,
		MQTTBindAddress: defaultMQTTBindAddress,
		ApplianceURL:    defaultApplianceURL,
		FetchTimeout:    defaultFetchTimeout,
		SendTimeout:     defaultSendTimeout,
		ServiceID:       defaultServiceID,
		TopicPrefix:     defaultTopicPrefix,
		DatabasePath:    defaultDatabasePath,
		LogLevel:        defaultLogLevel,
		MDNSEnabled:     true,
	}

	if v := os.Getenv("HAGW_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return Config{}, fmt.Errorf("invalid HAGW_HTTP_PORT %q", v)
		}
		cfg.HTTPPort = port
	}

	if v := os.Getenv("HAGW_MQTT_BIND"); v != "" {
		cfg.MQTTBindAddress = v
	}

	cfg.ServiceEdgeBroker = strings.TrimSpace(os.Getenv("HAGW_SERVICE_EDGE_BROKER"))

	if v := os.Getenv("HAGW_APPLIANCE_URL"); v != "" {
		cfg.ApplianceURL = strings.TrimRight(v, "/")
	}

	refs, err := ParseReferencePoints(envOr("HAGW_REFERENCE_POINTS", defaultReferencePoints))
	if err != nil {
		return Config{}, fmt.Errorf("invalid HAGW_REFERENCE_POINTS: %w", err)
	}
	cfg.ReferencePoints = refs

	dims, err := ParseDimensions(envOr("HAGW_DIMENSIONS", defaultDimensions))
	if err != nil {
		return Config{}, fmt.Errorf("invalid HAGW_DIMENSIONS: %w", err)
	}
	cfg.Dimensions = dims

	if cfg.FetchTimeout, err = durationEnv("HAGW_FETCH_TIMEOUT", cfg.FetchTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SendTimeout, err = durationEnv("HAGW_SEND_TIMEOUT", cfg.SendTimeout); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("HAGW_SERVICE_ID"); v != "" {
		cfg.ServiceID = "/" + strings.Trim(v, "/")
	}

	if v, ok := os.LookupEnv("HAGW_TOPIC_PREFIX"); ok {
		cfg.TopicPrefix = strings.Trim(v, "/")
	}

	if v := os.Getenv("HAGW_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}

	if v := os.Getenv("HAGW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if cfg.MDNSEnabled, err = boolEnv("HAGW_MDNS_ENABLED", cfg.MDNSEnabled); err != nil {
		return Config{}, err
	}
	if cfg.StrictStatus, err = boolEnv("HAGW_STRICT_STATUS", cfg.StrictStatus); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ParseReferencePoints parses a comma separated list that must hold exactly
// two distinct tag ids.
func ParseReferencePoints(v string) ([2]string, error) {
	var refs [2]string

	parts := strings.Split(v, ",")
	if len(parts) != 2 {
		return refs, fmt.Errorf("need exactly two reference points, got %d", len(parts))
	}
	for i, p := range parts {
		refs[i] = strings.TrimSpace(p)
		if refs[i] == "" {
			return refs, fmt.Errorf("reference point %d is empty", i)
		}
	}
	if refs[0] == refs[1] {
		return refs, fmt.Errorf("reference points must differ")
	}
	return refs, nil
}

// ParseDimensions parses "<x>x<y>" into positive dimensions.
func ParseDimensions(v string) (model.Dimensions, error) {
	xs, ys, ok := strings.Cut(strings.ToLower(strings.TrimSpace(v)), "x")
	if !ok {
		return model.Dimensions{}, fmt.Errorf("expected <x>x<y>, got %q", v)
	}
	x, err := strconv.Atoi(strings.TrimSpace(xs))
	if err != nil || x <= 0 {
		return model.Dimensions{}, fmt.Errorf("invalid x dimension %q", xs)
	}
	y, err := strconv.Atoi(strings.TrimSpace(ys))
	if err != nil || y <= 0 {
		return model.Dimensions{}, fmt.Errorf("invalid y dimension %q", ys)
	}
	return model.Dimensions{X: x, Y: y}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return d, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
