package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultListenIP      = "127.0.0.1"
	DefaultListenPort    = 5000
	DefaultReadTimeout   = 30 * time.Second
	DefaultWriteTimeout  = 5 * time.Second
	DefaultMaxFrameBytes = 1 << 20
)

// Config holds all configuration for the gateway
type Config struct {
	GatewayID string

	// MLLP listener
	ListenIP      string
	ListenPort    int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxFrameBytes int
	AutoStart     bool

	// HL7 validation and acknowledgment
	AllowedTypes []string
	AckVersion   string

	// Management API
	HTTPPort  int
	JWTSecret string
	// RateLimit is control requests per minute per client; 0 disables
	RateLimit int

	// Integrations; empty disables
	RedisURL      string
	NATSURL       string
	NATSJetStream bool
	NATSPrefix    string
	DatabaseURL   string
	SettingsFile  string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		GatewayID:     getEnv("GATEWAY_ID", "hl7-01"),
		ListenIP:      getEnv("HL7_LISTEN_IP", DefaultListenIP),
		ListenPort:    getEnvAsInt("HL7_LISTEN_PORT", DefaultListenPort),
		ReadTimeout:   getEnvAsDuration("HL7_READ_TIMEOUT", DefaultReadTimeout),
		WriteTimeout:  getEnvAsDuration("HL7_WRITE_TIMEOUT", DefaultWriteTimeout),
		MaxFrameBytes: getEnvAsInt("HL7_MAX_FRAME_BYTES", DefaultMaxFrameBytes),
		AutoStart:     getEnvAsBool("HL7_AUTO_START", true),
		AllowedTypes:  getEnvAsList("HL7_ALLOWED_TYPES", []string{"ADT^A01", "ORM^O01", "ORU^R01"}),
		AckVersion:    getEnv("HL7_ACK_VERSION", "2.3"),
		HTTPPort:      getEnvAsInt("HTTP_PORT", 8081),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		RateLimit:     getEnvAsInt("HTTP_RATE_LIMIT", 120),
		RedisURL:      getEnv("REDIS_URL", ""),
		NATSURL:       getEnv("NATS_URL", ""),
		NATSJetStream: getEnvAsBool("NATS_JETSTREAM", false),
		NATSPrefix:    getEnv("NATS_SUBJECT_PREFIX", "hl7"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		SettingsFile:  getEnv("SETTINGS_FILE", "settings.yaml"),
		LogLevel:      getEnv("HL7_LOG_LEVEL", "info"),
		LogFormat:     getEnv("HL7_LOG_FORMAT", "text"),
	}
}

// Validate checks ranges that would otherwise surface as runtime errors
func (c *Config) Validate() error {
	var errs []error
	if net.ParseIP(c.ListenIP) == nil {
		errs = append(errs, fmt.Errorf("listen ip %q is not an IP address", c.ListenIP))
	}
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		errs = append(errs, fmt.Errorf("listen port %d out of range", c.ListenPort))
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http port %d out of range", c.HTTPPort))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("rate limit must not be negative"))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, errors.New("read timeout must be positive"))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("write timeout must be positive"))
	}
	if c.MaxFrameBytes <= 0 {
		errs = append(errs, errors.New("max frame bytes must be positive"))
	}
	if len(c.AllowedTypes) == 0 {
		errs = append(errs, errors.New("at least one allowed message type is required"))
	}
	return errors.Join(errs...)
}

// ListenAddr returns host:port for the MLLP listener
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.ListenIP, strconv.Itoa(c.ListenPort))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("30s") or plain seconds ("30")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
