package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for all simulator processes
type Config struct {
	// Process name
	ServiceName string

	// Log level: debug, info, warn, error
	LogLevel string

	// Path to the quickfix session settings file
	FIXConfigPath string

	// Path to the ledger SQLite database
	LedgerPath string

	// Path to the change-notification artifact written by the panel editor
	ChangeFilePath string

	// Path to the scenario script (fix-client; empty means no scenario)
	ScenarioPath string

	// Poll interval of the host loop
	PollInterval time.Duration

	// Bound of the client role's inbound message queue
	InboundQueueSize int

	// Client identifier (tag 50) announced by the client role
	ClientID int64

	// Symbol prefix the admission fixture rejects; empty disables it
	RejectSymbolPrefix string

	// HTTP port of the oms-panel API
	HTTPPort int
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig(serviceName string) *Config {
	defaultFIXConfig := "config/server.cfg"
	defaultPoll := 500 * time.Millisecond
	if serviceName == "fix-client" {
		defaultFIXConfig = "config/client.cfg"
		defaultPoll = 1 * time.Second
	}

	return &Config{
		ServiceName:        serviceName,
		LogLevel:           getEnvAsString("LOG_LEVEL", "info"),
		FIXConfigPath:      getEnvAsString("FIX_CONFIG", defaultFIXConfig),
		LedgerPath:         getEnvAsString("LEDGER_PATH", "data/oms_orders.db"),
		ChangeFilePath:     getEnvAsString("CHANGE_FILE", "data/oms_order_changes.json"),
		ScenarioPath:       getEnvAsString("SCENARIO_FILE", ""),
		PollInterval:       getEnvAsDuration("POLL_INTERVAL", defaultPoll),
		InboundQueueSize:   getEnvAsInt("INBOUND_QUEUE_SIZE", 256),
		ClientID:           int64(getEnvAsInt("CLIENT_UUID", 1234)),
		RejectSymbolPrefix: getEnvAsString("REJECT_SYMBOL_PREFIX", "Z"),
		HTTPPort:           getEnvAsInt("PORT_HTTP", 8080),
	}
}

// HTTPAddr returns the HTTP server address
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
