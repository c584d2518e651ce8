// Package config provides configuration management for the transaction saga services.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"txn-saga/src/contracts"
)

// Config holds the application configuration.
type Config struct {
	// Brokers is the list of seed broker addresses (KAFKA_BROKER, comma-separated).
	Brokers []string
	// Topics are provisioned idempotently on connect (KAFKA_TOPICS, comma-separated).
	Topics []string
	// ClientID identifies this process to the broker.
	ClientID string

	// ConnectAttempts caps the connect-with-retry loop.
	ConnectAttempts int
	// ConnectDelay is the fixed pause between connect attempts.
	ConnectDelay time.Duration

	TopicPartitions   int32
	ReplicationFactor int16

	// APIPort is the ingress HTTP port.
	APIPort string
	// GatewayPort is the real-time endpoint port.
	GatewayPort string

	// DatabaseURL enables the Postgres event-log archive when set.
	DatabaseURL string

	LogLevel string

	// FraudHighRate is the probability that the random assessor returns HIGH.
	FraudHighRate float64
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("KAFKA_BROKER", "kafka:9092")
	v.SetDefault("KAFKA_TOPICS", strings.Join(contracts.DefaultTopics, ","))
	v.SetDefault("KAFKA_CLIENT_ID", "tp4-backend")
	v.SetDefault("KAFKA_CONNECT_ATTEMPTS", 30)
	v.SetDefault("KAFKA_CONNECT_DELAY_MS", 2000)
	v.SetDefault("KAFKA_TOPIC_PARTITIONS", 1)
	v.SetDefault("KAFKA_REPLICATION_FACTOR", 1)
	v.SetDefault("API_PORT", "3002")
	v.SetDefault("GATEWAY_PORT", "4001")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("FRAUD_HIGH_RATE", 0.05)

	_ = v.BindEnv("GATEWAY_PORT", "GATEWAY_PORT", "PORT")
	_ = v.BindEnv("DATABASE_URL")

	return v
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	v := newViper()

	cfg := &Config{
		Brokers:           splitList(v.GetString("KAFKA_BROKER")),
		Topics:            splitList(v.GetString("KAFKA_TOPICS")),
		ClientID:          strings.TrimSpace(v.GetString("KAFKA_CLIENT_ID")),
		ConnectAttempts:   v.GetInt("KAFKA_CONNECT_ATTEMPTS"),
		ConnectDelay:      time.Duration(v.GetInt64("KAFKA_CONNECT_DELAY_MS")) * time.Millisecond,
		TopicPartitions:   v.GetInt32("KAFKA_TOPIC_PARTITIONS"),
		ReplicationFactor: int16(v.GetInt("KAFKA_REPLICATION_FACTOR")),
		APIPort:           strings.TrimSpace(v.GetString("API_PORT")),
		GatewayPort:       strings.TrimSpace(v.GetString("GATEWAY_PORT")),
		DatabaseURL:       strings.TrimSpace(v.GetString("DATABASE_URL")),
		LogLevel:          strings.TrimSpace(v.GetString("LOG_LEVEL")),
		FraudHighRate:     v.GetFloat64("FRAUD_HIGH_RATE"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoadFromEnv loads configuration from environment variables and panics on error.
// This is useful for initialization in main() where configuration errors should be fatal.
func MustLoadFromEnv() *Config {
	cfg, err := LoadFromEnv()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate rejects values the services cannot run with.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKER must name at least one broker")
	}
	if c.ConnectAttempts <= 0 {
		return fmt.Errorf("KAFKA_CONNECT_ATTEMPTS must be positive, got %d", c.ConnectAttempts)
	}
	if c.ConnectDelay < 0 {
		return fmt.Errorf("KAFKA_CONNECT_DELAY_MS must not be negative, got %s", c.ConnectDelay)
	}
	if c.TopicPartitions <= 0 {
		return fmt.Errorf("KAFKA_TOPIC_PARTITIONS must be positive, got %d", c.TopicPartitions)
	}
	if c.ReplicationFactor <= 0 {
		return fmt.Errorf("KAFKA_REPLICATION_FACTOR must be positive, got %d", c.ReplicationFactor)
	}
	if c.FraudHighRate < 0 || c.FraudHighRate > 1 {
		return fmt.Errorf("FRAUD_HIGH_RATE must be within [0,1], got %v", c.FraudHighRate)
	}
	if c.APIPort == "" || c.GatewayPort == "" {
		return fmt.Errorf("API_PORT and GATEWAY_PORT must not be empty")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
