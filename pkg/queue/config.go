package queue

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// DefaultSnapshotTopic receives one message per closed window.
const DefaultSnapshotTopic = "leaderboard-snapshots"

// Config holds the Kafka producer settings.
type Config struct {
	BootstrapServers string `env:"KAFKA_BOOTSTRAP_SERVERS"`
	SnapshotTopic    string `env:"KAFKA_SNAPSHOT_TOPIC" envDefault:"leaderboard-snapshots"`
	ClientID         string `env:"KAFKA_CLIENT_ID" envDefault:"2048tx-reconciler"`
	EnableLogs       bool   `env:"KAFKA_ENABLE_LOGS" envDefault:"false"`
	SASL             SASLConfig
}

// SASLConfig holds optional SASL authentication settings.
type SASLConfig struct {
	Username         string `env:"KAFKA_SASL_USERNAME"`
	Password         string `env:"KAFKA_SASL_PASSWORD"`
	Mechanism        string `env:"KAFKA_SASL_MECHANISM" envDefault:"SCRAM-SHA-512"`
	SecurityProtocol string `env:"KAFKA_SECURITY_PROTOCOL" envDefault:"SASL_SSL"`
}

// Enabled reports whether credentials are configured.
func (s SASLConfig) Enabled() bool {
	return s.Username != "" && s.Password != ""
}

// ApplyToConfigMap adds the SASL settings to cm when credentials are set.
func (s SASLConfig) ApplyToConfigMap(cm *kafka.ConfigMap) {
	if !s.Enabled() {
		return
	}
	(*cm)["security.protocol"] = s.SecurityProtocol
	(*cm)["sasl.mechanisms"] = s.Mechanism
	(*cm)["sasl.username"] = s.Username
	(*cm)["sasl.password"] = s.Password
}

// Enabled reports whether a broker is configured.
func (c Config) Enabled() bool {
	return c.BootstrapServers != ""
}

// ConfigMap builds the librdkafka producer configuration. Publishing is
// idempotent so broker-side retries never duplicate a snapshot message.
func (c Config) ConfigMap() *kafka.ConfigMap {
	cm := kafka.ConfigMap{
		"bootstrap.servers":      c.BootstrapServers,
		"client.id":              c.ClientID,
		"acks":                   "all",
		"enable.idempotence":     true,
		"compression.type":       "lz4",
		"go.logs.channel.enable": c.EnableLogs,
	}
	c.SASL.ApplyToConfigMap(&cm)
	return &cm
}

// LoadConfig loads the Kafka configuration from environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse kafka config: %w", err)
	}
	return cfg, nil
}
