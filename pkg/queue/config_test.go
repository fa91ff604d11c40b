package queue

import (
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_ConfigMap(t *testing.T) {
	t.Parallel()
	cfg := Config{BootstrapServers: "broker:9092", ClientID: "reconciler"}
	cm := cfg.ConfigMap()

	v, err := cm.Get("bootstrap.servers", "")
	require.NoError(t, err)
	assert.Equal(t, "broker:9092", v)
	v, err = cm.Get("enable.idempotence", false)
	require.NoError(t, err)
	assert.Equal(t, true, v)
	_, ok := (*cm)["sasl.username"]
	assert.False(t, ok, "no SASL settings without credentials")
}

func TestSASLConfig_Apply(t *testing.T) {
	t.Parallel()
	s := SASLConfig{Username: "u", Password: "p", Mechanism: "PLAIN", SecurityProtocol: "SASL_PLAINTEXT"}
	cm := kafka.ConfigMap{}
	s.ApplyToConfigMap(&cm)

	assert.Equal(t, kafka.ConfigMap{
		"security.protocol": "SASL_PLAINTEXT",
		"sasl.mechanisms":   "PLAIN",
		"sasl.username":     "u",
		"sasl.password":     "p",
	}, cm)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "b1:9092,b2:9092")
	t.Setenv("KAFKA_SNAPSHOT_TOPIC", "")
	t.Setenv("KAFKA_SASL_USERNAME", "svc")
	t.Setenv("KAFKA_SASL_PASSWORD", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Enabled())
	assert.Equal(t, DefaultSnapshotTopic, cfg.SnapshotTopic)
	assert.True(t, cfg.SASL.Enabled())
	assert.Equal(t, "SASL_SSL", cfg.SASL.SecurityProtocol)
}
