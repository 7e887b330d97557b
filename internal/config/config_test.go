package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "notification-service", cfg.App.Name)
	assert.Equal(t, "8085", cfg.HTTP.Port)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "notification-events", cfg.Kafka.Topic)
	assert.Equal(t, "notification-events-dlq", cfg.Kafka.DLQTopic)
	assert.Equal(t, 30*time.Second, cfg.Auth.ClockSkew)
	assert.Equal(t, 30*time.Second, cfg.Presence.TTL)
	assert.Equal(t, "notify.relay", cfg.Presence.RelayChannel)
	assert.Equal(t, 60*time.Second, cfg.WS.IdleTimeout)
	assert.Equal(t, 5, cfg.Consumer.MaxRetries)
	assert.Equal(t, 24*time.Hour, cfg.Consumer.DedupWindow)
}

func TestNew_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("PRESENCE_TTL", "45s")
	t.Setenv("CONSUMER_MAX_RETRIES", "3")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.HTTP.Port)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 45*time.Second, cfg.Presence.TTL)
	assert.Equal(t, 3, cfg.Consumer.MaxRetries)
}

func TestHeartbeatInterval(t *testing.T) {
	p := Presence{TTL: 30 * time.Second}
	assert.Equal(t, 10*time.Second, p.HeartbeatInterval())
}
