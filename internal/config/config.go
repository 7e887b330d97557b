package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	App      App      `yaml:"app"`
	HTTP     HTTP     `yaml:"http"`
	Log      Log      `yaml:"log"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Auth     Auth     `yaml:"auth"`
	Presence Presence `yaml:"presence"`
	WS       WS       `yaml:"ws"`
	Consumer Consumer `yaml:"consumer"`
}

type App struct {
	Name string `yaml:"name" env:"APP_NAME" env-default:"notification-service"`
	// InstanceID identifies this process in the presence registry.
	// Empty means a random ID is generated at boot.
	InstanceID string `yaml:"instance_id" env:"INSTANCE_ID" env-default:""`
}

type HTTP struct {
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8085"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type Postgres struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-default:"user"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-default:"password"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB" env-default:"notifications_db"`
}

type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type Kafka struct {
	Brokers  []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	Topic    string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"notification-events"`
	GroupID  string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"notification-service"`
	DLQTopic string   `yaml:"dlq_topic" env:"KAFKA_DLQ_TOPIC" env-default:"notification-events-dlq"`
}

type Auth struct {
	Secret string `yaml:"secret" env:"JWT_SECRET" env-default:"dev-secret"`
	// ClockSkew is tolerated on iat/exp during verification.
	ClockSkew          time.Duration `yaml:"clock_skew" env:"JWT_CLOCK_SKEW" env-default:"30s"`
	RevalidateInterval time.Duration `yaml:"revalidate_interval" env:"JWT_REVALIDATE_INTERVAL" env-default:"1m"`
}

type Presence struct {
	TTL time.Duration `yaml:"ttl" env:"PRESENCE_TTL" env-default:"30s"`
	// RelayChannel is the shared pub/sub topic used for cross-instance fan-out.
	RelayChannel string `yaml:"relay_channel" env:"PRESENCE_RELAY_CHANNEL" env-default:"notify.relay"`
}

// HeartbeatInterval derives the presence refresh period from the TTL so an
// entry survives two missed beats before expiring.
func (p Presence) HeartbeatInterval() time.Duration {
	return p.TTL / 3
}

type WS struct {
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"WS_IDLE_TIMEOUT" env-default:"60s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WS_WRITE_TIMEOUT" env-default:"10s"`
	// SendBuffer is the per-session outbound queue size; a full queue drops
	// the push and the notification stays undelivered for backlog replay.
	SendBuffer int `yaml:"send_buffer" env:"WS_SEND_BUFFER" env-default:"64"`
}

type Consumer struct {
	Workers     int           `yaml:"workers" env:"CONSUMER_WORKERS" env-default:"2"`
	MaxRetries  int           `yaml:"max_retries" env:"CONSUMER_MAX_RETRIES" env-default:"5"`
	DedupWindow time.Duration `yaml:"dedup_window" env:"DEDUP_WINDOW" env-default:"24h"`
	// OpTimeout bounds individual store and registry calls.
	OpTimeout time.Duration `yaml:"op_timeout" env:"OP_TIMEOUT" env-default:"3s"`
}

func New() (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		// fallback to env vars if file not found
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else {
		// Allow env vars to override config file
		cleanenv.ReadEnv(cfg)
	}

	return cfg, nil
}
