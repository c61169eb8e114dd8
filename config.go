package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

type config struct {
	EnvFile        string
	ThresholdsPath string
	Migrate        bool
	DisableMQTT    bool

	DatabaseURL     string
	DBMaxOpenConns  int
	DBMaxIdleConns  int
	DBConnLifetime  time.Duration
	RedisURL        string
	HTTPAddr        string
	ShutdownTimeout time.Duration

	MQTTBrokerURL     string
	MQTTClientID      string
	MQTTUsername      string
	MQTTPassword      string
	MQTTTopic         string
	MQTTQoS           int
	MQTTTLS           bool
	IngestWorkers     int
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	DrainTimeout      time.Duration
	SinkTimeout       time.Duration
	IngestSecret      string
	IngestSkewSeconds int

	JWTSecret string

	AlertWebhookURL         string
	AlertWebhookToken       string
	AlertNotifyTemplate     string
	AlertNotifyCooldown     time.Duration
	AlertNotifyDedupeWindow time.Duration
	AlertNotifyTimeout      time.Duration
	AlertNotifyMinSeverity  string
}

// loadConfig parses flags, loads the optional .env file and reads the
// environment. Flags given explicitly win over the environment.
func loadConfig(args []string) (config, error) {
	var cfg config
	flagSet := pflag.NewFlagSet("facade-monitor", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.EnvFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flagSet.StringVar(&cfg.ThresholdsPath, "thresholds", "", "YAML file with sensor threshold and schedule overrides")
	httpAddr := flagSet.String("http-addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	flagSet.BoolVar(&cfg.Migrate, "migrate", false, "create tables and indexes before starting")
	flagSet.BoolVar(&cfg.DisableMQTT, "no-mqtt", false, "serve the API and run sweeps without subscribing to the broker")
	if err := flagSet.Parse(args); err != nil {
		return cfg, err
	}

	if cfg.EnvFile != "" {
		if err := godotenv.Load(cfg.EnvFile); err != nil && flagSet.Changed("env-file") {
			return cfg, fmt.Errorf("env file %s: %w", cfg.EnvFile, err)
		}
	}

	cfg.DatabaseURL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", ""))
	cfg.DBMaxOpenConns = getenvIntDefault("DB_MAX_OPEN_CONNS", 20)
	cfg.DBMaxIdleConns = getenvIntDefault("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnLifetime = getenvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.RedisURL = getenvDefault("REDIS_URL", "redis://localhost:6379/0")
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")
	cfg.ShutdownTimeout = getenvDuration("SHUTDOWN_TIMEOUT", 15*time.Second)

	cfg.MQTTBrokerURL = getenvDefault("MQTT_BROKER_URL", "tcp://localhost:1883")
	cfg.MQTTClientID = getenvDefault("MQTT_CLIENT_ID", defaultClientID())
	cfg.MQTTUsername = getenvDefault("MQTT_USERNAME", "")
	cfg.MQTTPassword = getenvDefault("MQTT_PASSWORD", "")
	cfg.MQTTTopic = getenvDefault("MQTT_TOPIC", "sensors/+/all")
	cfg.MQTTQoS = getenvIntDefault("MQTT_QOS", 1)
	cfg.MQTTTLS = getenvBool("MQTT_TLS", false)
	cfg.IngestWorkers = getenvIntDefault("INGEST_WORKERS", 8)
	cfg.ReconnectBase = getenvDuration("MQTT_RECONNECT_BASE", 5*time.Second)
	cfg.ReconnectMax = getenvDuration("MQTT_RECONNECT_MAX", 60*time.Second)
	cfg.DrainTimeout = getenvDuration("INGEST_DRAIN_TIMEOUT", 10*time.Second)
	cfg.SinkTimeout = getenvDuration("INGEST_SINK_TIMEOUT", 5*time.Second)
	cfg.IngestSecret = getenvDefault("INGEST_HMAC_SECRET", "")
	cfg.IngestSkewSeconds = getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300)

	cfg.JWTSecret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", ""))

	cfg.AlertWebhookURL = getenvDefault("ALERT_WEBHOOK_URL", "")
	cfg.AlertWebhookToken = getenvDefault("ALERT_WEBHOOK_TOKEN", "")
	cfg.AlertNotifyTemplate = getenvDefault("ALERT_NOTIFY_TEMPLATE", "")
	cfg.AlertNotifyCooldown = getenvDuration("ALERT_NOTIFY_COOLDOWN", 0)
	cfg.AlertNotifyDedupeWindow = getenvDuration("ALERT_NOTIFY_DEDUP_WINDOW", 0)
	cfg.AlertNotifyTimeout = getenvDuration("ALERT_NOTIFY_TIMEOUT", 5*time.Second)
	cfg.AlertNotifyMinSeverity = getenvDefault("ALERT_NOTIFY_MIN_SEVERITY", "")

	if flagSet.Changed("http-addr") {
		cfg.HTTPAddr = *httpAddr
	}
	if cfg.ThresholdsPath == "" {
		cfg.ThresholdsPath = getenvDefault("THRESHOLDS_FILE", "")
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL or PG_DSN is required")
	}
	if c.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is required")
	}
	if c.MQTTQoS < 0 || c.MQTTQoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTTQoS)
	}
	return nil
}

func defaultClientID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return "facade-monitor-" + host
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
