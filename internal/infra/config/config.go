package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates application configuration values loaded from
// environment variables. Server and client settings share one struct; each
// binary reads the fields it needs.
type Config struct {
	Env      string
	HTTPAddr string

	// Client-side settings.
	APIBaseURL     string
	BrokerWSURL    string
	ReconnectDelay time.Duration
	CallTimeout    time.Duration

	// Server-side settings.
	StorageMode string
	MongoURI    string
	MongoDB     string

	KafkaBrokers  []string
	KafkaTopic    string
	KafkaOutTopic string
	KafkaGroupID  string

	S3Endpoint       string
	S3PublicEndpoint string
	S3AccessKey      string
	S3SecretKey      string
	S3Bucket         string
	S3UseSSL         bool
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:              getEnv("APP_ENV", "dev"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8090"),
		APIBaseURL:       getEnv("API_BASE_URL", "http://localhost:8090"),
		BrokerWSURL:      getEnv("BROKER_WS_URL", "ws://localhost:8090/ws"),
		StorageMode:      strings.ToLower(getEnv("STORAGE_MODE", "memory")),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDB:          getEnv("MONGO_DB", "crmsync"),
		KafkaTopic:       getEnv("KAFKA_INBOUND_TOPIC", "crm.inbound-messages"),
		KafkaOutTopic:    getEnv("KAFKA_OUTBOUND_TOPIC", "crm.outbound-messages"),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "crmsyncd"),
		S3Endpoint:       getEnv("S3_ENDPOINT", "http://localhost:9000"),
		S3PublicEndpoint: getEnv("S3_PUBLIC_ENDPOINT", ""),
		S3AccessKey:      getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:      getEnv("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:         getEnv("S3_BUCKET", "crmsync-media"),
	}

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	reconnect, err := parseDurationEnv("BROKER_RECONNECT_DELAY", 3*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.ReconnectDelay = reconnect

	callTimeout, err := parseDurationEnv("API_CALL_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.CallTimeout = callTimeout

	useSSL, err := parseBoolEnv("S3_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg.S3UseSSL = useSSL
	if cfg.S3PublicEndpoint == "" {
		cfg.S3PublicEndpoint = cfg.S3Endpoint
	}

	switch cfg.StorageMode {
	case "memory":
	case "mongo":
		if cfg.MongoURI == "" {
			return Config{}, fmt.Errorf("MONGO_URI is required when STORAGE_MODE=mongo")
		}
	default:
		return Config{}, fmt.Errorf("unknown STORAGE_MODE %q", cfg.StorageMode)
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseBoolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
