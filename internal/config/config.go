package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Client side
	EmergencyWebhookURL string
	HubBaseURL          string
	ResponseSource      string // "db" queries the store directly, "hub" goes through the hub API
	RetryDelays         []time.Duration
	PollInterval        time.Duration
	PollWindow          time.Duration
	RequestTimeout      time.Duration

	// Store
	DBDriver string
	DBDSN    string

	// Realtime
	RealtimeBackend   string
	SubscribeTimeout  time.Duration
	MQTTBroker        string
	MQTTClientID      string
	MQTTUsername      string
	MQTTPassword      string
	MQTTTopicPrefix   string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisStreamPrefix string
	KafkaBrokers      string
	ResponsesTopic    string
	ConsumerGroup     string

	// Hub
	HubListenAddr    string
	HousekeepingSpec string
	Retention        time.Duration

	// Logging
	LogFile      string
	LogLevel     string
	LogFormat    string
	LogToConsole bool
}

func LoadConfig() *Config {
	err := godotenv.Load() // Looks for ".env" in the current directory
	if err != nil {
		log.Println("No .env file found, using environment variables or default values")
	}

	return &Config{
		EmergencyWebhookURL: getEnv("EMERGENCY_WEBHOOK_URL", "http://localhost:5678/webhook/emergency-trigger"),
		HubBaseURL:          getEnv("HUB_BASE_URL", "http://localhost:8080"),
		ResponseSource:      getEnv("RESPONSE_SOURCE", "db"),
		RetryDelays:         getDurations("RETRY_DELAYS", []time.Duration{time.Second, 2 * time.Second}),
		PollInterval:        getDuration("POLL_INTERVAL", time.Second),
		PollWindow:          getDuration("POLL_WINDOW", 0),
		RequestTimeout:      getDuration("REQUEST_TIMEOUT", 15*time.Second),

		DBDriver: getEnv("DB_DRIVER", "sqlite3"),
		DBDSN:    getEnv("DB_DSN", "sehatsaathi.db"),

		RealtimeBackend:   strings.ToLower(getEnv("REALTIME_BACKEND", "mqtt")),
		SubscribeTimeout:  getDuration("SUBSCRIBE_TIMEOUT", 10*time.Second),
		MQTTBroker:        getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTClientID:      getEnv("MQTT_CLIENT_ID", "sehatsaathi_local"),
		MQTTUsername:      getEnv("MQTT_USERNAME", ""),
		MQTTPassword:      getEnv("MQTT_PASSWORD", ""),
		MQTTTopicPrefix:   getEnv("MQTT_TOPIC_PREFIX", "hospital_responses/insert"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getInt("REDIS_DB", 0),
		RedisStreamPrefix: getEnv("REDIS_STREAM_PREFIX", "hospital_responses"),
		KafkaBrokers:      getEnv("KAFKA_BROKERS", "localhost:9092"),
		ResponsesTopic:    getEnv("RESPONSES_TOPIC", "hospital-responses"),
		ConsumerGroup:     getEnv("CONSUMER_GROUP", "sehatsaathi"),

		HubListenAddr:    getEnv("HUB_LISTEN_ADDR", ":8080"),
		HousekeepingSpec: getEnv("HOUSEKEEPING_SPEC", "*/10 * * * *"),
		Retention:        getDuration("RETENTION", 72*time.Hour),

		LogFile:      getEnv("LOG_FILE", "./logs/sehatsaathi.log"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),
		LogToConsole: strings.EqualFold(getEnv("LOG_TO_CONSOLE", "false"), "true"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("Invalid duration for %s (%q), using %s", key, raw, fallback)
		return fallback
	}
	return d
}

// getDurations reads a comma separated list such as "1s,2s".
func getDurations(key string, fallback []time.Duration) []time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			log.Printf("Invalid duration %q in %s, using defaults", part, key)
			return fallback
		}
		out = append(out, d)
	}
	return out
}
