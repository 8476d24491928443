package application

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// MQTTConfig holds broker connection parameters.
type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"tls"`
}

// Config holds the irrigation tunables.
type Config struct {
	OnlineThresholdSeconds int        `yaml:"online_threshold_s"`
	AckTTLSeconds          int        `yaml:"ack_ttl_s"`
	AckCleanupSeconds      int        `yaml:"ack_cleanup_s"`
	WaitAckMinSeconds      int        `yaml:"wait_ack_min_s"`
	WaitAckMaxSeconds      int        `yaml:"wait_ack_max_s"`
	MQTT                   MQTTConfig `yaml:"mqtt"`
}

// OnlineThreshold returns the staleness window as a duration.
func (c Config) OnlineThreshold() time.Duration {
	return time.Duration(c.OnlineThresholdSeconds) * time.Second
}

// AckTTL returns the durable ack retention as a duration.
func (c Config) AckTTL() time.Duration {
	return time.Duration(c.AckTTLSeconds) * time.Second
}

// AckCleanupPeriod returns the cleanup sweep period as a duration.
func (c Config) AckCleanupPeriod() time.Duration {
	return time.Duration(c.AckCleanupSeconds) * time.Second
}

// LoadConfig loads config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		OnlineThresholdSeconds: getenvIntDefault("ONLINE_THRESHOLD_SECONDS", 30),
		AckTTLSeconds:          getenvIntDefault("ACK_TTL_SECONDS", 300),
		AckCleanupSeconds:      getenvIntDefault("ACK_CLEANUP_SECONDS", 60),
		WaitAckMinSeconds:      getenvIntDefault("WAIT_ACK_MIN_SECONDS", 1),
		WaitAckMaxSeconds:      getenvIntDefault("WAIT_ACK_MAX_SECONDS", 15),
		MQTT: MQTTConfig{
			Host:     getenvDefault("MQTT_HOST", "localhost"),
			Port:     getenvIntDefault("MQTT_PORT", 1883),
			ClientID: getenvDefault("MQTT_CLIENT_ID", "irrigation-cloud"),
			Username: os.Getenv("MQTT_USERNAME"),
			Password: os.Getenv("MQTT_PASSWORD"),
			UseTLS:   getenvBoolDefault("MQTT_TLS", false),
		},
	}

	if path := os.Getenv("IRRIGATION_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.OnlineThresholdSeconds <= 0 {
		return cfg, errors.New("watering config: online threshold must be positive")
	}
	if cfg.WaitAckMinSeconds <= 0 || cfg.WaitAckMaxSeconds < cfg.WaitAckMinSeconds {
		return cfg, errors.New("watering config: invalid wait-ack bounds")
	}
	if cfg.MQTT.Host == "" || cfg.MQTT.Port <= 0 {
		return cfg, errors.New("watering config: invalid mqtt broker")
	}
	return cfg, nil
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

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
