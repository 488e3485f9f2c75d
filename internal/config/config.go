package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     string
	LogLevel string

	PluginID            string
	RegistryURL         string
	IPCBaseURL          string
	PollInterval        time.Duration
	QueueCapacity       int
	HandshakeMaxRetries int
	HandshakeTimeout    time.Duration

	MQTTBrokerURL string
	RedisAddr     string
	RedisPassword string
	AdapterID     string
}

func Load() *Config {
	cfg := &Config{
		Port:     getEnv("MQTT_ADAPTER_PORT", "8095"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		PluginID:            getEnv("PLUGIN_ID", "mqtt"),
		RegistryURL:         getEnv("GATEWAY_REGISTRY_URL", "ipc:///tmp/gateway.addonManager"),
		IPCBaseURL:          getEnv("GATEWAY_IPC_BASE_URL", "ipc:///tmp"),
		PollInterval:        time.Duration(getEnvInt("BRIDGE_POLL_INTERVAL_MS", 33)) * time.Millisecond,
		QueueCapacity:       getEnvInt("BRIDGE_QUEUE_CAPACITY", 128),
		HandshakeMaxRetries: getEnvInt("HANDSHAKE_MAX_RETRIES", 5),
		HandshakeTimeout:    time.Duration(getEnvInt("HANDSHAKE_TIMEOUT_SEC", 30)) * time.Second,

		MQTTBrokerURL: getEnv("MQTT_BROKER_URL", "mqtt://mosquitto:1883"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		AdapterID:     getEnv("LIGHT_ADAPTER_ID", "mqtt-light"),
	}
	slog.Info("mqtt-adapter config loaded",
		"port", cfg.Port,
		"plugin_id", cfg.PluginID,
		"registry", cfg.RegistryURL,
		"mqtt", cfg.MQTTBrokerURL,
		"adapter_id", cfg.AdapterID)
	return cfg
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("invalid integer in environment, using default", "key", k, "value", v, "default", def)
	}
	return def
}
