package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	ShipSync ShipSyncConfig `yaml:"shipsync"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	StatusChangedTopicName string `yaml:"status_changed_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ShipSyncConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	// Внешний адрес сервиса: база для callback'ов вебхуков платформы.
	PublicBaseURL string `yaml:"public_base_url"`

	// Кэш "текущего состояния" трекинга для админских чтений.
	TrackingStateTTLSeconds int `yaml:"tracking_state_ttl_seconds"`

	// Пул фонового ресинка после свежей регистрации.
	ResyncWorkers   int `yaml:"resync_workers"`
	ResyncQueueSize int `yaml:"resync_queue_size"`

	AggregatorBaseURL            string `yaml:"aggregator_base_url"`
	AggregatorRateLimitPerMinute int    `yaml:"aggregator_rate_limit_per_minute"`

	// Схема нужна только для локальных стендов (http вместо https).
	PlatformScheme     string `yaml:"platform_scheme"`
	PlatformAPIVersion string `yaml:"platform_api_version"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
