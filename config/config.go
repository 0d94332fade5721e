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
	Mail     MailConfig     `yaml:"mail"`
	CartBox  CartBoxConfig  `yaml:"cartbox"`
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
	Host                               string `yaml:"host"`
	Port                               int    `yaml:"port"`
	RegistrationConfirmedTopicName     string `yaml:"registration_confirmed_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type MailConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	From         string `yaml:"from"`
	BaseImageURL string `yaml:"base_image_url"`
}

type CartBoxConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	SwaggerPath        string `yaml:"swagger_path"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	AdminSecret          string `yaml:"admin_secret"`
	AdminTokenTTLSeconds int    `yaml:"admin_token_ttl_seconds"`

	DefaultWarrantyMonths          int `yaml:"default_warranty_months"`
	LookupCacheTTLSeconds          int `yaml:"lookup_cache_ttl_seconds"`
	RegistrationRateLimitPerMinute int `yaml:"registration_rate_limit_per_minute"`
	PurgeScanLimit                 int `yaml:"purge_scan_limit"`
	PurgeBatchSize                 int `yaml:"purge_batch_size"`
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
