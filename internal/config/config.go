// Package config loads runtime configuration from the environment.
package config

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config holds every environment-configurable value the engine uses.
type Config struct {
	ServerAddr string

	RedisURL string

	AppKey    string
	AppSecret string

	DatabaseURL string

	LogLevel string

	KafkaBrokers []string
	DevMode      bool

	ActivityTimeout time.Duration
	QueueSize       int
}

var (
	instance *Config
	once     sync.Once
)

// Load reads the environment once and returns the shared Config instance.
func Load() *Config {
	once.Do(func() {
		viper.SetDefault("SERVER_ADDR", "0.0.0.0:3000")
		viper.SetDefault("REDIS_URL", "redis://127.0.0.1:6379/0")
		viper.SetDefault("APP_KEY", "dev-key")
		viper.SetDefault("APP_SECRET", "dev-secret")
		viper.SetDefault("DATABASE_URL", "")
		viper.SetDefault("LOG_LEVEL", "info")
		viper.SetDefault("KAFKA_BROKERS", "")
		viper.SetDefault("DEV_MODE", false)
		viper.SetDefault("ACTIVITY_TIMEOUT", 120*time.Second)
		viper.SetDefault("QUEUE_SIZE", 64)
		viper.AutomaticEnv()

		var brokers []string
		if raw := viper.GetString("KAFKA_BROKERS"); raw != "" {
			for _, b := range strings.Split(raw, ",") {
				if b = strings.TrimSpace(b); b != "" {
					brokers = append(brokers, b)
				}
			}
		}

		instance = &Config{
			ServerAddr:      viper.GetString("SERVER_ADDR"),
			RedisURL:        viper.GetString("REDIS_URL"),
			AppKey:          viper.GetString("APP_KEY"),
			AppSecret:       viper.GetString("APP_SECRET"),
			DatabaseURL:     viper.GetString("DATABASE_URL"),
			LogLevel:        viper.GetString("LOG_LEVEL"),
			KafkaBrokers:    brokers,
			DevMode:         viper.GetBool("DEV_MODE"),
			ActivityTimeout: viper.GetDuration("ACTIVITY_TIMEOUT"),
			QueueSize:       viper.GetInt("QUEUE_SIZE"),
		}
	})
	return instance
}
