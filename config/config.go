package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Razorpay RazorpayConfig `mapstructure:"razorpay"`
	Donation DonationConfig `mapstructure:"donation"`
	Notifier NotifierConfig `mapstructure:"notifier"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	PublicURL string `mapstructure:"public_url"`
	Mode      string `mapstructure:"mode"`
}

// DatabaseConfig selects mysql (production) or sqlite (local runs).
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Path     string `mapstructure:"path"`
}

type RazorpayConfig struct {
	KeyID         string `mapstructure:"key_id"`
	KeySecret     string `mapstructure:"key_secret"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	Currency      string `mapstructure:"currency"`
}

type DonationConfig struct {
	UnitPrice int64 `mapstructure:"unit_price"`
}

type NotifierConfig struct {
	URL     string        `mapstructure:"url"`
	Caption string        `mapstructure:"caption"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// envBindings maps config keys to the environment names used in deployment.
var envBindings = map[string]string{
	"razorpay.key_id":         "RAZORPAY_KEY_ID",
	"razorpay.key_secret":     "RAZORPAY_KEY_SECRET",
	"razorpay.webhook_secret": "RAZORPAY_WEBHOOK_SECRET",
	"database.host":           "DB_HOST",
	"database.port":           "DB_PORT",
	"database.user":           "DB_USER",
	"database.password":       "DB_PASSWORD",
	"database.dbname":         "DB_NAME",
	"server.port":             "PORT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.dbname", "fundraiser")
	v.SetDefault("database.path", "fundraiser.db")

	v.SetDefault("razorpay.currency", "INR")
	v.SetDefault("donation.unit_price", 350)

	v.SetDefault("notifier.caption", "Thanks!")
	v.SetDefault("notifier.timeout", 10*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.ttl", 10*time.Second)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "payment_events")

	v.SetDefault("log.level", "info")
}

// Load reads config.yaml from path, or from the working directory and then the
// executable's directory when path is empty. A missing file is not an error:
// defaults and environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	for _, candidate := range candidatePaths(path) {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		v.SetConfigFile(candidate)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", candidate, err)
		}
		break
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func candidatePaths(path string) []string {
	if path != "" {
		return []string{path}
	}
	paths := []string{"config.yaml"}
	if execDir, err := filepath.Abs(filepath.Dir(os.Args[0])); err == nil {
		paths = append(paths, filepath.Join(execDir, "config.yaml"))
	}
	return paths
}

// DSN builds the MySQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.User, d.Password, d.Host, d.Port, d.DBName)
}
