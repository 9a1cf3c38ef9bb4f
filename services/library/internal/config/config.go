package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/AfshinJalili/libris/libs/config"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

func (d DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type LendingConfig struct {
	Durations      []int
	MaxAdvanceDays int
	Location       *time.Location
}

type PromotionConfig struct {
	Interval time.Duration
	Batch    int
}

type KafkaTopics struct {
	LendingEvents string
	DeadLetter    string
}

type KafkaConfig struct {
	Brokers []string
	Topics  KafkaTopics
}

type Config struct {
	App       base.AppConfig
	JWTSecret string
	DB        DBConfig
	Lending   LendingConfig
	Promotion PromotionConfig
	Kafka     KafkaConfig
}

func Load() (*Config, error) {
	path := base.Path()
	appCfg, err := base.Load(path, "library")
	if err != nil {
		return nil, err
	}

	v, err := base.NewViper(path)
	if err != nil {
		return nil, err
	}
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topics.lending_events", "lending.events")
	v.SetDefault("kafka.topics.dead_letter", "")

	tz := envString("LIBRIS_LENDING_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("LIBRIS_LENDING_TIMEZONE: %w", err)
	}

	durations, err := envInts("LIBRIS_LENDING_DURATIONS", []int{5, 8})
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App:       *appCfg,
		JWTSecret: envString("LIBRIS_JWT_SECRET", ""),
		DB: DBConfig{
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "libris"),
			User:     envString("POSTGRES_USER", "libris"),
			Password: envString("POSTGRES_PASSWORD", "libris"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
		},
		Lending: LendingConfig{
			Durations:      durations,
			MaxAdvanceDays: envInt("LIBRIS_MAX_ADVANCE_DAYS", 90),
			Location:       loc,
		},
		Promotion: PromotionConfig{
			Interval: envDuration("LIBRIS_PROMOTION_INTERVAL", time.Minute),
			Batch:    envInt("LIBRIS_PROMOTION_BATCH", 100),
		},
		Kafka: KafkaConfig{
			Brokers: envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			Topics: KafkaTopics{
				LendingEvents: envString("KAFKA_LENDING_TOPIC", v.GetString("kafka.topics.lending_events")),
				DeadLetter:    envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("LIBRIS_JWT_SECRET must be set")
	}
	if len(c.Lending.Durations) == 0 {
		return fmt.Errorf("LIBRIS_LENDING_DURATIONS must list at least one duration")
	}
	for _, d := range c.Lending.Durations {
		if d < 1 {
			return fmt.Errorf("lending duration %d must be positive", d)
		}
	}
	if c.Lending.MaxAdvanceDays < 1 {
		return fmt.Errorf("LIBRIS_MAX_ADVANCE_DAYS must be positive")
	}
	if c.Promotion.Batch < 1 {
		return fmt.Errorf("LIBRIS_PROMOTION_BATCH must be positive")
	}
	if len(c.Kafka.Brokers) == 0 && !c.App.IsDev() {
		return fmt.Errorf("KAFKA_BROKERS required outside dev/test")
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

// envInts parses a comma separated list of integers. Unlike the other
// helpers a malformed value is an error, since silently falling back would
// change which loan lengths are offered.
func envInts(key string, def []int) ([]int, error) {
	raw := envCSV(key, nil)
	if raw == nil {
		return def, nil
	}
	out := make([]int, 0, len(raw))
	for _, part := range raw {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not an integer", key, part)
		}
		out = append(out, n)
	}
	return out, nil
}
