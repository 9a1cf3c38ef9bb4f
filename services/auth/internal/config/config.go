package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/AfshinJalili/libris/libs/config"
)

var defaultEmailDomains = []string{"gmail.com", "outlook.com", "hotmail.com", "yahoo.com", "yahoo.co", "live.com"}

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

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

type RateLimitRedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
	// OTPLimit applies to the routes that send or check a one-time code.
	OTPLimit  int
	OTPWindow time.Duration
	Redis     RateLimitRedisConfig
}

type OTPConfig struct {
	TTL         time.Duration
	MaxAttempts int
	StaticCode  string
}

type KafkaTopics struct {
	OTPIssued  string
	DeadLetter string
}

type KafkaConfig struct {
	Brokers []string
	Topics  KafkaTopics
}

type Config struct {
	App                 base.AppConfig
	JWTSecret           string
	JWTIssuer           string
	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	OTP                 OTPConfig
	AllowedEmailDomains []string
	Argon2              Argon2Params
	DB                  DBConfig
	RateLimit           RateLimitConfig
	Kafka               KafkaConfig
	SweepInterval       time.Duration
}

func Load() (*Config, error) {
	path := base.Path()
	appCfg, err := base.Load(path, "auth")
	if err != nil {
		return nil, err
	}

	v, err := base.NewViper(path)
	if err != nil {
		return nil, err
	}
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topics.otp_issued", "otp.issued")
	v.SetDefault("kafka.topics.dead_letter", "")

	cfg := &Config{
		App:             *appCfg,
		JWTSecret:       envString("LIBRIS_JWT_SECRET", ""),
		JWTIssuer:       envString("LIBRIS_JWT_ISSUER", "libris-auth"),
		AccessTokenTTL:  envDuration("LIBRIS_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: envDuration("LIBRIS_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		OTP: OTPConfig{
			TTL:         envDuration("LIBRIS_OTP_TTL", 10*time.Minute),
			MaxAttempts: envInt("LIBRIS_OTP_MAX_ATTEMPTS", 3),
			StaticCode:  envString("LIBRIS_OTP_STATIC_CODE", ""),
		},
		AllowedEmailDomains: envCSV("LIBRIS_ALLOWED_EMAIL_DOMAINS", defaultEmailDomains),
		Argon2: Argon2Params{
			Memory:      uint32(envInt("LIBRIS_ARGON2_MEMORY", 64*1024)),
			Iterations:  uint32(envInt("LIBRIS_ARGON2_ITERATIONS", 3)),
			Parallelism: uint8(envInt("LIBRIS_ARGON2_PARALLELISM", 2)),
			SaltLength:  uint32(envInt("LIBRIS_ARGON2_SALT_LENGTH", 16)),
			KeyLength:   uint32(envInt("LIBRIS_ARGON2_KEY_LENGTH", 32)),
		},
		DB: DBConfig{
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "libris"),
			User:     envString("POSTGRES_USER", "libris"),
			Password: envString("POSTGRES_PASSWORD", "libris"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
		},
		RateLimit: RateLimitConfig{
			Limit:     envInt("LIBRIS_AUTH_RATE_LIMIT", 10),
			Window:    envDuration("LIBRIS_AUTH_RATE_WINDOW", 1*time.Minute),
			OTPLimit:  envInt("LIBRIS_AUTH_OTP_RATE_LIMIT", 5),
			OTPWindow: envDuration("LIBRIS_AUTH_OTP_RATE_WINDOW", 10*time.Minute),
			Redis: RateLimitRedisConfig{
				Addr:     envString("LIBRIS_RATE_LIMIT_REDIS_ADDR", ""),
				Password: envString("LIBRIS_RATE_LIMIT_REDIS_PASSWORD", ""),
				DB:       envInt("LIBRIS_RATE_LIMIT_REDIS_DB", 0),
				Prefix:   envString("LIBRIS_RATE_LIMIT_REDIS_PREFIX", "libris:auth:rl:"),
			},
		},
		Kafka: KafkaConfig{
			Brokers: envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			Topics: KafkaTopics{
				OTPIssued:  envString("KAFKA_OTP_TOPIC", v.GetString("kafka.topics.otp_issued")),
				DeadLetter: envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
		},
		SweepInterval: envDuration("LIBRIS_SWEEP_INTERVAL", time.Hour),
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
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= c.AccessTokenTTL {
		return fmt.Errorf("refresh token ttl must exceed a positive access token ttl")
	}
	if c.RateLimit.Limit < 1 || c.RateLimit.OTPLimit < 1 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.OTP.MaxAttempts < 1 {
		return fmt.Errorf("LIBRIS_OTP_MAX_ATTEMPTS must be positive")
	}
	if c.OTP.StaticCode != "" && len(c.OTP.StaticCode) != 6 {
		return fmt.Errorf("LIBRIS_OTP_STATIC_CODE must be 6 digits")
	}
	if c.OTP.StaticCode != "" && !c.App.IsDev() {
		return fmt.Errorf("LIBRIS_OTP_STATIC_CODE is only allowed in dev/test")
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
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
