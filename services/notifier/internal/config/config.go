package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/AfshinJalili/libris/libs/config"
)

type KafkaTopics struct {
	OTPIssued  string
	DeadLetter string
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topics        KafkaTopics
	MaxAttempts   int
	MaxBackoff    time.Duration
}

type MailConfig struct {
	From string
	// RevealCodes logs OTP codes in plain text. Only honoured in dev/test.
	RevealCodes bool
}

type Config struct {
	App   base.AppConfig
	Kafka KafkaConfig
	Mail  MailConfig
}

func Load() (*Config, error) {
	path := base.Path()
	appCfg, err := base.Load(path, "notifier")
	if err != nil {
		return nil, err
	}

	v, err := base.NewViper(path)
	if err != nil {
		return nil, err
	}
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.consumer_group", "libris-notifier")
	v.SetDefault("kafka.topics.otp_issued", "otp.issued")
	v.SetDefault("kafka.topics.dead_letter", "")

	cfg := &Config{
		App: *appCfg,
		Kafka: KafkaConfig{
			Brokers:       envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ConsumerGroup: envString("KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group")),
			Topics: KafkaTopics{
				OTPIssued:  envString("KAFKA_OTP_TOPIC", v.GetString("kafka.topics.otp_issued")),
				DeadLetter: envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
			MaxAttempts: envInt("LIBRIS_NOTIFIER_MAX_ATTEMPTS", 5),
			MaxBackoff:  envDuration("LIBRIS_NOTIFIER_MAX_BACKOFF", 5*time.Second),
		},
		Mail: MailConfig{
			From:        envString("LIBRIS_MAIL_FROM", "no-reply@libris.local"),
			RevealCodes: envBool("LIBRIS_MAIL_REVEAL_CODES", appCfg.IsDev()),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS must be set")
	}
	if c.Kafka.ConsumerGroup == "" {
		return fmt.Errorf("KAFKA_CONSUMER_GROUP must be set")
	}
	if c.Kafka.MaxAttempts < 1 {
		return fmt.Errorf("LIBRIS_NOTIFIER_MAX_ATTEMPTS must be positive")
	}
	if c.Mail.RevealCodes && !c.App.IsDev() {
		return fmt.Errorf("LIBRIS_MAIL_REVEAL_CODES is only allowed in dev/test")
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

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
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
