package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("LIBRIS_CONFIG", filepath.Join(t.TempDir(), "none.yaml"))
	t.Setenv("LIBRIS_JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without jwt secret")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LIBRIS_CONFIG", filepath.Join(t.TempDir(), "none.yaml"))
	t.Setenv("LIBRIS_JWT_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Lending.Durations) != 2 || cfg.Lending.Durations[0] != 5 || cfg.Lending.Durations[1] != 8 {
		t.Fatalf("expected durations [5 8], got %v", cfg.Lending.Durations)
	}
	if cfg.Lending.MaxAdvanceDays != 90 {
		t.Fatalf("expected 90 max advance days, got %d", cfg.Lending.MaxAdvanceDays)
	}
	if cfg.Lending.Location != time.UTC {
		t.Fatalf("expected UTC, got %s", cfg.Lending.Location)
	}
	if cfg.Promotion.Interval != time.Minute || cfg.Promotion.Batch != 100 {
		t.Fatalf("unexpected promotion defaults %+v", cfg.Promotion)
	}
	if cfg.Kafka.Topics.LendingEvents != "lending.events" {
		t.Fatalf("expected lending.events topic, got %q", cfg.Kafka.Topics.LendingEvents)
	}
	if cfg.App.ServiceName != "library" {
		t.Fatalf("expected library service name, got %q", cfg.App.ServiceName)
	}
}

func TestLoadCustomDurationsAndTimezone(t *testing.T) {
	t.Setenv("LIBRIS_CONFIG", filepath.Join(t.TempDir(), "none.yaml"))
	t.Setenv("LIBRIS_JWT_SECRET", "secret")
	t.Setenv("LIBRIS_LENDING_DURATIONS", "7, 14")
	t.Setenv("LIBRIS_LENDING_TIMEZONE", "Europe/Berlin")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Lending.Durations) != 2 || cfg.Lending.Durations[1] != 14 {
		t.Fatalf("unexpected durations %v", cfg.Lending.Durations)
	}
	if cfg.Lending.Location.String() != "Europe/Berlin" {
		t.Fatalf("unexpected location %s", cfg.Lending.Location)
	}
}

func TestLoadRejectsBadDurations(t *testing.T) {
	t.Setenv("LIBRIS_CONFIG", filepath.Join(t.TempDir(), "none.yaml"))
	t.Setenv("LIBRIS_JWT_SECRET", "secret")
	t.Setenv("LIBRIS_LENDING_DURATIONS", "5,eight")
	if _, err := Load(); err == nil {
		t.Fatalf("expected malformed durations to be rejected")
	}
}

func TestLoadRequiresBrokersInProd(t *testing.T) {
	t.Setenv("LIBRIS_CONFIG", filepath.Join(t.TempDir(), "none.yaml"))
	t.Setenv("LIBRIS_JWT_SECRET", "secret")
	t.Setenv("LIBRIS_ENV", "prod")
	t.Setenv("KAFKA_BROKERS", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing brokers to be rejected in prod")
	}
}
