package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "USE_MEMORY_STORE", "CACHE_TTL", "BUSINESS_DAYS", "AUTO_SCHEDULE_WINDOW_DAYS", "CORS_ALLOWED_ORIGINS"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Fatalf("expected default cache ttl, got %s", cfg.CacheTTL)
	}
	if cfg.BusinessDays != "mon,tue,wed,thu,fri" || cfg.BusinessHoursOpen != "09:00" || cfg.BusinessHoursClose != "17:00" {
		t.Fatalf("unexpected default business hours %q %s-%s", cfg.BusinessDays, cfg.BusinessHoursOpen, cfg.BusinessHoursClose)
	}
	if cfg.AutoScheduleWindowDays != 3 || cfg.AlternativesDays != 7 || cfg.SlotGranularityMinutes != 30 {
		t.Fatalf("unexpected default search windows %+v", cfg)
	}
	if cfg.CORSAllowedOrigins != nil {
		t.Fatalf("expected no default CORS origins, got %v", cfg.CORSAllowedOrigins)
	}
	if !cfg.MemoryMode() {
		t.Fatalf("expected memory mode without a database url")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("DATABASE_READ_URL", "postgres://user@replica/db")
	t.Setenv("USE_MEMORY_STORE", "false")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("CLINIC_TIMEZONE", "America/Chicago")
	t.Setenv("AUTO_SCHEDULE_WINDOW_DAYS", "5")
	t.Setenv("SLOT_GRANULARITY_MINUTES", "not-a-number")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("RESERVATION_EVENTS_QUEUE_URL", "https://sqs.local/q")
	cfg := Load()
	if cfg.Port != "9090" || cfg.Env != "production" {
		t.Fatalf("expected port/env overrides, got %s %s", cfg.Port, cfg.Env)
	}
	if cfg.DatabaseReadURL != "postgres://user@replica/db" {
		t.Fatalf("expected read replica override, got %s", cfg.DatabaseReadURL)
	}
	if cfg.MemoryMode() {
		t.Fatalf("expected postgres mode")
	}
	if cfg.CacheTTL != 90*time.Second {
		t.Fatalf("expected cache ttl override, got %s", cfg.CacheTTL)
	}
	if !cfg.RedisTLS {
		t.Fatalf("expected redis tls enabled")
	}
	if cfg.ClinicTimezone != "America/Chicago" {
		t.Fatalf("expected timezone override, got %s", cfg.ClinicTimezone)
	}
	if cfg.AutoScheduleWindowDays != 5 {
		t.Fatalf("expected window override, got %d", cfg.AutoScheduleWindowDays)
	}
	if cfg.SlotGranularityMinutes != 30 {
		t.Fatalf("expected invalid granularity to fall back, got %d", cfg.SlotGranularityMinutes)
	}
	if want := []string{"https://a.example", "https://b.example"}; !reflect.DeepEqual(cfg.CORSAllowedOrigins, want) {
		t.Fatalf("expected origins %v, got %v", want, cfg.CORSAllowedOrigins)
	}
	if cfg.ReservationEventsQueueURL != "https://sqs.local/q" {
		t.Fatalf("expected queue override, got %s", cfg.ReservationEventsQueueURL)
	}
}
