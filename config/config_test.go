package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// shield from the ambient environment
	for _, key := range []string{"PORT", "SESSION_LIVENESS_WINDOW_SEC", "SESSION_BACKFILL_SIZE",
		"SESSION_MESSAGE_RATE", "SESSION_MESSAGE_BURST", "POLICY_SLOW_MODE_SECONDS"} {
		t.Setenv(key, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Session.LivenessWindow != 45*time.Second {
		t.Fatalf("expected 45s liveness window, got %s", cfg.Session.LivenessWindow)
	}
	if cfg.Session.BackfillSize != 200 {
		t.Fatalf("expected backfill 200, got %d", cfg.Session.BackfillSize)
	}
	if cfg.Session.MessageRate != 1.0 || cfg.Session.MessageBurst != 5 {
		t.Fatalf("unexpected message rate defaults: %v/%d", cfg.Session.MessageRate, cfg.Session.MessageBurst)
	}
	if cfg.Policy.SlowModeSeconds != 0 {
		t.Fatalf("slow mode must default to off, got %d", cfg.Policy.SlowModeSeconds)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SESSION_LIVENESS_WINDOW_SEC", "10")
	t.Setenv("SESSION_MESSAGE_RATE", "2.5")
	t.Setenv("POLICY_BANNED_TERMS", "spam, scam ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Session.LivenessWindow != 10*time.Second {
		t.Fatalf("expected 10s liveness window, got %s", cfg.Session.LivenessWindow)
	}
	if cfg.Session.MessageRate != 2.5 {
		t.Fatalf("expected message rate 2.5, got %v", cfg.Session.MessageRate)
	}
	terms := cfg.Policy.BannedTerms
	if len(terms) != 2 || terms[0] != "spam" || terms[1] != "scam" {
		t.Fatalf("unexpected banned terms: %v", terms)
	}
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{URL: "postgres://db:5432/x"}
	if c.DSN() != "postgres://db:5432/x" {
		t.Fatalf("URL must win: %s", c.DSN())
	}
	c = DatabaseConfig{Host: "h", Port: "5432", User: "u", Password: "p", DBName: "d", SSLMode: "disable"}
	want := "postgres://u:p@h:5432/d?sslmode=disable"
	if c.DSN() != want {
		t.Fatalf("expected %s, got %s", want, c.DSN())
	}
}
