package main

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestRedactURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"postgres://coin:s3cret@db:5432/coinpulse?sslmode=disable", "postgres://coin@db:5432/coinpulse?sslmode=disable"},
		{"redis://:s3cret@cache:6379/0", "redis://redacted@cache:6379/0"},
		{"https://api.coingecko.com/api/v3", "https://api.coingecko.com/api/v3"},
	}

	for _, tt := range tests {
		if got := redactURL(tt.in); got != tt.want {
			t.Errorf("redactURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeError(t *testing.T) {
	dsn := "postgres://coin:s3cret@db:5432/coinpulse"
	err := errors.New("failed to connect to `" + dsn + "`: password=s3cret rejected")

	got := sanitizeError(err, dsn)
	if strings.Contains(got, "s3cret") {
		t.Errorf("secret leaked: %s", got)
	}
	if sanitizeError(nil) != "" {
		t.Error("nil error should sanitize to empty string")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRefreshBudget(t *testing.T) {
	for _, upstream := range []time.Duration{0, 10 * time.Second, 20 * time.Second, 2 * time.Minute} {
		timeout, ttl := refreshBudget(upstream)
		if timeout < upstream+refreshWriteBudget {
			t.Errorf("upstream %v: timeout %v leaves no room for the write", upstream, timeout)
		}
		if ttl <= timeout {
			t.Errorf("upstream %v: lock TTL %v must exceed refresh timeout %v", upstream, ttl, timeout)
		}
	}
}
