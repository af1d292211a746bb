package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"APP_ENV":                "test",
		"APP_PORT":               "8080",
		"DB_USER":                "ledger",
		"DB_HOST":                "localhost",
		"DB_PORT":                "3306",
		"DB_NAME":                "ledger",
		"JWT_SECRET":             "secret",
		"ACCESS_TOKEN_TTL_MIN":   "15",
		"REFRESH_TOKEN_TTL_DAYS": "7",
		"BCRYPT_COST":            "4",
	} {
		t.Setenv(k, v)
	}
}

func TestLoad(t *testing.T) {
	setRequired(t)
	t.Setenv("LEDGER_OWNER", "0xowner")
	t.Setenv("LEDGER_OWNER_EMAIL", "owner@example.com")
	t.Setenv("LEDGER_OWNER_PASSWORD", "")
	t.Setenv("LEDGER_SYMBOL", "TIX")

	cfg := Load()
	if cfg.LedgerOwner != "0xowner" || cfg.AccessTTLMin != 15 || cfg.BcryptCost != 4 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.OwnerEmail != "owner@example.com" || cfg.OwnerPassword != "" {
		t.Fatalf("unexpected owner bootstrap %q/%q", cfg.OwnerEmail, cfg.OwnerPassword)
	}
	if cfg.LedgerName != "OccasiOnChain" {
		t.Fatalf("expected default ledger name, got %q", cfg.LedgerName)
	}
	if cfg.LedgerSymbol != "TIX" {
		t.Fatalf("expected symbol TIX, got %q", cfg.LedgerSymbol)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.LogLevel)
	}
}

func TestLoadWithoutOwner(t *testing.T) {
	setRequired(t)
	t.Setenv("LEDGER_OWNER", "")

	if cfg := Load(); cfg.LedgerOwner != "" {
		t.Fatalf("expected empty owner, got %q", cfg.LedgerOwner)
	}
}

func TestLoadCacheConfig(t *testing.T) {
	t.Setenv("CACHE_METHODS", "get, head")
	t.Setenv("CACHE_TTL", "bogus")
	t.Setenv("CACHE_ENABLED", "off")

	cfg := LoadCacheConfig()
	if cfg.Enabled {
		t.Fatalf("expected cache disabled")
	}
	if !cfg.Methods["GET"] || !cfg.Methods["HEAD"] || len(cfg.Methods) != 2 {
		t.Fatalf("unexpected methods %v", cfg.Methods)
	}
	if cfg.TTL != 30*time.Second {
		t.Fatalf("expected fallback TTL, got %s", cfg.TTL)
	}
}

func TestLoadRateLimitConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	cfg := LoadRateLimitConfig()
	if cfg.Capacity != 1 {
		t.Fatalf("expected capacity clamped to 1, got %d", cfg.Capacity)
	}
	if cfg.TTL != 10*time.Second {
		t.Fatalf("expected TTL raised to 10s, got %s", cfg.TTL)
	}

	t.Setenv("RATE_LIMIT_BURST", "50")
	if got := LoadRateLimitConfig().Capacity; got != 50 {
		t.Fatalf("expected burst override 50, got %d", got)
	}
}

func TestLoadBrokerConfig(t *testing.T) {
	t.Setenv("RABBITMQ_URL", "")
	t.Setenv("AMQP_URL", "amqp://u:p@broker:5672/")

	cfg := LoadBrokerConfig()
	if cfg.URL != "amqp://u:p@broker:5672/" {
		t.Fatalf("expected AMQP_URL fallback, got %q", cfg.URL)
	}
	if cfg.PayoutQueue != "ledger.payout" || cfg.TicketQueue != "ticket.minted" {
		t.Fatalf("unexpected queues %+v", cfg)
	}
}
