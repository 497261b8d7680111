package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Donation.UnitPrice != 350 {
		t.Errorf("Expected unit price 350, got %d", cfg.Donation.UnitPrice)
	}
	if cfg.Razorpay.Currency != "INR" {
		t.Errorf("Expected currency INR, got %s", cfg.Razorpay.Currency)
	}
	if cfg.Database.Driver != "mysql" {
		t.Errorf("Expected mysql driver, got %s", cfg.Database.Driver)
	}
	if cfg.Notifier.Caption != "Thanks!" {
		t.Errorf("Expected caption 'Thanks!', got %q", cfg.Notifier.Caption)
	}
	if cfg.Redis.TTL != 10*time.Second {
		t.Errorf("Expected redis ttl 10s, got %v", cfg.Redis.TTL)
	}
	if cfg.Kafka.Topic != "payment_events" {
		t.Errorf("Expected kafka topic payment_events, got %s", cfg.Kafka.Topic)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
database:
  driver: sqlite
  path: /tmp/test.db
razorpay:
  key_id: rzp_test_123
  key_secret: from-file
donation:
  unit_price: 500
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("RAZORPAY_KEY_SECRET", "from-env")
	t.Setenv("RAZORPAY_WEBHOOK_SECRET", "whsec")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Unexpected database config: %+v", cfg.Database)
	}
	if cfg.Razorpay.KeyID != "rzp_test_123" {
		t.Errorf("Expected key id from file, got %s", cfg.Razorpay.KeyID)
	}
	if cfg.Razorpay.KeySecret != "from-env" {
		t.Errorf("Expected env to override key secret, got %s", cfg.Razorpay.KeySecret)
	}
	if cfg.Razorpay.WebhookSecret != "whsec" {
		t.Errorf("Expected webhook secret from env, got %s", cfg.Razorpay.WebhookSecret)
	}
	if cfg.Donation.UnitPrice != 500 {
		t.Errorf("Expected unit price 500, got %d", cfg.Donation.UnitPrice)
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 3307, DBName: "funds"}
	want := "u:p@tcp(db:3307)/funds?charset=utf8mb4&parseTime=True&loc=Local"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
