package config

import (
	"os"
	"testing"
	"time"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("setenv %s failed: %v", key, err)
	}
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, old)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	_ = os.Unsetenv(key)
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, old)
		}
	})
}

func TestLoadRequiresMySQLDSN(t *testing.T) {
	unsetEnv(t, "MYSQL_DSN")
	setEnv(t, "JWT_SECRET", "test-secret")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing MYSQL_DSN")
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	setEnv(t, "MYSQL_DSN", "root:root@tcp(localhost:3306)/payments?parseTime=true")
	unsetEnv(t, "JWT_SECRET")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing JWT_SECRET")
	}
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	setEnv(t, "MYSQL_DSN", "root:root@tcp(localhost:3306)/payments?parseTime=true")
	setEnv(t, "JWT_SECRET", "test-secret")
	setEnv(t, "APP_ENV", "production")
	setEnv(t, "HTTP_PORT", "8181")
	setEnv(t, "MYSQL_MAX_OPEN_CONNS", "20")
	setEnv(t, "WEBHOOK_IP_ALLOWLIST", "196.201.214.200, 196.201.214.206")
	setEnv(t, "WEBHOOK_TRUST_PROXY", "true")
	setEnv(t, "AUDIT_BUFFER_SIZE", "512")
	setEnv(t, "AUDIT_ENQUEUE_TIMEOUT_MS", "250")
	setEnv(t, "MPESA_WEBHOOK_SECRET", "mpesa-secret")
	setEnv(t, "PAYMENTS_RECONCILE_STALE_AFTER_MINUTES", "13")
	setEnv(t, "PAYMENTS_JOB_BATCH_SIZE", "99")
	setEnv(t, "REDIS_DEDUP_TTL_MINUTES", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.App.Environment != "production" {
		t.Fatalf("expected production env, got %s", cfg.App.Environment)
	}
	if cfg.HTTP.Port != "8181" {
		t.Fatalf("expected port override, got %s", cfg.HTTP.Port)
	}
	if cfg.HTTP.Host != "0.0.0.0" {
		t.Fatalf("expected default host, got %s", cfg.HTTP.Host)
	}
	if cfg.MySQL.MaxOpenConns != 20 {
		t.Fatalf("expected 20 open conns, got %d", cfg.MySQL.MaxOpenConns)
	}
	if len(cfg.Webhook.IPAllowlist) != 2 || cfg.Webhook.IPAllowlist[1] != "196.201.214.206" {
		t.Fatalf("expected parsed allowlist, got %v", cfg.Webhook.IPAllowlist)
	}
	if !cfg.Webhook.TrustProxy {
		t.Fatal("expected trust proxy enabled")
	}
	if cfg.Audit.BufferSize != 512 {
		t.Fatalf("expected audit buffer 512, got %d", cfg.Audit.BufferSize)
	}
	if cfg.Audit.EnqueueTimeout != 250*time.Millisecond {
		t.Fatalf("expected 250ms enqueue timeout, got %s", cfg.Audit.EnqueueTimeout)
	}
	if cfg.Payments.WebhookSecrets["mpesa"] != "mpesa-secret" {
		t.Fatal("expected mpesa webhook secret mapped")
	}
	if cfg.Payments.ReconcileStaleAfter != 13*time.Minute {
		t.Fatalf("expected 13m stale window, got %s", cfg.Payments.ReconcileStaleAfter)
	}
	if cfg.Payments.JobBatchSize != 99 {
		t.Fatalf("expected batch size 99, got %d", cfg.Payments.JobBatchSize)
	}
	if cfg.Redis.DedupTTL != 7*time.Minute {
		t.Fatalf("expected 7m dedup ttl, got %s", cfg.Redis.DedupTTL)
	}
	if cfg.Jobs.ReconcileInterval != 2*time.Minute {
		t.Fatalf("expected default reconcile interval, got %s", cfg.Jobs.ReconcileInterval)
	}
}

func TestLoadInvalidIntFallsBack(t *testing.T) {
	setEnv(t, "MYSQL_DSN", "root:root@tcp(localhost:3306)/payments?parseTime=true")
	setEnv(t, "JWT_SECRET", "test-secret")
	setEnv(t, "MYSQL_MAX_OPEN_CONNS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.MySQL.MaxOpenConns != 10 {
		t.Fatalf("expected default 10, got %d", cfg.MySQL.MaxOpenConns)
	}
}
