package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"zendesk_datasource/internal/query"
)

func writeFile(t *testing.T, name string, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func validConfig() *Config {
	cfg := Default()
	cfg.Zendesk.Subdomain = "acme"
	cfg.Zendesk.Email = "agent@acme.com"
	cfg.Zendesk.RequestsPerMinute = 400
	cfg.Secrets.APIToken = "token"
	cfg.Secrets.AdminToken = "admin"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.ListenAddr != "127.0.0.1:8080" {
		t.Fatalf("unexpected listen addr %q", cfg.ListenAddr)
	}
	if cfg.Cache.MaxSize != 100 || cfg.Cache.DefaultTTL() != 5*time.Minute || cfg.Cache.CleanupInterval() != time.Minute {
		t.Fatalf("unexpected cache defaults %+v", cfg.Cache)
	}
	if cfg.Batch.MaxBatchSize != 10 || cfg.Batch.MaxWait() != 100*time.Millisecond {
		t.Fatalf("unexpected batch defaults %+v", cfg.Batch)
	}
	if cfg.Zendesk.Timeout() != 30*time.Second {
		t.Fatalf("unexpected zendesk timeout %s", cfg.Zendesk.Timeout())
	}

	ttls, err := cfg.Cache.TTLByKind()
	if err != nil {
		t.Fatalf("ttl by kind: %v", err)
	}
	if ttls[query.KindTicketByID] != time.Minute || ttls[query.KindOrganizations] != 15*time.Minute {
		t.Fatalf("unexpected per-kind ttls %v", ttls)
	}
}

func TestLoadFileEnvAndSecrets(t *testing.T) {
	path := writeFile(t, "datasource.yaml", `
listen_addr: 0.0.0.0:9090
zendesk:
  subdomain: acme
  email: agent@acme.com
cache:
  max_size: 500
  ttl_by_kind_ms:
    ticketById: 5000
batch:
  max_wait_ms: 20
`)
	t.Setenv("ZD_BATCH_MAX_BATCH_SIZE", "25")
	t.Setenv("ZENDESK_API_TOKEN", "secret-token")
	t.Setenv("ADMIN_TOKEN", "admin-token")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9090" || cfg.Zendesk.Subdomain != "acme" || cfg.Cache.MaxSize != 500 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Batch.MaxWaitMS != 20 || cfg.Batch.MaxBatchSize != 25 {
		t.Fatalf("expected file wait and env size, got %+v", cfg.Batch)
	}
	if cfg.Cache.DefaultTTLMS != 300000 {
		t.Fatalf("defaults should survive partial files, got %d", cfg.Cache.DefaultTTLMS)
	}
	if cfg.Secrets.APIToken != "secret-token" || cfg.Secrets.AdminToken != "admin-token" {
		t.Fatalf("secrets not loaded: %+v", cfg.Secrets)
	}

	ttls, err := cfg.Cache.TTLByKind()
	if err != nil {
		t.Fatalf("ttl by kind: %v", err)
	}
	if ttls[query.KindTicketByID] != 5*time.Second {
		t.Fatalf("expected overridden ticketById ttl, got %v", ttls)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "datasource.json", `{"zendesk":{"subdomain":"acme","email":"a@b.c"},"log":{"format":"json"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Format != "json" || cfg.Zendesk.Email != "a@b.c" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	if _, err := Validate(nil); err == nil {
		t.Fatalf("expected nil config error")
	}

	warnings, err := Validate(validConfig())
	if err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings %v", warnings)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"subdomain", func(c *Config) { c.Zendesk.Subdomain = "" }, "zendesk.subdomain"},
		{"email", func(c *Config) { c.Zendesk.Email = " " }, "zendesk.email"},
		{"token", func(c *Config) { c.Secrets.APIToken = "" }, "ZENDESK_API_TOKEN"},
		{"cache size", func(c *Config) { c.Cache.MaxSize = 0 }, "cache.max_size"},
		{"ttl", func(c *Config) { c.Cache.DefaultTTLMS = -1 }, "cache.default_ttl_ms"},
		{"kind", func(c *Config) { c.Cache.TTLByKindMS = map[string]int{"heatmap": 10} }, "heatmap"},
		{"batch size", func(c *Config) { c.Batch.MaxBatchSize = 0 }, "batch.max_batch_size"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(cfg)
		_, err := Validate(cfg)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error mentioning %q, got %v", tc.name, tc.want, err)
		}
	}

	cfg := validConfig()
	cfg.Zendesk.Subdomain = ""
	cfg.Zendesk.BaseURL = "http://127.0.0.1:9999"
	if _, err := Validate(cfg); err != nil {
		t.Fatalf("base url should stand in for subdomain: %v", err)
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg := validConfig()
	cfg.Zendesk.RequestsPerMinute = 0
	cfg.Secrets.AdminToken = ""
	cfg.Cache.DefaultTTLMS = int((2 * time.Hour).Milliseconds())
	cfg.Batch.MaxWaitMS = 5000

	warnings, err := Validate(cfg)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	joined := strings.Join(warnings, "\n")
	for _, want := range []string{"requests_per_minute", "ADMIN_TOKEN", "exceeds 1h", "batch.max_wait_ms"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing warning %q in %v", want, warnings)
		}
	}
}
