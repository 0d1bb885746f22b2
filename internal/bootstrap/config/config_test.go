package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "app:\n  env: test\n")

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.App.Name != "devicehub" || cfg.App.Env != "test" {
		t.Fatalf("app = %+v", cfg.App)
	}
	if cfg.Bus.Driver != "memory" || cfg.Bus.BackoffMax != 30*time.Second {
		t.Fatalf("bus = %+v", cfg.Bus)
	}
	for _, id := range []string{"user", "grau"} {
		cc := cfg.Cache(id)
		if !cc.Enabled || cc.Capacity != 1000 || cc.TTL != 5*time.Minute || cc.LoadTimeout != 5*time.Second {
			t.Fatalf("cache %s = %+v", id, cc)
		}
	}
	if cc := cfg.Cache("device"); cc.Enabled {
		t.Fatalf("unknown cache should be disabled, got %+v", cc)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		"caches:",
		"  user:",
		"    enabled: false",
		"    capacity: 2",
		"    ttl: 30s",
		"",
	}, "\n"))
	t.Setenv("DH_CACHES_GRAU_CAPACITY", "7")
	t.Setenv("DH_DATABASE_DSN", filepath.Join(t.TempDir(), "env.sqlite"))

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	user := cfg.Cache("user")
	if user.Enabled || user.Capacity != 2 || user.TTL != 30*time.Second {
		t.Fatalf("user cache = %+v", user)
	}
	if got := cfg.Cache("grau").Capacity; got != 7 {
		t.Fatalf("grau capacity = %d, want 7", got)
	}
	if !strings.HasSuffix(cfg.Database.DSN, "env.sqlite") {
		t.Fatalf("database dsn = %q", cfg.Database.DSN)
	}

	converted := user.ToCache()
	if converted.Enabled || converted.Capacity != 2 || converted.TTL != 30*time.Second {
		t.Fatalf("ToCache() = %+v", converted)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("Load(missing file) expected error")
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		Database: DatabaseConfig{Driver: "sqlite", DSN: "x.sqlite"},
		Bus:      BusConfig{Driver: "memory"},
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "missing dsn", mutate: func(c *Config) { c.Database.DSN = "" }, wantErr: "database.dsn"},
		{name: "nats without url", mutate: func(c *Config) { c.Bus.Driver = "nats" }, wantErr: "bus.url"},
		{
			name: "negative nats reconnects",
			mutate: func(c *Config) {
				c.Bus = BusConfig{Driver: "nats", URL: "nats://127.0.0.1:4222", MaxReconnects: -1}
			},
			wantErr: "bus.max_reconnects",
		},
		{name: "unknown driver", mutate: func(c *Config) { c.Bus.Driver = "kafka" }, wantErr: "unsupported bus driver"},
		{
			name: "negative ttl",
			mutate: func(c *Config) {
				c.Caches = map[string]CacheConfig{"user": {TTL: -time.Second}}
			},
			wantErr: "caches.user",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
