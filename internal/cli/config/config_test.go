package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// No config file: defaults only
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(oldWd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error loading defaults, got %v", err)
	}

	if cfg.Engine.Kind != "sql" {
		t.Errorf("expected default engine kind 'sql', got %s", cfg.Engine.Kind)
	}
	if cfg.Engine.DefaultPageSize != 16 {
		t.Errorf("expected default page size 16, got %d", cfg.Engine.DefaultPageSize)
	}
	if cfg.Engine.MaxFetchSize != 1024 {
		t.Errorf("expected default max fetch size 1024, got %d", cfg.Engine.MaxFetchSize)
	}
	if cfg.Database.Driver != "pgx" {
		t.Errorf("expected default driver 'pgx', got %s", cfg.Database.Driver)
	}
	if cfg.Cache.Backend != "none" {
		t.Errorf("expected default cache backend 'none', got %s", cfg.Cache.Backend)
	}
	if cfg.Server.Address() != "localhost:8080" {
		t.Errorf("expected default address 'localhost:8080', got %s", cfg.Server.Address())
	}
	if len(cfg.Mapping.Paths) != 1 || cfg.Mapping.Paths[0] != "queries" {
		t.Errorf("expected default mapping paths [queries], got %v", cfg.Mapping.Paths)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(oldWd)

	configContent := `
mapping:
  paths: [queries/orders, queries/products]
engine:
  kind: document
  default_page_size: 50
search:
  url: http://search:9200
  timeout: 5s
cache:
  backend: redis
  ttl: 2m
  redis:
    addr: redis:6379
    db: 2
server:
  port: 9090
  auth_secret: s3cret
logging:
  level: debug
  format: console
`
	os.WriteFile("namedquery.yaml", []byte(configContent), 0644)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error loading config, got %v", err)
	}

	if cfg.Engine.Kind != "document" {
		t.Errorf("expected engine kind 'document', got %s", cfg.Engine.Kind)
	}
	if cfg.Engine.DefaultPageSize != 50 {
		t.Errorf("expected page size 50, got %d", cfg.Engine.DefaultPageSize)
	}
	if len(cfg.Mapping.Paths) != 2 {
		t.Errorf("expected 2 mapping paths, got %v", cfg.Mapping.Paths)
	}
	if cfg.Search.Timeout != 5*time.Second {
		t.Errorf("expected search timeout 5s, got %s", cfg.Search.Timeout)
	}
	if cfg.Cache.TTL != 2*time.Minute {
		t.Errorf("expected cache ttl 2m, got %s", cfg.Cache.TTL)
	}
	if cfg.Cache.Redis.Addr != "redis:6379" || cfg.Cache.Redis.DB != 2 {
		t.Errorf("unexpected redis config %+v", cfg.Cache.Redis)
	}
	if cfg.Server.AuthSecret != "s3cret" {
		t.Errorf("expected auth secret, got %q", cfg.Server.AuthSecret)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("expected console logging, got %s", cfg.Logging.Format)
	}
}

func TestLoadExplicitFile(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "custom.yaml")
	os.WriteFile(file, []byte("database:\n  driver: sqlite3\n  url: file::memory:\n"), 0644)

	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("expected driver sqlite3, got %s", cfg.Database.Driver)
	}

	if _, err := Load(filepath.Join(tmpDir, "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(oldWd)

	t.Setenv("NAMEDQUERY_DATABASE_URL", "postgres://env/db")
	t.Setenv("NAMEDQUERY_SERVER_PORT", "7070")
	t.Setenv("NAMEDQUERY_MAPPING_PATHS", "a, b")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Database.URL != "postgres://env/db" {
		t.Errorf("expected database url from environment, got %s", cfg.Database.URL)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected port 7070, got %d", cfg.Server.Port)
	}
	if strings.Join(cfg.Mapping.Paths, "|") != "a|b" {
		t.Errorf("expected paths [a b], got %v", cfg.Mapping.Paths)
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Engine:   EngineConfig{Kind: "sql", DefaultPageSize: 16, MaxFetchSize: 1024},
			Database: DatabaseConfig{Driver: "pgx"},
			Cache:    CacheConfig{Backend: "none"},
			Server:   ServerConfig{Port: 8080},
			Logging:  LoggingConfig{Format: "json"},
		}
	}

	if err := validateConfig(valid()); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"engine kind", func(c *Config) { c.Engine.Kind = "graph" }},
		{"page size", func(c *Config) { c.Engine.DefaultPageSize = 0 }},
		{"fetch size", func(c *Config) { c.Engine.MaxFetchSize = -1 }},
		{"driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"rate limit", func(c *Config) { c.Server.RateLimit = -1 }},
		{"clients without secret", func(c *Config) { c.Server.Clients = map[string]string{"ci": "hash"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := validateConfig(cfg); err == nil {
				t.Errorf("expected validation error for %s", tt.name)
			}
		})
	}

	docs := valid()
	docs.Engine.Kind = "document"
	docs.Database.Driver = ""
	if err := validateConfig(docs); err != nil {
		t.Errorf("document engine should not require a database driver, got %v", err)
	}
}
