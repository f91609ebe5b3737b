package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conduit-lang/namedquery/internal/query/mapping"
)

// EnvPrefix prefixes every environment override, e.g. NAMEDQUERY_DATABASE_URL
const EnvPrefix = "NAMEDQUERY"

// Config represents the namedquery configuration
type Config struct {
	Mapping  MappingConfig  `mapstructure:"mapping"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Database DatabaseConfig `mapstructure:"database"`
	Search   SearchConfig   `mapstructure:"search"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// MappingConfig locates the query sources
type MappingConfig struct {
	Paths       []string `mapstructure:"paths"`
	NamePattern string   `mapstructure:"name_pattern"`
}

// EngineConfig tunes query execution
type EngineConfig struct {
	Kind            string `mapstructure:"kind"`
	DefaultPageSize int    `mapstructure:"default_page_size"`
	MaxFetchSize    int    `mapstructure:"max_fetch_size"`
}

// DatabaseConfig configures the relational backend
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

// SearchConfig configures the document search backend
type SearchConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CacheConfig configures the result cache
type CacheConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Prefix  string        `mapstructure:"prefix"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig configures the Redis cache backend
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ServerConfig configures the HTTP gateway
type ServerConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	AuthSecret string        `mapstructure:"auth_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	// Clients maps client ids to bcrypt hashed secrets accepted by POST /token.
	// Viper lowercases map keys, so ids are case insensitive.
	Clients map[string]string `mapstructure:"clients"`
	// RateLimit caps /queries requests per caller per minute; 0 disables it
	RateLimit int `mapstructure:"rate_limit"`
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Address returns the host:port the gateway listens on
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load loads namedquery.yaml from the working directory, or file when set
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("namedquery")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || file != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// no config file, defaults and environment only
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.Mapping.Paths = splitPaths(config.Mapping.Paths)

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mapping.paths", []string{"queries"})
	v.SetDefault("mapping.name_pattern", mapping.DefaultNamePattern)
	v.SetDefault("engine.kind", "sql")
	v.SetDefault("engine.default_page_size", 16)
	v.SetDefault("engine.max_fetch_size", 1024)
	v.SetDefault("database.driver", "pgx")
	v.SetDefault("database.url", "")
	v.SetDefault("search.url", "http://localhost:9200")
	v.SetDefault("search.timeout", 30*time.Second)
	v.SetDefault("cache.backend", "none")
	v.SetDefault("cache.ttl", time.Minute)
	v.SetDefault("cache.prefix", "namedquery:")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.auth_secret", "")
	v.SetDefault("server.token_ttl", time.Hour)
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// splitPaths accepts both a list and comma separated entries, as env vars produce
func splitPaths(paths []string) []string {
	var out []string
	for _, entry := range paths {
		for _, p := range strings.Split(entry, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	switch cfg.Engine.Kind {
	case "sql", "document":
	default:
		return fmt.Errorf("engine.kind must be sql or document, got: %s", cfg.Engine.Kind)
	}
	if cfg.Engine.DefaultPageSize <= 0 {
		return fmt.Errorf("engine.default_page_size must be positive, got: %d", cfg.Engine.DefaultPageSize)
	}
	if cfg.Engine.MaxFetchSize <= 0 {
		return fmt.Errorf("engine.max_fetch_size must be positive, got: %d", cfg.Engine.MaxFetchSize)
	}
	if cfg.Engine.Kind == "sql" {
		switch cfg.Database.Driver {
		case "pgx", "postgres", "mysql", "sqlite3":
		default:
			return fmt.Errorf("database.driver must be one of pgx, postgres, mysql, sqlite3, got: %s", cfg.Database.Driver)
		}
	}
	switch cfg.Cache.Backend {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be none, memory or redis, got: %s", cfg.Cache.Backend)
	}
	if len(cfg.Server.Clients) > 0 && cfg.Server.AuthSecret == "" {
		return fmt.Errorf("server.clients requires server.auth_secret")
	}
	if cfg.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative, got: %d", cfg.Server.RateLimit)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got: %s", cfg.Logging.Format)
	}
	return nil
}
