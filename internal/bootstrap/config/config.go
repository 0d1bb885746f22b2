package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"devicehub/internal/bootstrap/logging"
	"devicehub/internal/cache"
	"devicehub/internal/errs"
)

type Config struct {
	App      AppConfig              `mapstructure:"app"`
	Log      LogConfig              `mapstructure:"log"`
	Database DatabaseConfig         `mapstructure:"database"`
	Bus      BusConfig              `mapstructure:"bus"`
	HTTP     HTTPConfig             `mapstructure:"http"`
	Caches   map[string]CacheConfig `mapstructure:"caches"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// BusConfig selects the invalidation transport. "memory" keeps invalidation inside
// the process; "nats" shares it across every instance connected to the same server.
type BusConfig struct {
	Driver         string        `mapstructure:"driver"`
	URL            string        `mapstructure:"url"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	Buffer         int           `mapstructure:"buffer"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// CacheConfig is the configuration of one named cache. Enabled is read once, when
// the cache is constructed.
type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Capacity      int           `mapstructure:"capacity"`
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	LoadTimeout   time.Duration `mapstructure:"load_timeout"`
}

// Cache returns the configuration of cache id, or a disabled config when the id
// has no section.
func (c Config) Cache(id string) CacheConfig {
	if cfg, ok := c.Caches[id]; ok {
		return cfg
	}
	return CacheConfig{}
}

func (c CacheConfig) ToCache() cache.Config {
	return cache.Config{
		Enabled:       c.Enabled,
		Capacity:      c.Capacity,
		TTL:           c.TTL,
		SweepInterval: c.SweepInterval,
		LoadTimeout:   c.LoadTimeout,
	}
}

var knownCaches = []string{"user", "grau"}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.Component(ctx, "bootstrap.config")

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	attrs := []slog.Attr{
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("bus_driver", cfg.Bus.Driver),
	}
	for _, id := range knownCaches {
		cc := cfg.Cache(id)
		attrs = append(attrs, slog.Group("cache_"+id,
			slog.Bool("enabled", cc.Enabled),
			slog.Int("capacity", cc.Capacity),
			slog.Duration("ttl", cc.TTL),
		))
	}
	logging.Info(logCtx, "config loaded", attrs...)

	return cfg, nil
}

func (c Config) Validate() error {
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}

	switch strings.ToLower(c.Bus.Driver) {
	case "memory":
	case "nats":
		if strings.TrimSpace(c.Bus.URL) == "" {
			return errors.New("bus.url is required for the nats driver")
		}
		if c.Bus.MaxReconnects < 0 {
			return errors.New("bus.max_reconnects must not be negative")
		}
	default:
		return fmt.Errorf("unsupported bus driver %q", c.Bus.Driver)
	}

	for id, cc := range c.Caches {
		if cc.TTL < 0 || cc.SweepInterval < 0 || cc.LoadTimeout < 0 {
			return fmt.Errorf("caches.%s: durations must not be negative", id)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "devicehub")
	v.SetDefault("app.env", "local")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".devicehub/state/users.sqlite")
	v.SetDefault("bus.driver", "memory")
	v.SetDefault("bus.subject_prefix", "devicehub.cache.invalidate")
	v.SetDefault("bus.buffer", 256)
	v.SetDefault("bus.reconnect_wait", 2*time.Second)
	v.SetDefault("bus.backoff_initial", 100*time.Millisecond)
	v.SetDefault("bus.backoff_max", 30*time.Second)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	for _, id := range knownCaches {
		v.SetDefault("caches."+id+".enabled", true)
		v.SetDefault("caches."+id+".capacity", 1000)
		v.SetDefault("caches."+id+".ttl", 5*time.Minute)
		v.SetDefault("caches."+id+".sweep_interval", time.Minute)
		v.SetDefault("caches."+id+".load_timeout", 5*time.Second)
	}
}
