// Package config loads dealflow settings from a YAML file and DEALFLOW_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. DEALFLOW_STORAGE_DSN.
const EnvPrefix = "DEALFLOW"

// Config holds the configuration for the application.
type Config struct {
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Storage struct {
		// Driver is memory, sqlite or postgres.
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"storage"`
	Redis struct {
		// Addr enables the version cache when set.
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		Prefix   string        `mapstructure:"prefix"`
		TTL      time.Duration `mapstructure:"ttl"`
	} `mapstructure:"redis"`
	Mongo struct {
		// URI routes the audit trail to MongoDB when set.
		URI        string `mapstructure:"uri"`
		Database   string `mapstructure:"database"`
		Collection string `mapstructure:"collection"`
	} `mapstructure:"mongo"`
	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`
	Worker struct {
		Interval  time.Duration `mapstructure:"interval"`
		BatchSize int           `mapstructure:"batch_size"`
		LockFile  string        `mapstructure:"lock_file"`
	} `mapstructure:"worker"`
	Messaging struct {
		TelegramToken  string `mapstructure:"telegram_token"`
		TelegramChatID string `mapstructure:"telegram_chat_id"`
		BaseURL        string `mapstructure:"base_url"`
	} `mapstructure:"messaging"`
	Engine struct {
		SupervisorRoles []string `mapstructure:"supervisor_roles"`
		// MaxAttempts counts the first try, so 4 means up to 3 retries.
		MaxAttempts   int  `mapstructure:"max_attempts"`
		DeferredTasks bool `mapstructure:"deferred_tasks"`
	} `mapstructure:"engine"`
	Metrics struct {
		// Otel adds an OpenTelemetry observer fed by the global meter provider.
		Otel bool `mapstructure:"otel"`
	} `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "dealflow.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "dealflow:")
	v.SetDefault("redis.ttl", time.Hour)
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "dealflow")
	v.SetDefault("mongo.collection", "deal_audit")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("worker.interval", 5*time.Second)
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.lock_file", "")
	v.SetDefault("messaging.telegram_token", "")
	v.SetDefault("messaging.telegram_chat_id", "")
	v.SetDefault("messaging.base_url", "")
	v.SetDefault("engine.supervisor_roles", []string{"ADMIN", "SYSTEM"})
	v.SetDefault("engine.max_attempts", 4)
	v.SetDefault("engine.deferred_tasks", false)
	v.SetDefault("metrics.otel", false)
}

// Load reads path, or when path is empty a dealflow.yaml found in . or
// ./config, and applies environment overrides. A missing default file is
// not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("dealflow")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	roles := c.Engine.SupervisorRoles[:0]
	for _, r := range c.Engine.SupervisorRoles {
		if r = strings.ToUpper(strings.TrimSpace(r)); r != "" {
			roles = append(roles, r)
		}
	}
	c.Engine.SupervisorRoles = roles
}

// Validate reports settings that cannot be wired.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unsupported value %q", c.Storage.Driver))
	}
	if c.Worker.Interval <= 0 {
		errs = append(errs, errors.New("worker.interval must be positive"))
	}
	if c.Engine.MaxAttempts < 1 {
		errs = append(errs, errors.New("engine.max_attempts must be at least 1"))
	}
	if (c.Messaging.TelegramToken == "") != (c.Messaging.TelegramChatID == "") {
		errs = append(errs, errors.New("messaging.telegram_token and messaging.telegram_chat_id must be set together"))
	}
	return errors.Join(errs...)
}
