package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/petrijr/dealflow"
	"github.com/petrijr/dealflow/internal/config"
	"github.com/petrijr/dealflow/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	logger     *slog.Logger
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		logger, err := logging.New(logging.Options{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
		})
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.configErr
}

// withBundle opens the configured bundle for the duration of fn.
func (c *commandContext) withBundle(ctx context.Context, fn func(*dealflow.Bundle) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	bundle, err := dealflow.Open(ctx, cfg, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := bundle.Close(); cerr != nil {
			c.logger.WarnContext(ctx, "bundle_close_failed", slog.Any("error", cerr))
		}
	}()
	return fn(bundle)
}
