package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/ydbolt/internal/device"
	goble "github.com/srg/ydbolt/internal/device/go-ble"
	"github.com/srg/ydbolt/internal/lock"
	"github.com/srg/ydbolt/internal/metadata"
	"github.com/srg/ydbolt/pkg/config"
)

const defaultConfigPath = "ydbolt.yaml"

// newDialer creates the BLE dialer; tests replace it with a scripted lock.
var newDialer = func(logger *logrus.Logger) device.Dialer {
	return goble.NewDialer(logger)
}

// env is what every lock command needs: configuration, logger and dialer.
type env struct {
	cfg    *config.Config
	logger *logrus.Logger
	dialer device.Dialer
}

func newEnv(cmd *cobra.Command, fallback logrus.Level) (*env, error) {
	logger, err := configureLogger(cmd, "verbose", fallback)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, dialer: newDialer(logger)}, nil
}

// loadConfig reads --config, or ./ydbolt.yaml when present, or falls back to
// defaults. --timeout overrides the command timeout.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}

	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		cfg.Coordinator.CommandTimeout = timeout
	}
	return cfg, nil
}

// source is the metadata collaborator for refreshes.
func (e *env) source() metadata.Source {
	if e.cfg.IdentityFile != "" {
		return metadata.FileSource{Path: e.cfg.IdentityFile}
	}
	return metadata.NewStaticSource(e.cfg.Locks...)
}

// findLock looks key up in the config, then in the identity file.
func (e *env) findLock(key string) (lock.Identity, error) {
	if id, ok := e.cfg.FindLock(key); ok {
		return id, nil
	}
	if e.cfg.IdentityFile != "" {
		ids, err := metadata.LoadIdentities(e.cfg.IdentityFile)
		if err != nil {
			return lock.Identity{}, err
		}
		for _, id := range ids {
			if id.DisplayName() == key || id.UUID == key {
				return id, nil
			}
		}
	}
	return lock.Identity{}, fmt.Errorf("%w: %q", lock.ErrUnknownLock, key)
}

// coordinator builds a coordinator for one lock, refreshing its identity
// when the address is not configured.
func (e *env) coordinator(ctx context.Context, key string, progress func(string)) (*lock.Coordinator, error) {
	id, err := e.findLock(key)
	if err != nil {
		return nil, err
	}
	opts := e.cfg.LockOptions(e.logger)
	opts.Progress = progress
	c, err := lock.NewCoordinator(id, e.dialer, e.source(), opts)
	if err != nil {
		return nil, err
	}
	if !c.Identity().Ready() {
		if _, err := c.Refresh(ctx); err != nil && !errors.Is(err, lock.ErrNotReady) {
			e.logger.WithError(err).Warn("Identity refresh failed")
		}
	}
	return c, nil
}
