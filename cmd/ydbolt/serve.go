package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/ydbolt/internal/history"
	"github.com/srg/ydbolt/internal/lock"
	"github.com/srg/ydbolt/internal/metadata"
	"github.com/srg/ydbolt/internal/mqtt"
	"github.com/srg/ydbolt/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Poll configured locks and bridge them to MQTT",
		Long: `Runs a coordinator per configured lock until interrupted. Each coordinator
polls the lock state; fresh states are persisted to the bbolt store, written to
InfluxDB when enabled, and published to MQTT with Home Assistant discovery when
enabled. Lock and unlock commands arrive on <topic_prefix>/<lock>/set.

Example:
  ydbolt serve --config /etc/ydbolt.yaml`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := serviceLogger(cmd, cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store.Store
	var source metadata.Source = metadata.NewStaticSource(cfg.Locks...)
	if cfg.IdentityFile != "" {
		source = metadata.FileSource{Path: cfg.IdentityFile}
	}
	if !cfg.Store.Disabled {
		bolt, err := store.NewBoltStore(cfg.Store.Path, cfg.Store.HistoryLimit)
		if err != nil {
			return err
		}
		defer bolt.Close()
		st = bolt
		source = metadata.NewCachedSource(source, bolt, logger)
	}

	ids, err := serveIdentities(cfg.Locks, cfg.IdentityFile)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return errors.New("no locks configured")
	}

	dialer := newDialer(logger)
	registry := lock.NewRegistry(logger)
	defer registry.Close()
	for _, id := range ids {
		c, err := lock.NewCoordinator(id, dialer, source, cfg.LockOptions(logger))
		if err != nil {
			return fmt.Errorf("lock %s: %w", id.DisplayName(), err)
		}
		if err := registry.Add(c); err != nil {
			return err
		}
		if st != nil {
			persistStates(c, st, logger)
		}
	}

	if cfg.InfluxDB.Enabled {
		sink, err := history.Connect(history.Config{
			URL:           cfg.InfluxDB.URL,
			Token:         cfg.InfluxDB.Token,
			Org:           cfg.InfluxDB.Org,
			Bucket:        cfg.InfluxDB.Bucket,
			BatchSize:     cfg.InfluxDB.BatchSize,
			FlushInterval: cfg.InfluxDB.FlushInterval,
		}, logger)
		if err != nil {
			return err
		}
		defer sink.Close()
		for _, c := range registry.All() {
			defer sink.Attach(c)()
		}
	}

	if cfg.MQTT.Enabled {
		bridge, err := mqtt.NewBridge(registry, mqtt.Config{
			Broker:          cfg.MQTT.Broker,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			ClientID:        cfg.MQTT.ClientID,
			TopicPrefix:     cfg.MQTT.TopicPrefix,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
			CommandTimeout:  cfg.Coordinator.CommandTimeout,
		}, logger)
		if err != nil {
			return err
		}
		bridge.Start()
		defer bridge.Stop()
	}

	logger.WithField("locks", registry.Names()).Info("Serving locks")
	registry.RunAll(ctx)
	logger.Info("Shutting down")
	return nil
}

// serveIdentities merges configured locks with those of the identity file.
// Configured entries win on a name clash.
func serveIdentities(configured []lock.Identity, identityFile string) ([]lock.Identity, error) {
	ids := append([]lock.Identity(nil), configured...)
	if identityFile == "" {
		return ids, nil
	}
	fromFile, err := metadata.LoadIdentities(identityFile)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id.DisplayName()] = true
	}
	for _, id := range fromFile {
		if !seen[id.DisplayName()] {
			seen[id.DisplayName()] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// persistStates seeds c with its last stored state and stores every fresh one.
func persistStates(c *lock.Coordinator, st store.Store, logger *logrus.Logger) {
	uuid := c.Identity().UUID
	if last, err := st.GetState(uuid); err == nil {
		c.Seed(last)
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.WithError(err).WithField("lock", c.Name()).Warn("Failed to load stored state")
	}
	c.Subscribe(func(state lock.State) {
		if err := st.SaveState(uuid, state); err != nil {
			logger.WithError(err).WithField("lock", c.Name()).Warn("Failed to store state")
		}
	})
}
