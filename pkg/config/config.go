package config

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/ydbolt/internal/device"
	"github.com/srg/ydbolt/internal/lock"
	"github.com/srg/ydbolt/internal/ydble"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Log         LogConfig         `yaml:"log"`
	BLE         BLEConfig         `yaml:"ble"`
	Protocol    ProtocolConfig    `yaml:"protocol"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Store       StoreConfig       `yaml:"store"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`

	// IdentityFile, when set, is re-read on every identity refresh.
	IdentityFile string          `yaml:"identity_file"`
	Locks        []lock.Identity `yaml:"locks"`
}

type LogConfig struct {
	Level string `yaml:"level" default:"info"`
}

type BLEConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	ReadTimeout    time.Duration `yaml:"read_timeout" default:"5s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" default:"5s"`
}

type ProtocolConfig struct {
	// ByteOrder of multi-byte integers on the wire: little or big.
	ByteOrder  string `yaml:"byte_order" default:"little"`
	StateUUID  string `yaml:"state_uuid" default:"00002220-0000-6b63-6f6c-2e6b636f6c79"`
	UARTRXUUID string `yaml:"uart_rx_uuid" default:"00002221-0000-6b63-6f6c-2e6b636f6c79"`
	UARTTXUUID string `yaml:"uart_tx_uuid" default:"00002222-0000-6b63-6f6c-2e6b636f6c79"`
}

type CoordinatorConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval" default:"300s"`
	CommandTimeout time.Duration `yaml:"command_timeout" default:"10s"`
	IdleDisconnect time.Duration `yaml:"idle_disconnect"`
	TraceSize      uint32        `yaml:"trace_size" default:"128"`
}

type StoreConfig struct {
	Path         string `yaml:"path" default:"ydbolt.db"`
	Disabled     bool   `yaml:"disabled"`
	HistoryLimit int    `yaml:"history_limit" default:"256"`
}

type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	ClientID        string `yaml:"client_id" default:"ydbolt"`
	TopicPrefix     string `yaml:"topic_prefix" default:"ydbolt"`
	DiscoveryPrefix string `yaml:"discovery_prefix" default:"homeassistant"`
}

type InfluxDBConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     uint          `yaml:"batch_size" default:"100"`
	FlushInterval time.Duration `yaml:"flush_interval" default:"10s"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file, fills unset values with defaults and validates
// the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	defaults.SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := c.Codec(); err != nil {
		return err
	}
	for name, d := range map[string]time.Duration{
		"coordinator.poll_interval":   c.Coordinator.PollInterval,
		"coordinator.command_timeout": c.Coordinator.CommandTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Coordinator.IdleDisconnect < 0 {
		return errors.New("coordinator.idle_disconnect must not be negative")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required when mqtt is enabled")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		return errors.New("influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
	}

	seen := make(map[string]bool, len(c.Locks))
	for i, id := range c.Locks {
		if id.UUID == "" {
			return fmt.Errorf("locks[%d].uuid is required", i)
		}
		name := id.DisplayName()
		if seen[name] {
			return fmt.Errorf("locks[%d]: duplicate lock %q", i, name)
		}
		seen[name] = true
		if err := id.Validate(); err != nil {
			return fmt.Errorf("locks[%d]: %w", i, err)
		}
		if _, err := id.Resolve(); err != nil {
			return fmt.Errorf("locks[%d]: %w", i, err)
		}
	}
	return nil
}

// Codec returns the frame codec for protocol.byte_order.
func (c *Config) Codec() (ydble.Codec, error) {
	switch strings.ToLower(c.Protocol.ByteOrder) {
	case "", "little", "le":
		return ydble.NewCodec(binary.LittleEndian), nil
	case "big", "be":
		return ydble.NewCodec(binary.BigEndian), nil
	default:
		return ydble.Codec{}, fmt.Errorf("protocol.byte_order: unknown byte order %q", c.Protocol.ByteOrder)
	}
}

// LockOptions builds coordinator options from the configuration.
func (c *Config) LockOptions(logger *logrus.Logger) lock.Options {
	codec, _ := c.Codec()
	return lock.Options{
		Codec:          codec,
		StateUUID:      c.Protocol.StateUUID,
		UARTRXUUID:     c.Protocol.UARTRXUUID,
		UARTTXUUID:     c.Protocol.UARTTXUUID,
		PollInterval:   c.Coordinator.PollInterval,
		CommandTimeout: c.Coordinator.CommandTimeout,
		IdleDisconnect: c.Coordinator.IdleDisconnect,
		TraceSize:      c.Coordinator.TraceSize,
		Connect: device.ConnectOptions{
			ConnectTimeout: c.BLE.ConnectTimeout,
			ReadTimeout:    c.BLE.ReadTimeout,
			WriteTimeout:   c.BLE.WriteTimeout,
		},
		Logger: logger,
	}
}

// FindLock returns the configured lock with the given name or UUID.
func (c *Config) FindLock(key string) (lock.Identity, bool) {
	for _, id := range c.Locks {
		if id.DisplayName() == key || strings.EqualFold(id.UUID, key) {
			return id, true
		}
	}
	return lock.Identity{}, false
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
