// Package mqtt exposes configured locks to Home Assistant: discovery,
// retained state, attributes and a LOCK/UNLOCK command topic.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/srg/ydbolt/internal/groutine"
	"github.com/srg/ydbolt/internal/lock"
	"github.com/srg/ydbolt/internal/ydble"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker          string
	Username        string
	Password        string
	ClientID        string
	TopicPrefix     string
	DiscoveryPrefix string
	// CommandTimeout bounds a lock or unlock triggered over MQTT.
	CommandTimeout time.Duration
}

// Client is the part of pahomqtt.Client the bridge uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Bridge connects the lock registry to MQTT with HA autodiscovery.
type Bridge struct {
	client   Client
	registry *lock.Registry
	cfg      Config
	logger   *logrus.Logger
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	unsubs []func()
	wg     sync.WaitGroup
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(registry *lock.Registry, cfg Config, logger *logrus.Logger) (*Bridge, error) {
	b := newBridge(nil, registry, cfg, logger)

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(availabilityTopic(cfg.TopicPrefix), AvailabilityDown, 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.announce()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.WithError(err).Warn("MQTT connection lost")
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

func newBridge(client Client, registry *lock.Registry, cfg Config, logger *logrus.Logger) *Bridge {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "ydbolt"
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		client:   client,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start forwards every fresh lock state to MQTT.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.registry.All() {
		c := c
		b.unsubs = append(b.unsubs, c.Subscribe(func(st lock.State) {
			b.publishState(c.Identity(), st)
		}))
	}
	b.logger.WithField("prefix", b.cfg.TopicPrefix).Info("MQTT bridge started")
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	b.mu.Lock()
	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil
	b.mu.Unlock()
	b.wg.Wait()

	b.publish(availabilityTopic(b.cfg.TopicPrefix), []byte(AvailabilityDown), true)
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

// announce runs on every (re)connect: availability, discovery, command
// subscriptions and the cached states.
func (b *Bridge) announce() {
	b.publish(availabilityTopic(b.cfg.TopicPrefix), []byte(AvailabilityUp), true)
	for _, c := range b.registry.All() {
		id := c.Identity()
		msg := buildDiscovery(id, b.cfg.TopicPrefix, b.cfg.DiscoveryPrefix)
		b.publish(msg.Topic, msg.Payload, true)
		b.subscribeCommands(c)
		if st, ok := c.Cached(); ok {
			b.publishState(id, st)
		}
		b.logger.WithFields(logrus.Fields{
			"lock":      id.DisplayName(),
			"unique_id": DiscoveryID(id),
		}).Info("Published HA discovery")
	}
}

// RemoveDiscovery deletes the discovery entries of every lock.
func (b *Bridge) RemoveDiscovery() {
	for _, c := range b.registry.All() {
		msg := buildRemoveDiscovery(c.Identity(), b.cfg.DiscoveryPrefix)
		b.publish(msg.Topic, msg.Payload, true)
	}
}

func (b *Bridge) subscribeCommands(c *lock.Coordinator) {
	topic := commandTopic(b.cfg.TopicPrefix, c.Identity())
	token := b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(c, msg.Payload())
	})
	b.wait(token, topic, "subscribe")
}

func (b *Bridge) handleCommand(c *lock.Coordinator, payload []byte) {
	id := c.Identity()
	log := b.logger.WithField("lock", id.DisplayName())

	var cmd ydble.Command
	var transitional string
	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case PayloadLock:
		cmd, transitional = ydble.CommandLock, StateLocking
	case PayloadUnlock:
		cmd, transitional = ydble.CommandUnlock, StateUnlocking
	default:
		log.WithField("payload", string(payload)).Warn("Ignoring unknown lock command")
		return
	}

	b.wg.Add(1)
	groutine.Go(b.ctx, "mqtt-command-"+id.DisplayName(), func(ctx context.Context) {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, b.cfg.CommandTimeout)
		defer cancel()

		b.publish(stateTopic(b.cfg.TopicPrefix, id), []byte(transitional), true)
		err := c.Execute(ctx, cmd)
		if err == nil {
			return
		}
		if errors.Is(err, lock.ErrBusy) {
			log.WithField("command", cmd).Warn("Lock busy, command dropped")
			return
		}
		log.WithError(err).WithField("command", cmd).Error("Lock command failed")
		// restore the last known state over the transitional one
		if st, ok := c.Cached(); ok {
			b.publishState(id, st)
		}
	})
}

func (b *Bridge) publishState(id lock.Identity, st lock.State) {
	b.publish(stateTopic(b.cfg.TopicPrefix, id), []byte(statePayload(st)), true)
	b.publish(attributesTopic(b.cfg.TopicPrefix, id), mustJSON(attributes{
		State:        st.Value,
		LastOperated: st.Timestamp.UTC().Format(time.RFC3339),
		MAC:          id.MAC,
	}), true)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go b.wait(token, topic, "publish")
}

func (b *Bridge) wait(token pahomqtt.Token, topic, op string) {
	log := b.logger.WithField("topic", topic)
	if !token.WaitTimeout(5 * time.Second) {
		log.Warnf("MQTT %s timeout", op)
	} else if err := token.Error(); err != nil {
		log.WithError(err).Warnf("MQTT %s error", op)
	}
}
