package goble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/ydbolt/internal/device"
	"github.com/srg/ydbolt/internal/groutine"
)

// Default per-operation timeouts applied when ConnectOptions leaves them zero
const (
	DefaultReadTimeout  = 5 * time.Second
	DefaultWriteTimeout = 5 * time.Second
)

// gattClient is the part of ble.Client this package drives.
type gattClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

// Client is a device.Client over a go-ble connection.
type Client struct {
	address string
	gatt    gattClient
	logger  *logrus.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration

	connMutex  sync.RWMutex
	writeMutex sync.Mutex
	connected  bool
	chars      map[string]*ble.Characteristic

	// handlers maps a normalized characteristic UUID to its current handler.
	// The go-ble callback looks it up on every notification, so replacing
	// the entry is enough to re-subscribe.
	handlers *hashmap.Map[string, device.NotificationHandler]

	disconnected chan struct{}
	closeOnce    sync.Once
}

var _ device.Client = (*Client)(nil)

// newClient discovers the profile of an already dialed peripheral.
func newClient(address string, gatt gattClient, opts *device.ConnectOptions, logger *logrus.Logger) (*Client, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = &device.ConnectOptions{}
	}
	c := &Client{
		address:      address,
		gatt:         gatt,
		logger:       logger,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		chars:        make(map[string]*ble.Characteristic),
		handlers:     hashmap.New[string, device.NotificationHandler](),
		disconnected: make(chan struct{}),
	}
	if c.readTimeout <= 0 {
		c.readTimeout = DefaultReadTimeout
	}
	if c.writeTimeout <= 0 {
		c.writeTimeout = DefaultWriteTimeout
	}

	logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := gatt.DiscoverProfile(true)
	if err != nil {
		if cancelErr := gatt.CancelConnection(); cancelErr != nil {
			logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}
	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			uuid := device.NormalizeUUID(char.UUID.String())
			c.chars[uuid] = char
			logger.WithFields(logrus.Fields{
				"service_uuid": device.NormalizeUUID(svc.UUID.String()),
				"char_uuid":    uuid,
			}).Debug("Found characteristic UUID")
		}
	}
	c.connected = true

	// Not every go-ble backend exposes Disconnected(); probe for it.
	if watcher, ok := gatt.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-disconnect-monitor-"+address, func(ctx context.Context) {
			select {
			case <-watcher.Disconnected():
				c.logger.WithField("address", c.address).Warn("Peripheral dropped the connection")
				c.markDisconnected()
			case <-c.disconnected:
			}
		})
	} else {
		logger.Debug("Client does not support Disconnected() channel")
	}

	logger.WithFields(logrus.Fields{
		"address":         address,
		"characteristics": len(c.chars),
	}).Info("BLE device connected successfully")
	return c, nil
}

func (c *Client) Address() string {
	return c.address
}

// characteristic resolves uuid on a live connection.
func (c *Client) characteristic(uuid string) (*ble.Characteristic, error) {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	if !c.connected {
		return nil, &device.ConnectionError{State: device.NotConnected, Address: c.address}
	}
	char, ok := c.chars[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, &device.NotFoundError{UUID: uuid, Address: c.address}
	}
	return char, nil
}

// withTimeout runs op in a goroutine so a stalled BLE stack cannot block the
// caller past timeout or ctx.
func withTimeout[T any](ctx context.Context, timeout time.Duration, what string, op func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		v, err := op()
		resultCh <- result{v: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case r := <-resultCh:
		return r.v, r.err
	case <-timer.C:
		return zero, fmt.Errorf("%w: %s after %v", device.ErrTimeout, what, timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (c *Client) Read(ctx context.Context, uuid string) ([]byte, error) {
	char, err := c.characteristic(uuid)
	if err != nil {
		return nil, err
	}
	data, err := withTimeout(ctx, c.readTimeout, "reading characteristic "+uuid, func() ([]byte, error) {
		return c.gatt.ReadCharacteristic(char)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read characteristic %s: %w", uuid, NormalizeError(err))
	}
	return data, nil
}

func (c *Client) Write(ctx context.Context, uuid string, data []byte, withResponse bool) error {
	char, err := c.characteristic(uuid)
	if err != nil {
		return err
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	_, err = withTimeout(ctx, c.writeTimeout, "writing characteristic "+uuid, func() (struct{}, error) {
		return struct{}{}, c.gatt.WriteCharacteristic(char, data, !withResponse)
	})
	if err != nil {
		return fmt.Errorf("failed to write characteristic %s: %w", uuid, NormalizeError(err))
	}
	c.logger.WithFields(logrus.Fields{
		"char_uuid": device.ShortenUUID(device.NormalizeUUID(uuid)),
		"bytes":     len(data),
	}).Trace("Wrote characteristic")
	return nil
}

func (c *Client) Subscribe(ctx context.Context, uuid string, handler device.NotificationHandler) error {
	char, err := c.characteristic(uuid)
	if err != nil {
		return err
	}
	key := device.NormalizeUUID(uuid)
	if _, loaded := c.handlers.GetOrInsert(key, handler); loaded {
		c.handlers.Set(key, handler)
		return nil
	}

	ind := char.Property&ble.CharNotify == 0 && char.Property&ble.CharIndicate != 0
	_, err = withTimeout(ctx, c.writeTimeout, "subscribing to "+uuid, func() (struct{}, error) {
		return struct{}{}, c.gatt.Subscribe(char, ind, func(data []byte) {
			if h, ok := c.handlers.Get(key); ok && h != nil {
				// go-ble reuses the buffer
				h(append([]byte(nil), data...))
			}
		})
	})
	if err != nil {
		c.handlers.Del(key)
		return fmt.Errorf("failed to subscribe to %s: %w", uuid, NormalizeError(err))
	}
	c.logger.WithField("char_uuid", key).Debug("Subscribed to notifications")
	return nil
}

func (c *Client) Unsubscribe(ctx context.Context, uuid string) error {
	char, err := c.characteristic(uuid)
	if err != nil {
		return err
	}
	key := device.NormalizeUUID(uuid)
	if !c.handlers.Del(key) {
		return nil
	}
	ind := char.Property&ble.CharNotify == 0 && char.Property&ble.CharIndicate != 0
	_, err = withTimeout(ctx, c.writeTimeout, "unsubscribing from "+uuid, func() (struct{}, error) {
		return struct{}{}, c.gatt.Unsubscribe(char, ind)
	})
	return NormalizeError(err)
}

// Disconnect unsubscribes every characteristic and cancels the link.
func (c *Client) Disconnect() error {
	c.connMutex.Lock()
	if !c.connected {
		c.connMutex.Unlock()
		c.logger.Debug("Disconnect called but already disconnected")
		return nil
	}
	c.connMutex.Unlock()

	c.logger.WithField("address", c.address).Info("Disconnecting BLE device...")

	var keys []string
	c.handlers.Range(func(k string, _ device.NotificationHandler) bool {
		keys = append(keys, k)
		return true
	})
	for _, k := range keys {
		if err := c.Unsubscribe(context.Background(), k); err != nil {
			c.logger.WithFields(logrus.Fields{
				"char_uuid": k,
				"error":     err,
			}).Warn("Failed to unsubscribe during disconnect")
		}
	}

	c.markDisconnected()
	err := c.gatt.CancelConnection()
	if err != nil {
		c.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return NormalizeError(err)
	}
	c.logger.Info("BLE device disconnected successfully")
	return nil
}

func (c *Client) markDisconnected() {
	c.connMutex.Lock()
	c.connected = false
	c.connMutex.Unlock()
	c.closeOnce.Do(func() { close(c.disconnected) })
}

func (c *Client) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

func (c *Client) Disconnected() <-chan struct{} {
	return c.disconnected
}
