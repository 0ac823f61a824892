package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/ydbolt/internal/device"
)

// DefaultConnectTimeout bounds Dial when ConnectOptions leaves it zero.
const DefaultConnectTimeout = 30 * time.Second

// Dialer opens go-ble connections. The host BLE device is created on first
// use through DeviceFactory and shared by every connection.
type Dialer struct {
	logger *logrus.Logger

	once   sync.Once
	dev    ble.Device
	devErr error

	// dial is swapped in tests
	dial func(ctx context.Context, address string) (gattClient, error)
}

var _ device.Dialer = (*Dialer)(nil)

func NewDialer(logger *logrus.Logger) *Dialer {
	if logger == nil {
		logger = logrus.New()
	}
	d := &Dialer{logger: logger}
	d.dial = d.dialDevice
	return d
}

func (d *Dialer) dialDevice(ctx context.Context, address string) (gattClient, error) {
	d.once.Do(func() {
		d.dev, d.devErr = DeviceFactory()
	})
	if d.devErr != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(d.devErr))
	}
	client, err := d.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Dial connects to address and discovers its characteristics.
func (d *Dialer) Dial(ctx context.Context, address string, opts *device.ConnectOptions) (device.Client, error) {
	if strings.TrimSpace(address) == "" {
		d.logger.Error("Connection attempt with empty address")
		return nil, fmt.Errorf("device address is empty")
	}
	if opts == nil {
		opts = &device.ConnectOptions{}
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	d.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": timeout,
	}).Info("Connecting to BLE device...")

	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	gatt, err := d.dial(connCtx, address)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		if connCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, device.ErrTimeout)
		}
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}
	return newClient(address, gatt, opts, d.logger)
}
