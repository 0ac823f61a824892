package device

import (
	"context"
	"time"
)

// NotificationHandler receives the raw value of a notifying characteristic.
type NotificationHandler func(data []byte)

// Client is a live GATT connection to one peripheral. Characteristics are
// addressed by UUID in any format NormalizeUUID accepts.
type Client interface {
	Address() string

	Read(ctx context.Context, char string) ([]byte, error)

	// Write sends data; withResponse selects a write request over a command.
	Write(ctx context.Context, char string, data []byte, withResponse bool) error

	// Subscribe enables notifications for char. Subscribing again replaces
	// the handler.
	Subscribe(ctx context.Context, char string, handler NotificationHandler) error
	Unsubscribe(ctx context.Context, char string) error

	// Disconnect tears the link down. Calling it on a closed client is a no-op.
	Disconnect() error
	IsConnected() bool

	// Disconnected is closed when the link drops for any reason.
	Disconnected() <-chan struct{}
}

// ConnectOptions bound the individual GATT operations of a Client.
type ConnectOptions struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Dialer opens connections to peripherals by address.
type Dialer interface {
	Dial(ctx context.Context, address string, opts *ConnectOptions) (Client, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, address string, opts *ConnectOptions) (Client, error)

func (f DialerFunc) Dial(ctx context.Context, address string, opts *ConnectOptions) (Client, error) {
	return f(ctx, address, opts)
}
