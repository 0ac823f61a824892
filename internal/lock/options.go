package lock

import (
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/ydbolt/internal/device"
	"github.com/srg/ydbolt/internal/ydble"
)

// Default GATT characteristics of the bolt
const (
	DefaultStateUUID  = "00002220-0000-6b63-6f6c-2e6b636f6c79"
	DefaultUARTRXUUID = "00002221-0000-6b63-6f6c-2e6b636f6c79"
	DefaultUARTTXUUID = "00002222-0000-6b63-6f6c-2e6b636f6c79"
)

// Options configure a Coordinator. Zero values take the defaults below.
type Options struct {
	Codec ydble.Codec

	StateUUID  string `default:"00002220-0000-6b63-6f6c-2e6b636f6c79"`
	UARTRXUUID string `default:"00002221-0000-6b63-6f6c-2e6b636f6c79"`
	UARTTXUUID string `default:"00002222-0000-6b63-6f6c-2e6b636f6c79"`

	PollInterval   time.Duration `default:"5m"`
	CommandTimeout time.Duration `default:"10s"`

	// IdleDisconnect keeps a link opened by a command or poll for this long
	// before tearing it down. Zero disconnects as soon as the work is done.
	IdleDisconnect time.Duration

	Connect device.ConnectOptions

	// TraceSize bounds the frame log; zero disables tracing.
	TraceSize uint32

	// Progress, when set, receives short human readable step descriptions
	// while a command runs.
	Progress func(step string)

	Logger *logrus.Logger
}

func (o *Options) applyDefaults() {
	defaults.SetDefaults(o)
	if o.Codec.Order == nil {
		o.Codec = ydble.DefaultCodec
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
}
