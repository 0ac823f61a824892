package testutils

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/srg/ydbolt/internal/device"
	"github.com/srg/ydbolt/internal/ydble"
)

// ScriptedLockOptions shape how a ScriptedLock answers.
type ScriptedLockOptions struct {
	Address   string `default:"AA:BB:CC:DD:EE:FF"`
	UUID      string `default:"YD.LO1.a1b2c3d4e5f60718293a4b5c"`
	Token     string `default:"0123456789abcdefFEDCBA9876543210"`
	BLEID     uint16 `default:"42"`
	StateUUID string `default:"00002220-0000-6b63-6f6c-2e6b636f6c79"`
	RXUUID    string `default:"00002221-0000-6b63-6f6c-2e6b636f6c79"`
	TXUUID    string `default:"00002222-0000-6b63-6f6c-2e6b636f6c79"`

	Codec     ydble.Codec
	Challenge []byte

	// State is the initial bolt state byte (1 = locked).
	State     byte
	Timestamp uint32

	// FragmentSize splits every UART notification into chunks of at most
	// this many bytes. Zero sends whole frames.
	FragmentSize int

	// StallAction leaves the action frame unanswered.
	StallAction bool
	// SkipConfirm answers the action with its ack and a state notification
	// but never sends the confirmation message.
	SkipConfirm bool
	// NotifyState pushes a state notification after the confirmation.
	NotifyState bool
	// Noise precedes every reply with a frame no stage expects and a frame
	// with a broken checksum.
	Noise bool
}

type notification struct {
	char string
	data []byte
}

// ScriptedLock is an in-memory bolt peripheral. It implements device.Dialer
// and device.Client and answers the challenge/action exchange with real
// frames, so the handshake and the coordinator run end to end in tests.
type ScriptedLock struct {
	opts ScriptedLockOptions

	mu           sync.Mutex
	connected    bool
	handlers     map[string]device.NotificationHandler
	disconnected chan struct{}
	stop         chan struct{}
	queue        chan notification
	notifySeq    uint16

	state     byte
	timestamp uint32

	dials    int
	reads    int
	writes   [][]byte
	acks     []uint16
	accepted []ydble.Command
	rejected int

	// Injected failures
	DialErr  error
	ReadErr  error
	WriteErr error
}

var (
	_ device.Client = (*ScriptedLock)(nil)
	_ device.Dialer = (*ScriptedLock)(nil)
)

// NewScriptedLock creates a disconnected scripted lock. Unset options take
// the Test* fixture values.
func NewScriptedLock(opts ScriptedLockOptions) *ScriptedLock {
	defaults.SetDefaults(&opts)
	if opts.Codec.Order == nil {
		opts.Codec = ydble.DefaultCodec
	}
	if len(opts.Challenge) == 0 {
		opts.Challenge = TestChallenge
	}
	if opts.Timestamp == 0 {
		opts.Timestamp = 1700000000
	}
	closed := make(chan struct{})
	close(closed)
	return &ScriptedLock{
		opts:         opts,
		handlers:     make(map[string]device.NotificationHandler),
		disconnected: closed,
		notifySeq:    0x10,
		state:        opts.State,
		timestamp:    opts.Timestamp,
	}
}

// Dial connects the scripted lock.
func (l *ScriptedLock) Dial(ctx context.Context, address string, _ *device.ConnectOptions) (device.Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dials++
	if l.DialErr != nil {
		return nil, l.DialErr
	}
	if l.connected {
		return nil, device.ErrAlreadyConnected
	}
	l.connected = true
	l.handlers = make(map[string]device.NotificationHandler)
	l.disconnected = make(chan struct{})
	l.stop = make(chan struct{})
	l.queue = make(chan notification, 256)
	go l.deliver(l.stop, l.queue)
	return l, nil
}

func (l *ScriptedLock) deliver(stop <-chan struct{}, queue <-chan notification) {
	for {
		select {
		case <-stop:
			return
		case n := <-queue:
			l.mu.Lock()
			h := l.handlers[device.NormalizeUUID(n.char)]
			l.mu.Unlock()
			if h != nil {
				h(n.data)
			}
		}
	}
}

func (l *ScriptedLock) Address() string {
	return l.opts.Address
}

func (l *ScriptedLock) Read(ctx context.Context, char string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return nil, device.ErrNotConnected
	}
	if l.ReadErr != nil {
		return nil, l.ReadErr
	}
	if !sameUUID(char, l.opts.StateUUID) {
		return nil, &device.NotFoundError{UUID: char, Address: l.opts.Address}
	}
	l.reads++
	return l.encryptedStateLocked(), nil
}

func (l *ScriptedLock) Write(ctx context.Context, char string, data []byte, withResponse bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return device.ErrNotConnected
	}
	if l.WriteErr != nil {
		return l.WriteErr
	}
	if !sameUUID(char, l.opts.TXUUID) {
		return &device.NotFoundError{UUID: char, Address: l.opts.Address}
	}
	l.writes = append(l.writes, append([]byte(nil), data...))

	codec := l.opts.Codec
	frame, remaining, err := codec.ParseL1(data)
	if err != nil || remaining > 0 {
		return nil
	}
	switch frame.Flags {
	case ydble.FlagsAck:
		l.acks = append(l.acks, frame.SeqNo)
	case ydble.FlagsRequest:
		msg, err := codec.ParseL2(frame.Payload)
		if err != nil {
			return nil
		}
		switch msg.Cmd {
		case ydble.CmdChallengeRequest:
			l.replyLocked(l.opts.RXUUID,
				codec.PackL1(ydble.FlagsNotifyAck, frame.SeqNo, nil),
				l.notifyLocked(ydble.NewMessage(ydble.CmdChallenge, 0,
					ydble.Field{Tag: ydble.TagChallenge, Value: l.opts.Challenge})),
			)
		case ydble.CmdAction:
			l.handleActionLocked(frame, msg)
		}
	}
	return nil
}

func (l *ScriptedLock) handleActionLocked(frame ydble.Frame, msg *ydble.Message) {
	if l.opts.StallAction {
		return
	}
	codec := l.opts.Codec
	masked, _ := msg.Get(ydble.TagActionPayload)
	id, _ := msg.Get(ydble.TagBLEID)
	wantID := make([]byte, 2)
	codec.Order.PutUint16(wantID, l.opts.BLEID)

	var cmd ydble.Command
	for _, c := range []ydble.Command{ydble.CommandLock, ydble.CommandUnlock} {
		expected, err := ydble.MaskChallenge(l.opts.Token, l.opts.Challenge, c)
		if err == nil && bytes.Equal(expected, masked) {
			cmd = c
		}
	}
	if cmd == 0 || !bytes.Equal(id, wantID) {
		l.rejected++
		return
	}

	l.accepted = append(l.accepted, cmd)
	if cmd == ydble.CommandLock {
		l.state = 1
	} else {
		l.state = 0
	}
	l.timestamp = uint32(time.Now().Unix())

	replies := [][]byte{codec.PackL1(ydble.FlagsNotifyAck, frame.SeqNo, nil)}
	if !l.opts.SkipConfirm {
		replies = append(replies, l.notifyLocked(ydble.NewMessage(ydble.CmdConfirm, 0)))
	}
	l.replyLocked(l.opts.RXUUID, replies...)
	if l.opts.SkipConfirm || l.opts.NotifyState {
		l.queue <- notification{char: l.opts.StateUUID, data: l.encryptedStateLocked()}
	}
}

func (l *ScriptedLock) notifyLocked(msg *ydble.Message) []byte {
	payload, err := l.opts.Codec.PackL2(msg)
	if err != nil {
		panic(err)
	}
	l.notifySeq++
	return l.opts.Codec.PackL1(ydble.FlagsNotify, l.notifySeq, payload)
}

func (l *ScriptedLock) replyLocked(char string, frames ...[]byte) {
	for _, f := range frames {
		if l.opts.Noise {
			l.queue <- notification{char: char, data: l.notifyLocked(ydble.NewMessage(0x55, 0))}
			broken := l.opts.Codec.PackL1(ydble.FlagsNotify, 0x99, []byte{0x86, 0x00})
			broken[len(broken)-1] ^= 0xFF
			l.queue <- notification{char: char, data: broken}
		}
		size := l.opts.FragmentSize
		if size <= 0 {
			size = len(f)
		}
		for start := 0; start < len(f); start += size {
			end := min(start+size, len(f))
			l.queue <- notification{char: char, data: f[start:end]}
		}
	}
}

func (l *ScriptedLock) encryptedStateLocked() []byte {
	key, err := ydble.StateKey(l.opts.UUID)
	if err != nil {
		panic(err)
	}
	plain := make([]byte, 16)
	plain[0] = l.state
	l.opts.Codec.Order.PutUint32(plain[1:5], l.timestamp)
	out, err := ydble.EncryptECB(key, plain)
	if err != nil {
		panic(err)
	}
	return out
}

func (l *ScriptedLock) Subscribe(ctx context.Context, char string, handler device.NotificationHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return device.ErrNotConnected
	}
	l.handlers[device.NormalizeUUID(char)] = handler
	return nil
}

func (l *ScriptedLock) Unsubscribe(ctx context.Context, char string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, device.NormalizeUUID(char))
	return nil
}

func (l *ScriptedLock) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnectLocked()
	return nil
}

func (l *ScriptedLock) disconnectLocked() {
	if !l.connected {
		return
	}
	l.connected = false
	close(l.stop)
	close(l.disconnected)
}

// Drop simulates the peripheral going out of range.
func (l *ScriptedLock) Drop() {
	l.Disconnect() //nolint:errcheck // never fails
}

// PushState sends a state notification as the lock does when turned by hand.
func (l *ScriptedLock) PushState(state byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = state
	l.timestamp = uint32(time.Now().Unix())
	if l.connected {
		l.queue <- notification{char: l.opts.StateUUID, data: l.encryptedStateLocked()}
	}
}

// SetState changes the bolt without notifying.
func (l *ScriptedLock) SetState(state byte, timestamp uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = state
	l.timestamp = timestamp
}

func (l *ScriptedLock) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *ScriptedLock) Disconnected() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disconnected
}

func (l *ScriptedLock) Dials() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dials
}

func (l *ScriptedLock) Reads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reads
}

// Writes returns every frame written to UART-TX.
func (l *ScriptedLock) Writes() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.writes...)
}

// Acks returns the sequence numbers of the acknowledgements received.
func (l *ScriptedLock) Acks() []uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uint16(nil), l.acks...)
}

// Accepted returns the actions the lock verified and executed.
func (l *ScriptedLock) Accepted() []ydble.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ydble.Command(nil), l.accepted...)
}

// Rejected counts actions that failed verification.
func (l *ScriptedLock) Rejected() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rejected
}

func (l *ScriptedLock) State() byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func sameUUID(a, b string) bool {
	return device.NormalizeUUID(a) == device.NormalizeUUID(b)
}
