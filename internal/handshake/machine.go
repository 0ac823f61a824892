package handshake

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/ydbolt/internal/ydble"
)

// Writer sends a frame to the lock's UART-TX characteristic.
type Writer interface {
	WriteTX(ctx context.Context, data []byte) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, data []byte) error

func (f WriterFunc) WriteTX(ctx context.Context, data []byte) error {
	return f(ctx, data)
}

// Credentials are the per-lock secrets used to answer a challenge.
type Credentials struct {
	BLEID uint16
	Token string
}

// Context is the state owned by one exchange. It is created by New and never
// shared between operations.
type Context struct {
	Command   ydble.Command
	Stage     Stage
	assembler *ydble.Assembler
}

// Stats counts what the machine did with inbound notifications.
type Stats struct {
	Handled      int // frames that advanced the stage
	Ignored      int // complete frames that did not match the stage
	DecodeErrors int // framing, checksum or truncation failures
	Fragments    int // chunks buffered as part of a partial frame
}

// Machine drives a single lock or unlock exchange. Notifications are fed
// through HandleNotification; writes go out through the Writer.
type Machine struct {
	codec  ydble.Codec
	creds  Credentials
	writer Writer
	logger *logrus.Logger

	mu    sync.Mutex
	hctx  Context
	stats Stats

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

// New creates a machine for cmd. A nil logger selects logrus.New().
func New(codec ydble.Codec, cmd ydble.Command, creds Credentials, w Writer, logger *logrus.Logger) *Machine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Machine{
		codec:  codec,
		creds:  creds,
		writer: w,
		logger: logger,
		hctx: Context{
			Command:   cmd,
			Stage:     StageAwaitChallengeAck,
			assembler: ydble.NewAssembler(codec),
		},
		done: make(chan struct{}),
	}
}

// Start writes the challenge request. A write failure ends the exchange.
func (m *Machine) Start(ctx context.Context) error {
	m.logger.WithField("command", m.hctx.Command).Debug("Requesting challenge")
	if err := m.writer.WriteTX(ctx, m.codec.ChallengeRequest()); err != nil {
		err = fmt.Errorf("write challenge request: %w", err)
		m.finish(err)
		return err
	}
	return nil
}

// HandleNotification consumes one UART-RX notification.
//
// Decode failures and frames that do not fit the current stage are logged
// and counted; they return nil and leave the stage unchanged. An error is
// returned only when the exchange fails, in which case Done is closed too.
func (m *Machine) HandleNotification(ctx context.Context, data []byte) error {
	m.mu.Lock()
	if m.hctx.Stage == StageDone || m.isDone() {
		m.mu.Unlock()
		return nil
	}

	frame, err := m.hctx.assembler.Feed(data)
	if err != nil {
		m.stats.DecodeErrors++
		stage := m.hctx.Stage
		m.mu.Unlock()
		m.logger.WithError(err).WithField("stage", stage).Warn("Dropping undecodable notification")
		return nil
	}
	if frame == nil {
		m.stats.Fragments++
		pending := m.hctx.assembler.Pending()
		m.mu.Unlock()
		m.logger.WithField("buffered", pending).Debug("Buffered partial frame")
		return nil
	}

	m.logger.WithField("stage", m.hctx.Stage).Debugf("Received %s", m.codec.DescribeFrame(*frame))

	from := m.hctx.Stage
	st, err := transitions[from](m, *frame)
	if err != nil {
		var unexpected *UnexpectedFrameError
		var actionErr *ActionError
		switch {
		case errors.As(err, &unexpected):
			m.stats.Ignored++
			m.mu.Unlock()
			m.logger.WithError(err).Warn("Ignoring unexpected frame")
			return nil
		case errors.As(err, &actionErr):
			m.mu.Unlock()
			m.finish(err)
			return err
		default:
			m.stats.DecodeErrors++
			m.mu.Unlock()
			m.logger.WithError(err).WithField("stage", from).Warn("Dropping undecodable message")
			return nil
		}
	}
	m.stats.Handled++
	m.hctx.Stage = st.next
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"from": from,
		"to":   st.next,
	}).Debug("Handshake advanced")

	for _, out := range st.writes {
		if err := m.writer.WriteTX(ctx, out); err != nil {
			err = fmt.Errorf("write at %s: %w", st.next, err)
			m.finish(err)
			return err
		}
	}
	if st.next == StageDone {
		m.logger.WithField("command", m.hctx.Command).Info("Lock confirmed command")
		m.finish(nil)
	}
	return nil
}

// Abort ends the exchange with err, or ErrAborted when err is nil. It has no
// effect on a finished machine.
func (m *Machine) Abort(err error) {
	if err == nil {
		err = ErrAborted
	}
	m.finish(err)
}

func (m *Machine) finish(err error) {
	m.doneOnce.Do(func() {
		m.mu.Lock()
		m.err = err
		m.mu.Unlock()
		close(m.done)
	})
}

func (m *Machine) isDone() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Done is closed once the exchange completes or fails.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Err is nil after a confirmed exchange and before Done is closed.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Wait blocks until the exchange ends or ctx is done.
func (m *Machine) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return m.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) Command() ydble.Command {
	return m.hctx.Command
}

func (m *Machine) Stage() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hctx.Stage
}

func (m *Machine) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
