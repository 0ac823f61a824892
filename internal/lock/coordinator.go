package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/ydbolt/internal/device"
	"github.com/srg/ydbolt/internal/groutine"
	"github.com/srg/ydbolt/internal/handshake"
	"github.com/srg/ydbolt/internal/ydble"
)

// IdentitySource fetches the current identity of a lock from the cloud or
// any other metadata store.
type IdentitySource interface {
	Fetch(ctx context.Context, uuid string) (Identity, error)
}

// operation is the in-flight command.
type operation struct {
	cmd       ydble.Command
	cancel    context.CancelCauseFunc
	stateSeen chan struct{}
	stateOnce sync.Once
}

func (op *operation) markStateSeen() {
	op.stateOnce.Do(func() { close(op.stateSeen) })
}

// Coordinator owns the BLE link to one bolt. Commands and state polls never
// overlap on the link: a poll during a command returns the cached state, and
// a second command is rejected with ErrBusy.
type Coordinator struct {
	opts   Options
	logger *logrus.Logger
	dialer device.Dialer
	source IdentitySource
	trace  *FrameLog

	// io is a one slot semaphore held for every GATT conversation.
	io chan struct{}

	mu           sync.Mutex
	identity     Identity
	client       device.Client
	state        State
	hasState     bool
	inflight     *operation
	idleTimer    *time.Timer
	listeners    map[int]func(State)
	nextListener int
	lastStats    handshake.Stats
	closed       bool
}

// NewCoordinator validates identity and prepares a coordinator. The link is
// opened lazily. source may be nil when identity already carries the MAC.
func NewCoordinator(identity Identity, dialer device.Dialer, source IdentitySource, opts Options) (*Coordinator, error) {
	opts.applyDefaults()
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	identity, err := identity.Resolve()
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		opts:      opts,
		logger:    opts.Logger,
		dialer:    dialer,
		source:    source,
		io:        make(chan struct{}, 1),
		identity:  identity,
		listeners: make(map[int]func(State)),
	}
	if opts.TraceSize > 0 {
		c.trace = NewFrameLog(opts.TraceSize)
	}
	return c, nil
}

func (c *Coordinator) log() *logrus.Entry {
	c.mu.Lock()
	id := c.identity
	c.mu.Unlock()
	return c.logger.WithFields(logrus.Fields{
		"lock": id.DisplayName(),
		"mac":  id.MAC,
	})
}

func (c *Coordinator) progress(step string) {
	if c.opts.Progress != nil {
		c.opts.Progress(step)
	}
}

func (c *Coordinator) Identity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Coordinator) Name() string {
	return c.Identity().DisplayName()
}

// Trace returns the frame log, nil when tracing is disabled.
func (c *Coordinator) Trace() *FrameLog {
	return c.trace
}

// InFlight reports the command currently running, if any.
func (c *Coordinator) InFlight() (ydble.Command, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight == nil {
		return 0, false
	}
	return c.inflight.cmd, true
}

// LastStats returns the handshake counters of the last command.
func (c *Coordinator) LastStats() handshake.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStats
}

// Cached returns the last known state without touching the link.
func (c *Coordinator) Cached() (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.hasState
}

// Seed installs a previously persisted state if nothing is cached yet.
// Listeners are not notified.
func (c *Coordinator) Seed(st State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasState {
		c.state = st
		c.hasState = true
	}
}

// Subscribe registers fn for every freshly read or notified state. The
// returned function removes it.
func (c *Coordinator) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Coordinator) setState(st State) {
	c.mu.Lock()
	c.state = st
	c.hasState = true
	listeners := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
}

func (c *Coordinator) acquire(ctx context.Context) error {
	select {
	case c.io <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) releaseIO() {
	<-c.io
}

// Refresh fetches the identity from the source and resolves the BLE
// address. A changed address drops the current link.
func (c *Coordinator) Refresh(ctx context.Context) (Identity, error) {
	c.mu.Lock()
	current := c.identity
	c.mu.Unlock()

	if c.source == nil {
		if current.Ready() {
			return current, nil
		}
		return current, ErrNotReady
	}

	fetched, err := c.source.Fetch(ctx, current.UUID)
	if err != nil {
		return current, fmt.Errorf("refresh %s: %w", current.DisplayName(), err)
	}
	if fetched.UUID == "" {
		fetched.UUID = current.UUID
	}
	if fetched.Name == "" {
		fetched.Name = current.Name
	}
	if fetched.Token == "" {
		fetched.Token = current.Token
		fetched.BLEID = current.BLEID
	}
	if fetched.Model == "" {
		fetched.Model = current.Model
	}
	if fetched.RawMAC != "" && fetched.RawMAC != current.RawMAC {
		fetched.MAC = ""
	}
	fetched, err = fetched.Resolve()
	if err != nil {
		return current, fmt.Errorf("refresh %s: %w", current.DisplayName(), err)
	}
	if err := fetched.Validate(); err != nil {
		return current, fmt.Errorf("refresh %s: %w", current.DisplayName(), err)
	}

	c.mu.Lock()
	c.identity = fetched
	moved := current.MAC != "" && current.MAC != fetched.MAC
	c.mu.Unlock()

	if moved {
		c.dropClient()
	}
	c.log().WithField("model", fetched.Model).Info("Lock identity refreshed")
	if !fetched.Ready() {
		return fetched, ErrNotReady
	}
	return fetched, nil
}

// connect returns the live client, dialing when needed. opened reports
// whether this call created the link.
func (c *Coordinator) connect(ctx context.Context, id Identity) (client device.Client, opened bool, err error) {
	c.mu.Lock()
	if c.client != nil && c.client.IsConnected() {
		client = c.client
		c.mu.Unlock()
		return client, false, nil
	}
	c.client = nil
	c.mu.Unlock()

	client, err = c.dialer.Dial(ctx, id.MAC, &c.opts.Connect)
	if err != nil {
		return nil, false, fmt.Errorf("connect %s: %w", id.DisplayName(), err)
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	groutine.Go(context.Background(), "lock-link-"+id.DisplayName(), func(context.Context) {
		<-client.Disconnected()
		c.mu.Lock()
		if c.client == client {
			c.client = nil
		}
		c.mu.Unlock()
		c.log().Debug("Link closed")
	})
	return client, true, nil
}

// dropClient disconnects and forgets the current link.
func (c *Coordinator) dropClient() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.stopIdleTimerLocked()
	c.mu.Unlock()

	if client == nil {
		return
	}
	if err := client.Disconnect(); err != nil {
		c.log().WithError(err).Warn("Disconnect failed")
	}
}

func (c *Coordinator) stopIdleTimerLocked() {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

// release ends a conversation: with an idle delay the link is kept and a
// disconnect is scheduled, otherwise a link opened by the caller is closed.
func (c *Coordinator) release(opened bool) {
	if c.opts.IdleDisconnect <= 0 {
		if opened {
			c.dropClient()
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopIdleTimerLocked()
	client := c.client
	if client == nil {
		return
	}
	c.idleTimer = time.AfterFunc(c.opts.IdleDisconnect, func() {
		// skip when busy; the running conversation reschedules on release
		select {
		case c.io <- struct{}{}:
		default:
			return
		}
		defer c.releaseIO()

		c.mu.Lock()
		current := c.client == client && c.inflight == nil
		c.mu.Unlock()
		if current {
			c.log().Debug("Idle timeout, disconnecting")
			c.dropClient()
		}
	})
}

// GetState reads and decodes the state characteristic. While a command is
// in flight the cached state is returned and the link is left alone.
func (c *Coordinator) GetState(ctx context.Context) (State, error) {
	if st, busy, err := c.cachedIfBusy(); busy {
		return st, err
	}

	c.mu.Lock()
	closed, id := c.closed, c.identity
	c.mu.Unlock()
	if closed {
		return State{}, ErrClosed
	}
	if !id.Ready() {
		return State{}, ErrNotReady
	}

	if err := c.acquire(ctx); err != nil {
		return State{}, err
	}
	defer c.releaseIO()

	// a command may have started while we waited
	if st, busy, err := c.cachedIfBusy(); busy {
		return st, err
	}

	client, opened, err := c.connect(ctx, id)
	if err != nil {
		return State{}, err
	}
	data, err := client.Read(ctx, c.opts.StateUUID)
	if err != nil {
		if opened || device.IsConnectionFailure(err) {
			c.dropClient()
		}
		return State{}, fmt.Errorf("read state of %s: %w", id.DisplayName(), err)
	}
	c.trace.Record(DirectionState, data)

	st, err := DecodeState(c.opts.Codec, id.UUID, data)
	c.release(opened)
	if err != nil {
		return State{}, fmt.Errorf("decode state of %s: %w", id.DisplayName(), err)
	}
	c.setState(st)
	c.log().WithFields(logrus.Fields{
		"state":         st,
		"last_operated": st.Timestamp,
	}).Debug("Polled lock state")
	return st, nil
}

func (c *Coordinator) cachedIfBusy() (State, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight == nil {
		return State{}, false, nil
	}
	if !c.hasState {
		return State{}, true, ErrNoState
	}
	return c.state, true, nil
}

func (c *Coordinator) Lock(ctx context.Context) error {
	return c.Execute(ctx, ydble.CommandLock)
}

func (c *Coordinator) Unlock(ctx context.Context) error {
	return c.Execute(ctx, ydble.CommandUnlock)
}

// Cancel aborts the in-flight command, which then fails with ErrCanceled.
// It reports whether there was one.
func (c *Coordinator) Cancel() bool {
	c.mu.Lock()
	op := c.inflight
	c.mu.Unlock()
	if op == nil {
		return false
	}
	op.cancel(ErrCanceled)
	return true
}

// Execute runs cmd to completion. It returns once the lock confirmed the
// command or notified its new state, or fails with ErrTimeout after
// CommandTimeout. Any failure tears the link down.
func (c *Coordinator) Execute(ctx context.Context, cmd ydble.Command) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.inflight != nil:
		c.mu.Unlock()
		return ErrBusy
	case !c.identity.Ready():
		c.mu.Unlock()
		return ErrNotReady
	}
	opCtx, cancel := context.WithCancelCause(ctx)
	op := &operation{cmd: cmd, cancel: cancel, stateSeen: make(chan struct{})}
	c.inflight = op
	c.stopIdleTimerLocked()
	id := c.identity
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inflight = nil
		c.mu.Unlock()
		cancel(nil)
	}()

	timeoutCtx, stop := context.WithTimeoutCause(opCtx, c.opts.CommandTimeout, ErrTimeout)
	defer stop()

	log := c.log().WithField("command", cmd)
	log.Info("Running command")
	started := time.Now()

	if err := c.acquire(timeoutCtx); err != nil {
		return fmt.Errorf("%s %s: %w", cmd, id.DisplayName(), context.Cause(timeoutCtx))
	}
	defer c.releaseIO()

	err := c.run(timeoutCtx, op, id)
	if err != nil {
		c.dropClient()
		log.WithError(err).Error("Command failed")
		return fmt.Errorf("%s %s: %w", cmd, id.DisplayName(), err)
	}
	c.release(true)
	log.WithField("elapsed", time.Since(started).Round(time.Millisecond)).Info("Command completed")
	return nil
}

func (c *Coordinator) run(ctx context.Context, op *operation, id Identity) error {
	c.progress("connecting")
	client, _, err := c.connect(ctx, id)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return err
	}

	codec := c.opts.Codec
	writer := handshake.WriterFunc(func(ctx context.Context, data []byte) error {
		c.trace.Record(DirectionTX, data)
		return client.Write(ctx, c.opts.UARTTXUUID, data, false)
	})
	machine := handshake.New(codec, op.cmd, handshake.Credentials{BLEID: id.BLEID, Token: id.Token}, writer, c.logger)
	defer func() {
		c.mu.Lock()
		c.lastStats = machine.Stats()
		c.mu.Unlock()
	}()

	onRX := func(data []byte) {
		c.trace.Record(DirectionRX, data)
		before := machine.Stage()
		if err := machine.HandleNotification(ctx, data); err != nil {
			c.log().WithError(err).Warn("Handshake failed")
			return
		}
		if after := machine.Stage(); after != before {
			c.progress(after.String())
		}
	}
	onState := func(data []byte) {
		c.trace.Record(DirectionState, data)
		st, err := DecodeState(codec, id.UUID, data)
		if err != nil {
			c.log().WithError(err).Warn("Dropping undecodable state notification")
			return
		}
		c.setState(st)
		op.markStateSeen()
	}

	if err := client.Subscribe(ctx, c.opts.UARTRXUUID, onRX); err != nil {
		return err
	}
	defer c.unsubscribe(client, c.opts.UARTRXUUID)
	if err := client.Subscribe(ctx, c.opts.StateUUID, onState); err != nil {
		return err
	}
	defer c.unsubscribe(client, c.opts.StateUUID)

	c.progress("requesting challenge")
	if err := machine.Start(ctx); err != nil {
		return err
	}

	select {
	case <-machine.Done():
		if err := machine.Err(); err != nil {
			return err
		}
	case <-op.stateSeen:
		c.log().Debug("State notification completed the command")
	case <-client.Disconnected():
		machine.Abort(device.ErrNotConnected)
		return fmt.Errorf("link lost during %s: %w", machine.Stage(), device.ErrNotConnected)
	case <-ctx.Done():
		cause := context.Cause(ctx)
		machine.Abort(cause)
		c.log().WithField("stage", machine.Stage()).Warn("Command aborted")
		return cause
	}

	select {
	case <-op.stateSeen:
	default:
		c.refreshAfterCommand(ctx, client, op.cmd, id)
	}
	c.progress("done")
	return nil
}

// refreshAfterCommand reads the state the lock settled in. When the read
// fails the commanded state is cached instead.
func (c *Coordinator) refreshAfterCommand(ctx context.Context, client device.Client, cmd ydble.Command, id Identity) {
	data, err := client.Read(ctx, c.opts.StateUUID)
	if err == nil {
		c.trace.Record(DirectionState, data)
		var st State
		if st, err = DecodeState(c.opts.Codec, id.UUID, data); err == nil {
			c.setState(st)
			return
		}
	}
	c.log().WithError(err).Debug("Could not read state after command, assuming commanded state")
	st := State{Value: StateUnlocked, Timestamp: time.Now().Truncate(time.Second)}
	if cmd == ydble.CommandLock {
		st.Value = StateLocked
	}
	c.setState(st)
}

func (c *Coordinator) unsubscribe(client device.Client, char string) {
	if !client.IsConnected() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Unsubscribe(ctx, char); err != nil {
		c.log().WithError(err).WithField("char_uuid", device.ShortenUUID(device.NormalizeUUID(char))).Debug("Unsubscribe failed")
	}
}

// Run polls the state every PollInterval until ctx is done, refreshing the
// identity first whenever the address is unknown.
func (c *Coordinator) Run(ctx context.Context) error {
	poll := func() {
		if !c.Identity().Ready() {
			if _, err := c.Refresh(ctx); err != nil {
				c.log().WithError(err).Warn("Lock not ready, will retry on next poll")
				return
			}
		}
		if _, err := c.GetState(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.log().WithError(err).Warn("State poll failed")
		}
	}

	poll()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			poll()
		}
	}
}

// Close aborts any command and tears the link down.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	c.closed = true
	op := c.inflight
	c.mu.Unlock()
	if op != nil {
		op.cancel(ErrCanceled)
	}
	c.dropClient()
	return nil
}
