package lock

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srg/ydbolt/internal/device"
	"github.com/srg/ydbolt/internal/testutils"
	"github.com/srg/ydbolt/internal/ydble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func testIdentity() Identity {
	return Identity{
		Name:   testutils.TestLockName,
		UUID:   testutils.TestLockUUID,
		RawMAC: testutils.TestRawMAC,
		BLEID:  testutils.TestBLEID,
		Token:  testutils.TestBLEToken,
		Model:  testutils.TestLockModel,
	}
}

type staticSource struct {
	identity Identity
	err      error
	calls    atomic.Int32
}

func (s *staticSource) Fetch(_ context.Context, _ string) (Identity, error) {
	s.calls.Add(1)
	return s.identity, s.err
}

type CoordinatorTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
	lock   *testutils.ScriptedLock
}

func (s *CoordinatorTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.lock = testutils.NewScriptedLock(testutils.ScriptedLockOptions{})
}

func (s *CoordinatorTestSuite) newCoordinator(opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = s.helper.Logger
	}
	c, err := NewCoordinator(testIdentity(), s.lock, nil, opts)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = c.Close() })
	return c
}

// startCommand runs cmd in the background and waits until the action frame
// has been written.
func (s *CoordinatorTestSuite) startCommand(c *Coordinator, cmd ydble.Command) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.Execute(context.Background(), cmd) }()
	s.Require().Eventually(func() bool {
		return len(s.lock.Writes()) >= 3
	}, time.Second, 5*time.Millisecond, "action frame never written")
	return done
}

func (s *CoordinatorTestSuite) TestResolvesMACFromHardwareAddress() {
	c := s.newCoordinator(Options{})
	s.Equal(testutils.TestMAC, c.Identity().MAC)
}

func (s *CoordinatorTestSuite) TestLockRunsTheHandshake() {
	// GOAL: Verify a lock command completes against a scripted bolt
	//
	// TEST SCENARIO: Lock an unlocked bolt → action accepted, state cached as locked, link closed

	var notified []State
	var mu sync.Mutex
	c := s.newCoordinator(Options{})
	c.Subscribe(func(st State) {
		mu.Lock()
		defer mu.Unlock()
		notified = append(notified, st)
	})

	s.Require().NoError(c.Lock(context.Background()))

	s.Equal([]ydble.Command{ydble.CommandLock}, s.lock.Accepted())
	s.Equal(byte(StateLocked), s.lock.State())
	st, ok := c.Cached()
	s.Require().True(ok)
	s.True(st.IsLocked())
	s.False(s.lock.IsConnected(), "link must be released without an idle delay")
	_, busy := c.InFlight()
	s.False(busy)

	mu.Lock()
	defer mu.Unlock()
	s.Require().NotEmpty(notified)
	s.True(notified[len(notified)-1].IsLocked())
}

func (s *CoordinatorTestSuite) TestUnlockAcrossCodecsAndNoise() {
	// GOAL: Verify commands survive fragmentation, stray frames and both byte orders
	//
	// TEST SCENARIO: Unlock through a noisy, fragmenting bolt in LE and BE → accepted

	tests := []struct {
		name  string
		codec ydble.Codec
	}{
		{"little endian", ydble.DefaultCodec},
		{"big endian", ydble.NewCodec(binary.BigEndian)},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.lock = testutils.NewScriptedLock(testutils.ScriptedLockOptions{
				Codec:        tt.codec,
				State:        StateLocked,
				FragmentSize: 7,
				Noise:        true,
			})
			c := s.newCoordinator(Options{Codec: tt.codec})

			s.Require().NoError(c.Unlock(context.Background()))
			s.Equal([]ydble.Command{ydble.CommandUnlock}, s.lock.Accepted())

			st, ok := c.Cached()
			s.Require().True(ok)
			s.False(st.IsLocked())
			s.Positive(c.LastStats().Ignored)
		})
	}
}

func (s *CoordinatorTestSuite) TestStateNotificationCompletesCommand() {
	// GOAL: Verify a state notification alone completes a command
	//
	// TEST SCENARIO: Bolt never confirms but notifies its new state → command succeeds

	s.lock = testutils.NewScriptedLock(testutils.ScriptedLockOptions{SkipConfirm: true})
	c := s.newCoordinator(Options{CommandTimeout: 2 * time.Second})

	s.Require().NoError(c.Lock(context.Background()))
	st, ok := c.Cached()
	s.Require().True(ok)
	s.True(st.IsLocked())
	s.Zero(s.lock.Reads(), "notified state must not be read again")
}

func (s *CoordinatorTestSuite) TestSecondCommandIsBusy() {
	s.lock = testutils.NewScriptedLock(testutils.ScriptedLockOptions{StallAction: true})
	c := s.newCoordinator(Options{CommandTimeout: 5 * time.Second})

	done := s.startCommand(c, ydble.CommandLock)
	cmd, busy := c.InFlight()
	s.True(busy)
	s.Equal(ydble.CommandLock, cmd)

	s.ErrorIs(c.Unlock(context.Background()), ErrBusy)

	s.True(c.Cancel())
	s.ErrorIs(<-done, ErrCanceled)
}

func (s *CoordinatorTestSuite) TestPollDuringCommandUsesCache() {
	// GOAL: Verify polls never touch the link while a command runs
	//
	// TEST SCENARIO: Poll during a stalled command → cached value or ErrNoState, no reads

	s.lock = testutils.NewScriptedLock(testutils.ScriptedLockOptions{StallAction: true})
	c := s.newCoordinator(Options{CommandTimeout: 5 * time.Second})

	done := s.startCommand(c, ydble.CommandLock)

	_, err := c.GetState(context.Background())
	s.ErrorIs(err, ErrNoState)

	seeded := State{Value: StateUnlocked, Timestamp: time.Unix(1700000000, 0)}
	c.Seed(seeded)
	st, err := c.GetState(context.Background())
	s.Require().NoError(err)
	s.Equal(seeded, st)
	s.Zero(s.lock.Reads())

	c.Cancel()
	<-done
}

func (s *CoordinatorTestSuite) TestCommandTimeout() {
	// GOAL: Verify an unanswered action times out and tears the link down
	//
	// TEST SCENARIO: Bolt stalls after the action frame → ErrTimeout, disconnected, not in flight

	s.lock = testutils.NewScriptedLock(testutils.ScriptedLockOptions{StallAction: true})
	c := s.newCoordinator(Options{CommandTimeout: 150 * time.Millisecond, IdleDisconnect: time.Hour})

	err := c.Lock(context.Background())
	s.ErrorIs(err, ErrTimeout)
	s.False(s.lock.IsConnected())
	_, busy := c.InFlight()
	s.False(busy)
}

func (s *CoordinatorTestSuite) TestParentContextCancellation() {
	s.lock = testutils.NewScriptedLock(testutils.ScriptedLockOptions{StallAction: true})
	c := s.newCoordinator(Options{CommandTimeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := c.Lock(ctx)
	s.ErrorIs(err, context.DeadlineExceeded)
	s.False(s.lock.IsConnected())
}

func (s *CoordinatorTestSuite) TestLinkLossFailsCommand() {
	// GOAL: Verify a dropped link fails the command and the next call reconnects
	//
	// TEST SCENARIO: Bolt drops mid-handshake → connection error; next poll dials again

	s.lock = testutils.NewScriptedLock(testutils.ScriptedLockOptions{StallAction: true})
	c := s.newCoordinator(Options{CommandTimeout: 5 * time.Second})

	done := s.startCommand(c, ydble.CommandLock)
	s.lock.Drop()

	err := <-done
	s.ErrorIs(err, device.ErrNotConnected)
	_, busy := c.InFlight()
	s.False(busy)

	_, err = c.GetState(context.Background())
	s.Require().NoError(err)
	s.Equal(2, s.lock.Dials())
}

func (s *CoordinatorTestSuite) TestWriteFailureIsFatal() {
	s.lock.WriteErr = errors.New("att error 0x0e")
	c := s.newCoordinator(Options{})

	err := c.Unlock(context.Background())
	s.ErrorContains(err, "att error 0x0e")
	s.False(s.lock.IsConnected())
}

func (s *CoordinatorTestSuite) TestPollDisconnectRule() {
	// GOAL: Verify a poll closes only links it opened, unless an idle delay keeps them
	//
	// TEST SCENARIO: Poll with and without IdleDisconnect → link closed now, kept then closed

	s.Run("immediate", func() {
		s.lock = testutils.NewScriptedLock(testutils.ScriptedLockOptions{State: StateLocked})
		c := s.newCoordinator(Options{})

		st, err := c.GetState(context.Background())
		s.Require().NoError(err)
		s.True(st.IsLocked())
		s.Equal(time.Unix(1700000000, 0), st.Timestamp)
		s.False(s.lock.IsConnected())
	})

	s.Run("idle delay", func() {
		s.lock = testutils.NewScriptedLock(testutils.ScriptedLockOptions{})
		c := s.newCoordinator(Options{IdleDisconnect: 100 * time.Millisecond})

		_, err := c.GetState(context.Background())
		s.Require().NoError(err)
		_, err = c.GetState(context.Background())
		s.Require().NoError(err)
		s.True(s.lock.IsConnected())
		s.Equal(1, s.lock.Dials(), "second poll must reuse the link")

		s.Eventually(func() bool { return !s.lock.IsConnected() }, time.Second, 10*time.Millisecond)
	})
}

func (s *CoordinatorTestSuite) TestPollErrors() {
	tests := []struct {
		name    string
		prepare func(l *testutils.ScriptedLock)
		wantErr error
	}{
		{
			name:    "dial failure",
			prepare: func(l *testutils.ScriptedLock) { l.DialErr = device.ErrBluetoothOff },
			wantErr: device.ErrBluetoothOff,
		},
		{
			name:    "read failure",
			prepare: func(l *testutils.ScriptedLock) { l.ReadErr = device.ErrTimeout },
			wantErr: device.ErrTimeout,
		},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.lock = testutils.NewScriptedLock(testutils.ScriptedLockOptions{})
			tt.prepare(s.lock)
			c := s.newCoordinator(Options{})

			_, err := c.GetState(context.Background())
			s.ErrorIs(err, tt.wantErr)
			s.False(s.lock.IsConnected())
			_, ok := c.Cached()
			s.False(ok)
		})
	}
}

func (s *CoordinatorTestSuite) TestNotReadyUntilRefreshed() {
	// GOAL: Verify a lock without an address refuses work until refreshed
	//
	// TEST SCENARIO: Identity lacks the MAC → ErrNotReady; Refresh from source → command works

	id := testIdentity()
	id.RawMAC = ""
	source := &staticSource{identity: Identity{RawMAC: testutils.TestRawMAC, Model: testutils.TestLockModel}}
	c, err := NewCoordinator(id, s.lock, source, Options{Logger: s.helper.Logger})
	s.Require().NoError(err)
	defer c.Close()

	s.ErrorIs(c.Lock(context.Background()), ErrNotReady)
	_, err = c.GetState(context.Background())
	s.ErrorIs(err, ErrNotReady)
	s.Zero(s.lock.Dials())

	refreshed, err := c.Refresh(context.Background())
	s.Require().NoError(err)
	s.Equal(testutils.TestMAC, refreshed.MAC)
	s.Equal(testutils.TestLockName, refreshed.Name, "name survives a refresh")
	s.Equal(testutils.TestLockUUID, refreshed.UUID)

	s.Require().NoError(c.Lock(context.Background()))
}

func (s *CoordinatorTestSuite) TestRefreshFailures() {
	id := testIdentity()
	id.RawMAC = ""

	s.Run("no source", func() {
		c, err := NewCoordinator(id, s.lock, nil, Options{Logger: s.helper.Logger})
		s.Require().NoError(err)
		_, err = c.Refresh(context.Background())
		s.ErrorIs(err, ErrNotReady)
	})

	s.Run("source error", func() {
		boom := errors.New("cloud unavailable")
		c, err := NewCoordinator(id, s.lock, &staticSource{err: boom}, Options{Logger: s.helper.Logger})
		s.Require().NoError(err)
		_, err = c.Refresh(context.Background())
		s.ErrorIs(err, boom)
		s.False(c.Identity().Ready())
	})

	s.Run("bad MAC", func() {
		c, err := NewCoordinator(id, s.lock, &staticSource{identity: Identity{RawMAC: "xyz"}}, Options{Logger: s.helper.Logger})
		s.Require().NoError(err)
		_, err = c.Refresh(context.Background())
		s.ErrorIs(err, ErrInvalidMAC)
	})
}

func (s *CoordinatorTestSuite) TestRunPollsPeriodically() {
	c := s.newCoordinator(Options{PollInterval: 20 * time.Millisecond})
	var polls atomic.Int32
	unsubscribe := c.Subscribe(func(State) { polls.Add(1) })
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	s.Eventually(func() bool { return polls.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	s.ErrorIs(<-done, context.Canceled)
}

func (s *CoordinatorTestSuite) TestTraceRecordsFrames() {
	c := s.newCoordinator(Options{TraceSize: 64})
	s.Require().NoError(c.Lock(context.Background()))

	records := c.Trace().Drain()
	s.Require().NotEmpty(records)
	seen := map[Direction]int{}
	for _, r := range records {
		seen[r.Direction]++
	}
	s.Equal(4, seen[DirectionTX], "challenge request, challenge ack, action, confirm ack")
	s.Equal(4, seen[DirectionRX])
	s.Equal(1, seen[DirectionState])
}

func (s *CoordinatorTestSuite) TestClosedCoordinator() {
	c := s.newCoordinator(Options{})
	s.Require().NoError(c.Close())
	s.ErrorIs(c.Lock(context.Background()), ErrClosed)
	_, err := c.GetState(context.Background())
	s.ErrorIs(err, ErrClosed)
}

func TestCoordinatorTestSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorTestSuite))
}

func TestNewCoordinatorRejectsBadKeyMaterial(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Identity)
	}{
		{"short uuid", func(id *Identity) { id.UUID = "YD.LO1" }},
		{"short token", func(id *Identity) { id.Token = "abc" }},
		{"bad raw mac", func(id *Identity) { id.RawMAC = "0011" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := testIdentity()
			tt.mutate(&id)
			_, err := NewCoordinator(id, &testutils.MockDialer{}, nil, Options{Logger: testutils.QuietLogger()})
			assert.Error(t, err)
		})
	}
}

func TestCoordinatorPassesConnectOptions(t *testing.T) {
	// GOAL: Verify the dialer receives the configured address and timeouts
	//
	// TEST SCENARIO: Dial fails → options observed by the mock, error wrapped

	dialer := &testutils.MockDialer{}
	dialer.On("Dial", mock.Anything, testutils.TestMAC, mock.MatchedBy(func(o *device.ConnectOptions) bool {
		return o.ConnectTimeout == 3*time.Second
	})).Return(nil, device.ErrTimeout).Once()

	c, err := NewCoordinator(testIdentity(), dialer, nil, Options{
		Logger:  testutils.QuietLogger(),
		Connect: device.ConnectOptions{ConnectTimeout: 3 * time.Second},
	})
	require.NoError(t, err)

	_, err = c.GetState(context.Background())
	assert.ErrorIs(t, err, device.ErrTimeout)
	dialer.AssertExpectations(t)
}
