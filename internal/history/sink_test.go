package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/srg/ydbolt/internal/lock"
	"github.com/srg/ydbolt/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *recordingWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, p)
}

func (w *recordingWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

func (w *recordingWriter) lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.points))
	for _, p := range w.points {
		out = append(out, write.PointToLineProtocol(p, time.Second))
	}
	return out
}

func TestStatePoint(t *testing.T) {
	at := time.Unix(1700000100, 0)
	tests := []struct {
		name string
		st   lock.State
		want string
	}{
		{
			name: "locked",
			st:   lock.State{Value: lock.StateLocked, Timestamp: time.Unix(1700000000, 0)},
			want: "lock_state,lock=front-door last_operated=1700000000i,locked=true,state=1i 1700000100\n",
		},
		{
			name: "unlocked",
			st:   lock.State{Value: lock.StateUnlocked, Timestamp: time.Unix(1700000050, 0)},
			want: "lock_state,lock=front-door last_operated=1700000050i,locked=false,state=0i 1700000100\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := statePoint(testutils.TestLockName, tt.st, at)
			assert.Equal(t, tt.want, write.PointToLineProtocol(p, time.Second))
		})
	}
}

func TestSinkAttach(t *testing.T) {
	// GOAL: Verify polled states reach the writer and detach stops recording
	//
	// TEST SCENARIO: Attach, poll twice → two points; detach, poll → still two; Close flushes

	w := &recordingWriter{}
	sink := NewSink(w, testutils.QuietLogger())
	sink.now = func() time.Time { return time.Unix(1700000100, 0) }

	peripheral := testutils.NewScriptedLock(testutils.ScriptedLockOptions{State: lock.StateLocked})
	c, err := lock.NewCoordinator(lock.Identity{
		Name:   testutils.TestLockName,
		UUID:   testutils.TestLockUUID,
		RawMAC: testutils.TestRawMAC,
		BLEID:  testutils.TestBLEID,
		Token:  testutils.TestBLEToken,
	}, peripheral, nil, lock.Options{Logger: testutils.QuietLogger()})
	require.NoError(t, err)
	defer c.Close()

	detach := sink.Attach(c)
	for i := 0; i < 2; i++ {
		_, err := c.GetState(context.Background())
		require.NoError(t, err)
	}
	detach()
	_, err = c.GetState(context.Background())
	require.NoError(t, err)

	lines := w.lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "lock_state,lock=front-door last_operated=1700000000i,locked=true,state=1i 1700000100\n", lines[0])

	sink.Close()
	assert.Equal(t, 1, w.flushes)
}
