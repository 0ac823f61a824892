package lock

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// Direction of a traced frame
type Direction string

const (
	DirectionTX    Direction = "tx"
	DirectionRX    Direction = "rx"
	DirectionState Direction = "state"
)

// FrameRecord is one raw GATT value seen by a coordinator.
type FrameRecord struct {
	Time      time.Time
	Direction Direction
	Data      []byte
}

func (r FrameRecord) String() string {
	return fmt.Sprintf("%s %-5s %x", r.Time.Format("15:04:05.000"), r.Direction, r.Data)
}

// FrameLog keeps the most recent frames exchanged with a lock. When full,
// the oldest record is overwritten.
type FrameLog struct {
	buffer      mpmc.RichOverlappedRingBuffer[FrameRecord]
	overwritten atomic.Int64
}

// NewFrameLog creates a log holding about size records.
func NewFrameLog(size uint32) *FrameLog {
	if size == 0 {
		size = 1
	}
	return &FrameLog{buffer: mpmc.NewOverlappedRingBuffer[FrameRecord](size)}
}

// Record appends a copy of data.
func (l *FrameLog) Record(dir Direction, data []byte) {
	if l == nil {
		return
	}
	rec := FrameRecord{Time: time.Now(), Direction: dir, Data: append([]byte(nil), data...)}
	if overwrites, err := l.buffer.EnqueueM(rec); err == nil {
		l.overwritten.Add(int64(overwrites))
	}
}

// Drain removes and returns the buffered records, oldest first.
func (l *FrameLog) Drain() []FrameRecord {
	if l == nil {
		return nil
	}
	var out []FrameRecord
	for !l.buffer.IsEmpty() {
		rec, err := l.buffer.Dequeue()
		if err != nil {
			break
		}
		out = append(out, rec)
	}
	return out
}

// Overwritten counts records lost to overflow.
func (l *FrameLog) Overwritten() int64 {
	if l == nil {
		return 0
	}
	return l.overwritten.Load()
}
