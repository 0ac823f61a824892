// Package history writes every observed lock state to InfluxDB.
//
// Writes are non-blocking and batched by the client; failures surface
// asynchronously and are only logged.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
	"github.com/srg/ydbolt/internal/lock"
)

// Measurement is the InfluxDB measurement of lock states.
const Measurement = "lock_state"

const defaultConnectTimeout = 10 * time.Second

// ErrConnectionFailed is returned when the server does not answer the ping.
var ErrConnectionFailed = errors.New("influxdb: connection failed")

// Config holds InfluxDB connection settings.
type Config struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     uint
	FlushInterval time.Duration
}

// PointWriter is the part of api.WriteAPI the sink needs.
type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Sink records lock states as points.
type Sink struct {
	client influxdb2.Client
	writer PointWriter
	logger *logrus.Logger
	now    func() time.Time
}

// Connect creates the client, pings the server and sets up a batching write API.
func Connect(cfg Config, logger *logrus.Logger) (*Sink, error) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(cfg.BatchSize).
			SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	s := NewSink(writeAPI, logger)
	s.client = client

	go func() {
		for err := range writeAPI.Errors() {
			s.logger.WithError(err).Warn("InfluxDB write failed")
		}
	}()
	return s, nil
}

// NewSink records through an existing writer.
func NewSink(w PointWriter, logger *logrus.Logger) *Sink {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sink{writer: w, logger: logger, now: time.Now}
}

func statePoint(lockName string, st lock.State, at time.Time) *write.Point {
	return write.NewPoint(
		Measurement,
		map[string]string{"lock": lockName},
		map[string]interface{}{
			"state":         int64(st.Value),
			"locked":        st.IsLocked(),
			"last_operated": st.Timestamp.Unix(),
		},
		at,
	)
}

// Record writes one state observation.
func (s *Sink) Record(id lock.Identity, st lock.State) {
	s.writer.WritePoint(statePoint(id.DisplayName(), st, s.now()))
}

// Attach records every state c observes until the returned function is called.
func (s *Sink) Attach(c *lock.Coordinator) func() {
	return c.Subscribe(func(st lock.State) {
		s.Record(c.Identity(), st)
	})
}

// Close flushes pending points and closes the client.
func (s *Sink) Close() {
	s.writer.Flush()
	if s.client != nil {
		s.client.Close()
	}
}
