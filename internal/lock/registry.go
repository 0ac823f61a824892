package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/ydbolt/internal/groutine"
)

// Registry holds the coordinators of every configured lock, keyed by name.
type Registry struct {
	coordinators *hashmap.Map[string, *Coordinator]
	logger       *logrus.Logger
}

func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		coordinators: hashmap.New[string, *Coordinator](),
		logger:       logger,
	}
}

// Add registers c under its display name.
func (r *Registry) Add(c *Coordinator) error {
	name := c.Name()
	if !r.coordinators.Insert(name, c) {
		return fmt.Errorf("lock %q registered twice", name)
	}
	return nil
}

// Get finds a coordinator by name or, failing that, by UUID.
func (r *Registry) Get(key string) (*Coordinator, error) {
	if c, ok := r.coordinators.Get(key); ok {
		return c, nil
	}
	var found *Coordinator
	r.coordinators.Range(func(_ string, c *Coordinator) bool {
		if strings.EqualFold(c.Identity().UUID, key) {
			found = c
			return false
		}
		return true
	})
	if found == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLock, key)
	}
	return found, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, r.coordinators.Len())
	r.coordinators.Range(func(name string, _ *Coordinator) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// All returns the coordinators ordered by name.
func (r *Registry) All() []*Coordinator {
	names := r.Names()
	out := make([]*Coordinator, 0, len(names))
	for _, name := range names {
		if c, ok := r.coordinators.Get(name); ok {
			out = append(out, c)
		}
	}
	return out
}

// RunAll runs every coordinator's poll loop until ctx is done.
func (r *Registry) RunAll(ctx context.Context) {
	var group groutine.Group
	for _, c := range r.All() {
		c := c
		group.Go(ctx, "lock-poll-"+c.Name(), func(ctx context.Context) {
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.WithError(err).WithFields(logrus.Fields{
					"lock":      c.Name(),
					"goroutine": groutine.GetName(ctx),
				}).Error("Poll loop stopped")
			}
		})
	}
	group.Wait()
}

// Close closes every coordinator.
func (r *Registry) Close() {
	for _, c := range r.All() {
		_ = c.Close()
	}
}
