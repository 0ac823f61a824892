// Package metadata provides the device-metadata collaborator a coordinator
// refreshes its identity from.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/ydbolt/internal/lock"
	"gopkg.in/yaml.v3"
)

// ErrUnknownLock is returned when a source has no entry for a UUID.
var ErrUnknownLock = errors.New("metadata: unknown lock")

// Source is implemented by everything that can describe a lock.
type Source = lock.IdentitySource

// StaticSource serves a fixed set of identities, usually the configured ones.
type StaticSource struct {
	mu    sync.RWMutex
	locks map[string]lock.Identity
}

func NewStaticSource(ids ...lock.Identity) *StaticSource {
	s := &StaticSource{locks: make(map[string]lock.Identity, len(ids))}
	for _, id := range ids {
		s.Put(id)
	}
	return s
}

// Put adds or replaces an identity.
func (s *StaticSource) Put(id lock.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks[strings.ToLower(id.UUID)] = id
}

func (s *StaticSource) Fetch(_ context.Context, uuid string) (lock.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.locks[strings.ToLower(uuid)]
	if !ok {
		return lock.Identity{}, fmt.Errorf("%w: %s", ErrUnknownLock, uuid)
	}
	return id, nil
}

// identityFile is the layout of a FileSource document.
type identityFile struct {
	Locks []lock.Identity `yaml:"locks"`
}

// FileSource reads identities from a YAML file on every fetch, so edits are
// picked up without a restart.
type FileSource struct {
	Path string
}

// LoadIdentities parses a YAML identity file.
func LoadIdentities(path string) ([]lock.Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}
	var doc identityFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse identity file %s: %w", path, err)
	}
	return doc.Locks, nil
}

func (s FileSource) Fetch(ctx context.Context, uuid string) (lock.Identity, error) {
	ids, err := LoadIdentities(s.Path)
	if err != nil {
		return lock.Identity{}, err
	}
	return NewStaticSource(ids...).Fetch(ctx, uuid)
}

// IdentityCache is the part of the store a CachedSource needs.
type IdentityCache interface {
	SaveIdentity(id lock.Identity) error
	GetIdentity(uuid string) (lock.Identity, error)
}

// CachedSource writes every successful upstream fetch through to a cache and
// answers from the cache when the upstream fails.
type CachedSource struct {
	upstream Source
	cache    IdentityCache
	logger   *logrus.Logger
}

func NewCachedSource(upstream Source, cache IdentityCache, logger *logrus.Logger) *CachedSource {
	if logger == nil {
		logger = logrus.New()
	}
	return &CachedSource{upstream: upstream, cache: cache, logger: logger}
}

func (s *CachedSource) Fetch(ctx context.Context, uuid string) (lock.Identity, error) {
	id, err := s.upstream.Fetch(ctx, uuid)
	if err == nil {
		if id.UUID == "" {
			id.UUID = uuid
		}
		if cerr := s.cache.SaveIdentity(id); cerr != nil {
			s.logger.WithError(cerr).WithField("uuid", uuid).Warn("Failed to cache lock identity")
		}
		return id, nil
	}

	cached, cerr := s.cache.GetIdentity(uuid)
	if cerr != nil {
		return lock.Identity{}, fmt.Errorf("%w (cache: %v)", err, cerr)
	}
	s.logger.WithError(err).WithField("uuid", uuid).Warn("Metadata fetch failed, using cached identity")
	return cached, nil
}
