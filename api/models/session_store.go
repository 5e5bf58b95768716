package models

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	ttlworker "github.com/FloatTech/ttl"

	"github.com/moyoez/docdrop/types"
)

// SessionStore keeps upload sessions between chunk requests. Get returns
// types.ErrSessionNotFound for unknown ids. Returned sessions are copies.
type SessionStore interface {
	Get(ctx context.Context, uploadId string) (*types.UploadSession, error)
	Put(ctx context.Context, session *types.UploadSession) error
	Delete(ctx context.Context, uploadId string) error
	// SweepExpired removes sessions not updated since before and returns their ids.
	SweepExpired(ctx context.Context, before time.Time) ([]string, error)
}

// NewSessionStore builds the store named by cfg.Sessions.Store. The returned close
// function releases backend connections.
func NewSessionStore(cfg types.AppConfig) (SessionStore, func() error, error) {
	switch strings.ToLower(cfg.Sessions.Store) {
	case "", "memory":
		return NewMemorySessionStore(cfg.Sessions.TTL), func() error { return nil }, nil
	case "redis":
		client, err := NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return NewRedisSessionStore(client, cfg.Redis.KeyPrefix, cfg.Sessions.TTL), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session store: %s", cfg.Sessions.Store)
	}
}

// MemorySessionStore is a process-local SessionStore on top of a TTL cache.
// The cache evicts idle sessions on its own; the index remembers what was stored so
// SweepExpired can report the ids whose chunk spool must be released.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions *ttlworker.Cache[string, *types.UploadSession]
	index    map[string]time.Time
}

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		sessions: ttlworker.NewCache[string, *types.UploadSession](ttl),
		index:    make(map[string]time.Time),
	}
}

func (m *MemorySessionStore) Get(_ context.Context, uploadId string) (*types.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions.Get(uploadId)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrSessionNotFound, uploadId)
	}
	return s.Clone(), nil
}

func (m *MemorySessionStore) Put(_ context.Context, session *types.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions.Set(session.UploadId, session.Clone())
	m.index[session.UploadId] = session.UpdatedAt
	return nil
}

func (m *MemorySessionStore) Delete(_ context.Context, uploadId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions.Delete(uploadId)
	delete(m.index, uploadId)
	return nil
}

func (m *MemorySessionStore) SweepExpired(_ context.Context, before time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expired := make([]string, 0)
	for id, updated := range m.index {
		if updated.Before(before) || m.sessions.Get(id) == nil {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		m.sessions.Delete(id)
		delete(m.index, id)
	}
	slices.Sort(expired)
	return expired, nil
}

// Len reports the number of tracked sessions.
func (m *MemorySessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.index)
}
