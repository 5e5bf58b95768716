package models

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/moyoez/docdrop/types"
)

// exerciseStore runs the common SessionStore contract against s.
func exerciseStore(t *testing.T, s SessionStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Hour).Truncate(time.Millisecond)

	old := &types.UploadSession{UploadId: "old-" + base.Format("150405.000"), FileName: "old", TotalChunks: 2, Status: types.UploadCollecting, CreatedAt: base, UpdatedAt: base}
	fresh := &types.UploadSession{UploadId: "fresh-" + base.Format("150405.000"), FileName: "fresh", TotalChunks: 2, Status: types.UploadCollecting, CreatedAt: base, UpdatedAt: base.Add(90 * time.Minute)}
	t.Cleanup(func() {
		s.Delete(ctx, old.UploadId)
		s.Delete(ctx, fresh.UploadId)
	})

	for _, sess := range []*types.UploadSession{old, fresh} {
		if err := s.Put(ctx, sess); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	got, err := s.Get(ctx, old.UploadId)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.MarkReceived(1)
	again, _ := s.Get(ctx, old.UploadId)
	if again.ReceivedCount() != 0 {
		t.Errorf("mutating a returned session must not change the store")
	}

	swept, err := s.SweepExpired(ctx, base.Add(60*time.Minute))
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if len(swept) != 1 || swept[0] != old.UploadId {
		t.Errorf("expected only %s swept, got %v", old.UploadId, swept)
	}
	if _, err := s.Get(ctx, old.UploadId); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("swept session still readable: %v", err)
	}
	if _, err := s.Get(ctx, fresh.UploadId); err != nil {
		t.Errorf("fresh session should survive: %v", err)
	}

	if err := s.Delete(ctx, fresh.UploadId); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, fresh.UploadId); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("deleted session still readable: %v", err)
	}
}

func TestMemorySessionStore(t *testing.T) {
	exerciseStore(t, NewMemorySessionStore(time.Hour))
}

func TestRedisSessionStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client, err := NewRedisClient(types.RedisConfig{Addr: addr})
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	defer client.Close()
	exerciseStore(t, NewRedisSessionStore(client, "docdrop-test", time.Hour))
}

func TestNewSessionStoreSelectsBackend(t *testing.T) {
	store, closeFn, err := NewSessionStore(types.AppConfig{Sessions: types.SessionConfig{Store: "memory", TTL: time.Minute}})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	defer closeFn()
	if _, ok := store.(*MemorySessionStore); !ok {
		t.Errorf("expected *MemorySessionStore, got %T", store)
	}
	if _, _, err := NewSessionStore(types.AppConfig{Sessions: types.SessionConfig{Store: "etcd"}}); err == nil {
		t.Error("unknown store should be rejected")
	}
}
