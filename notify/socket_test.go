package notify

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"github.com/moyoez/docdrop/types"
)

// listen accepts framed notifications on a socket and replies with reply.
func listen(t *testing.T, reply string) (string, <-chan types.Notification) {
	t.Helper()
	dir, err := os.MkdirTemp("", "dn")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "n.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	got := make(chan types.Notification, 8)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			var size [4]byte
			if _, err := io.ReadFull(conn, size[:]); err != nil {
				conn.Close()
				continue
			}
			payload := make([]byte, binary.LittleEndian.Uint32(size[:]))
			if _, err := io.ReadFull(conn, payload); err == nil {
				var n types.Notification
				if sonic.Unmarshal(payload, &n) == nil {
					got <- n
				}
			}
			conn.Write([]byte(reply))
			conn.Close()
		}
	}()
	return path, got
}

func TestSocketNotifierSend(t *testing.T) {
	path, got := listen(t, `{"status":"ok"}`)
	s := NewSocketNotifier(path)
	err := s.Send(types.Notification{Type: types.NotifyTypeFileReady, Title: "a.txt", Data: map[string]any{"fileId": "f1"}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case n := <-got:
		if n.Type != types.NotifyTypeFileReady || n.Title != "a.txt" || n.Data["fileId"] != "f1" {
			t.Errorf("unexpected notification %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener never received the notification")
	}
}

func TestSocketNotifierReportsListenerError(t *testing.T) {
	path, _ := listen(t, `{"error":"busy"}`)
	if err := NewSocketNotifier(path).Send(types.Notification{Type: types.NotifyTypeFileDeleted}); err == nil {
		t.Fatal("expected the listener error to surface")
	}
}

func TestSocketNotifierMissingSocket(t *testing.T) {
	s := NewSocketNotifier(filepath.Join(t.TempDir(), "absent.sock"))
	if err := s.Send(types.Notification{Type: types.NotifyTypeFileReady}); err == nil {
		t.Fatal("expected an error for a missing socket")
	}
}

func TestSocketNotifierRejectsOversizedPayload(t *testing.T) {
	path, _ := listen(t, "")
	big := make([]byte, MaxPayloadSize)
	for i := range big {
		big[i] = 'x'
	}
	if err := NewSocketNotifier(path).Send(types.Notification{Message: string(big)}); err == nil {
		t.Fatal("expected oversized payload to be rejected")
	}
}

func TestRunDeliversQueuedNotifications(t *testing.T) {
	path, got := listen(t, "")
	s := NewSocketNotifier(path)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	Fanout{nil, s}.Notify(types.Notification{Type: types.NotifyTypeUploadComplete, Title: "big.txt"})
	select {
	case n := <-got:
		if n.Type != types.NotifyTypeUploadComplete {
			t.Errorf("unexpected notification %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued notification was not delivered")
	}
}

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify(types.Notification) { c.n++ }

func TestFanoutReachesEveryTarget(t *testing.T) {
	a, b := &countingNotifier{}, &countingNotifier{}
	Fanout{a, nil, b}.Notify(types.Notification{Type: types.NotifyTypeFileReady})
	if a.n != 1 || b.n != 1 {
		t.Errorf("expected one delivery each, got %d and %d", a.n, b.n)
	}
}
