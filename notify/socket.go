// Package notify forwards file events to a local process over a Unix domain socket.
package notify

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/bytedance/sonic"

	"github.com/moyoez/docdrop/tool"
	"github.com/moyoez/docdrop/types"
)

// MaxPayloadSize bounds one framed notification.
const MaxPayloadSize = 32 * 1024 // 32KB

const (
	DefaultSocketTimeout = 3 * time.Second
	queueSize            = 64
)

// SocketNotifier writes each notification as a 4-byte little-endian length followed by
// the JSON payload, then reads an optional JSON reply. Delivery is best effort.
type SocketNotifier struct {
	Path    string
	Timeout time.Duration
	queue   chan types.Notification
}

func NewSocketNotifier(path string) *SocketNotifier {
	return &SocketNotifier{
		Path:    path,
		Timeout: DefaultSocketTimeout,
		queue:   make(chan types.Notification, queueSize),
	}
}

// Notify queues n for Run. A full queue drops the notification.
func (s *SocketNotifier) Notify(n types.Notification) {
	select {
	case s.queue <- n:
	default:
		tool.DefaultLogger.Warnf("[UnixSocket] queue full, dropping %s notification", n.Type)
	}
}

// Run delivers queued notifications until ctx is done.
func (s *SocketNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.queue:
			if err := s.Send(n); err != nil {
				tool.DefaultLogger.Debugf("[UnixSocket] %v", err)
			}
		}
	}
}

// Send delivers n synchronously.
func (s *SocketNotifier) Send(n types.Notification) error {
	if _, err := os.Stat(s.Path); os.IsNotExist(err) {
		return fmt.Errorf("unix socket not found: %s", s.Path)
	}
	payload, err := sonic.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to serialize notification: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("notification payload too large: %d bytes (max %d)", len(payload), MaxPayloadSize)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultSocketTimeout
	}
	conn, err := net.DialTimeout("unix", s.Path, timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to unix socket %s: %w", s.Path, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		tool.DefaultLogger.Debugf("[UnixSocket] failed to set deadline: %v", err)
	}
	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("failed to write to unix socket: %w", err)
	}

	buf := make([]byte, 4096)
	nr, err := conn.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read reply from unix socket: %w", err)
	}
	if nr > 0 {
		var reply struct {
			Error string `json:"error"`
		}
		if sonic.Unmarshal(buf[:nr], &reply) == nil && reply.Error != "" {
			return fmt.Errorf("socket listener returned error: %s", reply.Error)
		}
	}
	tool.DefaultLogger.Debugf("[UnixSocket] sent %s - %s", n.Type, n.Title)
	return nil
}
