package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/moyoez/docdrop/metrics"
	"github.com/moyoez/docdrop/tool"
	"github.com/moyoez/docdrop/types"
)

// Ingester receives the reassembled byte stream of a completed upload.
type Ingester interface {
	Ingest(ctx context.Context, req types.IngestRequest, r io.Reader) (*types.IngestResult, error)
}

type Notifier interface {
	Notify(n types.Notification)
}

// UploadManager owns the chunked upload lifecycle:
// collecting -> reassembling -> complete | failed.
type UploadManager struct {
	Sessions SessionStore
	Chunks   *ChunkStore
	Ingester Ingester
	Notifier Notifier
	Metrics  *metrics.Metrics

	TTL           time.Duration
	MaxChunks     int
	MaxChunkBytes int64

	locks keyedMutex
	now   func() time.Time
}

func NewUploadManager(sessions SessionStore, chunks *ChunkStore, ingester Ingester, cfg types.SessionConfig) *UploadManager {
	return &UploadManager{
		Sessions:      sessions,
		Chunks:        chunks,
		Ingester:      ingester,
		TTL:           cfg.TTL,
		MaxChunks:     cfg.MaxChunks,
		MaxChunkBytes: cfg.MaxChunkBytes,
		now:           time.Now,
	}
}

func (m *UploadManager) clock() time.Time {
	if m.now == nil {
		return time.Now()
	}
	return m.now()
}

// Init opens a collecting session for owner.
func (m *UploadManager) Init(ctx context.Context, owner string, req types.InitUploadRequest) (*types.UploadSession, error) {
	name := strings.TrimSpace(req.FileName)
	switch {
	case name == "":
		return nil, fmt.Errorf("%w: filename is required", types.ErrInvalidInit)
	case req.FileSize <= 0:
		return nil, fmt.Errorf("%w: fileSize must be positive", types.ErrInvalidInit)
	case req.TotalChunks < 1:
		return nil, fmt.Errorf("%w: totalChunks must be at least 1", types.ErrInvalidInit)
	case m.MaxChunks > 0 && req.TotalChunks > m.MaxChunks:
		return nil, fmt.Errorf("%w: totalChunks %d exceeds limit %d", types.ErrInvalidInit, req.TotalChunks, m.MaxChunks)
	}

	now := m.clock()
	s := &types.UploadSession{
		UploadId:       tool.GenerateRandomUUID(),
		Owner:          owner,
		FileName:       name,
		DeclaredSize:   req.FileSize,
		TotalChunks:    req.TotalChunks,
		FileType:       req.FileType,
		Kind:           req.Kind,
		ReceivedChunks: []int{},
		Status:         types.UploadCollecting,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.Sessions.Put(ctx, s); err != nil {
		return nil, err
	}
	tool.DefaultLogger.Infof("[Upload] init %s: %s, %d bytes in %d chunks", s.UploadId, s.FileName, s.DeclaredSize, s.TotalChunks)
	return s.Clone(), nil
}

// Chunk stores the bytes of one chunk. totalChunks is the total the client tagged the
// chunk with; zero skips the check. Resending an index replaces its bytes and leaves the
// received set unchanged.
func (m *UploadManager) Chunk(ctx context.Context, uploadId string, index, totalChunks int, r io.Reader) (*types.UploadSession, error) {
	s, err := m.Sessions.Get(ctx, uploadId)
	if err != nil {
		return nil, err
	}
	if err := checkChunk(s, index, totalChunks); err != nil {
		return nil, err
	}

	if m.MaxChunkBytes > 0 {
		r = &maxBytesReader{r: r, remaining: m.MaxChunkBytes}
	}
	// an oversized chunk aborts the staging before it can replace the stored part
	staged, n, err := m.Chunks.Stage(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("write chunk %d of %s: %w", index, uploadId, err)
	}
	committed := false
	defer func() {
		if !committed {
			m.Chunks.Discard(staged)
		}
	}()

	unlock := m.locks.Lock(uploadId)
	defer unlock()

	// reload, the session may have moved on while the bytes were staged
	s, err = m.Sessions.Get(ctx, uploadId)
	if err != nil {
		return nil, err
	}
	if err := checkChunk(s, index, totalChunks); err != nil {
		return nil, err
	}
	if err := m.Chunks.Commit(staged, uploadId, index); err != nil {
		return nil, err
	}
	committed = true
	s.MarkReceived(index)
	s.UpdatedAt = m.clock()
	if err := m.Sessions.Put(ctx, s); err != nil {
		return nil, err
	}
	m.Metrics.ChunkReceived(int(n))
	tool.DefaultLogger.Debugf("[Upload] %s chunk %d/%d (%d bytes)", uploadId, index+1, s.TotalChunks, n)
	return s, nil
}

func checkChunk(s *types.UploadSession, index, totalChunks int) error {
	if totalChunks > 0 && totalChunks != s.TotalChunks {
		return fmt.Errorf("%w: got %d, session declared %d", types.ErrTotalChunksMismatch, totalChunks, s.TotalChunks)
	}
	if index < 0 || index >= s.TotalChunks {
		return fmt.Errorf("%w: %d not in [0,%d)", types.ErrChunkOutOfRange, index, s.TotalChunks)
	}
	if s.Status != types.UploadCollecting {
		return fmt.Errorf("%w: status is %s", types.ErrSessionNotCollecting, s.Status)
	}
	return nil
}

// Complete reassembles a full session in index order and hands it to the ingester.
// The session is forgotten on success and marked failed otherwise.
func (m *UploadManager) Complete(ctx context.Context, uploadId string) (*types.CompleteUploadResponse, error) {
	unlock := m.locks.Lock(uploadId)
	defer unlock()

	s, err := m.Sessions.Get(ctx, uploadId)
	if err != nil {
		return nil, err
	}
	if s.Status != types.UploadCollecting {
		return nil, fmt.Errorf("%w: status is %s", types.ErrSessionNotCollecting, s.Status)
	}
	if !s.IsFull() {
		return nil, fmt.Errorf("%w: %d of %d chunks received", types.ErrIncompleteUpload, s.ReceivedCount(), s.TotalChunks)
	}

	s.Status = types.UploadReassembling
	s.UpdatedAt = m.clock()
	if err := m.Sessions.Put(ctx, s); err != nil {
		return nil, err
	}

	size, err := m.Chunks.Size(uploadId, s.TotalChunks)
	if err != nil {
		return nil, m.fail(ctx, s, "spool", err)
	}
	if size != s.DeclaredSize {
		return nil, m.fail(ctx, s, "size_mismatch",
			fmt.Errorf("%w: chunks hold %d bytes, declared %d", types.ErrSizeMismatch, size, s.DeclaredSize))
	}

	tool.DefaultLogger.Infof("[Complete] reassembling %s: %s (%d bytes)", uploadId, s.FileName, size)
	stream := m.Chunks.Reader(uploadId, s.TotalChunks)
	res, err := m.Ingester.Ingest(ctx, types.IngestRequest{
		Owner:    s.Owner,
		FileName: s.FileName,
		FileType: s.FileType,
		Size:     s.DeclaredSize,
		Kind:     s.Kind,
	}, stream)
	stream.Close()
	if err != nil {
		return nil, m.fail(ctx, s, "ingest", err)
	}

	s.Status = types.UploadComplete
	if err := m.Chunks.Release(uploadId); err != nil {
		tool.DefaultLogger.Warnf("[Complete] %v", err)
	}
	if err := m.Sessions.Delete(ctx, uploadId); err != nil {
		tool.DefaultLogger.Warnf("[Complete] failed to forget session %s: %v", uploadId, err)
	}
	m.Metrics.UploadCompleted("ok")
	tool.DefaultLogger.Infof("[Complete] %s stored as file %s (%s)", uploadId, res.FileID, res.Status)

	if m.Notifier != nil {
		m.Notifier.Notify(types.Notification{
			Type:  types.NotifyTypeUploadComplete,
			Title: s.FileName,
			Data: map[string]any{
				"uploadId": uploadId,
				"fileId":   res.FileID,
				"owner":    s.Owner,
			},
		})
	}
	return &types.CompleteUploadResponse{
		FileId:            res.FileID,
		Status:            res.Status,
		TextExtracted:     res.TextExtracted,
		WordCount:         res.WordCount,
		ConversationCount: res.ConversationCount,
	}, nil
}

// fail marks the session failed, drops its chunks and returns cause.
func (m *UploadManager) fail(ctx context.Context, s *types.UploadSession, result string, cause error) error {
	tool.DefaultLogger.Errorf("[Complete] %s failed: %v", s.UploadId, cause)
	m.Metrics.UploadCompleted(result)
	s.Status = types.UploadFailed
	s.UpdatedAt = m.clock()
	if err := m.Sessions.Put(context.WithoutCancel(ctx), s); err != nil {
		tool.DefaultLogger.Warnf("[Complete] failed to record failure of %s: %v", s.UploadId, err)
	}
	if err := m.Chunks.Release(s.UploadId); err != nil {
		tool.DefaultLogger.Warnf("[Complete] %v", err)
	}
	return cause
}

// Abort forgets a session that is not being reassembled and releases its chunks.
func (m *UploadManager) Abort(ctx context.Context, uploadId string) error {
	unlock := m.locks.Lock(uploadId)
	defer unlock()

	s, err := m.Sessions.Get(ctx, uploadId)
	if err != nil {
		return err
	}
	if s.Status == types.UploadReassembling {
		return fmt.Errorf("%w: status is %s", types.ErrSessionNotCollecting, s.Status)
	}
	if err := m.Chunks.Release(uploadId); err != nil {
		return err
	}
	if err := m.Sessions.Delete(ctx, uploadId); err != nil {
		return err
	}
	tool.DefaultLogger.Infof("[Upload] aborted %s", uploadId)
	return nil
}

func (m *UploadManager) Status(ctx context.Context, uploadId string) (*types.UploadStatusResponse, error) {
	s, err := m.Sessions.Get(ctx, uploadId)
	if err != nil {
		return nil, err
	}
	progress := 0
	if s.TotalChunks > 0 {
		progress = s.ReceivedCount() * 100 / s.TotalChunks
	}
	return &types.UploadStatusResponse{
		UploadId:       s.UploadId,
		FileName:       s.FileName,
		Status:         s.Status,
		TotalChunks:    s.TotalChunks,
		ReceivedChunks: s.ReceivedCount(),
		Progress:       progress,
	}, nil
}

// Sweep removes sessions idle for longer than TTL together with their chunks, plus
// spool directories that no longer belong to any session. It returns the number of
// sessions removed.
func (m *UploadManager) Sweep(ctx context.Context) (int, error) {
	ids, err := m.Sessions.SweepExpired(ctx, m.clock().Add(-m.TTL))
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := m.Chunks.Release(id); err != nil {
			tool.DefaultLogger.Warnf("[Sweep] %v", err)
		}
	}

	orphans, err := m.Chunks.Orphans(func(id string) bool {
		_, err := m.Sessions.Get(ctx, id)
		return !errors.Is(err, types.ErrSessionNotFound)
	})
	if err != nil {
		tool.DefaultLogger.Warnf("[Sweep] failed to scan spool: %v", err)
	}
	for _, id := range orphans {
		if err := m.Chunks.Release(id); err != nil {
			tool.DefaultLogger.Warnf("[Sweep] %v", err)
		}
	}

	m.Metrics.SessionsSwept(len(ids))
	if len(ids) > 0 || len(orphans) > 0 {
		tool.DefaultLogger.Infof("[Sweep] removed %d expired sessions, %d orphaned spool dirs", len(ids), len(orphans))
	}
	return len(ids), nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *UploadManager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				tool.DefaultLogger.Errorf("[Sweep] %v", err)
			}
		}
	}
}

type maxBytesReader struct {
	r         io.Reader
	remaining int64
}

func (m *maxBytesReader) Read(p []byte) (int, error) {
	if m.remaining < 0 {
		return 0, types.ErrChunkTooLarge
	}
	if int64(len(p)) > m.remaining+1 {
		p = p[:m.remaining+1]
	}
	n, err := m.r.Read(p)
	m.remaining -= int64(n)
	if m.remaining < 0 {
		return 0, types.ErrChunkTooLarge
	}
	return n, err
}

// keyedMutex serializes session mutations per upload id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
