// Package transfer is the client side of the chunked upload protocol.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/moyoez/docdrop/tool"
	"github.com/moyoez/docdrop/types"
)

// API is the server surface the uploader needs. *Client implements it.
type API interface {
	InitUpload(ctx context.Context, req types.InitUploadRequest) (string, error)
	SendChunk(ctx context.Context, uploadId string, index, totalChunks int, data []byte) error
	CompleteUpload(ctx context.Context, uploadId string) (*types.CompleteUploadResponse, error)
	AbortUpload(ctx context.Context, uploadId string) error
	ProcessFile(ctx context.Context, name, fileType, kind string, r io.Reader) (*types.ProcessFileResponse, error)
}

// Source is a file to upload. Reader must allow reads at arbitrary offsets so a failed
// chunk can be re-read.
type Source struct {
	Name   string
	Type   string
	Kind   string // "chatgpt" forces chat-export parsing
	Size   int64
	Reader io.ReaderAt
}

type Result struct {
	FileId            string
	Status            types.FileStatus
	TextExtracted     bool
	WordCount         int
	ConversationCount *int
	UploadId          string // empty for single-shot uploads
	Chunks            int
}

// ChunkError reports a chunk that could not be delivered.
type ChunkError struct {
	Index    int
	Attempts int
	Err      error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d failed after %d attempt(s): %v", e.Index, e.Attempts, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

type Uploader struct {
	API       API
	ChunkSize int64
	// Files of at least Threshold bytes are chunked.
	Threshold  int64
	Retry      RetryPolicy
	OnProgress func(Snapshot)
	now        func() time.Time
}

func NewUploader(api API) *Uploader {
	return &Uploader{
		API:       api,
		ChunkSize: tool.DefaultChunkSize,
		Threshold: tool.DefaultChunkThreshold,
		Retry:     DefaultRetryPolicy,
	}
}

// ChunkCount is ceil(size/chunkSize).
func ChunkCount(size, chunkSize int64) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// ChunkRange returns the half-open byte range [start, end) of chunk i.
func ChunkRange(i int, size, chunkSize int64) (int64, int64) {
	start := int64(i) * chunkSize
	return start, min(size, start+chunkSize)
}

func (u *Uploader) clock() func() time.Time {
	if u.now != nil {
		return u.now
	}
	return time.Now
}

// Upload sends src, chunked when it reaches the threshold. The context is checked
// between chunks; a cancelled or failed chunked upload is aborted on the server.
func (u *Uploader) Upload(ctx context.Context, src Source) (*Result, error) {
	if src.Reader == nil {
		return nil, errors.New("invalid source: reader must not be nil")
	}
	if src.Size <= 0 {
		return nil, errors.New("invalid source: size must be positive")
	}
	if u.Threshold > 0 && src.Size < u.Threshold {
		return u.uploadSingle(ctx, src)
	}
	return u.uploadChunked(ctx, src)
}

func (u *Uploader) uploadSingle(ctx context.Context, src Source) (*Result, error) {
	progress := newProgressAt(src.Size, u.clock())
	var resp *types.ProcessFileResponse
	_, err := u.Retry.Do(ctx, func(int) error {
		var err error
		resp, err = u.API.ProcessFile(ctx, src.Name, src.Type, src.Kind, io.NewSectionReader(src.Reader, 0, src.Size))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", src.Name, err)
	}
	u.report(progress.Add(src.Size))
	return &Result{
		FileId:            resp.FileId,
		Status:            resp.Status,
		TextExtracted:     resp.TextExtracted,
		WordCount:         resp.WordCount,
		ConversationCount: resp.ConversationCount,
	}, nil
}

func (u *Uploader) uploadChunked(ctx context.Context, src Source) (*Result, error) {
	chunkSize := u.ChunkSize
	if chunkSize <= 0 {
		chunkSize = tool.DefaultChunkSize
	}
	total := ChunkCount(src.Size, chunkSize)

	uploadId, err := u.API.InitUpload(ctx, types.InitUploadRequest{
		FileName:    src.Name,
		FileSize:    src.Size,
		TotalChunks: total,
		FileType:    src.Type,
		Kind:        src.Kind,
	})
	if err != nil {
		return nil, fmt.Errorf("init upload of %s: %w", src.Name, err)
	}
	tool.DefaultLogger.Debugf("[Upload] %s: session %s, %d chunks of %d bytes", src.Name, uploadId, total, chunkSize)

	progress := newProgressAt(src.Size, u.clock())
	buf := make([]byte, chunkSize)
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			u.abort(uploadId)
			return nil, fmt.Errorf("upload of %s cancelled before chunk %d: %w", src.Name, i, err)
		}
		start, end := ChunkRange(i, src.Size, chunkSize)
		data := buf[:end-start]
		if n, err := src.Reader.ReadAt(data, start); n < len(data) {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			u.abort(uploadId)
			return nil, fmt.Errorf("read chunk %d of %s: %w", i, src.Name, err)
		}

		attempts, err := u.Retry.Do(ctx, func(attempt int) error {
			if attempt > 1 {
				tool.DefaultLogger.Warnf("[Upload] retrying chunk %d of %s (attempt %d)", i, src.Name, attempt)
			}
			return u.API.SendChunk(ctx, uploadId, i, total, data)
		})
		if err != nil {
			u.abort(uploadId)
			return nil, &ChunkError{Index: i, Attempts: attempts, Err: err}
		}
		snap := progress.Add(end - start)
		snap.Chunk, snap.Chunks = i+1, total
		u.report(snap)
	}

	resp, err := u.API.CompleteUpload(ctx, uploadId)
	if err != nil {
		return nil, fmt.Errorf("complete upload of %s: %w", src.Name, err)
	}
	return &Result{
		FileId:            resp.FileId,
		Status:            resp.Status,
		TextExtracted:     resp.TextExtracted,
		WordCount:         resp.WordCount,
		ConversationCount: resp.ConversationCount,
		UploadId:          uploadId,
		Chunks:            total,
	}, nil
}

func (u *Uploader) report(s Snapshot) {
	if u.OnProgress != nil {
		u.OnProgress(s)
	}
}

// abort is best effort; the server sweeper reclaims anything left behind.
func (u *Uploader) abort(uploadId string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := u.API.AbortUpload(ctx, uploadId); err != nil {
		tool.DefaultLogger.Debugf("[Upload] abort %s: %v", uploadId, err)
	}
}
