package extract

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/moyoez/docdrop/metrics"
	"github.com/moyoez/docdrop/storage"
	"github.com/moyoez/docdrop/tool"
	"github.com/moyoez/docdrop/types"
)

// Repository is the slice of storage.Store the pipeline writes through.
type Repository interface {
	CreateFile(ctx context.Context, f *types.StoredFile) error
	UpdateStatus(ctx context.Context, id string, status types.FileStatus, errMsg string) error
	SaveDocument(ctx context.Context, doc *types.ExtractedDocument, wordCount int) error
	DeleteFile(ctx context.Context, owner, id string) (*types.StoredFile, error)
}

type Notifier interface {
	Notify(n types.Notification)
}

// Pipeline stores uploaded bytes, records the file and runs extraction.
// Both the chunked complete path and the single-shot process-file path end here.
type Pipeline struct {
	Files     Repository
	Blobs     storage.BlobStore
	Extractor *Extractor
	Notifier  Notifier
	Metrics   *metrics.Metrics
	// Files larger than MaxExtractBytes are stored and marked ready without text.
	MaxExtractBytes int64
}

const sniffLen = 3072

// Ingest consumes r. When req.Size is positive the stream must be exactly that long,
// otherwise the blob is discarded and types.ErrSizeMismatch returned. An extraction
// failure is not an error here: the file stays, with status error.
func (p *Pipeline) Ingest(ctx context.Context, req types.IngestRequest, r io.Reader) (*types.IngestResult, error) {
	start := time.Now()
	defer func() { p.Metrics.ObserveIngest(time.Since(start).Seconds()) }()

	br := bufio.NewReaderSize(r, sniffLen)
	head, _ := br.Peek(sniffLen)
	fileType := tool.DetectFileType(req.FileType, req.FileName, head)

	id := tool.GenerateRandomUUID()
	key := tool.BlobKeyFor(id, req.FileName)
	n, err := p.Blobs.Put(ctx, key, fileType, br)
	if err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}
	if req.Size > 0 && n != req.Size {
		p.dropBlob(key)
		return nil, fmt.Errorf("%w: got %d bytes, declared %d", types.ErrSizeMismatch, n, req.Size)
	}

	file := &types.StoredFile{
		ID:       id,
		Owner:    req.Owner,
		FileName: req.FileName,
		FileSize: n,
		FileType: fileType,
		Status:   types.FileUploaded,
		BlobKey:  key,
	}
	if err := p.Files.CreateFile(ctx, file); err != nil {
		p.dropBlob(key)
		return nil, err
	}
	if err := p.Files.UpdateStatus(ctx, id, types.FileProcessing, ""); err != nil {
		p.abandon(file, err)
		return nil, err
	}

	result := &types.IngestResult{FileID: id}
	doc, extractErr := p.extract(ctx, file, req.Kind)
	if extractErr != nil {
		tool.DefaultLogger.Warnf("[Extract] %s (%s): %v", req.FileName, id, extractErr)
		p.Metrics.Extraction("error")
		if err := p.Files.UpdateStatus(ctx, id, types.FileError, extractErr.Error()); err != nil {
			p.abandon(file, err)
			return nil, err
		}
		result.Status = types.FileError
		p.notify(types.NotifyTypeFileError, file, extractErr.Error())
		return result, nil
	}

	if err := p.Files.SaveDocument(ctx, &types.ExtractedDocument{
		FileID:            id,
		Text:              doc.Text,
		ConversationCount: doc.ConversationCount,
	}, doc.WordCount); err != nil {
		p.abandon(file, err)
		return nil, err
	}
	if doc.Text == "" {
		p.Metrics.Extraction("empty")
	} else {
		p.Metrics.Extraction("ok")
	}

	result.Status = types.FileReady
	result.TextExtracted = doc.Text != ""
	result.WordCount = doc.WordCount
	result.ConversationCount = doc.ConversationCount
	tool.DefaultLogger.Infof("[Extract] %s (%s) ready: %d words", req.FileName, id, doc.WordCount)
	p.notify(types.NotifyTypeFileReady, file, "")
	return result, nil
}

func (p *Pipeline) extract(ctx context.Context, file *types.StoredFile, kind string) (Document, error) {
	if p.MaxExtractBytes > 0 && file.FileSize > p.MaxExtractBytes {
		tool.DefaultLogger.Warnf("[Extract] %s is %d bytes, above the %d byte limit, skipping text", file.FileName, file.FileSize, p.MaxExtractBytes)
		return Document{}, nil
	}
	rc, err := p.Blobs.Open(ctx, file.BlobKey)
	if err != nil {
		return Document{}, fmt.Errorf("%w: open blob: %v", types.ErrExtractionFailure, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return Document{}, fmt.Errorf("%w: read blob: %v", types.ErrExtractionFailure, err)
	}
	ex := p.Extractor
	if ex == nil {
		ex = New()
	}
	return ex.Extract(data, file.FileName, file.FileType, kind)
}

// Remove deletes the owner's file record, its extracted text and its blob.
func (p *Pipeline) Remove(ctx context.Context, owner, id string) error {
	file, err := p.Files.DeleteFile(ctx, owner, id)
	if err != nil {
		return err
	}
	if err := p.Blobs.Delete(ctx, file.BlobKey); err != nil && !errors.Is(err, storage.ErrBlobNotFound) {
		tool.DefaultLogger.Warnf("[Delete] blob %s for %s left behind: %v", file.BlobKey, id, err)
	}
	p.notify(types.NotifyTypeFileDeleted, file, "")
	return nil
}

// abandon undoes a file whose bookkeeping failed after CreateFile, so the caller's error
// leaves nothing half-processed behind. When the record cannot be removed it is marked
// error instead.
func (p *Pipeline) abandon(file *types.StoredFile, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tool.DefaultLogger.Errorf("[Extract] %s (%s) abandoned: %v", file.FileName, file.ID, cause)
	if _, err := p.Files.DeleteFile(ctx, file.Owner, file.ID); err != nil {
		tool.DefaultLogger.Warnf("[Extract] failed to remove record %s: %v", file.ID, err)
		if err := p.Files.UpdateStatus(ctx, file.ID, types.FileError, cause.Error()); err != nil {
			tool.DefaultLogger.Errorf("[Extract] record %s left in an unknown state: %v", file.ID, err)
		}
		return
	}
	p.dropBlob(file.BlobKey)
}

// dropBlob runs detached from the request context, which may be what failed.
func (p *Pipeline) dropBlob(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Blobs.Delete(ctx, key); err != nil {
		tool.DefaultLogger.Warnf("[Extract] failed to discard blob %s: %v", key, err)
	}
}

func (p *Pipeline) notify(kind string, file *types.StoredFile, msg string) {
	if p.Notifier == nil {
		return
	}
	p.Notifier.Notify(types.Notification{
		Type:    kind,
		Title:   file.FileName,
		Message: msg,
		Data: map[string]any{
			"fileId": file.ID,
			"owner":  file.Owner,
		},
	})
}
