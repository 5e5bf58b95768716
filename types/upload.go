package types

import (
	"slices"
	"time"
)

// UploadStatus is the lifecycle state of a chunked upload session.
type UploadStatus string

const (
	UploadCollecting   UploadStatus = "collecting"
	UploadReassembling UploadStatus = "reassembling"
	UploadComplete     UploadStatus = "complete"
	UploadFailed       UploadStatus = "failed"
)

// UploadSession tracks one logical file transfer split into chunks.
type UploadSession struct {
	UploadId       string       `json:"uploadId"`
	Owner          string       `json:"owner"`
	FileName       string       `json:"fileName"`
	DeclaredSize   int64        `json:"declaredSize"`
	TotalChunks    int          `json:"totalChunks"`
	FileType       string       `json:"fileType"`
	Kind           string       `json:"kind,omitempty"`
	ReceivedChunks []int        `json:"receivedChunks"` // sorted, unique
	Status         UploadStatus `json:"status"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// HasChunk reports whether chunk index has been received.
func (s *UploadSession) HasChunk(index int) bool {
	_, found := slices.BinarySearch(s.ReceivedChunks, index)
	return found
}

// MarkReceived records chunk index. Recording the same index twice is a no-op.
func (s *UploadSession) MarkReceived(index int) {
	pos, found := slices.BinarySearch(s.ReceivedChunks, index)
	if found {
		return
	}
	s.ReceivedChunks = slices.Insert(s.ReceivedChunks, pos, index)
}

func (s *UploadSession) ReceivedCount() int {
	return len(s.ReceivedChunks)
}

// IsFull is true once every declared chunk index is present.
func (s *UploadSession) IsFull() bool {
	return s.TotalChunks > 0 && len(s.ReceivedChunks) == s.TotalChunks
}

// Clone returns a deep copy so callers can mutate without touching cached state.
func (s *UploadSession) Clone() *UploadSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.ReceivedChunks = slices.Clone(s.ReceivedChunks)
	return &cp
}

// InitUploadRequest is the body of POST /upload/init.
type InitUploadRequest struct {
	FileName    string `json:"filename"`
	FileSize    int64  `json:"fileSize"`
	TotalChunks int    `json:"totalChunks"`
	FileType    string `json:"fileType"`
	Kind        string `json:"type,omitempty"` // "chatgpt" forces chat-export parsing
}

type InitUploadResponse struct {
	UploadId string `json:"uploadId"`
}

// CompleteUploadRequest is the body of POST /upload/complete.
type CompleteUploadRequest struct {
	UploadId string `json:"uploadId"`
}

type CompleteUploadResponse struct {
	FileId            string     `json:"fileId"`
	Status            FileStatus `json:"status"`
	TextExtracted     bool       `json:"textExtracted"`
	WordCount         int        `json:"wordCount"`
	ConversationCount *int       `json:"conversationCount,omitempty"`
}

// UploadStatusResponse is returned by GET /upload/:uploadId.
type UploadStatusResponse struct {
	UploadId       string       `json:"uploadId"`
	FileName       string       `json:"fileName"`
	Status         UploadStatus `json:"status"`
	TotalChunks    int          `json:"totalChunks"`
	ReceivedChunks int          `json:"receivedChunks"`
	Progress       int          `json:"progress"` // percent 0-100
}
