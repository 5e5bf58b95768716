package types

import "errors"

var (
	ErrInvalidInit          = errors.New("invalid upload init request")
	ErrSessionNotFound      = errors.New("upload session not found")
	ErrChunkOutOfRange      = errors.New("chunk index out of range")
	ErrChunkTooLarge        = errors.New("chunk exceeds the maximum chunk size")
	ErrTotalChunksMismatch  = errors.New("total chunks does not match session")
	ErrSessionNotCollecting = errors.New("upload session is not collecting chunks")
	ErrIncompleteUpload     = errors.New("upload is incomplete")
	ErrSizeMismatch         = errors.New("reassembled size does not match declared size")
	ErrExtractionFailure    = errors.New("text extraction failed")
	ErrFileNotFound         = errors.New("file not found")
	ErrEmptyQuestion        = errors.New("question must not be empty")
)
