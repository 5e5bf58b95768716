package types

import "time"

// FileStatus is the processing state of a stored file.
type FileStatus string

const (
	FileUploaded   FileStatus = "uploaded"
	FileProcessing FileStatus = "processing"
	FileReady      FileStatus = "ready"
	FileError      FileStatus = "error"
)

// KindChatExport marks an upload that must be parsed as a ChatGPT export bundle.
const KindChatExport = "chatgpt"

type StoredFile struct {
	ID                string     `json:"id"`
	Owner             string     `json:"-"`
	FileName          string     `json:"filename"`
	FileSize          int64      `json:"fileSize"`
	FileType          string     `json:"fileType"`
	Status            FileStatus `json:"status"`
	TextExtracted     bool       `json:"textExtracted"`
	WordCount         int        `json:"wordCount"`
	ConversationCount *int       `json:"conversationCount,omitempty"`
	BlobKey           string     `json:"-"`
	Error             string     `json:"error,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// ExtractedDocument holds the searchable text of a StoredFile.
type ExtractedDocument struct {
	FileID            string `json:"fileId"`
	Text              string `json:"text"`
	ConversationCount *int   `json:"conversationCount,omitempty"`
}

// CorpusDocument is a ready document as seen by the query engine.
type CorpusDocument struct {
	FileID   string
	FileName string
	FileType string
	Text     string
}

// IngestRequest describes reassembled bytes handed to the extraction pipeline.
type IngestRequest struct {
	Owner    string
	FileName string
	FileType string
	Size     int64
	Kind     string
}

// IngestResult summarises what the pipeline produced for one file.
type IngestResult struct {
	FileID            string
	Status            FileStatus
	TextExtracted     bool
	WordCount         int
	ConversationCount *int
}

// ProcessFileResponse is returned by the single-shot POST /process-file path.
type ProcessFileResponse struct {
	FileId            string     `json:"fileId"`
	Status            FileStatus `json:"status"`
	WordCount         int        `json:"wordCount"`
	TextExtracted     bool       `json:"textExtracted"`
	ConversationCount *int       `json:"conversationCount,omitempty"`
}
