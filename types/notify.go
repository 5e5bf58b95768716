package types

const (
	NotifyTypeUploadComplete = "upload_complete"
	NotifyTypeFileReady      = "file_ready"
	NotifyTypeFileError      = "file_error"
	NotifyTypeFileDeleted    = "file_deleted"
)

// Notification represents a notification message structure
type Notification struct {
	Type    string         `json:"type,omitempty"`    // Notification type, e.g. "file_ready", "file_deleted", etc.
	Title   string         `json:"title,omitempty"`   // Notification title
	Message string         `json:"message,omitempty"` // Notification message/content
	Data    map[string]any `json:"data,omitempty"`    // Additional data fields
}
