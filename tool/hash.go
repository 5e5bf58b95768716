package tool

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

func GenerateRandomUUID() string {
	return uuid.New().String()
}

// IsValidUUID reports whether id parses as a UUID. Upload and file ids are always v4.
func IsValidUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// BlobKeyFor builds the object key for a stored file, keeping the original extension.
func BlobKeyFor(fileId, fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if len(ext) > 16 || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	return "files/" + fileId + ext
}
