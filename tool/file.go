package tool

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DetectFileType resolves a MIME type from the declared value, the extension, and
// finally the content head. Parameters such as charset are dropped.
func DetectFileType(declared, fileName string, head []byte) string {
	if t := normalizeMIME(declared); t != "" && t != "application/octet-stream" {
		return t
	}
	if t := normalizeMIME(mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName)))); t != "" {
		return t
	}
	if len(head) > 0 {
		return normalizeMIME(mimetype.Detect(head).String())
	}
	return "application/octet-stream"
}

func normalizeMIME(t string) string {
	t = strings.TrimSpace(t)
	if t == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(t)
	if err != nil {
		return strings.ToLower(t)
	}
	return mediaType
}

// GetFileInfoFromPath reads the name, size and MIME type of a local file.
func GetFileInfoFromPath(filePath string) (string, int64, string, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return "", 0, "", fmt.Errorf("failed to stat file: %v", err)
	}
	if fileInfo.IsDir() {
		return "", 0, "", fmt.Errorf("path is a directory, not a file")
	}
	fileName := filepath.Base(filePath)

	head := make([]byte, 3072)
	f, err := os.Open(filePath)
	if err != nil {
		return "", 0, "", fmt.Errorf("failed to open file: %v", err)
	}
	defer f.Close()
	n, _ := f.Read(head)

	return fileName, fileInfo.Size(), DetectFileType("", fileName, head[:n]), nil
}
