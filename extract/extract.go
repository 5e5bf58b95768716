// Package extract turns stored file bytes into searchable text.
package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/moyoez/docdrop/types"
)

// Document is the outcome of one extraction. ConversationCount is set only for
// chat-export bundles.
type Document struct {
	Text              string
	WordCount         int
	ConversationCount *int
}

// Extractor is safe for concurrent use.
type Extractor struct {
	html *bluemonday.Policy
	// MaxEntryBytes bounds a single decompressed ZIP entry.
	MaxEntryBytes int64
}

func New() *Extractor {
	return &Extractor{
		html:          bluemonday.StrictPolicy(),
		MaxEntryBytes: 64 * 1024 * 1024,
	}
}

var zipTypes = map[string]bool{
	"application/zip":              true,
	"application/x-zip-compressed": true,
	"application/x-zip":            true,
}

var textTypes = map[string]bool{
	"application/json":       true,
	"application/xml":        true,
	"application/x-ndjson":   true,
	"application/javascript": true,
	"application/x-yaml":     true,
	"application/yaml":       true,
	"application/csv":        true,
	"application/x-sh":       true,
	"application/x-subrip":   true,
}

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true, ".tsv": true,
	".log": true, ".json": true, ".xml": true, ".yaml": true, ".yml": true,
	".ini": true, ".toml": true, ".html": true, ".htm": true, ".rst": true,
}

// Extract decodes data according to its type. kind == types.KindChatExport forces
// chat-export parsing of a ZIP. Unsupported binary types yield an empty Document and no
// error; a corrupt archive or export is reported as types.ErrExtractionFailure.
func (e *Extractor) Extract(data []byte, fileName, fileType, kind string) (Document, error) {
	ext := strings.ToLower(path.Ext(fileName))
	fileType = strings.ToLower(fileType)

	var (
		text  string
		convs *int
		err   error
	)
	switch {
	case zipTypes[fileType] || ext == ".zip" || kind == types.KindChatExport:
		text, convs, err = e.fromZip(data, kind == types.KindChatExport)
	case isHTML(fileType, ext):
		text = e.stripHTML(decodeText(data))
	case isText(fileType, ext):
		text = decodeText(data)
	default:
		return Document{}, nil
	}
	if err != nil {
		return Document{}, err
	}
	text = strings.TrimSpace(text)
	return Document{
		Text:              text,
		WordCount:         CountWords(text),
		ConversationCount: convs,
	}, nil
}

// CountWords counts whitespace-delimited tokens.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

func (e *Extractor) fromZip(data []byte, forceChat bool) (string, *int, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", types.ErrExtractionFailure, err)
	}

	var (
		manifest  *zip.File
		jsonFiles []*zip.File
		textFiles []*zip.File
	)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || isJunkEntry(f.Name) {
			continue
		}
		name := strings.ToLower(path.Base(f.Name))
		ext := path.Ext(name)
		switch {
		case name == "conversations.json" && manifest == nil:
			manifest = f
		case ext == ".json":
			jsonFiles = append(jsonFiles, f)
			textFiles = append(textFiles, f)
		case textExtensions[ext]:
			textFiles = append(textFiles, f)
		}
	}

	if manifest != nil {
		raw, err := e.readEntry(manifest)
		if err != nil {
			return "", nil, fmt.Errorf("%w: read %s: %v", types.ErrExtractionFailure, manifest.Name, err)
		}
		convs, err := parseConversationsFile(raw)
		if err != nil {
			return "", nil, fmt.Errorf("%w: decode %s: %v", types.ErrExtractionFailure, manifest.Name, err)
		}
		return joinConversations(convs)
	}

	// Bundles without a manifest may hold one conversation per JSON entry.
	convs := make([]string, 0, len(jsonFiles))
	for _, f := range jsonFiles {
		raw, err := e.readEntry(f)
		if err != nil {
			continue
		}
		if text, ok := parseSingleConversation(raw); ok {
			convs = append(convs, text)
		}
	}
	if len(convs) > 0 || forceChat {
		return joinConversations(convs)
	}

	var b strings.Builder
	for _, f := range textFiles {
		raw, err := e.readEntry(f)
		if err != nil {
			return "", nil, fmt.Errorf("%w: read %s: %v", types.ErrExtractionFailure, f.Name, err)
		}
		text := decodeText(raw)
		if ext := strings.ToLower(path.Ext(f.Name)); ext == ".html" || ext == ".htm" {
			text = e.stripHTML(text)
		}
		if text = strings.TrimSpace(text); text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	return b.String(), nil, nil
}

func joinConversations(convs []string) (string, *int, error) {
	n := len(convs)
	return strings.Join(convs, "\n\n"), &n, nil
}

func (e *Extractor) readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	limit := e.MaxEntryBytes
	if limit <= 0 {
		limit = 64 * 1024 * 1024
	}
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("entry %s exceeds %d bytes", f.Name, limit)
	}
	return data, nil
}

func (e *Extractor) stripHTML(s string) string {
	policy := e.html
	if policy == nil {
		policy = bluemonday.StrictPolicy()
	}
	return html.UnescapeString(policy.Sanitize(s))
}

// decodeText interprets data as UTF-8, replacing invalid sequences.
func decodeText(data []byte) string {
	data = trimBOM(data)
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}

func isHTML(fileType, ext string) bool {
	return fileType == "text/html" || fileType == "application/xhtml+xml" || ext == ".html" || ext == ".htm"
}

func isText(fileType, ext string) bool {
	if strings.HasPrefix(fileType, "text/") {
		return true
	}
	if textTypes[fileType] || strings.HasSuffix(fileType, "+json") || strings.HasSuffix(fileType, "+xml") {
		return true
	}
	return textExtensions[ext]
}

// isJunkEntry filters archive metadata written by macOS and similar tools.
func isJunkEntry(name string) bool {
	return strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(path.Base(name), "._")
}
