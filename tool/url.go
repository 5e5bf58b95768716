package tool

import (
	"fmt"
	"net/url"
	"strings"
)

const APIPrefix = "/api/v1"

// BuildAPIURL joins baseURL with an API path such as "/upload/init".
func BuildAPIURL(baseURL, path string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("failed to parse base URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + APIPrefix + path
	return u.String(), nil
}

// BuildFileURL builds /files/:id. Ids are UUIDs and need no escaping.
func BuildFileURL(baseURL, fileId string) (string, error) {
	return BuildAPIURL(baseURL, "/files/"+fileId)
}

// BuildUploadSessionURL builds /upload/:uploadId.
func BuildUploadSessionURL(baseURL, uploadId string) (string, error) {
	return BuildAPIURL(baseURL, "/upload/"+uploadId)
}
