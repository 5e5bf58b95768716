package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/moyoez/docdrop/tool"
	"github.com/moyoez/docdrop/types"
)

// StatusError is a non-2xx reply from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server replied %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("server replied %d: %s", e.Code, e.Message)
}

// Retryable is true for server-side and throttling failures. Validation errors are final.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// IsRetryable reports whether err may succeed on another attempt. Transport errors are
// retryable, context cancellation is not.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// Client talks to the docdrop HTTP API.
type Client struct {
	BaseURL string
	Owner   string
	HTTP    *http.Client
}

func NewClient(baseURL, owner string) *Client {
	return &Client{BaseURL: baseURL, Owner: owner, HTTP: tool.GetHttpClient()}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return tool.GetHttpClient()
}

func (c *Client) do(ctx context.Context, method, url, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Owner != "" {
		req.Header.Set(tool.OwnerHeader, c.Owner)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("failed to send %s %s: %w", method, url, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			tool.DefaultLogger.Errorf("Failed to close response body: %v", err)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		se := &StatusError{Code: resp.StatusCode}
		var body struct {
			Error string `json:"error"`
		}
		if sonic.Unmarshal(raw, &body) == nil {
			se.Message = body.Error
		}
		return se
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	url, err := tool.BuildAPIURL(c.BaseURL, path)
	if err != nil {
		return err
	}
	var body io.Reader
	contentType := ""
	if in != nil {
		raw, err := sonic.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return c.do(ctx, method, url, contentType, body, out)
}

func (c *Client) InitUpload(ctx context.Context, req types.InitUploadRequest) (string, error) {
	var resp types.InitUploadResponse
	if err := c.doJSON(ctx, http.MethodPost, "/upload/init", req, &resp); err != nil {
		return "", err
	}
	if resp.UploadId == "" {
		return "", errors.New("server returned an empty uploadId")
	}
	return resp.UploadId, nil
}

// SendChunk posts one chunk as multipart form data.
func (c *Client) SendChunk(ctx context.Context, uploadId string, index, totalChunks int, data []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("uploadId", uploadId)
	_ = mw.WriteField("chunkIndex", strconv.Itoa(index))
	_ = mw.WriteField("totalChunks", strconv.Itoa(totalChunks))
	part, err := mw.CreateFormFile("chunk", fmt.Sprintf("chunk-%d", index))
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	url, err := tool.BuildAPIURL(c.BaseURL, "/upload/chunk")
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, url, mw.FormDataContentType(), &buf, nil)
}

func (c *Client) CompleteUpload(ctx context.Context, uploadId string) (*types.CompleteUploadResponse, error) {
	var resp types.CompleteUploadResponse
	if err := c.doJSON(ctx, http.MethodPost, "/upload/complete", types.CompleteUploadRequest{UploadId: uploadId}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) UploadStatus(ctx context.Context, uploadId string) (*types.UploadStatusResponse, error) {
	url, err := tool.BuildUploadSessionURL(c.BaseURL, uploadId)
	if err != nil {
		return nil, err
	}
	var resp types.UploadStatusResponse
	if err := c.do(ctx, http.MethodGet, url, "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) AbortUpload(ctx context.Context, uploadId string) error {
	url, err := tool.BuildUploadSessionURL(c.BaseURL, uploadId)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, url, "", nil, nil)
}

// ProcessFile uploads a small file in one request. The body is streamed through a pipe.
func (c *Client) ProcessFile(ctx context.Context, name, fileType, kind string, r io.Reader) (*types.ProcessFileResponse, error) {
	url, err := tool.BuildAPIURL(c.BaseURL, "/process-file")
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeFilePart(mw, name, fileType, kind, r))
	}()

	var resp types.ProcessFileResponse
	err = c.do(ctx, http.MethodPost, url, mw.FormDataContentType(), pr, &resp)
	pr.Close()
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeFilePart(mw *multipart.Writer, name, fileType, kind string, r io.Reader) error {
	if kind != "" {
		if err := mw.WriteField("type", kind); err != nil {
			return err
		}
	}
	if fileType == "" {
		fileType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(name)))
	h.Set("Content-Type", fileType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

func (c *Client) ListFiles(ctx context.Context) ([]types.StoredFile, error) {
	var files []types.StoredFile
	if err := c.doJSON(ctx, http.MethodGet, "/uploaded-files", nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

func (c *Client) DeleteFile(ctx context.Context, fileId string) error {
	url, err := tool.BuildFileURL(c.BaseURL, fileId)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, url, "", nil, nil)
}

func (c *Client) Query(ctx context.Context, question string) (*types.QueryAnswer, error) {
	var ans types.QueryAnswer
	if err := c.doJSON(ctx, http.MethodPost, "/files/query", types.QueryRequest{Question: question}, &ans); err != nil {
		return nil, err
	}
	return &ans, nil
}
