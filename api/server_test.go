package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/moyoez/docdrop/api/models"
	"github.com/moyoez/docdrop/api/notifyhub"
	"github.com/moyoez/docdrop/extract"
	"github.com/moyoez/docdrop/metrics"
	"github.com/moyoez/docdrop/query"
	"github.com/moyoez/docdrop/storage"
	"github.com/moyoez/docdrop/transfer"
	"github.com/moyoez/docdrop/types"
)

type testServer struct {
	url string
	hub *notifyhub.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := storage.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	blobs, err := storage.NewLocalBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	chunks, err := models.NewChunkStore(t.TempDir())
	if err != nil {
		t.Fatalf("chunk store: %v", err)
	}

	st := storage.NewStore(db)
	hub := notifyhub.New()
	m := metrics.New()
	pipeline := &extract.Pipeline{
		Files:           st,
		Blobs:           blobs,
		Extractor:       extract.New(),
		Notifier:        hub,
		Metrics:         m,
		MaxExtractBytes: 64 << 20,
	}
	uploads := models.NewUploadManager(models.NewMemorySessionStore(time.Hour), chunks, pipeline, types.SessionConfig{
		TTL:           time.Hour,
		MaxChunks:     1000,
		MaxChunkBytes: 6 << 20,
	})
	uploads.Notifier = hub
	uploads.Metrics = m
	engine := query.NewEngine(st, types.QueryConfig{TopK: 3, MinRelevance: 0.05})
	engine.Metrics = m

	srv := NewServer(0, Deps{
		Uploads:  uploads,
		Ingester: pipeline,
		Files:    st,
		Engine:   engine,
		Hub:      hub,
		Metrics:  m,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{url: ts.URL, hub: hub}
}

func noWait(context.Context, time.Duration) error { return nil }

func newUploader(c *transfer.Client) *transfer.Uploader {
	u := transfer.NewUploader(c)
	u.ChunkSize = 5 << 20
	u.Threshold = 1 << 20
	u.Retry.Sleep = noWait
	return u
}

func conversationJSON(title, question, reply string) string {
	return fmt.Sprintf(`{"title": %q, "mapping": {
		"root": {"id": "root", "parent": null, "children": ["q"], "message": null},
		"q": {"id": "q", "parent": "root", "children": ["a"], "message": {"author": {"role": "user"}, "content": {"content_type": "text", "parts": [%q]}}},
		"a": {"id": "a", "parent": "q", "children": [], "message": {"author": {"role": "assistant"}, "content": {"content_type": "text", "parts": [%q]}}}
	}}`, title, question, reply)
}

func chatExportZip(t *testing.T) []byte {
	t.Helper()
	convs := []string{
		conversationJSON("Trip", "where should I travel", "Try Lisbon in spring."),
		conversationJSON("Cooking", "how long to boil eggs", "About nine minutes."),
		conversationJSON("Budget", "how do I save money", "Track every expense."),
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("conversations.json")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	io.WriteString(w, "["+strings.Join(convs, ",")+"]")
	if w, err = zw.Create("user.json"); err != nil {
		t.Fatalf("zip create: %v", err)
	}
	io.WriteString(w, `{"id": "user-1"}`)
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestChunkedUploadOfLargeTextFile(t *testing.T) {
	ts := newTestServer(t)
	client := transfer.NewClient(ts.url, "alice")

	data := bytes.Repeat([]byte("lorem ipsum dolor sit amet "), (12<<20)/27+1)[:12<<20]
	var last transfer.Snapshot
	u := newUploader(client)
	u.OnProgress = func(s transfer.Snapshot) { last = s }

	res, err := u.Upload(context.Background(), transfer.Source{
		Name:   "big.txt",
		Type:   "text/plain",
		Size:   int64(len(data)),
		Reader: bytes.NewReader(data),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Chunks != 3 {
		t.Errorf("expected 3 chunks, got %d", res.Chunks)
	}
	if res.Status != types.FileReady || !res.TextExtracted || res.WordCount <= 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if last.Sent != int64(len(data)) || last.Chunk != 3 || last.Chunks != 3 {
		t.Errorf("unexpected final progress %+v", last)
	}

	files, err := client.ListFiles(context.Background())
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 1 || files[0].FileName != "big.txt" || files[0].FileSize != int64(len(data)) || files[0].Status != types.FileReady {
		t.Errorf("unexpected files %+v", files)
	}

	// the session is forgotten once complete
	var se *transfer.StatusError
	if _, err := client.UploadStatus(context.Background(), res.UploadId); !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Errorf("expected 404 for completed session, got %v", err)
	}
}

func TestChatExportCountsConversations(t *testing.T) {
	ts := newTestServer(t)
	client := transfer.NewClient(ts.url, "alice")
	archive := chatExportZip(t)

	res, err := newUploader(client).Upload(context.Background(), transfer.Source{
		Name:   "chatgpt-export.zip",
		Type:   "application/zip",
		Kind:   types.KindChatExport,
		Size:   int64(len(archive)),
		Reader: bytes.NewReader(archive),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.ConversationCount == nil || *res.ConversationCount != 3 {
		t.Fatalf("expected conversationCount 3, got %v", res.ConversationCount)
	}
	if !res.TextExtracted || res.WordCount == 0 {
		t.Errorf("chat export should produce text, got %+v", res)
	}

	ans, err := client.Query(context.Background(), "boil eggs")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(ans.Sources) != 1 || ans.Sources[0].FileName != "chatgpt-export.zip" {
		t.Errorf("expected the export as source, got %+v", ans.Sources)
	}
}

func TestQueryRefundPolicy(t *testing.T) {
	ts := newTestServer(t)
	client := transfer.NewClient(ts.url, "alice")
	ctx := context.Background()

	for name, text := range map[string]string{
		"terms.txt": "Our refund policy allows returns within 30 days of purchase.",
		"menu.txt":  "Lunch is served from noon. Try the soup of the day.",
	} {
		if _, err := client.ProcessFile(ctx, name, "text/plain", "", strings.NewReader(text)); err != nil {
			t.Fatalf("ProcessFile %s: %v", name, err)
		}
	}

	ans, err := client.Query(ctx, "refund policy")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if ans.TotalFiles != 2 || len(ans.Sources) != 1 || ans.Sources[0].FileName != "terms.txt" {
		t.Fatalf("unexpected answer %+v", ans)
	}
	if score := ans.Sources[0].RelevanceScore; score <= 0 || score > 1 {
		t.Errorf("relevance score out of range: %v", score)
	}
	if !strings.Contains(ans.Answer, "refund policy") {
		t.Errorf("answer should quote the match: %q", ans.Answer)
	}

	// another owner sees nothing
	other, err := transfer.NewClient(ts.url, "bob").Query(ctx, "refund policy")
	if err != nil {
		t.Fatalf("Query as bob: %v", err)
	}
	if other.TotalFiles != 0 || other.Answer != query.NoFilesAnswer {
		t.Errorf("bob should have an empty corpus, got %+v", other)
	}
}

func TestQueryEmptyCorpusAndValidation(t *testing.T) {
	ts := newTestServer(t)
	client := transfer.NewClient(ts.url, "")
	ans, err := client.Query(context.Background(), "anything at all")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if ans.Answer != query.NoFilesAnswer || ans.TotalFiles != 0 || ans.Sources == nil || len(ans.Sources) != 0 {
		t.Errorf("unexpected answer %+v", ans)
	}

	var se *transfer.StatusError
	if _, err := client.Query(context.Background(), "   "); !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		t.Errorf("blank question: expected 400, got %v", err)
	}
}

func TestDeleteFileRemovesFromCorpus(t *testing.T) {
	ts := newTestServer(t)
	client := transfer.NewClient(ts.url, "alice")
	ctx := context.Background()

	resp, err := client.ProcessFile(ctx, "terms.txt", "text/plain", "", strings.NewReader("refund policy"))
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if err := client.DeleteFile(ctx, resp.FileId); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	var se *transfer.StatusError
	if err := client.DeleteFile(ctx, resp.FileId); !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %v", err)
	}
	ans, err := client.Query(ctx, "refund policy")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if ans.TotalFiles != 0 {
		t.Errorf("deleted file still in corpus: %+v", ans)
	}
}

func TestNotifyWebSocketReceivesFileReady(t *testing.T) {
	ts := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.url, "http") + "/api/v1/files/notify-ws?owner=alice"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for ts.hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	client := transfer.NewClient(ts.url, "alice")
	if _, err := client.ProcessFile(context.Background(), "a.txt", "text/plain", "", strings.NewReader("hello")); err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read notification: %v", err)
	}
	var n types.Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		t.Fatalf("decode notification %s: %v", raw, err)
	}
	if n.Type != types.NotifyTypeFileReady || n.Title != "a.txt" {
		t.Errorf("unexpected notification %+v", n)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	client := transfer.NewClient(ts.url, "")
	if _, err := client.Query(context.Background(), "warm up"); err != nil {
		t.Fatalf("Query: %v", err)
	}

	resp, err := http.Get(ts.url + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "docdrop_queries_total") {
		t.Errorf("unexpected metrics response %d: %.200s", resp.StatusCode, body)
	}
}
