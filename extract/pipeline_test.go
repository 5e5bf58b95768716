package extract

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/moyoez/docdrop/storage"
	"github.com/moyoez/docdrop/types"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []types.Notification
}

func (r *recordingNotifier) Notify(n types.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, n)
}

func (r *recordingNotifier) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestPipeline(t *testing.T) (*Pipeline, *storage.Store, *recordingNotifier) {
	t.Helper()
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
	st := storage.NewStore(db)
	n := &recordingNotifier{}
	return &Pipeline{Files: st, Blobs: blobs, Extractor: New(), Notifier: n}, st, n
}

func TestPipelineIngestText(t *testing.T) {
	ctx := context.Background()
	p, st, n := newTestPipeline(t)

	body := "our refund policy lasts thirty days"
	res, err := p.Ingest(ctx, types.IngestRequest{Owner: "o", FileName: "policy.txt", Size: int64(len(body))}, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Status != types.FileReady || !res.TextExtracted || res.WordCount != 6 {
		t.Errorf("unexpected result %+v", res)
	}

	f, err := st.GetFile(ctx, "o", res.FileID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if f.FileType != "text/plain" {
		t.Errorf("file type should be detected from extension, got %q", f.FileType)
	}
	if got := n.kinds(); len(got) != 1 || got[0] != types.NotifyTypeFileReady {
		t.Errorf("unexpected notifications %v", got)
	}
}

func TestPipelineSizeMismatchDiscardsFile(t *testing.T) {
	ctx := context.Background()
	p, st, _ := newTestPipeline(t)

	_, err := p.Ingest(ctx, types.IngestRequest{Owner: "o", FileName: "a.txt", Size: 100}, strings.NewReader("short"))
	if !errors.Is(err, types.ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	files, _ := st.ListFiles(ctx, "o")
	if len(files) != 0 {
		t.Errorf("no record should be created on size mismatch, got %d", len(files))
	}
}

func TestPipelineExtractionFailureKeepsFile(t *testing.T) {
	ctx := context.Background()
	p, st, n := newTestPipeline(t)

	res, err := p.Ingest(ctx, types.IngestRequest{Owner: "o", FileName: "export.zip", FileType: "application/zip"}, strings.NewReader("not a zip"))
	if err != nil {
		t.Fatalf("extraction failure must not fail ingest: %v", err)
	}
	if res.Status != types.FileError || res.TextExtracted {
		t.Errorf("unexpected result %+v", res)
	}
	f, err := st.GetFile(ctx, "o", res.FileID)
	if err != nil {
		t.Fatalf("file must survive a failed extraction: %v", err)
	}
	if f.Status != types.FileError || f.Error == "" {
		t.Errorf("unexpected stored file %+v", f)
	}
	if got := n.kinds(); len(got) != 1 || got[0] != types.NotifyTypeFileError {
		t.Errorf("unexpected notifications %v", got)
	}
}

func TestPipelineSkipsTextAboveLimit(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newTestPipeline(t)
	p.MaxExtractBytes = 4

	res, err := p.Ingest(ctx, types.IngestRequest{Owner: "o", FileName: "big.txt"}, strings.NewReader("more than four bytes"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Status != types.FileReady || res.TextExtracted {
		t.Errorf("oversized file should be ready without text, got %+v", res)
	}
}

func TestPipelineRemove(t *testing.T) {
	ctx := context.Background()
	p, st, n := newTestPipeline(t)

	res, err := p.Ingest(ctx, types.IngestRequest{Owner: "o", FileName: "a.txt"}, strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := p.Remove(ctx, "other", res.FileID); !errors.Is(err, types.ErrFileNotFound) {
		t.Errorf("another owner must not delete the file, got %v", err)
	}
	if err := p.Remove(ctx, "o", res.FileID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := st.GetFile(ctx, "o", res.FileID); !errors.Is(err, types.ErrFileNotFound) {
		t.Errorf("file still present after remove: %v", err)
	}
	got := n.kinds()
	if got[len(got)-1] != types.NotifyTypeFileDeleted {
		t.Errorf("expected file_deleted notification, got %v", got)
	}
}

// flakyRepository fails selected writes of an otherwise real store.
type flakyRepository struct {
	*storage.Store
	saveErr   error
	deleteErr error
}

func (r *flakyRepository) SaveDocument(ctx context.Context, doc *types.ExtractedDocument, wordCount int) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	return r.Store.SaveDocument(ctx, doc, wordCount)
}

func (r *flakyRepository) DeleteFile(ctx context.Context, owner, id string) (*types.StoredFile, error) {
	if r.deleteErr != nil {
		return nil, r.deleteErr
	}
	return r.Store.DeleteFile(ctx, owner, id)
}

func countBlobs(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk blobs: %v", err)
	}
	return n
}

func newFlakyPipeline(t *testing.T, repo *flakyRepository) (*Pipeline, string) {
	t.Helper()
	p, st, _ := newTestPipeline(t)
	repo.Store = st
	root := t.TempDir()
	blobs, err := storage.NewLocalBlobStore(root)
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	p.Files = repo
	p.Blobs = blobs
	return p, root
}

func TestPipelineFailedSaveLeavesNoRecord(t *testing.T) {
	ctx := context.Background()
	diskFull := errors.New("disk full")
	repo := &flakyRepository{saveErr: diskFull}
	p, root := newFlakyPipeline(t, repo)

	_, err := p.Ingest(ctx, types.IngestRequest{Owner: "o", FileName: "notes.txt"}, strings.NewReader("some words here"))
	if !errors.Is(err, diskFull) {
		t.Fatalf("expected the save error, got %v", err)
	}
	files, err := repo.ListFiles(ctx, "o")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("failed save left %d record(s), first status %s", len(files), files[0].Status)
	}
	if n := countBlobs(t, root); n != 0 {
		t.Errorf("failed save left %d blob(s)", n)
	}
}

func TestPipelineFailedSaveMarksErrorWhenRecordStays(t *testing.T) {
	ctx := context.Background()
	repo := &flakyRepository{saveErr: errors.New("disk full"), deleteErr: errors.New("locked")}
	p, _ := newFlakyPipeline(t, repo)

	if _, err := p.Ingest(ctx, types.IngestRequest{Owner: "o", FileName: "notes.txt"}, strings.NewReader("some words here")); err == nil {
		t.Fatal("expected Ingest to fail")
	}
	files, err := repo.ListFiles(ctx, "o")
	if err != nil || len(files) != 1 {
		t.Fatalf("expected the undeletable record to remain, got %d, %v", len(files), err)
	}
	if f := files[0]; f.Status != types.FileError || f.TextExtracted || f.Error == "" {
		t.Errorf("record not settled as error: %+v", f)
	}
}
