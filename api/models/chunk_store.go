package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/moyoez/docdrop/tool"
)

// ChunkStore spools chunk bytes on disk as <root>/<uploadId>/<index>.part.
// Chunks are staged in the root and renamed into place, so a resend replaces a part whole.
type ChunkStore struct {
	root string
}

func NewChunkStore(root string) (*ChunkStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir %s: %w", root, err)
	}
	// staged files from a previous run can never be committed
	leftover, _ := filepath.Glob(filepath.Join(root, ".stage-*"))
	for _, name := range leftover {
		_ = os.Remove(name)
	}
	return &ChunkStore{root: root}, nil
}

func (c *ChunkStore) dir(uploadId string) string {
	return filepath.Join(c.root, filepath.Base(uploadId))
}

func (c *ChunkStore) partPath(uploadId string, index int) string {
	return filepath.Join(c.dir(uploadId), strconv.Itoa(index)+".part")
}

// Write stores one chunk, overwriting any earlier copy of the same index.
func (c *ChunkStore) Write(ctx context.Context, uploadId string, index int, r io.Reader) (int64, error) {
	staged, n, err := c.Stage(ctx, r)
	if err != nil {
		return n, fmt.Errorf("write chunk %d of %s: %w", index, uploadId, err)
	}
	if err := c.Commit(staged, uploadId, index); err != nil {
		c.Discard(staged)
		return n, err
	}
	return n, nil
}

// Stage spools r to a temp file in the spool root. Nothing under the upload's directory
// changes until Commit.
func (c *ChunkStore) Stage(ctx context.Context, r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(c.root, ".stage-*")
	if err != nil {
		return "", 0, fmt.Errorf("create staging file: %w", err)
	}
	name := tmp.Name()
	n, copyErr := tool.CopyWithContext(ctx, tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(name)
		if copyErr != nil {
			return "", n, copyErr
		}
		return "", n, closeErr
	}
	return name, n, nil
}

// Commit renames a staged file into place as chunk index of uploadId.
func (c *ChunkStore) Commit(staged, uploadId string, index int) error {
	if err := os.MkdirAll(c.dir(uploadId), 0o755); err != nil {
		return fmt.Errorf("create chunk dir of %s: %w", uploadId, err)
	}
	if err := os.Rename(staged, c.partPath(uploadId, index)); err != nil {
		return fmt.Errorf("commit chunk %d of %s: %w", index, uploadId, err)
	}
	return nil
}

// Discard removes a staged file that will not be committed.
func (c *ChunkStore) Discard(staged string) {
	if err := os.Remove(staged); err != nil && !errors.Is(err, os.ErrNotExist) {
		tool.DefaultLogger.Warnf("[Upload] failed to remove staged chunk %s: %v", staged, err)
	}
}

// Size sums the stored bytes of chunks 0..total-1.
func (c *ChunkStore) Size(uploadId string, total int) (int64, error) {
	var sum int64
	for i := 0; i < total; i++ {
		info, err := os.Stat(c.partPath(uploadId, i))
		if err != nil {
			return 0, fmt.Errorf("stat chunk %d of %s: %w", i, uploadId, err)
		}
		sum += info.Size()
	}
	return sum, nil
}

// Reader streams chunks 0..total-1 in index order. Each part is opened lazily.
func (c *ChunkStore) Reader(uploadId string, total int) io.ReadCloser {
	return &partReader{store: c, uploadId: uploadId, total: total}
}

// Release removes every spooled chunk of the upload.
func (c *ChunkStore) Release(uploadId string) error {
	if err := os.RemoveAll(c.dir(uploadId)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release chunks of %s: %w", uploadId, err)
	}
	return nil
}

// Orphans lists spool directories with no entry in known, left behind by a restart.
func (c *ChunkStore) Orphans(known func(uploadId string) bool) ([]string, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0)
	for _, e := range entries {
		if e.IsDir() && !known(e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

type partReader struct {
	store    *ChunkStore
	uploadId string
	total    int
	next     int
	cur      *os.File
}

func (p *partReader) Read(b []byte) (int, error) {
	for {
		if p.cur == nil {
			if p.next >= p.total {
				return 0, io.EOF
			}
			f, err := os.Open(p.store.partPath(p.uploadId, p.next))
			if err != nil {
				return 0, fmt.Errorf("open chunk %d of %s: %w", p.next, p.uploadId, err)
			}
			p.cur = f
			p.next++
		}
		n, err := p.cur.Read(b)
		if errors.Is(err, io.EOF) {
			p.cur.Close()
			p.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (p *partReader) Close() error {
	if p.cur != nil {
		err := p.cur.Close()
		p.cur = nil
		return err
	}
	return nil
}
