package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/moyoez/docdrop/types"
)

// Store persists StoredFile and ExtractedDocument records.
type Store struct {
	DB *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

const fileColumns = `id, owner, file_name, file_size, file_type, status, text_extracted, word_count, conversation_count, blob_key, error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*types.StoredFile, error) {
	var (
		f             types.StoredFile
		status        string
		textExtracted bool
		conversations sql.NullInt64
	)
	if err := row.Scan(&f.ID, &f.Owner, &f.FileName, &f.FileSize, &f.FileType, &status, &textExtracted,
		&f.WordCount, &conversations, &f.BlobKey, &f.Error, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.Status = types.FileStatus(status)
	f.TextExtracted = textExtracted
	if conversations.Valid {
		n := int(conversations.Int64)
		f.ConversationCount = &n
	}
	return &f, nil
}

func nullableCount(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

// CreateFile inserts a new file record. CreatedAt/UpdatedAt default to now.
func (s *Store) CreateFile(ctx context.Context, f *types.StoredFile) error {
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	if f.Status == "" {
		f.Status = types.FileUploaded
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO stored_files (`+fileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Owner, f.FileName, f.FileSize, f.FileType, string(f.Status), f.TextExtracted,
		f.WordCount, nullableCount(f.ConversationCount), f.BlobKey, f.Error, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert stored file: %w", err)
	}
	return nil
}

// UpdateStatus moves a file to status, recording errMsg (empty clears it).
// A failed file always has text_extracted cleared.
func (s *Store) UpdateStatus(ctx context.Context, id string, status types.FileStatus, errMsg string) error {
	query := `UPDATE stored_files SET status = ?, error = ?, updated_at = ? WHERE id = ?`
	if status == types.FileError {
		query = `UPDATE stored_files SET status = ?, error = ?, updated_at = ?, text_extracted = 0 WHERE id = ?`
	}
	res, err := s.DB.ExecContext(ctx, query, string(status), errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update file status: %w", err)
	}
	return expectOneRow(res, id)
}

// SaveDocument stores the extracted text and marks the file ready in one transaction.
func (s *Store) SaveDocument(ctx context.Context, doc *types.ExtractedDocument, wordCount int) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save document: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO extracted_documents (file_id, text, conversation_count) VALUES (?, ?, ?)
		 ON CONFLICT(file_id) DO UPDATE SET text = excluded.text, conversation_count = excluded.conversation_count`,
		doc.FileID, doc.Text, nullableCount(doc.ConversationCount)); err != nil {
		return fmt.Errorf("upsert extracted document: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE stored_files SET status = ?, text_extracted = ?, word_count = ?, conversation_count = ?, error = '', updated_at = ? WHERE id = ?`,
		string(types.FileReady), doc.Text != "", wordCount, nullableCount(doc.ConversationCount), time.Now().UTC(), doc.FileID)
	if err != nil {
		return fmt.Errorf("mark file ready: %w", err)
	}
	if err := expectOneRow(res, doc.FileID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetFile(ctx context.Context, owner, id string) (*types.StoredFile, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM stored_files WHERE id = ? AND owner = ?`, id, owner)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrFileNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get stored file: %w", err)
	}
	return f, nil
}

// ListFiles returns the owner's files, newest first.
func (s *Store) ListFiles(ctx context.Context, owner string) ([]*types.StoredFile, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+fileColumns+` FROM stored_files WHERE owner = ? ORDER BY created_at DESC, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("list stored files: %w", err)
	}
	defer rows.Close()

	files := make([]*types.StoredFile, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stored file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stored files: %w", err)
	}
	return files, nil
}

// DeleteFile removes the file and its extracted document, returning the removed record
// so the caller can release the blob.
func (s *Store) DeleteFile(ctx context.Context, owner, id string) (*types.StoredFile, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete file: %w", err)
	}
	defer tx.Rollback()

	f, err := scanFile(tx.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM stored_files WHERE id = ? AND owner = ?`, id, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrFileNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load file for delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM extracted_documents WHERE file_id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete extracted document: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM stored_files WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete stored file: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete file: %w", err)
	}
	return f, nil
}

// ReadyDocuments returns the corpus searched by the query engine for owner.
func (s *Store) ReadyDocuments(ctx context.Context, owner string) ([]types.CorpusDocument, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT f.id, f.file_name, f.file_type, COALESCE(d.text, '')
		 FROM stored_files f LEFT JOIN extracted_documents d ON d.file_id = f.id
		 WHERE f.owner = ? AND f.status = ?
		 ORDER BY f.created_at, f.id`, owner, string(types.FileReady))
	if err != nil {
		return nil, fmt.Errorf("query ready documents: %w", err)
	}
	defer rows.Close()

	docs := make([]types.CorpusDocument, 0)
	for rows.Next() {
		var d types.CorpusDocument
		if err := rows.Scan(&d.FileID, &d.FileName, &d.FileType, &d.Text); err != nil {
			return nil, fmt.Errorf("scan ready document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ready documents: %w", err)
	}
	return docs, nil
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", types.ErrFileNotFound, id)
	}
	return nil
}
