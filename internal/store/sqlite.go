package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentoven/notechat/pkg/contracts"
	"github.com/agentoven/notechat/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

// timeLayout has fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store on a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and migrates it.
// The special path ":memory:" gives a private in-memory database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: SQLite has a single writer and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	log.Info().Str("path", path).Msg("Note store opened")
	return s, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		PRAGMA journal_mode = WAL;

		CREATE TABLE IF NOT EXISTS notes (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL DEFAULT '',
			content    TEXT NOT NULL DEFAULT '',
			mime       TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_notes_updated_at ON notes(updated_at);
	`)
	return err
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLiteStore) Close() error                   { return s.db.Close() }
func (s *SQLiteStore) DB() *sql.DB                    { return s.db }

// ── Notes ───────────────────────────────────────────────────

func (s *SQLiteStore) GetNote(ctx context.Context, id string) (*models.Note, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, content, mime, created_at, updated_at FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &contracts.ErrNotFound{Entity: "note", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get note %s: %w", id, err)
	}
	return n, nil
}

func (s *SQLiteStore) ListNotes(ctx context.Context, limit int) ([]models.Note, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content, mime, created_at, updated_at FROM notes
		 ORDER BY updated_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return collectNotes(rows)
}

// SaveNote inserts or replaces a note. A missing ID is generated and the
// timestamps are maintained here.
func (s *SQLiteStore) SaveNote(ctx context.Context, note *models.Note) error {
	now := time.Now().UTC()
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, title, content, mime, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			mime = excluded.mime,
			updated_at = excluded.updated_at`,
		note.ID, note.Title, note.Content, note.Mime,
		note.CreatedAt.Format(timeLayout), note.UpdatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save note %s: %w", note.ID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteNote(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete note %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &contracts.ErrNotFound{Entity: "note", Key: id}
	}
	return nil
}

// SearchNotes matches term case-insensitively against titles and content.
// Title matches rank first.
func (s *SQLiteStore) SearchNotes(ctx context.Context, term string, limit int) ([]models.Note, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, mime, created_at, updated_at FROM notes
		WHERE lower(title) LIKE ?1 ESCAPE '\' OR lower(content) LIKE ?1 ESCAPE '\'
		ORDER BY (lower(title) LIKE ?1 ESCAPE '\') DESC, updated_at DESC
		LIMIT ?2`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search notes: %w", err)
	}
	return collectNotes(rows)
}

// ── Helpers ─────────────────────────────────────────────────

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(r scanner) (*models.Note, error) {
	var n models.Note
	var created, updated string
	if err := r.Scan(&n.ID, &n.Title, &n.Content, &n.Mime, &created, &updated); err != nil {
		return nil, err
	}
	n.CreatedAt, _ = time.Parse(timeLayout, created)
	n.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return &n, nil
}

func collectNotes(rows *sql.Rows) ([]models.Note, error) {
	defer rows.Close()
	var notes []models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, *n)
	}
	return notes, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
