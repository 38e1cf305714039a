package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/agentoven/notechat/internal/store"
	"github.com/agentoven/notechat/pkg/contracts"
	"github.com/agentoven/notechat/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a store in a temp dir so tests don't write to ~/.notechat/.
func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetNote(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	note := &models.Note{Title: "Trip", Content: "Pack the tent", Mime: "text/plain"}
	require.NoError(t, s.SaveNote(ctx, note))
	require.NotEmpty(t, note.ID)
	created := note.CreatedAt

	got, err := s.GetNote(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, "Trip", got.Title)
	assert.Equal(t, "Pack the tent", got.Content)
	assert.True(t, got.CreatedAt.Equal(created))

	note.Content = "Pack the tent and stove"
	require.NoError(t, s.SaveNote(ctx, note))
	got, err = s.GetNote(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pack the tent and stove", got.Content)
	assert.True(t, got.CreatedAt.Equal(created), "update must keep the creation time")
	assert.False(t, got.UpdatedAt.Before(created))
}

func TestGetNote_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetNote(context.Background(), "missing")

	var nf *contracts.ErrNotFound
	require.True(t, errors.As(err, &nf), "error = %v", err)
	assert.Equal(t, "missing", nf.Key)
}

func TestDeleteNote(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	note := &models.Note{ID: "n1", Title: "x"}
	require.NoError(t, s.SaveNote(ctx, note))
	require.NoError(t, s.DeleteNote(ctx, "n1"))

	var nf *contracts.ErrNotFound
	assert.True(t, errors.As(s.DeleteNote(ctx, "n1"), &nf))
}

func TestListNotes_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveNote(ctx, &models.Note{ID: id, Title: id}))
	}
	// Touch a so it becomes the newest.
	require.NoError(t, s.SaveNote(ctx, &models.Note{ID: "a", Title: "a2"}))

	notes, err := s.ListNotes(ctx, 2)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "a", notes[0].ID)

	all, err := s.ListNotes(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSearchNotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveNote(ctx, &models.Note{ID: "body", Title: "Groceries", Content: "buy Coffee beans"}))
	require.NoError(t, s.SaveNote(ctx, &models.Note{ID: "title", Title: "Coffee brewing", Content: "ratios"}))
	require.NoError(t, s.SaveNote(ctx, &models.Note{ID: "none", Title: "Taxes", Content: "100% done"}))

	hits, err := s.SearchNotes(ctx, "coffee", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "title", hits[0].ID, "title matches rank first")

	hits, err = s.SearchNotes(ctx, "100%", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "none", hits[0].ID)

	hits, err = s.SearchNotes(ctx, "%", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1, "wildcards are matched literally")

	hits, err = s.SearchNotes(ctx, "  ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
