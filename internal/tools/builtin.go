package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentoven/notechat/pkg/contracts"
	"github.com/agentoven/notechat/pkg/models"
	"github.com/rs/zerolog/log"
)

// SourceBuiltin marks tools registered by RegisterBuiltins.
const SourceBuiltin = "builtin"

// noteSummary is what list and keyword tools return per note.
type noteSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	UpdatedAt string `json:"updated_at,omitempty"`
	Preview   string `json:"preview,omitempty"`
}

// searchHit is what search_notes returns per fragment.
type searchHit struct {
	NoteID  string  `json:"note_id"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// RegisterBuiltins registers the knowledge-base tools. retriever may be nil,
// in which case search_notes falls back to keyword search.
func RegisterBuiltins(reg *Registry, notes contracts.NoteStore, retriever contracts.ContextRetriever) error {
	if notes == nil {
		return errors.New("register builtin tools: note store is required")
	}

	defs := []struct {
		name    string
		desc    string
		params  []Param
		handler Handler
	}{
		{
			name: "search_notes",
			desc: "Semantic search over the user's notes. Returns the most relevant note fragments for a query.",
			params: []Param{
				{Name: "query", Type: "string", Description: "What to search for", Required: true},
				{Name: "note_id", Type: "string", Description: "Restrict the search to one note and its fragments"},
				{Name: "max_results", Type: "integer", Description: "Maximum number of fragments to return (default 5)"},
			},
			handler: searchNotes(notes, retriever),
		},
		{
			name: "read_note",
			desc: "Read the full content of a note by its ID.",
			params: []Param{
				{Name: "note_id", Type: "string", Description: "ID of the note to read", Required: true},
			},
			handler: readNote(notes),
		},
		{
			name: "list_notes",
			desc: "List the most recently updated notes with their IDs and titles.",
			params: []Param{
				{Name: "limit", Type: "integer", Description: "Maximum number of notes to list (default 20)"},
			},
			handler: listNotes(notes),
		},
		{
			name: "keyword_search",
			desc: "Find notes whose title or content contains a keyword.",
			params: []Param{
				{Name: "keyword", Type: "string", Description: "Keyword to look for", Required: true},
				{Name: "limit", Type: "integer", Description: "Maximum number of notes to return (default 10)"},
			},
			handler: keywordSearch(notes),
		},
	}

	for _, d := range defs {
		if err := reg.Register(SourceBuiltin, NewTool(d.name, d.desc, d.params...), d.handler); err != nil {
			return err
		}
	}
	log.Info().Int("count", len(defs)).Msg("Built-in note tools registered")
	return nil
}

func searchNotes(notes contracts.NoteStore, retriever contracts.ContextRetriever) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		query := StringArg(args, "query")
		if query == "" {
			return nil, errors.New("query is required")
		}
		limit := IntArg(args, "max_results", 5)

		if retriever != nil {
			frags, err := retriever.FindRelevantNotes(ctx, []string{query}, StringArg(args, "note_id"),
				models.RetrievalOptions{MaxResults: limit})
			if err == nil && len(frags) > 0 {
				hits := make([]searchHit, 0, len(frags))
				for _, f := range frags {
					hits = append(hits, searchHit{NoteID: f.NoteID, Title: f.Title, Content: f.Content, Score: f.Score})
				}
				return hits, nil
			}
			if err != nil {
				log.Warn().Err(err).Str("query", query).Msg("Semantic search failed, using keyword search")
			}
		}

		found, err := notes.SearchNotes(ctx, query, limit)
		if err != nil {
			return nil, fmt.Errorf("keyword search: %w", err)
		}
		if len(found) == 0 {
			return "No notes matched the query.", nil
		}
		hits := make([]searchHit, 0, len(found))
		for _, n := range found {
			hits = append(hits, searchHit{NoteID: n.ID, Title: n.Title, Content: preview(n.Content, 500)})
		}
		return hits, nil
	}
}

func readNote(notes contracts.NoteStore) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		id := StringArg(args, "note_id")
		if id == "" {
			return nil, errors.New("note_id is required")
		}
		note, err := notes.GetNote(ctx, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"id":         note.ID,
			"title":      note.Title,
			"content":    note.Content,
			"updated_at": note.UpdatedAt.Format("2006-01-02 15:04"),
		}, nil
	}
}

func listNotes(notes contracts.NoteStore) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		list, err := notes.ListNotes(ctx, IntArg(args, "limit", 20))
		if err != nil {
			return nil, fmt.Errorf("list notes: %w", err)
		}
		return summarize(list, 0), nil
	}
}

func keywordSearch(notes contracts.NoteStore) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		keyword := StringArg(args, "keyword")
		if keyword == "" {
			return nil, errors.New("keyword is required")
		}
		found, err := notes.SearchNotes(ctx, keyword, IntArg(args, "limit", 10))
		if err != nil {
			return nil, fmt.Errorf("keyword search: %w", err)
		}
		if len(found) == 0 {
			return fmt.Sprintf("No notes contain %q.", keyword), nil
		}
		return summarize(found, 200), nil
	}
}

func summarize(notes []models.Note, previewLen int) []noteSummary {
	out := make([]noteSummary, 0, len(notes))
	for _, n := range notes {
		s := noteSummary{ID: n.ID, Title: n.Title}
		if !n.UpdatedAt.IsZero() {
			s.UpdatedAt = n.UpdatedAt.Format("2006-01-02 15:04")
		}
		if previewLen > 0 {
			s.Preview = preview(n.Content, previewLen)
		}
		out = append(out, s)
	}
	return out
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
