package rag

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agentoven/notechat/pkg/contracts"
	"github.com/agentoven/notechat/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultMaxResults is the fragment count returned when none is requested.
const DefaultMaxResults = 5

// maxSubQueries bounds what query decomposition may return, the original
// question included.
const maxSubQueries = 4

// ErrNotConfigured is returned when retrieval runs without an embedding
// driver or vector store.
var ErrNotConfigured = errors.New("retrieval is not configured")

// Retriever finds note fragments relevant to a question. It embeds the
// question with one embedding driver and searches the vectors that driver
// produced.
type Retriever struct {
	embeddings contracts.EmbeddingDriver
	vectorDB   contracts.VectorStoreDriver

	// completer is used to decompose questions into sub-queries.
	// Can be nil, in which case questions are searched as given.
	completer         contracts.Completer
	decomposeProvider string
	decomposeModel    string
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithDecomposer enables LLM-assisted query decomposition.
func WithDecomposer(c contracts.Completer, provider, model string) Option {
	return func(r *Retriever) {
		r.completer = c
		r.decomposeProvider = provider
		r.decomposeModel = model
	}
}

// NewRetriever creates a retriever. emb and vs may be nil; FindRelevantNotes
// then reports ErrNotConfigured and the chat pipeline continues without
// context.
func NewRetriever(emb contracts.EmbeddingDriver, vs contracts.VectorStoreDriver, opts ...Option) *Retriever {
	r := &Retriever{embeddings: emb, vectorDB: vs}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Query answers the retrieval endpoint: optional decomposition, search and
// context rendering in one call.
func (r *Retriever) Query(ctx context.Context, req models.RAGQueryRequest) (*models.RAGQueryResult, error) {
	start := time.Now()

	queries := []string{req.Question}
	if req.Decompose {
		queries = r.Decompose(ctx, req.Question)
	}

	frags, err := r.FindRelevantNotes(ctx, queries, req.NoteID, models.RetrievalOptions{
		MaxResults:    req.MaxResults,
		MinSimilarity: req.MinSimilarity,
	})
	if err != nil {
		return nil, err
	}

	return &models.RAGQueryResult{
		Queries:   queries,
		Fragments: frags,
		Context:   FormatContext(frags, req.Question, ""),
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// ── Query Decomposition ─────────────────────────────────────

const decomposePrompt = `Decompose this question into 2-3 simpler sub-questions that can be independently searched. Return only the sub-questions, one per line, no numbering:

Question: %s

Sub-questions:`

// Decompose splits a question into search queries. The original question
// always comes first. Any failure falls back to the question alone.
func (r *Retriever) Decompose(ctx context.Context, query string) []string {
	query = strings.TrimSpace(query)
	if r.completer == nil || query == "" {
		return []string{query}
	}

	resp, err := r.completer.Complete(ctx, &models.CompletionRequest{
		Provider: r.decomposeProvider,
		Model:    r.decomposeModel,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: fmt.Sprintf(decomposePrompt, query)},
		},
	})
	if err != nil {
		log.Warn().Err(err).Msg("Query decomposition failed, using original query")
		return []string{query}
	}

	queries := []string{query}
	seen := map[string]bool{strings.ToLower(query): true}
	for _, sq := range parseSubQueries(resp.Text) {
		key := strings.ToLower(sq)
		if seen[key] {
			continue
		}
		seen[key] = true
		queries = append(queries, sq)
		if len(queries) == maxSubQueries {
			break
		}
	}

	log.Debug().Int("sub_queries", len(queries)-1).Str("query", query).Msg("Query decomposed")
	return queries
}

// ── Vector Search ───────────────────────────────────────────

// FindRelevantNotes embeds every query, searches the vector store and
// merges the hits. A fragment found by several queries keeps its best
// score. A non-empty scope restricts the search to one note's fragments.
func (r *Retriever) FindRelevantNotes(ctx context.Context, queries []string, scope string, opts models.RetrievalOptions) ([]models.NoteFragment, error) {
	if r.embeddings == nil || r.vectorDB == nil {
		return nil, ErrNotConfigured
	}

	var texts []string
	for _, q := range queries {
		if q = strings.TrimSpace(q); q != "" {
			texts = append(texts, q)
		}
	}
	if len(texts) == 0 {
		return nil, nil
	}

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	vectors, err := r.embeddings.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed queries: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed queries: got %d vectors for %d queries", len(vectors), len(texts))
	}

	filter := map[string]string{models.MetaEmbedder: r.embeddings.Kind()}
	if scope != "" {
		filter[models.MetaNoteID] = scope
	}

	best := make(map[string]models.NoteFragment)
	failed := 0
	var lastErr error
	for i, vec := range vectors {
		results, err := r.vectorDB.Search(ctx, vec, maxResults*2, filter)
		if err != nil {
			log.Warn().Err(err).Str("sub_query", texts[i]).Msg("Sub-query search failed, skipping")
			failed++
			lastErr = err
			continue
		}
		for _, res := range results {
			if res.Score < opts.MinSimilarity {
				continue
			}
			if prev, ok := best[res.Doc.ID]; ok && prev.Score >= res.Score {
				continue
			}
			best[res.Doc.ID] = toFragment(res)
		}
	}
	if failed == len(vectors) {
		return nil, fmt.Errorf("vector search: %w", lastErr)
	}

	merged := make([]models.NoteFragment, 0, len(best))
	for _, f := range best {
		merged = append(merged, f)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > maxResults {
		merged = merged[:maxResults]
	}

	log.Info().
		Int("queries", len(texts)).
		Int("fragments", len(merged)).
		Str("scope", scope).
		Msg("Relevant notes found")
	return merged, nil
}

// BuildContext renders fragments for a provider. See FormatContext.
func (r *Retriever) BuildContext(fragments []models.NoteFragment, query, provider string) string {
	return FormatContext(fragments, query, provider)
}

func toFragment(res models.SearchResult) models.NoteFragment {
	meta := res.Doc.Metadata
	idx, _ := strconv.Atoi(meta[models.MetaChunkIndex])
	return models.NoteFragment{
		ID:         res.Doc.ID,
		NoteID:     meta[models.MetaNoteID],
		Title:      meta[models.MetaTitle],
		Content:    res.Doc.Content,
		Mime:       meta[models.MetaMime],
		ChunkIndex: idx,
		Score:      res.Score,
	}
}

// ── Helpers ─────────────────────────────────────────────────

// listMarker matches a bullet ("-", "*", "•") or a numbering prefix
// ("1. ", "2) ") at the start of a line.
var listMarker = regexp.MustCompile(`^(?:[-*•]\s*|\d+[.)](?:\s+|$))`)

// parseSubQueries extracts non-empty lines from LLM response.
func parseSubQueries(text string) []string {
	var queries []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(strings.TrimSpace(line), ""))
		if line != "" {
			queries = append(queries, line)
		}
	}
	return queries
}
