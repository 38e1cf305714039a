package rag

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/agentoven/notechat/pkg/contracts"
	"github.com/agentoven/notechat/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Ingester keeps a vector store in step with notes: chunk → embed → upsert.
type Ingester struct {
	vectorDB contracts.VectorStoreDriver
	chunker  ChunkerConfig
}

// NewIngester creates a note ingester.
func NewIngester(vs contracts.VectorStoreDriver, chunker ChunkerConfig) *Ingester {
	return &Ingester{vectorDB: vs, chunker: chunker}
}

// IndexResult reports what IndexNote stored.
type IndexResult struct {
	Chunks  int  `json:"chunks"`
	Chunked bool `json:"chunked"`
}

// IndexNote replaces the vectors emb produced for note. Errors while
// embedding a chunked note mention "chunks" so operators can tell partial
// chunking failures from whole-note failures.
func (ing *Ingester) IndexNote(ctx context.Context, emb contracts.EmbeddingDriver, note *models.Note) (*IndexResult, error) {
	start := time.Now()

	text := SanitizeContent(note.Content, note.Mime)
	chunks := ChunkText(text, ing.chunker)
	chunked := len(chunks) > 1

	batchSize := emb.MaxBatchSize()
	if batchSize <= 0 {
		batchSize = 16
	}
	vectors := make([][]float64, 0, len(chunks))
	for i := 0; i < len(chunks); i += batchSize {
		end := min(i+batchSize, len(chunks))
		texts := make([]string, 0, end-i)
		for _, c := range chunks[i:end] {
			texts = append(texts, embeddingText(note.Title, c.Text))
		}
		batch, err := emb.Embed(ctx, texts)
		if err != nil {
			if chunked {
				return nil, fmt.Errorf("embed chunks %d-%d of %d: %w", i, end, len(chunks), err)
			}
			return nil, fmt.Errorf("embed note: %w", err)
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("embed note: got %d vectors for %d texts", len(batch), len(texts))
		}
		vectors = append(vectors, batch...)
	}

	if err := ing.RemoveNote(ctx, note.ID, emb.Kind()); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	docs := make([]models.VectorDoc, len(chunks))
	for i, c := range chunks {
		docs[i] = models.VectorDoc{
			ID:      uuid.NewString(),
			Content: c.Text,
			Metadata: map[string]string{
				models.MetaNoteID:     note.ID,
				models.MetaTitle:      note.Title,
				models.MetaChunkIndex: strconv.Itoa(c.Index),
				models.MetaMime:       note.Mime,
				models.MetaEmbedder:   emb.Kind(),
			},
			Vector:    vectors[i],
			CreatedAt: now,
		}
	}
	if err := ing.vectorDB.Upsert(ctx, docs); err != nil {
		return nil, fmt.Errorf("upsert vectors: %w", err)
	}

	log.Info().
		Str("note_id", note.ID).
		Str("embedder", emb.Kind()).
		Int("chunks", len(docs)).
		Dur("elapsed", time.Since(start)).
		Msg("Note indexed")
	return &IndexResult{Chunks: len(docs), Chunked: chunked}, nil
}

// RemoveNote deletes a note's vectors. An empty embedder removes the
// vectors of every embedder.
func (ing *Ingester) RemoveNote(ctx context.Context, noteID, embedder string) error {
	filter := map[string]string{models.MetaNoteID: noteID}
	if embedder != "" {
		filter[models.MetaEmbedder] = embedder
	}
	if err := ing.vectorDB.Delete(ctx, filter); err != nil {
		return fmt.Errorf("delete vectors of %s: %w", noteID, err)
	}
	return nil
}

// embeddingText prefixes chunk text with the note title so short chunks
// still carry their topic.
func embeddingText(title, text string) string {
	if title == "" {
		return text
	}
	return title + "\n\n" + text
}
