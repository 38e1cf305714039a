// Package vectorstore provides the vector store drivers behind semantic
// note search: embedded (in-memory brute-force), qdrant and pgvector.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/agentoven/notechat/internal/config"
	"github.com/agentoven/notechat/pkg/contracts"
)

// Open creates the backend named by cfg.Backend. dimensions is the
// embedding size, needed by backends with typed vector columns.
func Open(ctx context.Context, cfg config.VectorsConfig, dimensions int) (contracts.VectorStoreDriver, error) {
	switch cfg.Backend {
	case "", "embedded":
		return NewEmbeddedStore(WithMaxVectors(cfg.MaxVectors)), nil
	case "qdrant":
		return NewQdrantStore(ctx, cfg.QdrantHost, cfg.QdrantPort, cfg.Collection, dimensions)
	case "pgvector":
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("pgvector backend needs DATABASE_URL")
		}
		return NewPgvectorStore(ctx, cfg.PostgresURL, dimensions)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}
