// Package store provides the knowledge-base persistence for notechat.
//
// Notes live in a single SQLite file under the data directory. The same
// database handle is shared with the embedding maintenance queue so a note
// change and its queue entry are kept side by side.
package store

import (
	"context"
	"database/sql"

	"github.com/agentoven/notechat/pkg/contracts"
)

// Store is the primary storage interface for notes.
// Handler code depends on this interface, so tests can swap in fakes.
type Store interface {
	contracts.NoteStore

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate runs database migrations.
	Migrate(ctx context.Context) error

	// DB exposes the underlying handle for components that keep their own
	// tables in the same database.
	DB() *sql.DB
}
