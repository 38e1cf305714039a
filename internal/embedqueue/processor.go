package embedqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentoven/notechat/internal/rag"
	"github.com/agentoven/notechat/pkg/contracts"
	"github.com/agentoven/notechat/pkg/models"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultBatchSize is the number of items taken per run.
const DefaultBatchSize = 10

// Indexer writes and removes a note's vectors.
type Indexer interface {
	IndexNote(ctx context.Context, emb contracts.EmbeddingDriver, note *models.Note) (*rag.IndexResult, error)
	RemoveNote(ctx context.Context, noteID, embedder string) error
}

// DriverSource lists the enabled embedding drivers.
type DriverSource interface {
	Drivers() []contracts.EmbeddingDriver
}

// BatchResult summarizes one ProcessBatch run.
type BatchResult struct {
	Processed int `json:"processed"`
	Indexed   int `json:"indexed"`
	Removed   int `json:"removed"`
	Failed    int `json:"failed"`
}

// Processor drains the queue.
type Processor struct {
	queue     *Queue
	notes     contracts.NoteStore
	indexer   Indexer
	drivers   DriverSource
	batchSize int
	limiter   *rate.Limiter

	mu       sync.Mutex
	inflight map[string]struct{}
	cron     *cron.Cron
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithBatchSize sets the number of items per run.
func WithBatchSize(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithRateLimit bounds embedding calls per second across all drivers.
// Zero or less disables limiting.
func WithRateLimit(perSecond float64) ProcessorOption {
	return func(p *Processor) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			p.limiter = nil
		}
	}
}

// NewProcessor creates a processor.
func NewProcessor(q *Queue, notes contracts.NoteStore, indexer Indexer, drivers DriverSource, opts ...ProcessorOption) *Processor {
	p := &Processor{
		queue:     q,
		notes:     notes,
		indexer:   indexer,
		drivers:   drivers,
		batchSize: DefaultBatchSize,
		inflight:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Queue returns the underlying queue.
func (p *Processor) Queue() *Queue { return p.queue }

// ProcessBatch handles up to one batch of pending items.
//
// A DELETE item, or an item whose note no longer exists, has its vectors
// removed and is dequeued. Otherwise the note is indexed with every
// enabled driver; one success dequeues it, and if all drivers fail the
// attempt is recorded and the item released for a later run.
func (p *Processor) ProcessBatch(ctx context.Context) (BatchResult, error) {
	var res BatchResult
	items, err := p.queue.Pending(ctx, p.batchSize)
	if err != nil {
		return res, err
	}

	for _, it := range items {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if !p.begin(it.NoteID) {
			continue
		}
		outcome, err := p.processItem(ctx, it)
		p.end(it.NoteID)
		if err != nil {
			return res, err
		}
		if outcome == outcomeSkipped {
			continue
		}
		res.Processed++
		switch outcome {
		case outcomeIndexed:
			res.Indexed++
		case outcomeRemoved:
			res.Removed++
		case outcomeFailed:
			res.Failed++
		}
	}

	if res.Processed > 0 {
		log.Info().
			Int("processed", res.Processed).
			Int("indexed", res.Indexed).
			Int("removed", res.Removed).
			Int("failed", res.Failed).
			Msg("Embedding batch processed")
	}
	return res, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeIndexed
	outcomeRemoved
	outcomeFailed
)

// processItem returns an error only for queue bookkeeping failures.
func (p *Processor) processItem(ctx context.Context, it models.QueueItem) (outcome, error) {
	claimed, err := p.queue.Claim(ctx, it.NoteID)
	if err != nil || !claimed {
		return outcomeSkipped, err
	}

	var note *models.Note
	if it.Operation != models.OpDelete {
		note, err = p.notes.GetNote(ctx, it.NoteID)
		var nf *contracts.ErrNotFound
		switch {
		case errors.As(err, &nf):
			note = nil
		case err != nil:
			return p.fail(ctx, it.NoteID, fmt.Errorf("load note: %w", err))
		}
	}

	if note == nil {
		if err := p.indexer.RemoveNote(ctx, it.NoteID, ""); err != nil {
			return p.fail(ctx, it.NoteID, fmt.Errorf("remove vectors: %w", err))
		}
		return outcomeRemoved, p.queue.Complete(ctx, it.NoteID)
	}

	drivers := p.drivers.Drivers()
	if len(drivers) == 0 {
		return p.fail(ctx, it.NoteID, errors.New("no embedding providers enabled"))
	}

	var errs []error
	succeeded := 0
	for _, d := range drivers {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return p.fail(ctx, it.NoteID, err)
			}
		}
		start := time.Now()
		r, err := p.indexer.IndexNote(ctx, d, note)
		if err != nil {
			log.Warn().Err(err).Str("note_id", note.ID).Str("embedder", d.Kind()).Msg("Embedding provider failed")
			errs = append(errs, fmt.Errorf("%s: %w", d.Kind(), err))
			continue
		}
		succeeded++
		log.Debug().
			Str("note_id", note.ID).
			Str("embedder", d.Kind()).
			Int("chunks", r.Chunks).
			Dur("elapsed", time.Since(start)).
			Msg("Note embedded")
	}

	if succeeded == 0 {
		return p.fail(ctx, it.NoteID, fmt.Errorf("all providers failed to generate embeddings: %w", errors.Join(errs...)))
	}
	return outcomeIndexed, p.queue.Complete(ctx, it.NoteID)
}

func (p *Processor) fail(ctx context.Context, noteID string, cause error) (outcome, error) {
	// Bookkeeping must land even when the run was cancelled.
	permanent, err := p.queue.Fail(context.WithoutCancel(ctx), noteID, cause)
	if err != nil {
		return outcomeFailed, err
	}
	if permanent {
		log.Error().Err(cause).Str("note_id", noteID).Msg("Note permanently failed embedding")
	} else {
		log.Warn().Err(cause).Str("note_id", noteID).Msg("Note embedding failed, will retry")
	}
	return outcomeFailed, nil
}

// begin marks noteID in flight in this process.
func (p *Processor) begin(noteID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[noteID]; busy {
		return false
	}
	p.inflight[noteID] = struct{}{}
	return true
}

func (p *Processor) end(noteID string) {
	p.mu.Lock()
	delete(p.inflight, noteID)
	p.mu.Unlock()
}

// Failed lists failed items with their note titles.
func (p *Processor) Failed(ctx context.Context, limit int) ([]models.FailedEmbedding, error) {
	items, err := p.queue.Failed(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if n, err := p.notes.GetNote(ctx, items[i].NoteID); err == nil {
			items[i].Title = n.Title
		}
	}
	return items, nil
}

// ── Scheduling ──────────────────────────────────────────────

// Start releases items left processing by a previous run and schedules
// ProcessBatch on spec, a cron expression or descriptor like "@every 10s".
func (p *Processor) Start(ctx context.Context, spec string) error {
	if n, err := p.queue.ReleaseStale(ctx); err != nil {
		return err
	} else if n > 0 {
		log.Warn().Int("items", n).Msg("Released embedding queue items left processing")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		if _, err := p.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Embedding queue run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule embedding queue %q: %w", spec, err)
	}

	p.mu.Lock()
	p.cron = c
	p.mu.Unlock()
	c.Start()
	log.Info().Str("schedule", spec).Int("batch_size", p.batchSize).Msg("Embedding queue processor started")
	return nil
}

// Stop stops scheduling and waits for a running batch to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
		log.Info().Msg("Embedding queue processor stopped")
	}
}
