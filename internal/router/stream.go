package router

import (
	"context"
	"sync"

	"github.com/agentoven/notechat/pkg/models"
)

// ── Slice Stream ────────────────────────────────────────────

// SliceStream replays a fixed list of deltas.
type SliceStream struct {
	deltas []string
	pos    int
	err    error
	closed bool
}

// NewSliceStream returns a stream yielding each delta once, in order.
func NewSliceStream(deltas ...string) *SliceStream {
	return &SliceStream{deltas: deltas, pos: -1}
}

// WithError makes the stream report err once the deltas are exhausted.
func (s *SliceStream) WithError(err error) *SliceStream {
	s.err = err
	return s
}

func (s *SliceStream) Next() bool {
	if s.closed || s.pos+1 >= len(s.deltas) {
		s.pos = len(s.deltas)
		return false
	}
	s.pos++
	return true
}

func (s *SliceStream) Current() models.StreamDelta {
	if s.pos < 0 || s.pos >= len(s.deltas) {
		return models.StreamDelta{}
	}
	return models.StreamDelta{Text: s.deltas[s.pos]}
}

func (s *SliceStream) Err() error {
	if s.pos >= len(s.deltas) {
		return s.err
	}
	return nil
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// ── Channel Stream ──────────────────────────────────────────

// chanStream adapts callback-style SDKs to the pull-based DeltaStream.
// The producer runs in its own goroutine and stops when the stream is
// closed or ctx is cancelled.
type chanStream struct {
	ch     chan models.StreamDelta
	errc   chan error
	cancel context.CancelFunc

	cur  models.StreamDelta
	err  error
	done bool
	once sync.Once
}

// produce is called with an emit function; emit blocks until the consumer
// takes the delta and fails once the stream is closed.
func newChanStream(ctx context.Context, produce func(ctx context.Context, emit func(models.StreamDelta) error) error) *chanStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &chanStream{
		ch:     make(chan models.StreamDelta),
		errc:   make(chan error, 1),
		cancel: cancel,
	}
	go func() {
		defer close(s.ch)
		s.errc <- produce(ctx, func(d models.StreamDelta) error {
			select {
			case s.ch <- d:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return s
}

func (s *chanStream) Next() bool {
	if s.done {
		return false
	}
	d, ok := <-s.ch
	if !ok {
		s.done = true
		s.err = <-s.errc
		return false
	}
	s.cur = d
	return true
}

func (s *chanStream) Current() models.StreamDelta { return s.cur }

func (s *chanStream) Err() error { return s.err }

// Close cancels the producer and waits for it to exit.
func (s *chanStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		if !s.done {
			for range s.ch {
			}
			s.done = true
			s.err = <-s.errc
		}
	})
	return nil
}

// Drained reports whether the producer has finished.
func (s *chanStream) Drained() bool { return s.done }
