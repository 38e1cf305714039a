package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentoven/notechat/pkg/models"
	"github.com/rs/zerolog/log"
)

// streamManager delivers one execution's output to a stream sink.
//
// All methods are called from the execution's own goroutine, so text
// deltas of one completion and tool notifications are delivered in the
// order they are produced. After the first sink error nothing else is
// delivered. Exactly one Done chunk is sent, by Finish or Fail.
//
// A manager without a sink still drains streams, which lets callers use
// Relay whether or not anyone is listening.
type streamManager struct {
	sink         models.StreamCallback
	model        string
	provider     string
	showThinking bool

	finished bool
	sinkErr  error
	chunks   int
}

func newStreamManager(sink models.StreamCallback, model, provider string, showThinking bool) *streamManager {
	return &streamManager{
		sink:         sink,
		model:        model,
		provider:     provider,
		showThinking: showThinking,
	}
}

// Active reports whether deltas reach a sink.
func (m *streamManager) Active() bool {
	return m.sink != nil
}

func (m *streamManager) send(chunk *models.StreamChunk) error {
	if m.sink == nil {
		return nil
	}
	if m.sinkErr != nil {
		return m.sinkErr
	}
	if m.finished && !chunk.Done {
		return errors.New("stream already finished")
	}
	chunk.Model = m.model
	chunk.Provider = m.provider
	if err := m.sink(chunk); err != nil {
		m.sinkErr = fmt.Errorf("stream sink: %w", err)
		return m.sinkErr
	}
	m.chunks++
	return nil
}

// Broken reports whether the sink has failed.
func (m *streamManager) Broken() bool {
	return m.sinkErr != nil
}

// Relay consumes s, forwarding each normalized delta to the sink, and
// returns the raw accumulated text. The stream is always closed.
func (m *streamManager) Relay(ctx context.Context, s models.DeltaStream) (string, error) {
	defer s.Close()

	var (
		raw    strings.Builder
		filter thinkFilter
		lines  lineFilter
	)
	forward := func(text string) error {
		if !m.showThinking {
			text = filter.Push(text)
		}
		if text = lines.Push(text); text == "" {
			return nil
		}
		return m.send(&models.StreamChunk{Text: text})
	}

	for s.Next() {
		if err := ctx.Err(); err != nil {
			return raw.String(), err
		}
		delta := s.Current()
		raw.WriteString(delta.Text)
		if err := forward(delta.Text); err != nil {
			return raw.String(), err
		}
	}
	if err := s.Err(); err != nil {
		return raw.String(), fmt.Errorf("read stream: %w", err)
	}
	var rest string
	if !m.showThinking {
		rest = filter.Flush()
	}
	if rest = lines.Push(rest) + lines.Flush(); rest != "" {
		if err := m.send(&models.StreamChunk{Text: rest}); err != nil {
			return raw.String(), err
		}
	}
	return raw.String(), nil
}

// Notify sends a tool execution notification.
func (m *streamManager) Notify(ev models.ToolExecutionEvent) error {
	return m.send(&models.StreamChunk{ToolExecution: &ev})
}

// Finish sends the terminal chunk. text is included unless it was already
// delivered as deltas. Calls after the first are no-ops.
func (m *streamManager) Finish(text string, delivered bool) error {
	if m.finished {
		return nil
	}
	m.finished = true
	chunk := &models.StreamChunk{Done: true}
	if !delivered {
		chunk.Text = text
	}
	err := m.send(chunk)
	log.Debug().Int("chunks", m.chunks).Msg("Stream finished")
	return err
}

// Fail terminates the stream with an error chunk unless it already ended
// or the sink itself failed.
func (m *streamManager) Fail(cause error) {
	if m.finished || m.sinkErr != nil {
		return
	}
	m.finished = true
	_ = m.send(&models.StreamChunk{Done: true, Error: cause.Error()})
}
