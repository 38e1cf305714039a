package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentoven/notechat/internal/executor"
	"github.com/agentoven/notechat/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultMaxToolCallIterations bounds tool rounds per execution.
const DefaultMaxToolCallIterations = 5

// LoopState is the position of a tool loop in its state machine.
type LoopState int

const (
	StateIdle LoopState = iota
	StateAwaitingToolCalls
	StateExecuting
	StateAwaitingFollowUp
	StateExhausted
	StateFailed
)

func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingToolCalls:
		return "awaiting_tool_calls"
	case StateExecuting:
		return "executing"
	case StateAwaitingFollowUp:
		return "awaiting_follow_up"
	case StateExhausted:
		return "exhausted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Messages the loop adds to the history.
const (
	exhaustedMessage = "The maximum number of tool calls for this turn has been reached. " +
		"Do not request any more tools. Answer the user's question as well as you can " +
		"with the information gathered so far, and mention if anything could not be looked up."
	toolFailureMessage = "Tool execution failed: %s. " +
		"Answer the user's question as well as you can without this result, and tell the user what could not be done."
	followUpFailureMessage = "Answering with the tool results failed: %s. " +
		"The tools ran and their results are above. Answer the user's question from them without requesting more tools."
	// unansweredTools replaces an empty recovery answer that still asks for tools.
	unansweredTools = "I couldn't finish looking this up in your notes. Please try again."
)

// loopStep is the immutable state of one loop iteration. Each iteration
// folds the previous step and its tool results into a new step.
type loopStep struct {
	response  *models.ChatResponse
	calls     []models.ToolCall
	messages  []models.Message
	delivered bool // response text already reached the sink as deltas
}

// LoopResult is the outcome of a tool loop run.
type LoopResult struct {
	Response    *models.ChatResponse
	Messages    []models.Message
	Rounds      int // tool execution rounds
	Completions int // follow-up completions issued
	State       LoopState
	// Delivered reports that the final response text was already sent to
	// the sink as deltas.
	Delivered bool
}

// ToolLoop runs tool rounds until the model stops asking for tools or the
// iteration ceiling is reached.
type ToolLoop struct {
	executor      *executor.Executor
	maxIterations int
}

// NewToolLoop creates a loop. maxIterations <= 0 selects the default.
func NewToolLoop(ex *executor.Executor, maxIterations int) *ToolLoop {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxToolCallIterations
	}
	return &ToolLoop{executor: ex, maxIterations: maxIterations}
}

// loopRun carries what stays fixed during one Run.
type loopRun struct {
	stream   *streamManager
	feedback bool
	// complete issues one follow-up completion. It is the pipeline's
	// completion stage so follow-ups are measured like the first call.
	complete func(ctx context.Context, msgs []models.Message, withTools bool) (*models.ChatResponse, error)
}

// Run starts in AwaitingToolCalls with resp, whose tool requests are
// calls, and messages, the history resp answered.
//
// Per iteration the requested tools run and their results are appended;
// then one follow-up completion is issued. Past maxIterations rounds an
// explanatory system message is appended and one final completion runs
// with tools disabled, so at most maxIterations+1 follow-ups are issued.
// A failed round is reported to the model as a system message and
// answered by a single recovery completion, after which the loop exits.
// Cancellation ends the loop without recovery.
func (l *ToolLoop) Run(ctx context.Context, run loopRun, resp *models.ChatResponse, calls []models.ToolCall, messages []models.Message, delivered bool) (*LoopResult, error) {
	step := loopStep{response: resp, calls: calls, messages: messages, delivered: delivered}
	res := &LoopResult{State: StateAwaitingToolCalls}

	finish := func(s loopStep, state LoopState) (*LoopResult, error) {
		res.Response, res.Messages, res.Delivered, res.State = s.response, s.messages, s.delivered, state
		log.Debug().
			Str("state", state.String()).
			Int("rounds", res.Rounds).
			Int("completions", res.Completions).
			Msg("Tool loop finished")
		return res, nil
	}

	for iteration := 1; ; iteration++ {
		if iteration > l.maxIterations {
			log.Warn().
				Int("max_iterations", l.maxIterations).
				Int("pending_calls", len(step.calls)).
				Msg("Tool call limit reached, requesting final answer")
			msgs := appendAssistantText(step.messages, step.response.Text)
			msgs = append(msgs, models.Message{Role: models.RoleSystem, Content: exhaustedMessage})
			next, err := l.followUp(ctx, run, res, msgs, false)
			if err != nil {
				return nil, err
			}
			return finish(next, StateExhausted)
		}

		res.State = StateExecuting
		next, history, err := l.round(ctx, run, res, step)
		if err != nil {
			if ctx.Err() != nil || run.stream.Broken() {
				return nil, err
			}
			return l.recoverRound(ctx, run, res, step.messages, history, err, iteration < l.maxIterations, finish)
		}
		step = next

		if len(step.calls) == 0 {
			return finish(step, StateIdle)
		}
		res.State = StateAwaitingToolCalls
	}
}

// round executes step's tool calls and obtains the follow-up completion.
// When the tools ran but a later step failed, the returned history holds
// the assistant tool call message and the tool results; it is nil when
// the failure happened before any result was recorded.
func (l *ToolLoop) round(ctx context.Context, run loopRun, res *LoopResult, step loopStep) (loopStep, []models.Message, error) {
	var notifyErr error
	results, err := l.executor.ExecuteAll(ctx, step.calls, func(ev models.ToolExecutionEvent) {
		if notifyErr == nil {
			notifyErr = run.stream.Notify(ev)
		}
	})
	if notifyErr != nil {
		return loopStep{}, nil, notifyErr
	}
	if err != nil {
		return loopStep{}, nil, err
	}
	res.Rounds++

	msgs := make([]models.Message, 0, len(step.messages)+len(results)+2)
	msgs = append(msgs, step.messages...)
	msgs = append(msgs, models.Message{
		Role:      models.RoleAssistant,
		Content:   step.response.Text,
		ToolCalls: step.calls,
	})
	for _, r := range results {
		if err := run.stream.Notify(r.Event()); err != nil {
			return loopStep{}, nil, err
		}
		msgs = append(msgs, r.Message())
	}
	if run.feedback {
		msgs = append(msgs, models.Message{Role: models.RoleSystem, Content: executionStatus(results)})
	}

	res.State = StateAwaitingFollowUp
	next, err := l.followUp(ctx, run, res, msgs, true)
	if err != nil {
		return loopStep{}, msgs, err
	}
	return next, msgs, nil
}

// recoverRound answers a failed round with one completion and ends the loop.
// executed is the history including the round's tool results when the
// tools ran; otherwise recovery continues from before the round.
func (l *ToolLoop) recoverRound(ctx context.Context, run loopRun, res *LoopResult, before, executed []models.Message, cause error, withTools bool,
	finish func(loopStep, LoopState) (*LoopResult, error)) (*LoopResult, error) {
	log.Warn().
		Err(cause).
		Bool("tools_ran", executed != nil).
		Bool("tools_enabled", withTools).
		Msg("Tool round failed, requesting recovery answer")

	history, note := before, fmt.Sprintf(toolFailureMessage, cause.Error())
	if executed != nil {
		history, note = executed, fmt.Sprintf(followUpFailureMessage, cause.Error())
	}
	msgs := append(append([]models.Message(nil), history...), models.Message{Role: models.RoleSystem, Content: note})

	next, err := l.followUp(ctx, run, res, msgs, withTools)
	if err != nil {
		return nil, fmt.Errorf("recovery completion: %w", errors.Join(err, cause))
	}
	return finish(settle(next), StateFailed)
}

// settle drops tool requests from a step that ends the loop. A step left
// without any text gets an explanatory answer instead.
func settle(s loopStep) loopStep {
	if len(s.calls) == 0 {
		return s
	}
	log.Warn().Int("calls", len(s.calls)).Msg("Recovery answer requested tools, dropping them")
	snap := *s.response
	snap.ToolCalls = nil
	if strings.TrimSpace(snap.Text) == "" {
		snap.Text = unansweredTools
		s.delivered = false
	}
	s.response, s.calls = &snap, nil
	return s
}

// followUp repairs msgs, issues one completion and folds it into a step.
// A response that comes back as a stream is relayed to the sink.
func (l *ToolLoop) followUp(ctx context.Context, run loopRun, res *LoopResult, msgs []models.Message, withTools bool) (loopStep, error) {
	msgs = repairToolMessages(msgs)
	resp, err := run.complete(ctx, msgs, withTools)
	res.Completions++
	if err != nil {
		return loopStep{}, err
	}

	delivered := false
	if resp.Stream != nil {
		text, err := run.stream.Relay(ctx, resp.Stream)
		if err != nil {
			return loopStep{}, err
		}
		snap := *resp
		snap.Text, snap.Stream = text, nil
		resp = &snap
		delivered = run.stream.Active()
	}

	resp, calls := resolveToolCalls(resp)
	if !withTools {
		calls = nil
	}
	return loopStep{response: resp, calls: calls, messages: msgs, delivered: delivered}, nil
}

// appendAssistantText records text the model produced alongside tool
// requests that will not be executed.
func appendAssistantText(msgs []models.Message, text string) []models.Message {
	out := append([]models.Message(nil), msgs...)
	if strings.TrimSpace(text) != "" {
		out = append(out, models.Message{Role: models.RoleAssistant, Content: text})
	}
	return out
}

// executionStatus summarizes a round for providers that follow up more
// reliably with an explicit status message.
func executionStatus(results []executor.ToolResult) string {
	var b strings.Builder
	b.WriteString("Tool execution status:\n")
	for _, r := range results {
		status := "succeeded"
		if r.IsError {
			status = "failed: " + strings.TrimPrefix(r.Content, "Error: ")
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", r.Name, r.ToolCallID, status)
	}
	b.WriteString("Use these results to answer the user's question.")
	return b.String()
}
