package pipeline

import (
	"github.com/agentoven/notechat/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// emptyToolResult stands in for a tool message without content.
const emptyToolResult = "(no output)"

// resolveToolCalls is the single place that reads tool requests off a
// response. Drivers report them directly in ToolCalls or lazily through
// PendingToolCalls once a stream is drained; a successful non-empty lazy
// result wins. The returned snapshot carries the resolved calls in
// ToolCalls and no lazy accessor, and every call has an ID.
func resolveToolCalls(resp *models.ChatResponse) (*models.ChatResponse, []models.ToolCall) {
	calls := resp.ToolCalls
	if resp.PendingToolCalls != nil {
		pending, err := resp.PendingToolCalls()
		switch {
		case err != nil:
			log.Debug().Err(err).Str("provider", resp.Provider).Msg("Pending tool calls unavailable")
		case len(pending) > 0:
			calls = pending
		}
	}
	calls = ensureCallIDs(calls)

	snap := *resp
	snap.ToolCalls = calls
	snap.PendingToolCalls = nil
	return &snap, calls
}

// ensureCallIDs returns calls with synthetic IDs where a provider sent
// none. The input is not modified.
func ensureCallIDs(calls []models.ToolCall) []models.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]models.ToolCall, len(calls))
	for i, tc := range calls {
		if tc.ID == "" {
			tc.ID = syntheticID()
		}
		if tc.Type == "" {
			tc.Type = "function"
		}
		out[i] = tc
	}
	return out
}

func syntheticID() string {
	return "call_" + uuid.NewString()
}

// repairToolMessages returns a copy of msgs in which every tool message
// carries a call ID and text content. A tool message without an ID is
// matched to an unanswered call of the preceding assistant message, by
// tool name first; if none is left it gets a synthetic ID.
func repairToolMessages(msgs []models.Message) []models.Message {
	out := make([]models.Message, len(msgs))
	copy(out, msgs)

	var open []models.ToolCall
	repaired := 0
	for i := range out {
		m := &out[i]
		switch m.Role {
		case models.RoleAssistant:
			open = append(open[:0:0], m.ToolCalls...)
		case models.RoleTool:
			if m.ToolCallID == "" {
				m.ToolCallID = claimCall(&open, m.Name)
				repaired++
			} else {
				claimByID(&open, m.ToolCallID)
			}
			if m.Content == "" {
				m.Content = emptyToolResult
			}
		}
	}

	if repaired > 0 {
		log.Warn().Int("count", repaired).Msg("Repaired tool messages without call ID")
	}
	return out
}

func claimCall(open *[]models.ToolCall, name string) string {
	calls := *open
	pick := -1
	for i, tc := range calls {
		if tc.Function.Name == name {
			pick = i
			break
		}
	}
	if pick < 0 && len(calls) > 0 {
		pick = 0
	}
	if pick < 0 {
		return syntheticID()
	}
	id := calls[pick].ID
	*open = append(calls[:pick], calls[pick+1:]...)
	if id == "" {
		return syntheticID()
	}
	return id
}

func claimByID(open *[]models.ToolCall, id string) {
	calls := *open
	for i, tc := range calls {
		if tc.ID == id {
			*open = append(calls[:i], calls[i+1:]...)
			return
		}
	}
}
