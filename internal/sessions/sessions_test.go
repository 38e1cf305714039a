package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentoven/notechat/pkg/contracts"
	"github.com/agentoven/notechat/pkg/models"
)

func TestAppendTurn(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()
	sess := s.CreateSession(ctx, "Trip planning", "n1")

	got, err := s.AppendTurn(ctx, sess.ID,
		models.Message{Role: models.RoleUser, Content: "where?"},
		models.Message{Role: models.RoleAssistant, Content: "Norway"})
	if err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	if got.TurnCount != 1 || len(got.Messages) != 2 {
		t.Errorf("session = %+v, want 1 turn with 2 messages", got)
	}

	// Returned sessions are copies.
	got.Messages[0].Content = "changed"
	again, _ := s.GetSession(ctx, sess.ID)
	if again.Messages[0].Content != "where?" {
		t.Error("caller mutation leaked into the store")
	}
}

func TestAppendTurn_CapsHistory(t *testing.T) {
	s := NewMemorySessionStore()
	s.maxMessages = 3
	ctx := context.Background()
	sess := s.CreateSession(ctx, "", "")

	for _, c := range []string{"1", "2", "3", "4"} {
		_, _ = s.AppendTurn(ctx, sess.ID, models.Message{Role: models.RoleUser, Content: c})
	}
	got, _ := s.GetSession(ctx, sess.ID)
	if len(got.Messages) != 3 || got.Messages[0].Content != "2" {
		t.Errorf("messages = %+v, want the last three", got.Messages)
	}
}

func TestNotFound(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()
	var nf *contracts.ErrNotFound

	if _, err := s.GetSession(ctx, "x"); !errors.As(err, &nf) {
		t.Errorf("GetSession() error = %v, want not found", err)
	}
	if _, err := s.AppendTurn(ctx, "x"); !errors.As(err, &nf) {
		t.Errorf("AppendTurn() error = %v, want not found", err)
	}
	if err := s.DeleteSession(ctx, "x"); !errors.As(err, &nf) {
		t.Errorf("DeleteSession() error = %v, want not found", err)
	}
}

func TestPrune(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	old := s.CreateSession(ctx, "old", "")
	clock = clock.Add(2 * time.Hour)
	fresh := s.CreateSession(ctx, "fresh", "")

	if n := s.Prune(time.Hour); n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
	if _, err := s.GetSession(ctx, old.ID); err == nil {
		t.Error("old session survived pruning")
	}
	if _, err := s.GetSession(ctx, fresh.ID); err != nil {
		t.Errorf("fresh session pruned: %v", err)
	}

	list := s.ListSessions(ctx)
	if len(list) != 1 || list[0].ID != fresh.ID {
		t.Errorf("ListSessions() = %+v", list)
	}
}
