package router_test

import (
	"context"
	"errors"
	"testing"

	"github.com/agentoven/notechat/internal/config"
	"github.com/agentoven/notechat/internal/router"
	"github.com/agentoven/notechat/pkg/models"
)

// mockDriver is a test ChatDriver.
type mockDriver struct {
	kind     string
	feedback bool
	err      error
	healthy  bool
}

func (d *mockDriver) Kind() string { return d.kind }
func (d *mockDriver) Complete(ctx context.Context, req *models.CompletionRequest) (*models.ChatResponse, error) {
	if d.err != nil {
		return nil, d.err
	}
	return &models.ChatResponse{Text: "mock response from " + d.kind}, nil
}
func (d *mockDriver) SupportsExecutionStatusFeedback() bool { return d.feedback }
func (d *mockDriver) HealthCheck(ctx context.Context) error {
	if !d.healthy {
		return errors.New("down")
	}
	return nil
}

func newTestRouter(t *testing.T) *router.ModelRouter {
	t.Helper()
	return router.NewModelRouter()
}

func TestRegisterConfigured(t *testing.T) {
	mr := newTestRouter(t)

	kinds := mr.RegisterConfigured(config.ProvidersConfig{
		OpenAI:    config.ProviderConfig{APIKey: "sk-test"},
		Anthropic: config.ProviderConfig{APIKey: "sk-ant-test"},
		Ollama:    config.ProviderConfig{BaseURL: "http://localhost:11434"},
	})

	expected := []string{"anthropic", "ollama", "openai"}
	if len(kinds) != len(expected) {
		t.Fatalf("RegisterConfigured() = %v, want %v", kinds, expected)
	}
	for i, exp := range expected {
		if kinds[i] != exp {
			t.Errorf("RegisterConfigured()[%d] = %q, want %q", i, kinds[i], exp)
		}
	}
	if !mr.SupportsExecutionStatusFeedback("ollama") {
		t.Error("ollama driver should support execution status feedback")
	}
	if mr.SupportsExecutionStatusFeedback("openai") {
		t.Error("openai driver should not support execution status feedback")
	}
}

func TestRegisterConfigured_SkipsMissingCredentials(t *testing.T) {
	mr := newTestRouter(t)

	kinds := mr.RegisterConfigured(config.ProvidersConfig{
		OpenAI: config.ProviderConfig{BaseURL: "https://api.openai.com/v1"},
	})
	if len(kinds) != 0 {
		t.Errorf("RegisterConfigured() = %v, want none without credentials", kinds)
	}
}

func TestRegisterAndGetDriver(t *testing.T) {
	mr := newTestRouter(t)

	mr.RegisterDriver(&mockDriver{kind: "test-provider"})

	got := mr.GetDriver("test-provider")
	if got == nil {
		t.Fatal("GetDriver() returned nil for registered driver")
	}
	if got.Kind() != "test-provider" {
		t.Errorf("GetDriver().Kind() = %q, want %q", got.Kind(), "test-provider")
	}
}

func TestGetDriver_NotFound(t *testing.T) {
	mr := newTestRouter(t)

	if got := mr.GetDriver("nonexistent"); got != nil {
		t.Errorf("GetDriver() for nonexistent should return nil, got %v", got)
	}
}

func TestRegisterDriver_Overrides(t *testing.T) {
	mr := newTestRouter(t)
	mr.RegisterConfigured(config.ProvidersConfig{OpenAI: config.ProviderConfig{APIKey: "sk-test"}})

	mr.RegisterDriver(&mockDriver{kind: "openai"})

	resp, err := mr.Complete(context.Background(), &models.CompletionRequest{Provider: "openai", Model: "gpt-4"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Text != "mock response from openai" {
		t.Errorf("Complete().Text = %q, want %q", resp.Text, "mock response from openai")
	}
}

func TestComplete_FillsResponseMetadata(t *testing.T) {
	mr := newTestRouter(t)
	mr.RegisterDriver(&mockDriver{kind: "mock"})

	resp, err := mr.Complete(context.Background(), &models.CompletionRequest{Provider: "mock", Model: "m1"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.ID == "" {
		t.Error("Complete().ID is empty, want generated id")
	}
	if resp.Provider != "mock" || resp.Model != "m1" {
		t.Errorf("Complete() = %s/%s, want mock/m1", resp.Provider, resp.Model)
	}
}

func TestComplete_UnknownProvider(t *testing.T) {
	mr := newTestRouter(t)

	_, err := mr.Complete(context.Background(), &models.CompletionRequest{Provider: "nope"})
	if err == nil {
		t.Fatal("Complete() with unknown provider should fail")
	}
}

func TestComplete_PropagatesDriverError(t *testing.T) {
	mr := newTestRouter(t)
	boom := errors.New("boom")
	mr.RegisterDriver(&mockDriver{kind: "mock", err: boom})

	_, err := mr.Complete(context.Background(), &models.CompletionRequest{Provider: "mock"})
	if !errors.Is(err, boom) {
		t.Errorf("Complete() error = %v, want wrapping %v", err, boom)
	}
}

func TestHealthCheck(t *testing.T) {
	mr := newTestRouter(t)
	mr.RegisterDriver(&mockDriver{kind: "healthy", healthy: true})
	mr.RegisterDriver(&mockDriver{kind: "sick"})

	result := mr.HealthCheck(context.Background())
	if len(result) != 2 {
		t.Fatalf("HealthCheck() returned %d results, want 2", len(result))
	}
	if result[0].Provider != "healthy" || !result[0].Healthy {
		t.Errorf("HealthCheck()[0] = %+v, want healthy", result[0])
	}
	if result[1].Provider != "sick" || result[1].Healthy || result[1].Error == "" {
		t.Errorf("HealthCheck()[1] = %+v, want unhealthy with error", result[1])
	}
}

func TestSliceStream(t *testing.T) {
	boom := errors.New("cut")
	s := router.NewSliceStream("a", "b").WithError(boom)

	var got string
	for s.Next() {
		got += s.Current().Text
	}
	if got != "ab" {
		t.Errorf("stream text = %q, want %q", got, "ab")
	}
	if !errors.Is(s.Err(), boom) {
		t.Errorf("Err() = %v, want %v", s.Err(), boom)
	}
	if s.Next() {
		t.Error("Next() after exhaustion = true, want false")
	}
}
