package insight

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/confab/pkg/provider/llm"
	llmmock "github.com/MrWong99/confab/pkg/provider/llm/mock"
)

func newTestClient(t *testing.T, p llm.Provider) *Client {
	t.Helper()
	c, err := NewClient(p, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_NilProvider(t *testing.T) {
	if _, err := NewClient(nil, nil); err == nil {
		t.Fatal("expected error for nil provider")
	}
}

func TestSummary_ReturnsContent(t *testing.T) {
	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "  - budget due friday\n"},
	}
	c := newTestClient(t, p)

	got, ok := c.Summary(context.Background(), "the budget report is due friday")
	if !ok {
		t.Fatal("expected ok")
	}
	if got != "- budget due friday" {
		t.Errorf("Summary = %q", got)
	}

	if p.CompleteCallCount() != 1 {
		t.Fatalf("Complete calls = %d, want 1", p.CompleteCallCount())
	}
	req := p.CompleteCalls[0].Req
	if req.SystemPrompt == "" {
		t.Error("expected a system prompt")
	}
	if len(req.Messages) != 1 || !strings.Contains(req.Messages[0].Content, "budget report") {
		t.Errorf("unexpected messages: %+v", req.Messages)
	}
	if req.Temperature != 0.3 {
		t.Errorf("Temperature = %v, want 0.3", req.Temperature)
	}
}

func TestSummary_EmptyTranscript(t *testing.T) {
	p := &llmmock.Provider{}
	c := newTestClient(t, p)

	if _, ok := c.Summary(context.Background(), "   "); ok {
		t.Error("expected not ok for empty transcript")
	}
	if p.CompleteCallCount() != 0 {
		t.Errorf("backend should not be called for empty transcript, calls = %d", p.CompleteCallCount())
	}
}

func TestSummary_BackendFailure(t *testing.T) {
	p := &llmmock.Provider{CompleteErr: errors.New("backend down")}
	c := newTestClient(t, p)

	if _, ok := c.Summary(context.Background(), "some transcript"); ok {
		t.Error("expected not ok on backend failure")
	}
}

func TestConversationPoints_ParsesJSON(t *testing.T) {
	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `Here you go:
{"summary":"budget discussed","action_items":["finish report"],"talking_points":["timeline"],"questions":["who reviews?"],"insights":"deadline pressure","suggestions":["set owner"]}`},
	}
	c := newTestClient(t, p)

	pts, ok := c.ConversationPoints(context.Background(), "budget talk")
	if !ok {
		t.Fatal("expected ok")
	}
	if pts.Summary != "budget discussed" {
		t.Errorf("Summary = %q", pts.Summary)
	}
	if len(pts.ActionItems) != 1 || pts.ActionItems[0] != "finish report" {
		t.Errorf("ActionItems = %v", pts.ActionItems)
	}
	if pts.Insights != "deadline pressure" {
		t.Errorf("Insights = %q", pts.Insights)
	}
}

func TestConversationPoints_NonJSONDegrades(t *testing.T) {
	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "The meeting covered the budget."},
	}
	c := newTestClient(t, p)

	pts, ok := c.ConversationPoints(context.Background(), "budget talk")
	if !ok {
		t.Fatal("expected ok")
	}
	if pts.Summary != "The meeting covered the budget." {
		t.Errorf("Summary = %q", pts.Summary)
	}
	if pts.Insights != "Analysis complete" {
		t.Errorf("Insights = %q", pts.Insights)
	}
	if pts.ActionItems == nil || pts.Questions == nil {
		t.Error("slices must be non-nil in degraded points")
	}
}

func TestConversationPoints_LongNonJSONTruncated(t *testing.T) {
	long := strings.Repeat("x", 300)
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: long}}
	c := newTestClient(t, p)

	pts, ok := c.ConversationPoints(context.Background(), "t")
	if !ok {
		t.Fatal("expected ok")
	}
	if len(pts.Summary) != 203 || !strings.HasSuffix(pts.Summary, "...") {
		t.Errorf("Summary length = %d, want 200 chars plus ellipsis", len(pts.Summary))
	}
}

func TestConversationPoints_BackendFailure(t *testing.T) {
	p := &llmmock.Provider{CompleteErr: errors.New("backend down")}
	c := newTestClient(t, p)

	if pts, ok := c.ConversationPoints(context.Background(), "t"); ok || pts != nil {
		t.Errorf("expected nil, not ok; got %+v, %v", pts, ok)
	}
}

func TestAnswer_UsesContext(t *testing.T) {
	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "The report is due Friday."},
	}
	c := newTestClient(t, p)

	got := c.Answer(context.Background(), "the budget report is due friday", "when is the report due?")
	if got != "The report is due Friday." {
		t.Errorf("Answer = %q", got)
	}

	req := p.CompleteCalls[0].Req
	content := req.Messages[0].Content
	if !strings.Contains(content, "Context:") || !strings.Contains(content, "budget report") {
		t.Errorf("prompt missing context: %q", content)
	}
	if !strings.Contains(content, "User question: when is the report due?") {
		t.Errorf("prompt missing question: %q", content)
	}
}

func TestAnswer_DegradedOnFailure(t *testing.T) {
	p := &llmmock.Provider{CompleteErr: errors.New("backend down")}
	c := newTestClient(t, p)

	if got := c.Answer(context.Background(), "ctx", "q"); got != DegradedAnswer {
		t.Errorf("Answer = %q, want degraded fallback", got)
	}
}

func TestAnswer_DegradedOnEmptyResponse(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  "}}
	c := newTestClient(t, p)

	if got := c.Answer(context.Background(), "ctx", "q"); got != DegradedAnswer {
		t.Errorf("Answer = %q, want degraded fallback", got)
	}
}

func TestClient_BreakerSkipsDeadBackend(t *testing.T) {
	p := &llmmock.Provider{CompleteErr: errors.New("backend down")}
	c := newTestClient(t, p)

	// Default threshold is 5 consecutive failures; after that the breaker
	// rejects calls without reaching the backend.
	for i := 0; i < 7; i++ {
		_, _ = c.Summary(context.Background(), "transcript")
	}
	if p.CompleteCallCount() != 5 {
		t.Errorf("backend calls = %d, want 5 (breaker should absorb the rest)", p.CompleteCallCount())
	}
}

func TestParsePoints_CodeFence(t *testing.T) {
	raw := "```json\n{\"summary\":\"s\",\"insights\":\"i\"}\n```"
	pts := parsePoints(raw)
	if pts.Summary != "s" || pts.Insights != "i" {
		t.Errorf("parsePoints = %+v", pts)
	}
	if pts.ActionItems == nil {
		t.Error("ActionItems must be normalized to empty slice")
	}
}
