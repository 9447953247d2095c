// Package insight produces AI-generated meeting insights: running summaries,
// structured conversation points, and retrieval-augmented answers to user
// questions.
//
// Client is boundary-safe by design: a failing LLM backend yields zero values
// or degraded fallback text, never an error that escapes into the session
// loop. Calls go through a circuit breaker so a dead backend is skipped
// cheaply until its cooldown elapses.
package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/confab/internal/resilience"
	"github.com/MrWong99/confab/pkg/provider/llm"
)

// DegradedAnswer is returned by [Client.Answer] when no answer could be
// produced.
const DegradedAnswer = "Sorry, I couldn't find an answer."

const summaryPrompt = `You are an AI meeting assistant. Analyze this conversation and provide:
1. A brief summary of the key points discussed (crisp, bullet points, max 3)
2. Action items or next steps (crisp, bullet points, max 3)
3. Suggestions for improving the discussion (crisp, bullet points, max 2)

Please provide a concise, helpful response. Use bullet points. Be direct and to the point.`

const pointsPrompt = `You are an AI meeting assistant providing real-time conversation insights.
Analyze the conversation and respond with a JSON object containing:
{
  "summary": "1-2 sentence summary of key points discussed (crisp, direct)",
  "action_items": ["max 3, bullet points, actionable, crisp"],
  "talking_points": ["max 3, bullet points, crisp, what to discuss next"],
  "questions": ["max 2, crisp, relevant questions to ask"],
  "insights": "one key insight or observation (crisp)",
  "suggestions": ["max 2, proactive, crisp suggestions for improvement"]
}

Keep responses concise, actionable, and to the point.`

const answerPrompt = `You are a helpful meeting assistant. Answer the user's question using the provided context from the meeting transcript. Be concise and direct.`

// Points is the structured conversation analysis pushed to clients alongside
// the running summary.
type Points struct {
	Summary       string   `json:"summary"`
	ActionItems   []string `json:"action_items"`
	TalkingPoints []string `json:"talking_points"`
	Questions     []string `json:"questions"`
	Insights      string   `json:"insights"`
	Suggestions   []string `json:"suggestions"`
}

// Client produces meeting insights from an LLM backend.
type Client struct {
	llm     llm.Provider
	breaker *resilience.Breaker
	log     *slog.Logger

	temperature float64
	maxTokens   int
}

// Option configures a [Client].
type Option func(*Client)

// WithBreakerConfig replaces the default circuit breaker tuning.
func WithBreakerConfig(cfg resilience.BreakerConfig) Option {
	return func(c *Client) {
		cfg.Name = "insight-llm"
		c.breaker = resilience.NewBreaker(cfg, c.log)
	}
}

// WithMaxTokens caps the completion length for insight calls.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// NewClient creates a [Client] backed by provider. A nil logger falls back to
// slog.Default.
func NewClient(provider llm.Provider, log *slog.Logger, opts ...Option) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("insight: provider must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		llm:         provider,
		log:         log,
		temperature: 0.3,
		maxTokens:   512,
	}
	c.breaker = resilience.NewBreaker(resilience.BreakerConfig{Name: "insight-llm"}, log)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// complete runs one LLM call through the circuit breaker.
func (c *Client) complete(ctx context.Context, systemPrompt, userContent string) (string, error) {
	var content string
	err := c.breaker.Do(func() error {
		resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: systemPrompt,
			Messages: []llm.Message{
				{Role: "user", Content: userContent},
			},
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
		})
		if err != nil {
			return err
		}
		content = resp.Content
		return nil
	})
	return content, err
}

// Summary produces a running summary of the transcript. The second return
// value is false when the transcript is empty or the backend failed; callers
// treat that as "no update this cycle".
func (c *Client) Summary(ctx context.Context, transcript string) (string, bool) {
	if strings.TrimSpace(transcript) == "" {
		return "", false
	}
	content, err := c.complete(ctx, summaryPrompt, "Conversation: "+transcript)
	if err != nil {
		c.log.Warn("summary generation failed", "error", err)
		return "", false
	}
	return strings.TrimSpace(content), true
}

// ConversationPoints produces structured conversation analysis. The second
// return value is false when the transcript is empty or the backend failed.
// A response that is not valid JSON degrades to a Points value carrying the
// raw text as summary rather than failing.
func (c *Client) ConversationPoints(ctx context.Context, transcript string) (*Points, bool) {
	if strings.TrimSpace(transcript) == "" {
		return nil, false
	}
	content, err := c.complete(ctx, pointsPrompt, "Current conversation: "+transcript)
	if err != nil {
		c.log.Warn("conversation points generation failed", "error", err)
		return nil, false
	}
	return parsePoints(content), true
}

// Answer answers a user question using retrieved transcript context. It never
// fails: backend errors and empty responses yield [DegradedAnswer].
func (c *Client) Answer(ctx context.Context, contextText, question string) string {
	prompt := fmt.Sprintf("Context:\n%s\n\nUser question: %s", contextText, question)
	content, err := c.complete(ctx, answerPrompt, prompt)
	if err != nil {
		c.log.Warn("answer generation failed", "error", err)
		return DegradedAnswer
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return DegradedAnswer
	}
	return content
}

// parsePoints extracts the JSON object from an LLM response. Models often wrap
// JSON in prose or code fences, so it parses the substring between the first
// '{' and the last '}'. When no parseable object is found, the raw text
// becomes the summary.
func parsePoints(raw string) *Points {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start != -1 && end > start {
		var p Points
		if err := json.Unmarshal([]byte(raw[start:end+1]), &p); err == nil {
			normalizePoints(&p)
			return &p
		}
	}

	summary := strings.TrimSpace(raw)
	if len(summary) > 200 {
		summary = summary[:200] + "..."
	}
	p := &Points{
		Summary:  summary,
		Insights: "Analysis complete",
	}
	normalizePoints(p)
	return p
}

// normalizePoints replaces nil slices with empty ones so the wire encoding is
// always [] rather than null.
func normalizePoints(p *Points) {
	if p.ActionItems == nil {
		p.ActionItems = []string{}
	}
	if p.TalkingPoints == nil {
		p.TalkingPoints = []string{}
	}
	if p.Questions == nil {
		p.Questions = []string{}
	}
	if p.Suggestions == nil {
		p.Suggestions = []string{}
	}
}
