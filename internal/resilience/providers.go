package resilience

import (
	"context"
	"log/slog"

	"github.com/MrWong99/confab/pkg/provider/llm"
	"github.com/MrWong99/confab/pkg/provider/stt"
)

// LLMChain implements [llm.Provider] with automatic failover across multiple
// completion backends. Each backend sits behind its own breaker.
type LLMChain struct {
	chain *Chain[llm.Provider]
}

var _ llm.Provider = (*LLMChain)(nil)

// NewLLMChain creates an [LLMChain] with primary as the preferred backend.
func NewLLMChain(primary llm.Provider, primaryName string, cfg BreakerConfig, log *slog.Logger) *LLMChain {
	c := NewChain[llm.Provider](cfg, log)
	c.Add(primaryName, primary)
	return &LLMChain{chain: c}
}

// AddFallback registers an additional completion backend, tried after the
// primary in registration order.
func (f *LLMChain) AddFallback(name string, provider llm.Provider) {
	f.chain.Add(name, provider)
}

// Complete sends the request to the first healthy backend.
func (f *LLMChain) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return RunResult(f.chain, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// ModelID reports the primary backend's model. Static metadata does not
// participate in failover.
func (f *LLMChain) ModelID() string {
	return f.chain.Primary().ModelID()
}

// STTChain implements [stt.Provider] with failover on stream establishment.
// Only StartStream is covered: once a stream is up, mid-stream errors belong
// to the session owning the handle.
type STTChain struct {
	chain *Chain[stt.Provider]
}

var _ stt.Provider = (*STTChain)(nil)

// NewSTTChain creates an [STTChain] with primary as the preferred backend.
func NewSTTChain(primary stt.Provider, primaryName string, cfg BreakerConfig, log *slog.Logger) *STTChain {
	c := NewChain[stt.Provider](cfg, log)
	c.Add(primaryName, primary)
	return &STTChain{chain: c}
}

// AddFallback registers an additional transcription backend.
func (f *STTChain) AddFallback(name string, provider stt.Provider) {
	f.chain.Add(name, provider)
}

// StartStream opens a transcription stream on the first healthy backend.
func (f *STTChain) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return RunResult(f.chain, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
