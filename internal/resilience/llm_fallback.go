package resilience

import (
	"context"

	"github.com/emberforge/questpilot/pkg/provider/llm"
	"github.com/emberforge/questpilot/pkg/types"
)

// LLMFallback is an [llm.Provider] that fails over across a chain of
// backends. A per-backend circuit breaker decides whether a backend is
// worth trying at all; open breakers are skipped without a network call.
//
// Failover covers the initial call only. Once StreamCompletion has handed
// out a chunk channel, errors arriving mid-stream are the caller's to
// handle.
type LLMFallback struct {
	primary llm.Provider
	group   *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback wraps primary as the preferred backend. Additional
// backends join the chain through [LLMFallback.AddFallback] in the order
// they are added.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		primary: primary,
		group:   NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback appends provider to the end of the failover chain.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete returns the response from the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion opens a chunk stream on the first healthy backend.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens counts with the first healthy backend's tokenizer.
func (f *LLMFallback) CountTokens(messages []types.Message) (int, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities reports the primary's capabilities. Static metadata does
// not fail over: mixing capability reports across backends would let a
// caller plan a tool call the primary cannot execute.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	return f.primary.Capabilities()
}
