// Package provider defines the provider-agnostic interface the API-mode
// Worker Manager spawner uses when it drives an agent loop in-process
// instead of shelling out to a CLI binary inside a tmux session.
package provider

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ErrProviderNotAvailable is returned when a provider's credentials are not
// configured in the environment.
type ErrProviderNotAvailable string

func (e ErrProviderNotAvailable) Error() string {
	return fmt.Sprintf("provider/provider: %s not available: credentials not configured", string(e))
}

// Provider is the interface every AI backend the API-mode spawner can drive
// must implement.
type Provider interface {
	CreateMessage(ctx context.Context, req *MessageRequest) (*MessageResponse, error)
	Name() string
	Available() bool
	GetUsage() TokenUsage
	ResetUsage()
}

// MessageRequest is a provider-agnostic chat request.
type MessageRequest struct {
	Model         string
	MaxTokens     int
	System        string
	Messages      []Message
	Temperature   *float64
	StopSequences []string
}

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// MessageResponse is a provider-agnostic chat response.
type MessageResponse struct {
	ID         string
	Content    string
	Model      string
	StopReason string
	Usage      ResponseUsage
}

// ResponseUsage reports the token cost of a single response.
type ResponseUsage struct {
	InputTokens  int
	OutputTokens int
}

// TokenUsage accumulates usage across a provider's lifetime.
type TokenUsage struct {
	InputTokens   int64     `json:"input_tokens"`
	OutputTokens  int64     `json:"output_tokens"`
	TotalRequests int64     `json:"total_requests"`
	LastUsed      time.Time `json:"last_used"`
}

// BaseProvider supplies the mutex-guarded usage tracking every concrete
// Provider embeds.
type BaseProvider struct {
	mu    sync.Mutex
	usage TokenUsage
}

func (b *BaseProvider) TrackUsage(input, output int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage.InputTokens += int64(input)
	b.usage.OutputTokens += int64(output)
	b.usage.TotalRequests++
	b.usage.LastUsed = time.Now()
}

func (b *BaseProvider) GetUsage() TokenUsage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.usage
}

func (b *BaseProvider) ResetUsage() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage = TokenUsage{}
}
