// Package anthropic implements worker/provider.Provider against the real
// Anthropic SDK, github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/forge9/swarmkit/worker/provider"
)

const (
	ModelSonnet4 = "claude-sonnet-4-20250514"
	ModelHaiku35 = "claude-3-5-haiku-20241022"
	ModelOpus45  = "claude-opus-4-5-20251101"
)

// Provider drives the API-mode Worker Manager spawner: an in-process agent
// loop for features that don't need a full tmux-hosted CLI session (for
// example, a lightweight planner or reviewer turn).
type Provider struct {
	provider.BaseProvider
	client *anthropic.Client
	apiKey string
}

// New constructs a Provider from ANTHROPIC_API_KEY. Available() reports
// false rather than erroring when the key is absent, so construction never
// fails just because the key isn't configured yet.
func New() (*Provider, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Provider{client: &client, apiKey: apiKey}, nil
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Available() bool { return p.apiKey != "" }

// CreateMessage sends one turn to the Messages API and returns the
// concatenated text content.
func (p *Provider) CreateMessage(ctx context.Context, req *provider.MessageRequest) (*provider.MessageResponse, error) {
	if !p.Available() {
		return nil, provider.ErrProviderNotAvailable(p.Name())
	}

	model := req.Model
	if model == "" {
		model = ModelSonnet4
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 16384
	}

	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: create message: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	p.TrackUsage(int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))

	return &provider.MessageResponse{
		ID:         resp.ID,
		Content:    text,
		Model:      string(resp.Model),
		StopReason: string(resp.StopReason),
		Usage: provider.ResponseUsage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}
