package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"

	"github.com/ronkoch2-code/code-standards-auditor/internal/model"
)

// AnthropicProvider implements Provider against Claude models via the
// official anthropic-sdk-go client.
type AnthropicProvider struct {
	client  anthropic.Client
	models  map[model.ModelTier]string
	breaker *gobreaker.CircuitBreaker
}

func NewAnthropicProvider(apiKey string, tierModels map[model.ModelTier]string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	models := map[model.ModelTier]string{
		model.TierFast:     "claude-3-5-haiku-latest",
		model.TierBalanced: "claude-3-5-sonnet-latest",
		model.TierAdvanced: "claude-3-opus-latest",
	}
	for tier, name := range tierModels {
		models[tier] = name
	}

	settings := gobreaker.Settings{
		Name:        "anthropic",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripThreshold
		},
	}

	return &AnthropicProvider{client: client, models: models, breaker: gobreaker.NewCircuitBreaker(settings)}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) ResolveModel(tier model.ModelTier) string {
	if name, ok := p.models[tier]; ok {
		return name
	}
	return p.models[model.TierBalanced]
}

func (p *AnthropicProvider) Generate(ctx context.Context, req model.LLMRequest) (model.LLMResponse, error) {
	modelName := p.ResolveModel(req.ModelTier)
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.client.Messages.New(ctx, params)
	})
	if err != nil {
		return model.LLMResponse{}, fmt.Errorf("anthropic: generate: %w", err)
	}

	msg := result.(*anthropic.Message)
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return model.LLMResponse{
		Content:  text,
		Provider: p.Name(),
		Model:    modelName,
		Usage: model.TokenUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		Timestamp: time.Now().UTC(),
	}, nil
}

func (p *AnthropicProvider) StreamGenerate(ctx context.Context, req model.LLMRequest) (<-chan string, <-chan error) {
	out := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		modelName := p.ResolveModel(req.ModelTier)
		maxTokens := int64(req.MaxTokens)
		if maxTokens <= 0 {
			maxTokens = 4096
		}

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(modelName),
			MaxTokens: maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
			},
		}
		if req.SystemPrompt != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
		}

		stream := p.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if delta.Delta.Text != "" {
					select {
					case out <- delta.Delta.Text:
					case <-ctx.Done():
						errs <- ctx.Err()
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errs <- fmt.Errorf("anthropic: stream: %w", err)
		}
	}()

	return out, errs
}
