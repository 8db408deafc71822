package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/genai"

	"github.com/ronkoch2-code/code-standards-auditor/internal/model"
)

// GeminiProvider implements Provider against Google's Gemini models via the
// official genai client, wrapped in a circuit breaker as a second line of
// defense alongside the Manager's own health counters.
type GeminiProvider struct {
	client  *genai.Client
	models  map[model.ModelTier]string
	breaker *gobreaker.CircuitBreaker
}

// NewGeminiProvider builds a provider with compiled-in tier defaults. apiKey
// must be non-empty; model names may be overridden via tierModels.
func NewGeminiProvider(ctx context.Context, apiKey string, tierModels map[model.ModelTier]string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	models := map[model.ModelTier]string{
		model.TierFast:     "gemini-1.5-flash",
		model.TierBalanced: "gemini-1.5-pro",
		model.TierAdvanced: "gemini-1.5-pro",
	}
	for tier, name := range tierModels {
		models[tier] = name
	}

	settings := gobreaker.Settings{
		Name:        "gemini",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripThreshold
		},
	}

	return &GeminiProvider{client: client, models: models, breaker: gobreaker.NewCircuitBreaker(settings)}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) ResolveModel(tier model.ModelTier) string {
	if name, ok := p.models[tier]; ok {
		return name
	}
	return p.models[model.TierBalanced]
}

func (p *GeminiProvider) Generate(ctx context.Context, req model.LLMRequest) (model.LLMResponse, error) {
	modelName := p.ResolveModel(req.ModelTier)

	result, err := p.breaker.Execute(func() (interface{}, error) {
		contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
		cfg := &genai.GenerateContentConfig{
			Temperature: float32ptr(float32(req.Temperature)),
		}
		if req.SystemPrompt != "" {
			cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
		}
		return p.client.Models.GenerateContent(ctx, modelName, contents, cfg)
	})
	if err != nil {
		return model.LLMResponse{}, fmt.Errorf("gemini: generate: %w", err)
	}

	resp := result.(*genai.GenerateContentResponse)
	text := extractGenaiText(resp)

	return model.LLMResponse{
		Content:   text,
		Provider:  p.Name(),
		Model:     modelName,
		Usage:     usageFromGenai(resp),
		Timestamp: time.Now().UTC(),
	}, nil
}

func (p *GeminiProvider) StreamGenerate(ctx context.Context, req model.LLMRequest) (<-chan string, <-chan error) {
	out := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		modelName := p.ResolveModel(req.ModelTier)
		contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
		cfg := &genai.GenerateContentConfig{Temperature: float32ptr(float32(req.Temperature))}
		if req.SystemPrompt != "" {
			cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
		}

		stream := p.client.Models.GenerateContentStream(ctx, modelName, contents, cfg)
		for chunk, err := range stream {
			if err != nil {
				errs <- fmt.Errorf("gemini: stream: %w", err)
				return
			}
			if text := extractGenaiText(chunk); text != "" {
				select {
				case out <- text:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
		}
	}()

	return out, errs
}

func extractGenaiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}

func usageFromGenai(resp *genai.GenerateContentResponse) model.TokenUsage {
	if resp == nil || resp.UsageMetadata == nil {
		return model.TokenUsage{}
	}
	return model.TokenUsage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
	}
}

func float32ptr(f float32) *float32 { return &f }
