package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ronkoch2-code/code-standards-auditor/internal/cache"
	"github.com/ronkoch2-code/code-standards-auditor/internal/graphstore"
	"github.com/ronkoch2-code/code-standards-auditor/internal/llm"
	"github.com/ronkoch2-code/code-standards-auditor/internal/model"
	"github.com/ronkoch2-code/code-standards-auditor/internal/prompts"
)

// LLMResearcher drives the research phase through the registered LLM
// providers, rendering the standards_research template and parsing a
// minimal draft from the response.
type LLMResearcher struct {
	Manager  *llm.Manager
	Prompts  *prompts.Store
	Language string
}

func (r *LLMResearcher) Classify(ctx context.Context, requirements string) (RequestAnalysis, error) {
	language := r.Language
	if language == "" {
		language = "go"
	}
	return RequestAnalysis{
		Title:      requirements,
		Category:   model.CategoryBestPractices,
		Language:   language,
		Complexity: "standard",
		Priority:   "normal",
	}, nil
}

func (r *LLMResearcher) Research(ctx context.Context, analysis RequestAnalysis) (model.StandardDraft, error) {
	prompt, system, err := r.Prompts.Render("standards_research", map[string]string{
		"topic":    analysis.Title,
		"language": analysis.Language,
		"context":  analysis.Complexity,
	})
	if err != nil {
		return model.StandardDraft{}, err
	}

	resp, err := r.Manager.Generate(ctx, model.LLMRequest{
		Prompt: prompt, SystemPrompt: system, ModelTier: model.TierBalanced,
	}, "")
	if err != nil {
		return model.StandardDraft{}, fmt.Errorf("research: %w", err)
	}

	return model.StandardDraft{
		Name:        analysis.Title,
		Language:    analysis.Language,
		Category:    analysis.Category,
		Severity:    model.SeverityMedium,
		Description: resp.Content,
		Version:     "1.0.0",
	}, nil
}

// LLMDocumenter enriches a draft by rendering the documentation template.
// The whole response becomes the Guide and its first paragraph the
// QuickReference; the other Documentation fields are left empty.
type LLMDocumenter struct {
	Manager *llm.Manager
	Prompts *prompts.Store
}

func (d *LLMDocumenter) Enrich(ctx context.Context, draft model.StandardDraft) (Documentation, error) {
	prompt, system, err := d.Prompts.Render("documentation", map[string]string{
		"standard_name": draft.Name,
		"description":   draft.Description,
		"language":      draft.Language,
	})
	if err != nil {
		return Documentation{}, err
	}

	resp, err := d.Manager.Generate(ctx, model.LLMRequest{
		Prompt: prompt, SystemPrompt: system, ModelTier: model.TierBalanced,
	}, "")
	if err != nil {
		return Documentation{}, fmt.Errorf("documentation: %w", err)
	}

	guide := resp.Content
	return Documentation{
		Guide:                    guide,
		Tooling:                  "",
		AdoptionStrategy:         "",
		Metrics:                  "",
		FAQ:                      "",
		QuickReference:           firstParagraph(guide),
		ImplementationChecklist:  "",
		OnboardingGuide:          "",
		ComplianceChecklist:      "",
	}, nil
}

func firstParagraph(text string) string {
	if idx := strings.Index(text, "\n\n"); idx >= 0 {
		return text[:idx]
	}
	if len(text) > 200 {
		return text[:200]
	}
	return text
}

// LLMValidator implements one named validation lens (completeness,
// clarity, practicality, consistency, examples) against a draft +
// documentation pair by rendering an inline scoring template through
// prompts.RenderCustom with the lens named in the prompt.
type LLMValidator struct {
	ValidatorName string
	Manager       *llm.Manager
	Prompts       *prompts.Store
}

func (v *LLMValidator) Name() string { return v.ValidatorName }

func (v *LLMValidator) Validate(ctx context.Context, draft model.StandardDraft, doc Documentation) (ValidatorResult, error) {
	prompt, system, err := prompts.RenderCustom(
		"Evaluate the {lens} of the following standard on a 0-100 scale.\n\nStandard: {name}\nDescription: {description}\nGuide: {guide}",
		map[string]string{
			"lens":        v.ValidatorName,
			"name":        draft.Name,
			"description": draft.Description,
			"guide":       doc.Guide,
		},
		"You are a meticulous reviewer scoring one specific quality dimension of a proposed engineering standard.",
	)
	if err != nil {
		return ValidatorResult{}, err
	}

	resp, err := v.Manager.Generate(ctx, model.LLMRequest{
		Prompt: prompt, SystemPrompt: system, ModelTier: model.TierFast,
	}, "")
	if err != nil {
		return ValidatorResult{}, fmt.Errorf("%s validation: %w", v.ValidatorName, err)
	}

	return ValidatorResult{Score: scoreFromResponse(resp.Content), Issues: nil, Recommendations: nil}, nil
}

// scoreFromResponse extracts a 0-100 score from free-form model output,
// defaulting to a passing-but-unremarkable score when none is found.
func scoreFromResponse(content string) float64 {
	for _, token := range strings.Fields(content) {
		token = strings.TrimRight(token, ".,:%")
		var n int
		if _, err := fmt.Sscanf(token, "%d", &n); err == nil && n >= 0 && n <= 100 {
			return float64(n)
		}
	}
	return 75
}

// FilesystemSink deploys a standard to
// <root>/<language>/<category>/<slug>_v<version>.md. The sync engine's
// Discover globs only <root>/<language>/*.md, so it does not pick these
// files up.
type FilesystemSink struct {
	Root string
}

func (s *FilesystemSink) Name() string { return "filesystem" }

func (s *FilesystemSink) Deploy(ctx context.Context, draft model.StandardDraft, doc Documentation) (string, error) {
	dir := filepath.Join(s.Root, draft.Language, string(draft.Category))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	slug := slugify(draft.Name)
	version := draft.Version
	if version == "" {
		version = "1.0.0"
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_v%s.md", slug, version))

	var b strings.Builder
	b.WriteString("# " + draft.Name + "\n\n")
	b.WriteString(draft.Description + "\n\n")
	if doc.Guide != "" {
		b.WriteString("## Guide\n\n" + doc.Guide + "\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func slugify(name string) string {
	lower := strings.ToLower(name)
	var b strings.Builder
	lastDash := false
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// GraphSink deploys a standard into the graph projection store.
type GraphSink struct {
	Store graphstore.Store
}

func (s *GraphSink) Name() string { return "graphstore" }

func (s *GraphSink) Deploy(ctx context.Context, draft model.StandardDraft, doc Documentation) (string, error) {
	standard, err := s.Store.UpsertStandard(ctx, draft, "workflow:research")
	if err != nil {
		return "", err
	}
	return standard.ID, nil
}

// CacheSink deploys a standard's rendered guide into the response cache so
// immediate lookups avoid a store round-trip.
type CacheSink struct {
	Cache cache.Cache
}

func (s *CacheSink) Name() string { return "cache" }

func (s *CacheSink) Deploy(ctx context.Context, draft model.StandardDraft, doc Documentation) (string, error) {
	key := cache.NamespacedKey(cache.NamespaceStandards, draft.Language+":"+draft.Name)
	if err := s.Cache.Set(ctx, key, []byte(doc.Guide), cache.DefaultTTL(cache.NamespaceStandards)); err != nil {
		return "", err
	}
	return key, nil
}

// LLMRecommender drives the per-sample analysis phase by rendering the
// code_analysis template against the candidate standard and parsing
// lightweight recommendations from the free-form response.
type LLMRecommender struct {
	Manager *llm.Manager
	Prompts *prompts.Store
}

func (r *LLMRecommender) Recommend(ctx context.Context, sample model.CodeSample, standardCtx *model.StandardDraft) ([]Recommendation, error) {
	standardsText := ""
	if standardCtx != nil {
		standardsText = standardCtx.Name + ": " + standardCtx.Description
	}

	prompt, system, err := r.Prompts.Render("code_analysis", map[string]string{
		"language":  sample.Language,
		"code":      sample.Content,
		"standards": standardsText,
	})
	if err != nil {
		return nil, err
	}

	resp, err := r.Manager.Generate(ctx, model.LLMRequest{
		Prompt: prompt, SystemPrompt: system, ModelTier: model.TierAdvanced,
	}, "")
	if err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}

	return parseRecommendations(resp.Content), nil
}

// parseRecommendations turns every non-empty line of free-form model output
// into a recommendation, graded by the severity keyword it contains (low when
// none), and returns a single low-severity style note when there is no
// non-empty line.
func parseRecommendations(content string) []Recommendation {
	var out []Recommendation
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)
		severity := model.SeverityLow
		switch {
		case strings.Contains(lower, "critical"):
			severity = model.SeverityCritical
		case strings.Contains(lower, "high"):
			severity = model.SeverityHigh
		case strings.Contains(lower, "medium"):
			severity = model.SeverityMedium
		}
		out = append(out, Recommendation{Category: "general", Severity: severity, Message: trimmed})
	}
	if len(out) == 0 {
		out = append(out, Recommendation{Category: "style", Severity: model.SeverityLow, Message: "no issues detected"})
	}
	return out
}
