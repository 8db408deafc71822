package graphstore

import (
	"testing"

	"github.com/ronkoch2-code/code-standards-auditor/internal/model"
)

func TestScoreStandard_Weights(t *testing.T) {
	std := model.Standard{
		Name:        "Validate all input",
		Description: "Always sanitize external data before use",
		Category:    model.CategorySecurity,
	}

	if got := scoreStandard(std, "validate"); got != 1.0 {
		t.Errorf("expected name match score 1.0, got %f", got)
	}
	if got := scoreStandard(std, "sanitize"); got != 0.8 {
		t.Errorf("expected description match score 0.8, got %f", got)
	}
	if got := scoreStandard(std, "security"); got != 0.6 {
		t.Errorf("expected category match score 0.6, got %f", got)
	}
	if got := scoreStandard(std, "nomatch"); got != 0.5 {
		t.Errorf("expected fallback score 0.5, got %f", got)
	}
}

func TestScoreStandard_EmptyQueryFallsBack(t *testing.T) {
	std := model.Standard{Name: "anything"}
	if got := scoreStandard(std, ""); got != 0.5 {
		t.Errorf("expected empty query to score 0.5, got %f", got)
	}
}
