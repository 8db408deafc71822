package prompts

import (
	"testing"

	"github.com/ronkoch2-code/code-standards-auditor/internal/model"
)

func TestNewStore_RegistersAllBuiltins(t *testing.T) {
	s := NewStore()
	required := []string{
		"code_analysis", "standards_research", "code_generation", "bug_fix",
		"code_review", "refactoring", "documentation", "test_generation",
	}
	for _, id := range required {
		if _, ok := s.Get(id); !ok {
			t.Errorf("expected built-in template %q to be registered", id)
		}
	}
}

func TestRegister_DerivesVariablesWhenEmpty(t *testing.T) {
	s := NewStore()
	s.Register(model.PromptTemplate{
		ID:       "custom_greet",
		Template: "Hello {name}, welcome to {place}. {name} again.",
	})
	tpl, ok := s.Get("custom_greet")
	if !ok {
		t.Fatal("expected custom_greet to be registered")
	}
	if len(tpl.Variables) != 2 || tpl.Variables[0] != "name" || tpl.Variables[1] != "place" {
		t.Errorf("expected deduplicated [name place], got %v", tpl.Variables)
	}
}

func TestRender_FailsOnMissingVariable(t *testing.T) {
	s := NewStore()
	_, _, err := s.Render("code_analysis", map[string]string{"language": "go"})
	if err == nil {
		t.Fatal("expected error for missing code/standards bindings")
	}
}

func TestRender_IgnoresExtraBindings(t *testing.T) {
	s := NewStore()
	s.Register(model.PromptTemplate{ID: "t1", Template: "Hi {name}"})
	rendered, _, err := s.Render("t1", map[string]string{"name": "Ada", "unused": "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rendered != "Hi Ada" {
		t.Errorf("expected 'Hi Ada', got %q", rendered)
	}
}

func TestValidate_ReportsMissingNames(t *testing.T) {
	s := NewStore()
	s.Register(model.PromptTemplate{ID: "t2", Template: "{a} {b} {c}"})
	ok, missing := s.Validate("t2", map[string]string{"a": "1"})
	if ok {
		t.Error("expected validation failure")
	}
	if len(missing) != 2 {
		t.Errorf("expected 2 missing names, got %v", missing)
	}
}

func TestRenderCustom_DerivesAndBinds(t *testing.T) {
	rendered, system, err := RenderCustom("Summarize {topic} for {audience}.", map[string]string{
		"topic": "rate limiting", "audience": "new engineers",
	}, "you are a helpful assistant")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rendered != "Summarize rate limiting for new engineers." {
		t.Errorf("unexpected render: %q", rendered)
	}
	if system != "you are a helpful assistant" {
		t.Errorf("unexpected system prompt: %q", system)
	}
}

func TestRenderCustom_MissingVariable(t *testing.T) {
	_, _, err := RenderCustom("Hello {name}", map[string]string{}, "")
	if err == nil {
		t.Fatal("expected error for missing name binding")
	}
}

func TestList_SortedByID(t *testing.T) {
	s := NewStore()
	list := s.List()
	for i := 1; i < len(list); i++ {
		if list[i-1].ID > list[i].ID {
			t.Fatalf("expected sorted ids, got %q before %q", list[i-1].ID, list[i].ID)
		}
	}
}
