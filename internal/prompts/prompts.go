// Package prompts holds the named prompt templates used to drive every LLM
// call in the service, with variable binding and rendering shared across
// callers instead of each call site hand-building strings.
package prompts

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/ronkoch2-code/code-standards-auditor/internal/model"
)

var variableTokenRe = regexp.MustCompile(`\{(\w+)\}`)

// Store holds registered templates, keyed by id. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	templates map[string]model.PromptTemplate
}

// NewStore returns a Store pre-loaded with the built-in templates.
func NewStore() *Store {
	s := &Store{templates: make(map[string]model.PromptTemplate)}
	for _, t := range builtins() {
		s.Register(t)
	}
	return s
}

// Register adds or replaces a template. If Variables is empty, it is
// derived by scanning Template for {name} tokens, deduplicated in first-seen
// order.
func (s *Store) Register(t model.PromptTemplate) {
	if len(t.Variables) == 0 {
		t.Variables = deriveVariables(t.Template)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t
}

func deriveVariables(template string) []string {
	matches := variableTokenRe.FindAllStringSubmatch(template, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		name := m[1]
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// Get returns a registered template by id.
func (s *Store) Get(id string) (model.PromptTemplate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	return t, ok
}

// List returns every registered template, sorted by id.
func (s *Store) List() []model.PromptTemplate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.PromptTemplate, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Validate reports whether bindings satisfy a template's declared
// variables, and names whichever are missing.
func (s *Store) Validate(id string, bindings map[string]string) (ok bool, missing []string) {
	t, found := s.Get(id)
	if !found {
		return false, nil
	}
	return validateVariables(t.Variables, bindings)
}

func validateVariables(variables []string, bindings map[string]string) (bool, []string) {
	var missing []string
	for _, name := range variables {
		if _, present := bindings[name]; !present {
			missing = append(missing, name)
		}
	}
	return len(missing) == 0, missing
}

// Render binds a registered template's variables and returns the rendered
// prompt plus its system prompt. Fails when any declared variable is
// absent; extra bindings are ignored.
func (s *Store) Render(id string, bindings map[string]string) (prompt string, systemPrompt string, err error) {
	t, ok := s.Get(id)
	if !ok {
		return "", "", fmt.Errorf("prompts: unknown template %q", id)
	}
	if ok, missing := validateVariables(t.Variables, bindings); !ok {
		return "", "", fmt.Errorf("prompts: missing variables for %q: %s", id, strings.Join(missing, ", "))
	}
	return substitute(t.Template, bindings), t.SystemPrompt, nil
}

// RenderCustom binds an ad-hoc template string not backed by a registered
// id. Variables are derived from the template itself.
func RenderCustom(templateString string, bindings map[string]string, systemPrompt string) (prompt string, system string, err error) {
	variables := deriveVariables(templateString)
	if ok, missing := validateVariables(variables, bindings); !ok {
		return "", "", fmt.Errorf("prompts: missing variables for custom template: %s", strings.Join(missing, ", "))
	}
	return substitute(templateString, bindings), systemPrompt, nil
}

func substitute(template string, bindings map[string]string) string {
	return variableTokenRe.ReplaceAllStringFunc(template, func(token string) string {
		name := variableTokenRe.FindStringSubmatch(token)[1]
		if v, ok := bindings[name]; ok {
			return v
		}
		return token
	})
}

func builtins() []model.PromptTemplate {
	return []model.PromptTemplate{
		{
			ID:           "code_analysis",
			Name:         "Code Analysis",
			SystemPrompt: "You are a senior software engineer auditing code for adherence to established engineering standards. Be specific and cite the standard violated.",
			Template: "Analyze the following {language} code for violations of established standards.\n\n" +
				"Code:\n{code}\n\n" +
				"Relevant standards:\n{standards}\n\n" +
				"List every violation with file location, severity, and a concrete suggestion.",
		},
		{
			ID:           "standards_research",
			Name:         "Standards Research",
			SystemPrompt: "You are a domain expert in software engineering best practices, researching authoritative guidance to codify as a concrete standard.",
			Template: "Research the current best practice for: {topic}\n\n" +
				"Target language: {language}\n" +
				"Context: {context}\n\n" +
				"Produce a concise standard: name, category, severity, description, and one before/after example.",
		},
		{
			ID:           "code_generation",
			Name:         "Code Generation",
			SystemPrompt: "You are an expert {language} engineer generating production-quality code that conforms to the team's standards.",
			Template: "Generate {language} code implementing:\n{requirements}\n\n" +
				"Constraints:\n{constraints}\n\n" +
				"Follow these standards:\n{standards}",
		},
		{
			ID:           "bug_fix",
			Name:         "Bug Fix",
			SystemPrompt: "You are an expert debugger who fixes the root cause, not just the symptom.",
			Template: "The following {language} code exhibits this bug:\n{bug_description}\n\n" +
				"Code:\n{code}\n\n" +
				"Identify the root cause and provide a corrected version with an explanation.",
		},
		{
			ID:           "code_review",
			Name:         "Code Review",
			SystemPrompt: "You are a thorough, constructive code reviewer applying the team's established standards.",
			Template: "Review the following {language} change.\n\n" +
				"Diff:\n{diff}\n\n" +
				"Standards to apply:\n{standards}\n\n" +
				"Summarize findings by severity and give an overall verdict.",
		},
		{
			ID:           "refactoring",
			Name:         "Refactoring",
			SystemPrompt: "You are an expert at incremental, behavior-preserving refactoring.",
			Template: "Refactor the following {language} code to satisfy this goal:\n{goal}\n\n" +
				"Code:\n{code}\n\n" +
				"Preserve existing behavior. Explain each structural change.",
		},
		{
			ID:           "documentation",
			Name:         "Documentation",
			SystemPrompt: "You are a technical writer who produces precise, example-driven documentation for engineers.",
			Template: "Write documentation for the following standard so that an engineer unfamiliar with it can adopt it immediately.\n\n" +
				"Standard: {standard_name}\n" +
				"Description: {description}\n" +
				"Language: {language}\n\n" +
				"Include a guide, examples, and a short FAQ.",
		},
		{
			ID:           "test_generation",
			Name:         "Test Generation",
			SystemPrompt: "You are an expert at writing realistic, high-signal automated tests.",
			Template: "Generate tests for the following {language} code.\n\n" +
				"Code:\n{code}\n\n" +
				"Cover the cases described here:\n{cases}\n\n" +
				"Use the project's existing test idioms.",
		},
	}
}
