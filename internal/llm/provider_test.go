package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/ronkoch2-code/code-standards-auditor/internal/model"
)

type fakeProvider struct {
	name    string
	fail    bool
	content string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, req model.LLMRequest) (model.LLMResponse, error) {
	if f.fail {
		return model.LLMResponse{}, errors.New("boom")
	}
	return model.LLMResponse{Content: f.content, Provider: f.name}, nil
}

func (f *fakeProvider) StreamGenerate(ctx context.Context, req model.LLMRequest) (<-chan string, <-chan error) {
	out := make(chan string, 1)
	errs := make(chan error, 1)
	if f.fail {
		close(out)
		errs <- errors.New("boom")
		close(errs)
		return out, errs
	}
	out <- f.content
	close(out)
	close(errs)
	return out, errs
}

func (f *fakeProvider) ResolveModel(tier model.ModelTier) string { return "fake-model" }

func TestManager_FallsBackToNextHealthyProvider(t *testing.T) {
	m := NewManager()
	a := &fakeProvider{name: "a", fail: true}
	b := &fakeProvider{name: "b", fail: true}
	c := &fakeProvider{name: "c", content: "ok"}
	m.Register(a)
	m.Register(b)
	m.Register(c)

	resp, err := m.Generate(context.Background(), model.LLMRequest{Prompt: "hi"}, "")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if resp.Content != "ok" || resp.Provider != "c" {
		t.Errorf("expected c's response, got %+v", resp)
	}

	snaps := m.HealthSnapshot()
	for _, s := range snaps {
		if s.Name == "a" || s.Name == "b" {
			if s.ErrorCount != 1 {
				t.Errorf("expected %s error_count=1, got %d", s.Name, s.ErrorCount)
			}
		}
		if s.Name == "c" && s.ErrorCount != 0 {
			t.Errorf("expected c error_count=0, got %d", s.ErrorCount)
		}
	}
}

func TestManager_TripsProviderAfterThreeFailures(t *testing.T) {
	m := NewManager()
	a := &fakeProvider{name: "a", fail: true}
	c := &fakeProvider{name: "c", content: "ok"}
	m.Register(a)
	m.Register(c)

	for i := 0; i < 3; i++ {
		_, _ = m.Generate(context.Background(), model.LLMRequest{}, "")
	}

	for _, s := range m.HealthSnapshot() {
		if s.Name == "a" {
			if s.Available {
				t.Error("expected provider a to be tripped unavailable after 3 failures")
			}
		}
	}
}

func TestManager_AllProvidersFail(t *testing.T) {
	m := NewManager()
	m.Register(&fakeProvider{name: "a", fail: true})
	m.Register(&fakeProvider{name: "b", fail: true})

	_, err := m.Generate(context.Background(), model.LLMRequest{}, "")
	if err == nil {
		t.Fatal("expected composite error when all providers fail")
	}
}

func TestManager_PreferredProviderTriedFirst(t *testing.T) {
	m := NewManager()
	a := &fakeProvider{name: "a", content: "from-a"}
	b := &fakeProvider{name: "b", content: "from-b"}
	m.Register(a)
	m.Register(b)

	resp, err := m.Generate(context.Background(), model.LLMRequest{}, "b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "b" {
		t.Errorf("expected preferred provider b to be tried first, got %s", resp.Provider)
	}
}

func TestManager_ResetProviderRestoresAvailability(t *testing.T) {
	m := NewManager()
	a := &fakeProvider{name: "a", fail: true}
	m.Register(a)

	for i := 0; i < 3; i++ {
		_, _ = m.Generate(context.Background(), model.LLMRequest{}, "")
	}
	m.ResetProvider("a")

	for _, s := range m.HealthSnapshot() {
		if s.Name == "a" && (!s.Available || s.ErrorCount != 0) {
			t.Errorf("expected reset provider healthy, got %+v", s)
		}
	}
}
