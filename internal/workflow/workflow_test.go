package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ronkoch2-code/code-standards-auditor/internal/logging"
	"github.com/ronkoch2-code/code-standards-auditor/internal/model"
)

type fakeResearcher struct {
	classifyDelay time.Duration
}

func (f *fakeResearcher) Classify(ctx context.Context, requirements string) (RequestAnalysis, error) {
	if f.classifyDelay > 0 {
		time.Sleep(f.classifyDelay)
	}
	return RequestAnalysis{Title: requirements, Category: model.CategoryBestPractices, Language: "go"}, nil
}

func (f *fakeResearcher) Research(ctx context.Context, analysis RequestAnalysis) (model.StandardDraft, error) {
	return model.StandardDraft{Name: analysis.Title, Language: analysis.Language, Category: analysis.Category}, nil
}

type fakeDocumenter struct{ delay time.Duration }

func (f *fakeDocumenter) Enrich(ctx context.Context, draft model.StandardDraft) (Documentation, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return Documentation{Guide: "guide for " + draft.Name, QuickReference: "qr"}, nil
}

type fakeValidator struct {
	name  string
	score float64
	err   error
}

func (f *fakeValidator) Name() string { return f.name }
func (f *fakeValidator) Validate(ctx context.Context, draft model.StandardDraft, doc Documentation) (ValidatorResult, error) {
	if f.err != nil {
		return ValidatorResult{}, f.err
	}
	return ValidatorResult{Score: f.score}, nil
}

type fakeSink struct {
	name string
	fail bool
}

func (f *fakeSink) Name() string { return f.name }
func (f *fakeSink) Deploy(ctx context.Context, draft model.StandardDraft, doc Documentation) (string, error) {
	if f.fail {
		return "", errors.New("sink down")
	}
	return f.name + "-id", nil
}

type fakeRecommender struct{}

func (f *fakeRecommender) Recommend(ctx context.Context, sample model.CodeSample, context *model.StandardDraft) ([]Recommendation, error) {
	return []Recommendation{
		{Category: "security", Severity: model.SeverityCritical, Message: "sql injection risk"},
		{Category: "style", Severity: model.SeverityLow, Message: "naming"},
	}, nil
}

func testLogger() *logging.ContextLogger {
	l := logrus.New()
	l.SetOutput(discard{})
	return logging.NewContextLogger(l, nil)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func waitForTerminal(t *testing.T, o *Orchestrator, id string) model.WorkflowResult {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		result, ok := o.Status(id)
		if !ok {
			t.Fatal("workflow not found")
		}
		if result.Status != model.WorkflowPending && result.Status != model.WorkflowInProgress {
			return result
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("workflow did not reach a terminal state in time")
	return model.WorkflowResult{}
}

func TestOrchestrator_FullRunWithoutCodeSamplesSkipsAnalysis(t *testing.T) {
	o := New(&fakeResearcher{}, &fakeDocumenter{}, []Validator{
		&fakeValidator{name: "completeness", score: 80},
		&fakeValidator{name: "clarity", score: 90},
	}, []Sink{&fakeSink{name: "cache"}}, &fakeRecommender{}, testLogger())

	id := o.Start(Request{Requirements: "use context cancellation"})
	result := waitForTerminal(t, o, id)

	if result.Status != model.WorkflowCompleted {
		t.Fatalf("expected completed, got %s (errors=%v)", result.Status, result.Errors)
	}
	if _, ok := result.Results[model.PhaseAnalysis]; ok {
		t.Error("expected analysis phase to be skipped when no code samples were submitted")
	}
	if _, ok := result.Results[model.PhaseResearch]; !ok {
		t.Error("expected research phase result to be present")
	}
	if _, ok := result.Results[model.PhaseFeedback]; !ok {
		t.Error("expected feedback phase result to be present")
	}
}

func TestOrchestrator_AnalysisRunsWhenCodeSamplesProvided(t *testing.T) {
	o := New(&fakeResearcher{}, &fakeDocumenter{}, []Validator{&fakeValidator{name: "completeness", score: 80}},
		[]Sink{&fakeSink{name: "cache"}}, &fakeRecommender{}, testLogger())

	id := o.Start(Request{
		Requirements: "validate all input",
		CodeSamples:  []model.CodeSample{{Language: "go", Content: "func main() {}"}},
	})
	result := waitForTerminal(t, o, id)

	if result.Status != model.WorkflowCompleted {
		t.Fatalf("expected completed, got %s (errors=%v)", result.Status, result.Errors)
	}
	analysis, ok := result.Results[model.PhaseAnalysis].(AnalysisReport)
	if !ok {
		t.Fatal("expected analysis phase result present when code samples were submitted")
	}
	if len(analysis.Samples) != 1 {
		t.Errorf("expected 1 sample analysis, got %d", len(analysis.Samples))
	}
	if analysis.Samples[0].Compliance != 80 { // 100 - 20*1 (critical) - 10*0
		t.Errorf("expected compliance 80, got %f", analysis.Samples[0].Compliance)
	}
}

func TestOrchestrator_ValidationAggregatesIgnoringFailures(t *testing.T) {
	o := New(&fakeResearcher{}, &fakeDocumenter{}, []Validator{
		&fakeValidator{name: "completeness", score: 80},
		&fakeValidator{name: "clarity", score: 100},
		&fakeValidator{name: "practicality", err: errors.New("boom")},
	}, []Sink{&fakeSink{name: "cache"}}, nil, testLogger())

	id := o.Start(Request{Requirements: "x"})
	result := waitForTerminal(t, o, id)

	v, ok := result.Results[model.PhaseValidation].(ValidationReport)
	if !ok {
		t.Fatal("expected validation report")
	}
	if v.AggregateScore != 90 {
		t.Errorf("expected aggregate score 90 (mean of 80,100 ignoring error), got %f", v.AggregateScore)
	}
	if !v.ValidationPassed {
		t.Error("expected validation_passed true at score >= 75")
	}
	if _, hasErr := v.Errors["practicality"]; !hasErr {
		t.Error("expected practicality error to be recorded")
	}
}

func TestOrchestrator_DeploymentFailsOnlyWhenAllSinksFail(t *testing.T) {
	o := New(&fakeResearcher{}, &fakeDocumenter{}, []Validator{&fakeValidator{name: "completeness", score: 80}},
		[]Sink{&fakeSink{name: "fs", fail: true}, &fakeSink{name: "cache", fail: true}}, nil, testLogger())

	id := o.Start(Request{Requirements: "x"})
	result := waitForTerminal(t, o, id)

	if result.Status != model.WorkflowFailed {
		t.Fatalf("expected failed when every sink fails, got %s", result.Status)
	}
	if result.Phase != model.PhaseDeployment {
		t.Errorf("expected failure phase deployment, got %s", result.Phase)
	}
}

func TestOrchestrator_DeploymentToleratesPartialSinkFailure(t *testing.T) {
	o := New(&fakeResearcher{}, &fakeDocumenter{}, []Validator{&fakeValidator{name: "completeness", score: 80}},
		[]Sink{&fakeSink{name: "fs", fail: true}, &fakeSink{name: "cache", fail: false}}, nil, testLogger())

	id := o.Start(Request{Requirements: "x"})
	result := waitForTerminal(t, o, id)

	if result.Status != model.WorkflowCompleted {
		t.Fatalf("expected completed despite one sink failing, got %s (errors=%v)", result.Status, result.Errors)
	}
}

func TestOrchestrator_CancelMidFlightTerminatesCancelled(t *testing.T) {
	o := New(&fakeResearcher{}, &fakeDocumenter{delay: 50 * time.Millisecond},
		[]Validator{&fakeValidator{name: "completeness", score: 80}},
		[]Sink{&fakeSink{name: "cache"}}, nil, testLogger())

	id := o.Start(Request{Requirements: "x"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		result, _ := o.Status(id)
		if result.Phase == model.PhaseDocumentation {
			break
		}
		time.Sleep(time.Millisecond)
	}
	o.Cancel(id)

	result := waitForTerminal(t, o, id)
	if result.Status != model.WorkflowCancelled {
		t.Errorf("expected cancelled, got %s", result.Status)
	}
	if _, ok := result.Results[model.PhaseDeployment]; ok {
		t.Error("expected no deployment phase result after mid-flight cancel")
	}
}

func TestOrchestrator_StatisticsAndCleanup(t *testing.T) {
	o := New(&fakeResearcher{}, &fakeDocumenter{}, []Validator{&fakeValidator{name: "completeness", score: 80}},
		[]Sink{&fakeSink{name: "cache"}}, nil, testLogger())

	for i := 0; i < 3; i++ {
		id := o.Start(Request{Requirements: "x"})
		waitForTerminal(t, o, id)
	}

	stats := o.Statistics()
	if stats.Total != 3 || stats.Completed != 3 {
		t.Errorf("unexpected statistics: %+v", stats)
	}

	removed := o.Cleanup(1)
	if removed != 2 {
		t.Errorf("expected 2 removed keeping most recent 1, got %d", removed)
	}
}

func TestDetectLanguage_Heuristics(t *testing.T) {
	cases := []struct {
		sample model.CodeSample
		want   string
	}{
		{model.CodeSample{Language: "rust"}, "rust"},
		{model.CodeSample{Content: "package main\nfunc main() {}"}, "go"},
		{model.CodeSample{Content: "def foo():\n    pass"}, "python"},
		{model.CodeSample{Content: "function foo() {}"}, "javascript"},
		{model.CodeSample{Content: "???"}, "unknown"},
	}
	for _, c := range cases {
		if got := detectLanguage(c.sample); got != c.want {
			t.Errorf("detectLanguage(%+v) = %q, want %q", c.sample, got, c.want)
		}
	}
}

func TestComputeCompliance_FloorsAtZero(t *testing.T) {
	recs := make([]Recommendation, 6)
	for i := range recs {
		recs[i] = Recommendation{Severity: model.SeverityCritical}
	}
	if got := computeCompliance(recs); got != 0 {
		t.Errorf("expected compliance floored at 0, got %f", got)
	}
}
