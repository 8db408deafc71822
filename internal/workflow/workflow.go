// Package workflow drives the research-to-audit pipeline as a strictly
// linear phase state machine, tracked the way statemanager.Manager tracks
// long-running operations: per-id state, single writer, retained until
// cleanup.
package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ronkoch2-code/code-standards-auditor/internal/logging"
	"github.com/ronkoch2-code/code-standards-auditor/internal/model"
)

// Request is the caller-supplied input to Start.
type Request struct {
	Requirements   string
	CodeSamples    []model.CodeSample
	ProjectContext map[string]interface{}
	Preferences    map[string]interface{}
}

// Researcher classifies a free-text request and produces a Standard draft.
// Implementations call out to the LLM layer; the orchestrator treats it as
// an opaque phase dependency so it can be faked in tests.
type Researcher interface {
	Classify(ctx context.Context, requirements string) (RequestAnalysis, error)
	Research(ctx context.Context, analysis RequestAnalysis) (model.StandardDraft, error)
}

// RequestAnalysis is the research phase's classification of a free-text
// request.
type RequestAnalysis struct {
	Title      string `json:"title"`
	Category   model.Category `json:"category"`
	Language   string `json:"language"`
	Complexity string `json:"complexity"`
	Priority   string `json:"priority"`
}

// Documenter enriches a Standard draft with supporting material.
type Documenter interface {
	Enrich(ctx context.Context, draft model.StandardDraft) (Documentation, error)
}

// Documentation is the documentation phase's output bundle.
type Documentation struct {
	Guide              string   `json:"guide"`
	Examples           []string `json:"examples,omitempty"`
	Tooling            string   `json:"tooling,omitempty"`
	AdoptionStrategy   string   `json:"adoption_strategy,omitempty"`
	Metrics            string   `json:"metrics,omitempty"`
	FAQ                string   `json:"faq,omitempty"`
	QuickReference     string   `json:"quick_reference"`
	ImplementationChecklist string `json:"implementation_checklist"`
	OnboardingGuide    string   `json:"onboarding_guide"`
	ComplianceChecklist string  `json:"compliance_checklist"`
}

// Validator scores one quality dimension of a documented Standard.
type Validator interface {
	Name() string
	Validate(ctx context.Context, draft model.StandardDraft, doc Documentation) (ValidatorResult, error)
}

// ValidatorResult is one validator's scored opinion.
type ValidatorResult struct {
	Score           float64  `json:"score"`
	Issues          []string `json:"issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// ValidationReport aggregates every validator's result.
type ValidationReport struct {
	Results          map[string]ValidatorResult `json:"results"`
	Errors           map[string]string          `json:"errors,omitempty"`
	AggregateScore   float64                    `json:"aggregate_score"`
	ValidationPassed bool                       `json:"validation_passed"`
}

// Sink deploys a Standard and its documentation bundle to one destination
// (filesystem, graph store, cache).
type Sink interface {
	Name() string
	Deploy(ctx context.Context, draft model.StandardDraft, doc Documentation) (identifier string, err error)
}

// DeploymentReport aggregates every sink's outcome.
type DeploymentReport struct {
	Succeeded   map[string]string `json:"succeeded"` // sink name -> identifier
	Failed      map[string]string `json:"failed,omitempty"` // sink name -> error
	AllFailed   bool              `json:"all_failed"`
}

// Recommender produces enhanced recommendations for a code sample, given an
// optional newly-produced Standard as context.
type Recommender interface {
	Recommend(ctx context.Context, sample model.CodeSample, context *model.StandardDraft) ([]Recommendation, error)
}

// Recommendation is one suggested change with a severity classification
// used for compliance scoring.
type Recommendation struct {
	Category string         `json:"category"`
	Severity model.Severity `json:"severity"`
	Message  string         `json:"message"`
}

// SampleAnalysis is one code sample's compliance result.
type SampleAnalysis struct {
	Language        string           `json:"language"`
	Compliance      float64          `json:"compliance"`
	Recommendations []Recommendation `json:"recommendations"`
}

// AnalysisReport aggregates every sample's analysis.
type AnalysisReport struct {
	Samples            []SampleAnalysis `json:"samples"`
	MeanCompliance     float64          `json:"mean_compliance"`
	TopRecommendations []string         `json:"top_recommendation_categories"`
}

// PhaseResults is the accumulated, phase-keyed output of one workflow.
type PhaseResults map[model.WorkflowPhase]interface{}

// workflowState holds one in-flight workflow's mutable state behind mu.
// Its fields are unexported; snapshot copies them into a
// model.WorkflowResult for status queries.
type workflowState struct {
	mu        sync.Mutex
	id        string
	status    model.WorkflowStatus
	phase     model.WorkflowPhase
	request   Request
	results   PhaseResults
	errors    []string
	warnings  []string
	startedAt time.Time
	completedAt *time.Time
	cancelRequested bool
}

func (w *workflowState) snapshot() model.WorkflowResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	results := make(map[model.WorkflowPhase]interface{}, len(w.results))
	for k, v := range w.results {
		results[k] = v
	}
	var execTime time.Duration
	if w.completedAt != nil {
		execTime = w.completedAt.Sub(w.startedAt)
	} else {
		execTime = time.Since(w.startedAt)
	}
	completedAt := w.startedAt
	if w.completedAt != nil {
		completedAt = *w.completedAt
	}
	return model.WorkflowResult{
		WorkflowID:    w.id,
		Status:        w.status,
		Phase:         w.phase,
		Results:       results,
		Errors:        append([]string(nil), w.errors...),
		Warnings:      append([]string(nil), w.warnings...),
		ExecutionTime: execTime,
		CompletedAt:   completedAt,
	}
}

func (w *workflowState) isCancelRequested() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelRequested
}

// Orchestrator owns every in-flight and retained workflow.
type Orchestrator struct {
	researcher  Researcher
	documenter  Documenter
	validators  []Validator
	sinks       []Sink
	recommender Recommender
	logger      *logging.ContextLogger

	mu        sync.RWMutex
	workflows map[string]*workflowState
}

// New constructs an Orchestrator. Any of researcher/documenter/recommender
// may be nil only if the corresponding phase is never reached in practice;
// a nil dependency invoked at runtime fails that phase cleanly.
func New(researcher Researcher, documenter Documenter, validators []Validator, sinks []Sink, recommender Recommender, logger *logging.ContextLogger) *Orchestrator {
	return &Orchestrator{
		researcher:  researcher,
		documenter:  documenter,
		validators:  validators,
		sinks:       sinks,
		recommender: recommender,
		logger:      logger,
		workflows:   make(map[string]*workflowState),
	}
}

// Start registers a new workflow and runs its phases in a background
// goroutine, returning the workflow id immediately.
func (o *Orchestrator) Start(req Request) string {
	id := uuid.NewString()
	ws := &workflowState{
		id:        id,
		status:    model.WorkflowPending,
		phase:     model.PhaseInitialization,
		request:   req,
		results:   make(PhaseResults),
		startedAt: time.Now().UTC(),
	}

	o.mu.Lock()
	o.workflows[id] = ws
	o.mu.Unlock()

	go o.run(ws)

	return id
}

func (o *Orchestrator) run(ws *workflowState) {
	ctx := context.Background()

	ws.mu.Lock()
	ws.status = model.WorkflowInProgress
	ws.mu.Unlock()

	phases := []struct {
		phase model.WorkflowPhase
		run   func() (interface{}, error, bool) // result, error, skip
	}{
		{model.PhaseResearch, func() (interface{}, error, bool) { return o.runResearch(ctx, ws) }},
		{model.PhaseDocumentation, func() (interface{}, error, bool) { return o.runDocumentation(ctx, ws) }},
		{model.PhaseValidation, func() (interface{}, error, bool) { return o.runValidation(ctx, ws) }},
		{model.PhaseDeployment, func() (interface{}, error, bool) { return o.runDeployment(ctx, ws) }},
		{model.PhaseAnalysis, func() (interface{}, error, bool) { return o.runAnalysis(ctx, ws) }},
		{model.PhaseFeedback, func() (interface{}, error, bool) { return o.runFeedback(ctx, ws) }},
	}

	for _, p := range phases {
		if ws.isCancelRequested() {
			o.terminate(ws, model.WorkflowCancelled)
			return
		}

		ws.mu.Lock()
		ws.phase = p.phase
		ws.mu.Unlock()

		result, err, skip := p.run()
		if skip {
			continue
		}
		if err != nil {
			ws.mu.Lock()
			ws.errors = append(ws.errors, fmt.Sprintf("%s: %v", p.phase, err))
			ws.mu.Unlock()
			o.terminate(ws, model.WorkflowFailed)
			return
		}

		ws.mu.Lock()
		ws.results[p.phase] = result
		ws.mu.Unlock()

		if ws.isCancelRequested() {
			o.terminate(ws, model.WorkflowCancelled)
			return
		}
	}

	ws.mu.Lock()
	ws.phase = model.PhaseCompletion
	ws.mu.Unlock()
	o.terminate(ws, model.WorkflowCompleted)
}

func (o *Orchestrator) terminate(ws *workflowState, status model.WorkflowStatus) {
	now := time.Now().UTC()
	ws.mu.Lock()
	ws.status = status
	ws.completedAt = &now
	ws.mu.Unlock()
}

func (o *Orchestrator) runResearch(ctx context.Context, ws *workflowState) (interface{}, error, bool) {
	if o.researcher == nil {
		return nil, fmt.Errorf("workflow: no researcher configured"), false
	}
	analysis, err := o.researcher.Classify(ctx, ws.request.Requirements)
	if err != nil {
		return nil, err, false
	}
	draft, err := o.researcher.Research(ctx, analysis)
	if err != nil {
		return nil, err, false
	}
	return map[string]interface{}{"analysis": analysis, "standard": draft}, nil, false
}

func (o *Orchestrator) currentDraft(ws *workflowState) (model.StandardDraft, bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	research, ok := ws.results[model.PhaseResearch]
	if !ok {
		return model.StandardDraft{}, false
	}
	m, ok := research.(map[string]interface{})
	if !ok {
		return model.StandardDraft{}, false
	}
	draft, ok := m["standard"].(model.StandardDraft)
	return draft, ok
}

func (o *Orchestrator) runDocumentation(ctx context.Context, ws *workflowState) (interface{}, error, bool) {
	draft, ok := o.currentDraft(ws)
	if !ok {
		return nil, fmt.Errorf("workflow: no standard draft from research phase"), false
	}
	if o.documenter == nil {
		return nil, fmt.Errorf("workflow: no documenter configured"), false
	}
	doc, err := o.documenter.Enrich(ctx, draft)
	if err != nil {
		return nil, err, false
	}
	return doc, nil, false
}

func (o *Orchestrator) currentDoc(ws *workflowState) (Documentation, bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	raw, ok := ws.results[model.PhaseDocumentation]
	if !ok {
		return Documentation{}, false
	}
	doc, ok := raw.(Documentation)
	return doc, ok
}

func (o *Orchestrator) runValidation(ctx context.Context, ws *workflowState) (interface{}, error, bool) {
	draft, _ := o.currentDraft(ws)
	doc, _ := o.currentDoc(ws)
	return RunValidators(ctx, o.validators, draft, doc), nil, false
}

// RunValidators runs every validator against draft/doc concurrently and
// aggregates their scores, the same way the validation phase does. Exported
// so standalone endpoints (e.g. a one-off "validate this standard" request)
// can reuse the exact aggregation the 4.H workflow uses.
func RunValidators(ctx context.Context, validators []Validator, draft model.StandardDraft, doc Documentation) ValidationReport {
	type res struct {
		name   string
		result ValidatorResult
		err    error
	}
	out := make(chan res, len(validators))
	var wg sync.WaitGroup
	for _, v := range validators {
		wg.Add(1)
		go func(v Validator) {
			defer wg.Done()
			r, err := v.Validate(ctx, draft, doc)
			out <- res{name: v.Name(), result: r, err: err}
		}(v)
	}
	wg.Wait()
	close(out)

	report := ValidationReport{Results: make(map[string]ValidatorResult), Errors: make(map[string]string)}
	var sum float64
	var completed int
	for r := range out {
		if r.err != nil {
			report.Errors[r.name] = r.err.Error()
			continue
		}
		report.Results[r.name] = r.result
		sum += r.result.Score
		completed++
	}
	if completed > 0 {
		report.AggregateScore = sum / float64(completed)
	}
	report.ValidationPassed = report.AggregateScore >= 75
	return report
}

func (o *Orchestrator) runDeployment(ctx context.Context, ws *workflowState) (interface{}, error, bool) {
	draft, _ := o.currentDraft(ws)
	doc, _ := o.currentDoc(ws)

	type res struct {
		name string
		id   string
		err  error
	}
	out := make(chan res, len(o.sinks))
	var wg sync.WaitGroup
	for _, s := range o.sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			id, err := s.Deploy(ctx, draft, doc)
			out <- res{name: s.Name(), id: id, err: err}
		}(s)
	}
	wg.Wait()
	close(out)

	report := DeploymentReport{Succeeded: make(map[string]string), Failed: make(map[string]string)}
	for r := range out {
		if r.err != nil {
			report.Failed[r.name] = r.err.Error()
			continue
		}
		report.Succeeded[r.name] = r.id
	}
	report.AllFailed = len(o.sinks) > 0 && len(report.Succeeded) == 0
	if report.AllFailed {
		return report, fmt.Errorf("workflow: every deployment sink failed"), false
	}
	return report, nil, false
}

func detectLanguage(sample model.CodeSample) string {
	if sample.Language != "" {
		return sample.Language
	}
	content := sample.Content
	switch {
	case strings.Contains(content, "func ") && strings.Contains(content, "package "):
		return "go"
	case strings.Contains(content, "def ") && strings.Contains(content, ":"):
		return "python"
	case strings.Contains(content, "function ") || strings.Contains(content, "const "):
		return "javascript"
	default:
		return "unknown"
	}
}

func computeCompliance(recs []Recommendation) float64 {
	criticals, highs := 0, 0
	for _, r := range recs {
		switch r.Severity {
		case model.SeverityCritical:
			criticals++
		case model.SeverityHigh:
			highs++
		}
	}
	score := 100.0 - 20.0*float64(criticals) - 10.0*float64(highs)
	if score < 0 {
		score = 0
	}
	return score
}

func (o *Orchestrator) runAnalysis(ctx context.Context, ws *workflowState) (interface{}, error, bool) {
	ws.mu.Lock()
	samples := ws.request.CodeSamples
	ws.mu.Unlock()

	if len(samples) == 0 {
		return nil, nil, true // skip: no code samples provided
	}
	if o.recommender == nil {
		return nil, fmt.Errorf("workflow: no recommender configured"), false
	}

	draft, hasDraft := o.currentDraft(ws)
	var draftPtr *model.StandardDraft
	if hasDraft {
		draftPtr = &draft
	}

	var sampleAnalyses []SampleAnalysis
	var totalCompliance float64
	categoryCounts := make(map[string]int)

	for _, sample := range samples {
		recs, err := o.recommender.Recommend(ctx, sample, draftPtr)
		if err != nil {
			return nil, err, false
		}
		compliance := computeCompliance(recs)
		totalCompliance += compliance
		for _, r := range recs {
			categoryCounts[r.Category]++
		}
		sampleAnalyses = append(sampleAnalyses, SampleAnalysis{
			Language:        detectLanguage(sample),
			Compliance:      compliance,
			Recommendations: recs,
		})
	}

	type catCount struct {
		name  string
		count int
	}
	var cats []catCount
	for name, count := range categoryCounts {
		cats = append(cats, catCount{name, count})
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i].count > cats[j].count })
	var top []string
	for i := 0; i < len(cats) && i < 3; i++ {
		top = append(top, cats[i].name)
	}

	report := AnalysisReport{
		Samples:            sampleAnalyses,
		MeanCompliance:     totalCompliance / float64(len(samples)),
		TopRecommendations: top,
	}
	return report, nil, false
}

func (o *Orchestrator) runFeedback(ctx context.Context, ws *workflowState) (interface{}, error, bool) {
	ws.mu.Lock()
	results := ws.results
	ws.mu.Unlock()

	var b strings.Builder
	b.WriteString("Workflow completed successfully.\n")
	if v, ok := results[model.PhaseValidation].(ValidationReport); ok {
		fmt.Fprintf(&b, "Validation score: %.1f (passed=%v)\n", v.AggregateScore, v.ValidationPassed)
	}
	if a, ok := results[model.PhaseAnalysis].(AnalysisReport); ok {
		fmt.Fprintf(&b, "Mean code compliance: %.1f, top issue categories: %s\n", a.MeanCompliance, strings.Join(a.TopRecommendations, ", "))
	}
	return b.String(), nil, false
}

// Status returns a snapshot of a tracked workflow's state.
func (o *Orchestrator) Status(id string) (model.WorkflowResult, bool) {
	o.mu.RLock()
	ws, ok := o.workflows[id]
	o.mu.RUnlock()
	if !ok {
		return model.WorkflowResult{}, false
	}
	return ws.snapshot(), true
}

// Cancel requests cancellation of a tracked workflow. Cancellation takes
// effect at the next phase boundary; a phase already running finishes its
// calls first. The workflow always terminates in cancelled.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.RLock()
	ws, ok := o.workflows[id]
	o.mu.RUnlock()
	if !ok {
		return false
	}
	ws.mu.Lock()
	ws.cancelRequested = true
	ws.mu.Unlock()
	return true
}

// Statistics summarizes every tracked workflow by status.
type Statistics struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

func (o *Orchestrator) Statistics() Statistics {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var s Statistics
	s.Total = len(o.workflows)
	for _, ws := range o.workflows {
		ws.mu.Lock()
		status := ws.status
		ws.mu.Unlock()
		switch status {
		case model.WorkflowPending:
			s.Pending++
		case model.WorkflowInProgress:
			s.InProgress++
		case model.WorkflowCompleted:
			s.Completed++
		case model.WorkflowFailed:
			s.Failed++
		case model.WorkflowCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Cleanup removes terminal workflows, releasing their context, keeping the
// most recently completed keepRecent of them.
func (o *Orchestrator) Cleanup(keepRecent int) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	type entry struct {
		id          string
		completedAt time.Time
	}
	var terminal []entry
	for id, ws := range o.workflows {
		ws.mu.Lock()
		status := ws.status
		completedAt := ws.completedAt
		ws.mu.Unlock()
		if status == model.WorkflowCompleted || status == model.WorkflowFailed || status == model.WorkflowCancelled {
			ts := time.Time{}
			if completedAt != nil {
				ts = *completedAt
			}
			terminal = append(terminal, entry{id, ts})
		}
	}
	sort.Slice(terminal, func(i, j int) bool { return terminal[i].completedAt.After(terminal[j].completedAt) })

	if len(terminal) <= keepRecent {
		return 0
	}
	for _, e := range terminal[keepRecent:] {
		delete(o.workflows, e.id)
	}
	return len(terminal) - keepRecent
}
