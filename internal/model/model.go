// Package model defines the core data types shared across the standards
// auditor: standards, violations, code patterns, sync metadata, LLM
// request/response envelopes, prompt templates, and workflow state.
package model

import "time"

// Category enumerates the topical axis of a Standard.
type Category string

const (
	CategorySecurity       Category = "security"
	CategoryPerformance    Category = "performance"
	CategoryTesting        Category = "testing"
	CategoryErrorHandling  Category = "error-handling"
	CategoryStyle          Category = "style"
	CategoryDocumentation  Category = "documentation"
	CategoryArchitecture   Category = "architecture"
	CategoryAPI            Category = "api"
	CategoryDeployment     Category = "deployment"
	CategoryBestPractices  Category = "best-practices"
)

// Severity enumerates the urgency axis of a Standard or Violation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Example is a before/after illustration attached to a Standard.
type Example struct {
	Before      string `json:"before"`
	After       string `json:"after"`
	Explanation string `json:"explanation,omitempty"`
}

// Standard is the canonical unit of guidance. Natural key for dedup and
// upsert purposes is (Language, Category, Name) — id identifies revisions,
// it does not disambiguate duplicates.
type Standard struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Language    string    `json:"language"`
	Category    Category  `json:"category"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Examples    []Example `json:"examples,omitempty"`
	Version     string    `json:"version"`
	Active      bool      `json:"active"`
	FileSource  string    `json:"file_source,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NaturalKey returns the dedup/upsert key for a Standard.
func (s *Standard) NaturalKey() (language string, category Category, name string) {
	return s.Language, s.Category, s.Name
}

// StandardDraft is a Standard missing ID and timestamps, produced by the
// parser and by AI research before the caller assigns identity.
type StandardDraft struct {
	Name        string
	Language    string
	Category    Category
	Severity    Severity
	Description string
	Examples    []Example
	Version     string
}

// StandardHistoryEntry is an archived prior revision of a Standard.
type StandardHistoryEntry struct {
	Title          string    `json:"title"`
	Version        string    `json:"version"`
	ArchivedAt     time.Time `json:"archived_at"`
	Content        Standard  `json:"content"`
	PreviousVersion string   `json:"previous_version,omitempty"`
}

// Violation is a single audit finding tied to a Standard.
type Violation struct {
	ID         string    `json:"id"`
	StandardID string    `json:"standard_id"`
	FilePath   string    `json:"file_path"`
	Line       int       `json:"line"`
	Column     int       `json:"column"`
	Message    string    `json:"message"`
	Severity   Severity  `json:"severity"`
	Suggestion string    `json:"suggestion,omitempty"`
	ProjectID  string    `json:"project_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// CodePattern is a recurring code shape observed during audits, with a
// monotonic observation counter and an optional terminal evolution into a
// Standard.
type CodePattern struct {
	ID           string    `json:"id"`
	Pattern      string    `json:"pattern"`
	Language     string    `json:"language"`
	Description  string    `json:"description"`
	Category     Category  `json:"category"`
	Frequency    int64     `json:"frequency"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	EvolvedInto  string    `json:"evolved_into,omitempty"`
}

// FileMetadata is the sync engine's per-file change-detection record,
// persisted in the sidecar index.
type FileMetadata struct {
	Path            string `json:"path"`
	LastModified    int64  `json:"last_modified"`
	ContentHash     string `json:"content_hash"`
	StandardsCount  int    `json:"standards_count"`
}

// HasChanged reports whether the receiver differs from a previously
// persisted record of the same file.
func (m FileMetadata) HasChanged(prior FileMetadata) bool {
	return m.LastModified != prior.LastModified || m.ContentHash != prior.ContentHash
}

// ModelTier selects the cost/quality tier an LLM provider resolves to a
// concrete model name.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierBalanced ModelTier = "balanced"
	TierAdvanced ModelTier = "advanced"
)

// LLMRequest is the provider-agnostic request envelope.
type LLMRequest struct {
	Prompt       string                 `json:"prompt"`
	SystemPrompt string                 `json:"system_prompt,omitempty"`
	Temperature  float64                `json:"temperature"`
	MaxTokens    int                    `json:"max_tokens,omitempty"`
	StopSequences []string              `json:"stop_sequences,omitempty"`
	ModelTier    ModelTier              `json:"model_tier"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// TokenUsage reports token accounting for a single LLM call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMResponse is the provider-agnostic response envelope.
type LLMResponse struct {
	Content   string                 `json:"content"`
	Provider  string                 `json:"provider"`
	Model     string                 `json:"model"`
	Usage     TokenUsage             `json:"usage"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// PromptTemplate is a named string with typed variable slots.
type PromptTemplate struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Template     string   `json:"template"`
	Variables    []string `json:"variables"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
}

// WorkflowPhase enumerates the linear phases of the research-to-audit
// pipeline.
type WorkflowPhase string

const (
	PhaseInitialization WorkflowPhase = "initialization"
	PhaseResearch       WorkflowPhase = "research"
	PhaseDocumentation  WorkflowPhase = "documentation"
	PhaseValidation     WorkflowPhase = "validation"
	PhaseDeployment     WorkflowPhase = "deployment"
	PhaseAnalysis       WorkflowPhase = "analysis"
	PhaseFeedback       WorkflowPhase = "feedback"
	PhaseCompletion     WorkflowPhase = "completion"
)

// WorkflowStatus is the terminal or in-flight state of a workflow.
type WorkflowStatus string

const (
	WorkflowPending    WorkflowStatus = "pending"
	WorkflowInProgress WorkflowStatus = "in_progress"
	WorkflowCompleted  WorkflowStatus = "completed"
	WorkflowFailed     WorkflowStatus = "failed"
	WorkflowCancelled  WorkflowStatus = "cancelled"
)

// WorkflowContext holds the mutable state of one in-flight workflow. Owned
// exclusively by the Orchestrator; released on terminal transition.
type WorkflowContext struct {
	WorkflowID     string                 `json:"workflow_id"`
	UserID         string                 `json:"user_id,omitempty"`
	ProjectContext map[string]interface{} `json:"project_context,omitempty"`
	Requirements   string                 `json:"requirements"`
	Preferences    map[string]interface{} `json:"preferences,omitempty"`
	SessionData    map[string]interface{} `json:"session_data,omitempty"`
	CodeSamples    []CodeSample           `json:"code_samples,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// CodeSample is a single code submission accompanying a workflow request.
type CodeSample struct {
	Language string `json:"language,omitempty"`
	Content  string `json:"content"`
	Path     string `json:"path,omitempty"`
}

// WorkflowResult is the retained outcome of a terminated workflow.
type WorkflowResult struct {
	WorkflowID    string                   `json:"workflow_id"`
	Status        WorkflowStatus           `json:"status"`
	Phase         WorkflowPhase            `json:"phase"`
	Results       map[WorkflowPhase]interface{} `json:"results"`
	Errors        []string                 `json:"errors,omitempty"`
	Warnings      []string                 `json:"warnings,omitempty"`
	ExecutionTime time.Duration            `json:"execution_time"`
	CompletedAt   time.Time                `json:"completed_at"`
}

// BatchItemStatus is the terminal or in-flight state of one batch item.
type BatchItemStatus string

const (
	BatchItemPending    BatchItemStatus = "pending"
	BatchItemProcessing BatchItemStatus = "processing"
	BatchItemCompleted  BatchItemStatus = "completed"
	BatchItemFailed     BatchItemStatus = "failed"
	BatchItemCancelled  BatchItemStatus = "cancelled"
)

// BatchStatus is the aggregate state of a BatchJob.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchCancelled  BatchStatus = "cancelled"
)

// BatchItem is one unit of work within a BatchJob.
type BatchItem struct {
	ID       string          `json:"id"`
	Request  LLMRequest      `json:"request"`
	Status   BatchItemStatus `json:"status"`
	Response *LLMResponse    `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
	Retries  int             `json:"retries"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// BatchJob is a unit of bounded-concurrency parallel LLM execution.
type BatchJob struct {
	ID          string                 `json:"id"`
	Items       []*BatchItem           `json:"items"`
	Status      BatchStatus            `json:"status"`
	Progress    float64                `json:"progress"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Config      map[string]interface{} `json:"config,omitempty"`
}

// CompletedCount returns the number of items that finished successfully.
func (j *BatchJob) CompletedCount() int {
	n := 0
	for _, it := range j.Items {
		if it.Status == BatchItemCompleted {
			n++
		}
	}
	return n
}

// FailedCount returns the number of items that exhausted retries.
func (j *BatchJob) FailedCount() int {
	n := 0
	for _, it := range j.Items {
		if it.Status == BatchItemFailed {
			n++
		}
	}
	return n
}

// CalculateProgress returns terminal-items / total-items, 1.0 for an empty
// job.
func (j *BatchJob) CalculateProgress() float64 {
	if len(j.Items) == 0 {
		return 1.0
	}
	terminal := 0
	for _, it := range j.Items {
		switch it.Status {
		case BatchItemCompleted, BatchItemFailed, BatchItemCancelled:
			terminal++
		}
	}
	return float64(terminal) / float64(len(j.Items))
}
