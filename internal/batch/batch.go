// Package batch dispatches bounded-concurrency groups of LLM requests,
// generalizing the service's worker.Pool semaphore-and-retry idiom from a
// queue-backed job runner to an in-process fan-out over a single caller-
// supplied request slice.
package batch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ronkoch2-code/code-standards-auditor/internal/cache"
	"github.com/ronkoch2-code/code-standards-auditor/internal/llm"
	"github.com/ronkoch2-code/code-standards-auditor/internal/logging"
	"github.com/ronkoch2-code/code-standards-auditor/internal/model"
)

// ProgressEvent is emitted to every registered callback as a batch advances.
type ProgressEvent struct {
	Phase     string  `json:"phase"` // started|processing|completed|failed|cancelled
	Total     int     `json:"total_items"`
	Progress  float64 `json:"progress"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
}

// ProgressCallback receives progress events. Panics and errors from a
// callback never abort the batch; callbacks are invoked synchronously and
// recovered individually.
type ProgressCallback func(ProgressEvent)

// Config controls one batch's execution. Zero value yields the package
// defaults.
type Config struct {
	MaxConcurrent      int
	RateLimitPerMinute int // 0 = unlimited
	MaxRetries         int
	RetryDelay         time.Duration
}

// DefaultConfig returns the dispatcher's baseline tuning.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 5,
		MaxRetries:    2,
		RetryDelay:    time.Second,
	}
}

func (c Config) withDefaults() Config {
	out := c
	if out.MaxConcurrent <= 0 {
		out.MaxConcurrent = 5
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = time.Second
	}
	return out
}

// rateLimiter is a process-wide sliding window over the last 60 seconds.
type rateLimiter struct {
	mu         sync.Mutex
	limit      int // 0 = unlimited
	timestamps []time.Time
}

func newRateLimiter(limitPerMinute int) *rateLimiter {
	return &rateLimiter{limit: limitPerMinute}
}

// wait blocks until the caller is allowed to proceed, then records the
// admission. A limit of 0 never blocks.
func (r *rateLimiter) wait(ctx context.Context) error {
	if r.limit <= 0 {
		return nil
	}
	for {
		r.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-60 * time.Second)
		kept := r.timestamps[:0]
		for _, t := range r.timestamps {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		r.timestamps = kept

		if len(r.timestamps) < r.limit {
			r.timestamps = append(r.timestamps, now)
			r.mu.Unlock()
			return nil
		}
		oldest := r.timestamps[0]
		r.mu.Unlock()

		wait := oldest.Add(60 * time.Second).Sub(now)
		if wait <= 0 {
			continue
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Dispatcher executes batches of LLM requests with bounded concurrency,
// response caching, and linear retry backoff.
type Dispatcher struct {
	manager *llm.Manager
	cache   cache.Cache
	logger  *logging.ContextLogger
	limiter *rateLimiter

	mu        sync.RWMutex
	jobs      map[string]*model.BatchJob
	cancelled map[string]bool

	callbackMu sync.RWMutex
	callbacks  []ProgressCallback
}

// NewDispatcher constructs a Dispatcher. rateLimitPerMinute of 0 disables
// rate limiting.
func NewDispatcher(manager *llm.Manager, c cache.Cache, logger *logging.ContextLogger, rateLimitPerMinute int) *Dispatcher {
	return &Dispatcher{
		manager:   manager,
		cache:     c,
		logger:    logger,
		limiter:   newRateLimiter(rateLimitPerMinute),
		jobs:      make(map[string]*model.BatchJob),
		cancelled: make(map[string]bool),
	}
}

// OnProgress registers a callback invoked on every phase transition across
// every batch this dispatcher runs.
func (d *Dispatcher) OnProgress(cb ProgressCallback) {
	d.callbackMu.Lock()
	defer d.callbackMu.Unlock()
	d.callbacks = append(d.callbacks, cb)
}

func (d *Dispatcher) notify(evt ProgressEvent) {
	d.callbackMu.RLock()
	cbs := append([]ProgressCallback(nil), d.callbacks...)
	d.callbackMu.RUnlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.WithField("panic", r).Warn("batch progress callback panicked")
				}
			}()
			cb(evt)
		}()
	}
}

// ProcessBatch runs every request with bounded concurrency and blocks until
// the whole batch reaches a terminal state, returning the finished job. The
// job is visible to GetJob/GetStatus/Cancel from the moment it is created,
// before this call returns.
func (d *Dispatcher) ProcessBatch(ctx context.Context, jobID string, requests []model.LLMRequest, cfg Config) (*model.BatchJob, error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	cfg = cfg.withDefaults()

	items := make([]*model.BatchItem, len(requests))
	for i, req := range requests {
		items[i] = &model.BatchItem{ID: fmt.Sprintf("%s-%d", jobID, i), Request: req, Status: model.BatchItemPending}
	}

	now := time.Now().UTC()
	job := &model.BatchJob{ID: jobID, Items: items, Status: model.BatchPending, StartedAt: &now}

	d.mu.Lock()
	d.jobs[jobID] = job
	d.mu.Unlock()

	total := len(items)
	d.notify(ProgressEvent{Phase: "started", Total: total})

	job.Status = model.BatchProcessing

	sem := make(chan struct{}, cfg.MaxConcurrent)
	var wg sync.WaitGroup
	var progressMu sync.Mutex

	for _, item := range items {
		if d.isCancelled(jobID) {
			item.Status = model.BatchItemCancelled
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(it *model.BatchItem) {
			defer wg.Done()
			defer func() { <-sem }()

			if d.isCancelled(jobID) {
				it.Status = model.BatchItemCancelled
				return
			}

			d.runItem(ctx, it, cfg)

			progressMu.Lock()
			completed := job.CompletedCount()
			failed := job.FailedCount()
			progressMu.Unlock()

			d.notify(ProgressEvent{
				Phase:     "processing",
				Total:     total,
				Progress:  job.CalculateProgress(),
				Completed: completed,
				Failed:    failed,
			})
		}(item)
	}

	wg.Wait()

	completedAt := time.Now().UTC()
	job.CompletedAt = &completedAt
	job.Progress = job.CalculateProgress()

	switch {
	case d.isCancelled(jobID):
		job.Status = model.BatchCancelled
	case job.FailedCount() > 0 && job.CompletedCount() == 0:
		job.Status = model.BatchFailed
	default:
		job.Status = model.BatchCompleted
	}

	d.notify(ProgressEvent{
		Phase:     string(job.Status),
		Total:     total,
		Progress:  job.Progress,
		Completed: job.CompletedCount(),
		Failed:    job.FailedCount(),
	})

	return job, nil
}

func (d *Dispatcher) runItem(ctx context.Context, item *model.BatchItem, cfg Config) {
	item.Status = model.BatchItemProcessing

	if err := d.limiter.wait(ctx); err != nil {
		item.Status = model.BatchItemFailed
		item.Error = err.Error()
		return
	}

	key := cache.Key(item.Request.Prompt, string(item.Request.ModelTier), item.Request.Temperature, item.Request.Metadata)
	namespacedKey := cache.NamespacedKey(cache.NamespaceLLMResponse, key)

	if d.cache != nil {
		if raw, hit, err := d.cache.Get(ctx, namespacedKey); err == nil && hit {
			item.Response = &model.LLMResponse{Content: string(raw), Provider: "cache"}
			item.Status = model.BatchItemCompleted
			return
		}
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		resp, err := d.manager.Generate(ctx, item.Request, "")
		if err == nil {
			item.Response = &resp
			item.Status = model.BatchItemCompleted
			if d.cache != nil {
				_ = d.cache.Set(ctx, namespacedKey, []byte(resp.Content), cache.DefaultTTL(cache.NamespaceLLMResponse))
			}
			return
		}
		lastErr = err
		item.Retries = attempt + 1
		if attempt < cfg.MaxRetries {
			select {
			case <-time.After(cfg.RetryDelay * time.Duration(attempt+1)):
			case <-ctx.Done():
				item.Status = model.BatchItemFailed
				item.Error = ctx.Err().Error()
				return
			}
		}
	}

	item.Status = model.BatchItemFailed
	if lastErr != nil {
		item.Error = lastErr.Error()
	}
}

func (d *Dispatcher) isCancelled(jobID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cancelled[jobID]
}

// GetJob returns the tracked job by id.
func (d *Dispatcher) GetJob(jobID string) (*model.BatchJob, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	j, ok := d.jobs[jobID]
	return j, ok
}

// GetStatus returns a job's aggregate status.
func (d *Dispatcher) GetStatus(jobID string) (model.BatchStatus, bool) {
	j, ok := d.GetJob(jobID)
	if !ok {
		return "", false
	}
	return j.Status, true
}

// GetResults returns a job's items.
func (d *Dispatcher) GetResults(jobID string) ([]*model.BatchItem, bool) {
	j, ok := d.GetJob(jobID)
	if !ok {
		return nil, false
	}
	return j.Items, true
}

// Cancel marks a job cancelled. In-flight items may still complete; no new
// items begin.
func (d *Dispatcher) Cancel(jobID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.jobs[jobID]; !ok {
		return false
	}
	d.cancelled[jobID] = true
	return true
}

// ListJobs returns every tracked job, ordered by id.
func (d *Dispatcher) ListJobs() []*model.BatchJob {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*model.BatchJob, 0, len(d.jobs))
	for _, j := range d.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CleanupCompleted removes terminal jobs beyond the most recent keepRecent,
// ordered by completion time, and reports how many were removed.
func (d *Dispatcher) CleanupCompleted(keepRecent int) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	type entry struct {
		id          string
		completedAt time.Time
	}
	var terminal []entry
	for id, j := range d.jobs {
		if j.Status == model.BatchCompleted || j.Status == model.BatchFailed || j.Status == model.BatchCancelled {
			ts := time.Time{}
			if j.CompletedAt != nil {
				ts = *j.CompletedAt
			}
			terminal = append(terminal, entry{id: id, completedAt: ts})
		}
	}
	sort.Slice(terminal, func(i, j int) bool { return terminal[i].completedAt.After(terminal[j].completedAt) })

	if len(terminal) <= keepRecent {
		return 0
	}
	toRemove := terminal[keepRecent:]
	for _, e := range toRemove {
		delete(d.jobs, e.id)
		delete(d.cancelled, e.id)
	}
	return len(toRemove)
}

// Statistics summarizes this dispatcher's job set.
type Statistics struct {
	TotalJobs     int `json:"total_jobs"`
	PendingJobs   int `json:"pending_jobs"`
	ProcessingJobs int `json:"processing_jobs"`
	CompletedJobs int `json:"completed_jobs"`
	FailedJobs    int `json:"failed_jobs"`
	CancelledJobs int `json:"cancelled_jobs"`
	TotalItems    int `json:"total_items"`
	CompletedItems int `json:"completed_items"`
	FailedItems   int `json:"failed_items"`
}

// Statistics computes aggregate counts across every tracked job.
func (d *Dispatcher) Statistics() Statistics {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var s Statistics
	s.TotalJobs = len(d.jobs)
	for _, j := range d.jobs {
		switch j.Status {
		case model.BatchPending:
			s.PendingJobs++
		case model.BatchProcessing:
			s.ProcessingJobs++
		case model.BatchCompleted:
			s.CompletedJobs++
		case model.BatchFailed:
			s.FailedJobs++
		case model.BatchCancelled:
			s.CancelledJobs++
		}
		s.TotalItems += len(j.Items)
		s.CompletedItems += j.CompletedCount()
		s.FailedItems += j.FailedCount()
	}
	return s
}
