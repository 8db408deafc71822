// Package llm manages dispatch across interchangeable LLM vendor providers:
// health-tracked fallback, tier-to-model resolution, and streaming, mirroring
// the service's http/client.go retry-and-backoff idiom generalized to a
// provider-interface capability set instead of a single REST client.
package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/ronkoch2-code/code-standards-auditor/internal/model"
)

// Provider is the capability set every LLM vendor integration implements.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req model.LLMRequest) (model.LLMResponse, error)
	StreamGenerate(ctx context.Context, req model.LLMRequest) (<-chan string, <-chan error)
	ResolveModel(tier model.ModelTier) string
}

// Health tracks a provider's availability state. Mutated only by the
// Manager during Generate/StreamGenerate; reads may race benignly since
// error_count is monotonic until an explicit reset.
type Health struct {
	mu         sync.Mutex
	available  bool
	errorCount int
	lastError  string
}

const tripThreshold = 3

func newHealth() *Health {
	return &Health{available: true}
}

func (h *Health) recordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errorCount = 0
	h.available = true
	h.lastError = ""
}

func (h *Health) recordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errorCount++
	h.lastError = err.Error()
	if h.errorCount >= tripThreshold {
		h.available = false
	}
}

// Reset returns the provider to its initial healthy state.
func (h *Health) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errorCount = 0
	h.available = true
	h.lastError = ""
}

// Snapshot is a point-in-time read of a provider's health.
type Snapshot struct {
	Name       string `json:"name"`
	Available  bool   `json:"available"`
	ErrorCount int    `json:"error_count"`
	LastError  string `json:"last_error,omitempty"`
}

func (h *Health) snapshot(name string) Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{Name: name, Available: h.available, ErrorCount: h.errorCount, LastError: h.lastError}
}

func (h *Health) isAvailable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.available
}

// registration pairs a Provider with its Health tracker; preference order is
// kept separately in Manager.order.
type registration struct {
	provider Provider
	health   *Health
}

// Manager dispatches generate/stream requests across registered providers
// in preference order, skipping unavailable ones and falling back on error.
type Manager struct {
	mu       sync.RWMutex
	order    []string
	registry map[string]*registration
}

func NewManager() *Manager {
	return &Manager{registry: make(map[string]*registration)}
}

// Register adds a provider at the end of the preference order.
func (m *Manager) Register(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry[p.Name()] = &registration{provider: p, health: newHealth()}
	m.order = append(m.order, p.Name())
}

// attemptOrder builds preferred-first, then configured order, deduplicated.
func (m *Manager) attemptOrder(preferred string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order := make([]string, 0, len(m.order))
	seen := map[string]bool{}
	if preferred != "" {
		if _, ok := m.registry[preferred]; ok {
			order = append(order, preferred)
			seen[preferred] = true
		}
	}
	for _, name := range m.order {
		if !seen[name] {
			order = append(order, name)
			seen[name] = true
		}
	}
	return order
}

func (m *Manager) get(name string) *registration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry[name]
}

// Generate dispatches to the first available provider that succeeds,
// recording health transitions along the way. Returns a composite error
// naming every attempt when the whole list is exhausted.
func (m *Manager) Generate(ctx context.Context, req model.LLMRequest, preferred string) (model.LLMResponse, error) {
	var attempts []string
	for _, name := range m.attemptOrder(preferred) {
		reg := m.get(name)
		if reg == nil || !reg.health.isAvailable() {
			continue
		}
		resp, err := reg.provider.Generate(ctx, req)
		if err != nil {
			reg.health.recordFailure(err)
			attempts = append(attempts, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		reg.health.recordSuccess()
		return resp, nil
	}
	return model.LLMResponse{}, fmt.Errorf("llm: all providers failed: %v", attempts)
}

// StreamGenerate obeys the same fallback order but commits to the first
// provider that yields a chunk; a mid-stream error on the committed
// provider surfaces without retry.
func (m *Manager) StreamGenerate(ctx context.Context, req model.LLMRequest, preferred string) (<-chan string, <-chan error) {
	out := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		var attempts []string
		for _, name := range m.attemptOrder(preferred) {
			reg := m.get(name)
			if reg == nil || !reg.health.isAvailable() {
				continue
			}

			chunks, errc := reg.provider.StreamGenerate(ctx, req)
			first, ok := <-chunks
			if !ok {
				if err := <-errc; err != nil {
					reg.health.recordFailure(err)
					attempts = append(attempts, fmt.Sprintf("%s: %v", name, err))
					continue
				}
				// empty successful stream: commit with nothing further to send
				reg.health.recordSuccess()
				return
			}

			// Committed: forward remaining chunks and the terminal error, if any.
			reg.health.recordSuccess()
			out <- first
			for chunk := range chunks {
				out <- chunk
			}
			if err := <-errc; err != nil {
				errs <- err
			}
			return
		}
		errs <- fmt.Errorf("llm: all providers failed: %v", attempts)
	}()

	return out, errs
}

// HealthSnapshot returns a snapshot of every registered provider's health state.
func (m *Manager) HealthSnapshot() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.order))
	for _, name := range m.order {
		reg := m.registry[name]
		out = append(out, reg.health.snapshot(name))
	}
	return out
}

// ResetProvider restores one provider's health to its initial state,
// allowing the Manager to re-probe it on the next dispatch.
func (m *Manager) ResetProvider(name string) {
	if reg := m.get(name); reg != nil {
		reg.health.Reset()
	}
}
