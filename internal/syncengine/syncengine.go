// Package syncengine reconciles a filesystem tree of markdown standards
// documents against the graph store, following the service's
// read-hash-compare-reconcile idiom for keeping a persistent store in step
// with files on disk.
package syncengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ronkoch2-code/code-standards-auditor/internal/graphstore"
	"github.com/ronkoch2-code/code-standards-auditor/internal/logging"
	"github.com/ronkoch2-code/code-standards-auditor/internal/model"
	"github.com/ronkoch2-code/code-standards-auditor/internal/parser"
)

// ChangeKind classifies how a discovered file compares to the persisted
// index.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// Stats summarizes the outcome of one sync_all run.
type Stats struct {
	Added             int       `json:"added"`
	Modified          int       `json:"modified"`
	Deleted           int       `json:"deleted"`
	StandardsUpserted int       `json:"standards_upserted"`
	StandardsDeleted  int       `json:"standards_deleted"`
	Errors            []string  `json:"errors,omitempty"`
	CompletedAt       time.Time `json:"completed_at"`
}

// Status is the snapshot returned by Engine.Status.
type Status struct {
	FilesTracked     int        `json:"files_tracked"`
	StandardsInFiles int        `json:"standards_in_files"`
	StandardsInDB    int        `json:"standards_in_db"`
	LastSync         *time.Time `json:"last_sync,omitempty"`
	Synchronized     bool       `json:"synchronized"`
}

// index is the persisted sidecar: canonical file path -> metadata.
type index struct {
	Files map[string]model.FileMetadata `json:"files"`
}

// Engine walks a standards root directory, detects file-level changes
// against a persisted index, and reconciles the graph store accordingly.
type Engine struct {
	root      string
	indexPath string
	store     graphstore.Store
	logger    *logging.ContextLogger

	mu       sync.Mutex
	idx      index
	lastSync *time.Time
}

// New constructs an Engine rooted at root, persisting its sidecar index at
// indexPath.
func New(root, indexPath string, store graphstore.Store, logger *logging.ContextLogger) *Engine {
	return &Engine{
		root:      root,
		indexPath: indexPath,
		store:     store,
		logger:    logger,
		idx:       index{Files: make(map[string]model.FileMetadata)},
	}
}

// discovered is one markdown file found under the standards root.
type discovered struct {
	path     string // canonical absolute path
	language string
	bytes    []byte
	mtime    int64
	hash     string
}

// Discover walks the standards root one level of language directories
// deep, globbing *.md flatly within each language directory. Subdirectories
// beneath a language directory are category hints, not recursed into.
// Hidden files are skipped.
func (e *Engine) Discover() ([]discovered, error) {
	entries, err := os.ReadDir(e.root)
	if err != nil {
		return nil, fmt.Errorf("syncengine: read root: %w", err)
	}

	var out []discovered
	for _, langEntry := range entries {
		if !langEntry.IsDir() || strings.HasPrefix(langEntry.Name(), ".") {
			continue
		}
		language := langEntry.Name()
		langDir := filepath.Join(e.root, language)

		matches, err := filepath.Glob(filepath.Join(langDir, "*.md"))
		if err != nil {
			return nil, fmt.Errorf("syncengine: glob %s: %w", langDir, err)
		}
		sort.Strings(matches)

		for _, path := range matches {
			base := filepath.Base(path)
			if strings.HasPrefix(base, ".") {
				continue
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return nil, fmt.Errorf("syncengine: abs path %s: %w", path, err)
			}
			info, err := os.Stat(abs)
			if err != nil {
				return nil, fmt.Errorf("syncengine: stat %s: %w", abs, err)
			}
			data, err := os.ReadFile(abs)
			if err != nil {
				return nil, fmt.Errorf("syncengine: read %s: %w", abs, err)
			}
			sum := sha256.Sum256(data)
			out = append(out, discovered{
				path:     abs,
				language: language,
				bytes:    data,
				mtime:    info.ModTime().Unix(),
				hash:     hex.EncodeToString(sum[:]),
			})
		}
	}
	return out, nil
}

// classify compares discovered files to the persisted index, producing a
// change classification for every file seen in either side.
func classify(discovered []discovered, idx index, force bool) map[string]ChangeKind {
	changes := make(map[string]ChangeKind)
	seen := make(map[string]bool, len(discovered))

	for _, d := range discovered {
		seen[d.path] = true
		prior, existed := idx.Files[d.path]
		if !existed {
			changes[d.path] = ChangeAdded
			continue
		}
		if force {
			changes[d.path] = ChangeModified
			continue
		}
		current := model.FileMetadata{LastModified: d.mtime, ContentHash: d.hash}
		if current.HasChanged(prior) {
			changes[d.path] = ChangeModified
		}
	}

	for path := range idx.Files {
		if !seen[path] {
			changes[path] = ChangeDeleted
		}
	}

	return changes
}

// SyncAll runs one full discovery/classify/reconcile pass. force=true
// reclassifies every discovered file as modified regardless of hash/mtime.
func (e *Engine) SyncAll(ctx context.Context, force bool) (Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Stats{}

	discoveredFiles, err := e.Discover()
	if err != nil {
		stats.Errors = append(stats.Errors, err.Error())
		return stats, err
	}

	byPath := make(map[string]discovered, len(discoveredFiles))
	for _, d := range discoveredFiles {
		byPath[d.path] = d
	}

	changes := classify(discoveredFiles, e.idx, force)

	paths := make([]string, 0, len(changes))
	for p := range changes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	newIdx := index{Files: make(map[string]model.FileMetadata, len(e.idx.Files))}
	for p, m := range e.idx.Files {
		newIdx.Files[p] = m
	}

	for _, path := range paths {
		kind := changes[path]
		switch kind {
		case ChangeDeleted:
			deleted, err := e.store.DeleteStandardsWithSource(ctx, path)
			if err != nil {
				stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", path, err))
				continue
			}
			stats.StandardsDeleted += deleted
			delete(newIdx.Files, path)
			stats.Deleted++

		case ChangeModified, ChangeAdded:
			d := byPath[path]
			if kind == ChangeModified {
				deleted, err := e.store.DeleteStandardsWithSource(ctx, path)
				if err != nil {
					stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", path, err))
					continue
				}
				stats.StandardsDeleted += deleted
			}
			drafts := parser.Parse(d.bytes, d.language)
			upserted := 0
			for _, draft := range drafts {
				if _, err := e.store.UpsertStandard(ctx, draft, path); err != nil {
					stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", path, err))
					continue
				}
				upserted++
			}
			newIdx.Files[path] = model.FileMetadata{
				Path:           path,
				LastModified:   d.mtime,
				ContentHash:    d.hash,
				StandardsCount: upserted,
			}
			stats.StandardsUpserted += upserted
			if kind == ChangeAdded {
				stats.Added++
			} else {
				stats.Modified++
			}
		}
	}

	if len(stats.Errors) == 0 {
		if err := e.persistIndex(newIdx); err != nil {
			stats.Errors = append(stats.Errors, err.Error())
			return stats, err
		}
		e.idx = newIdx
		now := time.Now().UTC()
		e.lastSync = &now
	} else {
		e.logger.WithField("error_count", len(stats.Errors)).Warn("sync completed with errors; index left unchanged for retry")
	}

	stats.CompletedAt = time.Now().UTC()
	return stats, nil
}

// LoadIndex reads a previously persisted sidecar index from disk, if
// present. A missing file is not an error: the engine starts from empty.
func (e *Engine) LoadIndex() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := os.ReadFile(e.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("syncengine: load index: %w", err)
	}
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("syncengine: parse index: %w", err)
	}
	if idx.Files == nil {
		idx.Files = make(map[string]model.FileMetadata)
	}
	e.idx = idx
	return nil
}

// persistIndex writes the sidecar atomically: write to a temp file in the
// same directory, then rename over the target.
func (e *Engine) persistIndex(idx index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("syncengine: marshal index: %w", err)
	}

	dir := filepath.Dir(e.indexPath)
	tmp, err := os.CreateTemp(dir, ".sync-index-*.tmp")
	if err != nil {
		return fmt.Errorf("syncengine: create temp index: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncengine: write temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("syncengine: close temp index: %w", err)
	}
	if err := os.Rename(tmpPath, e.indexPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("syncengine: rename temp index: %w", err)
	}
	return nil
}

// Status reports the engine's last-known synchronization state.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	e.mu.Lock()
	filesTracked := len(e.idx.Files)
	standardsInFiles := 0
	for _, m := range e.idx.Files {
		standardsInFiles += m.StandardsCount
	}
	lastSync := e.lastSync
	e.mu.Unlock()

	standardsInDB, err := e.store.CountStandards(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("syncengine: count standards: %w", err)
	}

	return Status{
		FilesTracked:     filesTracked,
		StandardsInFiles: standardsInFiles,
		StandardsInDB:    standardsInDB,
		LastSync:         lastSync,
		Synchronized:     standardsInFiles == standardsInDB,
	}, nil
}

// ScheduledSync periodically invokes an Engine's SyncAll on a fixed
// interval, skipping a tick rather than queuing if the previous run is
// still in flight.
type ScheduledSync struct {
	engine   *Engine
	logger   *logging.ContextLogger
	stopCh   chan struct{}
	stopOnce sync.Once
	running  sync.Mutex
}

// NewScheduledSync wraps engine for periodic execution.
func NewScheduledSync(engine *Engine, logger *logging.ContextLogger) *ScheduledSync {
	return &ScheduledSync{engine: engine, logger: logger, stopCh: make(chan struct{})}
}

// Start spawns the supervisor goroutine. Calling Start more than once on
// the same ScheduledSync is not supported.
func (s *ScheduledSync) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

func (s *ScheduledSync) tick(ctx context.Context) {
	if !s.running.TryLock() {
		s.logger.Debug("scheduled sync tick skipped: previous run still in progress")
		return
	}
	defer s.running.Unlock()

	stats, err := s.engine.SyncAll(ctx, false)
	if err != nil {
		s.logger.WithError(err).Warn("scheduled sync failed")
		return
	}
	if stats.Added == 0 && stats.Modified == 0 && stats.Deleted == 0 {
		s.logger.Debug("scheduled sync: no changes detected")
	} else {
		s.logger.WithFields(map[string]interface{}{
			"added": stats.Added, "modified": stats.Modified, "deleted": stats.Deleted,
		}).Info("scheduled sync: changes detected")
	}
}

// Stop cancels the supervisor goroutine cooperatively.
func (s *ScheduledSync) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
