// Package graphstore projects Standards, Violations, and CodePatterns into
// Neo4j, following the teacher's Neo4jRepository construction pattern:
// session-per-call, MERGE for upsert, parameterized Cypher over string
// concatenation.
package graphstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ronkoch2-code/code-standards-auditor/internal/model"
)

// Criteria filters FindByCriteria.
type Criteria struct {
	Language string
	Category model.Category
	Active   *bool
}

// SearchResult pairs a Standard with its semantic-search relevance score.
type SearchResult struct {
	Standard model.Standard
	Score    float64
}

// Store is the graph projection client's public surface.
type Store interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	UpsertStandard(ctx context.Context, draft model.StandardDraft, fileSource string) (model.Standard, error)
	FindByNaturalKey(ctx context.Context, language string, category model.Category, name string) (model.Standard, bool, error)
	FindByCriteria(ctx context.Context, c Criteria) ([]model.Standard, error)
	SemanticSearch(ctx context.Context, query string, limit int, threshold float64) ([]SearchResult, error)
	RecordViolation(ctx context.Context, v model.Violation) error
	UpsertPattern(ctx context.Context, p model.CodePattern) error
	EvolvePatternToStandard(ctx context.Context, patternID string, draft model.StandardDraft) (model.Standard, error)
	FindDuplicates(ctx context.Context) (map[string][]model.Standard, error)
	CleanupDuplicates(ctx context.Context, keep string) (int, error)
	DeleteStandardsWithSource(ctx context.Context, fileSource string) (int, error)
	CountStandards(ctx context.Context) (int, error)
}

// Neo4jStore implements Store against a Neo4j graph database.
type Neo4jStore struct {
	uri      string
	username string
	password string
	driver   neo4j.DriverWithContext
}

func New(uri, username, password string) *Neo4jStore {
	return &Neo4jStore{uri: uri, username: username, password: password}
}

// Connect opens the driver, verifies connectivity, and installs schema
// constraints/indexes idempotently.
func (s *Neo4jStore) Connect(ctx context.Context) error {
	driver, err := neo4j.NewDriverWithContext(s.uri, neo4j.BasicAuth(s.username, s.password, ""))
	if err != nil {
		return fmt.Errorf("graphstore: create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("graphstore: connect: %w", err)
	}
	s.driver = driver
	return s.ensureSchema(ctx)
}

func (s *Neo4jStore) ensureSchema(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	statements := []string{
		"CREATE CONSTRAINT standard_id IF NOT EXISTS FOR (s:Standard) REQUIRE s.id IS UNIQUE",
		"CREATE CONSTRAINT violation_id IF NOT EXISTS FOR (v:Violation) REQUIRE v.id IS UNIQUE",
		"CREATE CONSTRAINT pattern_id IF NOT EXISTS FOR (p:CodePattern) REQUIRE p.id IS UNIQUE",
		"CREATE INDEX standard_language IF NOT EXISTS FOR (s:Standard) ON (s.language)",
		"CREATE INDEX standard_category IF NOT EXISTS FOR (s:Standard) ON (s.category)",
		"CREATE INDEX violation_severity IF NOT EXISTS FOR (v:Violation) ON (v.severity)",
		"CREATE INDEX violation_timestamp IF NOT EXISTS FOR (v:Violation) ON (v.timestamp)",
		"CREATE INDEX pattern_language IF NOT EXISTS FOR (p:CodePattern) ON (p.language)",
		"CREATE INDEX pattern_category IF NOT EXISTS FOR (p:CodePattern) ON (p.category)",
	}
	for _, stmt := range statements {
		if _, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
			return tx.Run(ctx, stmt, nil)
		}); err != nil {
			return fmt.Errorf("graphstore: schema setup: %w", err)
		}
	}
	return nil
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

// UpsertStandard matches on (language, category, name). On create it sets
// id, created_at and file_source; on create and on match it sets
// description/severity/version/active/updated_at, preserving id and
// created_at. The draft's examples are not stored in the graph.
func (s *Neo4jStore) UpsertStandard(ctx context.Context, draft model.StandardDraft, fileSource string) (model.Standard, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	now := time.Now().UTC()
	newID := uuid.NewString()

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		query := `
			MERGE (s:Standard {language: $language, category: $category, name: $name})
			ON CREATE SET
				s.id = $newId,
				s.created_at = $now,
				s.file_source = $fileSource
			SET
				s.description = $description,
				s.severity = $severity,
				s.version = $version,
				s.active = true,
				s.updated_at = $now
			RETURN s.id as id, s.created_at as createdAt
		`
		params := map[string]interface{}{
			"language":    draft.Language,
			"category":    string(draft.Category),
			"name":        draft.Name,
			"newId":       newID,
			"now":         now.Format(time.RFC3339Nano),
			"fileSource":  fileSource,
			"description": draft.Description,
			"severity":    string(draft.Severity),
			"version":     draft.Version,
		}
		rows, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		record, err := rows.Single(ctx)
		if err != nil {
			return nil, err
		}
		return record, nil
	})
	if err != nil {
		return model.Standard{}, fmt.Errorf("graphstore: upsert standard: %w", err)
	}

	record := result.(*neo4j.Record)
	id, _ := record.Get("id")
	createdAtRaw, _ := record.Get("createdAt")
	createdAt, _ := time.Parse(time.RFC3339Nano, fmt.Sprint(createdAtRaw))

	return model.Standard{
		ID:          fmt.Sprint(id),
		Name:        draft.Name,
		Language:    draft.Language,
		Category:    draft.Category,
		Severity:    draft.Severity,
		Description: draft.Description,
		Examples:    draft.Examples,
		Version:     draft.Version,
		Active:      true,
		FileSource:  fileSource,
		CreatedAt:   createdAt,
		UpdatedAt:   now,
	}, nil
}

func (s *Neo4jStore) FindByNaturalKey(ctx context.Context, language string, category model.Category, name string) (model.Standard, bool, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		rows, err := tx.Run(ctx, `
			MATCH (s:Standard {language: $language, category: $category, name: $name})
			RETURN s
		`, map[string]interface{}{"language": language, "category": string(category), "name": name})
		if err != nil {
			return nil, err
		}
		if !rows.Next(ctx) {
			return nil, nil
		}
		return nodeToStandard(rows.Record()), nil
	})
	if err != nil {
		return model.Standard{}, false, fmt.Errorf("graphstore: find by natural key: %w", err)
	}
	if result == nil {
		return model.Standard{}, false, nil
	}
	return result.(model.Standard), true, nil
}

func (s *Neo4jStore) FindByCriteria(ctx context.Context, c Criteria) ([]model.Standard, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	var clauses []string
	params := map[string]interface{}{}
	if c.Language != "" {
		clauses = append(clauses, "s.language = $language")
		params["language"] = c.Language
	}
	if c.Category != "" {
		clauses = append(clauses, "s.category = $category")
		params["category"] = string(c.Category)
	}
	if c.Active != nil {
		clauses = append(clauses, "s.active = $active")
		params["active"] = *c.Active
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := fmt.Sprintf("MATCH (s:Standard) %s RETURN s ORDER BY s.updated_at DESC", where)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		rows, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		var out []model.Standard
		for rows.Next(ctx) {
			out = append(out, nodeToStandard(rows.Record()))
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("graphstore: find by criteria: %w", err)
	}
	return result.([]model.Standard), nil
}

// SemanticSearch performs substring scoring over name/description/category
// with fixed weights, dropping results below threshold and ordering by
// score descending. A vector-embedding backend may later implement the
// same Store method with the same contract.
func (s *Neo4jStore) SemanticSearch(ctx context.Context, query string, limit int, threshold float64) ([]SearchResult, error) {
	all, err := s.FindByCriteria(ctx, Criteria{})
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	var results []SearchResult
	for _, std := range all {
		score := scoreStandard(std, q)
		if score < threshold {
			continue
		}
		results = append(results, SearchResult{Standard: std, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func scoreStandard(std model.Standard, q string) float64 {
	if q == "" {
		return 0.5
	}
	if strings.Contains(strings.ToLower(std.Name), q) {
		return 1.0
	}
	if strings.Contains(strings.ToLower(std.Description), q) {
		return 0.8
	}
	if strings.Contains(strings.ToLower(string(std.Category)), q) {
		return 0.6
	}
	return 0.5
}

func (s *Neo4jStore) RecordViolation(ctx context.Context, v model.Violation) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now().UTC()
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return tx.Run(ctx, `
			CREATE (v:Violation {
				id: $id, standard_id: $standardId, file_path: $filePath,
				line: $line, column: $column, message: $message,
				severity: $severity, suggestion: $suggestion,
				project_id: $projectId, timestamp: $timestamp
			})
		`, map[string]interface{}{
			"id": v.ID, "standardId": v.StandardID, "filePath": v.FilePath,
			"line": v.Line, "column": v.Column, "message": v.Message,
			"severity": string(v.Severity), "suggestion": v.Suggestion,
			"projectId": v.ProjectID, "timestamp": v.Timestamp.Format(time.RFC3339Nano),
		})
	})
	if err != nil {
		return fmt.Errorf("graphstore: record violation: %w", err)
	}
	return nil
}

func (s *Neo4jStore) UpsertPattern(ctx context.Context, p model.CodePattern) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return tx.Run(ctx, `
			MERGE (p:CodePattern {pattern: $pattern, language: $language})
			ON CREATE SET p.id = $id, p.first_seen = $now, p.frequency = 0
			SET p.description = $description, p.category = $category,
			    p.last_seen = $now, p.frequency = p.frequency + 1
		`, map[string]interface{}{
			"pattern": p.Pattern, "language": p.Language, "id": p.ID,
			"description": p.Description, "category": string(p.Category),
			"now": now.Format(time.RFC3339Nano),
		})
	})
	if err != nil {
		return fmt.Errorf("graphstore: upsert pattern: %w", err)
	}
	return nil
}

// EvolvePatternToStandard creates a Standard from draft and marks the
// originating pattern as evolved, linking the two.
func (s *Neo4jStore) EvolvePatternToStandard(ctx context.Context, patternID string, draft model.StandardDraft) (model.Standard, error) {
	std, err := s.UpsertStandard(ctx, draft, "")
	if err != nil {
		return model.Standard{}, err
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return tx.Run(ctx, `
			MATCH (p:CodePattern {id: $patternId})
			SET p.evolved_into = $standardId
			WITH p
			MATCH (s:Standard {id: $standardId})
			MERGE (p)-[:EVOLVED_INTO]->(s)
		`, map[string]interface{}{"patternId": patternID, "standardId": std.ID})
	})
	if err != nil {
		return model.Standard{}, fmt.Errorf("graphstore: evolve pattern: %w", err)
	}
	return std, nil
}

// FindDuplicates groups Standards sharing a natural key, returning only
// groups with more than one member.
func (s *Neo4jStore) FindDuplicates(ctx context.Context) (map[string][]model.Standard, error) {
	all, err := s.FindByCriteria(ctx, Criteria{})
	if err != nil {
		return nil, err
	}
	groups := map[string][]model.Standard{}
	for _, std := range all {
		lang, cat, name := std.NaturalKey()
		key := lang + "|" + string(cat) + "|" + name
		groups[key] = append(groups[key], std)
	}
	for key, group := range groups {
		if len(group) < 2 {
			delete(groups, key)
		}
	}
	return groups, nil
}

// CleanupDuplicates removes redundant Standards within each duplicate
// group, keeping either the first-created or the most-recently-updated
// member.
func (s *Neo4jStore) CleanupDuplicates(ctx context.Context, keep string) (int, error) {
	groups, err := s.FindDuplicates(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	for _, group := range groups {
		sorted := append([]model.Standard(nil), group...)
		sort.Slice(sorted, func(i, j int) bool {
			if keep == "newest" {
				return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
			}
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		})

		for _, dup := range sorted[1:] {
			_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
				return tx.Run(ctx, `MATCH (s:Standard {id: $id}) DETACH DELETE s`, map[string]interface{}{"id": dup.ID})
			})
			if err != nil {
				return removed, fmt.Errorf("graphstore: cleanup duplicates: %w", err)
			}
			removed++
		}
	}
	return removed, nil
}

// DeleteStandardsWithSource removes every Standard stamped with fileSource,
// used by the sync engine on modification/deletion.
func (s *Neo4jStore) DeleteStandardsWithSource(ctx context.Context, fileSource string) (int, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		rows, err := tx.Run(ctx, `
			MATCH (s:Standard {file_source: $fileSource})
			WITH collect(s) AS doomed
			FOREACH (n IN doomed | DETACH DELETE n)
			RETURN size(doomed) AS c
		`, map[string]interface{}{"fileSource": fileSource})
		if err != nil {
			return nil, err
		}
		record, err := rows.Single(ctx)
		if err != nil {
			return 0, nil
		}
		count, _ := record.Get("c")
		n, _ := count.(int64)
		return int(n), nil
	})
	if err != nil {
		return 0, fmt.Errorf("graphstore: delete standards with source: %w", err)
	}
	return result.(int), nil
}

func (s *Neo4jStore) CountStandards(ctx context.Context) (int, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		rows, err := tx.Run(ctx, `MATCH (s:Standard) RETURN count(s) as c`, nil)
		if err != nil {
			return nil, err
		}
		record, err := rows.Single(ctx)
		if err != nil {
			return 0, err
		}
		count, _ := record.Get("c")
		n, _ := count.(int64)
		return int(n), nil
	})
	if err != nil {
		return 0, fmt.Errorf("graphstore: count standards: %w", err)
	}
	return result.(int), nil
}

func nodeToStandard(record *neo4j.Record) model.Standard {
	node, _ := record.Get("s")
	n := node.(neo4j.Node)
	props := n.Props

	createdAt, _ := time.Parse(time.RFC3339Nano, fmt.Sprint(props["created_at"]))
	updatedAt, _ := time.Parse(time.RFC3339Nano, fmt.Sprint(props["updated_at"]))

	return model.Standard{
		ID:          fmt.Sprint(props["id"]),
		Name:        fmt.Sprint(props["name"]),
		Language:    fmt.Sprint(props["language"]),
		Category:    model.Category(fmt.Sprint(props["category"])),
		Severity:    model.Severity(fmt.Sprint(props["severity"])),
		Description: fmt.Sprint(props["description"]),
		Version:     fmt.Sprint(props["version"]),
		Active:      props["active"] == true,
		FileSource:  fmt.Sprint(props["file_source"]),
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
}
