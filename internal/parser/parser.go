// Package parser extracts typed Standard drafts from free-form markdown
// documents using three composed strategies, the way the teacher's
// workflow package dispatches typed parsing by structural shape rather than
// a single monolithic grammar.
package parser

import (
	"regexp"
	"strings"

	"github.com/ronkoch2-code/code-standards-auditor/internal/model"
)

var (
	versionHeaderRe = regexp.MustCompile(`(?mi)^##\s*Version\s+(\d+\.\d+\.\d+)`)
	versionLabelRe  = regexp.MustCompile(`(?mi)\*\*Version\*\*:\s*(\d+\.\d+\.\d+)`)
	versionBulletRe = regexp.MustCompile(`(?mi)^[-*]\s*\*\*Version\*\*:\s*(\d+\.\d+\.\d+)`)
	versionBareRe   = regexp.MustCompile(`(?mi)^Version:\s*(\d+\.\d+\.\d+)`)

	sectionHeaderRe  = regexp.MustCompile(`(?m)^(#{2,4})\s+(.+)$`)
	standardsBlockRe = regexp.MustCompile(`(?i)\*\*Standards\*\*:`)
	bulletLineRe     = regexp.MustCompile(`^\s*[-*]\s+(.+)$`)
	numberedLineRe   = regexp.MustCompile(`^\s*\d+\.\s+(.+)$`)
	fenceRe          = regexp.MustCompile("^\\s*```")

	skipSectionNames = map[string]bool{
		"table of contents":     true,
		"version":               true,
		"summary of changes":    true,
	}
)

var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryErrorHandling, []string{"error", "exception"}},
	{CategorySecurity, []string{"security", "auth"}},
	{CategoryPerformance, []string{"performance", "optimization", "async"}},
	{CategoryTesting, []string{"test"}},
	{CategoryArchitecture, []string{"structure", "architecture", "design", "pattern"}},
	{CategoryStyle, []string{"style", "format", "naming"}},
	{CategoryDocumentation, []string{"doc", "comment"}},
	{CategoryDeployment, []string{"deploy", "ci/cd", "docker"}},
	{CategoryAPI, []string{"api", "endpoint", "rest", "graphql"}},
}

// Category is a type alias for model.Category (the same type, so no
// conversion is needed) that lets the keyword tables above read naturally.
type Category = model.Category

const (
	CategorySecurity      = model.CategorySecurity
	CategoryPerformance   = model.CategoryPerformance
	CategoryTesting       = model.CategoryTesting
	CategoryErrorHandling = model.CategoryErrorHandling
	CategoryStyle         = model.CategoryStyle
	CategoryDocumentation = model.CategoryDocumentation
	CategoryArchitecture  = model.CategoryArchitecture
	CategoryAPI           = model.CategoryAPI
	CategoryDeployment    = model.CategoryDeployment
	CategoryBestPractices = model.CategoryBestPractices
)

var severityKeywords = []struct {
	severity model.Severity
	keywords []string
}{
	{model.SeverityCritical, []string{"must", "required", "security", "injection", "auth"}},
	{model.SeverityHigh, []string{"error", "should", "failure", "crash"}},
	{model.SeverityMedium, []string{"recommended", "performance", "best practice"}},
	{model.SeverityLow, []string{"prefer", "style", "naming"}},
}

var categoryDefaultSeverity = map[Category]model.Severity{
	CategorySecurity:      model.SeverityCritical,
	CategoryErrorHandling: model.SeverityHigh,
	CategoryPerformance:   model.SeverityHigh,
	CategoryArchitecture:  model.SeverityMedium,
	CategoryBestPractices: model.SeverityMedium,
}

// bullet is a single candidate rule line with the section it was found in.
type bullet struct {
	text    string
	section string
}

// Parse extracts Standard drafts from file bytes for the given language.
// Returns an empty slice (never nil, never an error) on any extraction
// failure — callers never see a parse panic or error from malformed input.
func Parse(fileBytes []byte, language string) (drafts []model.StandardDraft) {
	defer func() {
		if recover() != nil {
			drafts = []model.StandardDraft{}
		}
	}()

	doc := string(fileBytes)
	version := extractVersion(doc)

	var bullets []bullet
	bullets = append(bullets, extractStandardsBlocks(doc)...)
	bullets = append(bullets, extractSectionBullets(doc)...)
	bullets = append(bullets, extractSectionNumbered(doc)...)

	seen := make(map[string]bool, len(bullets))
	drafts = make([]model.StandardDraft, 0, len(bullets))

	for _, b := range bullets {
		desc := strings.TrimSpace(b.text)
		if desc == "" {
			continue
		}
		key := dedupKey(desc)
		if seen[key] {
			continue
		}
		seen[key] = true

		category := inferCategory(b.section)
		severity := inferSeverity(desc, category)

		drafts = append(drafts, model.StandardDraft{
			Name:        deriveName(desc),
			Language:    language,
			Category:    category,
			Severity:    severity,
			Description: desc,
			Version:     version,
		})
	}

	return drafts
}

func extractVersion(doc string) string {
	for _, re := range []*regexp.Regexp{versionHeaderRe, versionLabelRe, versionBulletRe, versionBareRe} {
		if m := re.FindStringSubmatch(doc); m != nil {
			return m[1]
		}
	}
	return "1.0.0"
}

// sectionSpans splits doc into (heading, body) pairs at ## / ### / ####
// boundaries, tracking the nearest preceding heading for each span.
func sectionSpans(doc string) []struct {
	name string
	body string
} {
	idxs := sectionHeaderRe.FindAllStringSubmatchIndex(doc, -1)
	var spans []struct {
		name string
		body string
	}
	if len(idxs) == 0 {
		spans = append(spans, struct{ name, body string }{"", doc})
		return spans
	}
	for i, m := range idxs {
		name := doc[m[4]:m[5]]
		bodyStart := m[1]
		bodyEnd := len(doc)
		if i+1 < len(idxs) {
			bodyEnd = idxs[i+1][0]
		}
		spans = append(spans, struct{ name, body string }{strings.TrimSpace(name), doc[bodyStart:bodyEnd]})
	}
	return spans
}

func qualifyingBullet(line string) (string, bool) {
	if fenceRe.MatchString(line) {
		return "", false
	}
	m := bulletLineRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	text := strings.TrimSpace(m[1])
	if len(text) < 10 {
		return "", false
	}
	if len(strings.Fields(text)) < 3 {
		return "", false
	}
	return text, true
}

// extractStandardsBlocks implements strategy 1: explicit "**Standards**:"
// blocks terminated by the next level-2 heading or bold label.
func extractStandardsBlocks(doc string) []bullet {
	var out []bullet
	locs := standardsBlockRe.FindAllStringIndex(doc, -1)
	if len(locs) == 0 {
		return out
	}

	headingLocs := regexp.MustCompile(`(?m)^##\s+.+$`).FindAllStringIndex(doc, -1)
	boldLabelLocs := regexp.MustCompile(`(?m)^\*\*[A-Za-z ]+\*\*:`).FindAllStringIndex(doc, -1)

	for _, loc := range locs {
		start := loc[1]
		end := len(doc)
		for _, h := range headingLocs {
			if h[0] > start && h[0] < end {
				end = h[0]
			}
		}
		for _, b := range boldLabelLocs {
			if b[0] > start && b[0] < end {
				end = b[0]
			}
		}
		section := nearestPrecedingHeading(doc, loc[0])
		body := doc[start:end]
		for _, line := range strings.Split(body, "\n") {
			if text, ok := qualifyingBullet(line); ok {
				out = append(out, bullet{text: text, section: section})
			}
		}
	}
	return out
}

func nearestPrecedingHeading(doc string, pos int) string {
	headingLocs := regexp.MustCompile(`(?m)^##\s+(.+)$`).FindAllStringSubmatchIndex(doc, -1)
	name := ""
	for _, m := range headingLocs {
		if m[0] < pos {
			name = doc[m[2]:m[3]]
		} else {
			break
		}
	}
	return strings.TrimSpace(name)
}

// extractSectionBullets implements strategy 2.
func extractSectionBullets(doc string) []bullet {
	var out []bullet
	for _, span := range sectionSpans(doc) {
		if skipSectionNames[strings.ToLower(span.name)] {
			continue
		}
		for _, line := range strings.Split(span.body, "\n") {
			if text, ok := qualifyingBullet(line); ok {
				out = append(out, bullet{text: text, section: span.name})
			}
		}
	}
	return out
}

// extractSectionNumbered implements strategy 3.
func extractSectionNumbered(doc string) []bullet {
	var out []bullet
	for _, span := range sectionSpans(doc) {
		if skipSectionNames[strings.ToLower(span.name)] {
			continue
		}
		for _, line := range strings.Split(span.body, "\n") {
			m := numberedLineRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			text := strings.TrimSpace(m[1])
			if len(text) < 10 || len(strings.Fields(text)) < 3 {
				continue
			}
			out = append(out, bullet{text: text, section: span.name})
		}
	}
	return out
}

func dedupKey(desc string) string {
	lower := strings.ToLower(strings.TrimSpace(desc))
	if len(lower) > 100 {
		lower = lower[:100]
	}
	return lower
}

func deriveName(desc string) string {
	if len(desc) <= 100 {
		return desc
	}
	sentence := desc
	if idx := strings.IndexAny(desc, ".!?"); idx >= 0 {
		sentence = desc[:idx+1]
	}
	if len(sentence) > 80 {
		return sentence[:77] + "..."
	}
	return sentence
}

func inferCategory(sectionName string) Category {
	lower := strings.ToLower(sectionName)
	for _, kw := range categoryKeywords {
		for _, k := range kw.keywords {
			if strings.Contains(lower, k) {
				return kw.category
			}
		}
	}
	return CategoryBestPractices
}

func inferSeverity(body string, category Category) model.Severity {
	lower := strings.ToLower(body)
	for _, kw := range severityKeywords {
		for _, k := range kw.keywords {
			if strings.Contains(lower, k) {
				return kw.severity
			}
		}
	}
	if s, ok := categoryDefaultSeverity[category]; ok {
		return s
	}
	return model.SeverityLow
}
