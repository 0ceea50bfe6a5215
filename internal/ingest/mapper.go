package ingest

import (
	"sort"
	"strings"

	"github.com/ignite/docsend/internal/schema"
)

// =============================================================================
// FIELD MAPPER
// =============================================================================
// Maps raw spreadsheet column headers onto a document type's field schema.
// The mapping is advisory: the pipeline still validates every row after
// mapping, so a low-confidence match only affects default column wiring.

const (
	// ConfidenceExact is assigned when a header normalizes to exactly a
	// field's key or display name.
	ConfidenceExact = 1.0
	// ConfidenceAlias is assigned when a header matches a known alias for
	// the field's type.
	ConfidenceAlias = 0.85
	// ConfidenceTokenMax caps token-overlap scores so a fuzzy match never
	// outranks an alias hit.
	ConfidenceTokenMax = 0.7
	// MinAcceptConfidence is the floor below which a column stays unmapped.
	MinAcceptConfidence = 0.5
)

// FieldMapping is the resolved correspondence between one spreadsheet column
// and one field definition. A mapping with an empty FieldKey is unmapped.
type FieldMapping struct {
	ColumnIndex int              `json:"column_index"`
	ColumnName  string           `json:"column_name"`
	FieldKey    string           `json:"field_key,omitempty"`
	FieldType   schema.FieldType `json:"field_type,omitempty"`
	IsRequired  bool             `json:"is_required,omitempty"`
	Confidence  float64          `json:"confidence"`
}

// MappingResult is the full output of a mapping session.
type MappingResult struct {
	Mappings         []FieldMapping `json:"mappings"`
	UnmappedRequired []string       `json:"unmapped_required,omitempty"`
	Warnings         []string       `json:"warnings,omitempty"`
}

// MatchStrategy scores a normalized header against a field definition,
// returning a confidence in [0,1]. The default strategy combines exact,
// alias-table, and token-overlap matching; alternatives (edit distance)
// can be swapped in without touching the pipeline.
type MatchStrategy interface {
	Score(normalizedHeader string, field schema.FieldDefinition) float64
}

// Mapper resolves column headers against a field schema.
type Mapper struct {
	strategy MatchStrategy
}

// NewMapper creates a mapper with the default heuristic strategy.
func NewMapper() *Mapper {
	return &Mapper{strategy: defaultStrategy{}}
}

// NewMapperWithStrategy creates a mapper using a custom match strategy.
func NewMapperWithStrategy(s MatchStrategy) *Mapper {
	return &Mapper{strategy: s}
}

// MapColumns produces one FieldMapping per column header. Each field is
// claimed by at most one header: when several headers score against the same
// field, the highest-scoring header wins and the competitors stay unmapped.
// The assignment is greedy rather than globally optimal; field counts are
// small enough (typically under 50) that this has not mattered in practice.
func (m *Mapper) MapColumns(headers []string, fields []schema.FieldDefinition) *MappingResult {
	result := &MappingResult{
		Mappings: make([]FieldMapping, len(headers)),
	}

	type candidate struct {
		colIdx   int
		fieldIdx int
		score    float64
	}
	var candidates []candidate

	for i, header := range headers {
		result.Mappings[i] = FieldMapping{ColumnIndex: i, ColumnName: header}
		norm := NormalizeHeader(header)
		if norm == "" {
			continue
		}
		for j, field := range fields {
			score := m.strategy.Score(norm, field)
			if score >= MinAcceptConfidence {
				candidates = append(candidates, candidate{colIdx: i, fieldIdx: j, score: score})
			}
		}
	}

	// Highest score first; ties broken by column order so results are stable.
	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		return candidates[a].colIdx < candidates[b].colIdx
	})

	claimedField := make(map[int]bool)
	claimedCol := make(map[int]bool)
	for _, c := range candidates {
		if claimedField[c.fieldIdx] || claimedCol[c.colIdx] {
			continue
		}
		claimedField[c.fieldIdx] = true
		claimedCol[c.colIdx] = true
		f := fields[c.fieldIdx]
		result.Mappings[c.colIdx] = FieldMapping{
			ColumnIndex: c.colIdx,
			ColumnName:  headers[c.colIdx],
			FieldKey:    f.FieldKey,
			FieldType:   f.FieldType,
			IsRequired:  f.IsRequired,
			Confidence:  c.score,
		}
	}

	for i, mapping := range result.Mappings {
		if mapping.FieldKey == "" {
			result.Warnings = append(result.Warnings,
				"column "+strings.TrimSpace(headers[i])+" did not match any field and was left unmapped")
		}
	}
	for j, f := range fields {
		if f.IsRequired && !claimedField[j] {
			result.UnmappedRequired = append(result.UnmappedRequired, f.FieldKey)
		}
	}

	return result
}

// NormalizeHeader lowercases a header and collapses runs of non-alphanumeric
// characters into single underscores: " Emp-ID " -> "emp_id".
func NormalizeHeader(header string) string {
	var b strings.Builder
	lastSep := true
	for _, r := range strings.ToLower(strings.TrimSpace(header)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSep = false
		default:
			if !lastSep {
				b.WriteByte('_')
				lastSep = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// headerTokens splits a normalized header into its underscore-delimited
// tokens.
func headerTokens(normalized string) []string {
	if normalized == "" {
		return nil
	}
	return strings.Split(normalized, "_")
}

// =============================================================================
// DEFAULT STRATEGY
// =============================================================================

// typeAliases maps field types to normalized header aliases commonly seen in
// uploaded spreadsheets. When a header matches an alias for the field's type
// it scores ConfidenceAlias.
var typeAliases = map[schema.FieldType][]string{
	schema.FieldTypeEmail: {
		"email", "email_address", "e_mail", "emailaddress", "mail",
		"work_email", "employee_email", "recipient_email",
	},
	schema.FieldTypePhone: {
		"phone", "phone_number", "phonenumber", "mobile", "cell",
		"telephone", "tel", "contact_number",
	},
	schema.FieldTypeDate: {
		"date", "dob", "date_of_birth", "joining_date", "start_date",
		"end_date", "effective_date",
	},
	schema.FieldTypeDateTime: {
		"datetime", "timestamp", "created_at", "updated_at",
	},
	schema.FieldTypeCurrency: {
		"salary", "amount", "ctc", "pay", "compensation", "price", "cost",
	},
	schema.FieldTypePercentage: {
		"percent", "percentage", "rate", "hike",
	},
	schema.FieldTypeURL: {
		"url", "link", "website", "profile_url",
	},
}

// keyAliases maps specific field keys to common header variants, regardless
// of declared type. Identifier-style fields dominate real uploads.
var keyAliases = map[string][]string{
	"employee_id":  {"emp_id", "empid", "employee_id", "employee_no", "emp_no", "staff_id", "id"},
	"recipient_id": {"recipient_id", "id", "person_id"},
	"first_name":   {"first_name", "firstname", "fname", "first", "given_name"},
	"last_name":    {"last_name", "lastname", "lname", "last", "surname", "family_name"},
	"name":         {"name", "full_name", "fullname", "employee_name", "recipient_name"},
	"designation":  {"designation", "title", "job_title", "position", "role"},
	"department":   {"department", "dept", "team", "division"},
	"company":      {"company", "company_name", "organization", "employer"},
	"manager":      {"manager", "reporting_manager", "supervisor"},
	"location":     {"location", "city", "office", "branch"},
}

type defaultStrategy struct{}

// Score implements the three-tier heuristic: exact key/display-name match,
// then alias tables, then token-overlap ratio scaled to ConfidenceTokenMax.
func (defaultStrategy) Score(norm string, field schema.FieldDefinition) float64 {
	if norm == field.FieldKey || norm == NormalizeHeader(field.DisplayName) {
		return ConfidenceExact
	}

	for _, alias := range keyAliases[field.FieldKey] {
		if norm == alias {
			return ConfidenceAlias
		}
	}
	for _, alias := range typeAliases[field.FieldType] {
		if norm == alias {
			return ConfidenceAlias
		}
	}

	return tokenOverlap(norm, field) * ConfidenceTokenMax
}

// =============================================================================
// FIELD TYPE SUGGESTION
// =============================================================================

// suggestionCandidates are probed in order of specificity; text is the
// fallback when nothing else fits.
var suggestionCandidates = []schema.FieldType{
	schema.FieldTypeEmail,
	schema.FieldTypeURL,
	schema.FieldTypeDate,
	schema.FieldTypeBoolean,
	schema.FieldTypeNumber,
	schema.FieldTypeCurrency,
	schema.FieldTypePercentage,
}

// SuggestFieldType proposes a field type for an unmapped column from its
// header name and a handful of sample values. The header's alias tables get
// first say; otherwise every candidate type votes by coercing the samples,
// and the most specific type that accepts them all wins. Empty samples fall
// back to text.
func SuggestFieldType(header string, samples []string) schema.FieldType {
	norm := NormalizeHeader(header)
	for fieldType, aliases := range typeAliases {
		for _, alias := range aliases {
			if norm == alias {
				return fieldType
			}
		}
	}

	nonEmpty := make([]string, 0, len(samples))
	for _, s := range samples {
		if strings.TrimSpace(s) != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	if len(nonEmpty) == 0 {
		return schema.FieldTypeText
	}

	for _, fieldType := range suggestionCandidates {
		probe := schema.FieldDefinition{FieldKey: norm, FieldType: fieldType}
		accepted := true
		for _, s := range nonEmpty {
			if _, err := CoerceValue(probe, s); err != nil {
				accepted = false
				break
			}
		}
		if accepted {
			return fieldType
		}
	}
	return schema.FieldTypeText
}

// tokenOverlap returns the ratio of shared tokens between the header and the
// field's key/display name, in [0,1].
func tokenOverlap(norm string, field schema.FieldDefinition) float64 {
	headerToks := headerTokens(norm)
	if len(headerToks) == 0 {
		return 0
	}

	fieldToks := make(map[string]bool)
	for _, t := range headerTokens(field.FieldKey) {
		fieldToks[t] = true
	}
	for _, t := range headerTokens(NormalizeHeader(field.DisplayName)) {
		fieldToks[t] = true
	}
	if len(fieldToks) == 0 {
		return 0
	}

	shared := 0
	for _, t := range headerToks {
		if fieldToks[t] {
			shared++
		}
	}

	// Ratio against the larger token set penalizes headers that merely
	// contain a field token among many unrelated ones.
	denom := len(headerToks)
	if len(fieldToks) > denom {
		denom = len(fieldToks)
	}
	return float64(shared) / float64(denom)
}
