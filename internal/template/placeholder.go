package template

import (
	"regexp"
	"strings"
)

// =============================================================================
// PLACEHOLDER RESOLVER
// =============================================================================
// Templates address row values with `{{field_key}}` tokens. This file
// extracts them and validates a template against a schema's field keys.

// placeholderPattern matches {{ identifier }} with optional inner whitespace.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// ExtractPlaceholders returns the distinct placeholder identifiers in the
// template text, in order of first appearance.
func ExtractPlaceholders(text string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches))
	var tokens []string
	for _, m := range matches {
		token := strings.TrimSpace(m[1])
		if seen[token] {
			continue
		}
		seen[token] = true
		tokens = append(tokens, token)
	}
	return tokens
}

// ValidationResult reports how a template's placeholders line up with a
// field schema. Missing required fields block "ready to send"; extra
// placeholders are only warnings since authors sometimes write literal
// double-brace text on purpose.
type ValidationResult struct {
	Placeholders []string `json:"placeholders"`
	Missing      []string `json:"missing,omitempty"`
	Extra        []string `json:"extra,omitempty"`
	ReadyToSend  bool     `json:"ready_to_send"`
}

// Validate compares the template text against the schema. requiredKeys are
// the field keys that must appear as placeholders; knownKeys is the full
// set of schema field keys.
func Validate(text string, requiredKeys, knownKeys []string) *ValidationResult {
	result := &ValidationResult{Placeholders: ExtractPlaceholders(text)}

	present := make(map[string]bool, len(result.Placeholders))
	for _, p := range result.Placeholders {
		present[p] = true
	}
	known := make(map[string]bool, len(knownKeys))
	for _, k := range knownKeys {
		known[k] = true
	}

	for _, req := range requiredKeys {
		if !present[req] {
			result.Missing = append(result.Missing, req)
		}
	}
	for _, p := range result.Placeholders {
		if !known[p] {
			result.Extra = append(result.Extra, p)
		}
	}

	result.ReadyToSend = len(result.Missing) == 0
	return result
}
