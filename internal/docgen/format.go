package docgen

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/docsend/internal/schema"
)

// =============================================================================
// Value Formatting
// =============================================================================
//
// Row values are stored canonically (dates as 2006-01-02, currency as a bare
// decimal, booleans as true/false). Documents show them human-readable.

// FormatValue renders a canonical stored value for display in a generated
// document according to its field type. Unknown or malformed values fall back
// to the raw string rather than failing the whole document.
func FormatValue(fieldType schema.FieldType, raw string) string {
	if raw == "" {
		return ""
	}

	switch fieldType {
	case schema.FieldTypeDate:
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			return t.Format("January 2, 2006")
		}
	case schema.FieldTypeDateTime:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.Format("January 2, 2006 3:04 PM")
		}
	case schema.FieldTypeCurrency:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			formatted := "$" + groupThousands(fmt.Sprintf("%.2f", math.Abs(f)))
			if f < 0 {
				formatted = "-" + formatted
			}
			return formatted
		}
	case schema.FieldTypeNumber:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			if f == float64(int64(f)) {
				return groupThousands(strconv.FormatInt(int64(f), 10))
			}
			return groupThousands(strconv.FormatFloat(f, 'f', -1, 64))
		}
	case schema.FieldTypePercentage:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64) + "%"
		}
	case schema.FieldTypeBoolean:
		if raw == "true" {
			return "Yes"
		}
		if raw == "false" {
			return "No"
		}
	}
	return raw
}

// groupThousands inserts commas into the integer part of a decimal string.
func groupThousands(s string) string {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, fracPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i:]
	}

	n := len(intPart)
	if n > 3 {
		var groups []string
		lead := n % 3
		if lead > 0 {
			groups = append(groups, intPart[:lead])
		}
		for i := lead; i < n; i += 3 {
			groups = append(groups, intPart[i:i+3])
		}
		intPart = strings.Join(groups, ",")
	}

	out := intPart + fracPart
	if neg {
		out = "-" + out
	}
	return out
}
