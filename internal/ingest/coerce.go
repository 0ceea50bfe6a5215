package ingest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/docsend/internal/schema"
)

// =============================================================================
// VALUE COERCION
// =============================================================================
// Raw cell values are coerced to a field's declared type before validation.
// Storage keeps the normalized string form; typed interpretation happens
// again at generation time via docgen formatting.

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

var phonePattern = regexp.MustCompile(`^\+?[0-9 ()\-\.]{7,20}$`)

// acceptedDateFormats are tried in order when parsing date cells. Spreadsheet
// exports are wildly inconsistent here.
var acceptedDateFormats = []string{
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"2006/01/02",
	"02-01-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

var acceptedDateTimeFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04",
}

var acceptedTimeFormats = []string{
	"15:04",
	"15:04:05",
	"3:04 PM",
	"3:04PM",
}

// boolean token vocabulary, lowercase
var truthyTokens = map[string]bool{"true": true, "yes": true, "y": true, "1": true}
var falsyTokens = map[string]bool{"false": true, "no": true, "n": true, "0": true}

// CoerceValue normalizes a raw cell value to the field's declared type and
// returns the canonical string form. An empty raw value returns the field's
// default value (which may itself be empty). The returned error describes
// why the value cannot satisfy the type; required-ness is checked by the
// caller, not here.
func CoerceValue(field schema.FieldDefinition, raw string) (string, error) {
	val := strings.TrimSpace(raw)
	if val == "" {
		if field.DefaultValue != nil {
			return *field.DefaultValue, nil
		}
		return "", nil
	}

	switch field.FieldType {
	case schema.FieldTypeText, schema.FieldTypeTextArea, schema.FieldTypeDropdown,
		schema.FieldTypeImage, schema.FieldTypeFile:
		return val, nil

	case schema.FieldTypeNumber:
		// Locale-invariant: strip thousands separators, decimal point only.
		cleaned := strings.ReplaceAll(val, ",", "")
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return "", fmt.Errorf("not a number: %q", raw)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil

	case schema.FieldTypeCurrency:
		cleaned := strings.TrimLeft(strings.ReplaceAll(val, ",", ""), "$€£₹ ")
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return "", fmt.Errorf("not a currency amount: %q", raw)
		}
		return strconv.FormatFloat(f, 'f', 2, 64), nil

	case schema.FieldTypePercentage:
		cleaned := strings.TrimRight(val, "% ")
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return "", fmt.Errorf("not a percentage: %q", raw)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil

	case schema.FieldTypeBoolean:
		lower := strings.ToLower(val)
		if truthyTokens[lower] {
			return "true", nil
		}
		if falsyTokens[lower] {
			return "false", nil
		}
		return "", fmt.Errorf("not a boolean: %q", raw)

	case schema.FieldTypeDate:
		for _, format := range acceptedDateFormats {
			if t, err := time.Parse(format, val); err == nil {
				return t.Format("2006-01-02"), nil
			}
		}
		return "", fmt.Errorf("invalid date: %q", raw)

	case schema.FieldTypeDateTime:
		for _, format := range acceptedDateTimeFormats {
			if t, err := time.Parse(format, val); err == nil {
				return t.UTC().Format(time.RFC3339), nil
			}
		}
		return "", fmt.Errorf("invalid datetime: %q", raw)

	case schema.FieldTypeTime:
		for _, format := range acceptedTimeFormats {
			if t, err := time.Parse(format, val); err == nil {
				return t.Format("15:04"), nil
			}
		}
		return "", fmt.Errorf("invalid time: %q", raw)

	case schema.FieldTypeEmail:
		lower := strings.ToLower(val)
		if !emailPattern.MatchString(lower) {
			return "", fmt.Errorf("invalid format")
		}
		return lower, nil

	case schema.FieldTypePhone:
		if !phonePattern.MatchString(val) {
			return "", fmt.Errorf("invalid phone number: %q", raw)
		}
		return val, nil

	case schema.FieldTypeURL:
		u, err := url.Parse(val)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return "", fmt.Errorf("invalid url: %q", raw)
		}
		return val, nil

	case schema.FieldTypeJSON:
		if !json.Valid([]byte(val)) {
			return "", fmt.Errorf("invalid json")
		}
		return val, nil
	}

	return val, nil
}

// ValidateValue applies a field's custom validation rule (regex for
// text-like types) to an already-coerced value. Empty values pass; the
// required check runs separately.
func ValidateValue(field schema.FieldDefinition, value string) error {
	if value == "" || field.ValidationRule == "" {
		return nil
	}
	switch field.FieldType {
	case schema.FieldTypeText, schema.FieldTypeTextArea, schema.FieldTypeEmail,
		schema.FieldTypePhone, schema.FieldTypeURL:
		re, err := regexp.Compile(field.ValidationRule)
		if err != nil {
			// A broken rule must not reject data; registry validation
			// should have caught it.
			return nil
		}
		if !re.MatchString(value) {
			return fmt.Errorf("value does not match validation rule")
		}
	}
	return nil
}
