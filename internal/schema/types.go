package schema

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldType represents the declared data type of a field definition.
type FieldType string

const (
	FieldTypeText       FieldType = "text"
	FieldTypeNumber     FieldType = "number"
	FieldTypeDate       FieldType = "date"
	FieldTypeEmail      FieldType = "email"
	FieldTypePhone      FieldType = "phone"
	FieldTypeCurrency   FieldType = "currency"
	FieldTypePercentage FieldType = "percentage"
	FieldTypeBoolean    FieldType = "boolean"
	FieldTypeDropdown   FieldType = "dropdown"
	FieldTypeTextArea   FieldType = "textarea"
	FieldTypeURL        FieldType = "url"
	FieldTypeImage      FieldType = "image"
	FieldTypeFile       FieldType = "file"
	FieldTypeDateTime   FieldType = "datetime"
	FieldTypeTime       FieldType = "time"
	FieldTypeJSON       FieldType = "json"
)

// DataSource identifies where a document type's recipient rows come from.
type DataSource string

const (
	SourceSpreadsheet   DataSource = "spreadsheet"
	SourceExternalTable DataSource = "external_table"
)

// DocumentType is a user-defined category of generated document with its
// own field schema.
type DocumentType struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	TypeKey     string            `json:"type_key" db:"type_key"`
	DisplayName string            `json:"display_name" db:"display_name"`
	Description string            `json:"description" db:"description"`
	DataSource  DataSource        `json:"data_source" db:"data_source"`
	IsActive    bool              `json:"is_active" db:"is_active"`
	Fields      []FieldDefinition `json:"fields,omitempty"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

// FieldDefinition is one named, typed data slot within a document type's
// schema. FieldKey is the stable identifier used for template placeholders
// and row values; it is unique within a type.
type FieldDefinition struct {
	ID             uuid.UUID `json:"id" db:"id"`
	DocumentTypeID uuid.UUID `json:"document_type_id" db:"document_type_id"`
	FieldKey       string    `json:"field_key" db:"field_key"`
	DisplayName    string    `json:"display_name" db:"display_name"`
	FieldType      FieldType `json:"field_type" db:"field_type"`
	IsRequired     bool      `json:"is_required" db:"is_required"`
	ValidationRule string    `json:"validation_rule,omitempty" db:"validation_rule"`
	DefaultValue   *string   `json:"default_value,omitempty" db:"default_value"`
	SortOrder      int       `json:"sort_order" db:"sort_order"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

var validFieldTypes = map[FieldType]bool{
	FieldTypeText: true, FieldTypeNumber: true, FieldTypeDate: true,
	FieldTypeEmail: true, FieldTypePhone: true, FieldTypeCurrency: true,
	FieldTypePercentage: true, FieldTypeBoolean: true, FieldTypeDropdown: true,
	FieldTypeTextArea: true, FieldTypeURL: true, FieldTypeImage: true,
	FieldTypeFile: true, FieldTypeDateTime: true, FieldTypeTime: true,
	FieldTypeJSON: true,
}

// IsValidFieldType reports whether ft is one of the supported field types.
func IsValidFieldType(ft FieldType) bool {
	return validFieldTypes[ft]
}

var (
	nonKeyChars     = regexp.MustCompile(`[^a-z0-9_]`)
	repeatedUnders  = regexp.MustCompile(`_+`)
	fieldKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// NormalizeFieldKey converts an arbitrary name into snake_case suitable for
// use as a field key: "Emp ID" -> "emp_id".
func NormalizeFieldKey(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	key = nonKeyChars.ReplaceAllString(key, "")
	key = repeatedUnders.ReplaceAllString(key, "_")
	return strings.Trim(key, "_")
}

// IsValidFieldKey reports whether key is a well-formed field key:
// lowercase alphanumeric with underscores, starting with a letter.
func IsValidFieldKey(key string) bool {
	if key == "" || len(key) > 100 {
		return false
	}
	return fieldKeyPattern.MatchString(key)
}
