// Package docgen merges row-record values into templates to produce
// immutable generated documents.
package docgen

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/docsend/internal/ingest"
	"github.com/ignite/docsend/internal/pkg/logger"
	"github.com/ignite/docsend/internal/schema"
	"github.com/ignite/docsend/internal/template"
)

// SignatureAnchor marks where a signature asset is embedded in a template.
// It is reserved: a field definition may not claim the key "signature".
const SignatureAnchor = "{{signature}}"

var placeholderOccurrence = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Signature is a reusable signature asset embedded at the anchor point.
type Signature struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	BlobRef   string    `db:"blob_ref" json:"blob_ref"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// GenerateRequest carries everything needed to produce one document.
type GenerateRequest struct {
	Template  *template.Template
	Fields    []schema.FieldDefinition
	Row       *ingest.RowRecord
	Signature *Signature
	Generator string
}

// GenerateResult is the rendered content plus anything worth telling the
// caller about. Unresolved placeholders are warnings, never errors: the
// document is still produced with the literal token left in place.
type GenerateResult struct {
	Content    string   `json:"content"`
	Unresolved []string `json:"unresolved,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Generator renders documents. It holds no mutable state; rendering is a
// pure function of the request so repeated generation is byte-identical.
type Generator struct{}

// NewGenerator creates a document generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate substitutes every recognized placeholder in the template content
// with the row's value, formatted per the field's declared type. Placeholders
// with no matching value are left as literal text and reported. The signature
// asset, when supplied, is embedded at the anchor.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if req.Template == nil {
		return nil, fmt.Errorf("generate: template is required")
	}
	if req.Row == nil {
		return nil, fmt.Errorf("generate: row record is required")
	}

	fieldsByKey := make(map[string]schema.FieldDefinition, len(req.Fields))
	for _, f := range req.Fields {
		fieldsByKey[f.FieldKey] = f
	}

	result := &GenerateResult{}
	seen := make(map[string]bool)

	content := placeholderOccurrence.ReplaceAllStringFunc(req.Template.Content, func(match string) string {
		key := strings.TrimSpace(match[2 : len(match)-2])
		if key == "signature" {
			// Canonicalize spacing so the embed step below matches any
			// spelling of the anchor. Handled after field substitution.
			return SignatureAnchor
		}

		val, ok := req.Row.Values[key]
		if !ok || val == "" {
			field, defined := fieldsByKey[key]
			if defined && field.DefaultValue != nil && *field.DefaultValue != "" {
				val = *field.DefaultValue
			} else {
				if !seen[key] {
					seen[key] = true
					result.Unresolved = append(result.Unresolved, key)
					result.Warnings = append(result.Warnings,
						fmt.Sprintf("placeholder {{%s}} has no value; left as literal text", key))
				}
				return match
			}
		}

		if field, defined := fieldsByKey[key]; defined {
			return FormatValue(field.FieldType, val)
		}
		return val
	})

	if strings.Contains(content, SignatureAnchor) {
		if req.Signature != nil {
			content = strings.ReplaceAll(content, SignatureAnchor, signatureMarkup(req.Signature))
		} else {
			content = strings.ReplaceAll(content, SignatureAnchor, "")
			result.Warnings = append(result.Warnings, "template has a signature anchor but no signature was supplied")
		}
	}

	result.Content = content
	return result, nil
}

// signatureMarkup renders the embed markup for a signature asset.
func signatureMarkup(sig *Signature) string {
	return fmt.Sprintf(`<img src="%s" alt="%s" class="signature" />`, sig.BlobRef, sig.Name)
}

// CheckRowReady verifies a row satisfies all required fields before
// generation. Returns the missing field keys.
func CheckRowReady(row *ingest.RowRecord, fields []schema.FieldDefinition) []string {
	missing := ingest.MissingRequired(row, fields)
	if len(missing) > 0 {
		logger.Debug("row not ready for generation",
			"row_id", row.ID.String(),
			"missing", strings.Join(missing, ","))
	}
	return missing
}
