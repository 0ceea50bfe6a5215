package ingest

import (
	"testing"

	"github.com/ignite/docsend/internal/schema"
)

func typedField(ft schema.FieldType) schema.FieldDefinition {
	return schema.FieldDefinition{FieldKey: "f", FieldType: ft}
}

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		name    string
		ft      schema.FieldType
		raw     string
		want    string
		wantErr bool
	}{
		{"text passthrough", schema.FieldTypeText, "  Alice  ", "Alice", false},

		{"number plain", schema.FieldTypeNumber, "42", "42", false},
		{"number with separators", schema.FieldTypeNumber, "1,234.5", "1234.5", false},
		{"number garbage", schema.FieldTypeNumber, "forty two", "", true},

		{"currency dollar", schema.FieldTypeCurrency, "$85,000", "85000.00", false},
		{"currency bare", schema.FieldTypeCurrency, "85000", "85000.00", false},
		{"currency euro", schema.FieldTypeCurrency, "€1,200.50", "1200.50", false},
		{"currency garbage", schema.FieldTypeCurrency, "a lot", "", true},

		{"percentage with sign", schema.FieldTypePercentage, "12.5%", "12.5", false},
		{"percentage bare", schema.FieldTypePercentage, "8", "8", false},
		{"percentage garbage", schema.FieldTypePercentage, "high", "", true},

		{"boolean yes", schema.FieldTypeBoolean, "Yes", "true", false},
		{"boolean n", schema.FieldTypeBoolean, "N", "false", false},
		{"boolean 1", schema.FieldTypeBoolean, "1", "true", false},
		{"boolean garbage", schema.FieldTypeBoolean, "maybe", "", true},

		{"date iso", schema.FieldTypeDate, "2026-03-15", "2026-03-15", false},
		{"date written", schema.FieldTypeDate, "Mar 15, 2026", "2026-03-15", false},
		{"date slashes", schema.FieldTypeDate, "15/03/2026", "2026-03-15", false},
		{"date garbage", schema.FieldTypeDate, "someday", "", true},

		{"time 24h", schema.FieldTypeTime, "14:30", "14:30", false},
		{"time am pm", schema.FieldTypeTime, "2:30 PM", "14:30", false},

		{"email valid", schema.FieldTypeEmail, "Alice@Example.COM", "alice@example.com", false},
		{"email no domain", schema.FieldTypeEmail, "alice@", "", true},
		{"email no at", schema.FieldTypeEmail, "alice.example.com", "", true},

		{"phone valid", schema.FieldTypePhone, "+1 (555) 123-4567", "+1 (555) 123-4567", false},
		{"phone too short", schema.FieldTypePhone, "12345", "", true},

		{"url valid", schema.FieldTypeURL, "https://example.com/x", "https://example.com/x", false},
		{"url no scheme", schema.FieldTypeURL, "example.com", "", true},

		{"json valid", schema.FieldTypeJSON, `{"a":1}`, `{"a":1}`, false},
		{"json invalid", schema.FieldTypeJSON, `{a:1}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CoerceValue(typedField(tt.ft), tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CoerceValue() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("CoerceValue() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCoerceValue_EmailErrorReason(t *testing.T) {
	_, err := CoerceValue(typedField(schema.FieldTypeEmail), "not-an-email")
	if err == nil || err.Error() != "invalid format" {
		t.Errorf("email error = %v, want \"invalid format\"", err)
	}
}

func TestCoerceValue_EmptyUsesDefault(t *testing.T) {
	def := "Remote"
	f := schema.FieldDefinition{FieldKey: "location", FieldType: schema.FieldTypeText, DefaultValue: &def}

	got, err := CoerceValue(f, "   ")
	if err != nil {
		t.Fatalf("CoerceValue: %v", err)
	}
	if got != "Remote" {
		t.Errorf("got %q, want the default", got)
	}

	got, err = CoerceValue(typedField(schema.FieldTypeText), "")
	if err != nil || got != "" {
		t.Errorf("empty without default = (%q, %v), want empty, nil", got, err)
	}
}

func TestValidateValue(t *testing.T) {
	f := schema.FieldDefinition{
		FieldKey:       "code",
		FieldType:      schema.FieldTypeText,
		ValidationRule: `^[A-Z]{3}-\d{4}$`,
	}

	if err := ValidateValue(f, "ABC-1234"); err != nil {
		t.Errorf("matching value rejected: %v", err)
	}
	if err := ValidateValue(f, "nope"); err == nil {
		t.Error("non-matching value accepted")
	}
	if err := ValidateValue(f, ""); err != nil {
		t.Errorf("empty value should pass: %v", err)
	}

	// A rule on a numeric type is ignored.
	num := schema.FieldDefinition{FieldKey: "n", FieldType: schema.FieldTypeNumber, ValidationRule: `^x$`}
	if err := ValidateValue(num, "42"); err != nil {
		t.Errorf("rule on number type should be ignored: %v", err)
	}

	// A broken rule must not reject data.
	broken := schema.FieldDefinition{FieldKey: "c", FieldType: schema.FieldTypeText, ValidationRule: `^[`}
	if err := ValidateValue(broken, "anything"); err != nil {
		t.Errorf("broken rule rejected data: %v", err)
	}
}

func TestMissingRequired(t *testing.T) {
	fields := []schema.FieldDefinition{
		{FieldKey: "employee_id", IsRequired: true},
		{FieldKey: "email", IsRequired: true},
		{FieldKey: "nickname"},
	}
	row := &RowRecord{Values: Values{"employee_id": "E42"}}

	missing := MissingRequired(row, fields)
	if len(missing) != 1 || missing[0] != "email" {
		t.Errorf("MissingRequired = %v, want [email]", missing)
	}

	row.Values["email"] = "a@b.co"
	if got := MissingRequired(row, fields); len(got) != 0 {
		t.Errorf("MissingRequired = %v, want empty", got)
	}
}
