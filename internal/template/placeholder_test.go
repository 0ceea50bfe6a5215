package template

import (
	"reflect"
	"testing"
)

func TestExtractPlaceholders(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "basic",
			text: "Dear {{first_name}}, your salary is {{salary}}.",
			want: []string{"first_name", "salary"},
		},
		{
			name: "inner whitespace",
			text: "Hello {{ first_name }} {{last_name}}",
			want: []string{"first_name", "last_name"},
		},
		{
			name: "duplicates collapse in first-seen order",
			text: "{{a}} {{b}} {{a}} {{c}} {{b}}",
			want: []string{"a", "b", "c"},
		},
		{
			name: "malformed tokens ignored",
			text: "{{1bad}} {{ok_key}} {{bad-key}} {single}",
			want: []string{"ok_key"},
		},
		{
			name: "no placeholders",
			text: "plain text",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractPlaceholders(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractPlaceholders() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	known := []string{"first_name", "salary", "start_date"}
	required := []string{"first_name", "start_date"}

	t.Run("missing required blocks ready to send", func(t *testing.T) {
		result := Validate("Dear {{first_name}}, you earn {{salary}}.", required, known)
		if !reflect.DeepEqual(result.Missing, []string{"start_date"}) {
			t.Errorf("Missing = %v, want [start_date]", result.Missing)
		}
		if result.ReadyToSend {
			t.Error("ReadyToSend = true with a missing required field")
		}
	})

	t.Run("unknown placeholders are warnings only", func(t *testing.T) {
		result := Validate("{{first_name}} {{start_date}} {{middle_name}}", required, known)
		if len(result.Missing) != 0 {
			t.Errorf("Missing = %v, want empty", result.Missing)
		}
		if !reflect.DeepEqual(result.Extra, []string{"middle_name"}) {
			t.Errorf("Extra = %v, want [middle_name]", result.Extra)
		}
		if !result.ReadyToSend {
			t.Error("unknown placeholders must not block ready to send")
		}
	})

	t.Run("complete template", func(t *testing.T) {
		result := Validate("{{first_name}} {{salary}} {{start_date}}", required, known)
		if len(result.Missing) != 0 || len(result.Extra) != 0 || !result.ReadyToSend {
			t.Errorf("unexpected result: %+v", result)
		}
	})
}
