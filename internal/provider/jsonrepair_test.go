package provider

import "testing"

func TestParseToolArguments(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]any
		wantErr bool
	}{
		{
			name: "valid json",
			raw:  `{"path": "notes/a.md"}`,
			want: map[string]any{"path": "notes/a.md"},
		},
		{
			name: "empty input yields empty object",
			raw:  "",
			want: map[string]any{},
		},
		{
			name: "whitespace only",
			raw:  "  \n\t ",
			want: map[string]any{},
		},
		{
			name: "trailing comma in object",
			raw:  `{"path": "a.md",}`,
			want: map[string]any{"path": "a.md"},
		},
		{
			name: "trailing comma in array",
			raw:  `{"paths": ["a", "b",]}`,
			want: map[string]any{"paths": []any{"a", "b"}},
		},
		{
			name: "trailing comma with whitespace before closer",
			raw:  "{\"path\": \"a.md\", \n }",
			want: map[string]any{"path": "a.md"},
		},
		{
			name: "stray control character outside string",
			raw:  "{\"path\": \x07\"a.md\"}",
			want: map[string]any{"path": "a.md"},
		},
		{
			name:    "unrepairable input",
			raw:     `{"path": `,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseToolArguments(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseToolArguments(%q) succeeded with %v", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseToolArguments(%q): %v", tt.raw, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, want := range tt.want {
				switch w := want.(type) {
				case string:
					if got[k] != w {
						t.Errorf("args[%q] = %v, want %v", k, got[k], w)
					}
				case []any:
					gotSlice, ok := got[k].([]any)
					if !ok || len(gotSlice) != len(w) {
						t.Errorf("args[%q] = %v, want %v", k, got[k], w)
					}
				}
			}
		})
	}
}

// Escaped quotes and commas inside strings must survive the repair pass
// untouched.
func TestRepairJSONPreservesStrings(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"comma inside string kept", `{"a": "one, two"}`, `{"a": "one, two"}`},
		{"escaped quote inside string", `{"a": "say \"hi\""}`, `{"a": "say \"hi\""}`},
		{"newline inside string kept", "{\"a\": \"line\nbreak\"}", "{\"a\": \"line\nbreak\"}"},
		{"control char outside dropped", "{\x01\"a\": 1}", `{"a": 1}`},
		{"trailing comma dropped", `[1, 2,]`, `[1, 2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := repairJSON(tt.in); got != tt.want {
				t.Errorf("repairJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
