package provider

import "testing"

func TestResolveParams(t *testing.T) {
	temp := func(v float64) *float64 { return &v }

	tests := []struct {
		name       string
		model      string
		opts       Options
		wantTemp   *float64
		wantParam  string
		wantTokens int
	}{
		{
			name:       "o1 locks temperature",
			model:      "o1-preview",
			opts:       Options{Temperature: temp(0.2), MaxTokens: 500},
			wantTemp:   temp(1.0),
			wantParam:  "max_completion_tokens",
			wantTokens: 500,
		},
		{
			name:      "o3 family",
			model:     "o3-mini",
			opts:      Options{Temperature: temp(0.0)},
			wantTemp:  temp(1.0),
			wantParam: "max_completion_tokens",
		},
		{
			name:      "gpt-5 locks temperature",
			model:     "gpt-5-turbo",
			opts:      Options{Temperature: temp(0.7)},
			wantTemp:  temp(1.0),
			wantParam: "max_completion_tokens",
		},
		{
			name:       "gpt-4o passes temperature through",
			model:      "gpt-4o",
			opts:       Options{Temperature: temp(0.3), MaxTokens: 100},
			wantTemp:   temp(0.3),
			wantParam:  "max_tokens",
			wantTokens: 100,
		},
		{
			name:      "case insensitive match",
			model:     "GPT-4o-mini",
			opts:      Options{Temperature: temp(0.5)},
			wantTemp:  temp(0.5),
			wantParam: "max_tokens",
		},
		{
			name:      "unknown model falls through to default",
			model:     "llama3.2",
			opts:      Options{Temperature: temp(0.9)},
			wantTemp:  temp(0.9),
			wantParam: "max_tokens",
		},
		{
			name:      "nil temperature stays nil",
			model:     "gpt-4o",
			opts:      Options{},
			wantTemp:  nil,
			wantParam: "max_tokens",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveParams(tt.model, tt.opts)

			switch {
			case tt.wantTemp == nil && got.temperature != nil:
				t.Errorf("temperature = %v, want nil", *got.temperature)
			case tt.wantTemp != nil && got.temperature == nil:
				t.Errorf("temperature = nil, want %v", *tt.wantTemp)
			case tt.wantTemp != nil && *got.temperature != *tt.wantTemp:
				t.Errorf("temperature = %v, want %v", *got.temperature, *tt.wantTemp)
			}
			if got.tokenParam != tt.wantParam {
				t.Errorf("tokenParam = %q, want %q", got.tokenParam, tt.wantParam)
			}
			if got.maxTokens != tt.wantTokens {
				t.Errorf("maxTokens = %d, want %d", got.maxTokens, tt.wantTokens)
			}
		})
	}
}
