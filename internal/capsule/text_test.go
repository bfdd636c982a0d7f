package capsule

import (
	"testing"
)

func TestTitleCase(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"selectedTopics", "Selected Topics"},
		{"turnContext", "Turn Context"},
		{"last_turn_id", "Last Turn Id"},
		{"suggested-focus", "Suggested Focus"},
		{"pulse", "Pulse"},
		{"llm1Output", "Llm1 Output"},
		{"HTTPServer", "HTTP Server"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := TitleCase(tt.input); got != tt.want {
				t.Errorf("TitleCase(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCountChars(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{name: "ascii only", input: "hello", want: 5},
		{name: "empty string", input: "", want: 0},
		{name: "multi-byte", input: "café 世界", want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CountChars(tt.input)
			if got != tt.want {
				t.Errorf("CountChars(%q) = %d, want %d (len=%d bytes)", tt.input, got, tt.want, len(tt.input))
			}
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{name: "empty string", input: "", want: 0},
		{name: "single word", input: "hello", want: 2},
		{name: "two words", input: "hello world", want: 3},
		{name: "with newlines and tabs", input: "hello\nworld\tthere", want: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateTokens(tt.input)
			if got != tt.want {
				t.Errorf("EstimateTokens(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestLint(t *testing.T) {
	text := "one two three four five six seven eight nine ten"

	if got := Lint(text, 0); got.OverBudget {
		t.Error("zero threshold must disable the warning")
	}
	if got := Lint(text, 100); got.OverBudget {
		t.Error("13 tokens should be under a 100 token threshold")
	}
	got := Lint(text, 5)
	if !got.OverBudget {
		t.Error("13 tokens should exceed a 5 token threshold")
	}
	if got.Chars != CountChars(text) {
		t.Errorf("Chars = %d, want %d", got.Chars, CountChars(text))
	}
}
