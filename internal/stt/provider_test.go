package stt

import "testing"

func TestEstimateConfidence(t *testing.T) {
	tests := []struct {
		name string
		text string
		min  float64
		max  float64
	}{
		{"empty", "", 0, 0},
		{"whitespace only", "   ", 0, 0},
		{"normal sentence", "please tell me about your previous role", 0.85, 0.95},
		{"short fragment", "uh yes", 0.7, 0.8},
		{"bracketed artifact", "I worked at [inaudible] for three years", 0.65, 0.75},
		{"repeated tokens", "I I think that went well enough", 0.75, 0.85},
		{"everything wrong", "[?] [?]", 0.1, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateConfidence(tt.text)
			if got < tt.min || got > tt.max {
				t.Errorf("EstimateConfidence(%q) = %f, want in [%f, %f]", tt.text, got, tt.min, tt.max)
			}
		})
	}
}

func TestEstimateConfidence_NeverZeroForText(t *testing.T) {
	if got := EstimateConfidence("[[((]] [[ ))]] a a a"); got < 0.1 {
		t.Errorf("confidence floor violated: %f", got)
	}
}
