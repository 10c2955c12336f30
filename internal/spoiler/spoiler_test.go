package spoiler

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"clean message", "what's your favorite opening theme?", false},
		{"empty message", "", false},
		{"death keyword", "the death scene was brutal", true},
		{"dies keyword", "wait until you see who dies", true},
		{"uppercase keyword", "NO SPOILERS please", true},
		{"keyword inside word", "she was on her deathbed", true},
		{"finale keyword", "the finale airs next week", true},
		{"ending keyword", "I hated the ending", true},
		{"killed mid-sentence", "that fight killed the pacing", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.text); got != tt.want {
				t.Errorf("Detect(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
