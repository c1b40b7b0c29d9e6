package textkit_test

import (
	"testing"

	"github.com/urecho/urecho/internal/textkit"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "Hello World", "hello world"},
		{"punctuation stripped", "Stop, please!", "stop please"},
		{"whitespace collapsed", "  stop \t now  ", "stop now"},
		{"diacritics folded", "café", "cafe"},
		{"cyrillic yo folded", "всё", "все"},
		{"cyrillic preserved", "Хватит", "хватит"},
		{"empty", "", ""},
		{"only punctuation", "?!...", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := textkit.Normalize(tc.in); got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestRatio_Identical(t *testing.T) {
	t.Parallel()

	if got := textkit.Ratio("stop", "Stop!"); got != 100 {
		t.Errorf("Ratio(stop, Stop!) = %d, want 100 after normalization", got)
	}
}

func TestRatio_Empty(t *testing.T) {
	t.Parallel()

	if got := textkit.Ratio("", "stop"); got != 0 {
		t.Errorf("Ratio with empty side = %d, want 0", got)
	}
	if got := textkit.Ratio("?!", "stop"); got != 0 {
		t.Errorf("Ratio with punctuation-only side = %d, want 0", got)
	}
}

func TestRatio_Disjoint(t *testing.T) {
	t.Parallel()

	if got := textkit.Ratio("abcd", "wxyz"); got != 0 {
		t.Errorf("Ratio(abcd, wxyz) = %d, want 0", got)
	}
}

func TestPartialRatio_Substring(t *testing.T) {
	t.Parallel()

	// A phrase fully contained in a longer transcript scores 100.
	if got := textkit.PartialRatio("stop", "okay stop now please"); got != 100 {
		t.Errorf("PartialRatio(stop, okay stop now please) = %d, want 100", got)
	}
}

func TestPartialRatio_NearMiss(t *testing.T) {
	t.Parallel()

	// Contractions lose the apostrophe under normalization, so the phrase is
	// a clean substring of the transcript.
	if got := textkit.PartialRatio("that's enough", "ok thats enough now"); got != 100 {
		t.Errorf("PartialRatio contraction = %d, want 100", got)
	}
}

func TestCorrector_PhoneticNearMiss(t *testing.T) {
	t.Parallel()

	c := textkit.NewCorrector()
	vocab := []string{"pause", "resume", "shut down"}

	corrected, score, ok := c.Correct("paws", vocab)
	if !ok {
		t.Fatalf("Correct(%q): ok=false, want true", "paws")
	}
	if corrected != "pause" {
		t.Errorf("Correct(%q): corrected=%q, want %q", "paws", corrected, "pause")
	}
	if score < 0.7 {
		t.Errorf("Correct(%q): score=%f, want >= 0.7", "paws", score)
	}
}

func TestCorrector_MultiWordCommand(t *testing.T) {
	t.Parallel()

	c := textkit.NewCorrector()
	vocab := []string{"shut down", "pause", "resume"}

	corrected, _, ok := c.Correct("shot down", vocab)
	if !ok {
		t.Fatalf("Correct(%q): ok=false, want true", "shot down")
	}
	if corrected != "shut down" {
		t.Errorf("Correct(%q): corrected=%q, want %q", "shot down", corrected, "shut down")
	}
}

func TestCorrector_NoInvention(t *testing.T) {
	t.Parallel()

	c := textkit.NewCorrector()
	vocab := []string{"pause", "resume"}

	corrected, score, ok := c.Correct("giraffe", vocab)
	if ok {
		t.Fatalf("Correct(%q): ok=true, want false", "giraffe")
	}
	if corrected != "giraffe" {
		t.Errorf("Correct(%q): corrected=%q, want input unchanged", "giraffe", corrected)
	}
	if score != 0 {
		t.Errorf("Correct(%q): score=%f, want 0", "giraffe", score)
	}
}

func TestCorrector_ExactMatchHighScore(t *testing.T) {
	t.Parallel()

	c := textkit.NewCorrector()
	vocab := []string{"resume", "pause"}

	corrected, score, ok := c.Correct("Resume!", vocab)
	if !ok {
		t.Fatalf("Correct(%q): ok=false, want true", "Resume!")
	}
	if corrected != "resume" {
		t.Errorf("Correct(%q): corrected=%q, want %q", "Resume!", corrected, "resume")
	}
	if score < 0.9 {
		t.Errorf("Correct(%q): score=%f, want >= 0.9", "Resume!", score)
	}
}

func TestCorrector_FloorsReject(t *testing.T) {
	t.Parallel()

	c := textkit.NewCorrector(
		textkit.WithPhoneticFloor(0.99),
		textkit.WithSpellingFloor(0.99),
	)
	if _, _, ok := c.Correct("paws", []string{"pause"}); ok {
		t.Fatal("Correct with floors=0.99 should reject near-matches")
	}
}

func TestCorrector_EmptyInputs(t *testing.T) {
	t.Parallel()

	c := textkit.NewCorrector()
	if _, _, ok := c.Correct("", []string{"pause"}); ok {
		t.Fatal("Correct with empty heard text should return ok=false")
	}
	if _, _, ok := c.Correct("pause", nil); ok {
		t.Fatal("Correct with empty vocabulary should return ok=false")
	}
}
