package similarity

import (
	"testing"
)

func TestRuleBased_ExactAndSubstring(t *testing.T) {
	s := NewRuleBased(60)

	tests := []struct {
		a, b string
	}{
		{"INV-001", "INV-001"},
		{"INV-001", "INV-001A"},
		{"001", "INV-001"},
	}

	for _, tt := range tests {
		res := s.Score(tt.a, tt.b)
		if !res.Similar || res.Score != 100 || res.Risk != 1 {
			t.Errorf("Score(%q, %q) = %+v, want similar at 100", tt.a, tt.b, res)
		}
	}
}

func TestRuleBased_NumericPrefixRule(t *testing.T) {
	s := NewRuleBased(60)

	// Single digit edit at position 0: contiguous, before index 3.
	res := s.Score("1234", "2234")
	if !res.Similar {
		t.Error("expected 1234 vs 2234 to be similar (prefix edit)")
	}
	if res.Score != 75 {
		t.Errorf("expected raw score 75, got %v", res.Score)
	}
	if res.Risk != 0.75 {
		t.Errorf("expected risk 0.75, got %v", res.Risk)
	}

	// Same distance but the edit is at the tail: distinct sequence number.
	res = s.Score("1234", "1235")
	if res.Similar {
		t.Error("expected 1234 vs 1235 to be dissimilar (tail edit)")
	}
	if res.Risk != 0 {
		t.Errorf("expected zero risk, got %v", res.Risk)
	}
	if res.Score != 75 {
		t.Errorf("raw score should still be returned, got %v", res.Score)
	}
}

func TestRuleBased_NumericNonContiguous(t *testing.T) {
	s := NewRuleBased(60)

	// Two digit edits split across the string are not contiguous.
	res := s.Score("12345678", "92345679")
	if res.Similar {
		t.Errorf("expected non-contiguous digit edits to be dissimilar, got %+v", res)
	}
}

func TestRuleBased_NonNumericDifference(t *testing.T) {
	s := NewRuleBased(60)

	// Small alpha edit, first edit char not a digit.
	res := s.Score("INVA-20231", "INVB-20231")
	if !res.Similar {
		t.Errorf("expected similar, got %+v", res)
	}

	// First edit character is a digit even though the script has alphas.
	res = s.Score("7ABCDEFGH", "8ABCDEFGX")
	if res.Similar {
		t.Errorf("expected dissimilar when first edit char is a digit, got %+v", res)
	}
}

func TestRuleBased_ExactOnly(t *testing.T) {
	s := &RuleBased{Threshold: 60, ExactOnly: true}

	if res := s.Score("INV-100", "INV-100"); !res.Similar {
		t.Error("exact match must stay similar in exact-only mode")
	}
	if res := s.Score("INVA-100", "INVB-100"); res.Similar {
		t.Error("fuzzy match must be rejected in exact-only mode")
	}
}

func TestSymmetric(t *testing.T) {
	s := NewRuleBased(60)

	a, b := "INV-001", "INV-001A"
	fwd := Symmetric(s, a, b)
	rev := Symmetric(s, b, a)

	if fwd.Similar != rev.Similar || fwd.Risk != rev.Risk || fwd.Score != rev.Score {
		t.Errorf("Symmetric is not symmetric: %+v vs %+v", fwd, rev)
	}
}

func TestEditScript_Distance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"abc", "ab", 1},
		{"ab", "abc", 1},
		{"kitten", "sitting", 3},
	}

	for _, tt := range tests {
		if got := len(editScript(tt.a, tt.b)); got != tt.want {
			t.Errorf("editScript(%q, %q): distance %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

type fixedClassifier struct{ prob float64 }

func (c fixedClassifier) Predict([]float64) (float64, error) { return c.prob, nil }

func TestML_Backend(t *testing.T) {
	s := NewML(fixedClassifier{prob: 0.9}, 60)

	res := s.Score("AAA-1", "BBB-9")
	if !res.Similar || res.Risk != 0.9 {
		t.Errorf("expected classifier verdict to win, got %+v", res)
	}

	s = NewML(fixedClassifier{prob: 0.1}, 60)
	res = s.Score("AAA-1", "AAA-1")
	if res.Similar {
		t.Errorf("low probability should be dissimilar, got %+v", res)
	}
}

func TestPairFeatures_Deterministic(t *testing.T) {
	f1 := PairFeatures("INV-001", "INV-002")
	f2 := PairFeatures("INV-001", "INV-002")

	if len(f1) != 7 {
		t.Fatalf("expected 7 features, got %d", len(f1))
	}
	for i := range f1 {
		if f1[i] != f2[i] {
			t.Errorf("feature %d not deterministic: %v vs %v", i, f1[i], f2[i])
		}
	}
}
