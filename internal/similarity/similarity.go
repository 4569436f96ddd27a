package similarity

import (
	"strings"
)

// DefaultThreshold is the percentage above which a non-numeric edit
// difference still counts as similar.
const DefaultThreshold = 60

// Result is the outcome of one directed comparison.
type Result struct {
	// Similar reports whether the pair is judged a duplicate candidate.
	Similar bool
	// Risk is 0 when not similar, otherwise Score/100.
	Risk float64
	// Score is the raw similarity percentage in [0,100].
	Score float64
}

// Scorer computes directed invoice-number similarity. The edit script is
// asymmetric, so callers must compare in both orderings; use Symmetric.
type Scorer interface {
	Score(a, b string) Result
}

// RuleBased scores similarity from a minimal edit script.
type RuleBased struct {
	// Threshold is a percentage; zero means DefaultThreshold.
	Threshold float64

	// ExactOnly restricts similarity to equal or substring matches.
	ExactOnly bool
}

// NewRuleBased creates a rule-based scorer. A non-positive threshold
// falls back to DefaultThreshold.
func NewRuleBased(threshold float64) *RuleBased {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &RuleBased{Threshold: threshold}
}

// Score compares a against b.
func (s *RuleBased) Score(a, b string) Result {
	// Exact and substring matches short-circuit at full score.
	if a == b || (a != "" && b != "" && (strings.Contains(a, b) || strings.Contains(b, a))) {
		return Result{Similar: true, Risk: 1, Score: 100}
	}
	if s.ExactOnly {
		return Result{}
	}

	ops := editScript(a, b)
	distance := len(ops)
	length := len(a)
	if len(b) > length {
		length = len(b)
	}
	if length == 0 {
		return Result{}
	}

	score := 100 * float64(length-distance) / float64(length)
	if score < 0 {
		score = 0
	}

	threshold := s.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	var similar bool
	if allDigits(ops) {
		// Numeric-only difference: only a contiguous edit run in the
		// identifier prefix marks a variant of the same number. Edits at
		// the tail are treated as distinct sequence numbers.
		similar = contiguousPrefix(ops)
	} else {
		firstIsDigit := ops[0].ch >= '0' && ops[0].ch <= '9'
		similar = (score > threshold || distance <= 4) && !firstIsDigit
	}

	res := Result{Similar: similar, Score: score}
	if similar {
		res.Risk = score / 100
	}
	return res
}

// Classifier predicts a duplicate probability from pair features. The
// trained-model pipeline satisfies this.
type Classifier interface {
	Predict(features []float64) (float64, error)
}

// ML scores similarity with a pretrained classifier over handcrafted
// pair features, keeping the rule-based raw score for audit.
type ML struct {
	classifier Classifier
	rule       *RuleBased
	// Threshold is the probability above which a pair is similar.
	Threshold float64
}

// NewML creates an ML-backed scorer.
func NewML(classifier Classifier, ruleThreshold float64) *ML {
	return &ML{
		classifier: classifier,
		rule:       NewRuleBased(ruleThreshold),
		Threshold:  0.5,
	}
}

// Score predicts the duplicate probability for the pair. On prediction
// failure it falls back to the rule-based decision.
func (s *ML) Score(a, b string) Result {
	base := s.rule.Score(a, b)

	prob, err := s.classifier.Predict(PairFeatures(a, b))
	if err != nil {
		return base
	}

	res := Result{Similar: prob >= s.Threshold, Score: base.Score}
	if res.Similar {
		res.Risk = prob
	}
	return res
}

// PairFeatures computes the handcrafted feature vector for an invoice
// number pair fed to the ML classifier.
func PairFeatures(a, b string) []float64 {
	ops := editScript(a, b)
	length := len(a)
	if len(b) > length {
		length = len(b)
	}

	var score float64
	if length > 0 {
		score = 100 * float64(length-len(ops)) / float64(length)
	}

	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	digitOnly := 0.0
	if allDigits(ops) {
		digitOnly = 1
	}

	return []float64{
		float64(len(a)),
		float64(len(b)),
		float64(len(ops)),
		score,
		float64(prefix),
		float64(suffix),
		digitOnly,
	}
}

// Ratio is the edit-distance similarity of two strings in [0,1]. Two
// empty strings are identical.
func Ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	length := len(a)
	if len(b) > length {
		length = len(b)
	}
	r := float64(length-len(editScript(a, b))) / float64(length)
	if r < 0 {
		return 0
	}
	return r
}

// Symmetric compares in both orderings and takes the maximum on both the
// decision and the numeric score. The directed edit script is asymmetric;
// this wrapper is the only entry point the duplicate pipeline uses.
func Symmetric(s Scorer, a, b string) Result {
	fwd := s.Score(a, b)
	rev := s.Score(b, a)

	out := Result{
		Similar: fwd.Similar || rev.Similar,
		Risk:    fwd.Risk,
		Score:   fwd.Score,
	}
	if rev.Risk > out.Risk {
		out.Risk = rev.Risk
	}
	if rev.Score > out.Score {
		out.Score = rev.Score
	}
	return out
}
