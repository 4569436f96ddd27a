package feature

// OneHotEncoder expands a categorical value into indicator columns over
// the categories seen at training time. Unseen values encode to all
// zeros.
type OneHotEncoder struct {
	Categories []string `json:"categories"`
}

// Encode returns one indicator per training category.
func (e *OneHotEncoder) Encode(value string) []float64 {
	out := make([]float64, len(e.Categories))
	for i, c := range e.Categories {
		if c == value {
			out[i] = 1
			break
		}
	}
	return out
}

// Width is the number of columns Encode produces.
func (e *OneHotEncoder) Width() int { return len(e.Categories) }

// TargetEncoder maps a category to its smoothed training-time target
// mean. Unseen values fall back to the prior.
type TargetEncoder struct {
	Mapping   map[string]float64 `json:"mapping"`
	Prior     float64            `json:"prior"`
	Smoothing float64            `json:"smoothing"`
}

// Encode returns the smoothed mean for the value.
func (e *TargetEncoder) Encode(value string) float64 {
	if v, ok := e.Mapping[value]; ok {
		return v
	}
	return e.Prior
}

// FrequencyEncoder maps a high-cardinality code to its training-time
// frequency. Unseen values map to 0.
type FrequencyEncoder struct {
	Mapping map[string]float64 `json:"mapping"`
}

// Encode returns the frequency for the value, 0 when unseen.
func (e *FrequencyEncoder) Encode(value string) float64 {
	return e.Mapping[value]
}

// StandardScaler applies the training-time (x-mean)/scale transform
// position-wise. Scalers are fit at training and never refit here.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Transform scales the vector in place and returns it. Positions beyond
// the fitted parameters pass through; a zero scale degrades to centering
// only.
func (s *StandardScaler) Transform(features []float64) []float64 {
	for i := range features {
		if i >= len(s.Mean) || i >= len(s.Scale) {
			break
		}
		features[i] -= s.Mean[i]
		if s.Scale[i] != 0 {
			features[i] /= s.Scale[i]
		}
	}
	return features
}
