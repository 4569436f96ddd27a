// Package model loads serialized scoring pipelines from disk and runs
// predictions for the score optimizer. An artifact bundles the fitted
// scaler, the categorical encoder tables and the trained classifier
// into one JSON document per rule.
package model

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
)

// Artifact kinds select which feature vector the pipeline expects.
const (
	KindPair = "pair"
	KindRow  = "row"
)

// Artifact is one serialized scoring pipeline.
type Artifact struct {
	SchemaVersion int      `json:"schema_version"`
	Rule          string   `json:"rule"`
	Kind          string   `json:"kind"`
	Features      []string `json:"features"`

	Scaler   *feature.StandardScaler `json:"scaler,omitempty"`
	Encoders *Encoders               `json:"encoders,omitempty"`
	Model    Spec                    `json:"model"`
}

// Encoders holds the fitted categorical encoder tables, keyed by the
// source column name.
type Encoders struct {
	OneHot    map[string]*feature.OneHotEncoder    `json:"onehot,omitempty"`
	Target    map[string]*feature.TargetEncoder    `json:"target,omitempty"`
	Frequency map[string]*feature.FrequencyEncoder `json:"frequency,omitempty"`
}

// Spec is the tagged classifier union inside an artifact.
type Spec struct {
	Type string `json:"type"`

	// gbdt
	Trees     []Tree  `json:"trees,omitempty"`
	BaseScore float64 `json:"base_score,omitempty"`

	// logistic
	Weights []float64 `json:"weights,omitempty"`
	Bias    float64   `json:"bias,omitempty"`
}

// Tree is one regression tree of a boosted ensemble, stored as a flat
// node array with child indexes.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Node is one tree node. Leaves have Left == -1 and carry Value.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
}

// Parse deserializes and validates an artifact document.
func Parse(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, domain.E(domain.KindModelLoad, "model.Parse", err)
	}
	if err := a.validate(); err != nil {
		return nil, domain.E(domain.KindModelLoad, "model.Parse", err)
	}
	return &a, nil
}

func (a *Artifact) validate() error {
	if a.Rule == "" {
		return fmt.Errorf("artifact missing rule name")
	}
	switch a.Kind {
	case KindPair, KindRow:
	default:
		return fmt.Errorf("artifact %s: unknown kind %q", a.Rule, a.Kind)
	}
	switch a.Model.Type {
	case "gbdt":
		if len(a.Model.Trees) == 0 {
			return fmt.Errorf("artifact %s: gbdt model has no trees", a.Rule)
		}
		for ti, tree := range a.Model.Trees {
			for ni, n := range tree.Nodes {
				if n.Left >= len(tree.Nodes) || n.Right >= len(tree.Nodes) {
					return fmt.Errorf("artifact %s: tree %d node %d child out of range", a.Rule, ti, ni)
				}
			}
		}
	case "logistic":
		if len(a.Model.Weights) == 0 {
			return fmt.Errorf("artifact %s: logistic model has no weights", a.Rule)
		}
	default:
		return fmt.Errorf("artifact %s: unknown model type %q", a.Rule, a.Model.Type)
	}
	return nil
}

// PredictRow scores one AP line through the full pipeline: assemble the
// feature vector named by Features, expand categorical columns through
// the fitted encoders, scale and classify. Artifacts without encoder
// tables fall back to the positional row vector.
func (a *Artifact) PredictRow(line *domain.LineItem) (float64, error) {
	if len(a.Features) == 0 || !a.hasEncoders() {
		return a.Predict(feature.RowFeatures(line))
	}
	return a.Predict(a.rowVector(line))
}

func (a *Artifact) hasEncoders() bool {
	if a.Encoders == nil {
		return false
	}
	return len(a.Encoders.OneHot)+len(a.Encoders.Target)+len(a.Encoders.Frequency) > 0
}

// rowVector walks Features in order: numeric names resolve from the
// line's row features, categorical names expand through the encoder
// fitted for that column. Names without either contribute a zero.
func (a *Artifact) rowVector(line *domain.LineItem) []float64 {
	numeric := feature.RowValues(line)
	cats := feature.RowCategoricals(line)

	out := make([]float64, 0, len(a.Features))
	for _, name := range a.Features {
		if v, ok := numeric[name]; ok {
			out = append(out, v)
			continue
		}
		raw := cats[name]
		if enc, ok := a.Encoders.OneHot[name]; ok {
			out = append(out, enc.Encode(raw)...)
			continue
		}
		if enc, ok := a.Encoders.Target[name]; ok {
			out = append(out, enc.Encode(raw))
			continue
		}
		if enc, ok := a.Encoders.Frequency[name]; ok {
			out = append(out, enc.Encode(raw))
			continue
		}
		out = append(out, 0)
	}
	return out
}

// Predict runs the full pipeline over one raw feature vector: scale,
// then score through the classifier. The result is a probability.
func (a *Artifact) Predict(features []float64) (float64, error) {
	scaled := features
	if a.Scaler != nil {
		scaled = a.Scaler.Transform(append([]float64(nil), features...))
	}

	switch a.Model.Type {
	case "gbdt":
		sum := a.Model.BaseScore
		for _, tree := range a.Model.Trees {
			v, err := tree.score(scaled)
			if err != nil {
				return 0, domain.Ef(domain.KindPrediction, "model.Predict", "rule %s: %v", a.Rule, err)
			}
			sum += v
		}
		return sigmoid(sum), nil
	case "logistic":
		if len(scaled) < len(a.Model.Weights) {
			return 0, domain.Ef(domain.KindPrediction, "model.Predict",
				"rule %s: %d features for %d weights", a.Rule, len(scaled), len(a.Model.Weights))
		}
		z := a.Model.Bias
		for i, w := range a.Model.Weights {
			z += w * scaled[i]
		}
		return sigmoid(z), nil
	}
	return 0, domain.Ef(domain.KindPrediction, "model.Predict", "rule %s: unknown model type %q", a.Rule, a.Model.Type)
}

func (t *Tree) score(features []float64) (float64, error) {
	if len(t.Nodes) == 0 {
		return 0, fmt.Errorf("empty tree")
	}
	idx := 0
	for steps := 0; steps <= len(t.Nodes); steps++ {
		n := t.Nodes[idx]
		if n.Left < 0 {
			return n.Value, nil
		}
		if n.Feature < 0 || n.Feature >= len(features) {
			return 0, fmt.Errorf("node references feature %d of %d", n.Feature, len(features))
		}
		if features[n.Feature] < n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
	return 0, fmt.Errorf("tree walk did not terminate")
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
