package severity

import (
	"fmt"
	"math"
)

// Prediction is the top class of one inference.
type Prediction struct {
	Class         Class
	Index         int
	Confidence    float64 // max probability * 100
	Probabilities []float32
}

// Label returns the predicted class label.
func (p Prediction) Label() string {
	return p.Class.Label
}

// ConfidenceString formats the confidence with two decimals.
func (p Prediction) ConfidenceString() string {
	return fmt.Sprintf("%.2f", p.Confidence)
}

// Scores returns the probabilities keyed by label.
func (p Prediction) Scores(labels []string) map[string]float32 {
	scores := make(map[string]float32, len(labels))
	for i, l := range labels {
		if i < len(p.Probabilities) {
			scores[l] = p.Probabilities[i]
		}
	}
	return scores
}

// FromProbabilities selects the highest scoring class. Ties go to the lowest index.
func FromProbabilities(probs []float32, labels []string) (Prediction, error) {
	if len(labels) == 0 || len(probs) != len(labels) {
		return Prediction{}, fmt.Errorf("%w: %d outputs for %d classes", ErrClassMismatch, len(probs), len(labels))
	}

	maxIdx := 0
	maxVal := probs[0]
	for i, v := range probs {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Prediction{}, fmt.Errorf("%w: output %d is %v", ErrInvalidOutput, i, v)
		}
		if v > maxVal {
			maxVal = v
			maxIdx = i
		}
	}

	return Prediction{
		Class:         Lookup(labels[maxIdx], maxIdx),
		Index:         maxIdx,
		Confidence:    float64(maxVal) * 100,
		Probabilities: append([]float32(nil), probs...),
	}, nil
}

// Softmax converts logits into probabilities.
func Softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}

	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	var sum float64
	exps := make([]float64, len(logits))
	for i, v := range logits {
		exps[i] = math.Exp(float64(v - maxVal))
		sum += exps[i]
	}
	for i := range exps {
		out[i] = float32(exps[i] / sum)
	}

	return out
}
