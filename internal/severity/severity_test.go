package severity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLabels_Order(t *testing.T) {
	assert.Equal(t, []string{"No_DR", "Mild", "Moderate", "Severe", "Proliferate_DR"}, DefaultLabels)

	for i, c := range Table(DefaultLabels) {
		assert.Equal(t, i, c.Grade, c.Label)
		assert.NotEmpty(t, c.Emoji)
		assert.Regexp(t, `^#[0-9a-f]{6}$`, c.Color)
	}
}

func TestFromProbabilities(t *testing.T) {
	tests := []struct {
		name       string
		probs      []float32
		label      string
		index      int
		confidence string
	}{
		{"healthy", []float32{0.9, 0.05, 0.03, 0.01, 0.01}, NoDR, 0, "90.00"},
		{"moderate", []float32{0.1, 0.1, 0.6, 0.1, 0.1}, Moderate, 2, "60.00"},
		{"proliferate", []float32{0, 0, 0, 0, 1}, ProliferateDR, 4, "100.00"},
		{"tie picks lowest index", []float32{0.1, 0.4, 0.1, 0.4, 0}, Mild, 1, "40.00"},
		{"rounding", []float32{0.12346, 0.87654, 0, 0, 0}, Mild, 1, "87.65"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := FromProbabilities(tt.probs, DefaultLabels)
			require.NoError(t, err)

			assert.Equal(t, tt.label, p.Label())
			assert.Equal(t, tt.index, p.Index)
			assert.Equal(t, tt.confidence, p.ConfidenceString())
			assert.GreaterOrEqual(t, p.Confidence, 0.0)
			assert.LessOrEqual(t, p.Confidence, 100.0)
			assert.Contains(t, DefaultLabels, p.Label())
		})
	}
}

func TestFromProbabilities_Errors(t *testing.T) {
	_, err := FromProbabilities([]float32{0.5, 0.5}, DefaultLabels)
	assert.ErrorIs(t, err, ErrClassMismatch)

	_, err = FromProbabilities(nil, nil)
	assert.ErrorIs(t, err, ErrClassMismatch)

	_, err = FromProbabilities([]float32{0.1, float32(math.NaN()), 0.1, 0.1, 0.1}, DefaultLabels)
	assert.ErrorIs(t, err, ErrInvalidOutput)
}

func TestFromProbabilities_CopiesInput(t *testing.T) {
	probs := []float32{0.2, 0.8}
	p, err := FromProbabilities(probs, []string{"a", "b"})
	require.NoError(t, err)

	probs[0] = 1
	assert.Equal(t, float32(0.2), p.Probabilities[0])
	assert.Equal(t, map[string]float32{"a": 0.2, "b": 0.8}, p.Scores([]string{"a", "b"}))
}

func TestLookup_Unknown(t *testing.T) {
	c := Lookup("Glaucoma", 7)
	assert.Equal(t, "Glaucoma", c.Label)
	assert.Equal(t, 7, c.Grade)
	assert.NotEmpty(t, c.Color)
}

func TestSoftmax(t *testing.T) {
	out := Softmax([]float32{1, 2, 3, 1000})

	var sum float32
	for _, v := range out {
		assert.GreaterOrEqual(t, v, float32(0))
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
	assert.InDelta(t, 1.0, out[3], 1e-5)

	assert.Empty(t, Softmax(nil))

	uniform := Softmax([]float32{0, 0, 0, 0})
	assert.InDelta(t, 0.25, uniform[0], 1e-6)
}
