package embeddings

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeUnitLength(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestNormalizeZeroVector(t *testing.T) {
	v := Normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, v)
}

func TestNormalizeIdempotent(t *testing.T) {
	v := Normalize([]float32{1, 2, 2})
	before := append([]float32(nil), v...)
	Normalize(v)
	for i := range v {
		assert.InDelta(t, float64(before[i]), float64(v[i]), 1e-6)
	}
}

func TestNormalizeAll(t *testing.T) {
	vs := NormalizeAll([][]float32{{3, 4}, {0, 5}})
	for _, v := range vs {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)
	}
}
