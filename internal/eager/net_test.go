package eager

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func testImage(rng *rand.Rand) []float32 {
	img := make([]float32, imageSide*imageSide)
	for i := range img {
		img[i] = float32(rng.Float64())
	}
	return img
}

func snapshot(params []*tensor.Dense) [][]float32 {
	out := make([][]float32, len(params))
	for i, p := range params {
		out[i] = append([]float32(nil), p.Data().([]float32)...)
	}
	return out
}

func TestNetParameterShapes(t *testing.T) {
	n := NewNet(rand.New(rand.NewSource(1)), 0.001)
	var shapes []tensor.Shape
	total := 0
	for _, p := range n.Parameters() {
		shapes = append(shapes, p.Shape())
		total += p.Shape().TotalSize()
	}
	assert.Equal(t, []tensor.Shape{{32, 1, 5, 5}, {2, 32, 5, 5}, {32, 10}, {1, 10}}, shapes)
	assert.Equal(t, 800+1600+330, total)
}

func TestNetInitIsSeeded(t *testing.T) {
	a := NewNet(rand.New(rand.NewSource(7)), 0.001)
	b := NewNet(rand.New(rand.NewSource(7)), 0.001)
	assert.Equal(t, snapshot(a.Parameters()), snapshot(b.Parameters()))

	bound := float32(1 / math.Sqrt(25))
	for _, v := range a.conv1.Weight.Data().([]float32) {
		require.LessOrEqual(t, v, bound)
		require.GreaterOrEqual(t, v, -bound)
	}
}

func TestNetRejectsBadInput(t *testing.T) {
	n := NewNet(rand.New(rand.NewSource(1)), 0.001)
	require.Error(t, n.Forward(make([]float32, 10), 0))
	require.Error(t, n.Forward(make([]float32, imageSide*imageSide), 10))

	_, err := n.Backward()
	require.Error(t, err)
}

func TestNetBackwardUpdatesParameters(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	n := NewNet(rng, 0.01)
	img := testImage(rng)

	before := snapshot(n.Parameters())
	require.NoError(t, n.Forward(img, 4))
	_, err := n.Backward()
	require.NoError(t, err)
	after := snapshot(n.Parameters())

	assert.NotEqual(t, before[2], after[2])
	assert.NotEqual(t, before[3], after[3])
}

func TestNetTrainingReducesLoss(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	n := NewNet(rng, 0.01)
	img := testImage(rng)

	var first, last float64
	for i := 0; i < 20; i++ {
		require.NoError(t, n.Forward(img, 4))
		loss, err := n.Backward()
		require.NoError(t, err)
		require.False(t, math.IsNaN(loss))
		if i == 0 {
			first = loss
		}
		last = loss
	}
	assert.Less(t, last, first)
}
