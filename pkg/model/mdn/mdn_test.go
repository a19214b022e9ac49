package mdn

import (
	"math"
	mrand "math/rand"
	"testing"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/stretchr/testify/require"
	xrand "golang.org/x/exp/rand"

	"arbor/pkg/model/node"
)

func randomSamples(n, width int, seed int64) []mat.Matrix {
	rng := mrand.New(mrand.NewSource(seed))
	samples := make([]mat.Matrix, n)
	for i := range samples {
		data := make([]mat.Float, width)
		for j := range data {
			data[j] = mat.Float(rng.NormFloat64())
		}
		samples[i] = mat.NewVecDense(data)
	}
	return samples
}

func newInitialized(t *testing.T, components int) *Model {
	t.Helper()
	model := New(Config{
		Backbone: node.Config{
			InputDimension:      5,
			OutputDimension:     4,
			NumLayers:           1,
			NumTrees:            2,
			TreeDepth:           2,
			ThresholdInitBeta:   1.0,
			ThresholdInitCutoff: 1.0,
		},
		Components: components,
	})
	model.Init(rand.NewLockedRand(42))
	model.InitDataAware(randomSamples(256, 5, 3), xrand.NewSource(1))
	return model
}

func TestModel_ForwardShapeAndLoss(t *testing.T) {
	model := newInitialized(t, 3)

	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
	proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Training}, model).(*Model)
	samples := randomSamples(4, 5, 7)
	xs := make([]ag.Node, len(samples))
	for i := range xs {
		xs[i] = g.NewVariable(samples[i], false)
	}
	ys := proc.Forward(xs)
	require.Equal(t, len(xs), len(ys))
	for _, y := range ys {
		// component logits, means and log deviations
		require.Equal(t, 3*3, y.Value().Rows())
	}

	loss := proc.Loss(g, ys[0], 0.5)
	require.Equal(t, 1, loss.Value().Rows())
	require.False(t, math.IsNaN(float64(loss.ScalarValue())))
	require.False(t, math.IsInf(float64(loss.ScalarValue()), 0))

	g.Backward(loss)
	require.True(t, proc.PiLayer.W.HasGrad())
	require.True(t, proc.MuLayer.W.HasGrad())
	require.True(t, proc.SigLayer.W.HasGrad())
}

func TestModel_PredictIsMixtureExpectation(t *testing.T) {
	model := newInitialized(t, 2)

	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
	// equal component logits, means 1 and 3
	prediction := g.NewVariable(mat.NewVecDense([]mat.Float{0, 0, 1, 3, 0, 0}), false)
	require.InDelta(t, 2.0, model.Predict(g, prediction), 1e-6)

	// a dominant first component pulls the expectation to its mean
	skewed := g.NewVariable(mat.NewVecDense([]mat.Float{10, -10, 1, 3, 0, 0}), false)
	require.InDelta(t, 1.0, model.Predict(g, skewed), 1e-4)
}

func TestModel_LossPrefersAccurateMeans(t *testing.T) {
	model := newInitialized(t, 2)

	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
	onTarget := g.NewVariable(mat.NewVecDense([]mat.Float{0, 0, 0.5, 0.5, 0, 0}), false)
	offTarget := g.NewVariable(mat.NewVecDense([]mat.Float{0, 0, 5.0, 5.0, 0, 0}), false)
	lossOn := float64(model.Loss(g, onTarget, 0.5).ScalarValue())
	lossOff := float64(model.Loss(g, offTarget, 0.5).ScalarValue())
	require.Less(t, lossOn, lossOff)
}
