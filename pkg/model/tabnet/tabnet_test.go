package tabnet

import (
	"math"
	mrand "math/rand"
	"testing"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/stretchr/testify/require"
)

func newTestModel(sparsityWeight float64) *Model {
	model := New(Config{
		InputDimension:     6,
		OutputDimension:    3,
		NumDecisionSteps:   3,
		FeatureDimension:   4,
		RelaxationFactor:   1.5,
		BatchMomentum:      0.9,
		SparsityLossWeight: sparsityWeight,
	})
	model.Init(rand.NewLockedRand(42))
	return model
}

func randomInputs(g *ag.Graph, n, width int, seed int64) []ag.Node {
	rng := mrand.New(mrand.NewSource(seed))
	xs := make([]ag.Node, n)
	for i := range xs {
		data := make([]mat.Float, width)
		for j := range data {
			data[j] = mat.Float(rng.NormFloat64())
		}
		xs[i] = g.NewVariable(mat.NewVecDense(data), false)
	}
	return xs
}

func TestModel_Forward(t *testing.T) {
	model := newTestModel(0.001)

	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
	proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Training}, model).(*Model)
	xs := randomInputs(g, 4, 6, 7)
	ys := proc.Forward(xs)
	require.Equal(t, len(xs), len(ys))
	for _, y := range ys {
		require.Equal(t, 3, y.Value().Rows())
		for _, v := range y.Value().Data() {
			require.False(t, math.IsNaN(float64(v)))
		}
	}

	aux := proc.AuxiliaryLoss()
	require.Equal(t, len(xs), len(aux))
	for _, a := range aux {
		require.Equal(t, 1, a.Value().Rows())
		require.False(t, math.IsNaN(float64(a.ScalarValue())))
	}
}

func TestModel_AuxiliaryLossScalesWithWeight(t *testing.T) {
	model := newTestModel(0.0)

	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
	proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Training}, model).(*Model)
	proc.Forward(randomInputs(g, 4, 6, 7))

	for _, a := range proc.AuxiliaryLoss() {
		require.Equal(t, mat.Float(0), a.ScalarValue())
	}
}

func TestFeatureTransformerBlock_OutputWidth(t *testing.T) {
	block := NewFeatureTransformerBlock(6, 4, 0.9)
	block.Init(rand.NewLockedRand(42))

	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
	proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Training}, block).(*FeatureTransformerBlock)
	xs := randomInputs(g, 3, 6, 1)

	ys := proc.ForwardSkipResidual(xs)
	require.Equal(t, len(xs), len(ys))
	for _, y := range ys {
		require.Equal(t, 4, y.Value().Rows())
	}
}
