package autoint

import (
	"math"
	"testing"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/stretchr/testify/require"
)

func newTestModel(layers, heads, outputDimension int) *Model {
	model := New(Config{
		InputDimension:     5,
		OutputDimension:    outputDimension,
		AttentionDimension: 4,
		NumLayers:          layers,
		NumHeads:           heads,
	})
	model.Init(rand.NewLockedRand(42))
	return model
}

func TestModel_Forward(t *testing.T) {
	tests := []struct {
		layers          int
		heads           int
		outputDimension int
	}{
		{layers: 1, heads: 1, outputDimension: 1},
		{layers: 2, heads: 3, outputDimension: 4},
	}

	for _, tt := range tests {
		model := newTestModel(tt.layers, tt.heads, tt.outputDimension)

		g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
		proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Inference}, model).(*Model)
		xs := []ag.Node{
			g.NewVariable(mat.NewVecDense([]mat.Float{0.5, -1.0, 0.0, 2.0, 0.1}), false),
			g.NewVariable(mat.NewVecDense([]mat.Float{1.0, 1.0, 1.0, 1.0, 1.0}), false),
		}
		ys := proc.Forward(xs)
		require.Equal(t, len(xs), len(ys))
		for _, y := range ys {
			require.Equal(t, tt.outputDimension, y.Value().Rows())
			for _, v := range y.Value().Data() {
				require.False(t, math.IsNaN(float64(v)))
			}
		}
	}
}

func TestModel_ZeroInputYieldsZeroTokens(t *testing.T) {
	model := newTestModel(1, 1, 2)

	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
	proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Inference}, model).(*Model)

	x := g.NewVariable(mat.NewEmptyVecDense(5), false)
	tokens := proc.embedTokens(g, x)
	require.Len(t, tokens, 5)
	for _, token := range tokens {
		for _, v := range token.Value().Data() {
			require.Equal(t, mat.Float(0), v)
		}
	}
}
