package pkg

import (
	mrand "math/rand"
	"testing"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/stretchr/testify/require"
)

type testRand struct {
	values []mat.Float
	index  int
}

func (t *testRand) Float() mat.Float {
	v := t.values[t.index]
	t.index = (t.index + 1) % len(t.values)
	return v
}

func TestInputDropout(t *testing.T) {
	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
	tr := testRand{
		values: []mat.Float{0.1, 0.9, 0.3, 0.7, 0.5},
	}
	dropout := NewDropoutPreprocessor(0.5, &tr, 5, 3)

	data := make([]ag.Node, 3)
	for i := range data {
		data[i] = g.NewVariable(mat.NewInitVecDense(5, 2.0), false)
	}
	output := dropout.process(g, data)
	require.Equal(t, len(data), len(output))
	require.Equal(t, len(data), len(dropout.CurrentMasks))

	for i := range output {
		mask := dropout.CurrentMasks[i]
		require.Equal(t, data[i].Value().Rows(), mask.Rows())
		require.Equal(t, data[i].Value().Columns(), mask.Columns())
		require.Equal(t, []mat.Float{0, 1, 0, 1, 1}, mask.Data())
		require.Equal(t, []mat.Float{0, 2, 0, 2, 2}, output[i].Value().Data())
	}
}

func TestInputDropout_ZeroProbabilityKeepsEverything(t *testing.T) {
	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
	source := uniformSource{rnd: mrand.New(mrand.NewSource(7))}
	dropout := NewDropoutPreprocessor(0.0, source, 4, 2)

	data := []ag.Node{
		g.NewVariable(mat.NewVecDense([]mat.Float{1, 2, 3, 4}), false),
		g.NewVariable(mat.NewVecDense([]mat.Float{5, 6, 7, 8}), false),
	}
	output := dropout.process(g, data)
	for i := range output {
		require.Equal(t, data[i].Value().Data(), output[i].Value().Data())
	}
}
