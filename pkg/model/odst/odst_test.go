package odst

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
	"gonum.org/v1/gonum/stat"
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

func newInitialized(inFeatures, numTrees, depth, treeDim int, samples []mat.Matrix, opts ...Option) *Model {
	model := New(inFeatures, numTrees, depth, treeDim, opts...)
	model.Init(rand.NewLockedRand(42))
	model.InitDataAware(samples, xrand.NewSource(1))
	return model
}

func forward(model *Model, samples []mat.Matrix) []ag.Node {
	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
	proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Inference}, model).(*Model)
	xs := make([]ag.Node, len(samples))
	for i, s := range samples {
		xs[i] = g.NewVariable(s, false)
	}
	return proc.Forward(xs...)
}

func TestNew_RejectsInvalidShapes(t *testing.T) {
	require.Panics(t, func() { New(0, 2, 2, 1) })
	require.Panics(t, func() { New(4, 0, 2, 1) })
	require.Panics(t, func() { New(4, 2, 0, 1) })
	require.Panics(t, func() { New(4, 2, 2, 0) })
	require.NotPanics(t, func() { New(1, 1, 1, 1) })
}

func TestForward_OutputShapes(t *testing.T) {
	tests := []struct {
		inFeatures int
		numTrees   int
		depth      int
		treeDim    int
		flatten    bool
	}{
		{inFeatures: 4, numTrees: 2, depth: 2, treeDim: 1, flatten: true},
		{inFeatures: 7, numTrees: 3, depth: 4, treeDim: 2, flatten: true},
		{inFeatures: 5, numTrees: 4, depth: 3, treeDim: 2, flatten: false},
	}
	for _, tt := range tests {
		samples := randomSamples(64, tt.inFeatures, 3)
		model := newInitialized(tt.inFeatures, tt.numTrees, tt.depth, tt.treeDim, samples,
			WithFlattenOutput(tt.flatten))
		ys := forward(model, samples)
		require.Equal(t, len(samples), len(ys))
		for _, y := range ys {
			if tt.flatten {
				require.Equal(t, tt.numTrees*tt.treeDim, y.Value().Rows())
				require.Equal(t, 1, y.Value().Columns())
			} else {
				require.Equal(t, tt.numTrees, y.Value().Rows())
				require.Equal(t, tt.treeDim, y.Value().Columns())
			}
		}
	}
}

func TestForward_BeforeDataAwareInitPanics(t *testing.T) {
	model := New(4, 2, 2, 1)
	model.Init(rand.NewLockedRand(42))
	require.False(t, model.Ready())

	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
	proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Inference}, model).(*Model)
	x := g.NewVariable(mat.NewEmptyVecDense(4), false)
	require.Panics(t, func() { proc.Forward(x) })
}

func TestForward_RejectsWrongInputWidth(t *testing.T) {
	samples := randomSamples(32, 4, 3)
	model := newInitialized(4, 2, 2, 1, samples)
	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
	proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Inference}, model).(*Model)
	x := g.NewVariable(mat.NewEmptyVecDense(5), false)
	require.Panics(t, func() { proc.Forward(x) })
}

func TestLeafWeights_SumToOne(t *testing.T) {
	samples := randomSamples(128, 6, 7)
	model := newInitialized(6, 3, 4, 2, samples)
	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
	proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Inference}, model).(*Model)

	for _, sample := range samples[:16] {
		weights := proc.LeafWeights(g.NewVariable(sample, false))
		require.Equal(t, model.NumTrees, len(weights))
		for _, w := range weights {
			require.Equal(t, 1<<model.Depth, w.Value().Rows())
			sum := 0.0
			for _, v := range w.Value().Data() {
				require.True(t, v >= 0)
				sum += float64(v)
			}
			require.InDelta(t, 1.0, sum, 1e-4)
		}
	}
}

func TestForward_Deterministic(t *testing.T) {
	samples := randomSamples(32, 5, 11)
	model := newInitialized(5, 2, 3, 1, samples)

	first := forward(model, samples[:8])
	second := forward(model, samples[:8])
	for i := range first {
		require.Equal(t, first[i].Value().Data(), second[i].Value().Data())
	}
}

func TestInitDataAware_FillsSentinels(t *testing.T) {
	model := New(4, 3, 2, 1)
	model.Init(rand.NewLockedRand(42))
	require.False(t, model.Ready())

	// a single sample is enough to clear every sentinel
	model.InitDataAware(randomSamples(1, 4, 5), xrand.NewSource(1))
	require.True(t, model.Ready())
	require.Equal(t, model.NumTrees*model.Depth, model.Thresholds.Value().Rows())
	require.Equal(t, model.NumTrees*model.Depth, model.LogTemperatures.Value().Rows())
}

func TestInitDataAware_HighBetaClustersThresholdsAtMedian(t *testing.T) {
	samples := randomSamples(2000, 3, 13)
	model := New(3, 4, 3, 1, WithThresholdInitBeta(1000))
	model.Init(rand.NewLockedRand(42))
	model.InitDataAware(samples, xrand.NewSource(1))

	values := model.selectedValues(samples)
	for k, splitValues := range values {
		sorted := append([]float64(nil), splitValues...)
		stat.SortWeighted(sorted, nil)
		low := stat.Quantile(0.4, stat.LinInterp, sorted, nil)
		high := stat.Quantile(0.6, stat.LinInterp, sorted, nil)
		threshold := float64(model.Thresholds.Value().AtVec(k))
		require.True(t, threshold >= low && threshold <= high,
			"threshold %f outside the median band [%f, %f]", threshold, low, high)
	}
}

func TestEndToEnd(t *testing.T) {
	samples := randomSamples(1024, 4, 17)
	model := newInitialized(4, 2, 2, 1, samples)
	require.Equal(t, "odst.Model(inFeatures=4, numTrees=2, depth=2, treeDim=1, flattenOutput=true)",
		model.String())

	ys := forward(model, samples)
	require.Equal(t, 1024, len(ys))
	for _, y := range ys {
		require.Equal(t, 2, y.Value().Rows())
		for _, v := range y.Value().Data() {
			require.False(t, math.IsNaN(float64(v)))
		}
	}
}

func TestForward_IsDifferentiable(t *testing.T) {
	samples := randomSamples(64, 4, 19)
	model := newInitialized(4, 2, 3, 1, samples)

	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
	proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Training}, model).(*Model)
	x := g.NewVariable(samples[0], true)
	y := proc.Forward(x)[0]
	g.Backward(g.ReduceSum(y))

	require.True(t, model.Thresholds.HasGrad())
	require.True(t, model.LogTemperatures.HasGrad())
	require.True(t, model.Responses[0].HasGrad())
	require.True(t, model.SelectionLogits[0].HasGrad())
}
