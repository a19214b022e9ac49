package odst

import (
	"math"
	"sort"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/rs/zerolog/log"
	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	defaultInitEps = 1e-6

	// below this sample count the data-aware percentile estimates get noisy
	minDataInitSamples = 1000
)

// Initializer fills a parameter value in place.
type Initializer func(value mat.Matrix, generator *rand.LockedRand)

func defaultResponseInit(value mat.Matrix, generator *rand.LockedRand) {
	initializers.Normal(value, 0.0, 1.0, generator)
}

func defaultSelectionInit(value mat.Matrix, generator *rand.LockedRand) {
	initializers.Uniform(value, 0.0, 1.0, generator)
}

// Init randomly initializes the leaf responses and the feature-selection
// logits. Thresholds and log-temperatures keep their NaN sentinel: they are
// only populated by InitDataAware (or by loading trained parameters).
func (m *Model) Init(generator *rand.LockedRand) {
	responseInit := m.initResponse
	if responseInit == nil {
		responseInit = defaultResponseInit
	}
	selectionInit := m.initSelection
	if selectionInit == nil {
		selectionInit = defaultSelectionInit
	}
	for _, p := range m.Responses {
		responseInit(p.Value(), generator)
	}
	for _, p := range m.SelectionLogits {
		selectionInit(p.Value(), generator)
	}
}

// InitDataAware populates thresholds and log-temperatures from the statistics
// of a sample batch, following the data-aware scheme of the NODE paper: every
// split threshold is set to a random empirical quantile of the soft-selected
// feature values (the quantile level drawn from Beta(beta, beta)), and every
// temperature is calibrated so that the configured
// fraction of samples falls in the non-saturated region of the binarizer.
//
// samples is the batch of feature vectors; src drives the percentile draws.
// The updates are direct value assignments and build no gradient history.
// Intended to run exactly once, before gradient-based training starts.
func (m *Model) InitDataAware(samples []mat.Matrix, src xrand.Source) {
	if len(samples) == 0 {
		panic("odst: data-aware initialization requires at least one sample")
	}
	if len(samples) < minDataInitSamples {
		log.Warn().Int("samples", len(samples)).
			Msgf("data-aware initialization on fewer than %d samples may be unstable", minDataInitSamples)
	}
	eps := m.initEps
	if eps == 0 {
		eps = defaultInitEps
	}

	values := m.selectedValues(samples)

	beta := distuv.Beta{Alpha: m.ThresholdInitBeta, Beta: m.ThresholdInitBeta, Src: src}
	thresholds := m.Thresholds.Value()
	logTemperatures := m.LogTemperatures.Value()
	cutoffQuantile := math.Min(1.0, m.ThresholdInitCutoff)
	tempScale := math.Max(1.0, m.ThresholdInitCutoff)

	for k, splitValues := range values {
		sorted := append([]float64(nil), splitValues...)
		sort.Float64s(sorted)
		threshold := stat.Quantile(beta.Rand(), stat.LinInterp, sorted, nil)
		thresholds.SetVec(k, mat.Float(threshold))

		deviations := make([]float64, len(splitValues))
		for s, v := range splitValues {
			deviations[s] = math.Abs(v - threshold)
		}
		sort.Float64s(deviations)
		temperature := stat.Quantile(cutoffQuantile, stat.LinInterp, deviations, nil) / tempScale
		logTemperatures.SetVec(k, mat.Float(math.Log(temperature+eps)))
	}
}

// selectedValues computes the soft-selected feature value of every sample at
// every (tree, level) split, exactly as the forward pass does, but outside
// any gradient-tracked graph.
func (m *Model) selectedValues(samples []mat.Matrix) [][]float64 {
	g := ag.NewGraph()
	defer g.Clear()
	choice := m.choice()

	values := make([][]float64, len(m.SelectionLogits))
	for k, logits := range m.SelectionLogits {
		selector := choice.Normalize(g, g.NewVariable(logits.Value(), false))
		weights := selector.Value().Data()
		splitValues := make([]float64, len(samples))
		for s, sample := range samples {
			if sample.Rows() != m.InFeatures {
				panic("odst: sample width does not match inFeatures")
			}
			var v float64
			for i, x := range sample.Data() {
				v += float64(weights[i]) * float64(x)
			}
			splitValues[s] = v
		}
		values[k] = splitValues
	}
	return values
}
