// Package odst implements a dense layer of differentiable oblivious decision
// trees, after "Neural Oblivious Decision Ensembles for Deep Learning on
// Tabular Data" - https://arxiv.org/abs/1909.06312
//
// Every tree routes an input softly through Depth binary splits shared across
// all of its leaves. Each split selects a feature through a simplex-normalized
// weighting of all input features, compares it against a learned threshold at
// a learned temperature, and the per-level soft decisions are multiplied along
// the path to every leaf, yielding a differentiable distribution over leaves.
// Thresholds and temperatures start at a NaN sentinel and are populated by
// InitDataAware from the statistics of a sample batch.
package odst

import (
	"fmt"
	"math"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
)

var (
	_ nn.Model = &Model{}
)

type Model struct {
	nn.BaseModel
	InFeatures    int
	NumTrees      int
	Depth         int
	TreeDim       int
	FlattenOutput bool

	ThresholdInitBeta   float64
	ThresholdInitCutoff float64

	Choice FeatureSelector
	Bin    SoftBinarizer

	// Responses holds one [TreeDim x 2^Depth] leaf-response matrix per tree.
	Responses []nn.Param

	// SelectionLogits holds one [InFeatures] logit vector per (tree, level)
	// pair, tree-major: index t*Depth+level.
	SelectionLogits []nn.Param

	// Thresholds and LogTemperatures are [NumTrees*Depth] vectors in the same
	// tree-major order. They hold NaN until InitDataAware runs.
	Thresholds      nn.Param
	LogTemperatures nn.Param

	// BinCodes[level] is the fixed [2^Depth x 2] routing table: column 0
	// flags leaves whose path takes the "1" branch at that level, column 1
	// the "0" branch. Built once at construction, never learned.
	BinCodes []*mat.Dense

	initResponse  Initializer
	initSelection Initializer
	initEps       float64
}

type Option func(*Model)

// WithFlattenOutput controls whether per-tree outputs are concatenated into a
// single [NumTrees*TreeDim] vector (default) or stacked into a
// [NumTrees x TreeDim] matrix.
func WithFlattenOutput(flatten bool) Option {
	return func(m *Model) { m.FlattenOutput = flatten }
}

func WithChoiceFunction(f FeatureSelector) Option {
	return func(m *Model) { m.Choice = f }
}

func WithBinFunction(f SoftBinarizer) Option {
	return func(m *Model) { m.Bin = f }
}

// WithThresholdInitBeta sets the shape parameter of the symmetric Beta
// distribution the data-aware initializer draws threshold percentiles from.
// 1 reproduces the data distribution, larger values cluster thresholds near
// the median, smaller values push them toward the extremes.
func WithThresholdInitBeta(beta float64) Option {
	return func(m *Model) { m.ThresholdInitBeta = beta }
}

// WithThresholdInitCutoff sets the temperature calibration factor of the
// data-aware initializer. At 1 every sample lands in the non-saturated region
// of the binarizer; above 1 adds a margin, below 1 saturates a fraction of
// samples to exact 0/1 routing.
func WithThresholdInitCutoff(cutoff float64) Option {
	return func(m *Model) { m.ThresholdInitCutoff = cutoff }
}

func WithResponseInitializer(f Initializer) Option {
	return func(m *Model) { m.initResponse = f }
}

func WithSelectionLogitsInitializer(f Initializer) Option {
	return func(m *Model) { m.initSelection = f }
}

// WithInitEps sets the numeric stability constant added before taking the log
// of the calibrated temperatures.
func WithInitEps(eps float64) Option {
	return func(m *Model) { m.initEps = eps }
}

// New builds an uninitialized layer. All shape hyperparameters must be
// positive; in particular depth 0 (a single-leaf tree) is rejected rather
// than treated as a degenerate constant head.
func New(inFeatures, numTrees, depth, treeDim int, opts ...Option) *Model {
	if inFeatures < 1 || numTrees < 1 || depth < 1 || treeDim < 1 {
		panic(fmt.Sprintf("odst: invalid shape (inFeatures=%d, numTrees=%d, depth=%d, treeDim=%d)",
			inFeatures, numTrees, depth, treeDim))
	}
	m := &Model{
		BaseModel:           nn.BaseModel{},
		InFeatures:          inFeatures,
		NumTrees:            numTrees,
		Depth:               depth,
		TreeDim:             treeDim,
		FlattenOutput:       true,
		ThresholdInitBeta:   1.0,
		ThresholdInitCutoff: 1.0,
		Choice:              Sparsemax{},
		Bin:                 Sparsemoid{},
		initEps:             defaultInitEps,
	}
	for _, opt := range opts {
		opt(m)
	}

	numLeaves := 1 << depth
	m.Responses = make([]nn.Param, numTrees)
	for t := range m.Responses {
		m.Responses[t] = nn.NewParam(mat.NewEmptyDense(treeDim, numLeaves))
	}
	m.SelectionLogits = make([]nn.Param, numTrees*depth)
	for k := range m.SelectionLogits {
		m.SelectionLogits[k] = nn.NewParam(mat.NewEmptyVecDense(inFeatures))
	}
	nan := mat.Float(math.NaN())
	m.Thresholds = nn.NewParam(mat.NewInitVecDense(numTrees*depth, nan))
	m.LogTemperatures = nn.NewParam(mat.NewInitVecDense(numTrees*depth, nan))
	m.BinCodes = buildBinCodes(depth)
	return m
}

func buildBinCodes(depth int) []*mat.Dense {
	numLeaves := 1 << depth
	codes := make([]*mat.Dense, depth)
	for level := range codes {
		c := mat.NewEmptyDense(numLeaves, 2)
		for leaf := 0; leaf < numLeaves; leaf++ {
			bit := (leaf >> level) & 1
			c.Set(leaf, 0, mat.Float(bit))
			c.Set(leaf, 1, mat.Float(1-bit))
		}
		codes[level] = c
	}
	return codes
}

// Ready reports whether thresholds and log-temperatures have been populated,
// either by InitDataAware or by loading trained parameters.
func (m *Model) Ready() bool {
	return !hasNaN(m.Thresholds.Value()) && !hasNaN(m.LogTemperatures.Value())
}

func hasNaN(v mat.Matrix) bool {
	for _, x := range v.Data() {
		if math.IsNaN(float64(x)) {
			return true
		}
	}
	return false
}

// Forward computes the ensemble output for every input vector. Each node in
// xs must be an InFeatures-sized column vector; the result keeps one output
// node per input node. The whole computation is differentiable in the input
// and in every parameter.
func (m *Model) Forward(xs ...ag.Node) []ag.Node {
	m.mustBeReady()
	g := m.Graph()
	selectors := m.featureSelectors(g)
	codes := m.wrapCodes(g)
	ys := make([]ag.Node, len(xs))
	for i, x := range xs {
		m.checkInput(x)
		weights := m.routeSample(g, selectors, codes, x)
		outs := make([]ag.Node, m.NumTrees)
		for t := range outs {
			outs[t] = g.Mul(m.Responses[t], weights[t])
		}
		if m.FlattenOutput {
			ys[i] = g.Concat(outs...)
		} else {
			ys[i] = g.Stack(outs...)
		}
	}
	return ys
}

// LeafWeights returns, for a single input vector, the soft distribution over
// the 2^Depth leaves of every tree. Each returned vector sums to 1 up to the
// saturation of the binarizer.
func (m *Model) LeafWeights(x ag.Node) []ag.Node {
	m.mustBeReady()
	m.checkInput(x)
	g := m.Graph()
	return m.routeSample(g, m.featureSelectors(g), m.wrapCodes(g), x)
}

// featureSelectors normalizes the selection logits of every (tree, level)
// pair into feature weightings. Input-independent, so computed once per graph.
func (m *Model) featureSelectors(g *ag.Graph) []ag.Node {
	choice := m.choice()
	selectors := make([]ag.Node, len(m.SelectionLogits))
	for k, logits := range m.SelectionLogits {
		selectors[k] = choice.Normalize(g, logits)
	}
	return selectors
}

func (m *Model) wrapCodes(g *ag.Graph) []ag.Node {
	codes := make([]ag.Node, m.Depth)
	for level := range codes {
		codes[level] = g.NewVariable(m.BinCodes[level], false)
	}
	return codes
}

// routeSample produces the per-tree leaf weights for one input vector.
func (m *Model) routeSample(g *ag.Graph, selectors, codes []ag.Node, x ag.Node) []ag.Node {
	values := make([]ag.Node, len(selectors))
	for k, sel := range selectors {
		values[k] = g.Dot(sel, x)
	}
	featureValues := g.Concat(values...) // [NumTrees*Depth]

	// signed distance from the thresholds, sharpened by the temperatures
	distances := g.Prod(g.Sub(featureValues, m.Thresholds), g.Exp(g.Neg(m.LogTemperatures)))

	bin := m.bin()
	below := bin.Binarize(g, g.Neg(distances))
	above := bin.Binarize(g, distances)

	weights := make([]ag.Node, m.NumTrees)
	for t := 0; t < m.NumTrees; t++ {
		var w ag.Node
		for level := 0; level < m.Depth; level++ {
			k := t*m.Depth + level
			pair := g.Concat(g.AtVec(below, k), g.AtVec(above, k))
			match := g.Mul(codes[level], pair) // [2^Depth]
			if w == nil {
				w = match
			} else {
				w = g.Prod(w, match)
			}
		}
		weights[t] = w
	}
	return weights
}

func (m *Model) choice() FeatureSelector {
	if m.Choice != nil {
		return m.Choice
	}
	return Sparsemax{}
}

func (m *Model) bin() SoftBinarizer {
	if m.Bin != nil {
		return m.Bin
	}
	return Sparsemoid{}
}

func (m *Model) mustBeReady() {
	if !m.Ready() {
		panic("odst: forward before threshold initialization; run InitDataAware on a sample batch first")
	}
}

func (m *Model) checkInput(x ag.Node) {
	if x == nil || x.Value().Rows() != m.InFeatures || x.Value().Columns() != 1 {
		panic(fmt.Sprintf("odst: input must be a %d-sized column vector", m.InFeatures))
	}
}

func (m *Model) String() string {
	return fmt.Sprintf("odst.Model(inFeatures=%d, numTrees=%d, depth=%d, treeDim=%d, flattenOutput=%v)",
		m.InFeatures, m.NumTrees, m.Depth, m.TreeDim, m.FlattenOutput)
}
