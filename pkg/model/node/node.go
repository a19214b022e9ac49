// Package node implements a Neural Oblivious Decision Ensemble: a stack of
// odst layers with dense connectivity (every layer sees the input
// concatenated with all previous layers' outputs) and a response head that
// averages the leading output channels of every tree in every layer.
// https://arxiv.org/abs/1909.06312
package node

import (
	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	xrand "golang.org/x/exp/rand"

	"arbor/pkg/model/embedding"
	"arbor/pkg/model/odst"
)

var (
	_ nn.Model = &Model{}
)

type Config struct {
	InputDimension  int
	OutputDimension int
	NumLayers       int
	NumTrees        int
	TreeDepth       int

	// ExtraTreeDim adds response channels beyond OutputDimension; the extra
	// channels only feed the dense connectivity, not the averaged head.
	ExtraTreeDim int

	ThresholdInitBeta   float64
	ThresholdInitCutoff float64

	NumCategoricalEmbeddings      int
	CategoricalEmbeddingDimension int
}

type Model struct {
	nn.BaseModel
	Config
	CategoricalEmbeddings *embedding.Model
	Layers                []*odst.Model
}

func New(config Config) *Model {
	treeDim := config.OutputDimension + config.ExtraTreeDim
	layers := make([]*odst.Model, config.NumLayers)
	inFeatures := config.InputDimension
	for i := range layers {
		layers[i] = odst.New(inFeatures, config.NumTrees, config.TreeDepth, treeDim,
			odst.WithThresholdInitBeta(config.ThresholdInitBeta),
			odst.WithThresholdInitCutoff(config.ThresholdInitCutoff))
		inFeatures += config.NumTrees * treeDim
	}
	return &Model{
		BaseModel:             nn.BaseModel{},
		Config:                config,
		CategoricalEmbeddings: embedding.New(config.NumCategoricalEmbeddings, config.CategoricalEmbeddingDimension),
		Layers:                layers,
	}
}

func (m *Model) Embeddings() *embedding.Model {
	return m.CategoricalEmbeddings
}

func (m *Model) Init(generator *rand.LockedRand) {
	m.CategoricalEmbeddings.Init(generator)
	for _, layer := range m.Layers {
		layer.Init(generator)
	}
}

// InitDataAware seeds every layer's thresholds from the sample batch,
// propagating the batch through already-initialized layers so each layer sees
// the same feature distribution it will see in training.
func (m *Model) InitDataAware(samples []mat.Matrix, src xrand.Source) {
	current := samples
	for _, layer := range m.Layers {
		layer.InitDataAware(current, src)
		outputs := layerValues(layer, current)
		next := make([]mat.Matrix, len(current))
		for i := range current {
			data := append([]mat.Float(nil), current[i].Data()...)
			data = append(data, outputs[i]...)
			next[i] = mat.NewVecDense(data)
		}
		current = next
	}
}

// layerValues runs one layer on plain vectors, outside any gradient-tracked
// graph, returning the flattened per-sample outputs.
func layerValues(layer *odst.Model, samples []mat.Matrix) [][]mat.Float {
	g := ag.NewGraph()
	defer g.Clear()
	proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Inference}, layer).(*odst.Model)
	xs := make([]ag.Node, len(samples))
	for i, s := range samples {
		xs[i] = g.NewVariable(s, false)
	}
	ys := proc.Forward(xs...)
	outputs := make([][]mat.Float, len(ys))
	for i, y := range ys {
		outputs[i] = append([]mat.Float(nil), y.Value().Data()...)
	}
	return outputs
}

func (m *Model) Forward(xs []ag.Node) []ag.Node {
	g := m.Graph()
	treeDim := m.OutputDimension + m.ExtraTreeDim
	current := xs
	outputs := make([]ag.Node, len(xs))
	for _, layer := range m.Layers {
		layerOut := layer.Forward(current...)
		next := make([]ag.Node, len(xs))
		for i := range xs {
			next[i] = g.Concat(current[i], layerOut[i])
			for t := 0; t < m.NumTrees; t++ {
				response := g.View(layerOut[i], t*treeDim, 0, m.OutputDimension, 1)
				if outputs[i] == nil {
					outputs[i] = response
				} else {
					outputs[i] = g.Add(outputs[i], response)
				}
			}
		}
		current = next
	}
	scale := g.Constant(1.0 / mat.Float(m.NumLayers*m.NumTrees))
	for i := range outputs {
		outputs[i] = g.ProdScalar(outputs[i], scale)
	}
	return outputs
}
