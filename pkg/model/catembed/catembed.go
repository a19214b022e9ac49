// Package catembed implements the category-embedding baseline: categorical
// embeddings concatenated with the continuous features, followed by a stack
// of linear/ReLU layers.
package catembed

import (
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/nn/linear"

	"arbor/pkg/model/embedding"
)

var (
	_ nn.Model = &Model{}
)

type Config struct {
	InputDimension  int
	OutputDimension int
	HiddenDimension int
	NumHiddenLayers int

	NumCategoricalEmbeddings      int
	CategoricalEmbeddingDimension int
}

type Model struct {
	nn.BaseModel
	Config
	CategoricalEmbeddings *embedding.Model
	HiddenLayers          []*linear.Model
	OutputLayer           *linear.Model
}

func New(config Config) *Model {
	hidden := make([]*linear.Model, config.NumHiddenLayers)
	in := config.InputDimension
	for i := range hidden {
		hidden[i] = linear.New(in, config.HiddenDimension)
		in = config.HiddenDimension
	}
	return &Model{
		BaseModel:             nn.BaseModel{},
		Config:                config,
		CategoricalEmbeddings: embedding.New(config.NumCategoricalEmbeddings, config.CategoricalEmbeddingDimension),
		HiddenLayers:          hidden,
		OutputLayer:           linear.New(in, config.OutputDimension, linear.BiasGrad(false)),
	}
}

func (m *Model) Embeddings() *embedding.Model {
	return m.CategoricalEmbeddings
}

func (m *Model) Init(generator *rand.LockedRand) {
	m.CategoricalEmbeddings.Init(generator)
	for _, layer := range m.HiddenLayers {
		initializers.XavierUniform(layer.W.Value(), initializers.Gain(ag.OpReLU), generator)
	}
	initializers.XavierUniform(m.OutputLayer.W.Value(), initializers.Gain(ag.OpIdentity), generator)
}

func (m *Model) Forward(xs []ag.Node) []ag.Node {
	g := m.Graph()
	ys := make([]ag.Node, len(xs))
	for i, x := range xs {
		h := x
		for _, layer := range m.HiddenLayers {
			h = g.ReLU(layer.Forward(h)[0])
		}
		ys[i] = m.OutputLayer.Forward(h)[0]
	}
	return ys
}
