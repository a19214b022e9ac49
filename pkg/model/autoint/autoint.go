// Package autoint implements an attention-based feature-interaction network
// after "AutoInt: Automatic Feature Interaction Learning via Self-Attentive
// Neural Networks" - https://arxiv.org/abs/1810.11921. Every input feature
// becomes an embedding token (the feature value scaling a learned vector) and
// stacked multi-head self-attention layers model interactions between tokens.
package autoint

import (
	"math"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
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
	InputDimension     int
	OutputDimension    int
	AttentionDimension int
	NumLayers          int
	NumHeads           int

	NumCategoricalEmbeddings      int
	CategoricalEmbeddingDimension int
}

type AttentionHead struct {
	nn.BaseModel
	Query *linear.Model
	Key   *linear.Model
	Value *linear.Model
}

type AttentionLayer struct {
	nn.BaseModel
	Heads    []*AttentionHead
	Residual *linear.Model
}

type Model struct {
	nn.BaseModel
	Config
	CategoricalEmbeddings *embedding.Model

	// TokenVectors[i] embeds input feature i: token_i = x_i * TokenVectors[i]
	TokenVectors []nn.Param
	Layers       []*AttentionLayer
	OutputLayer  *linear.Model
}

func New(config Config) *Model {
	dim := config.AttentionDimension
	tokens := make([]nn.Param, config.InputDimension)
	for i := range tokens {
		tokens[i] = nn.NewParam(mat.NewEmptyVecDense(dim))
	}
	layers := make([]*AttentionLayer, config.NumLayers)
	for i := range layers {
		heads := make([]*AttentionHead, config.NumHeads)
		for h := range heads {
			heads[h] = &AttentionHead{
				BaseModel: nn.BaseModel{},
				Query:     linear.New(dim, dim, linear.BiasGrad(false)),
				Key:       linear.New(dim, dim, linear.BiasGrad(false)),
				Value:     linear.New(dim, dim, linear.BiasGrad(false)),
			}
		}
		layers[i] = &AttentionLayer{
			BaseModel: nn.BaseModel{},
			Heads:     heads,
			Residual:  linear.New(config.NumHeads*dim, dim, linear.BiasGrad(false)),
		}
	}
	return &Model{
		BaseModel:             nn.BaseModel{},
		Config:                config,
		CategoricalEmbeddings: embedding.New(config.NumCategoricalEmbeddings, config.CategoricalEmbeddingDimension),
		TokenVectors:          tokens,
		Layers:                layers,
		OutputLayer:           linear.New(config.InputDimension*dim, config.OutputDimension, linear.BiasGrad(false)),
	}
}

func (m *Model) Embeddings() *embedding.Model {
	return m.CategoricalEmbeddings
}

func (m *Model) Init(generator *rand.LockedRand) {
	m.CategoricalEmbeddings.Init(generator)
	for _, v := range m.TokenVectors {
		initializers.Uniform(v.Value(), -0.1, 0.1, generator)
	}
	gain := initializers.Gain(ag.OpIdentity)
	for _, layer := range m.Layers {
		for _, head := range layer.Heads {
			initializers.XavierUniform(head.Query.W.Value(), gain, generator)
			initializers.XavierUniform(head.Key.W.Value(), gain, generator)
			initializers.XavierUniform(head.Value.W.Value(), gain, generator)
		}
		initializers.XavierUniform(layer.Residual.W.Value(), gain, generator)
	}
	initializers.XavierUniform(m.OutputLayer.W.Value(), gain, generator)
}

func (m *Model) Forward(xs []ag.Node) []ag.Node {
	g := m.Graph()
	ys := make([]ag.Node, len(xs))
	for i, x := range xs {
		tokens := m.embedTokens(g, x)
		for _, layer := range m.Layers {
			tokens = layer.interact(g, tokens)
		}
		ys[i] = m.OutputLayer.Forward(g.Concat(tokens...))[0]
	}
	return ys
}

func (m *Model) embedTokens(g *ag.Graph, x ag.Node) []ag.Node {
	tokens := make([]ag.Node, m.InputDimension)
	for i := range tokens {
		tokens[i] = g.ProdScalar(m.TokenVectors[i], g.AtVec(x, i))
	}
	return tokens
}

// interact applies multi-head scaled dot-product self-attention over the
// feature tokens, with a residual projection and ReLU as in AutoInt.
func (l *AttentionLayer) interact(g *ag.Graph, tokens []ag.Node) []ag.Node {
	out := make([]ag.Node, len(tokens))
	headOutputs := make([][]ag.Node, len(l.Heads))
	for h, head := range l.Heads {
		headOutputs[h] = head.attend(g, tokens)
	}
	for i := range tokens {
		parts := make([]ag.Node, len(l.Heads))
		for h := range l.Heads {
			parts[h] = headOutputs[h][i]
		}
		combined := l.Residual.Forward(g.Concat(parts...))[0]
		out[i] = g.ReLU(g.Add(combined, tokens[i]))
	}
	return out
}

func (h *AttentionHead) attend(g *ag.Graph, tokens []ag.Node) []ag.Node {
	n := len(tokens)
	queries := make([]ag.Node, n)
	keys := make([]ag.Node, n)
	values := make([]ag.Node, n)
	for i, tok := range tokens {
		queries[i] = h.Query.Forward(tok)[0]
		keys[i] = h.Key.Forward(tok)[0]
		values[i] = h.Value.Forward(tok)[0]
	}
	keyMatrix := g.Stack(keys...)
	valueMatrix := g.Stack(values...)
	scale := g.Constant(mat.Float(math.Sqrt(float64(keys[0].Value().Rows()))))

	out := make([]ag.Node, n)
	for i := range tokens {
		scores := g.DivScalar(g.Mul(keyMatrix, queries[i]), scale)
		probs := g.Softmax(scores)
		out[i] = g.Mul(g.T(valueMatrix), probs)
	}
	return out
}
