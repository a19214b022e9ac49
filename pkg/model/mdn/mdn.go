// Package mdn implements a mixture-density network for regression: a NODE
// backbone produces hidden features, and a mixture-density head maps them to
// the weights, means and (log) deviations of a gaussian mixture over the
// target. Training minimizes the mixture negative log-likelihood.
package mdn

import (
	"math"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/nn/linear"
	xrand "golang.org/x/exp/rand"

	"arbor/pkg/model/embedding"
	"arbor/pkg/model/node"
)

var (
	_ nn.Model = &Model{}
)

const logSqrtTwoPi = 0.9189385332046727

type Config struct {
	Backbone   node.Config
	Components int
}

// Model is a NODE backbone with a mixture-density head. Forward outputs one
// [3*Components] vector per sample: component logits, means and log
// deviations, in that order.
type Model struct {
	nn.BaseModel
	Config
	Backbone *node.Model
	PiLayer  *linear.Model
	MuLayer  *linear.Model
	SigLayer *linear.Model
}

func New(config Config) *Model {
	hidden := config.Backbone.OutputDimension
	return &Model{
		BaseModel: nn.BaseModel{},
		Config:    config,
		Backbone:  node.New(config.Backbone),
		PiLayer:   linear.New(hidden, config.Components),
		MuLayer:   linear.New(hidden, config.Components),
		SigLayer:  linear.New(hidden, config.Components),
	}
}

func (m *Model) Embeddings() *embedding.Model {
	return m.Backbone.Embeddings()
}

func (m *Model) Init(generator *rand.LockedRand) {
	m.Backbone.Init(generator)
	gain := initializers.Gain(ag.OpIdentity)
	initializers.XavierUniform(m.PiLayer.W.Value(), gain, generator)
	initializers.XavierUniform(m.MuLayer.W.Value(), gain, generator)
	initializers.XavierUniform(m.SigLayer.W.Value(), gain, generator)
}

func (m *Model) InitDataAware(samples []mat.Matrix, src xrand.Source) {
	m.Backbone.InitDataAware(samples, src)
}

func (m *Model) Forward(xs []ag.Node) []ag.Node {
	g := m.Graph()
	hidden := m.Backbone.Forward(xs)
	ys := make([]ag.Node, len(xs))
	for i, h := range hidden {
		pi := m.PiLayer.Forward(h)[0]
		mu := m.MuLayer.Forward(h)[0]
		logSigma := m.SigLayer.Forward(h)[0]
		ys[i] = g.Concat(pi, mu, logSigma)
	}
	return ys
}

func (m *Model) components(g *ag.Graph, prediction ag.Node) (pi, mu, logSigma ag.Node) {
	k := m.Components
	pi = g.View(prediction, 0, 0, k, 1)
	mu = g.View(prediction, k, 0, k, 1)
	logSigma = g.View(prediction, 2*k, 0, k, 1)
	return
}

// Loss is the negative log-likelihood of the target under the predicted
// gaussian mixture.
func (m *Model) Loss(g *ag.Graph, prediction ag.Node, target float64) ag.Node {
	pi, mu, logSigma := m.components(g, prediction)
	t := g.Constant(mat.Float(target))
	// per-component log density of the target
	z := g.Prod(g.Neg(g.SubScalar(mu, t)), g.Exp(g.Neg(logSigma)))
	logDensity := g.Neg(g.AddScalar(
		g.Add(logSigma, g.ProdScalar(g.Pow(z, 2), g.Constant(0.5))),
		g.Constant(logSqrtTwoPi)))
	weighted := g.Add(g.LogSoftmax(pi), logDensity)
	return g.Neg(g.Log(g.ReduceSum(g.Exp(weighted))))
}

// Predict returns the mixture expectation, the point prediction used for
// regression evaluation.
func (m *Model) Predict(g *ag.Graph, prediction ag.Node) float64 {
	k := m.Components
	data := prediction.Value().Data()
	maxLogit := math.Inf(-1)
	for _, v := range data[:k] {
		if float64(v) > maxLogit {
			maxLogit = float64(v)
		}
	}
	var norm, expectation float64
	for i := 0; i < k; i++ {
		w := math.Exp(float64(data[i]) - maxLogit)
		norm += w
		expectation += w * float64(data[k+i])
	}
	return expectation / norm
}
