package odst

import (
	"encoding/gob"

	"github.com/nlpodyssey/spago/pkg/ml/ag"
)

// FeatureSelector normalizes a vector of selection logits into a probability
// simplex, i.e. non-negative entries summing to 1.
type FeatureSelector interface {
	Normalize(g *ag.Graph, logits ag.Node) ag.Node
}

// SoftBinarizer maps real values into [0, 1], approximating a step function.
type SoftBinarizer interface {
	Binarize(g *ag.Graph, x ag.Node) ag.Node
}

// Sparsemax projects logits onto the probability simplex, producing sparse
// feature choices. This is the default selector.
type Sparsemax struct{}

func (Sparsemax) Normalize(g *ag.Graph, logits ag.Node) ag.Node {
	return g.SparseMax(logits)
}

// Softmax is the dense alternative to Sparsemax.
type Softmax struct{}

func (Softmax) Normalize(g *ag.Graph, logits ag.Node) ag.Node {
	return g.Softmax(logits)
}

// Sparsemoid is the two-sided linear gate clamp(0.5*x + 0.5, 0, 1). Unlike a
// sigmoid it saturates exactly, so routing weights can reach hard 0/1. This
// is the default binarizer.
type Sparsemoid struct{}

func (Sparsemoid) Binarize(g *ag.Graph, x ag.Node) ag.Node {
	half := g.Constant(0.5)
	return g.AddScalar(g.ProdScalar(g.HardTanh(x), half), half)
}

// Sigmoid is the smooth alternative to Sparsemoid.
type Sigmoid struct{}

func (Sigmoid) Binarize(g *ag.Graph, x ag.Node) ag.Node {
	return g.Sigmoid(x)
}

func init() {
	gob.Register(Sparsemax{})
	gob.Register(Softmax{})
	gob.Register(Sparsemoid{})
	gob.Register(Sigmoid{})
}
