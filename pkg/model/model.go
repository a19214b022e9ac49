package model

import (
	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	xrand "golang.org/x/exp/rand"

	"arbor/pkg/model/embedding"
)

// Network is the uniform surface every architecture exposes to the training
// and evaluation code.
type Network interface {
	nn.Model
	Init(generator *rand.LockedRand)
	Forward(xs []ag.Node) []ag.Node
	Embeddings() *embedding.Model
}

// DataAwareInitializer is implemented by networks whose parameters must be
// seeded from the statistics of a sample batch before gradient training
// starts (the oblivious-tree ensembles).
type DataAwareInitializer interface {
	InitDataAware(samples []mat.Matrix, src xrand.Source)
}

// CustomLoss is implemented by networks whose raw output is not directly
// comparable to the target, such as mixture-density parameter vectors.
type CustomLoss interface {
	Loss(g *ag.Graph, prediction ag.Node, target float64) ag.Node
}

// PointPredictor turns a raw network output into a point prediction for
// regression evaluation.
type PointPredictor interface {
	Predict(g *ag.Graph, prediction ag.Node) float64
}

// Regularized is implemented by networks that produce an auxiliary loss as a
// byproduct of Forward (e.g. tabnet's attention-entropy sparsity term).
type Regularized interface {
	AuxiliaryLoss() []ag.Node
}

// Model couples a trained network with the data metadata it was trained on;
// this is the unit of persistence.
type Model struct {
	MetaData *Metadata
	Network  Network
}
