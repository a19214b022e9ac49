package tabnet

import (
	"math"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/nn/linear"
	"github.com/nlpodyssey/spago/pkg/ml/nn/normalization/batchnorm"
)

var (
	_ nn.Model = &FeatureTransformer{}
	_ nn.Model = &FeatureTransformerBlock{}
)

var squareRootHalf = mat.Float(math.Sqrt(0.5))

// FeatureTransformer is one gated linear unit layer with batch normalization.
type FeatureTransformer struct {
	nn.BaseModel
	InputDimension int
	DenseLayer     *linear.Model
	BatchNormLayer *batchnorm.Model
}

func (f *FeatureTransformer) Init(generator *rand.LockedRand) {
	initializers.XavierUniform(f.DenseLayer.W.Value(), initializers.Gain(ag.OpSigmoid), generator)
}

func (f *FeatureTransformer) Forward(xs []ag.Node) []ag.Node {
	g := f.Graph()
	transformed := f.BatchNormLayer.Forward(f.DenseLayer.Forward(xs...)...)
	out := make([]ag.Node, len(xs))
	for i := range out {
		out[i] = glu(g, 2*f.InputDimension, transformed[i])
	}
	return out
}

func glu(g *ag.Graph, dim int, x ag.Node) ag.Node {
	half := dim / 2
	value := g.View(x, 0, 0, half, 1)
	gate := g.View(x, half, 0, half, 1)
	return g.Prod(value, g.Sigmoid(gate))
}

// FeatureTransformerBlock is a two-layer residual feature transformer.
type FeatureTransformerBlock struct {
	nn.BaseModel
	Layer1 *FeatureTransformer
	Layer2 *FeatureTransformer
}

func NewFeatureTransformerBlock(inputDimension, featureDimension int, batchMomentum float64) *FeatureTransformerBlock {
	return &FeatureTransformerBlock{
		BaseModel: nn.BaseModel{},
		Layer1: &FeatureTransformer{
			BaseModel:      nn.BaseModel{},
			InputDimension: featureDimension,
			DenseLayer:     linear.New(inputDimension, 2*featureDimension, linear.BiasGrad(false)),
			BatchNormLayer: batchnorm.NewWithMomentum(2*featureDimension, mat.Float(batchMomentum)),
		},
		Layer2: &FeatureTransformer{
			BaseModel:      nn.BaseModel{},
			InputDimension: featureDimension,
			DenseLayer:     linear.New(featureDimension, 2*featureDimension, linear.BiasGrad(false)),
			BatchNormLayer: batchnorm.NewWithMomentum(2*featureDimension, mat.Float(batchMomentum)),
		},
	}
}

func (f *FeatureTransformerBlock) Init(generator *rand.LockedRand) {
	f.Layer1.Init(generator)
	f.Layer2.Init(generator)
}

func (f *FeatureTransformerBlock) Forward(xs []ag.Node) []ag.Node {
	return f.process(xs, false)
}

// ForwardSkipResidual leaves the block input out of the first residual sum,
// used by the shared transformer at the start of every decision step.
func (f *FeatureTransformerBlock) ForwardSkipResidual(xs []ag.Node) []ag.Node {
	return f.process(xs, true)
}

func (f *FeatureTransformerBlock) process(xs []ag.Node, skipResidualInput bool) []ag.Node {
	g := f.Graph()
	theta := g.Constant(squareRootHalf)
	l1 := f.Layer1.Forward(xs)
	if !skipResidualInput {
		for i := range xs {
			l1[i] = g.ProdScalar(g.Add(l1[i], xs[i]), theta)
		}
	}
	l2 := f.Layer2.Forward(l1)
	for i := range xs {
		l2[i] = g.ProdScalar(g.Add(l1[i], l2[i]), theta)
	}
	return l2
}
