// Package tabnet implements the attentive tabular network of
// "TabNet: Attentive Interpretable Tabular Learning" - https://arxiv.org/abs/1908.07442
package tabnet

import (
	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/nn/linear"
	"github.com/nlpodyssey/spago/pkg/ml/nn/normalization/batchnorm"

	"arbor/pkg/model/embedding"
)

var (
	_ nn.Model = &Model{}
)

const epsilon = 0.00001

type Config struct {
	InputDimension   int
	OutputDimension  int
	NumDecisionSteps int
	FeatureDimension int
	RelaxationFactor float64
	BatchMomentum    float64

	// SparsityLossWeight scales the attention-entropy regularizer returned
	// by AuxiliaryLoss.
	SparsityLossWeight float64

	NumCategoricalEmbeddings      int
	CategoricalEmbeddingDimension int
}

type Model struct {
	nn.BaseModel
	Config
	CategoricalEmbeddings    *embedding.Model
	FeatureBatchNorm         *batchnorm.Model
	SharedFeatureTransformer *FeatureTransformerBlock
	StepFeatureTransformers  []*FeatureTransformerBlock
	AttentionTransformer     *linear.Model
	AttentionBatchNorm       *batchnorm.Model
	OutputLayer              *linear.Model

	// attentionEntropy is computed as a byproduct of Forward, one node per
	// input, already scaled by SparsityLossWeight.
	attentionEntropy []ag.Node
}

func New(config Config) *Model {
	stepTransformers := make([]*FeatureTransformerBlock, config.NumDecisionSteps)
	for i := range stepTransformers {
		stepTransformers[i] = NewFeatureTransformerBlock(config.FeatureDimension, config.FeatureDimension, config.BatchMomentum)
	}
	return &Model{
		BaseModel:                nn.BaseModel{},
		Config:                   config,
		CategoricalEmbeddings:    embedding.New(config.NumCategoricalEmbeddings, config.CategoricalEmbeddingDimension),
		FeatureBatchNorm:         batchnorm.NewWithMomentum(config.InputDimension, mat.Float(config.BatchMomentum)),
		SharedFeatureTransformer: NewFeatureTransformerBlock(config.InputDimension, config.FeatureDimension, config.BatchMomentum),
		StepFeatureTransformers:  stepTransformers,
		AttentionTransformer:     linear.New(config.FeatureDimension, config.InputDimension, linear.BiasGrad(false)),
		AttentionBatchNorm:       batchnorm.NewWithMomentum(config.InputDimension, mat.Float(config.BatchMomentum)),
		OutputLayer:              linear.New(config.FeatureDimension, config.OutputDimension, linear.BiasGrad(false)),
	}
}

func (m *Model) Embeddings() *embedding.Model {
	return m.CategoricalEmbeddings
}

func (m *Model) Init(generator *rand.LockedRand) {
	m.CategoricalEmbeddings.Init(generator)
	m.SharedFeatureTransformer.Init(generator)
	for _, t := range m.StepFeatureTransformers {
		t.Init(generator)
	}
	gain := initializers.Gain(ag.OpIdentity)
	initializers.XavierUniform(m.AttentionTransformer.W.Value(), gain, generator)
	initializers.XavierUniform(m.OutputLayer.W.Value(), gain, generator)
}

func (m *Model) Forward(xs []ag.Node) []ag.Node {
	g := m.Graph()

	input := m.FeatureBatchNorm.Forward(xs...)

	complementaryAggregatedMaskValues := make([]ag.Node, len(xs))
	for i := range xs {
		complementaryAggregatedMaskValues[i] = g.NewVariable(mat.NewInitVecDense(m.InputDimension, 1.0), true)
	}

	m.attentionEntropy = make([]ag.Node, len(xs))
	outputAggregated := make([]ag.Node, len(xs))
	maskedFeatures := make([]ag.Node, len(xs))
	for i, x := range input {
		maskedFeatures[i] = g.Identity(x)
	}

	for step := 0; step < m.NumDecisionSteps; step++ {
		transformed := m.SharedFeatureTransformer.ForwardSkipResidual(maskedFeatures)
		transformed = m.StepFeatureTransformers[step].Forward(transformed)
		if step > 0 {
			for i := range xs {
				decision := g.ReLU(transformed[i])
				if outputAggregated[i] == nil {
					outputAggregated[i] = decision
				} else {
					outputAggregated[i] = g.Add(outputAggregated[i], decision)
				}
			}
		}

		if step == m.NumDecisionSteps-1 {
			continue // no attention mask needed after the last decision
		}

		mask := m.AttentionBatchNorm.Forward(m.AttentionTransformer.Forward(transformed...)...)
		for i := range mask {
			masked := g.SparseMax(g.Prod(mask[i], complementaryAggregatedMaskValues[i]))
			complementaryAggregatedMaskValues[i] = g.Prod(complementaryAggregatedMaskValues[i],
				g.Neg(g.SubScalar(masked, g.Constant(mat.Float(m.RelaxationFactor)))))
			maskedFeatures[i] = g.Prod(input[i], masked)

			stepEntropy := g.ReduceSum(g.Prod(g.Neg(masked), g.Log(g.AddScalar(masked, g.Constant(epsilon)))))
			stepEntropy = g.DivScalar(stepEntropy, g.Constant(mat.Float(m.NumDecisionSteps-1)))
			if m.attentionEntropy[i] == nil {
				m.attentionEntropy[i] = stepEntropy
			} else {
				m.attentionEntropy[i] = g.Add(m.attentionEntropy[i], stepEntropy)
			}
		}
	}

	ys := make([]ag.Node, len(xs))
	for i := range xs {
		ys[i] = m.OutputLayer.Forward(outputAggregated[i])[0]
	}
	return ys
}

// AuxiliaryLoss returns the per-sample attention-entropy regularizer from the
// latest Forward, weighted by SparsityLossWeight.
func (m *Model) AuxiliaryLoss() []ag.Node {
	g := m.Graph()
	weighted := make([]ag.Node, len(m.attentionEntropy))
	for i, entropy := range m.attentionEntropy {
		if entropy == nil {
			weighted[i] = g.NewScalar(0.0)
			continue
		}
		weighted[i] = g.ProdScalar(entropy, g.Constant(mat.Float(m.SparsityLossWeight)))
	}
	return weighted
}
