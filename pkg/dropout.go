package pkg

import (
	mrand "math/rand"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
)

type floatSource interface {
	Float() mat.Float
}

type uniformSource struct {
	rnd *mrand.Rand
}

func (u uniformSource) Float() mat.Float {
	return mat.Float(u.rnd.Float64())
}

// DropoutPreprocessor zeroes each input feature independently with the given
// probability before the batch reaches the network. The masks of the latest
// batch are kept for inspection.
type DropoutPreprocessor struct {
	probability  mat.Float
	source       floatSource
	featureSize  int
	batchSize    int
	CurrentMasks []mat.Matrix
}

func NewDropoutPreprocessor(probability float64, source floatSource, featureSize, batchSize int) *DropoutPreprocessor {
	return &DropoutPreprocessor{
		probability:  mat.Float(probability),
		source:       source,
		featureSize:  featureSize,
		batchSize:    batchSize,
		CurrentMasks: make([]mat.Matrix, 0, batchSize),
	}
}

func (d *DropoutPreprocessor) process(g *ag.Graph, data []ag.Node) []ag.Node {
	d.CurrentMasks = d.CurrentMasks[:0]
	output := make([]ag.Node, len(data))
	for i, x := range data {
		mask := mat.NewEmptyVecDense(d.featureSize)
		for j := 0; j < d.featureSize; j++ {
			if d.source.Float() >= d.probability {
				mask.SetVec(j, 1.0)
			}
		}
		d.CurrentMasks = append(d.CurrentMasks, mask)
		output[i] = g.Prod(x, g.NewVariable(mask, false))
	}
	return output
}
