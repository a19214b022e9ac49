// Package embedding holds the learned vector representations of categorical
// feature values. Every network architecture shares this input machinery.
package embedding

import (
	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
)

var (
	_ nn.Model = &Model{}
)

type Model struct {
	nn.BaseModel

	// Vectors is indexed by the metadata's categorical value index.
	Vectors []nn.Param
	Dim     int
}

func New(numEmbeddings, dim int) *Model {
	vectors := make([]nn.Param, numEmbeddings)
	for i := range vectors {
		vectors[i] = nn.NewParam(mat.NewEmptyVecDense(dim))
	}
	return &Model{
		BaseModel: nn.BaseModel{},
		Vectors:   vectors,
		Dim:       dim,
	}
}

func (m *Model) Init(generator *rand.LockedRand) {
	for _, v := range m.Vectors {
		initializers.Uniform(v.Value(), -0.1, 0.1, generator)
	}
}

func (m *Model) Forward(_ ...ag.Node) []ag.Node {
	panic("embedding: use Encode instead of Forward")
}

// Encode concatenates the continuous feature vector with the embeddings of
// the given categorical value indices.
func (m *Model) Encode(g *ag.Graph, continuous ag.Node, indices []int) ag.Node {
	x := continuous
	for _, index := range indices {
		x = g.Concat(x, g.NewWrap(m.Vectors[index]))
	}
	return x
}
