package model

import (
	"encoding/gob"
	"fmt"

	"arbor/pkg/model/autoint"
	"arbor/pkg/model/catembed"
	"arbor/pkg/model/mdn"
	"arbor/pkg/model/node"
	"arbor/pkg/model/tabnet"
)

// NetworkConfig gathers the hyperparameters of every supported architecture;
// each architecture reads its own subset. NumColumns and
// NumCategoricalEmbeddings are only known after the dataset is parsed and are
// filled in by the trainer.
type NetworkConfig struct {
	Architecture                  string
	OutputDimension               int
	NumColumns                    int
	NumCategoricalEmbeddings      int
	CategoricalEmbeddingDimension int

	// node / nodemdn
	NumLayers           int
	NumTrees            int
	TreeDepth           int
	ExtraTreeDim        int
	ThresholdInitBeta   float64
	ThresholdInitCutoff float64

	// catembed
	HiddenDimension int
	NumHiddenLayers int

	// autoint
	AttentionDimension int
	NumAttentionLayers int
	NumAttentionHeads  int

	// tabnet
	NumDecisionSteps   int
	FeatureDimension   int
	RelaxationFactor   float64
	BatchMomentum      float64
	SparsityLossWeight float64

	// nodemdn
	MixtureComponents int
	MixtureHiddenDim  int
}

// Architectures lists the valid values of NetworkConfig.Architecture.
func Architectures() []string {
	return []string{"node", "catembed", "autoint", "tabnet", "nodemdn"}
}

func (c NetworkConfig) nodeConfig(outputDimension int) node.Config {
	return node.Config{
		InputDimension:                c.NumColumns,
		OutputDimension:               outputDimension,
		NumLayers:                     c.NumLayers,
		NumTrees:                      c.NumTrees,
		TreeDepth:                     c.TreeDepth,
		ExtraTreeDim:                  c.ExtraTreeDim,
		ThresholdInitBeta:             c.ThresholdInitBeta,
		ThresholdInitCutoff:           c.ThresholdInitCutoff,
		NumCategoricalEmbeddings:      c.NumCategoricalEmbeddings,
		CategoricalEmbeddingDimension: c.CategoricalEmbeddingDimension,
	}
}

func NewNetwork(config NetworkConfig) (Network, error) {
	switch config.Architecture {
	case "node":
		return node.New(config.nodeConfig(config.OutputDimension)), nil
	case "catembed":
		return catembed.New(catembed.Config{
			InputDimension:                config.NumColumns,
			OutputDimension:               config.OutputDimension,
			HiddenDimension:               config.HiddenDimension,
			NumHiddenLayers:               config.NumHiddenLayers,
			NumCategoricalEmbeddings:      config.NumCategoricalEmbeddings,
			CategoricalEmbeddingDimension: config.CategoricalEmbeddingDimension,
		}), nil
	case "autoint":
		return autoint.New(autoint.Config{
			InputDimension:                config.NumColumns,
			OutputDimension:               config.OutputDimension,
			AttentionDimension:            config.AttentionDimension,
			NumLayers:                     config.NumAttentionLayers,
			NumHeads:                      config.NumAttentionHeads,
			NumCategoricalEmbeddings:      config.NumCategoricalEmbeddings,
			CategoricalEmbeddingDimension: config.CategoricalEmbeddingDimension,
		}), nil
	case "tabnet":
		return tabnet.New(tabnet.Config{
			InputDimension:                config.NumColumns,
			OutputDimension:               config.OutputDimension,
			NumDecisionSteps:              config.NumDecisionSteps,
			FeatureDimension:              config.FeatureDimension,
			RelaxationFactor:              config.RelaxationFactor,
			BatchMomentum:                 config.BatchMomentum,
			SparsityLossWeight:            config.SparsityLossWeight,
			NumCategoricalEmbeddings:      config.NumCategoricalEmbeddings,
			CategoricalEmbeddingDimension: config.CategoricalEmbeddingDimension,
		}), nil
	case "nodemdn":
		return mdn.New(mdn.Config{
			Backbone:   config.nodeConfig(config.MixtureHiddenDim),
			Components: config.MixtureComponents,
		}), nil
	default:
		return nil, fmt.Errorf("unknown architecture %q", config.Architecture)
	}
}

func init() {
	gob.Register(&node.Model{})
	gob.Register(&catembed.Model{})
	gob.Register(&autoint.Model{})
	gob.Register(&tabnet.Model{})
	gob.Register(&mdn.Model{})
}
