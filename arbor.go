package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"arbor/pkg"
	"arbor/pkg/model"
)

func TrainCommand() *cobra.Command {
	var trainFile string
	var testFile string
	var outputFile string
	var targetColumn string
	var trainingParameters pkg.TrainingParameters
	var networkConfig model.NetworkConfig

	var cmd = &cobra.Command{
		Use:   "train -i trainData -o outputFile -t targetColumn",
		Short: "Trains a new model on the provided training data and saves the trained model",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateArchitecture(networkConfig.Architecture); err != nil {
				return err
			}
			return pkg.Train(trainFile, testFile, outputFile, targetColumn, networkConfig, trainingParameters)
		},
	}

	cmd.Flags().StringVarP(&trainFile, "train-file", "i", "", "name of train file")
	cmd.Flags().StringVarP(&testFile, "test-file", "", "", "name of test file")
	cmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "name of the file to save model to")
	cmd.Flags().StringVarP(&targetColumn, "target-column", "t", "", "target column")

	cmd.Flags().IntVarP(&trainingParameters.BatchSize, "batch-size", "b", 16, "batch size")
	cmd.Flags().Float64VarP(&trainingParameters.LearningRate, "learning-rate", "l", 0.01, "learning rate")
	cmd.Flags().IntVarP(&trainingParameters.ReportInterval, "report-interval", "r", 10, "loss report interval")
	cmd.Flags().IntVarP(&trainingParameters.NumEpochs, "num-epochs", "n", 10, "number of epochs to train")
	cmd.Flags().Uint64VarP(&trainingParameters.RndSeed, "random-seed", "x", 42, "random seed")
	cmd.Flags().StringSliceVarP(&trainingParameters.CategoricalColumns, "categorical-columns", "", nil, "list of columns holding categorical data")
	cmd.Flags().BoolVarP(&trainingParameters.CategoricalTarget, "categorical-target", "", true, "treat the target column as categorical")
	cmd.Flags().Float64VarP(&trainingParameters.InputDropout, "input-dropout-probability", "", 0.0, "probability of input dropout")

	cmd.Flags().StringVarP(&networkConfig.Architecture, "architecture", "a", "node", fmt.Sprintf("network architecture, one of %v", model.Architectures()))
	cmd.Flags().IntVarP(&networkConfig.CategoricalEmbeddingDimension, "categorical-embedding-size", "c", 1, "size of categorical embeddings")

	cmd.Flags().IntVarP(&networkConfig.NumLayers, "num-layers", "", 2, "number of tree ensemble layers (node, nodemdn)")
	cmd.Flags().IntVarP(&networkConfig.NumTrees, "num-trees", "", 8, "number of trees per ensemble layer (node, nodemdn)")
	cmd.Flags().IntVarP(&networkConfig.TreeDepth, "tree-depth", "d", 4, "depth of each tree (node, nodemdn)")
	cmd.Flags().IntVarP(&networkConfig.ExtraTreeDim, "extra-tree-dim", "", 0, "extra per-tree response channels (node, nodemdn)")
	cmd.Flags().Float64VarP(&networkConfig.ThresholdInitBeta, "threshold-init-beta", "", 1.0, "beta distribution parameter for threshold initialization (node, nodemdn)")
	cmd.Flags().Float64VarP(&networkConfig.ThresholdInitCutoff, "threshold-init-cutoff", "", 1.0, "temperature cutoff for threshold initialization (node, nodemdn)")

	cmd.Flags().IntVarP(&networkConfig.HiddenDimension, "hidden-dimension", "", 16, "hidden layer width (catembed)")
	cmd.Flags().IntVarP(&networkConfig.NumHiddenLayers, "num-hidden-layers", "", 2, "number of hidden layers (catembed)")

	cmd.Flags().IntVarP(&networkConfig.AttentionDimension, "attention-dimension", "", 8, "token embedding width (autoint)")
	cmd.Flags().IntVarP(&networkConfig.NumAttentionLayers, "num-attention-layers", "", 2, "number of attention layers (autoint)")
	cmd.Flags().IntVarP(&networkConfig.NumAttentionHeads, "num-attention-heads", "", 2, "number of attention heads (autoint)")

	cmd.Flags().IntVarP(&networkConfig.NumDecisionSteps, "num-decision-steps", "s", 2, "number of decision steps (tabnet)")
	cmd.Flags().IntVarP(&networkConfig.FeatureDimension, "feature-dimension", "f", 4, "feature dimension (tabnet)")
	cmd.Flags().Float64VarP(&networkConfig.RelaxationFactor, "relaxation-factor", "g", 1.5, "relaxation factor (tabnet)")
	cmd.Flags().Float64VarP(&networkConfig.BatchMomentum, "batch-momentum", "", 0.9, "batch momentum (tabnet)")
	cmd.Flags().Float64VarP(&networkConfig.SparsityLossWeight, "sparsity-loss-weight", "", 0.0001, "weight of the sparsity loss in total loss (tabnet)")

	cmd.Flags().IntVarP(&networkConfig.MixtureComponents, "mixture-components", "", 3, "number of gaussian mixture components (nodemdn)")
	cmd.Flags().IntVarP(&networkConfig.MixtureHiddenDim, "mixture-hidden-dimension", "", 16, "hidden dimension of the mixture head backbone (nodemdn)")

	_ = cmd.MarkFlagRequired("train-file")
	_ = cmd.MarkFlagRequired("output-file")
	_ = cmd.MarkFlagRequired("target-column")

	return cmd
}

func TestCommand() *cobra.Command {
	var modelFile string
	var inputFile string
	var outputFile string

	var cmd = &cobra.Command{
		Use:   "test -m modelFile -i inputFile [-o outputFile]",
		Short: "Runs the provided model on the specified data input and optionally writes the predictions",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pkg.Test(modelFile, inputFile, outputFile)
		},
	}

	cmd.Flags().StringVarP(&modelFile, "model", "m", "", "name of model to test")
	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "name of data input file")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "name of predictions output file (optional)")

	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func validateArchitecture(architecture string) error {
	for _, known := range model.Architectures() {
		if architecture == known {
			return nil
		}
	}
	return fmt.Errorf("unknown architecture %q, expected one of %v", architecture, model.Architectures())
}

var logLevel string
var logFormat string

func main() {
	root := &cobra.Command{Use: "arbor", PersistentPreRun: setupLogging}

	root.PersistentFlags().StringVarP(&logLevel, "log-level", "", "info", "Logging level: info error or debug")
	root.PersistentFlags().StringVarP(&logFormat, "log-format", "", "pretty", "Logging format: pretty or json")

	root.AddCommand(TrainCommand())
	root.AddCommand(TestCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(cmd *cobra.Command, args []string) {
	switch logLevel {
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		panic("Invalid logging level specified")
	}

	switch logFormat {
	case "pretty":
		setupPrettyLogging()
	case "json":
	default:
		panic("Invalid log format specified")
	}
}

func setupPrettyLogging() {
	writer := zerolog.ConsoleWriter{Out: os.Stderr}
	writer.FormatFieldValue = func(i interface{}) string {
		switch v := i.(type) {
		case json.Number:
			val, _ := v.Float64()
			return fmt.Sprintf("%.3f", val)
		default:
			return fmt.Sprintf("%s", i)
		}
	}
	log.Logger = log.Output(writer)
}
