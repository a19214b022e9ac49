package pkg

import (
	"fmt"
	mrand "math/rand"
	"os"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/losses"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/optimizers/gd"
	"github.com/nlpodyssey/spago/pkg/ml/optimizers/gd/adam"
	"github.com/rs/zerolog/log"
	xrand "golang.org/x/exp/rand"

	"arbor/pkg/io"
	"arbor/pkg/model"
	"arbor/pkg/model/embedding"
)

type TrainingParameters struct {
	BatchSize          int
	NumEpochs          int
	LearningRate       float64
	ReportInterval     int
	RndSeed            uint64
	CategoricalColumns []string
	CategoricalTarget  bool
	InputDropout       float64
}

const gradientClipThreshold = 2000.0

type Trainer struct {
	params    TrainingParameters
	optimizer *gd.GradientDescent
	network   model.Network
	loss      lossFunc
	dropout   *DropoutPreprocessor
}

// Train fits a network of the configured architecture on trainFile, saves the
// resulting model to outputFileName and, when testFile is given, evaluates
// the model on it.
func Train(trainFile, testFile, outputFileName, targetColumn string, config model.NetworkConfig, params TrainingParameters) error {
	rndGen := rand.NewLockedRand(params.RndSeed)

	metaData, data, dataErrors, err := io.LoadData(io.DataParameters{
		DataFile:                 trainFile,
		TargetColumn:             targetColumn,
		CategoricalTarget:        params.CategoricalTarget,
		CategoricalColumns:       io.NewSet(params.CategoricalColumns...),
		BatchSize:                params.BatchSize,
		CategoricalEmbeddingSize: config.CategoricalEmbeddingDimension,
	}, nil)
	if err != nil {
		return fmt.Errorf("error reading training data: %w", err)
	}
	printDataErrors(dataErrors)
	if data.Size() == 0 {
		return fmt.Errorf("no training data in %s", trainFile)
	}

	// these are only known after the dataset is parsed
	config.NumColumns = metaData.FeatureCount()
	config.NumCategoricalEmbeddings = metaData.CategoricalValuesMap.Size()
	config.OutputDimension = metaData.OutputDimension()

	network, err := model.NewNetwork(config)
	if err != nil {
		return err
	}
	network.Init(rndGen)
	if initializer, ok := network.(model.DataAwareInitializer); ok {
		log.Info().Int("samples", data.Size()).Msg("Running data-aware initialization")
		initializer.InitDataAware(encodeSamples(network.Embeddings(), data.Records), xrand.NewSource(params.RndSeed))
	}

	t := &Trainer{
		params:  params,
		network: network,
		loss:    lossFor(metaData, network),
	}
	if params.InputDropout > 0 {
		source := uniformSource{rnd: mrand.New(mrand.NewSource(int64(params.RndSeed)))}
		t.dropout = NewDropoutPreprocessor(params.InputDropout, source, metaData.FeatureCount(), params.BatchSize)
	}

	updaterConfig := adam.NewDefaultConfig()
	updaterConfig.StepSize = mat.Float(params.LearningRate)
	t.optimizer = gd.NewOptimizer(adam.New(updaterConfig), nn.NewDefaultParamsIterator(network),
		gd.ClipGradByValue(gradientClipThreshold))

	data.Rand = mrand.New(mrand.NewSource(int64(params.RndSeed)))
	for epoch := 0; epoch < params.NumEpochs; epoch++ {
		t.optimizer.IncEpoch()
		data.ResetOrder(io.RandomOrder)
		batchIndex := 0
		for batch := data.Next(); len(batch) > 0; batch = data.Next() {
			loss, auxLoss := t.trainBatch(batch)
			t.optimizer.Optimize()
			if batchIndex%params.ReportInterval == 0 {
				log.Info().Int("epoch", epoch).Int("batch", batchIndex).
					Float64("loss", loss).Float64("auxLoss", auxLoss).Msg("")
			}
			batchIndex++
		}
	}

	m := &model.Model{
		MetaData: metaData,
		Network:  network,
	}

	outputFile, err := os.Create(outputFileName)
	if err != nil {
		return fmt.Errorf("error creating output file %s: %w", outputFileName, err)
	}
	defer outputFile.Close()
	if err := io.SaveModel(m, outputFile); err != nil {
		return fmt.Errorf("error saving model to %s: %w", outputFileName, err)
	}

	if testFile == "" {
		return nil
	}
	_, testData, testErrors, err := io.LoadData(io.DataParameters{
		DataFile:     testFile,
		TargetColumn: targetColumn,
		BatchSize:    params.BatchSize,
	}, metaData)
	if err != nil {
		return fmt.Errorf("error reading test data: %w", err)
	}
	printDataErrors(testErrors)
	return testInternal(m, testData, "")
}

func (t *Trainer) trainBatch(batch io.DataBatch) (float64, float64) {
	t.optimizer.IncBatch()

	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(t.params.RndSeed)))
	defer g.Clear()

	input := createInputNodes(batch, g, t.network.Embeddings())
	if t.dropout != nil {
		input = t.dropout.process(g, input)
	}
	proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Training}, t.network).(model.Network)
	predictions := proc.Forward(input)

	var auxiliary []ag.Node
	if regularized, ok := proc.(model.Regularized); ok {
		auxiliary = regularized.AuxiliaryLoss()
	}

	var loss, auxLoss ag.Node
	for i := range batch {
		loss = g.Add(loss, t.loss(g, predictions[i], batch[i].Target))
		if auxiliary != nil {
			loss = g.Add(loss, auxiliary[i])
			auxLoss = g.Add(auxLoss, auxiliary[i])
		}
	}
	batchSize := g.NewScalar(mat.Float(len(batch)))
	loss = g.Div(loss, batchSize)
	g.Backward(loss)

	auxValue := 0.0
	if auxLoss != nil {
		auxValue = float64(g.Div(auxLoss, batchSize).ScalarValue())
	}
	return float64(loss.ScalarValue()), auxValue
}

type lossFunc func(g *ag.Graph, prediction ag.Node, target float64) ag.Node

// lossFor picks the training loss: the network's own loss when it defines
// one, otherwise cross-entropy for classification and mean squared error for
// regression.
func lossFor(metaData *model.Metadata, network model.Network) lossFunc {
	if custom, ok := network.(model.CustomLoss); ok {
		return custom.Loss
	}
	if metaData.TargetType() == model.Categorical {
		return func(g *ag.Graph, prediction ag.Node, target float64) ag.Node {
			return losses.CrossEntropy(g, prediction, int(target))
		}
	}
	return func(g *ag.Graph, prediction ag.Node, target float64) ag.Node {
		return losses.MSE(g, prediction, g.NewScalar(mat.Float(target)), false)
	}
}

// createInputNodes turns a batch into one graph node per record, with the
// categorical embeddings concatenated onto the continuous features.
func createInputNodes(batch io.DataBatch, g *ag.Graph, embeddings *embedding.Model) []ag.Node {
	input := make([]ag.Node, len(batch))
	for i, record := range batch {
		continuous := g.NewVariable(record.ContinuousFeatures, false)
		input[i] = embeddings.Encode(g, continuous, record.CategoricalFeatures)
	}
	return input
}

// encodeSamples builds the plain numeric input vectors used by data-aware
// initialization, embedding values included.
func encodeSamples(embeddings *embedding.Model, records []*io.DataRecord) []mat.Matrix {
	samples := make([]mat.Matrix, len(records))
	for i, record := range records {
		data := append([]mat.Float(nil), record.ContinuousFeatures.Data()...)
		for _, index := range record.CategoricalFeatures {
			data = append(data, embeddings.Vectors[index].Value().Data()...)
		}
		samples[i] = mat.NewVecDense(data)
	}
	return samples
}
