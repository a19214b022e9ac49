package pkg

import (
	"fmt"
	gio "io"
	"os"
	"sort"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/stats"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"arbor/pkg/io"
	"arbor/pkg/model"
)

type NoopWriter struct{}

func (NoopWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

// Test loads a saved model, runs it over the input file and logs evaluation
// metrics. Predictions are written to outputFileName when given.
func Test(modelFileName, inputFileName, outputFileName string) error {
	modelFile, err := os.Open(modelFileName)
	if err != nil {
		return fmt.Errorf("error opening model file %s: %w", modelFileName, err)
	}
	defer modelFile.Close()

	m, err := io.LoadModel(modelFile)
	if err != nil {
		return fmt.Errorf("error loading model from file %s: %w", modelFileName, err)
	}

	_, data, dataErrors, err := io.LoadData(io.DataParameters{
		DataFile:     inputFileName,
		TargetColumn: m.MetaData.Columns[m.MetaData.TargetColumn],
		BatchSize:    1,
	}, m.MetaData)
	if err != nil {
		return fmt.Errorf("error loading data from %s: %w", inputFileName, err)
	}
	printDataErrors(dataErrors)
	if data.Size() == 0 {
		return fmt.Errorf("no data to test in %s", inputFileName)
	}
	return testInternal(m, data, outputFileName)
}

type modelEvaluator interface {
	EvaluatePrediction(prediction ag.Node, record *io.DataRecord)
	LogMetrics()
	Loss() float64
}

func testInternal(m *model.Model, data *io.DataSet, outputFileName string) error {
	var outputWriter gio.Writer
	if outputFileName != "" {
		outputFile, err := os.Create(outputFileName)
		if err != nil {
			return fmt.Errorf("error opening output file %s: %w", outputFileName, err)
		}
		defer outputFile.Close()
		outputWriter = outputFile
	} else {
		outputWriter = NoopWriter{}
	}

	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
	loss := lossFor(m.MetaData, m.Network)

	var evaluator modelEvaluator
	switch m.MetaData.TargetType() {
	case model.Categorical:
		evaluator = &classificationEvaluator{
			metrics:      map[string]*stats.ClassMetrics{},
			model:        m,
			lossFunc:     loss,
			g:            g,
			outputWriter: outputWriter,
		}
	default:
		evaluator = &regressionEvaluator{
			lossFunc:     loss,
			pointFunc:    pointPrediction(m.Network),
			g:            g,
			outputWriter: outputWriter,
		}
	}

	data.ResetOrder(io.OriginalOrder)
	for batch := data.Next(); len(batch) > 0; batch = data.Next() {
		predictions := predict(g, m, batch)
		for i, prediction := range predictions {
			evaluator.EvaluatePrediction(prediction, batch[i])
		}
		g.Clear()
	}
	evaluator.LogMetrics()
	log.Info().Float64("Loss", evaluator.Loss()).Msg("")

	return nil
}

func predict(g *ag.Graph, m *model.Model, batch io.DataBatch) []ag.Node {
	input := createInputNodes(batch, g, m.Network.Embeddings())
	proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Inference}, m.Network).(model.Network)
	return proc.Forward(input)
}

type classificationEvaluator struct {
	predictionCount int
	loss            float64
	metrics         map[string]*stats.ClassMetrics
	model           *model.Model
	lossFunc        lossFunc
	g               *ag.Graph
	outputWriter    gio.Writer
}

type classificationPrediction struct {
	predictedClass string
	label          string
	labelValue     float64
	logits         mat.Matrix
	maxLogit       float64
}

func (c *classificationEvaluator) EvaluatePrediction(node ag.Node, record *io.DataRecord) {
	prediction := c.decode(node, record)
	c.loss += float64(c.lossFunc(c.g, c.g.NewVariable(prediction.logits, false), prediction.labelValue).ScalarValue())
	c.predictionCount++

	fmt.Fprintf(c.outputWriter, "%s,%s,%.5f\n", prediction.label, prediction.predictedClass, prediction.maxLogit)

	labelMetrics, ok := c.metrics[prediction.label]
	if !ok {
		labelMetrics = stats.NewMetricCounter()
		c.metrics[prediction.label] = labelMetrics
	}
	predictedMetrics, ok := c.metrics[prediction.predictedClass]
	if !ok {
		predictedMetrics = stats.NewMetricCounter()
		c.metrics[prediction.predictedClass] = predictedMetrics
	}

	if prediction.label == prediction.predictedClass {
		labelMetrics.IncTruePos()
	} else {
		labelMetrics.IncFalseNeg()
		predictedMetrics.IncFalsePos()
	}
}

func (c *classificationEvaluator) decode(modelOutput ag.Node, record *io.DataRecord) classificationPrediction {
	class, logit := argmax(modelOutput.Value().Data())
	return classificationPrediction{
		predictedClass: c.model.MetaData.TargetMap.IndexToName[class],
		label:          c.model.MetaData.TargetMap.IndexToName[int(record.Target)],
		labelValue:     record.Target,
		logits:         modelOutput.Value().Clone(),
		maxLogit:       logit,
	}
}

func (c *classificationEvaluator) LogMetrics() {
	// sort class names for deterministic output
	for _, class := range sortClasses(c.metrics) {
		result := c.metrics[class]
		log.Info().Str("Class", class).
			Int("TP", result.TruePos).
			Int("FP", result.FalsePos).
			Int("TN", result.TrueNeg).
			Int("FN", result.FalseNeg).
			Float64("Precision", float64(result.Precision())).
			Float64("Recall", float64(result.Recall())).
			Float64("F1", float64(result.F1Score())).
			Msg("")
	}

	macroF1, microF1 := computeOverallF1(c.metrics)
	log.Info().Float64("MacroF1", macroF1).Float64("MicroF1", microF1).Msg("")
}

func (c *classificationEvaluator) Loss() float64 {
	return c.loss / float64(c.predictionCount)
}

func computeOverallF1(metrics map[string]*stats.ClassMetrics) (float64, float64) {
	macroF1 := 0.0
	micro := stats.NewMetricCounter()
	for _, result := range metrics {
		macroF1 += float64(result.F1Score())
		micro.TruePos += result.TruePos
		micro.FalsePos += result.FalsePos
		micro.FalseNeg += result.FalseNeg
		micro.TrueNeg += result.TrueNeg
	}
	macroF1 /= float64(len(metrics))
	return macroF1, float64(micro.F1Score())
}

func sortClasses(metrics map[string]*stats.ClassMetrics) []string {
	result := make([]string, 0, len(metrics))
	for class := range metrics {
		result = append(result, class)
	}
	sort.Strings(result)
	return result
}

type pointFunc func(g *ag.Graph, prediction ag.Node) float64

// pointPrediction converts a raw network output into a scalar estimate,
// delegating to the network when it defines its own decoding.
func pointPrediction(network model.Network) pointFunc {
	if predictor, ok := network.(model.PointPredictor); ok {
		return predictor.Predict
	}
	return func(_ *ag.Graph, prediction ag.Node) float64 {
		return float64(prediction.ScalarValue())
	}
}

type regressionEvaluator struct {
	loss            float64
	predictionCount int
	estimated       []float64
	values          []float64
	lossFunc        lossFunc
	pointFunc       pointFunc
	g               *ag.Graph
	outputWriter    gio.Writer
}

func (r *regressionEvaluator) EvaluatePrediction(prediction ag.Node, record *io.DataRecord) {
	estimate := r.pointFunc(r.g, prediction)
	log.Debug().Float64("Target", record.Target).Float64("Prediction", estimate).Msg("")
	fmt.Fprintf(r.outputWriter, "%f,%f\n", record.Target, estimate)

	r.estimated = append(r.estimated, estimate)
	r.values = append(r.values, record.Target)
	r.loss += float64(r.lossFunc(r.g, prediction, record.Target).ScalarValue())
	r.predictionCount++
}

func (r *regressionEvaluator) LogMetrics() {
	r2 := stat.RSquaredFrom(r.estimated, r.values, nil)
	log.Info().Float64("R-squared", r2).Msg("")
}

func (r *regressionEvaluator) Loss() float64 {
	return r.loss / float64(r.predictionCount)
}

func argmax(data []mat.Float) (int, float64) {
	maxIndex := 0
	for i := range data {
		if data[i] > data[maxIndex] {
			maxIndex = i
		}
	}
	return maxIndex, float64(data[maxIndex])
}
