package io

import (
	"encoding/csv"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"strconv"

	mat "github.com/nlpodyssey/spago/pkg/mat32"

	"arbor/pkg/model"
)

// DataRecord is one parsed data row: the dense continuous features, the
// embedding indices of the categorical features, and the target (class index
// or regression value).
type DataRecord struct {
	ContinuousFeatures  mat.Matrix
	CategoricalFeatures []int
	Target              float64
}

type DataBatch []*DataRecord

type void struct{}

var Void = void{}

type Set map[string]void

func NewSet(values ...string) Set {
	set := Set{}
	for _, val := range values {
		set[val] = Void
	}
	return set
}

type DataParameters struct {
	DataFile                 string
	TargetColumn             string
	CategoricalTarget        bool
	CategoricalColumns       Set
	BatchSize                int
	CategoricalEmbeddingSize int
}

type DataError struct {
	Line  int
	Error string
}

// LoadData reads a CSV file with a header row into a DataSet. When metaData
// is nil it is inferred from the file and the parameters (training); when
// given, the file is parsed against it and rows with unknown categorical
// values are reported as DataErrors (evaluation).
func LoadData(p DataParameters, metaData *model.Metadata) (*model.Metadata, *DataSet, []DataError, error) {
	inputFile, err := os.Open(p.DataFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error opening file: %w", err)
	}
	defer inputFile.Close()

	reader := csv.NewReader(inputFile)
	reader.Comma = ','

	// first line is expected to be a header
	header, err := reader.Read()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error reading data header: %w", err)
	}

	newMetadata := metaData == nil
	if newMetadata {
		metaData = model.NewMetadata()
		metaData.Columns = header
		metaData.CategoricalTarget = p.CategoricalTarget
		metaData.CategoricalEmbeddingSize = p.CategoricalEmbeddingSize
		if err := setTargetColumn(p, metaData); err != nil {
			return nil, nil, nil, err
		}
		buildFeatureIndex(p, metaData)
	}

	var errors []DataError
	var records []*DataRecord
	currentLine := 0

	for record, err := reader.Read(); err == nil; record, err = reader.Read() {
		currentLine++

		target, parseErr := parseTarget(newMetadata, metaData, record[metaData.TargetColumn])
		if parseErr != nil {
			errors = append(errors, DataError{Line: currentLine, Error: parseErr.Error()})
			continue
		}

		features, parseErr := parseContinuousFeatures(metaData, record)
		if parseErr != nil {
			errors = append(errors, DataError{Line: currentLine, Error: parseErr.Error()})
			continue
		}

		categoricalFeatures, parseErr := parseCategoricalFeatures(metaData, newMetadata, record)
		if parseErr != nil {
			errors = append(errors, DataError{Line: currentLine, Error: parseErr.Error()})
			continue
		}

		records = append(records, &DataRecord{
			ContinuousFeatures:  features,
			CategoricalFeatures: categoricalFeatures,
			Target:              target,
		})
	}

	return metaData, NewDataSet(records, p.BatchSize), errors, nil
}

func parseTarget(newMetadata bool, metaData *model.Metadata, target string) (float64, error) {
	if !metaData.CategoricalTarget {
		value, err := strconv.ParseFloat(target, 64)
		if err != nil {
			return 0, fmt.Errorf("error parsing continuous target: %w", err)
		}
		return value, nil
	}
	if newMetadata {
		return metaData.ParseOrAddCategoricalTarget(target), nil
	}
	value, ok := metaData.ParseCategoricalTarget(target)
	if !ok {
		return 0, fmt.Errorf("unknown categorical target value %s", target)
	}
	return value, nil
}

func parseContinuousFeatures(metaData *model.Metadata, record []string) (mat.Matrix, error) {
	features := mat.NewEmptyVecDense(metaData.ContinuousFeaturesMap.Size())
	for column, index := range metaData.ContinuousFeaturesMap.ColumnToIndex {
		value, err := strconv.ParseFloat(record[column], 64)
		if err != nil {
			return nil, fmt.Errorf("error parsing feature %s: %w", metaData.Columns[column], err)
		}
		features.SetVec(index, mat.Float(value))
	}
	return features, nil
}

// parseCategoricalFeatures resolves every categorical column to the embedding
// index of its "column=value" key, in categorical-feature-slot order.
func parseCategoricalFeatures(metaData *model.Metadata, newMetadata bool, record []string) ([]int, error) {
	count := metaData.CategoricalFeaturesMap.Size()
	categoricalFeatures := make([]int, 0, count)
	for index := 0; index < count; index++ {
		column := metaData.CategoricalFeaturesMap.IndexToColumn[index]
		key := metaData.Columns[column] + "=" + record[column]
		if newMetadata {
			categoricalFeatures = append(categoricalFeatures, metaData.CategoricalValuesMap.ValueFor(key))
			continue
		}
		value, ok := metaData.CategoricalValuesMap.ContainsName(key)
		if !ok {
			return nil, fmt.Errorf("unknown value %s for categorical attribute %s", record[column], metaData.Columns[column])
		}
		categoricalFeatures = append(categoricalFeatures, value)
	}
	return categoricalFeatures, nil
}

func buildFeatureIndex(p DataParameters, metaData *model.Metadata) {
	continuousIndex := 0
	categoricalIndex := 0
	for i, col := range metaData.Columns {
		if i == metaData.TargetColumn {
			continue
		}
		if _, isCategorical := p.CategoricalColumns[col]; isCategorical {
			metaData.CategoricalFeaturesMap.Set(i, categoricalIndex)
			categoricalIndex++
		} else {
			metaData.ContinuousFeaturesMap.Set(i, continuousIndex)
			continuousIndex++
		}
	}
}

func setTargetColumn(p DataParameters, metaData *model.Metadata) error {
	for i, col := range metaData.Columns {
		if col == p.TargetColumn {
			metaData.TargetColumn = i
			return nil
		}
	}
	return fmt.Errorf("target column %s not found in data header", p.TargetColumn)
}

func SaveModel(m *model.Model, writer io.Writer) error {
	encoder := gob.NewEncoder(writer)
	if err := encoder.Encode(m); err != nil {
		return fmt.Errorf("error encoding model: %w", err)
	}
	return nil
}

func LoadModel(input io.Reader) (*model.Model, error) {
	decoder := gob.NewDecoder(input)
	m := &model.Model{}
	if err := decoder.Decode(m); err != nil {
		return nil, fmt.Errorf("error decoding model: %w", err)
	}
	return m, nil
}
