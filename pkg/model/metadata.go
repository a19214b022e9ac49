package model

// NameMap is a bidirectional mapping between a name and an index.
type NameMap struct {
	NameToIndex map[string]int
	IndexToName map[int]string
}

func NewNameMap() NameMap {
	return NameMap{
		NameToIndex: map[string]int{},
		IndexToName: map[int]string{},
	}
}

func (m NameMap) Set(name string, index int) {
	m.NameToIndex[name] = index
	m.IndexToName[index] = name
}

func (m NameMap) Size() int {
	return len(m.NameToIndex)
}

func (m NameMap) ContainsName(name string) (int, bool) {
	index, ok := m.NameToIndex[name]
	return index, ok
}

// ValueFor returns the index of name, assigning the next free index when the
// name has not been seen before.
func (m NameMap) ValueFor(name string) int {
	index, ok := m.NameToIndex[name]
	if !ok {
		index = m.Size()
		m.Set(name, index)
	}
	return index
}

// ColumnMap is a bidirectional mapping between a data row column index and a
// dense feature index.
type ColumnMap struct {
	ColumnToIndex map[int]int
	IndexToColumn map[int]int
}

func NewColumnMap() ColumnMap {
	return ColumnMap{
		ColumnToIndex: map[int]int{},
		IndexToColumn: map[int]int{},
	}
}

func (m ColumnMap) Set(column, index int) {
	m.ColumnToIndex[column] = index
	m.IndexToColumn[index] = column
}

func (m ColumnMap) Size() int {
	return len(m.ColumnToIndex)
}

func (m ColumnMap) GetColumn(column int) (int, bool) {
	index, ok := m.ColumnToIndex[column]
	return index, ok
}

type TargetType int

const (
	Continuous TargetType = iota
	Categorical
)

type Metadata struct {
	Columns []string

	// ContinuousFeaturesMap maps a data row column index to a dense input
	// vector index.
	ContinuousFeaturesMap ColumnMap

	// CategoricalFeaturesMap maps a data row column index to a categorical
	// feature slot.
	CategoricalFeaturesMap ColumnMap

	// CategoricalValuesMap maps "column=value" keys to embedding indices,
	// shared across all categorical columns.
	CategoricalValuesMap NameMap

	// TargetColumn is the index of the prediction target in the data row.
	TargetColumn int

	CategoricalTarget bool

	// TargetMap maps target category names to class indices; unused for
	// continuous targets.
	TargetMap NameMap

	// CategoricalEmbeddingSize is the size of each categorical feature
	// embedding vector.
	CategoricalEmbeddingSize int
}

func NewMetadata() *Metadata {
	return &Metadata{
		ContinuousFeaturesMap:  NewColumnMap(),
		CategoricalFeaturesMap: NewColumnMap(),
		CategoricalValuesMap:   NewNameMap(),
		TargetMap:              NewNameMap(),
	}
}

// FeatureCount is the width of the dense input vector the network sees:
// the continuous features plus one embedding per categorical feature.
func (d *Metadata) FeatureCount() int {
	return d.ContinuousFeaturesMap.Size() + d.CategoricalFeaturesMap.Size()*d.CategoricalEmbeddingSize
}

func (d *Metadata) TargetType() TargetType {
	if d.CategoricalTarget {
		return Categorical
	}
	return Continuous
}

// OutputDimension is the width of the network output required by the target:
// one logit per class, or a single regression value.
func (d *Metadata) OutputDimension() int {
	if d.CategoricalTarget {
		return d.TargetMap.Size()
	}
	return 1
}

func (d *Metadata) ParseOrAddCategoricalTarget(value string) float64 {
	return float64(d.TargetMap.ValueFor(value))
}

func (d *Metadata) ParseCategoricalTarget(value string) (float64, bool) {
	target, ok := d.TargetMap.ContainsName(value)
	return float64(target), ok
}
