package io

import (
	"math/rand"
)

// DataSet holds parsed records and serves them in batches. The iteration
// order is controlled by ResetOrder; Rand must be set before requesting a
// random order or a random split.
type DataSet struct {
	Records   []*DataRecord
	BatchSize int
	Rand      *rand.Rand

	indices      []int
	currentOrder []int
	cursor       int
}

type DatasetOrder int

const (
	OriginalOrder DatasetOrder = iota
	RandomOrder
)

func NewDataSet(records []*DataRecord, batchSize int) *DataSet {
	indices := make([]int, len(records))
	for i := range indices {
		indices[i] = i
	}
	d := &DataSet{Records: records, BatchSize: batchSize, indices: indices}
	d.ResetOrder(OriginalOrder)
	return d
}

func newDataSetView(records []*DataRecord, batchSize int, indices []int) *DataSet {
	d := &DataSet{Records: records, BatchSize: batchSize, indices: indices}
	d.ResetOrder(OriginalOrder)
	return d
}

// ResetOrder rewinds the cursor and fixes the iteration order for the next
// pass over the data.
func (d *DataSet) ResetOrder(order DatasetOrder) {
	if d.currentOrder == nil {
		d.currentOrder = make([]int, len(d.indices))
	}
	switch order {
	case OriginalOrder:
		copy(d.currentOrder, d.indices)
	case RandomOrder:
		for i, j := range d.Rand.Perm(len(d.indices)) {
			d.currentOrder[i] = d.indices[j]
		}
	}
	d.cursor = 0
}

// Next returns the next batch in the current order, or an empty batch once
// the pass is complete.
func (d *DataSet) Next() DataBatch {
	batch := make(DataBatch, 0, d.BatchSize)
	for ; d.cursor < len(d.currentOrder) && len(batch) < d.BatchSize; d.cursor++ {
		batch = append(batch, d.Records[d.currentOrder[d.cursor]])
	}
	return batch
}

func (d *DataSet) Size() int {
	return len(d.indices)
}

// RandomSplit partitions the data set into disjoint views of the given sizes,
// sampled without replacement. The underlying records are shared.
func (d *DataSet) RandomSplit(sizes ...int) []*DataSet {
	shuffled := make([]int, len(d.indices))
	copy(shuffled, d.indices)
	d.Rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	splits := make([]*DataSet, len(sizes))
	offset := 0
	for i, size := range sizes {
		view := make([]int, size)
		copy(view, shuffled[offset:offset+size])
		offset += size
		splits[i] = newDataSetView(d.Records, d.BatchSize, view)
	}
	return splits
}
