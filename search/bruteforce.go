// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package search

import (
	"context"
	"math"
	"sort"

	"github.com/gorse-io/bandmate/common/heap"
	"github.com/gorse-io/bandmate/common/parallel"
	"github.com/gorse-io/bandmate/common/util"
	"github.com/gorse-io/bandmate/dataset"
	"github.com/juju/errors"
)

// Bruteforce compares a query with every row of the matrix using cosine distance.
type Bruteforce struct {
	numJobs int
	matrix  *dataset.Matrix
	norms   []float64
	chunks  [][]int
}

// NewBruteforce creates an exhaustive index. Distances are computed by numJobs goroutines.
func NewBruteforce(numJobs int) *Bruteforce {
	return &Bruteforce{numJobs: max(numJobs, 1)}
}

func (b *Bruteforce) Fit(matrix *dataset.Matrix) error {
	if matrix == nil {
		return errors.NotValidf("nil matrix")
	}
	norms := make([]float64, matrix.Rows())
	chunks := parallel.Split(util.RangeInt(matrix.Rows()), b.numJobs)
	if err := parallel.For(context.Background(), len(chunks), b.numJobs, func(jobId int) {
		for _, i := range chunks[jobId] {
			norms[i] = matrix.Row(i).Norm()
		}
	}); err != nil {
		return errors.Trace(err)
	}
	b.matrix, b.norms, b.chunks = matrix, norms, chunks
	return nil
}

func (b *Bruteforce) Query(vector dataset.Vector, k int) ([]Neighbor, error) {
	if b.matrix == nil {
		return nil, errors.Trace(ErrNotFitted)
	}
	if vector.Dim != b.matrix.Cols() {
		return nil, &DimensionMismatchError{Expected: b.matrix.Cols(), Actual: vector.Dim}
	}
	if len(vector.Indices) != len(vector.Values) {
		return nil, errors.NotValidf("vector with %d indices and %d values", len(vector.Indices), len(vector.Values))
	}
	if k <= 0 || b.matrix.Rows() == 0 {
		return []Neighbor{}, nil
	}

	// scatter the query into a dense buffer
	dense := make([]float64, vector.Dim)
	for i, col := range vector.Indices {
		if col < 0 || int(col) >= vector.Dim {
			return nil, errors.NotValidf("column %d of vector with dimension %d", col, vector.Dim)
		}
		value := float64(vector.Values[i])
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, errors.NotValidf("value %v at column %d", value, col)
		}
		dense[col] = value
	}
	queryNorm := vector.Norm()

	distances := make([]float64, b.matrix.Rows())
	if err := parallel.For(context.Background(), len(b.chunks), b.numJobs, func(jobId int) {
		for _, i := range b.chunks[jobId] {
			distances[i] = b.distance(dense, queryNorm, i)
		}
	}); err != nil {
		return nil, errors.Trace(err)
	}

	// the k-th smallest distance splits rows into certain and tied candidates
	filter := heap.NewTopKFilter[int, float64](k)
	for i, distance := range distances {
		filter.Push(i, -distance)
	}
	elems := filter.PopAll()
	threshold := -elems[len(elems)-1].Weight
	neighbors := make([]Neighbor, 0, len(elems))
	for i, distance := range distances {
		if distance < threshold {
			neighbors = append(neighbors, Neighbor{Index: i, Distance: distance})
		}
	}
	for i, distance := range distances {
		if len(neighbors) >= len(elems) {
			break
		}
		if distance == threshold {
			neighbors = append(neighbors, Neighbor{Index: i, Distance: distance})
		}
	}
	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].Index < neighbors[j].Index
	})
	return neighbors, nil
}

// distance between the dense query and row i. A zero vector on either side is
// at distance 1.
func (b *Bruteforce) distance(dense []float64, queryNorm float64, i int) float64 {
	if queryNorm == 0 || b.norms[i] == 0 {
		return 1
	}
	row := b.matrix.Row(i)
	var dot float64
	for j, col := range row.Indices {
		dot += float64(row.Values[j]) * dense[col]
	}
	distance := 1 - dot/(queryNorm*b.norms[i])
	return min(max(distance, 0), 2)
}
