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

package dataset

import (
	"math"

	"github.com/juju/errors"
)

// Vector is a sparse vector. Indices are strictly increasing.
type Vector struct {
	Dim     int
	Indices []int32
	Values  []float32
}

// Norm returns the Euclidean norm.
func (v Vector) Norm() float64 {
	var sum float64
	for _, value := range v.Values {
		sum += float64(value) * float64(value)
	}
	return math.Sqrt(sum)
}

// Matrix is a read-only users × artists matrix in compressed sparse row format.
// Column indices inside a row are strictly increasing and stored values are non-zero.
type Matrix struct {
	rows    int
	cols    int
	indptr  []int64
	indices []int32
	values  []float32
}

// NewMatrix wraps CSR arrays after checking that they describe a valid matrix.
func NewMatrix(rows, cols int, indptr []int64, indices []int32, values []float32) (*Matrix, error) {
	if rows < 0 || cols < 0 {
		return nil, errors.NotValidf("matrix shape %dx%d", rows, cols)
	}
	if len(indptr) != rows+1 || indptr[0] != 0 {
		return nil, errors.NotValidf("indptr of length %d for %d rows", len(indptr), rows)
	}
	if len(indices) != len(values) || int64(len(indices)) != indptr[rows] {
		return nil, errors.NotValidf("%d indices and %d values for %d non-zeros", len(indices), len(values), indptr[rows])
	}
	for i := 0; i < rows; i++ {
		begin, end := indptr[i], indptr[i+1]
		if begin > end {
			return nil, errors.NotValidf("indptr decreases at row %d", i)
		}
		for j := begin; j < end; j++ {
			if indices[j] < 0 || int(indices[j]) >= cols {
				return nil, errors.NotValidf("column %d out of range in row %d", indices[j], i)
			}
			if j > begin && indices[j] <= indices[j-1] {
				return nil, errors.NotValidf("columns of row %d are not increasing", i)
			}
		}
	}
	return &Matrix{
		rows:    rows,
		cols:    cols,
		indptr:  indptr,
		indices: indices,
		values:  values,
	}, nil
}

func (m *Matrix) Rows() int {
	return m.rows
}

func (m *Matrix) Cols() int {
	return m.cols
}

// NNZ returns the number of stored cells.
func (m *Matrix) NNZ() int {
	return len(m.values)
}

// Row returns a view of row i. The returned slices must not be modified.
func (m *Matrix) Row(i int) Vector {
	begin, end := m.indptr[i], m.indptr[i+1]
	return Vector{
		Dim:     m.cols,
		Indices: m.indices[begin:end],
		Values:  m.values[begin:end],
	}
}

// Get returns the value at (i, j), or 0 if the cell is absent.
func (m *Matrix) Get(i, j int) float32 {
	row := m.Row(i)
	lo, hi := 0, len(row.Indices)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case int(row.Indices[mid]) == j:
			return row.Values[mid]
		case int(row.Indices[mid]) < j:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0
}

// CSR exposes the underlying arrays for serialization.
func (m *Matrix) CSR() (indptr []int64, indices []int32, values []float32) {
	return m.indptr, m.indices, m.values
}
