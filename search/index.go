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

// Package search finds the rows of an interaction matrix closest to a query vector.
package search

import (
	"fmt"

	"github.com/gorse-io/bandmate/dataset"
	"github.com/juju/errors"
)

// ErrNotFitted is returned by queries issued before Fit.
var ErrNotFitted = errors.New("index is not fitted")

// DimensionMismatchError reports a query whose width differs from the fitted matrix.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: %v != %v", e.Expected, e.Actual)
}

// Neighbor is a matrix row and its cosine distance to the query.
type Neighbor struct {
	Index    int
	Distance float64
}

// Index answers k-nearest-neighbor queries over the rows of a matrix. A fitted
// index is safe for concurrent queries.
type Index interface {
	// Fit indexes every row of matrix. The matrix must not be modified afterwards.
	Fit(matrix *dataset.Matrix) error
	// Query returns the min(k, rows) rows closest to vector, ordered by ascending
	// distance and then by ascending row index. The query row itself is not excluded.
	Query(vector dataset.Vector, k int) ([]Neighbor, error)
}
