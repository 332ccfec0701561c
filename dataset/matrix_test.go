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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMatrix(t *testing.T) {
	// [[5 3 0]
	//  [4 0 2]
	//  [0 1 0]]
	m, err := NewMatrix(3, 3, []int64{0, 2, 4, 5}, []int32{0, 1, 0, 2, 1}, []float32{5, 3, 4, 2, 1})
	assert.NoError(t, err)
	assert.Equal(t, 3, m.Rows())
	assert.Equal(t, 3, m.Cols())
	assert.Equal(t, 5, m.NNZ())
	assert.Equal(t, float32(5), m.Get(0, 0))
	assert.Equal(t, float32(0), m.Get(0, 2))
	assert.Equal(t, float32(2), m.Get(1, 2))
	assert.Equal(t, float32(1), m.Get(2, 1))
	assert.Equal(t, Vector{Dim: 3, Indices: []int32{0, 2}, Values: []float32{4, 2}}, m.Row(1))
	assert.InDelta(t, 5.0, Vector{Indices: []int32{0, 1}, Values: []float32{3, 4}}.Norm(), 1e-9)

	// empty rows
	m, err = NewMatrix(2, 1, []int64{0, 0, 0}, []int32{}, []float32{})
	assert.NoError(t, err)
	assert.Empty(t, m.Row(0).Indices)
	assert.Zero(t, m.Row(1).Norm())
}

func TestNewMatrixInvalid(t *testing.T) {
	_, err := NewMatrix(2, 2, []int64{0, 1}, []int32{0}, []float32{1})
	assert.Error(t, err)
	_, err = NewMatrix(1, 2, []int64{0, 2}, []int32{1, 0}, []float32{1, 1})
	assert.Error(t, err)
	_, err = NewMatrix(1, 2, []int64{0, 1}, []int32{2}, []float32{1})
	assert.Error(t, err)
	_, err = NewMatrix(1, 2, []int64{0, 2}, []int32{0, 1}, []float32{1})
	assert.Error(t, err)
	_, err = NewMatrix(2, 2, []int64{0, 2, 1}, []int32{0, 1}, []float32{1, 1})
	assert.Error(t, err)
}
