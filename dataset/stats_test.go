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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeWeightStats(t *testing.T) {
	records := []Interaction{
		{"1", "a", 5}, {"1", "b", 1}, {"2", "a", 3}, {"2", "c", 2}, {"3", "b", 4},
		{"3", "c", math.NaN()},
	}
	stats, err := ComputeWeightStats(records)
	assert.NoError(t, err)
	assert.Equal(t, 5, stats.Count)
	assert.InDelta(t, 3.0, stats.Mean, 1e-9)
	assert.InDelta(t, math.Sqrt(2.5), stats.StdDev, 1e-9)
	assert.Equal(t, 1.0, stats.Min)
	assert.Equal(t, 2.0, stats.Q1)
	assert.Equal(t, 3.0, stats.Median)
	assert.Equal(t, 4.0, stats.Q3)
	assert.Equal(t, 5.0, stats.Max)
	assert.Equal(t, int64(3), stats.SuggestedWeight())

	stats, err = ComputeWeightStats([]Interaction{{"1", "a", 1}, {"1", "b", 2}, {"1", "c", 3}, {"1", "d", 4}})
	assert.NoError(t, err)
	assert.Equal(t, 1.75, stats.Q1)
	assert.Equal(t, 2.5, stats.Median)
	assert.Equal(t, int64(2), stats.SuggestedWeight())

	stats, err = ComputeWeightStats([]Interaction{{"1", "a", 7}})
	assert.NoError(t, err)
	assert.Zero(t, stats.StdDev)
	assert.Equal(t, 7.0, stats.Median)

	_, err = ComputeWeightStats(nil)
	assert.ErrorIs(t, err, ErrEmptyDataset)
}
