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
	"sort"

	"github.com/juju/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// WeightStats summarizes interaction weights.
type WeightStats struct {
	Count  int
	Mean   float64
	StdDev float64
	Min    float64
	Q1     float64
	Median float64
	Q3     float64
	Max    float64
}

// SuggestedWeight is the weight assigned to artists picked by a new listener:
// the integer part of the median.
func (s WeightStats) SuggestedWeight() int64 {
	return int64(s.Median)
}

// ComputeWeightStats summarizes the valid weights of records. Quantiles use
// linear interpolation between closest ranks.
func ComputeWeightStats(records []Interaction) (WeightStats, error) {
	weights := lo.FilterMap(records, func(record Interaction, _ int) (float64, bool) {
		valid := !math.IsNaN(record.Weight) && !math.IsInf(record.Weight, 0) && record.Weight >= 0
		return record.Weight, valid
	})
	if len(weights) == 0 {
		return WeightStats{}, errors.Trace(ErrEmptyDataset)
	}
	sort.Float64s(weights)
	mean, std := stat.MeanStdDev(weights, nil)
	if len(weights) == 1 {
		std = 0
	}
	return WeightStats{
		Count:  len(weights),
		Mean:   mean,
		StdDev: std,
		Min:    floats.Min(weights),
		Q1:     quantile(0.25, weights),
		Median: quantile(0.5, weights),
		Q3:     quantile(0.75, weights),
		Max:    floats.Max(weights),
	}, nil
}

// quantile of sorted x at p, interpolating at rank (n-1)p.
func quantile(p float64, x []float64) float64 {
	rank := p * float64(len(x)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	frac := rank - float64(lower)
	return x[lower] + frac*(x[upper]-x[lower])
}
