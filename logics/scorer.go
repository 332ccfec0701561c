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

package logics

import (
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/bandmate/base/log"
	"github.com/gorse-io/bandmate/dataset"
	"github.com/gorse-io/bandmate/search"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ErrUnknownUser is returned for a target row outside the matrix.
var ErrUnknownUser = errors.NotFoundf("user")

// Score is a recommended artist. Scores are only comparable within one result.
type Score struct {
	ArtistId string  `json:"artistID"`
	Score    float64 `json:"score"`
}

// Scorer aggregates the listening of a user's nearest neighbors into ranked
// artist recommendations.
type Scorer struct {
	matrix       *dataset.Matrix
	index        search.Index
	artists      *dataset.Dict
	numNeighbors int
}

// NewScorer creates a scorer. The index must be fitted on matrix.
func NewScorer(matrix *dataset.Matrix, index search.Index, artists *dataset.Dict, numNeighbors int) *Scorer {
	return &Scorer{
		matrix:       matrix,
		index:        index,
		artists:      artists,
		numNeighbors: numNeighbors,
	}
}

type candidate struct {
	col   int32
	score float64
}

// Recommend returns at most n artists the target row has not listened to.
//
// Each of the numNeighbors nearest rows contributes (1 - distance) times its
// own weight to every artist it listened to. Artists are ranked by descending
// score; equal scores keep the order in which artists were first reached.
func (s *Scorer) Recommend(target, n int) ([]Score, error) {
	if target < 0 || target >= s.matrix.Rows() {
		return nil, errors.Trace(ErrUnknownUser)
	}
	if n <= 0 {
		return []Score{}, nil
	}
	row := s.matrix.Row(target)
	neighbors, err := s.index.Query(row, s.numNeighbors+1)
	if err != nil {
		return nil, errors.Trace(err)
	}
	// the target is usually its own nearest neighbor but not necessarily the first one
	neighbors = lo.Filter(neighbors, func(neighbor search.Neighbor, _ int) bool {
		return neighbor.Index != target
	})
	if len(neighbors) == 0 {
		return []Score{}, nil
	}

	known := bitset.New(uint(s.matrix.Cols()))
	for _, col := range row.Indices {
		known.Set(uint(col))
	}
	positions := make(map[int32]int)
	var candidates []candidate
	for _, neighbor := range neighbors {
		similarity := min(max(1-neighbor.Distance, 0), 1)
		neighborRow := s.matrix.Row(neighbor.Index)
		for j, col := range neighborRow.Indices {
			if known.Test(uint(col)) {
				continue
			}
			pos, exist := positions[col]
			if !exist {
				pos = len(candidates)
				positions[col] = pos
				candidates = append(candidates, candidate{col: col})
			}
			candidates[pos].score += similarity * float64(neighborRow.Values[j])
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	scores := make([]Score, 0, min(n, len(candidates)))
	for _, c := range candidates {
		if len(scores) >= n {
			break
		}
		artistId, ok := s.artists.Id(c.col)
		if !ok {
			log.Logger().Warn("drop candidate without artist id", zap.Int32("column", c.col))
			continue
		}
		scores = append(scores, Score{ArtistId: artistId, Score: c.score})
	}
	return scores, nil
}
