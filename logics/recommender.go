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
	"github.com/gorse-io/bandmate/base/log"
	"github.com/gorse-io/bandmate/dataset"
	"github.com/gorse-io/bandmate/search"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Recommender answers recommendation queries by user id. It is safe for
// concurrent use.
type Recommender struct {
	dataset *dataset.Dataset
	scorer  *Scorer
}

// NewRecommender fits index on the interaction matrix of data.
func NewRecommender(data *dataset.Dataset, index search.Index, numNeighbors int) (*Recommender, error) {
	if err := index.Fit(data.Matrix); err != nil {
		return nil, errors.Trace(err)
	}
	return &Recommender{
		dataset: data,
		scorer:  NewScorer(data.Matrix, index, data.Artists, numNeighbors),
	}, nil
}

func (r *Recommender) Dataset() *dataset.Dataset {
	return r.dataset
}

// Recommend returns up to n artists for a user. Unknown users get an empty list.
func (r *Recommender) Recommend(userId string, n int) ([]Score, error) {
	row, ok := r.dataset.Users.Index(userId)
	if !ok {
		log.Logger().Warn("user not found", zap.String("user_id", userId))
		return []Score{}, nil
	}
	scores, err := r.scorer.Recommend(int(row), n)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return scores, nil
}

// KnownArtists returns the artists a user listened to, ordered by index.
func (r *Recommender) KnownArtists(userId string) ([]string, error) {
	row, ok := r.dataset.Users.Index(userId)
	if !ok {
		return nil, errors.Trace(ErrUnknownUser)
	}
	vector := r.dataset.Matrix.Row(int(row))
	artists := make([]string, 0, len(vector.Indices))
	for _, col := range vector.Indices {
		if id, ok := r.dataset.Artists.Id(col); ok {
			artists = append(artists, id)
		}
	}
	return artists, nil
}
