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
	"fmt"
	"math"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/bandmate/base/log"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ErrEmptyDataset is returned when no usable interaction record remains.
var ErrEmptyDataset = errors.New("no usable interaction records")

// Interaction is the listening weight of a user for an artist.
type Interaction struct {
	UserId   string
	ArtistId string
	Weight   float64
}

// SchemaError reports a record or a source that lacks a required field.
type SchemaError struct {
	Record int
	Field  string
}

func (e *SchemaError) Error() string {
	if e.Record < 0 {
		return fmt.Sprintf("missing required column %q", e.Field)
	}
	return fmt.Sprintf("record %d: missing required field %q", e.Record, e.Field)
}

// Dataset is the trained user–artist state: the interaction matrix and both
// identifier mappings. It is immutable once built.
type Dataset struct {
	Matrix  *Matrix
	Users   *Dict
	Artists *Dict
}

// NewDataset assembles a dataset from its parts and checks they agree on shape.
func NewDataset(matrix *Matrix, users, artists *Dict) (*Dataset, error) {
	if matrix.Rows() != users.Count() {
		return nil, errors.NotValidf("%d matrix rows for %d users", matrix.Rows(), users.Count())
	}
	if matrix.Cols() != artists.Count() {
		return nil, errors.NotValidf("%d matrix columns for %d artists", matrix.Cols(), artists.Count())
	}
	return &Dataset{Matrix: matrix, Users: users, Artists: artists}, nil
}

// Build turns raw interaction records into a dataset.
//
// Records are ordered by descending weight (ties keep input order) and only the
// first record of every (user, artist) pair survives, so each pair keeps its
// maximum weight. Users and artists are indexed in order of first appearance in
// that stream. Zero-weight records are indexed but store no cell. Records with
// a NaN, negative or out of float32 range weight are skipped.
func Build(records []Interaction) (*Dataset, error) {
	valid := make([]Interaction, 0, len(records))
	skipped := 0
	for i, record := range records {
		if record.UserId == "" {
			return nil, &SchemaError{Record: i, Field: "userID"}
		}
		if record.ArtistId == "" {
			return nil, &SchemaError{Record: i, Field: "artistID"}
		}
		if math.IsNaN(record.Weight) || math.IsInf(record.Weight, 0) || record.Weight < 0 || record.Weight > math.MaxFloat32 {
			skipped++
			log.Logger().Debug("skip interaction with invalid weight",
				zap.Int("record", i),
				zap.String("user_id", record.UserId),
				zap.String("artist_id", record.ArtistId),
				zap.Float64("weight", record.Weight))
			continue
		}
		valid = append(valid, record)
	}
	if skipped > 0 {
		log.Logger().Warn("skipped interactions with invalid weights", zap.Int("n_skipped", skipped))
	}
	if len(valid) == 0 {
		return nil, errors.Trace(ErrEmptyDataset)
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Weight > valid[j].Weight
	})

	users, artists := NewDict(), NewDict()
	seen := mapset.NewThreadUnsafeSet[lo.Tuple2[string, string]]()
	type cell struct {
		col   int32
		value float32
	}
	var rows [][]cell
	nnz := 0
	for _, record := range valid {
		if !seen.Add(lo.Tuple2[string, string]{A: record.UserId, B: record.ArtistId}) {
			continue
		}
		row := users.Add(record.UserId)
		col := artists.Add(record.ArtistId)
		if int(row) == len(rows) {
			rows = append(rows, nil)
		}
		value := float32(record.Weight)
		if value == 0 {
			continue
		}
		rows[row] = append(rows[row], cell{col: col, value: value})
		nnz++
	}

	indptr := make([]int64, len(rows)+1)
	indices := make([]int32, 0, nnz)
	values := make([]float32, 0, nnz)
	for i, cells := range rows {
		sort.Slice(cells, func(a, b int) bool {
			return cells[a].col < cells[b].col
		})
		for _, c := range cells {
			indices = append(indices, c.col)
			values = append(values, c.value)
		}
		indptr[i+1] = int64(len(indices))
	}
	matrix, err := NewMatrix(users.Count(), artists.Count(), indptr, indices, values)
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("build interaction matrix",
		zap.Int("n_records", len(records)),
		zap.Int("n_users", users.Count()),
		zap.Int("n_artists", artists.Count()),
		zap.Int("n_interactions", matrix.NNZ()))
	return &Dataset{Matrix: matrix, Users: users, Artists: artists}, nil
}
