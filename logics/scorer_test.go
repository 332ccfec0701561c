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
	"math/rand"
	"strconv"
	"testing"

	"github.com/gorse-io/bandmate/dataset"
	"github.com/gorse-io/bandmate/search"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

// fixedIndex returns the same neighbors for every query.
type fixedIndex struct {
	neighbors []search.Neighbor
	queried   int
}

func (f *fixedIndex) Fit(*dataset.Matrix) error {
	return nil
}

func (f *fixedIndex) Query(_ dataset.Vector, k int) ([]search.Neighbor, error) {
	f.queried = k
	return f.neighbors[:min(k, len(f.neighbors))], nil
}

type ScorerTestSuite struct {
	suite.Suite
	data *dataset.Dataset
}

func (suite *ScorerTestSuite) SetupTest() {
	var err error
	suite.data, err = dataset.Build([]dataset.Interaction{
		{UserId: "A", ArtistId: "a1", Weight: 5},
		{UserId: "A", ArtistId: "a2", Weight: 3},
		{UserId: "B", ArtistId: "a1", Weight: 4},
		{UserId: "B", ArtistId: "a3", Weight: 2},
		{UserId: "C", ArtistId: "a2", Weight: 1},
	})
	suite.NoError(err)
}

func (suite *ScorerTestSuite) scorer(numNeighbors int, neighbors ...search.Neighbor) (*Scorer, *fixedIndex) {
	index := &fixedIndex{neighbors: neighbors}
	return NewScorer(suite.data.Matrix, index, suite.data.Artists, numNeighbors), index
}

func (suite *ScorerTestSuite) TestRecommend() {
	scorer, index := suite.scorer(2,
		search.Neighbor{Index: 0, Distance: 0},
		search.Neighbor{Index: 1, Distance: 0.3},
		search.Neighbor{Index: 2, Distance: 0.8})
	scores, err := scorer.Recommend(0, 10)
	suite.NoError(err)
	suite.Equal(3, index.queried)
	suite.Len(scores, 1)
	suite.Equal("a3", scores[0].ArtistId)
	suite.InDelta(1.4, scores[0].Score, 1e-9)
}

func (suite *ScorerTestSuite) TestSelfNotFirst() {
	// another row ties with the target at distance 0 and is listed first
	scorer, _ := suite.scorer(2,
		search.Neighbor{Index: 2, Distance: 0},
		search.Neighbor{Index: 1, Distance: 0},
		search.Neighbor{Index: 0, Distance: 0})
	scores, err := scorer.Recommend(1, 10)
	suite.NoError(err)
	// C contributes a2 = 1, A contributes a2 = 3
	suite.Equal([]Score{{ArtistId: "a2", Score: 4}}, scores)
}

func (suite *ScorerTestSuite) TestSelfAbsent() {
	scorer, _ := suite.scorer(1,
		search.Neighbor{Index: 1, Distance: 0.5},
		search.Neighbor{Index: 2, Distance: 0.5})
	scores, err := scorer.Recommend(0, 10)
	suite.NoError(err)
	suite.Equal([]Score{{ArtistId: "a3", Score: 1}}, scores)
}

func (suite *ScorerTestSuite) TestNoNeighbors() {
	scorer, _ := suite.scorer(2, search.Neighbor{Index: 2, Distance: 0})
	scores, err := scorer.Recommend(2, 10)
	suite.NoError(err)
	suite.NotNil(scores)
	suite.Empty(scores)
}

func (suite *ScorerTestSuite) TestNoCandidates() {
	// C only listened to a2 which A already knows
	scorer, _ := suite.scorer(2,
		search.Neighbor{Index: 0, Distance: 0},
		search.Neighbor{Index: 2, Distance: 0.1})
	scores, err := scorer.Recommend(0, 10)
	suite.NoError(err)
	suite.NotNil(scores)
	suite.Empty(scores)
}

func (suite *ScorerTestSuite) TestZeroSimilarity() {
	scorer, _ := suite.scorer(2,
		search.Neighbor{Index: 2, Distance: 0},
		search.Neighbor{Index: 0, Distance: 1},
		search.Neighbor{Index: 1, Distance: 1.4})
	scores, err := scorer.Recommend(2, 10)
	suite.NoError(err)
	suite.Equal([]Score{{ArtistId: "a1", Score: 0}, {ArtistId: "a3", Score: 0}}, scores)
}

func (suite *ScorerTestSuite) TestTruncate() {
	scorer, _ := suite.scorer(2,
		search.Neighbor{Index: 2, Distance: 0},
		search.Neighbor{Index: 1, Distance: 0.5},
		search.Neighbor{Index: 0, Distance: 0.5})
	// B gives a1 = 2, a3 = 1; A gives a1 = 2.5
	scores, err := scorer.Recommend(2, 10)
	suite.NoError(err)
	suite.Equal([]string{"a1", "a3"}, artistIds(scores))
	suite.InDelta(4.5, scores[0].Score, 1e-9)
	suite.InDelta(1.0, scores[1].Score, 1e-9)

	scores, err = scorer.Recommend(2, 1)
	suite.NoError(err)
	suite.Equal([]string{"a1"}, artistIds(scores))

	scores, err = scorer.Recommend(2, 0)
	suite.NoError(err)
	suite.Empty(scores)
	scores, err = scorer.Recommend(2, -3)
	suite.NoError(err)
	suite.Empty(scores)
}

func (suite *ScorerTestSuite) TestTies() {
	data, err := dataset.Build([]dataset.Interaction{
		{UserId: "u0", ArtistId: "x", Weight: 9},
		{UserId: "u1", ArtistId: "z", Weight: 2},
		{UserId: "u1", ArtistId: "y", Weight: 2},
		{UserId: "u2", ArtistId: "w", Weight: 2},
	})
	suite.NoError(err)
	// columns: x=0, z=1, y=2, w=3
	index := &fixedIndex{neighbors: []search.Neighbor{
		{Index: 0, Distance: 0},
		{Index: 2, Distance: 0},
		{Index: 1, Distance: 0},
	}}
	scorer := NewScorer(data.Matrix, index, data.Artists, 2)
	scores, err := scorer.Recommend(0, 10)
	suite.NoError(err)
	// w is reached first through u2; z precedes y by column order inside u1
	suite.Equal([]string{"w", "z", "y"}, artistIds(scores))
}

func (suite *ScorerTestSuite) TestUnresolvedArtist() {
	artists, err := dataset.NewDictFromIds([]string{"a1", "a2"})
	suite.NoError(err)
	index := &fixedIndex{neighbors: []search.Neighbor{{Index: 0, Distance: 0}, {Index: 1, Distance: 0.5}}}
	scorer := NewScorer(suite.data.Matrix, index, artists, 1)
	scores, err := scorer.Recommend(0, 10)
	suite.NoError(err)
	suite.Empty(scores)
}

func (suite *ScorerTestSuite) TestUnknownTarget() {
	scorer, _ := suite.scorer(2)
	_, err := scorer.Recommend(3, 10)
	suite.True(errors.Is(err, ErrUnknownUser))
	_, err = scorer.Recommend(-1, 10)
	suite.True(errors.Is(err, ErrUnknownUser))
}

func TestScorer(t *testing.T) {
	suite.Run(t, new(ScorerTestSuite))
}

func TestRecommender(t *testing.T) {
	data, err := dataset.Build([]dataset.Interaction{
		{UserId: "A", ArtistId: "a1", Weight: 5},
		{UserId: "A", ArtistId: "a2", Weight: 3},
		{UserId: "B", ArtistId: "a1", Weight: 4},
		{UserId: "B", ArtistId: "a3", Weight: 2},
		{UserId: "C", ArtistId: "a2", Weight: 1},
	})
	assert.NoError(t, err)
	recommender, err := NewRecommender(data, search.NewBruteforce(2), 25)
	assert.NoError(t, err)

	scores, err := recommender.Recommend("A", 10)
	assert.NoError(t, err)
	assert.Equal(t, []string{"a3"}, artistIds(scores))
	similarity := 20 / (5.830951894845301 * 4.47213595499958)
	assert.InDelta(t, similarity*2, scores[0].Score, 1e-6)

	scores, err = recommender.Recommend("unknown", 10)
	assert.NoError(t, err)
	assert.NotNil(t, scores)
	assert.Empty(t, scores)

	known, err := recommender.KnownArtists("B")
	assert.NoError(t, err)
	assert.Equal(t, []string{"a1", "a3"}, known)
	_, err = recommender.KnownArtists("unknown")
	assert.True(t, errors.Is(err, ErrUnknownUser))
	assert.Same(t, data, recommender.Dataset())
}

func TestRecommenderZeroRow(t *testing.T) {
	data, err := dataset.Build([]dataset.Interaction{
		{UserId: "A", ArtistId: "a1", Weight: 5},
		{UserId: "B", ArtistId: "a2", Weight: 1},
		{UserId: "Z", ArtistId: "a3", Weight: 0},
	})
	assert.NoError(t, err)
	recommender, err := NewRecommender(data, search.NewBruteforce(1), 25)
	assert.NoError(t, err)
	// every distance from an empty row is 1, so every candidate scores 0
	scores, err := recommender.Recommend("Z", 10)
	assert.NoError(t, err)
	assert.Equal(t, []Score{{ArtistId: "a1", Score: 0}, {ArtistId: "a2", Score: 0}}, scores)
}

func TestRecommenderProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var records []dataset.Interaction
	for i := 0; i < 200; i++ {
		records = append(records, dataset.Interaction{
			UserId:   strconv.Itoa(rng.Intn(40)),
			ArtistId: strconv.Itoa(rng.Intn(60)),
			Weight:   float64(rng.Intn(1000)),
		})
	}
	data, err := dataset.Build(records)
	assert.NoError(t, err)
	recommender, err := NewRecommender(data, search.NewBruteforce(4), 5)
	assert.NoError(t, err)
	for _, userId := range data.Users.Ids() {
		known, err := recommender.KnownArtists(userId)
		assert.NoError(t, err)
		for _, n := range []int{1, 3, 10, 100} {
			scores, err := recommender.Recommend(userId, n)
			assert.NoError(t, err)
			assert.LessOrEqual(t, len(scores), n)
			for i, score := range scores {
				assert.NotContains(t, known, score.ArtistId)
				assert.GreaterOrEqual(t, score.Score, 0.0)
				if i > 0 {
					assert.GreaterOrEqual(t, scores[i-1].Score, score.Score)
				}
			}
			again, err := recommender.Recommend(userId, n)
			assert.NoError(t, err)
			assert.Equal(t, scores, again)
		}
	}
}

func artistIds(scores []Score) []string {
	ids := make([]string, len(scores))
	for i, score := range scores {
		ids[i] = score.ArtistId
	}
	return ids
}
