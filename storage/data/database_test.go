// Copyright 2021 gorse Project Authors
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

package data

import (
	"context"

	"github.com/gorse-io/bandmate/config"
	"github.com/gorse-io/bandmate/dataset"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

var (
	testInteractions = []dataset.Interaction{
		{UserId: "2", ArtistId: "51", Weight: 13883},
		{UserId: "2", ArtistId: "52", Weight: 11690},
		{UserId: "3", ArtistId: "51", Weight: 0},
		{UserId: "4", ArtistId: "53", Weight: 228},
		{UserId: "4", ArtistId: "51", Weight: 1},
	}
	testArtists = []Artist{
		{Id: "51", Name: "Duran Duran"},
		{Id: "52", Name: "Morcheeba"},
		{Id: "53", Name: "Air"},
	}
)

func testDatabaseConfig() config.DatabaseConfig {
	return config.GetDefaultConfig().Database
}

type baseTestSuite struct {
	suite.Suite
	Source
	// seed restores the fixture before every test.
	seed func()
}

func (suite *baseTestSuite) SetupTest() {
	if suite.seed != nil {
		suite.seed()
	}
}

func (suite *baseTestSuite) TearDownSuite() {
	if suite.Source != nil {
		suite.NoError(suite.Source.Close())
	}
}

func (suite *baseTestSuite) readAll(batchSize int) ([]dataset.Interaction, []int) {
	var (
		interactions []dataset.Interaction
		sizes        []int
	)
	interactionChan, errChan := suite.GetInteractionStream(context.Background(), batchSize)
	for batch := range interactionChan {
		interactions = append(interactions, batch...)
		sizes = append(sizes, len(batch))
	}
	suite.NoError(<-errChan)
	return interactions, sizes
}

func (suite *baseTestSuite) TestInteractionStream() {
	interactions, sizes := suite.readAll(2)
	suite.ElementsMatch(testInteractions, interactions)
	suite.Equal([]int{2, 2, 1}, sizes)

	interactions, sizes = suite.readAll(100)
	suite.ElementsMatch(testInteractions, interactions)
	suite.Equal([]int{5}, sizes)
}

func (suite *baseTestSuite) TestInteractionStreamCancel() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	interactionChan, errChan := suite.GetInteractionStream(ctx, 1)
	for range interactionChan {
	}
	suite.Error(<-errChan)
}

func (suite *baseTestSuite) TestArtists() {
	artists, err := suite.GetArtists(context.Background())
	suite.NoError(err)
	suite.ElementsMatch(testArtists, artists)
	catalog := lo.SliceToMap(artists, func(a Artist) (string, string) { return a.Id, a.Name })
	suite.Equal("Air", catalog["53"])
}

func (suite *baseTestSuite) TestInsertInteractions() {
	ctx := context.Background()
	inserted := []dataset.Interaction{
		{UserId: "7", ArtistId: "52", Weight: 260},
		{UserId: "7", ArtistId: "53", Weight: 260},
	}
	suite.NoError(suite.InsertInteractions(ctx, inserted))
	suite.NoError(suite.InsertInteractions(ctx, nil))
	interactions, _ := suite.readAll(100)
	suite.ElementsMatch(append(append([]dataset.Interaction{}, testInteractions...), inserted...), interactions)
}
