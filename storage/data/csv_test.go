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

package data

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorse-io/bandmate/dataset"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type CSVTestSuite struct {
	baseTestSuite
}

func (suite *CSVTestSuite) SetupSuite() {
	dir := suite.T().TempDir()
	suite.NoError(os.WriteFile(filepath.Join(dir, "user_artists.csv"), []byte(
		"userID, artistID ,weight\n"+
			"2,51,13883\n"+
			"2,52,11690\n"+
			"3,51,0\n"+
			"4,53,228\n"+
			"4,51,1\n"), 0o644))
	suite.NoError(os.WriteFile(filepath.Join(dir, "artists.csv"), []byte(
		"id\tname\turl\n"+
			"51\tDuran Duran\thttp://www.last.fm/music/Duran+Duran\n"+
			"52\tMorcheeba\thttp://www.last.fm/music/Morcheeba\n"+
			"53\tAir\thttp://www.last.fm/music/Air\n"), 0o644))
	var err error
	suite.Source, err = Open("file://"+dir, testDatabaseConfig())
	suite.NoError(err)
}

func (suite *CSVTestSuite) TestInsertInteractions() {
	err := suite.InsertInteractions(context.Background(), []dataset.Interaction{{UserId: "7", ArtistId: "52", Weight: 260}})
	suite.True(errors.Is(err, errors.NotSupported), err)
	interactions, _ := suite.readAll(100)
	suite.ElementsMatch(testInteractions, interactions)
}

func TestCSV(t *testing.T) {
	suite.Run(t, new(CSVTestSuite))
}

func TestNormalizeColumn(t *testing.T) {
	assert.Equal(t, "user_id", NormalizeColumn(" user id "))
	assert.Equal(t, "userID", NormalizeColumn("\ufeffuserID"))
}

func TestCSVMissingColumn(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "user_artists.csv"), []byte("userID,artistID\n2,51\n"), 0o644))
	source, err := Open(dir, testDatabaseConfig())
	assert.NoError(t, err)
	interactionChan, errChan := source.GetInteractionStream(context.Background(), 10)
	for range interactionChan {
	}
	var schemaErr *dataset.SchemaError
	if assert.True(t, errors.As(<-errChan, &schemaErr)) {
		assert.Equal(t, -1, schemaErr.Record)
		assert.Equal(t, "weight", schemaErr.Field)
	}
}

func TestCSVMalformedRecord(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "user_artists.csv"), []byte("userID,artistID,weight\n2,51,10\n3,52\n"), 0o644))
	source, err := Open(dir, testDatabaseConfig())
	assert.NoError(t, err)
	interactionChan, errChan := source.GetInteractionStream(context.Background(), 10)
	for range interactionChan {
	}
	var schemaErr *dataset.SchemaError
	if assert.True(t, errors.As(<-errChan, &schemaErr)) {
		assert.Equal(t, 1, schemaErr.Record)
		assert.Equal(t, "weight", schemaErr.Field)
	}
}

func TestCSVMissingCatalog(t *testing.T) {
	source, err := Open(t.TempDir(), testDatabaseConfig())
	assert.NoError(t, err)
	artists, err := source.GetArtists(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, artists)
}
