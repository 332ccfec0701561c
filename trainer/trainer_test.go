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

package trainer

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorse-io/bandmate/config"
	"github.com/gorse-io/bandmate/model"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func newTestConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "user_artists.csv"), []byte(
		"userID,artistID,weight\n"+
			"A,a1,5\n"+
			"A,a2,3\n"+
			"B,a1,4\n"+
			"B,a3,2\n"+
			"C,a2,1\n"), 0o644))
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "artists.csv"), []byte(
		"id,name\n"+
			"a1,Kraftwerk\n"+
			"a2,Can\n"+
			"a3,Neu!\n"), 0o644))
	cfg := config.GetDefaultConfig()
	cfg.Database.DataStore = dir
	cfg.Database.BatchSize = 2
	cfg.Artifact.Store = "file://" + filepath.Join(dir, "artifacts")
	cfg.Recommend.NumNeighbors = 2
	cfg.Recommend.NumJobs = 2
	return cfg
}

func TestTrainLoad(t *testing.T) {
	cfg := newTestConfig(t)
	var progress bytes.Buffer
	bundle, err := Train(context.Background(), cfg, Options{Progress: &progress})
	assert.NoError(t, err)
	assert.Equal(t, 3, bundle.Dataset.Users.Count())
	assert.Equal(t, 3, bundle.Dataset.Artists.Count())
	assert.Equal(t, 5, bundle.Dataset.Matrix.NNZ())
	assert.Equal(t, "Neu!", bundle.ArtistName("a3"))
	// median of 1, 2, 3, 4, 5
	assert.Equal(t, 3.0, bundle.DefaultWeight)
	assert.FileExists(t, filepath.Join(cfg.Database.DataStore, "artifacts", cfg.Artifact.Name))

	snapshot, err := Load(context.Background(), cfg)
	assert.NoError(t, err)
	assert.Equal(t, bundle.SnapshotId, snapshot.Bundle.SnapshotId)
	assert.Equal(t, 3.0, snapshot.Bundle.DefaultWeight)

	// A is closest to B, whose only novel artist is a3
	scores, err := snapshot.Recommender.Recommend("A", 10)
	assert.NoError(t, err)
	if assert.Len(t, scores, 1) {
		assert.Equal(t, "a3", scores[0].ArtistId)
		assert.InDelta(t, 20/(math.Sqrt(34)*math.Sqrt(20))*2, scores[0].Score, 1e-6)
	}

	scores, err = snapshot.Recommender.Recommend("nobody", 10)
	assert.NoError(t, err)
	assert.Empty(t, scores)
}

func TestTrainEmpty(t *testing.T) {
	cfg := newTestConfig(t)
	assert.NoError(t, os.WriteFile(filepath.Join(cfg.Database.DataStore, "user_artists.csv"), []byte("userID,artistID,weight\n"), 0o644))
	_, err := Train(context.Background(), cfg, Options{})
	assert.Error(t, err)
}

func TestLoadMissing(t *testing.T) {
	cfg := newTestConfig(t)
	_, err := Load(context.Background(), cfg)
	assert.Error(t, err)
}

func TestLoadCorrupt(t *testing.T) {
	cfg := newTestConfig(t)
	_, err := Train(context.Background(), cfg, Options{})
	assert.NoError(t, err)
	path := filepath.Join(cfg.Database.DataStore, "artifacts", cfg.Artifact.Name)
	content, err := os.ReadFile(path)
	assert.NoError(t, err)
	content[len(content)-1] ^= 0xff
	assert.NoError(t, os.WriteFile(path, content, 0o644))
	_, err = Load(context.Background(), cfg)
	assert.True(t, errors.Is(err, model.ErrCorruptBundle))
}

func TestStats(t *testing.T) {
	cfg := newTestConfig(t)
	stats, err := Stats(context.Background(), cfg, Options{})
	assert.NoError(t, err)
	assert.Equal(t, 5, stats.Count)
	assert.Equal(t, 3.0, stats.Mean)
	assert.Equal(t, 1.0, stats.Min)
	assert.Equal(t, 5.0, stats.Max)
	assert.Equal(t, 3.0, stats.Median)
	assert.Equal(t, int64(3), stats.SuggestedWeight())
}
