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

// Package trainer builds snapshots from a data store and loads them back for serving.
package trainer

import (
	"context"
	"io"
	"time"

	"github.com/gorse-io/bandmate/base/log"
	"github.com/gorse-io/bandmate/config"
	"github.com/gorse-io/bandmate/dataset"
	"github.com/gorse-io/bandmate/logics"
	"github.com/gorse-io/bandmate/model"
	"github.com/gorse-io/bandmate/search"
	"github.com/gorse-io/bandmate/storage/blob"
	"github.com/gorse-io/bandmate/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

type Options struct {
	// Progress receives a progress bar while interactions are read. Nil
	// disables it.
	Progress io.Writer
}

// ReadInteractions drains the interaction stream of a source.
func ReadInteractions(ctx context.Context, source data.Source, batchSize int, progress io.Writer) ([]dataset.Interaction, error) {
	var bar *progressbar.ProgressBar
	if progress != nil {
		bar = progressbar.NewOptions64(-1,
			progressbar.OptionSetWriter(progress),
			progressbar.OptionSetDescription("read interactions"),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionClearOnFinish())
	} else {
		bar = progressbar.DefaultSilent(-1)
	}
	var interactions []dataset.Interaction
	interactionChan, errChan := source.GetInteractionStream(ctx, batchSize)
	for batch := range interactionChan {
		interactions = append(interactions, batch...)
		_ = bar.Add(len(batch))
	}
	if err := <-errChan; err != nil {
		return nil, errors.Trace(err)
	}
	_ = bar.Finish()
	return interactions, nil
}

// OpenSource opens the configured data store.
func OpenSource(cfg *config.Config) (data.Source, error) {
	log.Logger().Info("open data store",
		zap.String("data_store", log.RedactDBURL(cfg.Database.DataStore)))
	source, err := data.Open(cfg.Database.DataStore, cfg.Database)
	if err != nil {
		return nil, errors.Annotatef(err, "open data store %s", log.RedactDBURL(cfg.Database.DataStore))
	}
	return source, nil
}

// Train reads the data store, builds a snapshot and saves it to the artifact store.
func Train(ctx context.Context, cfg *config.Config, opts Options) (*model.Bundle, error) {
	start := time.Now()
	source, err := OpenSource(cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer source.Close()

	interactions, err := ReadInteractions(ctx, source, cfg.Database.BatchSize, opts.Progress)
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("read interactions", zap.Int("records", len(interactions)))
	trainSet, err := dataset.Build(interactions)
	if err != nil {
		return nil, errors.Trace(err)
	}
	stats, err := dataset.ComputeWeightStats(interactions)
	if err != nil {
		return nil, errors.Trace(err)
	}
	artists, err := source.GetArtists(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	catalog := lo.SliceToMap(artists, func(artist data.Artist) (string, string) {
		return artist.Id, artist.Name
	})

	bundle := model.NewBundle(trainSet, catalog, cfg.Recommend.NumNeighbors)
	bundle.DefaultWeight = float64(stats.SuggestedWeight())
	store, err := blob.Open(cfg.Artifact.Store, cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err = model.Save(store, cfg.Artifact.Name, bundle); err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("complete training",
		zap.String("snapshot_id", bundle.SnapshotId),
		zap.Int("users", trainSet.Users.Count()),
		zap.Int("artists", trainSet.Artists.Count()),
		zap.Int("nnz", trainSet.Matrix.NNZ()),
		zap.Int("catalog", len(catalog)),
		zap.Float64("default_weight", bundle.DefaultWeight),
		zap.Duration("elapsed", time.Since(start)))
	return bundle, nil
}

// Stats computes weight statistics of the interactions in the data store.
func Stats(ctx context.Context, cfg *config.Config, opts Options) (dataset.WeightStats, error) {
	source, err := OpenSource(cfg)
	if err != nil {
		return dataset.WeightStats{}, errors.Trace(err)
	}
	defer source.Close()
	interactions, err := ReadInteractions(ctx, source, cfg.Database.BatchSize, opts.Progress)
	if err != nil {
		return dataset.WeightStats{}, errors.Trace(err)
	}
	stats, err := dataset.ComputeWeightStats(interactions)
	return stats, errors.Trace(err)
}

// Snapshot is a loaded bundle with a fitted recommender.
type Snapshot struct {
	Bundle      *model.Bundle
	Recommender *logics.Recommender
}

// Load reads the bundle from the artifact store and fits a brute-force index
// on its matrix.
func Load(ctx context.Context, cfg *config.Config) (*Snapshot, error) {
	start := time.Now()
	store, err := blob.Open(cfg.Artifact.Store, cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	bundle, err := model.Load(store, cfg.Artifact.Name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err = ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	numNeighbors := cfg.Recommend.NumNeighbors
	if numNeighbors != bundle.NumNeighbors {
		log.Logger().Info("override number of neighbors",
			zap.Int("trained", bundle.NumNeighbors), zap.Int("configured", numNeighbors))
	}
	recommender, err := logics.NewRecommender(bundle.Dataset, search.NewBruteforce(cfg.Recommend.NumJobs), numNeighbors)
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("load snapshot",
		zap.String("snapshot_id", bundle.SnapshotId),
		zap.Duration("elapsed", time.Since(start)))
	return &Snapshot{Bundle: bundle, Recommender: recommender}, nil
}
