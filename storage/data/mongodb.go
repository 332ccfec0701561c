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
	"fmt"
	"strconv"
	"strings"

	"github.com/gorse-io/bandmate/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoDB reads records from collections named after the configured tables.
// Documents carry the same fields as the SQL columns.
type MongoDB struct {
	client            *mongo.Client
	dbName            string
	interactionsTable string
	artistsTable      string
}

func (db *MongoDB) ping(ctx context.Context) error {
	return db.client.Ping(ctx, readpref.Primary())
}

// Close connection to MongoDB.
func (db *MongoDB) Close() error {
	return db.client.Disconnect(context.Background())
}

// GetInteractionStream reads interaction documents in natural order.
func (db *MongoDB) GetInteractionStream(ctx context.Context, batchSize int) (chan []dataset.Interaction, chan error) {
	interactionChan := make(chan []dataset.Interaction, bufSize)
	errChan := make(chan error, 1)
	go func() {
		defer close(interactionChan)
		defer close(errChan)
		c := db.client.Database(db.dbName).Collection(db.interactionsTable)
		opt := options.Find()
		opt.SetBatchSize(int32(batchSize))
		opt.SetProjection(bson.M{"_id": 0, "userID": 1, "artistID": 1, "weight": 1})
		r, err := c.Find(ctx, bson.M{}, opt)
		if err != nil {
			errChan <- errors.Trace(err)
			return
		}
		defer r.Close(ctx)
		interactions := make([]dataset.Interaction, 0, batchSize)
		for record := 0; r.Next(ctx); record++ {
			var doc bson.M
			if err = r.Decode(&doc); err != nil {
				errChan <- errors.Trace(err)
				return
			}
			weight, ok := toFloat(doc["weight"])
			if !ok {
				errChan <- &dataset.SchemaError{Record: record, Field: "weight"}
				return
			}
			interactions = append(interactions, dataset.Interaction{
				UserId:   toString(doc["userID"]),
				ArtistId: toString(doc["artistID"]),
				Weight:   weight,
			})
			if len(interactions) == batchSize {
				if err = send(ctx, interactionChan, interactions); err != nil {
					errChan <- err
					return
				}
				interactions = make([]dataset.Interaction, 0, batchSize)
			}
		}
		if err = r.Err(); err != nil {
			errChan <- errors.Trace(err)
			return
		}
		if len(interactions) > 0 {
			if err = send(ctx, interactionChan, interactions); err != nil {
				errChan <- err
				return
			}
		}
		errChan <- nil
	}()
	return interactionChan, errChan
}

// GetArtists reads the artist catalog.
func (db *MongoDB) GetArtists(ctx context.Context) ([]Artist, error) {
	c := db.client.Database(db.dbName).Collection(db.artistsTable)
	opt := options.Find()
	opt.SetProjection(bson.M{"_id": 0, "id": 1, "name": 1})
	r, err := c.Find(ctx, bson.M{}, opt)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer r.Close(ctx)
	var artists []Artist
	for r.Next(ctx) {
		var doc bson.M
		if err = r.Decode(&doc); err != nil {
			return nil, errors.Trace(err)
		}
		if id := toString(doc["id"]); id != "" {
			artists = append(artists, Artist{Id: id, Name: toString(doc["name"])})
		}
	}
	return artists, errors.Trace(r.Err())
}

// InsertInteractions appends interaction documents.
func (db *MongoDB) InsertInteractions(ctx context.Context, interactions []dataset.Interaction) error {
	if len(interactions) == 0 {
		return nil
	}
	docs := lo.Map(interactions, func(interaction dataset.Interaction, _ int) any {
		return bson.M{"userID": interaction.UserId, "artistID": interaction.ArtistId, "weight": interaction.Weight}
	})
	_, err := db.client.Database(db.dbName).Collection(db.interactionsTable).InsertMany(ctx, docs)
	return errors.Trace(err)
}

// toString renders an identifier stored either as a string or as a number.
func toString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
