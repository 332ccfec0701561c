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
	"database/sql"
	"fmt"
	"strings"

	"github.com/XSAM/otelsql"
	"github.com/gorse-io/bandmate/config"
	"github.com/gorse-io/bandmate/dataset"
	"github.com/gorse-io/bandmate/storage"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mailru/go-clickhouse/v2"
	_ "modernc.org/sqlite"
)

type SQLDriver int

const (
	MySQL SQLDriver = iota
	Postgres
	ClickHouse
	SQLite
)

// SQLDatabase reads records from a relational database. Column names follow
// the Last.fm dump: userID, artistID and weight for interactions, id and name
// for artists.
type SQLDatabase struct {
	gormDB            *gorm.DB
	client            *sql.DB
	driver            SQLDriver
	interactionsTable string
	artistsTable      string
}

func newSQLDatabase(driver SQLDriver, cfg config.DatabaseConfig) *SQLDatabase {
	return &SQLDatabase{
		driver:            driver,
		interactionsTable: cfg.InteractionsTable,
		artistsTable:      cfg.ArtistsTable,
	}
}

// openSQL opens a connection pool and waits until the server answers.
func openSQL(driverName, dsn string, system attribute.KeyValue) (*sql.DB, error) {
	client, err := otelsql.Open(driverName, dsn,
		otelsql.WithAttributes(system),
		otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
	)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err = retry(context.Background(), client.PingContext); err != nil {
		_ = client.Close()
		return nil, errors.Trace(err)
	}
	return client, nil
}

func (d *SQLDatabase) quote(name string) string {
	switch d.driver {
	case MySQL:
		return storage.QuoteIdentifier(storage.MySQLPrefix, name)
	case ClickHouse:
		return storage.QuoteIdentifier(storage.ClickhousePrefix, name)
	default:
		return storage.QuoteIdentifier(storage.PostgresPrefix, name)
	}
}

func (d *SQLDatabase) Close() error {
	return d.client.Close()
}

// GetInteractionStream reads interaction records in table order.
func (d *SQLDatabase) GetInteractionStream(ctx context.Context, batchSize int) (chan []dataset.Interaction, chan error) {
	interactionChan := make(chan []dataset.Interaction, bufSize)
	errChan := make(chan error, 1)
	go func() {
		defer close(interactionChan)
		defer close(errChan)
		// send query
		query := fmt.Sprintf("SELECT %s, %s, %s FROM %s",
			d.quote("userID"), d.quote("artistID"), d.quote("weight"), d.quote(d.interactionsTable))
		result, err := d.gormDB.WithContext(ctx).Raw(query).Rows()
		if err != nil {
			errChan <- errors.Trace(err)
			return
		}
		defer result.Close()
		// fetch result
		interactions := make([]dataset.Interaction, 0, batchSize)
		for record := 0; result.Next(); record++ {
			var (
				userId, artistId sql.NullString
				weight           sql.NullFloat64
			)
			if err = result.Scan(&userId, &artistId, &weight); err != nil {
				errChan <- errors.Trace(err)
				return
			}
			if !weight.Valid {
				errChan <- &dataset.SchemaError{Record: record, Field: "weight"}
				return
			}
			interactions = append(interactions, dataset.Interaction{
				UserId:   strings.TrimSpace(userId.String),
				ArtistId: strings.TrimSpace(artistId.String),
				Weight:   weight.Float64,
			})
			if len(interactions) == batchSize {
				if err = send(ctx, interactionChan, interactions); err != nil {
					errChan <- err
					return
				}
				interactions = make([]dataset.Interaction, 0, batchSize)
			}
		}
		if err = result.Err(); err != nil {
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
func (d *SQLDatabase) GetArtists(ctx context.Context) ([]Artist, error) {
	query := fmt.Sprintf("SELECT %s, %s FROM %s", d.quote("id"), d.quote("name"), d.quote(d.artistsTable))
	result, err := d.gormDB.WithContext(ctx).Raw(query).Rows()
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer result.Close()
	var artists []Artist
	for result.Next() {
		var id, name sql.NullString
		if err = result.Scan(&id, &name); err != nil {
			return nil, errors.Trace(err)
		}
		if id.Valid {
			artists = append(artists, Artist{Id: strings.TrimSpace(id.String), Name: name.String})
		}
	}
	return artists, errors.Trace(result.Err())
}

// InsertInteractions appends interaction records in one statement.
func (d *SQLDatabase) InsertInteractions(ctx context.Context, interactions []dataset.Interaction) error {
	if len(interactions) == 0 {
		return nil
	}
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("INSERT INTO %s (%s, %s, %s) VALUES ",
		d.quote(d.interactionsTable), d.quote("userID"), d.quote("artistID"), d.quote("weight")))
	args := make([]any, 0, 3*len(interactions))
	for i, interaction := range interactions {
		if i > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString("(?, ?, ?)")
		args = append(args, interaction.UserId, interaction.ArtistId, interaction.Weight)
	}
	return errors.Trace(d.gormDB.WithContext(ctx).Exec(builder.String(), args...).Error)
}
