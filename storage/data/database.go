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
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorse-io/bandmate/base/log"
	"github.com/gorse-io/bandmate/config"
	"github.com/gorse-io/bandmate/dataset"
	"github.com/gorse-io/bandmate/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.uber.org/zap"
	"gorm.io/driver/clickhouse"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const bufSize = 1

// maxPingTries bounds the connection attempts made by Open.
const maxPingTries = 5

// Artist is an entry of the artist catalog.
type Artist struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

// Source provides the interaction records and the artist catalog a snapshot
// is trained from.
type Source interface {
	// GetInteractionStream streams interaction records in batches. The error
	// channel receives exactly one value once the stream ends.
	GetInteractionStream(ctx context.Context, batchSize int) (chan []dataset.Interaction, chan error)
	GetArtists(ctx context.Context) ([]Artist, error)
	// InsertInteractions appends interaction records. They take effect at
	// the next training.
	InsertInteractions(ctx context.Context, interactions []dataset.Interaction) error
	Close() error
}

// Open connects to a data store. SQL and MongoDB URLs are recognized by
// their scheme; anything else is a directory of CSV files.
func Open(path string, cfg config.DatabaseConfig) (Source, error) {
	var err error
	if strings.HasPrefix(path, storage.MySQLPrefix) {
		name := path[len(storage.MySQLPrefix):]
		// detect isolation variable name
		isolationVarName, err := storage.ProbeMySQLIsolationVariableName(name)
		if err != nil {
			return nil, errors.Trace(err)
		}
		// append parameters
		params := map[string]string{"sql_mode": "'ONLY_FULL_GROUP_BY,STRICT_TRANS_TABLES,ERROR_FOR_DIVISION_BY_ZERO,NO_ENGINE_SUBSTITUTION'"}
		if isolationVarName != "" {
			params[isolationVarName] = "'READ-UNCOMMITTED'"
		}
		if name, err = storage.AppendMySQLParams(name, params); err != nil {
			return nil, errors.Trace(err)
		}
		database := newSQLDatabase(MySQL, cfg)
		if database.client, err = openSQL("mysql", name, semconv.DBSystemMySQL); err != nil {
			return nil, errors.Trace(err)
		}
		database.gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: database.client}), storage.NewGORMConfig())
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.PostgresPrefix) || strings.HasPrefix(path, storage.PostgreSQLPrefix) {
		database := newSQLDatabase(Postgres, cfg)
		if database.client, err = openSQL("postgres", path, semconv.DBSystemPostgreSQL); err != nil {
			return nil, errors.Trace(err)
		}
		database.gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: database.client}), storage.NewGORMConfig())
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.ClickhousePrefix) || strings.HasPrefix(path, storage.CHHTTPPrefix) || strings.HasPrefix(path, storage.CHHTTPSPrefix) {
		// replace schema
		parsed, err := url.Parse(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if strings.HasPrefix(path, storage.CHHTTPSPrefix) {
			parsed.Scheme = "https"
		} else {
			parsed.Scheme = "http"
		}
		database := newSQLDatabase(ClickHouse, cfg)
		if database.client, err = openSQL("chhttp", parsed.String(), semconv.DBSystemKey.String("clickhouse")); err != nil {
			return nil, errors.Trace(err)
		}
		database.gormDB, err = gorm.Open(clickhouse.New(clickhouse.Config{Conn: database.client}), storage.NewGORMConfig())
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.SQLitePrefix) {
		name := path[len(storage.SQLitePrefix):]
		if name, err = storage.AppendURLParams(name, []lo.Tuple2[string, string]{
			{"_pragma", "busy_timeout(10000)"},
			{"_pragma", "journal_mode(wal)"},
		}); err != nil {
			return nil, errors.Trace(err)
		}
		database := newSQLDatabase(SQLite, cfg)
		if database.client, err = openSQL("sqlite", name, semconv.DBSystemSqlite); err != nil {
			return nil, errors.Trace(err)
		}
		database.gormDB, err = gorm.Open(sqlite.Dialector{Conn: database.client}, storage.NewGORMConfig())
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.MongoPrefix) || strings.HasPrefix(path, storage.MongoSrvPrefix) {
		// connect to database
		database := &MongoDB{
			interactionsTable: cfg.InteractionsTable,
			artistsTable:      cfg.ArtistsTable,
		}
		opts := options.Client()
		opts.Monitor = otelmongo.NewMonitor()
		opts.ApplyURI(path)
		if database.client, err = mongo.Connect(context.Background(), opts); err != nil {
			return nil, errors.Trace(err)
		}
		// parse DSN and extract database name
		if cs, err := connstring.ParseAndValidate(path); err != nil {
			return nil, errors.Trace(err)
		} else {
			database.dbName = cs.Database
		}
		if err = retry(context.Background(), database.ping); err != nil {
			_ = database.Close()
			return nil, errors.Trace(err)
		}
		return database, nil
	}
	return NewCSV(strings.TrimPrefix(path, config.FilePrefix), cfg), nil
}

// retry calls ping with exponential backoff until it succeeds.
func retry(ctx context.Context, ping func(ctx context.Context) error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, ping(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxPingTries),
		backoff.WithMaxElapsedTime(time.Minute),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Logger().Warn("failed to connect to data store, retrying",
				zap.Error(err), zap.Duration("next", next))
		}))
	return errors.Trace(err)
}

// send delivers a batch unless ctx is done.
func send(ctx context.Context, interactionChan chan<- []dataset.Interaction, batch []dataset.Interaction) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	select {
	case interactionChan <- batch:
		return nil
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}
}
