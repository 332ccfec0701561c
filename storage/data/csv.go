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
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorse-io/bandmate/base/log"
	"github.com/gorse-io/bandmate/common/util"
	"github.com/gorse-io/bandmate/config"
	"github.com/gorse-io/bandmate/dataset"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// CSV reads tables from <dir>/<table>.csv. The delimiter is a comma unless
// the header line only contains tabs.
type CSV struct {
	dir               string
	interactionsTable string
	artistsTable      string
}

func NewCSV(dir string, cfg config.DatabaseConfig) *CSV {
	return &CSV{
		dir:               dir,
		interactionsTable: cfg.InteractionsTable,
		artistsTable:      cfg.ArtistsTable,
	}
}

func (c *CSV) Close() error {
	return nil
}

// InsertInteractions is not supported since CSV files are read-only exports.
func (c *CSV) InsertInteractions(_ context.Context, _ []dataset.Interaction) error {
	return errors.NotSupportedf("inserting interactions into %s", c.dir)
}

// NormalizeColumn trims a header name and replaces inner spaces with underscores.
func NormalizeColumn(name string) string {
	name = strings.TrimPrefix(name, "\ufeff")
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
}

type csvTable struct {
	file    *os.File
	reader  *csv.Reader
	columns []int
}

// openTable opens a table and locates the required columns in its header.
func (c *CSV) openTable(table string, required ...string) (*csvTable, error) {
	f, err := os.Open(filepath.Join(c.dir, table+".csv"))
	if err != nil {
		return nil, err
	}
	buf := bufio.NewReader(f)
	header, err := buf.ReadString('\n')
	if err != nil && err != io.EOF {
		_ = f.Close()
		return nil, errors.Trace(err)
	}
	reader := csv.NewReader(io.MultiReader(strings.NewReader(header), buf))
	if strings.Contains(header, "\t") && !strings.Contains(header, ",") {
		reader.Comma = '\t'
	}
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true
	names, err := reader.Read()
	if err == io.EOF {
		names = nil
	} else if err != nil {
		_ = f.Close()
		return nil, errors.Trace(err)
	}
	positions := make(map[string]int, len(names))
	for i, name := range names {
		positions[NormalizeColumn(name)] = i
	}
	columns := make([]int, len(required))
	for i, name := range required {
		position, ok := positions[name]
		if !ok {
			_ = f.Close()
			return nil, &dataset.SchemaError{Record: -1, Field: name}
		}
		columns[i] = position
	}
	return &csvTable{file: f, reader: reader, columns: columns}, nil
}

// read returns the required fields of the next row.
func (t *csvTable) read(record int, required []string) ([]string, error) {
	row, err := t.reader.Read()
	if err != nil {
		return nil, err
	}
	fields := make([]string, len(t.columns))
	for i, column := range t.columns {
		if column >= len(row) {
			return nil, &dataset.SchemaError{Record: record, Field: required[i]}
		}
		fields[i] = strings.TrimSpace(row[column])
	}
	return fields, nil
}

// GetInteractionStream reads interaction rows in file order.
func (c *CSV) GetInteractionStream(ctx context.Context, batchSize int) (chan []dataset.Interaction, chan error) {
	interactionChan := make(chan []dataset.Interaction, bufSize)
	errChan := make(chan error, 1)
	go func() {
		defer close(interactionChan)
		defer close(errChan)
		required := []string{"userID", "artistID", "weight"}
		table, err := c.openTable(c.interactionsTable, required...)
		if err != nil {
			errChan <- errors.Trace(err)
			return
		}
		defer table.file.Close()
		interactions := make([]dataset.Interaction, 0, batchSize)
		for record := 0; ; record++ {
			fields, err := table.read(record, required)
			if err == io.EOF {
				break
			} else if err != nil {
				errChan <- errors.Trace(err)
				return
			}
			weight, err := util.ParseFloat[float64](fields[2])
			if err != nil {
				errChan <- &dataset.SchemaError{Record: record, Field: "weight"}
				return
			}
			interactions = append(interactions, dataset.Interaction{
				UserId:   fields[0],
				ArtistId: fields[1],
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

// GetArtists reads the artist catalog. A missing catalog file yields an
// empty catalog.
func (c *CSV) GetArtists(ctx context.Context) ([]Artist, error) {
	required := []string{"id", "name"}
	table, err := c.openTable(c.artistsTable, required...)
	if os.IsNotExist(err) {
		log.Logger().Warn("artist catalog not found", zap.String("dir", c.dir), zap.String("table", c.artistsTable))
		return nil, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	defer table.file.Close()
	var artists []Artist
	for record := 0; ; record++ {
		if err = ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		fields, err := table.read(record, required)
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Trace(err)
		}
		if fields[0] != "" {
			artists = append(artists, Artist{Id: fields[0], Name: fields[1]})
		}
	}
	return artists, nil
}
