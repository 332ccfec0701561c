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

// Package model stores a trained recommender state as a single checksummed blob.
package model

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/gorse-io/bandmate/base/encoding"
	"github.com/gorse-io/bandmate/base/log"
	"github.com/gorse-io/bandmate/dataset"
	"github.com/gorse-io/bandmate/storage/blob"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

const magic = "BANDMATE"

// FormatVersion is the bundle layout written by Marshal.
const FormatVersion = uint32(1)

// ErrCorruptBundle is returned when a stored bundle fails verification.
var ErrCorruptBundle = errors.New("corrupt bundle")

// Bundle is everything inference needs: the interaction matrix, both
// identifier mappings and the artist catalog. The neighbor index is rebuilt
// from the matrix on load.
type Bundle struct {
	SnapshotId   string
	Timestamp    time.Time
	NumNeighbors int
	// DefaultWeight is assigned to artists picked by listeners without
	// history. Zero if unknown.
	DefaultWeight float64
	Dataset       *dataset.Dataset
	Catalog       map[string]string
}

// NewBundle wraps a freshly built dataset with a new snapshot id.
func NewBundle(data *dataset.Dataset, catalog map[string]string, numNeighbors int) *Bundle {
	if catalog == nil {
		catalog = make(map[string]string)
	}
	return &Bundle{
		SnapshotId:   uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		NumNeighbors: numNeighbors,
		Dataset:      data,
		Catalog:      catalog,
	}
}

// ArtistName returns the display name of an artist, or the id itself if the
// catalog does not know it.
func (b *Bundle) ArtistName(artistId string) string {
	if name, ok := b.Catalog[artistId]; ok {
		return name
	}
	return artistId
}

type header struct {
	SnapshotId    string
	Timestamp     time.Time
	NumNeighbors  int
	DefaultWeight float64
	Rows          int
	Cols          int
	NNZ           int
	Checksum      uint64
}

func corruptf(format string, args ...any) error {
	return errors.Annotatef(ErrCorruptBundle, format, args...)
}

// Marshal writes the bundle into byte stream.
func (b *Bundle) Marshal(w io.Writer) error {
	// encode payload first to checksum it
	var payload bytes.Buffer
	indptr, indices, values := b.Dataset.Matrix.CSR()
	if err := encoding.WriteSlice(&payload, indptr); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteSlice(&payload, indices); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteSlice(&payload, values); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteStrings(&payload, b.Dataset.Users.Ids()); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteStrings(&payload, b.Dataset.Artists.Ids()); err != nil {
		return errors.Trace(err)
	}
	catalog := b.Catalog
	if catalog == nil {
		catalog = make(map[string]string)
	}
	if err := encoding.WriteGob(&payload, catalog); err != nil {
		return errors.Trace(err)
	}

	if _, err := io.WriteString(w, magic); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Write(w, binary.LittleEndian, FormatVersion); err != nil {
		return errors.Trace(err)
	}
	err := encoding.WriteGob(w, header{
		SnapshotId:    b.SnapshotId,
		Timestamp:     b.Timestamp,
		NumNeighbors:  b.NumNeighbors,
		DefaultWeight: b.DefaultWeight,
		Rows:          b.Dataset.Matrix.Rows(),
		Cols:          b.Dataset.Matrix.Cols(),
		NNZ:           b.Dataset.Matrix.NNZ(),
		Checksum:      xxhash.Sum64(payload.Bytes()),
	})
	if err != nil {
		return errors.Trace(err)
	}
	if err = binary.Write(w, binary.LittleEndian, int64(payload.Len())); err != nil {
		return errors.Trace(err)
	}
	_, err = w.Write(payload.Bytes())
	return errors.Trace(err)
}

// Unmarshal reads a bundle written by Marshal. Any inconsistency is reported
// as ErrCorruptBundle.
func Unmarshal(r io.Reader) (*Bundle, error) {
	// magic and version
	prefix := make([]byte, len(magic))
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, corruptf("read magic: %v", err)
	}
	if string(prefix) != magic {
		return nil, corruptf("unexpected magic %q", prefix)
	}
	var v uint32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return nil, corruptf("read version: %v", err)
	}
	if v != FormatVersion {
		return nil, corruptf("unsupported version %d", v)
	}

	// header
	var h header
	if err := encoding.ReadGob(r, &h); err != nil {
		return nil, corruptf("read header: %v", err)
	}
	var length int64
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, corruptf("read payload length: %v", err)
	}
	if length < 0 {
		return nil, corruptf("payload length %d", length)
	}
	var payload bytes.Buffer
	if _, err := io.CopyN(&payload, r, length); err != nil {
		return nil, corruptf("read payload: %v", err)
	}
	if checksum := xxhash.Sum64(payload.Bytes()); checksum != h.Checksum {
		return nil, corruptf("checksum %x != %x", checksum, h.Checksum)
	}

	// payload
	indptr, err := encoding.ReadSlice[int64](&payload)
	if err != nil {
		return nil, corruptf("read indptr: %v", err)
	}
	indices, err := encoding.ReadSlice[int32](&payload)
	if err != nil {
		return nil, corruptf("read indices: %v", err)
	}
	values, err := encoding.ReadSlice[float32](&payload)
	if err != nil {
		return nil, corruptf("read values: %v", err)
	}
	userIds, err := encoding.ReadStrings(&payload)
	if err != nil {
		return nil, corruptf("read users: %v", err)
	}
	artistIds, err := encoding.ReadStrings(&payload)
	if err != nil {
		return nil, corruptf("read artists: %v", err)
	}
	catalog := make(map[string]string)
	if err = encoding.ReadGob(&payload, &catalog); err != nil {
		return nil, corruptf("read catalog: %v", err)
	}
	if payload.Len() > 0 {
		return nil, corruptf("%d trailing bytes", payload.Len())
	}

	matrix, err := dataset.NewMatrix(h.Rows, h.Cols, indptr, indices, values)
	if err != nil {
		return nil, corruptf("matrix: %v", err)
	}
	if matrix.NNZ() != h.NNZ {
		return nil, corruptf("%d stored cells, header says %d", matrix.NNZ(), h.NNZ)
	}
	users, err := dataset.NewDictFromIds(userIds)
	if err != nil {
		return nil, corruptf("users: %v", err)
	}
	artists, err := dataset.NewDictFromIds(artistIds)
	if err != nil {
		return nil, corruptf("artists: %v", err)
	}
	data, err := dataset.NewDataset(matrix, users, artists)
	if err != nil {
		return nil, corruptf("dataset: %v", err)
	}
	return &Bundle{
		SnapshotId:    h.SnapshotId,
		Timestamp:     h.Timestamp,
		NumNeighbors:  h.NumNeighbors,
		DefaultWeight: h.DefaultWeight,
		Dataset:       data,
		Catalog:       catalog,
	}, nil
}

// Save writes a bundle into the store. The blob is only committed once it has
// been completely written.
func Save(store blob.Store, name string, b *Bundle) error {
	w, done, err := store.Create(name)
	if err != nil {
		return errors.Trace(err)
	}
	buf := bufio.NewWriter(w)
	if err = b.Marshal(buf); err == nil {
		err = buf.Flush()
	}
	if err != nil {
		_ = blob.Abort(w, err)
		<-done
		return errors.Trace(err)
	}
	if err = w.Close(); err != nil {
		<-done
		return errors.Trace(err)
	}
	if err = <-done; err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("save bundle",
		zap.String("name", name),
		zap.String("snapshot_id", b.SnapshotId),
		zap.Int("users", b.Dataset.Users.Count()),
		zap.Int("artists", b.Dataset.Artists.Count()),
		zap.Int("nnz", b.Dataset.Matrix.NNZ()))
	return nil
}

// Load reads and verifies a bundle from the store.
func Load(store blob.Store, name string) (*Bundle, error) {
	r, err := store.Open(name)
	if err != nil {
		return nil, errors.Annotatef(err, "open bundle %s", name)
	}
	defer r.Close()
	b, err := Unmarshal(bufio.NewReader(r))
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("load bundle",
		zap.String("name", name),
		zap.String("snapshot_id", b.SnapshotId),
		zap.Time("timestamp", b.Timestamp))
	return b, nil
}
