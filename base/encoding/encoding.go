// Copyright 2022 gorse Project Authors
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

// Package encoding provides length-prefixed little-endian primitives for binary artifacts.
package encoding

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"
	"strconv"

	"github.com/juju/errors"
)

// maxLength bounds a single length-prefixed field so that a corrupt prefix cannot trigger a huge allocation.
const maxLength = 1 << 30

// WriteSlice writes a slice of fixed-size numbers to byte stream.
func WriteSlice[T int32 | int64 | float32 | float64](w io.Writer, s []T) error {
	if err := binary.Write(w, binary.LittleEndian, int64(len(s))); err != nil {
		return errors.Trace(err)
	}
	if len(s) == 0 {
		return nil
	}
	return errors.Trace(binary.Write(w, binary.LittleEndian, s))
}

// ReadSlice reads a slice written by WriteSlice.
func ReadSlice[T int32 | int64 | float32 | float64](r io.Reader) ([]T, error) {
	var length int64
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, errors.Trace(err)
	}
	if length < 0 || length > maxLength {
		return nil, errors.NotValidf("slice length %d", length)
	}
	s := make([]T, length)
	if length == 0 {
		return s, nil
	}
	if err := binary.Read(r, binary.LittleEndian, s); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

// WriteString writes string to byte stream.
func WriteString(w io.Writer, s string) error {
	return WriteBytes(w, []byte(s))
}

// ReadString reads string from byte stream.
func ReadString(r io.Reader) (string, error) {
	data, err := ReadBytes(r)
	return string(data), err
}

// WriteBytes writes bytes to byte stream.
func WriteBytes(w io.Writer, s []byte) error {
	err := binary.Write(w, binary.LittleEndian, int32(len(s)))
	if err != nil {
		return errors.Trace(err)
	}
	n, err := w.Write(s)
	if err != nil {
		return errors.Trace(err)
	} else if n != len(s) {
		return errors.New("fail to write bytes")
	}
	return nil
}

// ReadBytes reads bytes from byte stream.
func ReadBytes(r io.Reader) ([]byte, error) {
	var length int32
	err := binary.Read(r, binary.LittleEndian, &length)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if length < 0 {
		return nil, errors.NotValidf("bytes length %d", length)
	}
	data := make([]byte, length)
	if _, err = io.ReadFull(r, data); err != nil {
		return nil, errors.Trace(err)
	}
	return data, nil
}

// WriteStrings writes a list of strings to byte stream.
func WriteStrings(w io.Writer, s []string) error {
	if err := binary.Write(w, binary.LittleEndian, int64(len(s))); err != nil {
		return errors.Trace(err)
	}
	for _, v := range s {
		if err := WriteString(w, v); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// ReadStrings reads a list of strings written by WriteStrings.
func ReadStrings(r io.Reader) ([]string, error) {
	var length int64
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, errors.Trace(err)
	}
	if length < 0 || length > maxLength {
		return nil, errors.NotValidf("strings length %d", length)
	}
	s := make([]string, length)
	for i := range s {
		v, err := ReadString(r)
		if err != nil {
			return nil, errors.Trace(err)
		}
		s[i] = v
	}
	return s, nil
}

// WriteGob writes object to byte stream.
func WriteGob(w io.Writer, v interface{}) error {
	buffer := bytes.NewBuffer(nil)
	encoder := gob.NewEncoder(buffer)
	err := encoder.Encode(v)
	if err != nil {
		return errors.Trace(err)
	}
	return WriteBytes(w, buffer.Bytes())
}

// ReadGob read object from byte stream.
func ReadGob(r io.Reader, v interface{}) error {
	data, err := ReadBytes(r)
	if err != nil {
		return err
	}
	buffer := bytes.NewBuffer(data)
	decoder := gob.NewDecoder(buffer)
	return errors.Trace(decoder.Decode(v))
}

func FormatFloat(val float64) string {
	return strconv.FormatFloat(val, 'f', -1, 64)
}
