// Copyright 2024 gorse Project Authors
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

package blob

import (
	"io"
	"os"
	"path/filepath"

	"github.com/juju/errors"
)

// POSIX stores blobs as files in a local directory.
type POSIX struct {
	dir string
}

func NewPOSIX(dir string) *POSIX {
	return &POSIX{dir: dir}
}

// Open a file for reading.
func (p *POSIX) Open(name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(p.dir, name))
}

// Create a file for writing. Data goes to a temporary file that replaces the
// target on Close, so readers never observe a partial blob.
func (p *POSIX) Create(name string) (io.WriteCloser, <-chan error, error) {
	fullPath := filepath.Join(p.dir, name)
	if err := os.MkdirAll(filepath.Dir(fullPath), os.ModePerm); err != nil {
		return nil, nil, errors.Trace(err)
	}
	file, err := os.CreateTemp(filepath.Dir(fullPath), "."+filepath.Base(fullPath)+".*")
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	done := make(chan error, 1)
	return &posixWriter{File: file, path: fullPath, done: done}, done, nil
}

type posixWriter struct {
	*os.File
	path string
	done chan error
}

func (w *posixWriter) Close() error {
	err := w.File.Close()
	if err == nil {
		err = os.Rename(w.File.Name(), w.path)
	}
	if err != nil {
		_ = os.Remove(w.File.Name())
		err = errors.Trace(err)
	}
	w.done <- err
	close(w.done)
	return err
}

func (w *posixWriter) CloseWithError(cause error) error {
	_ = w.File.Close()
	err := os.Remove(w.File.Name())
	w.done <- cause
	close(w.done)
	return errors.Trace(err)
}

func (p *POSIX) List() ([]string, error) {
	var names []string
	err := filepath.WalkDir(p.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name()[0] == '.' {
			return nil
		}
		name, err := filepath.Rel(p.dir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(name))
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return names, errors.Trace(err)
}

func (p *POSIX) Remove(name string) error {
	return errors.Trace(os.Remove(filepath.Join(p.dir, name)))
}
