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

package dataset

import (
	"github.com/juju/errors"
)

// Dict is a bijection between external identifiers and dense indices. Indices
// are assigned in order of first insertion, starting from 0.
type Dict struct {
	si map[string]int32
	is []string
}

func NewDict() *Dict {
	return &Dict{si: make(map[string]int32)}
}

// NewDictFromIds rebuilds a dictionary where ids[i] maps to index i.
func NewDictFromIds(ids []string) (*Dict, error) {
	d := &Dict{
		si: make(map[string]int32, len(ids)),
		is: make([]string, len(ids)),
	}
	for i, id := range ids {
		if _, exist := d.si[id]; exist {
			return nil, errors.NotValidf("duplicate id %q", id)
		}
		d.si[id] = int32(i)
		d.is[i] = id
	}
	return d, nil
}

// Add returns the index of id, assigning the next free index if id is new.
func (d *Dict) Add(id string) int32 {
	if index, ok := d.si[id]; ok {
		return index
	}
	index := int32(len(d.is))
	d.si[id] = index
	d.is = append(d.is, id)
	return index
}

// Index returns the index of id.
func (d *Dict) Index(id string) (int32, bool) {
	index, ok := d.si[id]
	return index, ok
}

// Id returns the identifier at index.
func (d *Dict) Id(index int32) (string, bool) {
	if index < 0 || int(index) >= len(d.is) {
		return "", false
	}
	return d.is[index], true
}

func (d *Dict) Count() int {
	return len(d.is)
}

// Ids returns identifiers ordered by index. The slice must not be modified.
func (d *Dict) Ids() []string {
	return d.is
}
