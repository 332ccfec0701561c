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

package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFloat(t *testing.T) {
	v, err := ParseFloat[float64]("11690.5")
	assert.NoError(t, err)
	assert.Equal(t, 11690.5, v)
	_, err = ParseFloat[float32]("many")
	assert.Error(t, err)
}

func TestRangeInt(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, RangeInt(3))
	assert.Empty(t, RangeInt(0))
}

func TestCheckPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		defer CheckPanic(nil)
		panic("boom")
	})
	err := func() (err error) {
		defer CheckPanic(&err)
		panic("boom")
	}()
	assert.ErrorContains(t, err, "boom")
}
