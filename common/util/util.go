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
	"strconv"

	"github.com/gorse-io/bandmate/base/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/constraints"
)

func ParseFloat[T constraints.Float](s string) (T, error) {
	v, err := strconv.ParseFloat(s, 64)
	return T(v), err
}

// RangeInt returns [0, n).
func RangeInt(n int) []int {
	a := make([]int, n)
	for i := range a {
		a[i] = i
	}
	return a
}

// CheckPanic catches panic. The recovered value is stored into err unless
// err is nil.
func CheckPanic(err *error) {
	if r := recover(); r != nil {
		log.Logger().Error("panic recovered", zap.Any("panic", r))
		if err != nil {
			*err = errors.Errorf("panic recovered: %v", r)
		}
	}
}
