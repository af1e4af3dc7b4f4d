// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bindetect

import (
	"fmt"
	"math"
	"sort"
)

// QuantileMap maps the raw scores of one condition onto the reference
// distribution.  Breakpoints x are the distinct raw values of the fitted
// vector in increasing order; y[i] is the mean reference value over the ranks
// x[i] occupies, so tied raw values share one mapped value.  Between
// breakpoints the map is linear; outside them it is clamped to the end
// values.  The map is therefore finite and non-decreasing everywhere,
// including at the extreme quantiles where footprint scores pile up.
//
// The zero QuantileMap is the identity.
type QuantileMap struct {
	x, y []float64
}

// Identity reports whether q leaves scores unchanged.  Maps fitted on fewer
// than two distinct values are identities.
func (q QuantileMap) Identity() bool {
	return len(q.x) == 0
}

// Apply maps one raw score.  Non-finite scores are treated as 0.
func (q QuantileMap) Apply(v float64) float64 {
	v = finiteOrZero(v)
	n := len(q.x)
	if n == 0 {
		return v
	}
	if v <= q.x[0] {
		return q.y[0]
	}
	if v >= q.x[n-1] {
		return q.y[n-1]
	}
	i := sort.SearchFloat64s(q.x, v) // q.x[i-1] < v <= q.x[i], 1 <= i < n
	if q.x[i] == v {
		return q.y[i]
	}
	frac := (v - q.x[i-1]) / (q.x[i] - q.x[i-1])
	return q.y[i-1] + frac*(q.y[i]-q.y[i-1])
}

// ApplyAll maps every score of v into a new slice.
func (q QuantileMap) ApplyAll(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = q.Apply(x)
	}
	return out
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// FitQuantileMaps fits one QuantileMap per vector against the reference
// distribution: the elementwise mean of the sorted vectors.  All vectors must
// have the same length.  A vector with fewer than two distinct values gets
// the identity map.
func FitQuantileMaps(vectors [][]float64) ([]QuantileMap, error) {
	maps := make([]QuantileMap, len(vectors))
	if len(vectors) == 0 {
		return maps, nil
	}
	n := len(vectors[0])
	for i, v := range vectors {
		if len(v) != n {
			return nil, fmt.Errorf("bindetect.FitQuantileMaps: vector %d has length %d, expected %d", i, len(v), n)
		}
	}
	if n == 0 {
		return maps, nil
	}
	sorted := make([][]float64, len(vectors))
	ref := make([]float64, n)
	for i, v := range vectors {
		s := make([]float64, n)
		for j, x := range v {
			s[j] = finiteOrZero(x)
		}
		sort.Float64s(s)
		sorted[i] = s
		for j, x := range s {
			ref[j] += x
		}
	}
	for j := range ref {
		ref[j] /= float64(len(vectors))
	}
	for i, s := range sorted {
		maps[i] = fitQuantileMap(s, ref)
	}
	return maps, nil
}

// fitQuantileMap builds the map of one sorted vector onto ref.
func fitQuantileMap(sorted, ref []float64) QuantileMap {
	if sorted[0] == sorted[len(sorted)-1] {
		return QuantileMap{}
	}
	var q QuantileMap
	for lo := 0; lo < len(sorted); {
		hi := lo + 1
		for hi < len(sorted) && sorted[hi] == sorted[lo] {
			hi++
		}
		var sum float64
		for j := lo; j < hi; j++ {
			sum += ref[j]
		}
		q.x = append(q.x, sorted[lo])
		q.y = append(q.y, sum/float64(hi-lo))
		lo = hi
	}
	return q
}

// Normalize quantile-normalizes one motif's score vectors, one per condition,
// keeping every vector in site order.  The second return value lists the
// conditions whose vectors were left unchanged for lack of distinct values.
func Normalize(vectors [][]float64) ([][]float64, []int, error) {
	maps, err := FitQuantileMaps(vectors)
	if err != nil {
		return nil, nil, err
	}
	out := make([][]float64, len(vectors))
	var degenerate []int
	for i, v := range vectors {
		if maps[i].Identity() && len(v) > 0 {
			degenerate = append(degenerate, i)
		}
		out[i] = maps[i].ApplyAll(v)
	}
	return out, degenerate, nil
}
