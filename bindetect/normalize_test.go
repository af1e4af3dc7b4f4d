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
	"math"
	"math/rand"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKeepsSiteOrder(t *testing.T) {
	a := []float64{3, 1, 2}
	b := []float64{30, 10, 20}
	out, degenerate, err := Normalize([][]float64{a, b})
	assert.NoError(t, err)
	expect.EQ(t, len(degenerate), 0)
	// Reference: mean of sorted vectors = 5.5, 11, 16.5.
	expect.EQ(t, out[0], []float64{16.5, 5.5, 11})
	expect.EQ(t, out[1], []float64{16.5, 5.5, 11})
	// Inputs are untouched.
	expect.EQ(t, a, []float64{3, 1, 2})
}

func TestNormalizeIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	v := make([]float64, 200)
	for i := range v {
		v[i] = rng.ExpFloat64() * 10
	}
	perm := make([]float64, len(v))
	for i, j := range rng.Perm(len(v)) {
		perm[i] = v[j]
	}
	for _, vectors := range [][][]float64{{v, v}, {v, perm}, {v, v, perm}} {
		out, _, err := Normalize(vectors)
		assert.NoError(t, err)
		for c := range vectors {
			require.InDeltaSlice(t, vectors[c], out[c], 1e-9)
		}
	}
}

func TestNormalizeMonotoneWithTies(t *testing.T) {
	a := []float64{0, 0, 0, 0, 0, 0, 1e6, 5, 0, 0, math.NaN(), -3}
	b := []float64{0, 0, 0, 0, 1, 2, 3, 4, 1e9, 0, 0, math.Inf(1)}
	vectors := [][]float64{a, b}
	out, _, err := Normalize(vectors)
	assert.NoError(t, err)
	for c, v := range vectors {
		for i := range v {
			expect.False(t, math.IsNaN(out[c][i]) || math.IsInf(out[c][i], 0), "cond %d site %d: %v", c, i, out[c][i])
			for j := range v {
				if finiteOrZero(v[i]) < finiteOrZero(v[j]) {
					expect.True(t, out[c][i] <= out[c][j], "cond %d: raw %v < %v but normalized %v > %v", c, v[i], v[j], out[c][i], out[c][j])
				}
			}
		}
	}
	// Tied raw values share one normalized value.
	expect.EQ(t, out[0][0], out[0][9])
}

func TestNormalizeDegenerate(t *testing.T) {
	out, degenerate, err := Normalize([][]float64{{2, 2, 2}, {1, 2, 3}})
	assert.NoError(t, err)
	expect.EQ(t, degenerate, []int{0})
	expect.EQ(t, out[0], []float64{2, 2, 2})

	out, degenerate, err = Normalize([][]float64{{}, {}})
	assert.NoError(t, err)
	expect.EQ(t, len(degenerate), 0)
	expect.EQ(t, len(out[0]), 0)

	_, _, err = Normalize([][]float64{{1, 2}, {1}})
	expect.NotNil(t, err)
}

func TestQuantileMapApply(t *testing.T) {
	maps, err := FitQuantileMaps([][]float64{{0, 10, 20}, {0, 20, 40}})
	assert.NoError(t, err)
	m := maps[0]
	expect.False(t, m.Identity())
	// Reference: 0, 15, 30.
	tests := []struct {
		in, want float64
	}{
		{-5, 0},
		{0, 0},
		{5, 7.5},
		{10, 15},
		{15, 22.5},
		{20, 30},
		{1e12, 30},
		{math.NaN(), 0},
		{math.Inf(-1), 0},
	}
	for _, test := range tests {
		expect.EQ(t, m.Apply(test.in), test.want, "input %v", test.in)
	}
	var identity QuantileMap
	expect.True(t, identity.Identity())
	expect.EQ(t, identity.Apply(3.5), 3.5)
}
