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
	"math/rand"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
)

var testEstimateOpts = EstimateOpts{Iterations: 100, ConfidenceLevel: 0.95}

func ramp(n int, offset float64) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = offset + float64(i)
	}
	return v
}

// symmetricPool alternates -w and +w.
func symmetricPool(n int, w float64) []float64 {
	v := make([]float64, n)
	for i := range v {
		if i%2 == 0 {
			v[i] = -w
		} else {
			v[i] = w
		}
	}
	return v
}

func TestEstimateIdentical(t *testing.T) {
	v := ramp(50, 1)
	r := Estimate(v, v, make([]float64, 200), rand.New(rand.NewSource(1)), testEstimateOpts)
	expect.EQ(t, r.Score, 0.0)
	expect.EQ(t, r.PValue, 1.0)
	expect.EQ(t, r.CILow, 0.0)
	expect.EQ(t, r.CIHigh, 0.0)
	expect.False(t, r.LowConfidence)

	r = Estimate(v, v, symmetricPool(200, 1), rand.New(rand.NewSource(1)), testEstimateOpts)
	expect.EQ(t, r.Score, 0.0)
	expect.True(t, r.PValue > 0.5, "p-value %v", r.PValue)
	expect.True(t, r.CILow <= 0 && r.CIHigh >= 0, "CI [%v, %v]", r.CILow, r.CIHigh)
}

func TestEstimateShift(t *testing.T) {
	a := ramp(50, 1)
	b := ramp(50, 2)
	r := Estimate(a, b, symmetricPool(200, 0.01), rand.New(rand.NewSource(1)), testEstimateOpts)
	assert.InDelta(t, 1.0, r.Score, 1e-12)
	expect.EQ(t, r.PValue, 1.0/101)
	assert.InDelta(t, 2.0043, r.Significance, 1e-3)
	expect.True(t, r.CILow < 1 && r.CIHigh > 1 && r.CIHigh-r.CILow < 0.1, "CI [%v, %v]", r.CILow, r.CIHigh)

	// Opposite direction.
	r = Estimate(b, a, symmetricPool(200, 0.01), rand.New(rand.NewSource(1)), testEstimateOpts)
	assert.InDelta(t, -1.0, r.Score, 1e-12)
	expect.EQ(t, r.PValue, 1.0/101)
}

func TestEstimateSmallPool(t *testing.T) {
	a := ramp(50, 1)
	b := ramp(50, 2)
	r := Estimate(a, b, symmetricPool(10, 0.5), rand.New(rand.NewSource(1)), testEstimateOpts)
	expect.True(t, r.LowConfidence)

	r = Estimate(a, b, nil, rand.New(rand.NewSource(1)), testEstimateOpts)
	expect.True(t, r.LowConfidence)
	expect.EQ(t, r.PValue, 1.0)
	expect.EQ(t, r.CILow, r.Score)
	expect.EQ(t, r.CIHigh, r.Score)
}

func TestEstimateDeterministic(t *testing.T) {
	a := ramp(30, 0)
	b := make([]float64, len(a))
	for i := range b {
		b[i] = a[i] * 1.1
	}
	pool := make([]float64, 500)
	rng := rand.New(rand.NewSource(7))
	for i := range pool {
		pool[i] = rng.NormFloat64()
	}
	r1 := Estimate(a, b, pool, rand.New(rand.NewSource(MotifSeed(1, 3))), testEstimateOpts)
	r2 := Estimate(a, b, pool, rand.New(rand.NewSource(MotifSeed(1, 3))), testEstimateOpts)
	expect.EQ(t, r1, r2)
	expect.True(t, MotifSeed(1, 3) != MotifSeed(1, 4))
	expect.True(t, MotifSeed(1, 3) != MotifSeed(2, 3))
}
