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
	"sort"

	"gonum.org/v1/gonum/stat"
)

// EstimateOpts configures Estimate.
type EstimateOpts struct {
	// Iterations is the number of background subsamples.
	Iterations int
	// ConfidenceLevel of [CILow, CIHigh].
	ConfidenceLevel float64
}

// PairResult is the differential binding result of one motif between two
// conditions.  Positive scores mean stronger binding in CondB.
type PairResult struct {
	CondA, CondB string
	// Score is the mean over sites of normB[i] - normA[i].
	Score float64
	// CILow and CIHigh bound Score at the configured confidence level.
	CILow, CIHigh float64
	// PValue is the empirical two-sided p-value of Score against the
	// background subsamples; it is never 0.
	PValue float64
	// Significance is -log10(PValue).
	Significance float64
	// MeanChange is the difference between the mean raw (unnormalized)
	// scores of CondB and CondA.
	MeanChange float64
	// LowConfidence is set when the background pool was smaller than the
	// number of sites, so subsamples were drawn with replacement.
	LowConfidence bool
}

// Estimate computes the differential score of normB over normA, which must
// have equal length and site order, and ranks it against opts.Iterations
// subsample means of background, the pool of normalized score differences at
// unbound background positions.  Subsamples have len(normA) values, drawn
// without replacement when the pool is large enough and with replacement
// (LowConfidence) otherwise.
//
// With null mean m, the p-value is (1 + #{k: |null_k - m| >= |score - m|}) /
// (Iterations + 1), and the interval is [score - (q_hi - m), score - (q_lo -
// m)] for the empirical null quantiles q_lo, q_hi.  An empty pool gives p = 1
// and a zero-width interval.
func Estimate(normA, normB, background []float64, rng *rand.Rand, opts EstimateOpts) PairResult {
	var r PairResult
	n := len(normA)
	if len(normB) < n {
		n = len(normB)
	}
	for i := 0; i < n; i++ {
		r.Score += normB[i] - normA[i]
	}
	if n > 0 {
		r.Score /= float64(n)
	}
	if n == 0 || len(background) == 0 || opts.Iterations < 1 {
		r.PValue, r.CILow, r.CIHigh = 1, r.Score, r.Score
		r.LowConfidence = len(background) == 0
		return r
	}

	null := make([]float64, opts.Iterations)
	withReplacement := len(background) < n
	var scratch []float64
	if !withReplacement {
		scratch = make([]float64, len(background))
		copy(scratch, background)
	}
	for k := range null {
		var sum float64
		if withReplacement {
			for i := 0; i < n; i++ {
				sum += background[rng.Intn(len(background))]
			}
		} else {
			// Partial Fisher-Yates: scratch[:n] becomes a uniform sample.
			for i := 0; i < n; i++ {
				j := i + rng.Intn(len(scratch)-i)
				scratch[i], scratch[j] = scratch[j], scratch[i]
				sum += scratch[i]
			}
		}
		null[k] = sum / float64(n)
	}
	r.LowConfidence = withReplacement

	m := stat.Mean(null, nil)
	dev := math.Abs(r.Score - m)
	extreme := 0
	for _, v := range null {
		if math.Abs(v-m) >= dev {
			extreme++
		}
	}
	r.PValue = float64(1+extreme) / float64(len(null)+1)
	r.Significance = -math.Log10(r.PValue)

	sort.Float64s(null)
	alpha := 1 - opts.ConfidenceLevel
	qLo := stat.Quantile(alpha/2, stat.Empirical, null, nil)
	qHi := stat.Quantile(1-alpha/2, stat.Empirical, null, nil)
	r.CILow = r.Score - (qHi - m)
	r.CIHigh = r.Score - (qLo - m)
	return r
}

// unboundDiffs returns normB[i] - normA[i] over the sites unbound in both
// conditions.
func unboundDiffs(normA, normB []float64, boundA, boundB []bool) []float64 {
	var diffs []float64
	for i := range normA {
		if !boundA[i] && !boundB[i] {
			diffs = append(diffs, normB[i]-normA[i])
		}
	}
	return diffs
}
