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
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	emMaxIter   = 200
	emTolerance = 1e-8
	// Component weights below this are a collapsed fit.
	emMinWeight = 1e-6
	// Component standard deviations are floored at this fraction of the data
	// range.
	emMinSigmaFrac = 1e-3
	bisectIter     = 100
)

// ClassifyOpts configures Classify.
type ClassifyOpts struct {
	// MinSites is the smallest vector a mixture is fitted on.
	MinSites int
	// FallbackQuantile is the threshold quantile used without a mixture.
	FallbackQuantile float64
}

// Classification labels the sites of one condition.
type Classification struct {
	// Bound[i] is true iff site i scores strictly above Threshold.
	Bound     []bool
	Threshold float64
	NBound    int
	// PercentBound is NBound/len(Bound), in [0, 1]; 0 for no sites.
	PercentBound float64
	// Fallback is set when Threshold is a quantile rather than the mixture
	// decision boundary.  A caller-fixed threshold is not a fallback.
	Fallback bool
}

// mixture is a two-component Gaussian mixture; component 0 (unbound) has the
// smaller mean.
type mixture struct {
	w  [2]float64
	c  [2]distuv.Normal
	ll float64
}

// Classify labels each score bound or unbound.  If threshold is not NaN it is
// used as is.  Otherwise a two-component Gaussian mixture is fitted by EM and
// the threshold is the score between the component means where the bound
// posterior crosses 1/2.  With fewer than opts.MinSites scores, fewer than two
// distinct values, a collapsed fit, or no crossing, the threshold is the
// opts.FallbackQuantile quantile of the scores.  Classify is deterministic.
func Classify(scores []float64, threshold float64, opts ClassifyOpts) Classification {
	c := Classification{Bound: make([]bool, len(scores))}
	switch {
	case !math.IsNaN(threshold):
		c.Threshold = threshold
	case len(scores) == 0:
		c.Fallback = true
	default:
		sorted := make([]float64, len(scores))
		for i, v := range scores {
			sorted[i] = finiteOrZero(v)
		}
		sort.Float64s(sorted)
		var ok bool
		if len(sorted) >= opts.MinSites && sorted[0] != sorted[len(sorted)-1] {
			if m, fitted := fitMixture(sorted); fitted {
				c.Threshold, ok = m.boundary()
			}
		}
		if !ok {
			c.Fallback = true
			c.Threshold = stat.Quantile(opts.FallbackQuantile, stat.Empirical, sorted, nil)
		}
	}
	for i, v := range scores {
		if finiteOrZero(v) > c.Threshold {
			c.Bound[i] = true
			c.NBound++
		}
	}
	if len(scores) > 0 {
		c.PercentBound = float64(c.NBound) / float64(len(scores))
	}
	return c
}

// fitMixture runs EM on sorted, which must hold at least two distinct values.
// The components start at the 25th and 75th percentiles with the pooled
// standard deviation.
func fitMixture(sorted []float64) (mixture, bool) {
	n := len(sorted)
	minSigma := emMinSigmaFrac * (sorted[n-1] - sorted[0])
	mu0 := stat.Quantile(0.25, stat.Empirical, sorted, nil)
	mu1 := stat.Quantile(0.75, stat.Empirical, sorted, nil)
	if mu0 == mu1 {
		// Too many ties to separate the quartiles; start at the extremes.
		mu0, mu1 = sorted[0], sorted[n-1]
	}
	sd := math.Max(stat.StdDev(sorted, nil), minSigma)
	m := mixture{
		w: [2]float64{0.5, 0.5},
		c: [2]distuv.Normal{{Mu: mu0, Sigma: sd}, {Mu: mu1, Sigma: sd}},
	}
	resp := make([]float64, n)
	prevLL := math.Inf(-1)
	for iter := 0; iter < emMaxIter; iter++ {
		// E step: resp[i] is the posterior of component 1, computed in log space.
		var ll float64
		for i, x := range sorted {
			l0 := math.Log(m.w[0]) + m.c[0].LogProb(x)
			l1 := math.Log(m.w[1]) + m.c[1].LogProb(x)
			hi := math.Max(l0, l1)
			lse := hi + math.Log(math.Exp(l0-hi)+math.Exp(l1-hi))
			resp[i] = math.Exp(l1 - lse)
			ll += lse
		}
		// M step.
		var r1 float64
		for _, r := range resp {
			r1 += r
		}
		r0 := float64(n) - r1
		if r0 < emMinWeight*float64(n) || r1 < emMinWeight*float64(n) {
			return m, false
		}
		var s0, s1 float64
		for i, x := range sorted {
			s0 += (1 - resp[i]) * x
			s1 += resp[i] * x
		}
		mu0, mu1 = s0/r0, s1/r1
		var v0, v1 float64
		for i, x := range sorted {
			v0 += (1 - resp[i]) * (x - mu0) * (x - mu0)
			v1 += resp[i] * (x - mu1) * (x - mu1)
		}
		m.w = [2]float64{r0 / float64(n), r1 / float64(n)}
		m.c[0] = distuv.Normal{Mu: mu0, Sigma: math.Max(math.Sqrt(v0/r0), minSigma)}
		m.c[1] = distuv.Normal{Mu: mu1, Sigma: math.Max(math.Sqrt(v1/r1), minSigma)}
		m.ll = ll
		if math.IsNaN(ll) {
			return m, false
		}
		if math.Abs(ll-prevLL) <= emTolerance*math.Abs(ll) {
			break
		}
		prevLL = ll
	}
	if m.c[0].Mu > m.c[1].Mu {
		m.w[0], m.w[1] = m.w[1], m.w[0]
		m.c[0], m.c[1] = m.c[1], m.c[0]
	}
	if m.c[0].Mu == m.c[1].Mu {
		return m, false
	}
	return m, true
}

// logOdds is log P(bound|x) - log P(unbound|x).
func (m mixture) logOdds(x float64) float64 {
	return math.Log(m.w[1]) + m.c[1].LogProb(x) - math.Log(m.w[0]) - m.c[0].LogProb(x)
}

// boundary bisects [mu0, mu1] for the point where the posterior crosses 1/2.
// It fails if the posterior does not change sides over the interval.
func (m mixture) boundary() (float64, bool) {
	lo, hi := m.c[0].Mu, m.c[1].Mu
	if !(m.logOdds(lo) < 0 && m.logOdds(hi) > 0) {
		return 0, false
	}
	for i := 0; i < bisectIter && lo < hi; i++ {
		mid := lo + (hi-lo)/2
		if mid == lo || mid == hi {
			break
		}
		if m.logOdds(mid) > 0 {
			hi = mid
		} else {
			lo = mid
		}
	}
	return lo + (hi-lo)/2, true
}
