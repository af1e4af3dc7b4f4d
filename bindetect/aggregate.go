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
)

// Table is the result of a run: one row per motif that was processed,
// including motifs without sites, plus the failed motifs.
type Table struct {
	RunID      string
	Conditions []string
	// Rows are sorted by the configured key.
	Rows []*MotifResult
	// Errors are in motif input order.
	Errors   []MotifError
	Clusters []Cluster
	// BackgroundSize is the number of background positions; 0 when each motif
	// was normalized on its own.
	BackgroundSize int
	BackgroundGC   float64
}

// Pairs returns the condition pairs of the table in Row.Pairs order.
func (t *Table) Pairs() [][2]string {
	var pairs [][2]string
	for _, p := range conditionPairs(len(t.Conditions)) {
		pairs = append(pairs, [2]string{t.Conditions[p[0]], t.Conditions[p[1]]})
	}
	return pairs
}

// Aggregate assembles the finished rows into a Table: rows are sorted by
// opts.SortBy on pair opts.SortPair with ties broken by input index, motifs
// are clustered by their differential score profiles, and volcano highlights
// are flagged.  Only the per-pair results of each row are read.
func Aggregate(rows []*MotifResult, errs []MotifError, conditions []string, opts *Opts) (*Table, error) {
	o, err := opts.validate(len(conditions))
	if err != nil {
		return nil, err
	}
	return aggregate(rows, errs, conditions, o), nil
}

func aggregate(rows []*MotifResult, errs []MotifError, conditions []string, o *runOpts) *Table {
	t := &Table{
		Conditions:   conditions,
		Rows:         append([]*MotifResult(nil), rows...),
		Errors:       append([]MotifError(nil), errs...),
		BackgroundGC: math.NaN(),
	}
	sort.SliceStable(t.Errors, func(i, j int) bool { return t.Errors[i].Index < t.Errors[j].Index })
	sortRows(t.Rows, o.sortBy, o.SortPair)
	markHighlights(t.Rows, o.SortPair)
	t.Clusters = clusterRows(t.Rows, o.ClusterThreshold)
	return t
}

func sortRows(rows []*MotifResult, key SortKey, pair int) {
	pairOf := func(r *MotifResult) (PairResult, bool) {
		if pair < len(r.Pairs) {
			return r.Pairs[pair], true
		}
		return PairResult{}, false
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		pa, okA := pairOf(a)
		pb, okB := pairOf(b)
		switch key {
		case SortName:
			if a.Motif.UID != b.Motif.UID {
				return a.Motif.UID < b.Motif.UID
			}
		case SortSignificance, SortScore:
			// Rows without results go last.
			if okA != okB {
				return okA
			}
			if key == SortSignificance && pa.Significance != pb.Significance {
				return pa.Significance > pb.Significance
			}
			if sa, sb := math.Abs(pa.Score), math.Abs(pb.Score); sa != sb {
				return sa > sb
			}
		}
		return a.Index < b.Index
	})
}

// markHighlights flags rows whose score lies outside the 5th to 95th
// percentile of all scores, or whose significance is above the 95th
// percentile.
func markHighlights(rows []*MotifResult, pair int) {
	var scores, sigs []float64
	for _, r := range rows {
		if pair < len(r.Pairs) {
			scores = append(scores, r.Pairs[pair].Score)
			sigs = append(sigs, r.Pairs[pair].Significance)
		}
	}
	if len(scores) == 0 {
		return
	}
	sort.Float64s(scores)
	sort.Float64s(sigs)
	lo := stat.Quantile(0.05, stat.Empirical, scores, nil)
	hi := stat.Quantile(0.95, stat.Empirical, scores, nil)
	sigHi := stat.Quantile(0.95, stat.Empirical, sigs, nil)
	for _, r := range rows {
		if pair >= len(r.Pairs) {
			continue
		}
		p := r.Pairs[pair]
		r.Highlight = p.Score < lo || p.Score > hi || p.Significance > sigHi
	}
}
