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
	"testing"

	"github.com/grailbio/bindetect/motif"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func row(index int, uid string, score, significance float64) *MotifResult {
	return &MotifResult{
		Index: index,
		Motif: motif.Motif{UID: uid, Name: uid},
		Pairs: []PairResult{{CondA: "A", CondB: "B", Score: score, Significance: significance}},
	}
}

func uids(rows []*MotifResult) []string {
	var out []string
	for _, r := range rows {
		out = append(out, r.Motif.UID)
	}
	return out
}

func testRows() []*MotifResult {
	return []*MotifResult{
		row(0, "m0", 0.1, 1),
		row(1, "m1", -3, 2),
		{Index: 2, Motif: motif.Motif{UID: "empty"}, Flag: FlagNoSites},
		row(3, "m3", 2, 2),
		row(4, "a4", 0.1, 1),
	}
}

func TestAggregateSort(t *testing.T) {
	tests := []struct {
		sortBy string
		want   []string
	}{
		{"significance", []string{"m1", "m3", "m0", "a4", "empty"}},
		{"score", []string{"m1", "m3", "m0", "a4", "empty"}},
		{"name", []string{"a4", "empty", "m0", "m1", "m3"}},
		{"input", []string{"m0", "m1", "empty", "m3", "a4"}},
	}
	for _, test := range tests {
		opts := DefaultOpts
		opts.SortBy = test.sortBy
		rows := testRows()
		tab, err := Aggregate(rows, nil, []string{"A", "B"}, &opts)
		assert.NoError(t, err)
		expect.EQ(t, uids(tab.Rows), test.want, test.sortBy)
		// The input slice is not reordered.
		expect.EQ(t, uids(rows), []string{"m0", "m1", "empty", "m3", "a4"})
	}

	opts := DefaultOpts
	opts.SortBy = "pvalue"
	_, err := Aggregate(testRows(), nil, []string{"A", "B"}, &opts)
	expect.NotNil(t, err)
}

func TestAggregateErrorsInInputOrder(t *testing.T) {
	errs := []MotifError{{Index: 5, UID: "x"}, {Index: 1, UID: "y"}}
	tab, err := Aggregate(nil, errs, []string{"A", "B"}, &DefaultOpts)
	assert.NoError(t, err)
	expect.EQ(t, tab.Errors[0].UID, "y")
	expect.EQ(t, tab.Errors[1].UID, "x")
}

func TestAggregateClusters(t *testing.T) {
	rows := []*MotifResult{
		row(0, "m0", 0, 3),
		row(1, "m1", 5, 2),
		row(2, "m2", 0.1, 1),
		row(3, "m3", 5.2, 0),
		{Index: 4, Motif: motif.Motif{UID: "empty"}, Flag: FlagNoSites},
	}
	opts := DefaultOpts
	opts.SortBy = "input"
	tab, err := Aggregate(rows, nil, []string{"A", "B"}, &opts)
	assert.NoError(t, err)
	expect.EQ(t, tab.Clusters, []Cluster{
		{Name: "C_1", Members: []string{"m0", "m2"}},
		{Name: "C_2", Members: []string{"m1", "m3"}},
	})
	expect.EQ(t, tab.Rows[2].Cluster, "C_1")
	expect.EQ(t, tab.Rows[3].Cluster, "C_2")
	expect.EQ(t, tab.Rows[4].Cluster, "")

	opts.ClusterThreshold = 0
	tab, err = Aggregate(rows, nil, []string{"A", "B"}, &opts)
	assert.NoError(t, err)
	expect.EQ(t, len(tab.Clusters), 4)

	opts.ClusterThreshold = 100
	tab, err = Aggregate(rows, nil, []string{"A", "B"}, &opts)
	assert.NoError(t, err)
	expect.EQ(t, len(tab.Clusters), 1)
}

func TestAggregateHighlight(t *testing.T) {
	var rows []*MotifResult
	for i := 0; i < 20; i++ {
		rows = append(rows, row(i, string(rune('a'+i)), float64(i), 1))
	}
	opts := DefaultOpts
	opts.SortBy = "input"
	tab, err := Aggregate(rows, nil, []string{"A", "B"}, &opts)
	assert.NoError(t, err)
	for i, r := range tab.Rows {
		expect.EQ(t, r.Highlight, i == 19, "row %d", i)
	}
}
