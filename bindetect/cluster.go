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
	"strconv"

	"gonum.org/v1/gonum/floats"
)

// Cluster is a group of motifs with similar differential score profiles.
type Cluster struct {
	Name string
	// Members are motif UIDs in table order.
	Members []string
}

// clusterRows groups rows by average-linkage agglomeration on the Euclidean
// distance between their score profiles (the Score of every pair), merging
// while the closest clusters are at most threshold apart.  Clusters are named
// C_1, C_2, ... in the order of their first member in rows, and every member
// row gets its cluster name.  Rows without pair results are not clustered.
func clusterRows(rows []*MotifResult, threshold float64) []Cluster {
	var (
		members  [][]int // row indices per live cluster
		profiles [][]float64
	)
	for ri, r := range rows {
		if len(r.Pairs) == 0 {
			continue
		}
		p := make([]float64, len(r.Pairs))
		for i, pr := range r.Pairs {
			p[i] = pr.Score
		}
		profiles = append(profiles, p)
		members = append(members, []int{ri})
	}
	n := len(members)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
		for j := 0; j < i; j++ {
			d := floats.Distance(profiles[i], profiles[j], 2)
			dist[i][j], dist[j][i] = d, d
		}
	}
	alive := make([]bool, n)
	for i := range alive {
		alive[i] = true
	}
	for {
		bi, bj, best := -1, -1, math.Inf(1)
		for i := 0; i < n; i++ {
			if !alive[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if alive[j] && dist[i][j] < best {
					bi, bj, best = i, j, dist[i][j]
				}
			}
		}
		if bi < 0 || best > threshold {
			break
		}
		// Lance-Williams update for average linkage.
		ni, nj := float64(len(members[bi])), float64(len(members[bj]))
		for k := 0; k < n; k++ {
			if !alive[k] || k == bi || k == bj {
				continue
			}
			d := (ni*dist[bi][k] + nj*dist[bj][k]) / (ni + nj)
			dist[bi][k], dist[k][bi] = d, d
		}
		members[bi] = append(members[bi], members[bj]...)
		alive[bj] = false
	}

	// Order clusters by their first row.
	first := make(map[int]int) // first row -> cluster
	for c := 0; c < n; c++ {
		if !alive[c] {
			continue
		}
		minRow := members[c][0]
		for _, ri := range members[c] {
			if ri < minRow {
				minRow = ri
			}
		}
		first[minRow] = c
	}
	var clusters []Cluster
	for ri := range rows {
		c, ok := first[ri]
		if !ok {
			continue
		}
		name := "C_" + strconv.Itoa(len(clusters)+1)
		cl := Cluster{Name: name}
		inCluster := make(map[int]bool, len(members[c]))
		for _, m := range members[c] {
			inCluster[m] = true
		}
		for rj := range rows {
			if inCluster[rj] {
				rows[rj].Cluster = name
				cl.Members = append(cl.Members, rows[rj].Motif.UID)
			}
		}
		clusters = append(clusters, cl)
	}
	return clusters
}
