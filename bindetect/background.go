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
	"context"
	"encoding/binary"
	"math"
	"math/rand"
	"sort"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bindetect/encoding/fasta"
	"github.com/grailbio/bindetect/interval"
	"github.com/grailbio/bindetect/site"
	"github.com/grailbio/bindetect/track"
)

// BackgroundModel holds the scores of random positions in the background
// regions and everything derived from them that all motifs share: the
// per-condition quantile maps, the classification of the normalized
// background, and the per-pair pools of unbound score differences.
type BackgroundModel struct {
	// Positions are the sampled 1-base sites, in region order.
	Positions []site.Site
	// Raw[c][i] is the score of Positions[i] on condition c.
	Raw [][]float64
	// Normalized[c] is Raw[c] after Maps[c].
	Normalized [][]float64
	Maps       []QuantileMap
	Classes    []Classification
	// GC is the GC fraction of the background regions, or NaN without a
	// reference.
	GC    float64
	pools [][][]float64
}

// Pool returns the normalized differences (cond j minus cond i) at
// background positions unbound in both conditions.
func (b *BackgroundModel) Pool(i, j int) []float64 {
	return b.pools[i][j]
}

// regionSeed derives the sampling seed of one region from the run seed and
// the region coordinates, so sampling does not depend on region order.
func regionSeed(runSeed int64, e interval.Entry) int64 {
	buf := make([]byte, 0, len(e.ChrName)+8)
	buf = append(buf, e.ChrName...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(e.Start0))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(e.End))
	return int64(farm.Hash64WithSeed(buf, uint64(runSeed)))
}

// samplePositions draws max(1, len/window) distinct positions of e, sorted.
func samplePositions(e interval.Entry, window int, seed int64) []int {
	length := e.Len()
	if length <= 0 {
		return nil
	}
	n := length / window
	if n < 1 {
		n = 1
	}
	rng := rand.New(rand.NewSource(seed))
	seen := make(map[int]bool, n)
	pos := make([]int, 0, n)
	for len(pos) < n {
		p := int(e.Start0) + rng.Intn(length)
		if !seen[p] {
			seen[p] = true
			pos = append(pos, p)
		}
	}
	sort.Ints(pos)
	return pos
}

// BuildBackground samples and scores background positions in regions.
// Regions on chromosomes missing from any condition track are skipped.  If
// within is non-nil, only positions it contains are kept.  A nil model is
// returned when no position could be scored.
func BuildBackground(ctx context.Context, regions []interval.Entry, within *interval.BEDUnion, conds []Condition, ref fasta.Fasta, opts *Opts) (*BackgroundModel, error) {
	o, err := opts.validate(len(conds))
	if err != nil {
		return nil, err
	}
	return buildBackground(ctx, regions, within, conds, ref, o)
}

func buildBackground(ctx context.Context, regions []interval.Entry, within *interval.BEDUnion, conds []Condition, ref fasta.Fasta, o *runOpts) (*BackgroundModel, error) {
	regions = interval.SortEntries(append([]interval.Entry(nil), regions...))
	type regionScores struct {
		positions []site.Site
		raw       [][]float64
	}
	slots := make([]regionScores, len(regions))
	err := traverse.Limit(o.workers).Each(len(regions), func(ri int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := regions[ri]
		if within != nil && !within.Overlaps(e.ChrName, e.Start0, e.End) {
			return nil
		}
		for _, c := range conds {
			if _, ok := c.Track.SeqLength(e.ChrName); !ok {
				log.Debug.Printf("bindetect: background region %v skipped, no data on track %s", e, c.Track.Name())
				return nil
			}
		}
		pos := samplePositions(e, o.BackgroundWindow, regionSeed(o.Seed, e))
		if within != nil {
			kept := pos[:0]
			for _, p := range pos {
				if within.Contains(e.ChrName, interval.PosType(p)) {
					kept = append(kept, p)
				}
			}
			pos = kept
		}
		slot := regionScores{positions: make([]site.Site, len(pos)), raw: make([][]float64, len(conds))}
		for i, p := range pos {
			slot.positions[i] = site.Site{Chrom: e.ChrName, Start: p, End: p + 1, Strand: '.'}
		}
		for ci, c := range conds {
			vals, err := track.ExtractAll(slot.positions, c.Track, o.extract)
			if err != nil {
				return err
			}
			slot.raw[ci] = vals
		}
		slots[ri] = slot
		return nil
	})
	if err != nil {
		return nil, err
	}

	b := &BackgroundModel{Raw: make([][]float64, len(conds)), GC: math.NaN()}
	for _, slot := range slots {
		b.Positions = append(b.Positions, slot.positions...)
		for ci := range conds {
			b.Raw[ci] = append(b.Raw[ci], slot.raw[ci]...)
		}
	}
	if len(b.Positions) == 0 {
		return nil, nil
	}
	if o.MaxBackground > 0 && len(b.Positions) > o.MaxBackground {
		b.subsample(o.MaxBackground, o.Seed)
	}

	if b.Maps, err = FitQuantileMaps(b.Raw); err != nil {
		return nil, err
	}
	b.Normalized = make([][]float64, len(conds))
	b.Classes = make([]Classification, len(conds))
	for ci, c := range conds {
		if b.Maps[ci].Identity() {
			log.Printf("bindetect: %v", &InsufficientDataError{Condition: c.Name, N: len(b.Positions), Reason: "background scores have fewer than 2 distinct values; not normalized"})
		}
		b.Normalized[ci] = b.Maps[ci].ApplyAll(b.Raw[ci])
		b.Classes[ci] = Classify(b.Normalized[ci], c.Threshold, o.classify)
	}
	b.pools = make([][][]float64, len(conds))
	for i := range conds {
		b.pools[i] = make([][]float64, len(conds))
		for j := i + 1; j < len(conds); j++ {
			b.pools[i][j] = unboundDiffs(b.Normalized[i], b.Normalized[j], b.Classes[i].Bound, b.Classes[j].Bound)
		}
	}
	if ref != nil {
		if b.GC, err = fasta.GCContent(ref, regions); err != nil {
			return nil, err
		}
	}
	log.Printf("bindetect: background model: %d positions in %d regions", len(b.Positions), len(regions))
	return b, nil
}

// subsample keeps n positions chosen with a generator seeded by seed,
// preserving their order.
func (b *BackgroundModel) subsample(n int, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	keep := rng.Perm(len(b.Positions))[:n]
	sort.Ints(keep)
	positions := make([]site.Site, n)
	for i, k := range keep {
		positions[i] = b.Positions[k]
	}
	b.Positions = positions
	for ci, raw := range b.Raw {
		vals := make([]float64, n)
		for i, k := range keep {
			vals[i] = raw[k]
		}
		b.Raw[ci] = vals
	}
}
