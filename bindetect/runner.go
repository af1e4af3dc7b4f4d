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
	"fmt"
	"io"
	"math"
	"math/rand"

	farm "github.com/dgryski/go-farm"
	"github.com/google/uuid"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bindetect/encoding/fasta"
	"github.com/grailbio/bindetect/interval"
	"github.com/grailbio/bindetect/motif"
	"github.com/grailbio/bindetect/site"
	"github.com/grailbio/bindetect/track"
	"gonum.org/v1/gonum/stat"
)

// FlagNoSites marks the row of a motif without candidate sites.
const FlagNoSites = "no_sites"

// Condition is one experimental condition.
type Condition struct {
	Name  string
	Track track.Track
	// Peaks are the condition's peak regions; may be nil.
	Peaks *interval.BEDUnion
	// Threshold fixes the bound threshold of the condition.  NaN means the
	// threshold is fitted per motif.
	Threshold float64
}

// Input collects the data of a run.
type Input struct {
	Motifs     []motif.Motif
	Sites      site.Scanner
	Conditions []Condition
	// Background lists the background regions.  Nil means the union of the
	// conditions' peaks.
	Background *interval.BEDUnion
	// Regions, if set, restricts the run: sites outside it are dropped and
	// background positions outside it are not sampled.
	Regions *interval.BEDUnion
	// Reference, if set, is used to report the GC content of the background
	// and of each site.
	Reference fasta.Fasta
}

// Close closes the condition tracks that hold open files.
func (in *Input) Close() error {
	var err error
	for _, c := range in.Conditions {
		if cl, ok := c.Track.(io.Closer); ok {
			if cerr := cl.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}
	return err
}

// ConditionSummary aggregates one condition of one motif.
type ConditionSummary struct {
	Name string
	// MeanScore is the mean raw score over the motif's sites.
	MeanScore    float64
	Threshold    float64
	NBound       int
	PercentBound float64
}

// MotifResult is the outcome of one motif job.
type MotifResult struct {
	// Index is the motif's position in the input.
	Index  int
	Motif  motif.Motif
	NSites int
	Sites  []site.Site
	// Raw[c][i] and Normalized[c][i] are the scores of Sites[i] on condition c.
	Raw        [][]float64
	Normalized [][]float64
	// GC[i] is the GC fraction of the SiteGCWindow bases centered on Sites[i].
	// NaN without a reference or when the reference lacks the chromosome.
	GC         []float64
	Classes    []Classification
	Conditions []ConditionSummary
	// Pairs holds one result per condition pair (i, j), i < j, in
	// lexicographic order.
	Pairs []PairResult
	// Flag is FlagNoSites for motifs without sites.
	Flag string
	// Warnings lists non-fatal problems, e.g. fallback classification.
	Warnings []string
	// Cluster and Highlight are set by Aggregate.
	Cluster   string
	Highlight bool
}

// conditionPairs enumerates (i, j), i < j, in lexicographic order.
func conditionPairs(n int) [][2]int {
	var pairs [][2]int
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pairs = append(pairs, [2]int{i, j})
		}
	}
	return pairs
}

// MotifSeed is the seed of the generator used for motif index, derived from
// the run seed so that each motif draws an independent stream.
func MotifSeed(runSeed int64, index int) int64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(index))
	return int64(farm.Hash64WithSeed(buf[:], uint64(runSeed)))
}

// SiteGCWindow is the width of the window GC content is computed over for
// each site.
const SiteGCWindow = 500

type runner struct {
	in     Input
	motifs []motif.Motif
	opts   *runOpts
	bg     *BackgroundModel
	peaks  *interval.BEDUnion
	pairs  [][2]int
	// refSeqs holds the sequence lengths of in.Reference.
	refSeqs map[string]uint64
}

type jobResult struct {
	index int
	res   *MotifResult
	err   *MotifError
}

func validateInput(in *Input) error {
	seen := make(map[string]bool)
	for i, c := range in.Conditions {
		if c.Name == "" {
			return invalid("condition %d has no name", i)
		}
		if seen[c.Name] {
			return invalid("duplicate condition name %q", c.Name)
		}
		seen[c.Name] = true
		if c.Track == nil {
			return invalid("condition %s has no track", c.Name)
		}
	}
	if in.Sites == nil {
		return invalid("no site scanner")
	}
	return nil
}

// Run scores, normalizes, classifies and compares every motif of in, and
// returns the aggregated table.
//
// Option and input errors are errors.Invalid and are returned before any
// work starts.  Per-motif failures are collected in Table.Errors.  If ctx is
// canceled, Run stops dispatching motifs and returns the rows collected so far
// together with ctx.Err().
func Run(ctx context.Context, in Input, opts *Opts) (*Table, error) {
	o, err := opts.validate(len(in.Conditions))
	if err != nil {
		return nil, err
	}
	if err = validateInput(&in); err != nil {
		return nil, err
	}
	r := &runner{in: in, opts: o, pairs: conditionPairs(len(in.Conditions))}
	if in.Reference != nil {
		r.refSeqs = make(map[string]uint64)
		for _, seq := range in.Reference.SeqNames() {
			n, err := in.Reference.Len(seq)
			if err != nil {
				return nil, err
			}
			r.refSeqs[seq] = n
		}
	}
	var dups []*motif.DuplicateNameError
	r.motifs, dups = motif.Dedupe(in.Motifs)
	for _, d := range dups {
		log.Printf("bindetect: %v: %v", DuplicateMotifName, d)
	}

	peaks := make([]*interval.BEDUnion, 0, len(in.Conditions))
	for _, c := range in.Conditions {
		if c.Peaks != nil {
			peaks = append(peaks, c.Peaks)
		}
	}
	if len(peaks) > 0 {
		u, err := interval.Merge(peaks...)
		if err != nil {
			return nil, invalid("merging peaks: %v", err)
		}
		r.peaks = &u
	}
	bgRegions := in.Background
	if bgRegions == nil {
		bgRegions = r.peaks
	}
	if entries := bgRegions.Entries(); len(entries) > 0 {
		log.Printf("bindetect: background regions: %d bases on %d chromosomes", bgRegions.TotalBases(), len(bgRegions.Chroms()))
		if r.bg, err = buildBackground(ctx, entries, in.Regions, in.Conditions, in.Reference, o); err != nil {
			return nil, err
		}
	}
	if r.bg == nil {
		log.Printf("bindetect: no background positions; normalizing each motif on its own sites")
	}

	slots, err := r.runJobs(ctx)
	var (
		rows []*MotifResult
		errs []MotifError
	)
	for _, jr := range slots {
		switch {
		case jr.res != nil:
			rows = append(rows, jr.res)
		case jr.err != nil:
			errs = append(errs, *jr.err)
		}
	}
	names := make([]string, len(in.Conditions))
	for i, c := range in.Conditions {
		names[i] = c.Name
	}
	t := aggregate(rows, errs, names, o)
	t.RunID = uuid.New().String()
	if r.bg != nil {
		t.BackgroundSize = len(r.bg.Positions)
		t.BackgroundGC = r.bg.GC
	}
	return t, err
}

// runJobs runs the motifs on r.opts.workers goroutines and returns the
// results in input order.  Slots of motifs that were never run stay empty.
func (r *runner) runJobs(ctx context.Context) ([]jobResult, error) {
	slots := make([]jobResult, len(r.motifs))
	err := traverse.Limit(r.opts.workers).Each(len(r.motifs), func(idx int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, merr := r.runJob(ctx, idx)
		if merr != nil && ctx.Err() != nil {
			// Abandoned by cancellation, not a motif failure.
			return ctx.Err()
		}
		slots[idx] = jobResult{index: idx, res: res, err: merr}
		return nil
	})
	if err == nil {
		err = ctx.Err()
	}
	return slots, err
}

// runJob processes one motif.  Errors and panics are converted to a
// MotifError.
func (r *runner) runJob(ctx context.Context, idx int) (res *MotifResult, merr *MotifError) {
	m := r.motifs[idx]
	defer func() {
		if p := recover(); p != nil {
			log.Error.Printf("bindetect: motif %s: panic: %v", m.UID, p)
			res, merr = nil, &MotifError{Index: idx, UID: m.UID, Kind: WorkerFailure, Msg: fmt.Sprintf("panic: %v", p)}
		}
	}()
	res, err := r.processMotif(ctx, idx, m)
	if err != nil {
		log.Error.Printf("bindetect: motif %s: %v", m.UID, err)
		return nil, &MotifError{Index: idx, UID: m.UID, Kind: kindOf(err), Msg: err.Error()}
	}
	return res, nil
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return stat.Mean(v, nil)
}

// siteGC returns the GC fraction of the SiteGCWindow bases centered on s,
// clipped to the reference sequence.
func (r *runner) siteGC(s site.Site) (float64, error) {
	seqLen, ok := r.refSeqs[s.Chrom]
	if !ok {
		return math.NaN(), nil
	}
	mid := (s.Start + s.End) / 2
	start, end := mid-SiteGCWindow/2, mid+SiteGCWindow/2
	if start < 0 {
		start = 0
	}
	if uint64(end) > seqLen {
		end = int(seqLen)
	}
	if start >= end {
		return math.NaN(), nil
	}
	return fasta.GCContent(r.in.Reference, []interval.Entry{{ChrName: s.Chrom, Start0: interval.PosType(start), End: interval.PosType(end)}})
}

func (r *runner) processMotif(ctx context.Context, idx int, m motif.Motif) (*MotifResult, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	sites, err := r.in.Sites.Scan(ctx, m)
	if err != nil {
		return nil, err
	}
	if r.opts.RestrictToPeaks && r.peaks != nil {
		kept := sites[:0:0]
		for _, s := range sites {
			if r.peaks.Overlaps(s.Chrom, interval.PosType(s.Start), interval.PosType(s.End)) {
				kept = append(kept, s)
			}
		}
		sites = kept
	}
	if r.in.Regions != nil {
		kept := sites[:0:0]
		for _, s := range sites {
			if r.in.Regions.Overlaps(s.Chrom, interval.PosType(s.Start), interval.PosType(s.End)) {
				kept = append(kept, s)
			}
		}
		sites = kept
	}
	conds := r.in.Conditions
	res := &MotifResult{
		Index:      idx,
		Motif:      m,
		NSites:     len(sites),
		Sites:      sites,
		Conditions: make([]ConditionSummary, len(conds)),
	}
	for ci, c := range conds {
		res.Conditions[ci] = ConditionSummary{Name: c.Name, Threshold: math.NaN()}
	}
	if len(sites) == 0 {
		res.Flag = FlagNoSites
		return res, nil
	}

	res.Raw = make([][]float64, len(conds))
	for ci, c := range conds {
		if res.Raw[ci], err = track.ExtractAll(sites, c.Track, r.opts.extract); err != nil {
			if lerr, ok := err.(*track.LookupError); ok {
				lerr.Condition = c.Name
			}
			return nil, err
		}
	}

	res.GC = make([]float64, len(sites))
	for i, s := range sites {
		if res.GC[i], err = r.siteGC(s); err != nil {
			return nil, err
		}
	}

	if r.bg != nil {
		res.Normalized = make([][]float64, len(conds))
		for ci := range conds {
			res.Normalized[ci] = r.bg.Maps[ci].ApplyAll(res.Raw[ci])
		}
	} else {
		var degenerate []int
		if res.Normalized, degenerate, err = Normalize(res.Raw); err != nil {
			return nil, err
		}
		for _, ci := range degenerate {
			res.Warnings = append(res.Warnings, (&InsufficientDataError{
				Condition: conds[ci].Name, N: len(sites), Reason: "fewer than 2 distinct scores; not normalized"}).Error())
		}
	}

	res.Classes = make([]Classification, len(conds))
	for ci, c := range conds {
		cl := Classify(res.Normalized[ci], c.Threshold, r.opts.classify)
		if cl.Fallback {
			res.Warnings = append(res.Warnings, (&InsufficientDataError{
				Condition: c.Name, N: len(sites), Reason: "no mixture fit; quantile threshold used"}).Error())
		}
		res.Classes[ci] = cl
		res.Conditions[ci].MeanScore = mean(res.Raw[ci])
		res.Conditions[ci].Threshold = cl.Threshold
		res.Conditions[ci].NBound = cl.NBound
		res.Conditions[ci].PercentBound = cl.PercentBound
	}
	for _, w := range res.Warnings {
		log.Debug.Printf("bindetect: motif %s: %s", m.UID, w)
	}

	rng := rand.New(rand.NewSource(MotifSeed(r.opts.Seed, idx)))
	res.Pairs = make([]PairResult, len(r.pairs))
	for pi, p := range r.pairs {
		i, j := p[0], p[1]
		var pool []float64
		if r.bg != nil {
			pool = r.bg.Pool(i, j)
		} else {
			pool = unboundDiffs(res.Normalized[i], res.Normalized[j], res.Classes[i].Bound, res.Classes[j].Bound)
		}
		pr := Estimate(res.Normalized[i], res.Normalized[j], pool, rng, r.opts.estimate)
		pr.CondA, pr.CondB = conds[i].Name, conds[j].Name
		pr.MeanChange = res.Conditions[j].MeanScore - res.Conditions[i].MeanScore
		res.Pairs[pi] = pr
	}
	return res, nil
}
