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

// Package track provides random access to per-condition footprint-score
// tracks and reduces a track over a candidate site to one binding score.
package track

import (
	"fmt"
	"math"
	"sync"

	"github.com/pbenner/gonetics"
)

// Track is a read-only function from genomic position to footprint score.
// Implementations must be safe for concurrent use.
type Track interface {
	// Name identifies the track in errors and logs.
	Name() string
	// SeqLength returns the length of chrom, or false if the track has no data
	// for it.
	SeqLength(chrom string) (int, bool)
	// Values returns the readings over [from, to).  The range must lie within
	// [0, SeqLength(chrom)).  Positions without data are NaN.
	Values(chrom string, from, to int) ([]float64, error)
}

// LookupError reports a chromosome missing from a track.
type LookupError struct {
	Track     string
	Condition string
	Chrom     string
}

func (e *LookupError) Error() string {
	if e.Condition != "" {
		return fmt.Sprintf("track %s (condition %s): no data for %s", e.Track, e.Condition, e.Chrom)
	}
	return fmt.Sprintf("track %s: no data for %s", e.Track, e.Chrom)
}

// source is the part of a gonetics track that a Signal reads through.  Both
// gonetics.SimpleTrack and *gonetics.LazyTrackFile implement it.
type source interface {
	GetGenome() gonetics.Genome
	GetBinSize() int
	GetSlice(r gonetics.GRangesRow) ([]float64, error)
}

// Signal is a Track backed by a binned gonetics track.  A reading at position
// p is the value of the bin containing p.
type Signal struct {
	name    string
	src     source
	lengths map[string]int
	bin     int
	// mu serializes reads of file-backed sources, which share one handle.
	// Nil for in-memory sources.
	mu   *sync.Mutex
	lazy *gonetics.LazyTrackFile
}

func newSignal(name string, src source, serialize bool) *Signal {
	s := &Signal{name: name, src: src, lengths: make(map[string]int), bin: src.GetBinSize()}
	if s.bin <= 0 {
		s.bin = 1
	}
	g := src.GetGenome()
	for i, seq := range g.Seqnames {
		s.lengths[seq] = g.Lengths[i]
	}
	if serialize {
		s.mu = &sync.Mutex{}
	}
	return s
}

// NewSignal builds an in-memory Signal at base resolution from one array per
// sequence.
func NewSignal(name string, seqnames []string, data [][]float64) (*Signal, error) {
	if len(seqnames) != len(data) {
		return nil, fmt.Errorf("track.NewSignal: %d sequence names for %d arrays", len(seqnames), len(data))
	}
	lengths := make([]int, len(data))
	for i, d := range data {
		lengths[i] = len(d)
	}
	st, err := gonetics.NewSimpleTrack(name, data, gonetics.NewGenome(seqnames, lengths), 1)
	if err != nil {
		return nil, fmt.Errorf("track.NewSignal %s: %v", name, err)
	}
	return newSignal(name, st, false), nil
}

// OpenBigWig opens the bigWig file at path at base resolution.  The file is
// read on demand, one window per Values call, so memory use does not grow
// with the genome.  Missing positions are NaN.  The caller must Close the
// Signal.
func OpenBigWig(path, name string) (*Signal, error) {
	lazy := &gonetics.LazyTrackFile{}
	if err := lazy.ImportBigWig(path, name, gonetics.BinMean, 1, 0, math.NaN()); err != nil {
		return nil, fmt.Errorf("track.OpenBigWig %s: %v", path, err)
	}
	if name == "" {
		name = path
	}
	s := newSignal(name, lazy, true)
	s.lazy = lazy
	return s, nil
}

// Close releases the file behind a Signal opened by OpenBigWig.  It is a
// no-op for in-memory signals.
func (s *Signal) Close() error {
	if s.lazy != nil {
		s.lazy.Close()
		s.lazy = nil
	}
	return nil
}

// Name implements Track.
func (s *Signal) Name() string { return s.name }

// SeqLength implements Track.
func (s *Signal) SeqLength(chrom string) (int, bool) {
	n, ok := s.lengths[chrom]
	return n, ok
}

// Values implements Track.  The bins covering [from, to) are read with one
// GetSlice call; bins the source does not return read as NaN.
func (s *Signal) Values(chrom string, from, to int) ([]float64, error) {
	length, ok := s.lengths[chrom]
	if !ok {
		return nil, &LookupError{Track: s.name, Chrom: chrom}
	}
	if from < 0 || to < from || to > length {
		return nil, fmt.Errorf("track %s: range %s:%d-%d out of bounds", s.name, chrom, from, to)
	}
	out := make([]float64, to-from)
	if len(out) == 0 {
		return out, nil
	}
	first, last := from/s.bin, (to-1)/s.bin+1
	row := gonetics.GRangesRow{GRange: gonetics.GRange{Seqname: chrom, Range: gonetics.NewRange(first*s.bin, last*s.bin)}}
	if s.mu != nil {
		s.mu.Lock()
	}
	bins, err := s.src.GetSlice(row)
	if s.mu != nil {
		s.mu.Unlock()
	}
	if err != nil {
		return nil, fmt.Errorf("track %s: %s:%d-%d: %v", s.name, chrom, from, to, err)
	}
	for p := from; p < to; p++ {
		if k := p/s.bin - first; k < len(bins) {
			out[p-from] = bins[k]
		} else {
			out[p-from] = math.NaN()
		}
	}
	return out, nil
}
