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

package track_test

import (
	"math"
	"testing"

	"github.com/grailbio/bindetect/site"
	"github.com/grailbio/bindetect/track"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func newSignal(t *testing.T) *track.Signal {
	sig, err := track.NewSignal("sig", []string{"chr1", "chr2"}, [][]float64{
		{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		{-2, math.NaN(), 4},
	})
	assert.NoError(t, err)
	return sig
}

func TestSignal(t *testing.T) {
	sig := newSignal(t)
	expect.EQ(t, sig.Name(), "sig")
	n, ok := sig.SeqLength("chr1")
	expect.True(t, ok)
	expect.EQ(t, n, 10)
	_, ok = sig.SeqLength("chrX")
	expect.False(t, ok)

	vals, err := sig.Values("chr1", 2, 5)
	assert.NoError(t, err)
	expect.EQ(t, vals, []float64{3, 4, 5})
	_, err = sig.Values("chr1", 5, 11)
	expect.NotNil(t, err)

	_, err = track.NewSignal("bad", []string{"chr1"}, nil)
	expect.NotNil(t, err)
}

func TestExtract(t *testing.T) {
	sig := newSignal(t)
	tests := []struct {
		s    site.Site
		opts track.ExtractOpts
		want float64
	}{
		// [3,5) + 1 flank = [2,6) -> 3 4 5 6
		{site.Site{Chrom: "chr1", Start: 3, End: 5}, track.ExtractOpts{Flank: 1, Mode: track.ModeMean}, 4.5},
		{site.Site{Chrom: "chr1", Start: 3, End: 5}, track.ExtractOpts{Flank: 1, Mode: track.ModeSum}, 18},
		{site.Site{Chrom: "chr1", Start: 3, End: 5}, track.ExtractOpts{Flank: 1, Mode: track.ModeNone}, 6},
		// Clipped at the start: [0, 3).
		{site.Site{Chrom: "chr1", Start: 0, End: 1}, track.ExtractOpts{Flank: 2, Mode: track.ModeSum}, 6},
		// Clipped at the end: [8, 10).
		{site.Site{Chrom: "chr1", Start: 9, End: 10}, track.ExtractOpts{Flank: 1, Mode: track.ModeSum}, 19},
		// Entirely past the end.
		{site.Site{Chrom: "chr1", Start: 20, End: 25}, track.ExtractOpts{Flank: 1, Mode: track.ModeMean}, 0},
		// NaN counts as 0, absolute applies before reduction.
		{site.Site{Chrom: "chr2", Start: 0, End: 3}, track.ExtractOpts{Mode: track.ModeSum}, 2},
		{site.Site{Chrom: "chr2", Start: 0, End: 3}, track.ExtractOpts{Mode: track.ModeSum, Absolute: true}, 6},
		{site.Site{Chrom: "chr2", Start: 0, End: 1}, track.ExtractOpts{Mode: track.ModeNone, Absolute: true}, 2},
	}
	for _, test := range tests {
		got, err := track.Extract(test.s, sig, test.opts)
		assert.NoError(t, err)
		expect.EQ(t, got, test.want, "site %v opts %+v", test.s, test.opts)
	}
}

func TestExtractLookupError(t *testing.T) {
	sig := newSignal(t)
	_, err := track.Extract(site.Site{Chrom: "chrX", Start: 0, End: 1}, sig, track.DefaultExtractOpts)
	require.Error(t, err)
	lerr, ok := err.(*track.LookupError)
	require.True(t, ok)
	expect.EQ(t, lerr.Chrom, "chrX")
	expect.EQ(t, lerr.Track, "sig")

	_, err = track.ExtractAll([]site.Site{{Chrom: "chr1", Start: 0, End: 1}, {Chrom: "chrX"}}, sig, track.DefaultExtractOpts)
	expect.NotNil(t, err)
	vals, err := track.ExtractAll([]site.Site{{Chrom: "chr1", Start: 0, End: 1}, {Chrom: "chr1", Start: 9, End: 10}}, sig, track.ExtractOpts{})
	assert.NoError(t, err)
	expect.EQ(t, vals, []float64{1, 10})
}

func TestParseMode(t *testing.T) {
	for _, mode := range []track.Mode{track.ModeMean, track.ModeSum, track.ModeNone} {
		got, err := track.ParseMode(mode.String())
		assert.NoError(t, err)
		expect.EQ(t, got, mode)
	}
	_, err := track.ParseMode("median")
	expect.NotNil(t, err)
}
