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

package track

import (
	"fmt"
	"math"

	"github.com/grailbio/bindetect/site"
)

// Mode selects how the readings over a site window are reduced.
type Mode int

const (
	// ModeMean averages the readings.
	ModeMean Mode = iota
	// ModeSum adds the readings.
	ModeSum
	// ModeNone does not aggregate: the peak (maximum) reading is returned.
	ModeNone
)

var modeNames = [...]string{ModeMean: "mean", ModeSum: "sum", ModeNone: "none"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode parses "mean", "sum" or "none".
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if name == s {
			return Mode(i), nil
		}
	}
	return ModeMean, fmt.Errorf("track.ParseMode: unknown mode %q, expected one of mean, sum, none", s)
}

// ExtractOpts configures Extract.
type ExtractOpts struct {
	// Flank extends the site by this many bases on each side.
	Flank int
	Mode  Mode
	// Absolute takes |x| of every reading before the reduction.
	Absolute bool
}

// DefaultExtractOpts are the default extraction options.
var DefaultExtractOpts = ExtractOpts{
	Flank: 5,
	Mode:  ModeMean,
}

// Extract computes the binding score of s on t.  The window [Start-Flank,
// End+Flank) is clipped to the sequence; a window that is empty after
// clipping scores 0.  NaN readings count as 0.  A chromosome absent from t
// yields a *LookupError.
func Extract(s site.Site, t Track, opts ExtractOpts) (float64, error) {
	seqLen, ok := t.SeqLength(s.Chrom)
	if !ok {
		return 0, &LookupError{Track: t.Name(), Chrom: s.Chrom}
	}
	from, to := s.Start-opts.Flank, s.End+opts.Flank
	if from < 0 {
		from = 0
	}
	if to > seqLen {
		to = seqLen
	}
	if from >= to {
		return 0, nil
	}
	vals, err := t.Values(s.Chrom, from, to)
	if err != nil {
		return 0, err
	}
	return reduce(vals, opts), nil
}

func reduce(vals []float64, opts ExtractOpts) float64 {
	var sum float64
	peak := math.Inf(-1)
	for _, v := range vals {
		if math.IsNaN(v) {
			v = 0
		}
		if opts.Absolute {
			v = math.Abs(v)
		}
		sum += v
		if v > peak {
			peak = v
		}
	}
	switch opts.Mode {
	case ModeSum:
		return sum
	case ModeNone:
		return peak
	default:
		return sum / float64(len(vals))
	}
}

// ExtractAll scores every site against t, keeping site order.
func ExtractAll(sites []site.Site, t Track, opts ExtractOpts) ([]float64, error) {
	out := make([]float64, len(sites))
	for i, s := range sites {
		v, err := Extract(s, t, opts)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
