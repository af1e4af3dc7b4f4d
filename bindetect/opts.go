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
	"fmt"
	"runtime"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bindetect/track"
)

// Opts holds the run options.  The yaml tags are the keys of the "options"
// section of a run configuration file; the envconfig tags name environment
// overrides.
type Opts struct {
	// Flank extends every site by this many bases on each side before scoring.
	Flank int `yaml:"flank" envconfig:"BINDETECT_FLANK"`
	// Mode reduces the readings of a site window: "mean", "sum" or "none".
	Mode string `yaml:"mode" envconfig:"BINDETECT_MODE"`
	// Absolute scores |x| of each reading.
	Absolute bool `yaml:"absolute" envconfig:"BINDETECT_ABSOLUTE"`
	// Iterations is the number of background subsamples per condition pair.
	Iterations int `yaml:"iterations" envconfig:"BINDETECT_ITERATIONS"`
	// Workers bounds the number of motifs processed at once; 0 means
	// runtime.NumCPU().  Larger values are capped at runtime.NumCPU().
	Workers int `yaml:"workers" envconfig:"BINDETECT_WORKERS"`
	// Seed is the run seed.  Every motif and background region derives its own
	// generator from it.
	Seed int64 `yaml:"seed" envconfig:"BINDETECT_SEED"`
	// SortBy orders the result table: "significance", "score", "name" or
	// "input".
	SortBy string `yaml:"sort_by" envconfig:"BINDETECT_SORT_BY"`
	// SortPair is the index of the condition pair used for sorting and
	// highlighting.
	SortPair int `yaml:"sort_pair" envconfig:"BINDETECT_SORT_PAIR"`
	// MinSites is the smallest vector the mixture classifier is fitted on.
	MinSites int `yaml:"min_sites" envconfig:"BINDETECT_MIN_SITES"`
	// FallbackQuantile is the bound threshold quantile used when no mixture
	// can be fitted.
	FallbackQuantile float64 `yaml:"fallback_quantile" envconfig:"BINDETECT_FALLBACK_QUANTILE"`
	// ConfidenceLevel of the differential score interval.
	ConfidenceLevel float64 `yaml:"confidence_level" envconfig:"BINDETECT_CONFIDENCE_LEVEL"`
	// Pseudocount is added to both scores of the per-site log2 fold changes.
	Pseudocount float64 `yaml:"pseudocount" envconfig:"BINDETECT_PSEUDOCOUNT"`
	// MaxBackground caps the number of background positions; 0 means no cap.
	MaxBackground int `yaml:"max_background" envconfig:"BINDETECT_MAX_BACKGROUND"`
	// BackgroundWindow is the number of bases per sampled background position.
	BackgroundWindow int `yaml:"background_window" envconfig:"BINDETECT_BACKGROUND_WINDOW"`
	// ClusterThreshold is the largest average distance between differential
	// score profiles merged into one motif cluster.
	ClusterThreshold float64 `yaml:"cluster_threshold" envconfig:"BINDETECT_CLUSTER_THRESHOLD"`
	// RestrictToPeaks drops sites outside the union of the conditions' peaks.
	RestrictToPeaks bool `yaml:"restrict_to_peaks" envconfig:"BINDETECT_RESTRICT_TO_PEAKS"`
}

// DefaultOpts are the default run options.
var DefaultOpts = Opts{
	Flank:            5,
	Mode:             "mean",
	Iterations:       100,
	Seed:             1,
	SortBy:           "significance",
	MinSites:         10,
	FallbackQuantile: 0.95,
	ConfidenceLevel:  0.95,
	Pseudocount:      1,
	BackgroundWindow: 500,
	ClusterThreshold: 0.5,
}

// SortKey orders the rows of a Table.
type SortKey int

const (
	// SortSignificance sorts by descending significance, then by descending
	// |score|.
	SortSignificance SortKey = iota
	// SortScore sorts by descending |score|.
	SortScore
	// SortName sorts by motif UID.
	SortName
	// SortInput keeps the motif input order.
	SortInput
)

var sortKeyNames = map[string]SortKey{
	"significance": SortSignificance,
	"score":        SortScore,
	"name":         SortName,
	"input":        SortInput,
}

// ParseSortKey parses the SortBy option.
func ParseSortKey(s string) (SortKey, error) {
	if k, ok := sortKeyNames[s]; ok {
		return k, nil
	}
	return SortSignificance, fmt.Errorf("unknown sort key %q, expected one of significance, score, name, input", s)
}

// runOpts are the validated options.
type runOpts struct {
	Opts
	extract  track.ExtractOpts
	classify ClassifyOpts
	estimate EstimateOpts
	sortBy   SortKey
	workers  int
}

func invalid(format string, args ...interface{}) error {
	return errors.E(errors.Invalid, fmt.Sprintf("bindetect: "+format, args...))
}

// validate checks opts against a run over nConditions conditions.  All
// failures are errors.Invalid.
func (opts *Opts) validate(nConditions int) (*runOpts, error) {
	o := &runOpts{Opts: *opts}
	if nConditions < 2 {
		return nil, invalid("at least 2 conditions are required, got %d", nConditions)
	}
	if opts.Flank < 0 {
		return nil, invalid("flank must be >= 0, got %d", opts.Flank)
	}
	mode, err := track.ParseMode(opts.Mode)
	if err != nil {
		return nil, invalid("%v", err)
	}
	if opts.Iterations < 1 {
		return nil, invalid("iterations must be >= 1, got %d", opts.Iterations)
	}
	if opts.Workers < 0 {
		return nil, invalid("workers must be >= 0, got %d", opts.Workers)
	}
	if o.sortBy, err = ParseSortKey(opts.SortBy); err != nil {
		return nil, invalid("%v", err)
	}
	nPairs := nConditions * (nConditions - 1) / 2
	if opts.SortPair < 0 || opts.SortPair >= nPairs {
		return nil, invalid("sort pair %d out of range [0, %d)", opts.SortPair, nPairs)
	}
	if opts.MinSites < 2 {
		return nil, invalid("min sites must be >= 2, got %d", opts.MinSites)
	}
	if !(opts.FallbackQuantile > 0 && opts.FallbackQuantile < 1) {
		return nil, invalid("fallback quantile must be in (0, 1), got %v", opts.FallbackQuantile)
	}
	if !(opts.ConfidenceLevel > 0 && opts.ConfidenceLevel < 1) {
		return nil, invalid("confidence level must be in (0, 1), got %v", opts.ConfidenceLevel)
	}
	if !(opts.Pseudocount > 0) {
		return nil, invalid("pseudocount must be > 0, got %v", opts.Pseudocount)
	}
	if opts.MaxBackground < 0 {
		return nil, invalid("max background must be >= 0, got %d", opts.MaxBackground)
	}
	if opts.BackgroundWindow < 1 {
		return nil, invalid("background window must be >= 1, got %d", opts.BackgroundWindow)
	}
	if !(opts.ClusterThreshold >= 0) {
		return nil, invalid("cluster threshold must be >= 0, got %v", opts.ClusterThreshold)
	}

	o.extract = track.ExtractOpts{Flank: opts.Flank, Mode: mode, Absolute: opts.Absolute}
	o.classify = ClassifyOpts{MinSites: opts.MinSites, FallbackQuantile: opts.FallbackQuantile}
	o.estimate = EstimateOpts{Iterations: opts.Iterations, ConfidenceLevel: opts.ConfidenceLevel}
	o.workers = opts.Workers
	if o.workers <= 0 {
		o.workers = runtime.NumCPU()
	} else if o.workers > runtime.NumCPU() {
		log.Printf("bindetect: %d workers requested, but only %d CPUs are available; using %d",
			o.workers, runtime.NumCPU(), runtime.NumCPU())
		o.workers = runtime.NumCPU()
	}
	return o, nil
}
