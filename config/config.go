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

// Package config loads bindetect run configurations.  A run is described by a
// YAML file:
//
//	motifs: [jaspar.txt]
//	sites: tfbs.bed.gz
//	background: background.bed
//	genome: hg38.fa.gz
//	outdir: out
//	regions: [chr1, "chr2:1-5000000"]
//	peak_padding: 100
//	conditions:
//	  - name: naive
//	    signal: naive_footprints.bw
//	    peaks: naive_peaks.bed
//	  - name: treated
//	    signal: treated_footprints.bw
//	    threshold: 1.5
//	options:
//	  flank: 5
//	  iterations: 200
//
// Environment variables override the scalar settings: BINDETECT_SITES,
// BINDETECT_BACKGROUND, BINDETECT_GENOME, BINDETECT_OUTDIR,
// BINDETECT_PEAK_PADDING, BINDETECT_ONE_BASED_PEAKS, and one
// BINDETECT_<OPTION> variable per bindetect.Opts field (e.g.
// BINDETECT_WORKERS).
package config

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bindetect/bindetect"
	"github.com/grailbio/bindetect/encoding/fasta"
	"github.com/grailbio/bindetect/interval"
	"github.com/grailbio/bindetect/motif"
	"github.com/grailbio/bindetect/site"
	"github.com/grailbio/bindetect/track"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/sync/errgroup"
	yaml "gopkg.in/yaml.v2"
)

// ConditionConfig describes one condition.
type ConditionConfig struct {
	Name string `yaml:"name"`
	// Signal is the bigWig file of footprint scores.
	Signal string `yaml:"signal"`
	// Peaks is an optional BED file of the condition's peaks.
	Peaks string `yaml:"peaks"`
	// Threshold, if set, fixes the bound threshold instead of fitting it.
	Threshold *float64 `yaml:"threshold"`
}

// Config is a bindetect run.
type Config struct {
	// Motifs lists JASPAR or MEME motif files.
	Motifs []string `yaml:"motifs" ignored:"true"`
	// Sites is the BED file of pre-scanned binding sites; the name column
	// holds the motif ID or name.
	Sites      string            `yaml:"sites" envconfig:"BINDETECT_SITES"`
	Conditions []ConditionConfig `yaml:"conditions" ignored:"true"`
	// Background is an optional BED file of background regions.  The union of
	// the conditions' peaks is used when it is empty.
	Background string `yaml:"background" envconfig:"BINDETECT_BACKGROUND"`
	// Genome is an optional FASTA file used to report GC content.
	Genome string `yaml:"genome" envconfig:"BINDETECT_GENOME"`
	OutDir string `yaml:"outdir" envconfig:"BINDETECT_OUTDIR"`
	// Regions optionally restricts the run to the given regions, each
	// "chrom", "chrom:pos" or "chrom:start-end" with 1-based inclusive
	// coordinates.
	Regions []string `yaml:"regions" ignored:"true"`
	// PeakPadding extends every peak and background interval by this many
	// bases on both sides.
	PeakPadding int `yaml:"peak_padding" envconfig:"BINDETECT_PEAK_PADDING"`
	// OneBasedPeaks reads the peak and background files as 1-based, inclusive
	// intervals.
	OneBasedPeaks bool           `yaml:"one_based_peaks" envconfig:"BINDETECT_ONE_BASED_PEAKS"`
	Options       bindetect.Opts `yaml:"options"`
}

func invalid(format string, args ...interface{}) error {
	return errors.E(errors.Invalid, fmt.Sprintf("config: "+format, args...))
}

// Load reads the configuration at path, then applies the environment
// overrides.  Options not set in either place keep their
// bindetect.DefaultOpts values.  An empty path loads the environment only.
func Load(ctx context.Context, path string) (*Config, error) {
	cfg := &Config{Options: bindetect.DefaultOpts}
	if path != "" {
		if err := decodeFile(ctx, path, cfg); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, invalid("environment: %v", err)
	}
	return cfg, nil
}

func decodeFile(ctx context.Context, path string, cfg *Config) (err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, in, &err)
	dec := yaml.NewDecoder(in.Reader(ctx))
	if err = dec.Decode(cfg); err == io.EOF {
		// Empty file.
		err = nil
	} else if err != nil {
		err = invalid("%s: %v", path, err)
	}
	return
}

// Validate checks that the configuration names every required input.  Run
// options are checked by bindetect.Run.
func (c *Config) Validate() error {
	if len(c.Motifs) == 0 {
		return invalid("no motif files")
	}
	if c.Sites == "" {
		return invalid("no sites file")
	}
	if len(c.Conditions) < 2 {
		return invalid("at least 2 conditions are required, got %d", len(c.Conditions))
	}
	seen := make(map[string]bool, len(c.Conditions))
	for i, cc := range c.Conditions {
		if cc.Name == "" {
			return invalid("condition %d has no name", i)
		}
		if seen[cc.Name] {
			return invalid("duplicate condition name %q", cc.Name)
		}
		seen[cc.Name] = true
		if cc.Signal == "" {
			return invalid("condition %s has no signal file", cc.Name)
		}
	}
	if c.PeakPadding < 0 {
		return invalid("peak padding must be >= 0, got %d", c.PeakPadding)
	}
	return nil
}

func (c *Config) bedOpts() interval.NewBEDOpts {
	return interval.NewBEDOpts{OneBasedInput: c.OneBasedPeaks, Padding: c.PeakPadding}
}

// Inputs validates c and opens every input file it names.  The caller must
// Close the returned Input.
func (c *Config) Inputs(ctx context.Context) (in bindetect.Input, err error) {
	if err = c.Validate(); err != nil {
		return
	}
	if len(c.Regions) > 0 {
		var regions interval.BEDUnion
		if regions, err = interval.ParseRegions(c.Regions); err != nil {
			return in, invalid("regions: %v", err)
		}
		in.Regions = &regions
		log.Printf("config: restricted to %d bases on %d chromosomes", regions.TotalBases(), len(regions.Chroms()))
	}

	var table *site.Table
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		in.Motifs, err = motif.ReadFiles(gctx, c.Motifs)
		return
	})
	g.Go(func() error {
		sites, err := site.ReadBEDFile(gctx, c.Sites)
		if err != nil {
			return err
		}
		table = site.NewTable(sites)
		in.Sites = table
		return nil
	})
	if c.Background != "" {
		g.Go(func() error {
			bg, err := interval.NewBEDUnionFromPath(c.Background, c.bedOpts())
			if err != nil {
				return err
			}
			in.Background = &bg
			return nil
		})
	}
	if c.Genome != "" {
		g.Go(func() (err error) {
			in.Reference, err = fasta.Open(gctx, c.Genome)
			return
		})
	}
	in.Conditions = make([]bindetect.Condition, len(c.Conditions))
	g.Go(func() error {
		return traverse.Each(len(c.Conditions), func(i int) error {
			cc := c.Conditions[i]
			cond := bindetect.Condition{Name: cc.Name, Threshold: math.NaN()}
			if cc.Threshold != nil {
				cond.Threshold = *cc.Threshold
			}
			signal, err := track.OpenBigWig(cc.Signal, cc.Name)
			if err != nil {
				return err
			}
			cond.Track = signal
			in.Conditions[i] = cond
			if cc.Peaks != "" {
				peaks, err := interval.NewBEDUnionFromPath(cc.Peaks, c.bedOpts())
				if err != nil {
					return err
				}
				in.Conditions[i].Peaks = &peaks
			}
			return nil
		})
	})
	if err = g.Wait(); err != nil {
		in.Close()
		return
	}
	log.Printf("config: %d motifs, %d sites", len(in.Motifs), table.Len())
	return in, nil
}
