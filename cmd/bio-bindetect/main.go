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
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bindetect/bindetect"
	"github.com/grailbio/bindetect/config"
)

var (
	configPath = flag.String("config", "", "Run configuration YAML path")
	outDir     = flag.String("out", "", "Output directory; overrides outdir of the configuration")
	// Only the flags set on the command line are applied, on top of the
	// configuration.  The values here just serve parsing and usage.
	flagOpts = bindetect.DefaultOpts
)

// registerOptFlags binds the run option flags of fs to o.
func registerOptFlags(fs *flag.FlagSet, o *bindetect.Opts) {
	fs.IntVar(&o.Flank, "flank", o.Flank, "Bases added on each side of a site before scoring")
	fs.StringVar(&o.Mode, "mode", o.Mode, "Site score reduction: 'mean', 'sum' or 'none' (peak reading)")
	fs.BoolVar(&o.Absolute, "absolute", o.Absolute, "Score absolute track values")
	fs.IntVar(&o.Iterations, "iterations", o.Iterations, "Background subsamples per motif and condition pair")
	fs.IntVar(&o.Workers, "parallelism", o.Workers, "Maximum number of motifs processed at once; 0 = runtime.NumCPU()")
	fs.Int64Var(&o.Seed, "seed", o.Seed, "Run seed")
	fs.StringVar(&o.SortBy, "sort-by", o.SortBy, "Result order: 'significance', 'score', 'name' or 'input'")
	fs.IntVar(&o.SortPair, "sort-pair", o.SortPair, "Index of the condition pair used for sorting")
	fs.IntVar(&o.MinSites, "min-sites", o.MinSites, "Fewest sites the bound/unbound mixture is fitted on")
	fs.Float64Var(&o.FallbackQuantile, "fallback-quantile", o.FallbackQuantile, "Bound threshold quantile when no mixture can be fitted")
	fs.Float64Var(&o.ConfidenceLevel, "confidence-level", o.ConfidenceLevel, "Confidence level of the differential score interval")
	fs.Float64Var(&o.Pseudocount, "pseudocount", o.Pseudocount, "Pseudocount of the per-site log2 fold changes")
	fs.IntVar(&o.MaxBackground, "max-background", o.MaxBackground, "Upper bound on background positions; 0 = no bound")
	fs.IntVar(&o.BackgroundWindow, "background-window", o.BackgroundWindow, "Bases per sampled background position")
	fs.Float64Var(&o.ClusterThreshold, "cluster-threshold", o.ClusterThreshold, "Largest average distance merged into one motif cluster")
	fs.BoolVar(&o.RestrictToPeaks, "restrict-to-peaks", o.RestrictToPeaks, "Drop sites outside the conditions' peaks")
}

func bioBindetectUsage() {
	fmt.Printf("Usage: %s -config run.yaml [OPTIONS]\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	registerOptFlags(flag.CommandLine, &flagOpts)
	flag.Usage = bioBindetectUsage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() > 0 {
		log.Fatalf("unexpected positional arguments %v; the run is described by -config", flag.Args())
	}
	ctx := vcontext.Background()
	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	cmdline := flag.NewFlagSet("options", flag.ContinueOnError)
	registerOptFlags(cmdline, &cfg.Options)
	flag.Visit(func(f *flag.Flag) {
		if cmdline.Lookup(f.Name) != nil {
			if err := cmdline.Set(f.Name, f.Value.String()); err != nil {
				log.Fatalf("-%s: %v", f.Name, err)
			}
		}
	})
	if *outDir != "" {
		cfg.OutDir = *outDir
	}
	if cfg.OutDir == "" {
		log.Fatalf("no output directory; set -out or outdir")
	}

	in, err := cfg.Inputs(ctx)
	if err != nil {
		log.Fatalf("%v", err)
	}
	table, runErr := bindetect.Run(ctx, in, &cfg.Options)
	if err := in.Close(); err != nil {
		log.Error.Printf("closing tracks: %v", err)
	}
	if table == nil {
		log.Fatalf("%v", runErr)
	}
	wopts := bindetect.DefaultWriteOpts
	wopts.Parallelism = cfg.Options.Workers
	wopts.Pseudocount = cfg.Options.Pseudocount
	if err := bindetect.WriteTable(ctx, cfg.OutDir, table, wopts); err != nil {
		log.Fatalf("%v", err)
	}
	if runErr != nil {
		log.Fatalf("run interrupted, partial results written: %v", runErr)
	}
	log.Printf("%d motifs, %d failed; results in %s", len(table.Rows), len(table.Errors), cfg.OutDir)
	log.Debug.Printf("exiting")
}
