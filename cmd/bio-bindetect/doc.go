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

/*
Given footprint-score bigWigs of two or more conditions, a set of motifs and
the pre-scanned binding sites of each motif, bio-bindetect estimates, per
motif and condition pair, the change in binding between the conditions and
its significance against a background of unbound positions.

The run is described by a YAML file (see package config).  Environment
variables override the file, and command-line flags override both.

Outputs, under the -out directory:

  bindetect_results.txt   one row per motif, with per-condition and
                          per-pair columns
  bindetect_errors.txt    motifs whose processing failed
  bindetect_run.txt       run ID and background summary
  <motif>/                per-site overview and bound/unbound BED files

Sample usage:
bio-bindetect \
    -config run.yaml \
    -out bindetect-out \
    -iterations 200
*/
package main
