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
Package bindetect detects differential transcription-factor binding from
footprint-score tracks of two or more conditions.

For every motif, the candidate sites are scored on each condition's track
(track.Extract), the score vectors are quantile-normalized across conditions,
each condition's sites are classified bound or unbound with a two-component
Gaussian mixture, and every condition pair gets a differential score: the mean
per-site difference of normalized scores.  Its significance is empirical: the
same statistic is computed on random subsamples of score differences at
unbound background positions, and the observed score is ranked against that
null.  No parametric test is used, since background differences are heavy
tailed at high footprint values.

Background positions are sampled from background regions (by default the
union of the conditions' peaks).  They fix the per-condition quantile maps and
the unbound difference pools shared by all motifs.  Without background
regions each motif is normalized on its own and its own unbound sites form
the pool.

Run processes motifs in parallel.  Each motif is an independent job; results
are tagged with the motif index and reassembled in input order, so the output
does not depend on scheduling.  A failing motif becomes a MotifError and does
not affect its siblings.  Aggregate sorts and clusters the finished rows and
WriteTable writes the result files.
*/
package bindetect
