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
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/base/tsv"
)

// Names of the files WriteTable creates in the output directory.
const (
	ResultsFile = "bindetect_results.txt"
	ErrorsFile  = "bindetect_errors.txt"
	RunFile     = "bindetect_run.txt"
)

// WriteOpts configures WriteTable.
type WriteOpts struct {
	// Parallelism bounds the number of motifs written at once; 0 means
	// runtime.NumCPU().
	Parallelism int
	// Pseudocount is added to both scores of the per-site log2 fold changes.
	Pseudocount float64
}

// DefaultWriteOpts are the default output options.
var DefaultWriteOpts = WriteOpts{Pseudocount: 1}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// mkdirAll creates the parent directory of a local path.  Other file systems
// have no directories to create.
func mkdirAll(path string) error {
	scheme, _, err := file.ParsePath(path)
	if err != nil {
		return err
	}
	if scheme != "" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0777)
}

// writeTSV creates path and passes fn a tsv.Writer on it.
func writeTSV(ctx context.Context, path string, fn func(w *tsv.Writer) error) (err error) {
	if err = mkdirAll(path); err != nil {
		return
	}
	var out file.File
	if out, err = file.Create(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := tsv.NewWriter(out.Writer(ctx))
	if err = fn(w); err != nil {
		return
	}
	return w.Flush()
}

func pairPrefix(p [2]string) string {
	return p[0] + "_" + p[1]
}

// WriteTable writes the result table, the error list and the run summary
// into dir, and the per-motif overview and BED files into dir/<uid>/.
func WriteTable(ctx context.Context, dir string, t *Table, opts WriteOpts) error {
	if err := writeTSV(ctx, file.Join(dir, ResultsFile), func(w *tsv.Writer) error {
		return writeResults(w, t)
	}); err != nil {
		return err
	}
	if err := writeTSV(ctx, file.Join(dir, ErrorsFile), func(w *tsv.Writer) error {
		return writeErrors(w, t.Errors)
	}); err != nil {
		return err
	}
	if err := writeTSV(ctx, file.Join(dir, RunFile), func(w *tsv.Writer) error {
		return writeRunInfo(w, t)
	}); err != nil {
		return err
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	err := traverse.Limit(parallelism).Each(len(t.Rows), func(i int) error {
		r := t.Rows[i]
		if r.Flag == FlagNoSites {
			return nil
		}
		return writeMotif(ctx, file.Join(dir, r.Motif.UID), r, t, opts.Pseudocount)
	})
	if err == nil {
		log.Printf("bindetect: wrote %d motifs and %d errors to %s", len(t.Rows), len(t.Errors), dir)
	}
	return err
}

func writeResults(w *tsv.Writer, t *Table) error {
	pairs := t.Pairs()
	w.WriteString("output_prefix")
	w.WriteString("name")
	w.WriteString("motif_id")
	w.WriteString("consensus")
	w.WriteString("cluster")
	w.WriteString("total_tfbs")
	for _, c := range t.Conditions {
		w.WriteString(c + "_mean_score")
		w.WriteString(c + "_threshold")
		w.WriteString(c + "_bound")
		w.WriteString(c + "_percent_bound")
	}
	for _, p := range pairs {
		prefix := pairPrefix(p)
		for _, col := range []string{"change", "ci_low", "ci_high", "pvalue", "significance", "mean_change", "low_confidence"} {
			w.WriteString(prefix + "_" + col)
		}
	}
	w.WriteString("flag")
	w.WriteString("highlight")
	if err := w.EndLine(); err != nil {
		return err
	}
	for _, r := range t.Rows {
		w.WriteString(r.Motif.UID)
		w.WriteString(r.Motif.Name)
		w.WriteString(r.Motif.ID)
		w.WriteString(r.Motif.Consensus())
		w.WriteString(r.Cluster)
		w.WriteUint32(uint32(r.NSites))
		for _, cs := range r.Conditions {
			w.WriteString(formatFloat(cs.MeanScore))
			w.WriteString(formatFloat(cs.Threshold))
			w.WriteUint32(uint32(cs.NBound))
			w.WriteString(formatFloat(cs.PercentBound))
		}
		for pi := range pairs {
			if pi >= len(r.Pairs) {
				for k := 0; k < 7; k++ {
					w.WriteString("NA")
				}
				continue
			}
			p := r.Pairs[pi]
			w.WriteString(formatFloat(p.Score))
			w.WriteString(formatFloat(p.CILow))
			w.WriteString(formatFloat(p.CIHigh))
			w.WriteString(formatFloat(p.PValue))
			w.WriteString(formatFloat(p.Significance))
			w.WriteString(formatFloat(p.MeanChange))
			w.WriteString(formatBool(p.LowConfidence))
		}
		flag := r.Flag
		if flag == "" {
			flag = "."
		}
		w.WriteString(flag)
		w.WriteString(formatBool(r.Highlight))
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return nil
}

var messageCleaner = strings.NewReplacer("\t", " ", "\n", " ")

func writeErrors(w *tsv.Writer, errs []MotifError) error {
	w.WriteString("index")
	w.WriteString("uid")
	w.WriteString("kind")
	w.WriteString("message")
	if err := w.EndLine(); err != nil {
		return err
	}
	for _, e := range errs {
		w.WriteUint32(uint32(e.Index))
		w.WriteString(e.UID)
		w.WriteString(e.Kind.String())
		w.WriteString(messageCleaner.Replace(e.Msg))
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return nil
}

func writeRunInfo(w *tsv.Writer, t *Table) error {
	rows := [][2]string{
		{"run_id", t.RunID},
		{"conditions", strings.Join(t.Conditions, ",")},
		{"motifs", strconv.Itoa(len(t.Rows))},
		{"errors", strconv.Itoa(len(t.Errors))},
		{"clusters", strconv.Itoa(len(t.Clusters))},
		{"background_positions", strconv.Itoa(t.BackgroundSize)},
		{"background_gc", formatFloat(t.BackgroundGC)},
	}
	for _, kv := range rows {
		w.WriteString(kv[0])
		w.WriteString(kv[1])
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return nil
}

// log2FC is log2((b+pc)/(a+pc)), or NaN when either term is not positive.
func log2FC(a, b, pc float64) float64 {
	num, den := b+pc, a+pc
	if !(num > 0 && den > 0) {
		return math.NaN()
	}
	return math.Log2(num / den)
}

func writeMotif(ctx context.Context, dir string, r *MotifResult, t *Table, pc float64) error {
	uid := r.Motif.UID
	pairs := conditionPairs(len(t.Conditions))
	if err := writeTSV(ctx, file.Join(dir, uid+"_overview.txt"), func(w *tsv.Writer) error {
		for _, col := range []string{"chrom", "start", "end", "strand", "site_score", "gc"} {
			w.WriteString(col)
		}
		for _, c := range t.Conditions {
			w.WriteString(c + "_score")
			w.WriteString(c + "_norm")
			w.WriteString(c + "_bound")
		}
		for _, p := range pairs {
			w.WriteString(t.Conditions[p[0]] + "_" + t.Conditions[p[1]] + "_log2fc")
		}
		if err := w.EndLine(); err != nil {
			return err
		}
		for i, s := range r.Sites {
			w.WriteString(s.Chrom)
			w.WriteUint32(uint32(s.Start))
			w.WriteUint32(uint32(s.End))
			w.WriteByte(s.Strand)
			w.WriteString(formatFloat(s.Score))
			w.WriteString(formatFloat(gcAt(r, i)))
			for ci := range t.Conditions {
				w.WriteString(formatFloat(r.Raw[ci][i]))
				w.WriteString(formatFloat(r.Normalized[ci][i]))
				w.WriteString(formatBool(r.Classes[ci].Bound[i]))
			}
			for _, p := range pairs {
				w.WriteString(formatFloat(log2FC(r.Normalized[p[0]][i], r.Normalized[p[1]][i], pc)))
			}
			if err := w.EndLine(); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := writeAllBED(ctx, file.Join(dir, "beds", uid+"_all.bed"), r, t); err != nil {
		return err
	}
	for ci, c := range t.Conditions {
		order := make([]int, len(r.Sites))
		for i := range order {
			order[i] = i
		}
		raw := r.Raw[ci]
		sort.SliceStable(order, func(a, b int) bool { return raw[order[a]] > raw[order[b]] })
		for _, bound := range []bool{true, false} {
			suffix := "_unbound.bed"
			if bound {
				suffix = "_bound.bed"
			}
			path := file.Join(dir, "beds", uid+"_"+c+suffix)
			if err := writeTSV(ctx, path, func(w *tsv.Writer) error {
				for _, i := range order {
					if r.Classes[ci].Bound[i] != bound {
						continue
					}
					s := r.Sites[i]
					w.WriteString(s.Chrom)
					w.WriteUint32(uint32(s.Start))
					w.WriteUint32(uint32(s.End))
					w.WriteString(uid)
					w.WriteString(formatFloat(raw[i]))
					w.WriteByte(s.Strand)
					if err := w.EndLine(); err != nil {
						return err
					}
				}
				return nil
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func gcAt(r *MotifResult, i int) float64 {
	if i < len(r.GC) {
		return r.GC[i]
	}
	return math.NaN()
}

// writeAllBED writes every site of r in position order, with the raw score of
// each condition.
func writeAllBED(ctx context.Context, path string, r *MotifResult, t *Table) error {
	order := make([]int, len(r.Sites))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := r.Sites[order[a]], r.Sites[order[b]]
		if sa.Chrom != sb.Chrom {
			return sa.Chrom < sb.Chrom
		}
		if sa.Start != sb.Start {
			return sa.Start < sb.Start
		}
		return sa.End < sb.End
	})
	return writeTSV(ctx, path, func(w *tsv.Writer) error {
		for _, i := range order {
			s := r.Sites[i]
			w.WriteString(s.Chrom)
			w.WriteUint32(uint32(s.Start))
			w.WriteUint32(uint32(s.End))
			w.WriteString(r.Motif.UID)
			w.WriteString(formatFloat(s.Score))
			w.WriteByte(s.Strand)
			for ci := range t.Conditions {
				w.WriteString(formatFloat(r.Raw[ci][i]))
			}
			if err := w.EndLine(); err != nil {
				return err
			}
		}
		return nil
	})
}
