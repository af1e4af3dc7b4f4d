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

// Package site holds candidate transcription-factor binding sites (TFBS)
// produced by an external genome scan, and the Scanner interface through
// which the differential-binding engine obtains the sites of one motif.
package site

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/bindetect/motif"
	"github.com/klauspost/compress/gzip"
)

// Site is one candidate binding site.  Coordinates are 0-based and
// half-open.
type Site struct {
	Chrom  string
	Start  int
	End    int
	Strand byte // '+', '-' or '.'
	// Score is the motif match score reported by the scanner.
	Score float64
	// Name identifies the motif that produced the site.
	Name string
}

func (s Site) String() string {
	return fmt.Sprintf("%s:%d-%d(%c)", s.Chrom, s.Start, s.End, s.Strand)
}

// Scanner returns the candidate sites of one motif, in a stable order.  It
// must be safe for concurrent use.
type Scanner interface {
	Scan(ctx context.Context, m motif.Motif) ([]Site, error)
}

// Table is an in-memory Scanner backed by pre-scanned sites, keyed by the
// BED name column.
type Table struct {
	byName map[string][]Site
}

// NewTable groups sites by Name.  The sites of each motif are sorted by
// coordinate so the order does not depend on the input order.
func NewTable(sites []Site) *Table {
	t := &Table{byName: make(map[string][]Site)}
	for _, s := range sites {
		t.byName[s.Name] = append(t.byName[s.Name], s)
	}
	for _, v := range t.byName {
		sort.SliceStable(v, func(i, j int) bool {
			if v[i].Chrom != v[j].Chrom {
				return v[i].Chrom < v[j].Chrom
			}
			if v[i].Start != v[j].Start {
				return v[i].Start < v[j].Start
			}
			return v[i].End < v[j].End
		})
	}
	return t
}

// Scan implements Scanner.  Sites are looked up by motif ID first, then by
// name; a motif with neither yields no sites.
func (t *Table) Scan(ctx context.Context, m motif.Motif) ([]Site, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, key := range []string{m.ID, m.Name, m.UID} {
		if key == "" {
			continue
		}
		if sites, ok := t.byName[key]; ok {
			out := make([]Site, len(sites))
			copy(out, sites)
			return out, nil
		}
	}
	return nil, nil
}

// Len returns the total number of sites in the table.
func (t *Table) Len() int {
	n := 0
	for _, v := range t.byName {
		n += len(v)
	}
	return n
}

// ReadBED parses BED3 to BED6 records.  The name column (4) names the motif;
// when absent, defaultName is used.  Score (5) defaults to 0 and strand (6)
// to '.'.
func ReadBED(r io.Reader, defaultName string) ([]Site, error) {
	var sites []Site
	scanner := bufio.NewScanner(r)
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		line := scanner.Text()
		if line == "" || line[0] == '#' || strings.HasPrefix(line, "track") || strings.HasPrefix(line, "browser") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			return nil, fmt.Errorf("site.ReadBED: line %d: expected at least 3 columns, got %d", lineIdx, len(fields))
		}
		s := Site{Chrom: fields[0], Strand: '.', Name: defaultName}
		var err error
		if s.Start, err = strconv.Atoi(fields[1]); err != nil {
			return nil, fmt.Errorf("site.ReadBED: line %d: %v", lineIdx, err)
		}
		if s.End, err = strconv.Atoi(fields[2]); err != nil {
			return nil, fmt.Errorf("site.ReadBED: line %d: %v", lineIdx, err)
		}
		if s.Start < 0 || s.End < s.Start {
			return nil, fmt.Errorf("site.ReadBED: line %d: invalid interval [%d, %d)", lineIdx, s.Start, s.End)
		}
		if len(fields) > 3 && fields[3] != "" {
			s.Name = fields[3]
		}
		if len(fields) > 4 && fields[4] != "" && fields[4] != "." {
			if s.Score, err = strconv.ParseFloat(fields[4], 64); err != nil {
				return nil, fmt.Errorf("site.ReadBED: line %d: %v", lineIdx, err)
			}
		}
		if len(fields) > 5 && len(fields[5]) == 1 {
			s.Strand = fields[5][0]
		}
		sites = append(sites, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return sites, nil
}

// ReadBEDFile reads a (possibly gzipped) BED file of sites.
func ReadBEDFile(ctx context.Context, path string) (sites []Site, err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, in, &err)
	r := io.Reader(in.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(r); err != nil {
			return
		}
		defer gz.Close()
		r = gz
	}
	if sites, err = ReadBED(r, ""); err != nil {
		err = fmt.Errorf("%s: %v", path, err)
	}
	return
}
