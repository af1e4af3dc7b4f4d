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

package motif

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/klauspost/compress/gzip"
)

// Decoder parses one motif file format.  Decoders are lenient about matrix
// shape: a ragged matrix is returned as-is and rejected later by
// Motif.Validate, so one bad motif does not discard the whole collection.
// Unparseable numbers are an error.
type Decoder interface {
	Decode(r io.Reader) ([]Motif, error)
}

// JASPAR decodes JASPAR-style PFMs:
//
//   >MA0139.1 CTCF
//   A  [ 87 167 281 ]
//   C  [291 145  49 ]
//   G  [ 76 414 449 ]
//   T  [205  27 120 ]
//
// The base letters and brackets are optional, in which case rows are read in
// A, C, G, T order.
type JASPAR struct{}

// MEME decodes the MEME minimal motif format ("letter-probability matrix"
// blocks, one row per position).
type MEME struct{}

func parseFloats(fields []string, lineIdx int) ([]float64, error) {
	vals := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", lineIdx, err)
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// Decode implements Decoder.
func (JASPAR) Decode(r io.Reader) ([]Motif, error) {
	var (
		motifs []Motif
		cur    *Motif
		row    int
	)
	scanner := bufio.NewScanner(r)
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		if line[0] == '>' {
			fields := strings.Fields(line[1:])
			m := Motif{}
			if len(fields) > 0 {
				m.ID = fields[0]
				m.Name = fields[0]
			}
			if len(fields) > 1 {
				m.Name = strings.Join(fields[1:], "_")
			}
			motifs = append(motifs, m)
			cur = &motifs[len(motifs)-1]
			row = 0
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("motif.JASPAR: line %d: matrix row before header", lineIdx)
		}
		base := row
		if c := line[0]; strings.IndexByte("ACGTacgt", c) >= 0 && (len(line) == 1 || line[1] == ' ' || line[1] == '\t' || line[1] == '[') {
			base = strings.IndexByte("ACGT", c&^0x20)
			line = line[1:]
		}
		if base >= NBase {
			return nil, fmt.Errorf("motif.JASPAR: line %d: more than %d matrix rows for %s", lineIdx, NBase, cur.ID)
		}
		line = strings.NewReplacer("[", " ", "]", " ").Replace(line)
		vals, err := parseFloats(strings.Fields(line), lineIdx)
		if err != nil {
			return nil, fmt.Errorf("motif.JASPAR: %v", err)
		}
		cur.PFM[base] = vals
		row++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return motifs, nil
}

// Decode implements Decoder.
func (MEME) Decode(r io.Reader) ([]Motif, error) {
	var (
		motifs    []Motif
		cur       *Motif
		remaining int
	)
	scanner := bufio.NewScanner(r)
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "MOTIF"):
			fields := strings.Fields(line)
			m := Motif{}
			if len(fields) > 1 {
				m.ID = fields[1]
				m.Name = fields[1]
			}
			if len(fields) > 2 {
				m.Name = fields[2]
			}
			motifs = append(motifs, m)
			cur = &motifs[len(motifs)-1]
			remaining = 0
		case strings.HasPrefix(line, "letter-probability matrix"):
			if cur == nil {
				return nil, fmt.Errorf("motif.MEME: line %d: matrix before MOTIF line", lineIdx)
			}
			remaining = -1
			fields := strings.Fields(strings.Replace(line, "= ", "=", -1))
			for _, f := range fields {
				if strings.HasPrefix(f, "w=") {
					w, err := strconv.Atoi(f[2:])
					if err != nil {
						return nil, fmt.Errorf("motif.MEME: line %d: bad width %q", lineIdx, f)
					}
					remaining = w
				}
			}
		case remaining != 0 && cur != nil:
			if line == "" {
				if remaining < 0 {
					remaining = 0
				}
				continue
			}
			if remaining < 0 && !startsNumeric(line) {
				remaining = 0
				continue
			}
			vals, err := parseFloats(strings.Fields(line), lineIdx)
			if err != nil {
				return nil, fmt.Errorf("motif.MEME: %v", err)
			}
			for b := 0; b < NBase && b < len(vals); b++ {
				cur.PFM[b] = append(cur.PFM[b], vals[b])
			}
			if len(vals) != NBase {
				return nil, fmt.Errorf("motif.MEME: line %d: expected %d columns, got %d", lineIdx, NBase, len(vals))
			}
			if remaining > 0 {
				remaining--
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return motifs, nil
}

func startsNumeric(line string) bool {
	c := line[0]
	return (c >= '0' && c <= '9') || c == '.' || c == '-'
}

// DetectDecoder picks a Decoder by looking at the beginning of the data.
func DetectDecoder(head []byte) (Decoder, error) {
	switch {
	case bytes.Contains(head, []byte("MEME version")), bytes.Contains(head, []byte("letter-probability")):
		return MEME{}, nil
	case bytes.HasPrefix(bytes.TrimSpace(head), []byte(">")):
		return JASPAR{}, nil
	}
	return nil, fmt.Errorf("motif.DetectDecoder: unrecognized motif format")
}

// ReadFile loads all motifs from the (optionally gzipped) file at path,
// detecting its format.
func ReadFile(ctx context.Context, path string) (motifs []Motif, err error) {
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
	var data []byte
	if data, err = ioutil.ReadAll(r); err != nil {
		return
	}
	var dec Decoder
	if dec, err = DetectDecoder(data); err != nil {
		err = fmt.Errorf("%s: %v", path, err)
		return
	}
	if motifs, err = dec.Decode(bytes.NewReader(data)); err != nil {
		err = fmt.Errorf("%s: %v", path, err)
	}
	return
}

// ReadFiles concatenates the motifs of several files in argument order.
func ReadFiles(ctx context.Context, paths []string) ([]Motif, error) {
	var all []Motif
	for _, path := range paths {
		motifs, err := ReadFile(ctx, path)
		if err != nil {
			return nil, err
		}
		all = append(all, motifs...)
	}
	return all, nil
}
