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

// Package motif defines the transcription-factor motif value type, decoders
// for the common motif file formats, and the name de-duplication pass that
// assigns every motif a unique output identifier.
package motif

import (
	"fmt"
	"strconv"
	"strings"
)

// Base indexes the rows of a position frequency matrix.
const (
	BaseA = iota
	BaseC
	BaseG
	BaseT
	NBase
)

var baseChars = [NBase]byte{'A', 'C', 'G', 'T'}

// Motif is a position frequency matrix together with its identifiers.  A
// Motif is a value: decoders produce it, Dedupe assigns UID, and nothing
// modifies it afterwards.
type Motif struct {
	// ID is the identifier from the motif file, e.g. "MA0139.1".
	ID string
	// Name is the transcription factor name, e.g. "CTCF".  Names may collide
	// across a motif collection.
	Name string
	// UID is the identifier used for output rows and directories.  It is
	// unique within a run once Dedupe has been applied.
	UID string
	// PFM holds one row per base (A, C, G, T), one column per motif position.
	// Values are counts or frequencies.
	PFM [NBase][]float64
}

// Length returns the number of motif positions.
func (m Motif) Length() int {
	return len(m.PFM[BaseA])
}

// Validate checks that the matrix is rectangular, non-empty, and
// non-negative.
func (m Motif) Validate() error {
	n := m.Length()
	if n == 0 {
		return fmt.Errorf("motif %s: empty matrix", m.label())
	}
	for b := 0; b < NBase; b++ {
		if len(m.PFM[b]) != n {
			return fmt.Errorf("motif %s: row %c has %d columns, expected %d", m.label(), baseChars[b], len(m.PFM[b]), n)
		}
		for i, v := range m.PFM[b] {
			if v < 0 || v != v {
				return fmt.Errorf("motif %s: invalid value %v at row %c column %d", m.label(), v, baseChars[b], i)
			}
		}
	}
	return nil
}

// Frequencies returns the column-normalized matrix.  All-zero columns become
// uniform.
func (m Motif) Frequencies() [NBase][]float64 {
	var out [NBase][]float64
	n := m.Length()
	for b := 0; b < NBase; b++ {
		out[b] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		var tot float64
		for b := 0; b < NBase; b++ {
			if i < len(m.PFM[b]) {
				tot += m.PFM[b][i]
			}
		}
		for b := 0; b < NBase; b++ {
			if tot == 0 || i >= len(m.PFM[b]) {
				out[b][i] = 1.0 / NBase
				continue
			}
			out[b][i] = m.PFM[b][i] / tot
		}
	}
	return out
}

// Consensus returns the most frequent base per position, lower-cased when no
// base reaches half of the column.
func (m Motif) Consensus() string {
	freqs := m.Frequencies()
	var sb strings.Builder
	for i := 0; i < m.Length(); i++ {
		best := 0
		for b := 1; b < NBase; b++ {
			if freqs[b][i] > freqs[best][i] {
				best = b
			}
		}
		c := baseChars[best]
		if freqs[best][i] < 0.5 {
			c += 'a' - 'A'
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

func (m Motif) label() string {
	if m.UID != "" {
		return m.UID
	}
	if m.ID != "" {
		return m.ID
	}
	return m.Name
}

// DuplicateNameError reports that two motifs would have shared an output
// identifier.  It is informational: Dedupe has already renamed the later
// motif.
type DuplicateNameError struct {
	Name    string
	Index   int
	Renamed string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate motif name %q at index %d, renamed to %q", e.Name, e.Index, e.Renamed)
}

// baseUID is the output name before disambiguation: name and ID joined by an
// underscore, with characters that are unsafe in file names replaced.
func baseUID(m Motif) string {
	parts := make([]string, 0, 2)
	if m.Name != "" {
		parts = append(parts, m.Name)
	}
	if m.ID != "" && m.ID != m.Name {
		parts = append(parts, m.ID)
	}
	if len(parts) == 0 {
		parts = append(parts, "motif")
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', '\t', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.Join(parts, "_"))
}

// Dedupe returns a copy of motifs with UID assigned so that no two motifs
// share one.  The first motif claiming a name keeps it; later ones get a
// numeric suffix ("_2", "_3", ...) that does not collide with any other
// motif's name.  It is a pure function of the input order, computed before
// any per-motif work starts.
func Dedupe(motifs []Motif) ([]Motif, []*DuplicateNameError) {
	out := make([]Motif, len(motifs))
	bases := make([]string, len(motifs))
	taken := make(map[string]bool, len(motifs))
	for i, m := range motifs {
		bases[i] = baseUID(m)
	}
	// Reserve every base name first so a suffixed name never steals a name
	// that appears verbatim later in the input.
	reserved := make(map[string]bool, len(motifs))
	for _, b := range bases {
		reserved[b] = true
	}
	var dups []*DuplicateNameError
	for i, m := range motifs {
		uid := bases[i]
		if taken[uid] {
			for k := 2; ; k++ {
				cand := uid + "_" + strconv.Itoa(k)
				if !taken[cand] && !reserved[cand] {
					dups = append(dups, &DuplicateNameError{Name: uid, Index: i, Renamed: cand})
					uid = cand
					break
				}
			}
		}
		taken[uid] = true
		m.UID = uid
		out[i] = m
	}
	return out, dups
}
