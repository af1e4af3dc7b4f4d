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

	"github.com/grailbio/bindetect/track"
)

// ErrorKind classifies run errors and warnings.
type ErrorKind int

const (
	// TrackLookup: a condition track has no data for a site's chromosome.
	TrackLookup ErrorKind = iota
	// InsufficientData: too few sites or distinct values to normalize or fit
	// a mixture.  The affected step degrades to identity or a fallback
	// threshold; never fatal.
	InsufficientData
	// DuplicateMotifName: two motifs shared an output name and one was
	// renamed; never fatal.
	DuplicateMotifName
	// Configuration: invalid options or inputs, reported before any job
	// starts.
	Configuration
	// WorkerFailure: any other per-motif failure, including panics.
	WorkerFailure
)

var errorKindNames = [...]string{
	TrackLookup:        "TrackLookup",
	InsufficientData:   "InsufficientData",
	DuplicateMotifName: "DuplicateMotifName",
	Configuration:      "Configuration",
	WorkerFailure:      "WorkerFailure",
}

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(errorKindNames) {
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
	return errorKindNames[k]
}

// MotifError records a motif whose job failed.  The motif has no row in the
// result table.
type MotifError struct {
	// Index is the motif's position in the input.
	Index int
	UID   string
	Kind  ErrorKind
	Msg   string
}

func (e MotifError) Error() string {
	return fmt.Sprintf("motif %s (#%d): %v: %s", e.UID, e.Index, e.Kind, e.Msg)
}

// InsufficientDataError describes a vector that could not be normalized or
// classified as requested.
type InsufficientDataError struct {
	Condition string
	N         int
	Reason    string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("condition %s: insufficient data (%d values): %s", e.Condition, e.N, e.Reason)
}

// kindOf maps a job error to its ErrorKind.
func kindOf(err error) ErrorKind {
	switch err.(type) {
	case *track.LookupError:
		return TrackLookup
	case *InsufficientDataError:
		return InsufficientData
	}
	return WorkerFailure
}
