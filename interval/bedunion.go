package interval

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/base/vcontext"
	"github.com/klauspost/compress/gzip"
)

// getTokens identifies up to the first len(tokens) tokens from curLine,
// returning the number of tokens saved.  Any (group of) characters <= ' ' is
// treated as a delimiter.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

// NewBEDOpts defines behavior of this package's BED-loading function(s).
type NewBEDOpts struct {
	// OneBasedInput interprets the BED interval boundaries as one-based [start,
	// end] instead of the usual zero-based [start, end).
	OneBasedInput bool
	// Padding extends every interval by this many bases on both sides before
	// merging.  Starts are clipped at zero.
	Padding int
}

// PosType is BEDUnion's coordinate type.
type PosType int32

const posTypeMax = math.MaxInt32

// searchPosType returns the index of x in a[], or the position where x would
// be inserted if x isn't in a (this could be len(a)).
func searchPosType(a []PosType, x PosType) int {
	return sort.Search(len(a), func(i int) bool { return a[i] >= x })
}

// BEDUnion is a set of genomic intervals stored as one sorted endpoint
// sequence per chromosome: interval #k occupies elements [2k] (0-based start)
// and [2k+1] (end).  Overlapping and touching intervals are merged on
// construction.
//
// A BEDUnion is immutable once built, so it can be shared between goroutines.
type BEDUnion struct {
	// nameMap is a chromosome-keyed map with disjoint-interval-set values.
	nameMap map[string]([]PosType)
	// chroms lists the chromosomes in first-appearance order.
	chroms []string
}

// Contains checks whether the (0-based) position pos on chromosome chrName is
// covered by the BEDUnion.
func (u *BEDUnion) Contains(chrName string, pos PosType) bool {
	if u == nil {
		return false
	}
	chrIntervals := u.nameMap[chrName]
	if chrIntervals == nil {
		return false
	}
	return searchPosType(chrIntervals, pos+1)&1 == 1
}

// Overlaps checks whether [start, end) on chrName intersects the BEDUnion.
func (u *BEDUnion) Overlaps(chrName string, start, end PosType) bool {
	if u == nil || end <= start {
		return false
	}
	chrIntervals := u.nameMap[chrName]
	idx := searchPosType(chrIntervals, start+1)
	if idx&1 == 1 {
		return true
	}
	return idx != len(chrIntervals) && end > chrIntervals[idx]
}

// Chroms returns the chromosomes mentioned by the BEDUnion, in input order.
func (u *BEDUnion) Chroms() []string {
	if u == nil {
		return nil
	}
	return u.chroms
}

// Entries returns the merged intervals, grouped by chromosome in input order
// and sorted by position within each chromosome.
func (u *BEDUnion) Entries() []Entry {
	if u == nil {
		return nil
	}
	var entries []Entry
	for _, chr := range u.chroms {
		chrIntervals := u.nameMap[chr]
		for i := 0; i+1 < len(chrIntervals); i += 2 {
			entries = append(entries, Entry{ChrName: chr, Start0: chrIntervals[i], End: chrIntervals[i+1]})
		}
	}
	return entries
}

// TotalBases returns the number of bases covered by the BEDUnion.
func (u *BEDUnion) TotalBases() int {
	if u == nil {
		return 0
	}
	tot := 0
	for _, chrIntervals := range u.nameMap {
		for i := 0; i+1 < len(chrIntervals); i += 2 {
			tot += int(chrIntervals[i+1] - chrIntervals[i])
		}
	}
	return tot
}

func initBEDUnion() (bedUnion BEDUnion) {
	bedUnion.nameMap = make(map[string]([]PosType))
	return
}

// unionBuilder accumulates sorted intervals for one chromosome at a time,
// merging as it goes.
type unionBuilder struct {
	u            BEDUnion
	prevChr      string
	prevStart    PosType
	prevEnd      PosType
	chrIntervals []PosType
	totBases     int
}

func newUnionBuilder() *unionBuilder {
	return &unionBuilder{u: initBEDUnion(), prevStart: -1, prevEnd: -1}
}

func (b *unionBuilder) flushChr() {
	if b.prevChr == "" {
		return
	}
	if b.prevEnd != -1 {
		b.chrIntervals = append(b.chrIntervals, b.prevStart, b.prevEnd)
	}
	b.u.nameMap[b.prevChr] = b.chrIntervals
	b.u.chroms = append(b.u.chroms, b.prevChr)
}

// add appends [start, end) on chr.  Input must be grouped by chromosome and
// sorted by start within each chromosome.
func (b *unionBuilder) add(chr string, start, end PosType) error {
	if chr != b.prevChr {
		b.flushChr()
		if _, found := b.u.nameMap[chr]; found {
			return fmt.Errorf("unsorted input (split chromosome %v)", chr)
		}
		b.prevChr = chr
		b.chrIntervals = []PosType{}
		b.prevStart, b.prevEnd = -1, -1
	}
	if end == start {
		// Distinguish between 'mentioned' chromosomes without any overlapping
		// bases and unmentioned chromosomes.
		return nil
	}
	if b.prevEnd == -1 {
		b.prevStart, b.prevEnd = start, end
		b.totBases += int(end - start)
		return nil
	}
	if start < b.prevStart {
		return fmt.Errorf("unsorted input")
	}
	if start > b.prevEnd {
		b.chrIntervals = append(b.chrIntervals, b.prevStart, b.prevEnd)
		b.prevStart, b.prevEnd = start, end
		b.totBases += int(end - start)
		return nil
	}
	if end > b.prevEnd {
		b.totBases += int(end - b.prevEnd)
		b.prevEnd = end
	}
	return nil
}

func (b *unionBuilder) finish() BEDUnion {
	b.flushChr()
	b.prevChr = ""
	return b.u
}

func scanBEDUnion(scanner *bufio.Scanner, opts NewBEDOpts) (bedUnion BEDUnion, err error) {
	var startSubtract int
	if opts.OneBasedInput {
		startSubtract++
	}
	var tokens [3][]byte
	// Padding can make a sorted file locally unsorted (a long interval followed
	// by a short one), so padded input is collected and re-sorted.
	var padded []Entry
	b := newUnionBuilder()
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		if len(curLine) > 0 && curLine[0] == '#' {
			continue
		}
		nToken := getTokens(tokens[:], curLine)
		if nToken == 0 {
			continue
		}
		if string(tokens[0]) == "track" || string(tokens[0]) == "browser" {
			continue
		}
		if nToken != 3 {
			err = fmt.Errorf("interval.scanBEDUnion: line %d has fewer tokens than expected", lineIdx)
			return
		}
		var parsedStart, parsedEnd int
		if parsedStart, err = strconv.Atoi(gunsafe.BytesToString(tokens[1])); err != nil {
			return
		}
		parsedStart -= startSubtract
		if parsedStart < 0 {
			err = fmt.Errorf("interval.scanBEDUnion: negative start coordinate %s on line %d", tokens[1], lineIdx)
			return
		}
		if parsedEnd, err = strconv.Atoi(gunsafe.BytesToString(tokens[2])); err != nil {
			return
		}
		if (parsedEnd < parsedStart) || (parsedEnd >= posTypeMax) {
			err = fmt.Errorf("interval.scanBEDUnion: invalid coordinate pair on line %d", lineIdx)
			return
		}
		// tokens[0] refers to bytes on curLine that will be overwritten soon, so
		// a copy is needed.
		chr := string(tokens[0])
		if opts.Padding > 0 {
			padded = append(padded, padEntry(Entry{ChrName: chr, Start0: PosType(parsedStart), End: PosType(parsedEnd)}, opts.Padding))
			continue
		}
		if err = b.add(chr, PosType(parsedStart), PosType(parsedEnd)); err != nil {
			err = fmt.Errorf("interval.scanBEDUnion: line %d: %v", lineIdx, err)
			return
		}
	}
	if err = scanner.Err(); err != nil {
		return
	}
	if opts.Padding > 0 {
		return NewBEDUnionFromEntries(SortEntries(padded), NewBEDOpts{})
	}
	bedUnion = b.finish()
	log.Printf("BED loaded, %d base(s) covered.\n", b.totBases)
	return
}

func padEntry(e Entry, padding int) Entry {
	start := int(e.Start0) - padding
	if start < 0 {
		start = 0
	}
	end := int(e.End) + padding
	if end >= posTypeMax {
		end = posTypeMax - 1
	}
	return Entry{ChrName: e.ChrName, Start0: PosType(start), End: PosType(end)}
}

// NewBEDUnion loads just the intervals from a sorted (by first coordinate)
// interval-BED, merging touching/overlapping intervals and eliminating empty
// ones in the process.  A BEDUnion is returned.
func NewBEDUnion(reader io.Reader, opts NewBEDOpts) (BEDUnion, error) {
	return scanBEDUnion(bufio.NewScanner(reader), opts)
}

// NewBEDUnionFromPath is a wrapper for NewBEDUnion that takes a path instead
// of an io.Reader.  Gzipped files are recognized by extension.
func NewBEDUnionFromPath(path string, opts NewBEDOpts) (bedUnion BEDUnion, err error) {
	ctx := vcontext.Background()
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return
	}
	defer func() {
		if cerr := infile.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	reader := io.Reader(infile.Reader(ctx))
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		if reader, err = gzip.NewReader(reader); err != nil {
			return
		}
	}
	return NewBEDUnion(reader, opts)
}

// Entry represents a single interval, with 0-based coordinates.
type Entry struct {
	ChrName string
	Start0  PosType
	End     PosType
}

// Len returns the number of bases in the interval.
func (e Entry) Len() int {
	return int(e.End - e.Start0)
}

// String renders the entry as chr:start0-end.
func (e Entry) String() string {
	return fmt.Sprintf("%s:%d-%d", e.ChrName, e.Start0, e.End)
}

// SortEntries sorts entries in place by (chromosome, start, end) and returns
// them.  Chromosomes are ordered by name.
func SortEntries(entries []Entry) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.ChrName != b.ChrName {
			return a.ChrName < b.ChrName
		}
		if a.Start0 != b.Start0 {
			return a.Start0 < b.Start0
		}
		return a.End < b.End
	})
	return entries
}

// ParseRegionString parses a region string of one of the forms
//   [contig ID]:[1-based first pos]-[last pos]
//   [contig ID]:[1-based pos]
//   [contig ID]
// returning a contig ID and 0-based interval boundaries.  The interval
// [0, posTypeMax - 1] is returned if there is no positional restriction.
func ParseRegionString(region string) (result Entry, err error) {
	if len(region) == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty region string")
		return
	}
	colonPos := strings.IndexByte(region, ':')
	if colonPos == -1 {
		result.ChrName = region
		result.End = posTypeMax - 1
		return
	}
	if colonPos == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty contig ID")
		return
	}
	result.ChrName = region[:colonPos]
	rangeStr := strings.Replace(region[colonPos+1:], ",", "", -1)
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int64
		if pos1, err = strconv.ParseInt(rangeStr, 10, 32); err != nil {
			return
		}
		if pos1 <= 0 {
			err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr)
			return
		}
		result.Start0 = PosType(pos1 - 1)
		result.End = PosType(pos1)
		return
	}
	var start1, end0 int
	if start1, err = strconv.Atoi(rangeStr[:dashPos]); err != nil {
		return
	}
	if start1 <= 0 {
		err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr[:dashPos])
		return
	}
	if end0, err = strconv.Atoi(rangeStr[dashPos+1:]); err != nil {
		return
	}
	// end0 == posTypeMax is prohibited so that the interval-array is
	// guaranteed to contain no repeats.
	if end0 < start1 || end0 >= posTypeMax {
		err = fmt.Errorf("interval.ParseRegionString: invalid range string %v", rangeStr)
		return
	}
	result.Start0 = PosType(start1 - 1)
	result.End = PosType(end0)
	return
}

// ParseRegions parses region strings (see ParseRegionString) into a
// BEDUnion.  Overlapping regions are merged.
func ParseRegions(regions []string) (BEDUnion, error) {
	entries := make([]Entry, len(regions))
	for i, region := range regions {
		var err error
		if entries[i], err = ParseRegionString(region); err != nil {
			return BEDUnion{}, err
		}
	}
	return NewBEDUnionFromEntries(SortEntries(entries), NewBEDOpts{})
}

// NewBEDUnionFromEntries initializes a BEDUnion from []Entry grouped by
// chromosome and sorted by start within each chromosome.  Only
// opts.Padding is honored, since Start0 is defined to be zero-based.
func NewBEDUnionFromEntries(entries []Entry, opts NewBEDOpts) (BEDUnion, error) {
	if opts.Padding > 0 {
		padded := make([]Entry, len(entries))
		for i, e := range entries {
			padded[i] = padEntry(e, opts.Padding)
		}
		entries = SortEntries(padded)
	}
	b := newUnionBuilder()
	for _, entry := range entries {
		if entry.Start0 < 0 {
			return BEDUnion{}, fmt.Errorf("interval.NewBEDUnionFromEntries: negative start coordinate")
		}
		if (entry.End < entry.Start0) || (entry.End >= posTypeMax) {
			return BEDUnion{}, fmt.Errorf("interval.NewBEDUnionFromEntries: invalid coordinate pair [%d, %d)", entry.Start0, entry.End)
		}
		if err := b.add(entry.ChrName, entry.Start0, entry.End); err != nil {
			return BEDUnion{}, fmt.Errorf("interval.NewBEDUnionFromEntries: %v", err)
		}
	}
	return b.finish(), nil
}

// Merge returns the union of the given BEDUnions.  Nil arguments are skipped.
func Merge(unions ...*BEDUnion) (BEDUnion, error) {
	var entries []Entry
	for _, u := range unions {
		entries = append(entries, u.Entries()...)
	}
	return NewBEDUnionFromEntries(SortEntries(entries), NewBEDOpts{})
}
