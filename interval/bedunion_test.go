package interval

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

const testBED = `chr1	2488104	2488172
chr1	2488150	2488200
chr1	2489165	2489273
chr2	100	100
chr3	10	20
chr3	20	30
`

func TestNewBEDUnion(t *testing.T) {
	tests := []struct {
		bed           string
		oneBasedInput bool
		padding       int
		want          map[string]([]PosType)
		chroms        []string
	}{
		{
			testBED,
			false,
			0,
			map[string]([]PosType){
				"chr1": []PosType{2488104, 2488200, 2489165, 2489273},
				"chr2": []PosType{},
				"chr3": []PosType{10, 30},
			},
			[]string{"chr1", "chr2", "chr3"},
		},
		{
			"chr1\t1\t10\n# comment\nchr1\t20\t30\n",
			true,
			0,
			map[string]([]PosType){
				"chr1": []PosType{0, 10, 19, 30},
			},
			[]string{"chr1"},
		},
		{
			"chr1\t5\t10\nchr1\t14\t20\n",
			false,
			2,
			map[string]([]PosType){
				"chr1": []PosType{3, 22},
			},
			[]string{"chr1"},
		},
	}
	for _, tt := range tests {
		result, err := NewBEDUnion(strings.NewReader(tt.bed), NewBEDOpts{OneBasedInput: tt.oneBasedInput, Padding: tt.padding})
		expect.NoError(t, err)
		if !reflect.DeepEqual(result.nameMap, tt.want) {
			t.Errorf("Wanted: %v  Got: %v", tt.want, result.nameMap)
		}
		expect.EQ(t, result.Chroms(), tt.chroms)
	}
}

func TestNewBEDUnionErrors(t *testing.T) {
	for _, bed := range []string{
		"chr1\t10\n",
		"chr1\t20\t10\n",
		"chr1\t10\t20\nchr2\t1\t2\nchr1\t30\t40\n",
		"chr1\t30\t40\nchr1\t10\t20\n",
		"chr1\tx\t20\n",
	} {
		_, err := NewBEDUnion(strings.NewReader(bed), NewBEDOpts{})
		expect.NotNil(t, err, bed)
	}
}

func TestNewBEDUnionFromPath(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	path := filepath.Join(tmpdir, "peaks.bed")
	assert.NoError(t, os.WriteFile(path, []byte(testBED), 0644))
	u, err := NewBEDUnionFromPath(path, NewBEDOpts{})
	assert.NoError(t, err)
	expect.EQ(t, u.TotalBases(), (2488200-2488104)+(2489273-2489165)+20)
}

func TestContainsAndOverlaps(t *testing.T) {
	u, err := NewBEDUnionFromEntries([]Entry{
		{"chr1", 10, 20},
		{"chr1", 30, 40},
		{"chr2", 0, 5},
	}, NewBEDOpts{})
	assert.NoError(t, err)

	expect.False(t, u.Contains("chr1", 9))
	expect.True(t, u.Contains("chr1", 10))
	expect.True(t, u.Contains("chr1", 19))
	expect.False(t, u.Contains("chr1", 20))
	expect.True(t, u.Contains("chr2", 0))
	expect.False(t, u.Contains("chr3", 0))

	expect.True(t, u.Overlaps("chr1", 5, 11))
	expect.False(t, u.Overlaps("chr1", 20, 30))
	expect.True(t, u.Overlaps("chr1", 25, 31))
	expect.True(t, u.Overlaps("chr1", 0, 100))
	expect.False(t, u.Overlaps("chr1", 40, 50))
	expect.False(t, u.Overlaps("chrX", 0, 50))

	var nilUnion *BEDUnion
	expect.False(t, nilUnion.Contains("chr1", 10))
	expect.EQ(t, len(nilUnion.Entries()), 0)
}

func TestMerge(t *testing.T) {
	a, err := NewBEDUnionFromEntries([]Entry{{"chr1", 10, 20}, {"chr2", 0, 5}}, NewBEDOpts{})
	assert.NoError(t, err)
	b, err := NewBEDUnionFromEntries([]Entry{{"chr1", 15, 30}, {"chr1", 50, 60}}, NewBEDOpts{})
	assert.NoError(t, err)
	m, err := Merge(&a, nil, &b)
	assert.NoError(t, err)
	expect.EQ(t, m.Entries(), []Entry{
		{"chr1", 10, 30},
		{"chr1", 50, 60},
		{"chr2", 0, 5},
	})
}

func TestParseRegionString(t *testing.T) {
	tests := []struct {
		region  string
		chrName string
		start0  PosType
		end     PosType
	}{
		{
			"chr1:1-1000",
			"chr1",
			0,
			1000,
		},
		{
			"chr1:1,001-2,000",
			"chr1",
			1000,
			2000,
		},
		{
			"chr1:1000",
			"chr1",
			999,
			1000,
		},
		{
			"chr1",
			"chr1",
			0,
			math.MaxInt32 - 1,
		},
	}

	for _, tt := range tests {
		result, err := ParseRegionString(tt.region)
		expect.NoError(t, err)
		expect.EQ(t, tt.chrName, result.ChrName)
		expect.EQ(t, tt.start0, result.Start0)
		expect.EQ(t, tt.end, result.End)
	}
	for _, bad := range []string{"", ":1-10", "chr1:0", "chr1:10-5", "chr1:a-b"} {
		_, err := ParseRegionString(bad)
		expect.NotNil(t, err, bad)
	}
}

func TestParseRegions(t *testing.T) {
	u, err := ParseRegions([]string{"chr2:1-10", "chr1:101-200", "chr1:151-300"})
	assert.NoError(t, err)
	expect.EQ(t, u.Entries(), []Entry{
		{"chr1", 100, 300},
		{"chr2", 0, 10},
	})
	expect.True(t, u.Contains("chr1", 299))
	expect.False(t, u.Contains("chr1", 300))

	u, err = ParseRegions(nil)
	assert.NoError(t, err)
	expect.EQ(t, u.TotalBases(), 0)

	_, err = ParseRegions([]string{"chr1:5-1"})
	expect.NotNil(t, err)
}
