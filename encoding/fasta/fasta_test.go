package fasta_test

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bindetect/encoding/fasta"
	"github.com/grailbio/bindetect/interval"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

var fastaData = ">seq1\n" + "ACGTA\nCGTAC\nGT\n" + ">seq2 A viral sequence\n" + "ACGT\n" + "ACGT\n"

func TestGet(t *testing.T) {
	tests := []struct {
		seq   string
		start uint64
		end   uint64
		want  string
		err   error
	}{
		{"seq1", 1, 2, "C", nil},
		{"seq1", 1, 6, "CGTAC", nil},
		{"seq1", 0, 12, "ACGTACGTACGT", nil},
		{"seq1", 10, 12, "GT", nil},
		{"seq2", 0, 8, "ACGTACGT", nil},
		{"seq2", 2, 5, "GTA", nil},
		{"seq0", 0, 1, "", fmt.Errorf("sequence not found: seq0")},
		{"seq1", 10, 13, "", fmt.Errorf("invalid query range")},
		{"seq1", 4, 3, "", fmt.Errorf("start must be less than end")},
	}
	fa, err := fasta.New(strings.NewReader(fastaData))
	if err != nil {
		t.Errorf("couldn't create Fasta: %v", err)
	}
	for _, tt := range tests {
		got, err := fa.Get(tt.seq, tt.start, tt.end)
		if (err == nil && tt.err != nil) || (err != nil && tt.err == nil) {
			t.Errorf("unexpected error: want %v, got %v", tt.err, err)
		}
		if got != tt.want {
			t.Errorf("unexpected sequence: want %s, got %s", tt.want, got)
		}
	}
}

func TestLenAndSeqNames(t *testing.T) {
	fa, err := fasta.New(strings.NewReader(fastaData))
	assert.NoError(t, err)
	n, err := fa.Len("seq1")
	assert.NoError(t, err)
	expect.EQ(t, n, uint64(12))
	_, err = fa.Len("seq0")
	expect.NotNil(t, err)
	if want := []string{"seq1", "seq2"}; !reflect.DeepEqual(fa.SeqNames(), want) {
		t.Errorf("got %v, want %v", fa.SeqNames(), want)
	}
}

func TestMalformed(t *testing.T) {
	_, err := fasta.New(strings.NewReader("ACGT\n>seq1\nACGT\n"))
	expect.NotNil(t, err)
	_, err = fasta.New(strings.NewReader(">seq1\nACGT\n>seq1\nAC\n"))
	expect.NotNil(t, err)
}

func TestOpen(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	path := filepath.Join(tmpdir, "ref.fa")
	assert.NoError(t, os.WriteFile(path, []byte(fastaData), 0644))
	fa, err := fasta.Open(vcontext.Background(), path)
	assert.NoError(t, err)
	got, err := fa.Get("seq2", 0, 4)
	assert.NoError(t, err)
	expect.EQ(t, got, "ACGT")
}

func TestGCContent(t *testing.T) {
	fa, err := fasta.New(strings.NewReader(">chr1\nGGCCAATTNN\n>chr2\nGGGG\n"))
	assert.NoError(t, err)

	gc, err := fasta.GCContent(fa, []interval.Entry{{ChrName: "chr1", Start0: 0, End: 10}})
	assert.NoError(t, err)
	expect.EQ(t, gc, 0.5)

	gc, err = fasta.GCContent(fa, []interval.Entry{
		{ChrName: "chr1", Start0: 0, End: 4},
		{ChrName: "chr2", Start0: 2, End: 100},
	})
	assert.NoError(t, err)
	expect.EQ(t, gc, 1.0)

	gc, err = fasta.GCContent(fa, nil)
	assert.NoError(t, err)
	expect.EQ(t, gc, 0.0)

	_, err = fasta.GCContent(fa, []interval.Entry{{ChrName: "chrX", Start0: 0, End: 4}})
	expect.NotNil(t, err)
}
