package fasta

import (
	"github.com/grailbio/bindetect/interval"
	"github.com/pkg/errors"
)

// gcWeight counts G/C as 1, A/T as 0 and anything else (N, IUPAC codes) as
// one half.
var gcWeight = func() (w [256]float64) {
	for i := range w {
		w[i] = 0.5
	}
	for _, c := range []byte("AaTt") {
		w[c] = 0
	}
	for _, c := range []byte("GgCc") {
		w[c] = 1
	}
	return
}()

// GCContent returns the GC fraction of the union of the given regions.
// Regions running past the end of a sequence are clipped; regions on
// sequences absent from fa are an error.
func GCContent(fa Fasta, regions []interval.Entry) (float64, error) {
	var gc float64
	var total int
	for _, r := range regions {
		seqLen, err := fa.Len(r.ChrName)
		if err != nil {
			return 0, errors.Wrap(err, "fasta.GCContent")
		}
		start, end := uint64(r.Start0), uint64(r.End)
		if end > seqLen {
			end = seqLen
		}
		if start >= end {
			continue
		}
		seq, err := fa.Get(r.ChrName, start, end)
		if err != nil {
			return 0, errors.Wrap(err, "fasta.GCContent")
		}
		for i := 0; i < len(seq); i++ {
			gc += gcWeight[seq[i]]
		}
		total += len(seq)
	}
	if total == 0 {
		return 0, nil
	}
	return gc / float64(total), nil
}
