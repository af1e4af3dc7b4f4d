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

package site_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bindetect/motif"
	"github.com/grailbio/bindetect/site"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/klauspost/compress/gzip"
)

const bedData = "track name=tfbs\n" +
	"chr1\t100\t110\tCTCF\t12.5\t+\n" +
	"chr1\t50\t60\tCTCF\t3\t-\n" +
	"chr2\t5\t15\tMA0001.1\t.\t.\n" +
	"chr3\t0\t8\n"

func TestReadBED(t *testing.T) {
	sites, err := site.ReadBED(strings.NewReader(bedData), "unnamed")
	assert.NoError(t, err)
	expect.EQ(t, len(sites), 4)
	expect.EQ(t, sites[0], site.Site{Chrom: "chr1", Start: 100, End: 110, Strand: '+', Score: 12.5, Name: "CTCF"})
	expect.EQ(t, sites[2].Score, 0.0)
	expect.EQ(t, sites[3].Name, "unnamed")
	expect.EQ(t, sites[3].Strand, byte('.'))

	for _, bad := range []string{"chr1\t5\n", "chr1\tx\t5\n", "chr1\t10\t5\n", "chr1\t1\t5\tA\tscore\n"} {
		_, err := site.ReadBED(strings.NewReader(bad), "")
		expect.NotNil(t, err, bad)
	}
}

func TestTable(t *testing.T) {
	sites, err := site.ReadBED(strings.NewReader(bedData), "unnamed")
	assert.NoError(t, err)
	tab := site.NewTable(sites)
	expect.EQ(t, tab.Len(), 4)
	ctx := vcontext.Background()

	got, err := tab.Scan(ctx, motif.Motif{ID: "MA0139.1", Name: "CTCF"})
	assert.NoError(t, err)
	expect.EQ(t, len(got), 2)
	expect.EQ(t, got[0].Start, 50)
	expect.EQ(t, got[1].Start, 100)

	got, err = tab.Scan(ctx, motif.Motif{ID: "MA0001.1", Name: "AGL3"})
	assert.NoError(t, err)
	expect.EQ(t, len(got), 1)

	got, err = tab.Scan(ctx, motif.Motif{ID: "none", Name: "none"})
	assert.NoError(t, err)
	expect.EQ(t, len(got), 0)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = tab.Scan(cctx, motif.Motif{Name: "CTCF"})
	expect.NotNil(t, err)
}

func TestReadBEDFile(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(bedData))
	assert.NoError(t, err)
	assert.NoError(t, gz.Close())
	path := filepath.Join(tmpdir, "sites.bed.gz")
	assert.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	sites, err := site.ReadBEDFile(vcontext.Background(), path)
	assert.NoError(t, err)
	expect.EQ(t, len(sites), 4)
	expect.EQ(t, sites[1].Strand, byte('-'))
}
