package webgwas

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"
	"gopkg.in/check.v1"
)

type gwasSuite struct{}

var _ = check.Suite(&gwasSuite{})

var defaultGwasColumns = gwasColumns{
	variantID:  "ID",
	beta:       "BETA",
	stdError:   "SE",
	sampleSize: "OBS_CT",
}

func readAllz(c *check.C, path string) string {
	r, err := zopen(path)
	c.Assert(err, check.IsNil)
	defer r.Close()
	buf, err := io.ReadAll(r)
	c.Assert(err, check.IsNil)
	return string(buf)
}

func (s *gwasSuite) TestReformat(c *check.C) {
	dir := c.MkDir()
	src := filepath.Join(dir, "ht.tsv")
	writeFile(c, src, "CHR\tID\tBETA\tSE\tOBS_CT\n"+
		"1\trs1\t0.01\t0.002\t10000\n"+
		"1\trs2\t-0.5\t0.1\t9000\n")
	dst := filepath.Join(dir, "ht.tsv.zst")
	err := reformatGwas(src, dst, '\t', defaultGwasColumns, 0)
	c.Assert(err, check.IsNil)
	c.Check(readAllz(c, dst), check.Equals, "ID\tBETA\tSE\tOBS_CT\n"+
		"rs1\t0.01\t0.002\t10000\n"+
		"rs2\t-0.5\t0.1\t9000\n")
}

func (s *gwasSuite) TestReformatRenamesColumns(c *check.C) {
	dir := c.MkDir()
	src := filepath.Join(dir, "wt.csv")
	writeFile(c, src, "variant,effect,stderr,n\nrs9,1.25,0.25,500\n")
	dst := filepath.Join(dir, "wt.tsv.zst")
	err := reformatGwas(src, dst, ',', gwasColumns{
		variantID:  "variant",
		beta:       "effect",
		stdError:   "stderr",
		sampleSize: "n",
	}, 0)
	c.Assert(err, check.IsNil)
	c.Check(readAllz(c, dst), check.Equals, "ID\tBETA\tSE\tOBS_CT\nrs9\t1.25\t0.25\t500\n")
}

func (s *gwasSuite) TestReformatKeepN(c *check.C) {
	dir := c.MkDir()
	src := filepath.Join(dir, "bmi.tsv")
	var sb strings.Builder
	sb.WriteString("ID\tBETA\tSE\tOBS_CT\n")
	for i := 0; i < 10; i++ {
		sb.WriteString("rs1\t0.1\t0.01\t100\n")
	}
	writeFile(c, src, sb.String())
	dst := filepath.Join(dir, "bmi.tsv.zst")
	err := reformatGwas(src, dst, '\t', defaultGwasColumns, 3)
	c.Assert(err, check.IsNil)
	got := readAllz(c, dst)
	c.Check(strings.Count(got, "\n"), check.Equals, 4)
}

func (s *gwasSuite) TestReformatGzipInput(c *check.C) {
	dir := c.MkDir()
	src := filepath.Join(dir, "alp.tsv.gz")
	f, err := os.Create(src)
	c.Assert(err, check.IsNil)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte("ID\tBETA\tSE\tOBS_CT\nrs3\t0.2\t0.05\t777\n"))
	c.Assert(err, check.IsNil)
	c.Assert(gz.Close(), check.IsNil)
	c.Assert(f.Close(), check.IsNil)
	dst := filepath.Join(dir, "alp.tsv.zst")
	err = reformatGwas(src, dst, '\t', defaultGwasColumns, 0)
	c.Assert(err, check.IsNil)
	c.Check(readAllz(c, dst), check.Equals, "ID\tBETA\tSE\tOBS_CT\nrs3\t0.2\t0.05\t777\n")
}

func (s *gwasSuite) TestReformatMissingColumn(c *check.C) {
	dir := c.MkDir()
	src := filepath.Join(dir, "ht.tsv")
	writeFile(c, src, "ID\tBETA\tOBS_CT\nrs1\t0.1\t100\n")
	err := reformatGwas(src, filepath.Join(dir, "out.tsv.zst"), '\t', defaultGwasColumns, 0)
	c.Check(err, check.ErrorMatches, `.*column "SE" not found.*`)
	var ierr *IngestionError
	c.Check(errors.As(err, &ierr), check.Equals, true)
}

func (s *gwasSuite) TestReformatBadNumber(c *check.C) {
	dir := c.MkDir()
	src := filepath.Join(dir, "ht.tsv")
	writeFile(c, src, "ID\tBETA\tSE\tOBS_CT\nrs1\tnotanumber\t0.1\t100\n")
	err := reformatGwas(src, filepath.Join(dir, "out.tsv.zst"), '\t', defaultGwasColumns, 0)
	var ierr *IngestionError
	c.Assert(errors.As(err, &ierr), check.Equals, true)
	c.Check(ierr.Path, check.Equals, src)
}
