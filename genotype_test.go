// Copyright (C) The Qgg Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package qgg

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"gopkg.in/check.v1"
)

type genotypeSuite struct{}

var _ = check.Suite(&genotypeSuite{})

func (s *genotypeSuite) TestOpenAndDecode(c *check.C) {
	dir := c.MkDir()
	rng := rand.New(rand.NewSource(1))
	prefix, dosages := makeTestPlink(c, dir, "1", 50, 37, rng)

	store, err := OpenGenotypeStore(prefix+".bed", prefix+".bim", prefix+".fam")
	c.Assert(err, check.IsNil)
	defer store.Close()
	c.Check(store.NMarkers(), check.Equals, 50)
	c.Check(store.NIndividuals(), check.Equals, 37)
	c.Check(store.Marker(0).ID, check.Equals, "rs1_0")
	c.Check(store.Marker(49).Position, check.Equals, 50000)
	c.Check(store.Individual(0), check.Equals, "id0")

	var col []float64
	for i := 0; i < 50; i++ {
		col, err = store.Dosages(i, col)
		c.Assert(err, check.IsNil)
		for j := range col {
			if math.IsNaN(dosages[i][j]) {
				c.Check(math.IsNaN(col[j]), check.Equals, true)
			} else {
				c.Check(col[j], check.Equals, dosages[i][j])
			}
		}
	}
}

func (s *genotypeSuite) TestRowMatchesColumns(c *check.C) {
	dir := c.MkDir()
	rng := rand.New(rand.NewSource(2))
	prefix, dosages := makeTestPlink(c, dir, "1", 20, 11, rng)

	store, err := OpenGenotypeStore(prefix+".bed", prefix+".bim", prefix+".fam")
	c.Assert(err, check.IsNil)
	defer store.Close()

	row, err := store.Row(7, nil)
	c.Assert(err, check.IsNil)
	c.Assert(row, check.HasLen, 20)
	for i := range row {
		if math.IsNaN(dosages[i][7]) {
			c.Check(math.IsNaN(row[i]), check.Equals, true)
		} else {
			c.Check(row[i], check.Equals, dosages[i][7])
		}
	}

	_, err = store.Row(11, nil)
	c.Check(err, check.FitsTypeOf, &NotFoundError{})
}

func (s *genotypeSuite) TestComputeStats(c *check.C) {
	dir := c.MkDir()
	rng := rand.New(rand.NewSource(3))
	prefix, dosages := makeTestPlink(c, dir, "1", 30, 200, rng)

	store, err := OpenGenotypeStore(prefix+".bed", prefix+".bim", prefix+".fam")
	c.Assert(err, check.IsNil)
	defer store.Close()
	c.Assert(store.ComputeStats(), check.IsNil)

	for i := 0; i < 30; i++ {
		sum, nobs := 0.0, 0
		for _, d := range dosages[i] {
			if !math.IsNaN(d) {
				sum += d
				nobs++
			}
		}
		m := store.Marker(i)
		c.Check(m.Freq, check.Equals, sum/float64(2*nobs))
		c.Check(m.Missing, check.Equals, 1-float64(nobs)/200)
	}
}

func (s *genotypeSuite) TestMarkerByID(c *check.C) {
	dir := c.MkDir()
	rng := rand.New(rand.NewSource(4))
	prefix, _ := makeTestPlink(c, dir, "2", 10, 8, rng)

	store, err := OpenGenotypeStore(prefix+".bed", prefix+".bim", prefix+".fam")
	c.Assert(err, check.IsNil)
	defer store.Close()

	i, err := store.MarkerByID("rs2_3")
	c.Assert(err, check.IsNil)
	c.Check(i, check.Equals, 3)

	_, err = store.MarkerByID("rs2_999")
	c.Check(err, check.FitsTypeOf, &NotFoundError{})
	c.Check(err, check.ErrorMatches, `marker "rs2_999" not found`)
}

func (s *genotypeSuite) TestFormatErrors(c *check.C) {
	dir := c.MkDir()
	rng := rand.New(rand.NewSource(5))
	prefix, _ := makeTestPlink(c, dir, "1", 10, 8, rng)

	// Truncated bed.
	raw, err := os.ReadFile(prefix + ".bed")
	c.Assert(err, check.IsNil)
	truncated := filepath.Join(dir, "trunc")
	c.Assert(os.WriteFile(truncated+".bed", raw[:len(raw)-1], 0666), check.IsNil)
	_, err = OpenGenotypeStore(truncated+".bed", prefix+".bim", prefix+".fam")
	c.Check(err, check.FitsTypeOf, &FormatError{})

	// Bad magic.
	bad := append([]byte(nil), raw...)
	bad[0] = 'x'
	badPrefix := filepath.Join(dir, "badmagic")
	c.Assert(os.WriteFile(badPrefix+".bed", bad, 0666), check.IsNil)
	_, err = OpenGenotypeStore(badPrefix+".bed", prefix+".bim", prefix+".fam")
	c.Check(err, check.FitsTypeOf, &FormatError{})

	// Individual-major mode byte is rejected.
	bad = append([]byte(nil), raw...)
	bad[2] = 0
	badPrefix = filepath.Join(dir, "badmode")
	c.Assert(os.WriteFile(badPrefix+".bed", bad, 0666), check.IsNil)
	_, err = OpenGenotypeStore(badPrefix+".bed", prefix+".bim", prefix+".fam")
	c.Check(err, check.FitsTypeOf, &FormatError{})
}
