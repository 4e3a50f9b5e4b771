// Copyright (C) The Qgg Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package qgg

import (
	"math/rand"
	"path/filepath"

	"gopkg.in/check.v1"
)

type markerIndexSuite struct{}

var _ = check.Suite(&markerIndexSuite{})

func (s *markerIndexSuite) TestCreateAndLookup(c *check.C) {
	dir := c.MkDir()
	rng := rand.New(rand.NewSource(70))
	gl, _ := makeTestGlist(c, dir, map[string]int{"1": 15, "2": 10}, 40, 5, rng)

	dbPath := filepath.Join(dir, "markers.db")
	c.Assert(CreateMarkerIndex(dbPath, gl), check.IsNil)

	ix, err := OpenMarkerIndex(dbPath)
	c.Assert(err, check.IsNil)
	defer ix.Close()

	for _, cd := range gl.Chromosomes {
		for i, m := range cd.Markers {
			row, err := ix.Lookup(m.ID)
			c.Assert(err, check.IsNil)
			c.Check(row.Chrom, check.Equals, cd.Chromosome)
			c.Check(row.Idx, check.Equals, i)
			c.Check(row.Pos, check.Equals, m.Position)
			c.Check(row.Allele1, check.Equals, m.Allele1)
			c.Check(row.Allele2, check.Equals, m.Allele2)
			c.Check(row.Freq, check.Equals, m.Freq)
		}
	}

	_, err = ix.Lookup("rs_nowhere")
	c.Check(err, check.FitsTypeOf, &NotFoundError{})
	c.Check(err, check.ErrorMatches, `marker "rs_nowhere" not found`)
}

func (s *markerIndexSuite) TestRecreateReplaces(c *check.C) {
	dir := c.MkDir()
	rng := rand.New(rand.NewSource(71))
	gl, _ := makeTestGlist(c, dir, map[string]int{"1": 10}, 30, 5, rng)

	dbPath := filepath.Join(dir, "markers.db")
	c.Assert(CreateMarkerIndex(dbPath, gl), check.IsNil)
	c.Assert(CreateMarkerIndex(dbPath, gl), check.IsNil)

	ix, err := OpenMarkerIndex(dbPath)
	c.Assert(err, check.IsNil)
	defer ix.Close()
	var n int
	c.Assert(ix.DB.Get(&n, `SELECT count(*) FROM markers`), check.IsNil)
	c.Check(n, check.Equals, gl.NMarkers())
}
