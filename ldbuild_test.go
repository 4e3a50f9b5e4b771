// Copyright (C) The Qgg Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package qgg

import (
	"math"
	"math/rand"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gopkg.in/check.v1"
)

type ldSuite struct{}

var _ = check.Suite(&ldSuite{})

// directR computes the correlation of two marker columns straight from
// the genotype store, with the same mean-imputation policy the builder
// uses.
func directR(c *check.C, store *GenotypeStore, i, j int) float64 {
	x, err := store.DosagesCentered(i, nil)
	c.Assert(err, check.IsNil)
	y, err := store.DosagesCentered(j, nil)
	c.Assert(err, check.IsNil)
	nx := math.Sqrt(floats.Dot(x, x))
	ny := math.Sqrt(floats.Dot(y, y))
	if nx == 0 || ny == 0 {
		return 0
	}
	return floats.Dot(x, y) / (nx * ny)
}

func (s *ldSuite) TestRoundTrip(c *check.C) {
	dir := c.MkDir()
	rng := rand.New(rand.NewSource(20))
	gl, _ := makeTestGlist(c, dir, map[string]int{"1": 60}, 150, 10, rng)

	lds := OpenLDStore(gl)
	blk, err := lds.Block("1")
	c.Assert(err, check.IsNil)

	store, err := gl.Chromosomes[0].Open()
	c.Assert(err, check.IsNil)
	defer store.Close()

	// Every stored in-window pair matches the direct computation.
	for _, i := range blk.Included {
		for _, j := range blk.Included {
			si, _ := blk.Sub(i)
			sj, _ := blk.Sub(j)
			d := sj - si
			if d <= 0 || d > 10 {
				continue
			}
			c.Assert(blk.R(i, j), checkAlmostEquals, directR(c, store, i, j))
		}
	}
}

func (s *ldSuite) TestSymmetryAndDiagonal(c *check.C) {
	dir := c.MkDir()
	rng := rand.New(rand.NewSource(21))
	gl, _ := makeTestGlist(c, dir, map[string]int{"1": 40}, 80, 5, rng)

	blk, err := OpenLDStore(gl).Block("1")
	c.Assert(err, check.IsNil)
	for _, i := range blk.Included {
		c.Assert(blk.R(i, i), check.Equals, 1.0)
		for _, j := range blk.Included {
			c.Assert(blk.R(i, j), check.Equals, blk.R(j, i))
		}
	}
}

func (s *ldSuite) TestWindowing(c *check.C) {
	dir := c.MkDir()
	rng := rand.New(rand.NewSource(22))
	gl, _ := makeTestGlist(c, dir, map[string]int{"1": 40}, 80, 5, rng)

	blk, err := OpenLDStore(gl).Block("1")
	c.Assert(err, check.IsNil)
	for si, i := range blk.Included {
		for sj, j := range blk.Included {
			if sj-si > 5 {
				c.Assert(blk.R(i, j), check.Equals, 0.0)
			}
		}
	}
}

func (s *ldSuite) TestLDScores(c *check.C) {
	dir := c.MkDir()
	rng := rand.New(rand.NewSource(23))
	gl, _ := makeTestGlist(c, dir, map[string]int{"1": 30}, 100, 8, rng)

	lds := OpenLDStore(gl)
	blk, err := lds.Block("1")
	c.Assert(err, check.IsNil)
	scores, err := lds.Scores("1")
	c.Assert(err, check.IsNil)
	c.Assert(scores, check.HasLen, 30)

	// LD score = 1 + sum of in-window r² in both directions.
	for _, i := range blk.Included {
		want := 1.0
		for _, j := range blk.Included {
			if i != j {
				r := blk.R(i, j)
				want += r * r
			}
		}
		c.Check(scores[i], checkAlmostEquals, want)
		c.Check(scores[i], checkAlmostEquals, gl.Chromosomes[0].LDScores[i])
	}
}

func (s *ldSuite) TestOverwriteRefused(c *check.C) {
	dir := c.MkDir()
	rng := rand.New(rand.NewSource(24))
	gl, _ := makeTestGlist(c, dir, map[string]int{"1": 20}, 50, 5, rng)

	builder := SparseLDBuilder{WindowMarkers: 5, Threads: 1}
	err := builder.Build(gl, filepath.Join(dir, "ld"))
	c.Assert(err, check.FitsTypeOf, &AlreadyExistsError{})

	builder.Overwrite = true
	c.Check(builder.Build(gl, filepath.Join(dir, "ld")), check.IsNil)
}

func (s *ldSuite) TestWindowBP(c *check.C) {
	dir := c.MkDir()
	rng := rand.New(rand.NewSource(25))
	prefix, _ := makeTestPlink(c, dir, "1", 30, 60, rng)
	gl, err := PrepGlist([]string{prefix}, 1)
	c.Assert(err, check.IsNil)
	gl.ApplyQC(0, 1)

	// Positions are i*1000, so 3500 bp covers 3 markers either side.
	builder := SparseLDBuilder{WindowBP: 3500, Threads: 1}
	c.Assert(builder.Build(gl, filepath.Join(dir, "ldbp")), check.IsNil)
	blk, err := OpenLDStore(gl).Block("1")
	c.Assert(err, check.IsNil)
	for _, i := range blk.Included {
		for _, j := range blk.Included {
			if j > i+3 {
				c.Assert(blk.R(i, j), check.Equals, 0.0)
			}
		}
	}
}

func (s *ldSuite) TestNotBuilt(c *check.C) {
	dir := c.MkDir()
	rng := rand.New(rand.NewSource(26))
	prefix, _ := makeTestPlink(c, dir, "1", 10, 20, rng)
	gl, err := PrepGlist([]string{prefix}, 1)
	c.Assert(err, check.IsNil)

	_, err = OpenLDStore(gl).Block("1")
	c.Check(err, check.FitsTypeOf, &NotBuiltError{})
	_, err = OpenLDStore(gl).Block("99")
	c.Check(err, check.FitsTypeOf, &NotFoundError{})
}

func (s *ldSuite) TestInvalidWindowConfig(c *check.C) {
	gl := &Glist{}
	err := (&SparseLDBuilder{}).Build(gl, c.MkDir())
	c.Check(err, check.FitsTypeOf, &InvalidConfigError{})
	err = (&SparseLDBuilder{WindowMarkers: 5, WindowBP: 1000}).Build(gl, c.MkDir())
	c.Check(err, check.FitsTypeOf, &InvalidConfigError{})
}

func (s *ldSuite) TestNeighbors(c *check.C) {
	dir := c.MkDir()
	rng := rand.New(rand.NewSource(27))
	gl, _ := makeTestGlist(c, dir, map[string]int{"1": 40}, 100, 8, rng)

	lds := OpenLDStore(gl)
	blk, err := lds.Block("1")
	c.Assert(err, check.IsNil)
	for _, i := range blk.Included {
		nbrs, err := lds.Neighbors("1", i, 0.5)
		c.Assert(err, check.IsNil)
		seen := map[int]bool{}
		for _, j := range nbrs {
			seen[j] = true
			r := blk.R(i, j)
			c.Check(r*r > 0.5, check.Equals, true)
		}
		for _, j := range blk.Included {
			if i != j && !seen[j] {
				r := blk.R(i, j)
				c.Check(r*r > 0.5, check.Equals, false)
			}
		}
	}
}
