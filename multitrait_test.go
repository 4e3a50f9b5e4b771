// Copyright (C) The Qgg Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package qgg

import (
	"bytes"
	"math"
	"math/rand"
	"reflect"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type multitraitSuite struct{}

var _ = check.Suite(&multitraitSuite{})

func (s *multitraitSuite) testSetup(c *check.C, seed int64, nt int) (*Glist, *LDStore, [][]SumStat) {
	dir := c.MkDir()
	rng := rand.New(rand.NewSource(seed))
	gl, _ := makeTestGlist(c, dir, map[string]int{"1": 50}, 200, 10, rng)
	stats := make([][]SumStat, nt)
	for t := range stats {
		stats[t] = makeTestSumStats(gl, 0.1, rng)
	}
	return gl, OpenLDStore(gl), stats
}

func (s *multitraitSuite) TestUnsupportedConfig(c *check.C) {
	gl, lds, stats := s.testSetup(c, 50, 2)
	p := DefaultBayesParams()
	p.Method = MethodBayesR
	_, err := RunMTBLR(gl, lds, stats, p)
	c.Check(err, check.FitsTypeOf, &InvalidConfigError{})

	p = DefaultBayesParams()
	_, err = RunMTBLR(gl, lds, stats[:1], p)
	c.Check(err, check.FitsTypeOf, &InvalidConfigError{})
}

func (s *multitraitSuite) TestRunShapes(c *check.C) {
	gl, lds, stats := s.testSetup(c, 51, 3)
	p := DefaultBayesParams()
	p.Nit = 60
	p.Nburn = 10

	res, err := RunMTBLR(gl, lds, stats, p)
	c.Assert(err, check.IsNil)
	c.Assert(res.Markers, check.HasLen, gl.NMarkers())
	c.Assert(res.Effects, check.HasLen, 3)
	for _, eff := range res.Effects {
		c.Assert(eff, check.HasLen, gl.NMarkers())
		for _, b := range eff {
			c.Check(math.IsNaN(b) || math.IsInf(b, 0), check.Equals, false)
		}
	}
	for _, pip := range res.PIP {
		c.Check(pip >= 0 && pip <= 1, check.Equals, true)
	}
	c.Check(res.Trace.Ve, check.HasLen, 50)

	// The posterior effect covariance is symmetric positive
	// semidefinite with one row per trait.
	c.Assert(res.EffectCov, check.NotNil)
	r, _ := res.EffectCov.Dims()
	c.Assert(r, check.Equals, 3)
	var chol mat.Cholesky
	c.Check(chol.Factorize(res.EffectCov), check.Equals, true)
}

func (s *multitraitSuite) TestSeedDeterminism(c *check.C) {
	gl, lds, stats := s.testSetup(c, 52, 2)
	p := DefaultBayesParams()
	p.Nit = 30
	r1, err := RunMTBLR(gl, lds, stats, p)
	c.Assert(err, check.IsNil)
	r2, err := RunMTBLR(gl, lds, stats, p)
	c.Assert(err, check.IsNil)
	c.Check(reflect.DeepEqual(r1.Effects, r2.Effects), check.Equals, true)
	c.Check(reflect.DeepEqual(r1.Trace, r2.Trace), check.Equals, true)
}

// A marker is modeled only when every trait's summary table has a
// usable row for it.
func (s *multitraitSuite) TestIntersection(c *check.C) {
	gl, lds, stats := s.testSetup(c, 53, 2)
	// Knock one marker out of trait 2's table.
	var dropped string
	for i, ss := range stats[1] {
		if _, idx, err := gl.Find(ss.Marker); err == nil && !gl.Chromosomes[0].Markers[idx].QCFail {
			dropped = ss.Marker
			stats[1] = append(stats[1][:i:i], stats[1][i+1:]...)
			break
		}
	}
	c.Assert(dropped, check.Not(check.Equals), "")

	p := DefaultBayesParams()
	p.Nit = 30
	res, err := RunMTBLR(gl, lds, stats, p)
	c.Assert(err, check.IsNil)
	for i, id := range res.Markers {
		if id == dropped {
			c.Check(res.PIP[i], check.Equals, 0.0)
			for t := range res.Effects {
				c.Check(res.Effects[t][i], check.Equals, 0.0)
			}
		}
	}
}

func (s *multitraitSuite) TestBayesNAlwaysIn(c *check.C) {
	gl, lds, stats := s.testSetup(c, 54, 2)
	p := DefaultBayesParams()
	p.Method = MethodBayesN
	p.Nit = 30

	res, err := RunMTBLR(gl, lds, stats, p)
	c.Assert(err, check.IsNil)
	for i := range res.Markers {
		if res.Effects[0][i] != 0 {
			c.Check(res.PIP[i], check.Equals, 1.0)
		}
	}
}

func (s *multitraitSuite) TestWrite(c *check.C) {
	res := &MTBLRResult{
		Markers: []string{"rs1", "rs2"},
		Effects: [][]float64{{0.1, 0}, {-0.2, 0}},
		PIP:     []float64{0.8, 0},
	}
	var buf bytes.Buffer
	c.Assert(res.Write(&buf), check.IsNil)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	c.Assert(lines, check.HasLen, 3)
	c.Check(lines[0], check.Equals, "marker\teffect_1\teffect_2\tpip")
	c.Check(lines[1], check.Equals, "rs1\t0.1\t-0.2\t0.8")
	c.Check(lines[2], check.Equals, "rs2\t0\t0\t0")
}
