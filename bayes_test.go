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

	"gopkg.in/check.v1"
)

type bayesSuite struct{}

var _ = check.Suite(&bayesSuite{})

func (s *bayesSuite) testSetup(c *check.C, seed int64) (*Glist, *LDStore, []SumStat) {
	dir := c.MkDir()
	rng := rand.New(rand.NewSource(seed))
	gl, _ := makeTestGlist(c, dir, map[string]int{"1": 60, "2": 40}, 200, 10, rng)
	stats := makeTestSumStats(gl, 0.1, rng)
	return gl, OpenLDStore(gl), stats
}

func (s *bayesSuite) TestValidate(c *check.C) {
	gl, lds, stats := s.testSetup(c, 40)
	base := DefaultBayesParams()
	for _, mod := range []func(p *BayesParams){
		func(p *BayesParams) { p.Method = "bayesQ" },
		func(p *BayesParams) { p.Nit = 0 },
		func(p *BayesParams) { p.Nburn = p.Nit },
		func(p *BayesParams) { p.Thin = 0 },
		func(p *BayesParams) { p.Pi = -0.1 },
		func(p *BayesParams) { p.Pi = 1.1 },
		func(p *BayesParams) { p.H2 = 0 },
		func(p *BayesParams) { p.H2 = 1 },
		func(p *BayesParams) { p.Vy = 0 },
		func(p *BayesParams) { p.NuE = 0 },
		func(p *BayesParams) { p.Method = MethodBayesR; p.Gamma = []float64{0, 0.01}; p.PiR = []float64{0.9, 0.05, 0.05} },
		func(p *BayesParams) { p.Method = MethodBayesR; p.Gamma = []float64{0.001, 0.01}; p.PiR = []float64{0.5, 0.5} },
		func(p *BayesParams) { p.Method = MethodBayesR; p.Gamma = []float64{0, 0.01}; p.PiR = []float64{0.5, 0.4} },
	} {
		p := *base
		p.PiR = append([]float64(nil), base.PiR...)
		p.Gamma = append([]float64(nil), base.Gamma...)
		mod(&p)
		_, err := RunBLR(gl, lds, stats, &p)
		c.Check(err, check.FitsTypeOf, &InvalidConfigError{})
	}
}

func (s *bayesSuite) TestTraceAndPIP(c *check.C) {
	gl, lds, stats := s.testSetup(c, 41)
	p := DefaultBayesParams()
	p.Method = MethodBayesC
	p.Nit = 100
	p.Pi = 0.01

	res, err := RunBLR(gl, lds, stats, p)
	c.Assert(err, check.IsNil)
	c.Check(res.Trace.Ve, check.HasLen, 100)
	c.Check(res.Trace.Vb, check.HasLen, 100)
	c.Check(res.Trace.Pi, check.HasLen, 100)
	for _, ve := range res.Trace.Ve {
		c.Check(ve > 0, check.Equals, true)
	}
	for _, pi := range res.Trace.Pi {
		c.Check(pi >= 0 && pi <= 1, check.Equals, true)
	}

	// One posterior per glist marker, in genome order.
	c.Assert(res.Posteriors, check.HasLen, gl.NMarkers())
	i := 0
	for _, cd := range gl.Chromosomes {
		for _, m := range cd.Markers {
			c.Assert(res.Posteriors[i].Marker, check.Equals, m.ID)
			i++
		}
	}
	for _, post := range res.Posteriors {
		c.Check(post.PIP >= 0 && post.PIP <= 1, check.Equals, true)
		c.Check(math.IsNaN(post.Effect), check.Equals, false)
		c.Check(post.Var >= -1e-12, check.Equals, true)
	}
}

func (s *bayesSuite) TestBurninAndThin(c *check.C) {
	gl, lds, stats := s.testSetup(c, 42)
	p := DefaultBayesParams()
	p.Nit = 100
	p.Nburn = 20
	p.Thin = 4

	res, err := RunBLR(gl, lds, stats, p)
	c.Assert(err, check.IsNil)
	// Iterations 21, 25, ..., 97 are retained.
	c.Check(res.Trace.Ve, check.HasLen, 20)
}

func (s *bayesSuite) TestSeedDeterminism(c *check.C) {
	gl, lds, stats := s.testSetup(c, 43)
	p := DefaultBayesParams()
	p.Nit = 50
	p.Shuffle = true
	p.Seed = 7

	r1, err := RunBLR(gl, lds, stats, p)
	c.Assert(err, check.IsNil)
	r2, err := RunBLR(gl, lds, stats, p)
	c.Assert(err, check.IsNil)
	c.Check(reflect.DeepEqual(r1, r2), check.Equals, true)

	p.Seed = 8
	r3, err := RunBLR(gl, lds, stats, p)
	c.Assert(err, check.IsNil)
	c.Check(reflect.DeepEqual(r1.Trace.Ve, r3.Trace.Ve), check.Equals, false)
}

func (s *bayesSuite) TestAllMethods(c *check.C) {
	gl, lds, stats := s.testSetup(c, 44)
	for _, method := range []string{MethodBayesN, MethodBayesA, MethodBayesC, MethodBayesR} {
		p := DefaultBayesParams()
		p.Method = method
		p.Nit = 50
		res, err := RunBLR(gl, lds, stats, p)
		c.Assert(err, check.IsNil, check.Commentf("method %s", method))
		c.Assert(res.Trace.Ve, check.HasLen, 50)
		for _, post := range res.Posteriors {
			c.Check(math.IsNaN(post.Effect) || math.IsInf(post.Effect, 0), check.Equals, false)
		}
		if method == MethodBayesN || method == MethodBayesA {
			// No selection: every modeled marker is always in.
			for _, post := range res.Posteriors {
				if post.Effect != 0 {
					c.Check(post.PIP, check.Equals, 1.0)
				}
			}
		}
	}
}

// With the mixture degenerate (pi frozen at 1) and the variance
// components frozen, bayesC has no null component left and must reduce
// to bayesN: every marker is in the model on every sweep, so the two
// methods sample the same posterior and their means agree up to Monte
// Carlo error.
func (s *bayesSuite) TestBayesCReducesToBayesN(c *check.C) {
	gl, lds, stats := s.testSetup(c, 48)

	run := func(method string) *BLRResult {
		p := DefaultBayesParams()
		p.Method = method
		p.Nit = 2000
		p.Nburn = 500
		p.Pi = 1
		p.FixPi = true
		p.FixVe = true
		p.FixVb = true
		res, err := RunBLR(gl, lds, stats, p)
		c.Assert(err, check.IsNil)
		return res
	}
	resC := run(MethodBayesC)
	resN := run(MethodBayesN)

	var scale float64
	for _, post := range resN.Posteriors {
		if v := math.Abs(post.Effect); v > scale {
			scale = v
		}
	}
	c.Assert(scale > 0, check.Equals, true)
	for i, postN := range resN.Posteriors {
		postC := resC.Posteriors[i]
		c.Assert(postC.Marker, check.Equals, postN.Marker)
		diff := math.Abs(postC.Effect - postN.Effect)
		c.Check(diff < 0.2*scale+1e-3, check.Equals, true,
			check.Commentf("marker %s: bayesC %g vs bayesN %g", postN.Marker, postC.Effect, postN.Effect))
		// Modeled markers are in on every retained draw under both
		// methods; the rest never enter and keep PIP 0.
		if postN.PIP != 0 || postC.PIP != 0 {
			c.Check(postC.PIP, check.Equals, 1.0)
			c.Check(postN.PIP, check.Equals, 1.0)
		}
	}
}

// With a sparse prior and pure-noise summary effects, posterior means
// shrink hard toward zero relative to the marginal estimates.
func (s *bayesSuite) TestShrinkage(c *check.C) {
	gl, lds, stats := s.testSetup(c, 45)
	p := DefaultBayesParams()
	p.Method = MethodBayesC
	p.Nit = 300
	p.Nburn = 100
	p.Pi = 0.01
	p.FixPi = true

	res, err := RunBLR(gl, lds, stats, p)
	c.Assert(err, check.IsNil)

	marg := map[string]float64{}
	for _, cd := range gl.Chromosomes {
		for _, m := range cd.Markers {
			for _, ss := range stats {
				if ss.Marker == m.ID {
					if b, ok := alignEffect(ss, m); ok {
						marg[m.ID] = b
					}
				}
			}
		}
	}
	var sumPost, sumMarg float64
	n := 0
	for _, post := range res.Posteriors {
		if b, ok := marg[post.Marker]; ok {
			sumPost += math.Abs(post.Effect)
			sumMarg += math.Abs(b)
			n++
		}
	}
	c.Assert(n > 0, check.Equals, true)
	c.Check(sumPost < 0.5*sumMarg, check.Equals, true,
		check.Commentf("mean |posterior| %g vs mean |marginal| %g", sumPost/float64(n), sumMarg/float64(n)))
}

func (s *bayesSuite) TestFixedParameters(c *check.C) {
	gl, lds, stats := s.testSetup(c, 46)
	p := DefaultBayesParams()
	p.Nit = 30
	p.FixVe = true
	p.FixPi = true

	res, err := RunBLR(gl, lds, stats, p)
	c.Assert(err, check.IsNil)
	ve0 := res.Trace.Ve[0]
	pi0 := res.Trace.Pi[0]
	for it := range res.Trace.Ve {
		c.Check(res.Trace.Ve[it], check.Equals, ve0)
		c.Check(res.Trace.Pi[it], check.Equals, pi0)
	}
	c.Check(pi0, check.Equals, p.Pi)
}

func (s *bayesSuite) TestNoUsableMarkers(c *check.C) {
	gl, lds, _ := s.testSetup(c, 47)
	stats := []SumStat{{Marker: "rs_unknown", Effect: 1, SE: 1, P: 0.5, EffectAllele: "A", Freq: 0.1}}
	_, err := RunBLR(gl, lds, stats, DefaultBayesParams())
	c.Check(err, check.FitsTypeOf, &InvalidConfigError{})
}

func (s *bayesSuite) TestWriteOutputs(c *check.C) {
	posts := []MarkerEffectPosterior{
		{Marker: "rs1", Effect: 0.1, PIP: 0.9, Var: 0.01},
		{Marker: "rs2", Effect: 0, PIP: 0, Var: 0},
	}
	var buf bytes.Buffer
	c.Assert(writePosteriors(&buf, posts), check.IsNil)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	c.Assert(lines, check.HasLen, 3)
	c.Check(lines[0], check.Equals, "marker\teffect\tpip\tvar")
	c.Check(lines[1], check.Equals, "rs1\t0.1\t0.9\t0.01")

	tr := &VarianceTrace{Ve: []float64{0.5, 0.4}, Vb: []float64{0.01, 0.02}, Pi: []float64{0.1, 0.2}}
	buf.Reset()
	c.Assert(writeTrace(&buf, tr), check.IsNil)
	lines = strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	c.Assert(lines, check.HasLen, 3)
	c.Check(lines[0], check.Equals, "it\tve\tvb\tpi")
	c.Check(lines[1], check.Equals, "1\t0.5\t0.01\t0.1")
}
