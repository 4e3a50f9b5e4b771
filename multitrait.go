// Copyright (C) The Qgg Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package qgg

import (
	"bufio"
	"fmt"
	"io"
	"math"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

// MTBLRResult is the multi-trait counterpart of BLRResult: one row per
// glist marker with one posterior mean effect per trait, a shared
// posterior inclusion probability, and the posterior mean
// marker-effect covariance across traits.
type MTBLRResult struct {
	Markers   []string
	Effects   [][]float64 // Effects[trait][marker]
	PIP       []float64
	EffectCov *mat.SymDense
	Trace     VarianceTrace
}

type mtChrom struct {
	cd  *ChromosomeData
	blk *SparseLDBlock

	model []bool
	ww    []float64
	sqww  []float64
	wy    [][]float64 // [trait][slot]
	rhs   [][]float64
	b     [][]float64
	comp  []int

	sumB    [][]float64
	nonNull []int
}

type mtModel struct {
	p      *BayesParams
	rng    *rand.Rand
	nt     int
	chroms []*mtChrom

	n  float64
	yy float64
	m  int

	ve    []float64     // diagonal residual variances, one per trait
	vb    *mat.SymDense // marker-effect covariance across traits
	vbInv *mat.SymDense
	pi    float64 // probability of a non-null (shared) indicator
	se    float64
	sb    float64

	sumVb *mat.SymDense
	trace VarianceTrace
}

// RunMTBLR jointly samples marker effects for several traits under a
// bayesC-style mixture with a single inclusion indicator shared across
// traits and a full marker-effect covariance matrix. Residual
// variances are kept diagonal: per-trait summary statistics carry no
// cross-trait residual information.
func RunMTBLR(gl *Glist, lds *LDStore, stats [][]SumStat, p *BayesParams) (*MTBLRResult, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.Method != MethodBayesC && p.Method != MethodBayesN {
		return nil, &InvalidConfigError{Param: "method", Detail: fmt.Sprintf("multi-trait sampler supports bayesC and bayesN, not %s", p.Method)}
	}
	if len(stats) < 2 {
		return nil, &InvalidConfigError{Param: "stat", Detail: "multi-trait sampler needs at least two summary statistic sets"}
	}
	mdl, err := newMTModel(gl, lds, stats, p)
	if err != nil {
		return nil, err
	}
	log.Printf("bayes: multi-trait %s, %d traits, %d markers in model, %d iterations", p.Method, mdl.nt, mdl.m, p.Nit)
	for it := 1; it <= p.Nit; it++ {
		if err := mdl.sweep(it); err != nil {
			return nil, err
		}
		if err := mdl.updateVariances(it); err != nil {
			return nil, err
		}
		if it > p.Nburn && (it-p.Nburn-1)%p.Thin == 0 {
			mdl.retain()
		}
	}
	return mdl.result(gl)
}

func newMTModel(gl *Glist, lds *LDStore, stats [][]SumStat, p *BayesParams) (*mtModel, error) {
	nt := len(stats)
	mdl := &mtModel{
		p:   p,
		rng: rand.New(rand.NewSource(uint64(p.Seed))),
		nt:  nt,
	}
	byID := make([]map[string]SumStat, nt)
	for t, ss := range stats {
		byID[t] = make(map[string]SumStat, len(ss))
		for _, s := range ss {
			byID[t][s.Marker] = s
		}
	}
	n := p.N
	if n == 0 {
		for _, cd := range gl.Chromosomes {
			if len(cd.Individuals) > n {
				n = len(cd.Individuals)
			}
		}
	}
	mdl.n = float64(n)
	mdl.yy = mdl.n * p.Vy

	for _, cd := range gl.Chromosomes {
		blk, err := lds.Block(cd.Chromosome)
		if err != nil {
			return nil, err
		}
		nm := len(blk.Included)
		ch := &mtChrom{
			cd: cd, blk: blk,
			model:   make([]bool, nm),
			ww:      make([]float64, nm),
			sqww:    make([]float64, nm),
			wy:      makeTraitSlices(nt, nm),
			rhs:     makeTraitSlices(nt, nm),
			b:       makeTraitSlices(nt, nm),
			comp:    make([]int, nm),
			sumB:    makeTraitSlices(nt, nm),
			nonNull: make([]int, nm),
		}
		for j, orig := range blk.Included {
			m := cd.Markers[orig]
			if m.Freq <= 0 || m.Freq >= 1 {
				continue
			}
			// A marker enters the joint model only if every trait
			// has an alignable summary statistic for it.
			betas := make([]float64, nt)
			ok := true
			for t := 0; t < nt; t++ {
				ss, found := byID[t][m.ID]
				if !found {
					ok = false
					break
				}
				beta, aligned := alignEffect(ss, m)
				if !aligned {
					ok = false
					break
				}
				betas[t] = beta
			}
			if !ok {
				continue
			}
			ch.model[j] = true
			ch.ww[j] = 2 * mdl.n * m.Freq * (1 - m.Freq)
			ch.sqww[j] = math.Sqrt(ch.ww[j])
			for t := 0; t < nt; t++ {
				ch.wy[t][j] = ch.ww[j] * betas[t]
				ch.rhs[t][j] = ch.wy[t][j]
			}
			mdl.m++
		}
		mdl.chroms = append(mdl.chroms, ch)
	}
	if mdl.m == 0 {
		return nil, &InvalidConfigError{Param: "stat", Detail: "no marker usable across all traits"}
	}

	pi := p.Pi
	if p.Method == MethodBayesN {
		pi = 1
	}
	mdl.pi = pi
	vb0 := p.H2 * p.Vy / (float64(mdl.m) * math.Max(pi, 1e-8))
	mdl.sb = vb0
	mdl.se = (1 - p.H2) * p.Vy
	mdl.ve = make([]float64, nt)
	for t := range mdl.ve {
		mdl.ve[t] = mdl.se
	}
	mdl.vb = mat.NewSymDense(nt, nil)
	for t := 0; t < nt; t++ {
		mdl.vb.SetSym(t, t, vb0)
	}
	mdl.sumVb = mat.NewSymDense(nt, nil)
	if err := mdl.refreshVbInv(); err != nil {
		return nil, err
	}
	return mdl, nil
}

func makeTraitSlices(nt, nm int) [][]float64 {
	out := make([][]float64, nt)
	for t := range out {
		out[t] = make([]float64, nm)
	}
	return out
}

func (mdl *mtModel) refreshVbInv() error {
	var chol mat.Cholesky
	if !chol.Factorize(mdl.vb) {
		return &NumericInstabilityError{Detail: "marker-effect covariance not positive definite"}
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return &NumericInstabilityError{Detail: fmt.Sprintf("inverting marker-effect covariance: %s", err)}
	}
	mdl.vbInv = &inv
	return nil
}

// logMVNZero is the log density of u under N(0, sigma).
func logMVNZero(u []float64, sigma *mat.SymDense) (float64, error) {
	dist, ok := distmv.NewNormal(make([]float64, len(u)), sigma, nil)
	if !ok {
		return 0, &NumericInstabilityError{Detail: "indicator likelihood covariance not positive definite"}
	}
	return dist.LogProb(u), nil
}

func (mdl *mtModel) sweep(it int) error {
	if mdl.p.FixB {
		return nil
	}
	nt := mdl.nt
	u := make([]float64, nt)
	bNew := make([]float64, nt)
	for _, ch := range mdl.chroms {
		nm := len(ch.model)
		var order []int
		if mdl.p.Shuffle {
			order = mdl.rng.Perm(nm)
		}
		for jj := 0; jj < nm; jj++ {
			j := jj
			if order != nil {
				j = order[jj]
			}
			if !ch.model[j] {
				continue
			}
			ww := ch.ww[j]
			for t := 0; t < nt; t++ {
				u[t] = ch.rhs[t][j]
			}

			// Shared inclusion indicator: marginal likelihood of u
			// under the null, u ~ N(0, ww Re), against the slab,
			// u ~ N(0, ww^2 Vb + ww Re).
			nullCov := mat.NewSymDense(nt, nil)
			slabCov := mat.NewSymDense(nt, nil)
			for a := 0; a < nt; a++ {
				for b := a; b < nt; b++ {
					v := ww * ww * mdl.vb.At(a, b)
					if a == b {
						nullCov.SetSym(a, b, ww*mdl.ve[a])
						v += ww * mdl.ve[a]
					}
					slabCov.SetSym(a, b, v)
				}
			}
			logNull, err := logMVNZero(u, nullCov)
			if err != nil {
				return &NumericInstabilityError{Iteration: it, Detail: err.Error()}
			}
			logSlab, err := logMVNZero(u, slabCov)
			if err != nil {
				return &NumericInstabilityError{Iteration: it, Detail: err.Error()}
			}
			p1 := mdl.pi
			if p1 > 0 && p1 < 1 {
				p1 = 1 / (1 + math.Exp(math.Log(1-mdl.pi)-math.Log(mdl.pi)+logNull-logSlab))
			}

			comp := 0
			for t := range bNew {
				bNew[t] = 0
			}
			if mdl.rng.Float64() < p1 {
				comp = 1
				if err := mdl.drawEffectVec(u, ww, bNew); err != nil {
					return &NumericInstabilityError{Iteration: it, Detail: err.Error()}
				}
			}
			for t := 0; t < nt; t++ {
				if math.IsNaN(bNew[t]) || math.IsInf(bNew[t], 0) {
					return &NumericInstabilityError{Iteration: it, Detail: fmt.Sprintf("non-finite effect for marker %s trait %d", ch.cd.Markers[ch.blk.Included[j]].ID, t+1)}
				}
			}
			ch.comp[j] = comp
			sq := ch.sqww[j]
			for t := 0; t < nt; t++ {
				delta := bNew[t] - ch.b[t][j]
				ch.b[t][j] = bNew[t]
				if delta == 0 {
					continue
				}
				rhs := ch.rhs[t]
				sqww := ch.sqww
				ch.blk.forEachNeighbor(j, func(k int, r float64) {
					rhs[k] -= sqww[k] * sq * r * delta
				})
			}
		}
	}
	return nil
}

// drawEffectVec samples the effect vector from its conditional
// posterior: precision ww ReInv + VbInv, mean prec^-1 (ReInv u).
func (mdl *mtModel) drawEffectVec(u []float64, ww float64, dst []float64) error {
	nt := mdl.nt
	prec := mat.NewSymDense(nt, nil)
	for a := 0; a < nt; a++ {
		for b := a; b < nt; b++ {
			v := mdl.vbInv.At(a, b)
			if a == b {
				v += ww / mdl.ve[a]
			}
			prec.SetSym(a, b, v)
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(prec) {
		return fmt.Errorf("conditional effect precision not positive definite")
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return err
	}
	mean := make([]float64, nt)
	for a := 0; a < nt; a++ {
		s := 0.0
		for b := 0; b < nt; b++ {
			s += cov.At(a, b) * u[b] / mdl.ve[b]
		}
		mean[a] = s
	}
	dist, ok := distmv.NewNormal(mean, &cov, mdl.rng)
	if !ok {
		return fmt.Errorf("conditional effect covariance not positive definite")
	}
	dist.Rand(dst)
	return nil
}

func (mdl *mtModel) updateVariances(it int) error {
	p := mdl.p
	nt := mdl.nt

	sse := make([]float64, nt)
	for t := range sse {
		sse[t] = mdl.yy
	}
	scatter := mat.NewSymDense(nt, nil)
	nIn := 0
	for _, ch := range mdl.chroms {
		for j := range ch.model {
			if !ch.model[j] {
				continue
			}
			for t := 0; t < nt; t++ {
				b := ch.b[t][j]
				sse[t] -= b*(ch.wy[t][j]+ch.rhs[t][j]) - ch.ww[j]*b*b
			}
			if ch.comp[j] != 0 {
				nIn++
				for a := 0; a < nt; a++ {
					for b := a; b < nt; b++ {
						scatter.SetSym(a, b, scatter.At(a, b)+ch.b[a][j]*ch.b[b][j])
					}
				}
			}
		}
	}

	if !p.FixVe {
		for t := 0; t < nt; t++ {
			if math.IsNaN(sse[t]) || math.IsInf(sse[t], 0) || sse[t] <= 0 {
				return &NumericInstabilityError{Iteration: it, Detail: fmt.Sprintf("residual sum of squares %g for trait %d", sse[t], t+1)}
			}
			mdl.ve[t] = (sse[t] + p.NuE*mdl.se) / distuv.ChiSquared{K: mdl.n + p.NuE, Src: mdl.rng}.Rand()
			if mdl.ve[t] <= 0 || math.IsNaN(mdl.ve[t]) || math.IsInf(mdl.ve[t], 0) {
				return &NumericInstabilityError{Iteration: it, Detail: fmt.Sprintf("residual variance %g for trait %d", mdl.ve[t], t+1)}
			}
		}
	}

	if !p.FixVb {
		// Inverse-Wishart conditional for the effect covariance:
		// scale = scatter + nu_b * sb * I, df = nIn + nu_b + nt.
		scale := mat.NewSymDense(nt, nil)
		scale.CopySym(scatter)
		for t := 0; t < nt; t++ {
			scale.SetSym(t, t, scale.At(t, t)+p.NuB*mdl.sb)
		}
		vb, err := mdl.randInvWishart(scale, float64(nIn)+p.NuB+float64(nt))
		if err != nil {
			return &NumericInstabilityError{Iteration: it, Detail: err.Error()}
		}
		mdl.vb = vb
		if err := mdl.refreshVbInv(); err != nil {
			return &NumericInstabilityError{Iteration: it, Detail: err.Error()}
		}
	}

	if !p.FixPi && p.Method == MethodBayesC {
		mdl.pi = distuv.Beta{Alpha: float64(nIn) + 1, Beta: float64(mdl.m-nIn) + 1, Src: mdl.rng}.Rand()
	}
	return nil
}

// randInvWishart draws from an inverse-Wishart with the given scale
// matrix and degrees of freedom, via the Bartlett construction of a
// Wishart(df, scale^-1) draw.
func (mdl *mtModel) randInvWishart(scale *mat.SymDense, df float64) (*mat.SymDense, error) {
	nt := scale.Symmetric()
	var chol mat.Cholesky
	if !chol.Factorize(scale) {
		return nil, fmt.Errorf("inverse-Wishart scale not positive definite")
	}
	var scaleInv mat.SymDense
	if err := chol.InverseTo(&scaleInv); err != nil {
		return nil, err
	}
	var cholInv mat.Cholesky
	if !cholInv.Factorize(&scaleInv) {
		return nil, fmt.Errorf("inverse-Wishart scale inverse not positive definite")
	}
	var l mat.TriDense
	cholInv.LTo(&l)

	a := mat.NewDense(nt, nt, nil)
	for i := 0; i < nt; i++ {
		a.Set(i, i, math.Sqrt(distuv.ChiSquared{K: df - float64(i), Src: mdl.rng}.Rand()))
		for j := 0; j < i; j++ {
			a.Set(i, j, mdl.rng.NormFloat64())
		}
	}
	var la mat.Dense
	la.Mul(&l, a)
	var w mat.SymDense
	w.SymOuterK(1, &la)

	var cholW mat.Cholesky
	if !cholW.Factorize(&w) {
		return nil, fmt.Errorf("Wishart draw not positive definite")
	}
	var inv mat.SymDense
	if err := cholW.InverseTo(&inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (mdl *mtModel) retain() {
	for _, ch := range mdl.chroms {
		for j := range ch.model {
			for t := 0; t < mdl.nt; t++ {
				ch.sumB[t][j] += ch.b[t][j]
			}
			if ch.comp[j] != 0 {
				ch.nonNull[j]++
			}
		}
	}
	veMean, vbMean := 0.0, 0.0
	for t := 0; t < mdl.nt; t++ {
		veMean += mdl.ve[t] / float64(mdl.nt)
		vbMean += mdl.vb.At(t, t) / float64(mdl.nt)
	}
	mdl.sumVb.AddSym(mdl.sumVb, mdl.vb)
	mdl.trace.Ve = append(mdl.trace.Ve, veMean)
	mdl.trace.Vb = append(mdl.trace.Vb, vbMean)
	mdl.trace.Pi = append(mdl.trace.Pi, mdl.pi)
}

func (mdl *mtModel) result(gl *Glist) (*MTBLRResult, error) {
	nkept := float64(len(mdl.trace.Ve))
	res := &MTBLRResult{
		Effects: make([][]float64, mdl.nt),
		Trace:   mdl.trace,
	}
	for ci, cd := range gl.Chromosomes {
		ch := mdl.chroms[ci]
		base := len(res.Markers)
		for _, m := range cd.Markers {
			res.Markers = append(res.Markers, m.ID)
			res.PIP = append(res.PIP, 0)
		}
		for t := 0; t < mdl.nt; t++ {
			res.Effects[t] = append(res.Effects[t], make([]float64, len(cd.Markers))...)
		}
		if nkept == 0 {
			continue
		}
		for j, orig := range ch.blk.Included {
			if !ch.model[j] {
				continue
			}
			for t := 0; t < mdl.nt; t++ {
				res.Effects[t][base+orig] = ch.sumB[t][j] / nkept
			}
			res.PIP[base+orig] = float64(ch.nonNull[j]) / nkept
		}
	}
	if nkept > 0 {
		cov := mat.NewSymDense(mdl.nt, nil)
		for a := 0; a < mdl.nt; a++ {
			for b := a; b < mdl.nt; b++ {
				cov.SetSym(a, b, mdl.sumVb.At(a, b)/nkept)
			}
		}
		res.EffectCov = cov
	}
	return res, nil
}

// Write writes the per-marker posterior table as tsv.
func (r *MTBLRResult) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("marker")
	for t := range r.Effects {
		fmt.Fprintf(bw, "\teffect_%d", t+1)
	}
	bw.WriteString("\tpip\n")
	for i, id := range r.Markers {
		bw.WriteString(id)
		for t := range r.Effects {
			fmt.Fprintf(bw, "\t%g", r.Effects[t][i])
		}
		fmt.Fprintf(bw, "\t%g\n", r.PIP[i])
	}
	return bw.Flush()
}
