// Copyright (C) The Qgg Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package qgg

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

// Prior families for the marker-effect sampler.
const (
	MethodBayesN = "bayesN" // one shared normal prior, no selection
	MethodBayesA = "bayesA" // per-marker scaled inverse chi-square variance
	MethodBayesC = "bayesC" // point mass at zero + shared normal
	MethodBayesR = "bayesR" // finite scale mixture of normals incl. null
)

// BayesParams configures one BLR run. The zero value is not usable;
// start from DefaultBayesParams. Every field can also be given in a
// TOML parameter file with the tagged names.
type BayesParams struct {
	Method string `toml:"method"`
	Nit    int    `toml:"nit"`   // fixed iteration count, no adaptive stopping
	Nburn  int    `toml:"nburn"` // iterations discarded before the trace
	Thin   int    `toml:"thin"`  // keep every Thin-th retained iteration

	Pi    float64   `toml:"pi"`    // bayesC prior probability of a non-null effect
	PiR   []float64 `toml:"pi_r"`  // bayesR mixing probabilities, first component null
	Gamma []float64 `toml:"gamma"` // bayesR variance scales, first component 0

	H2  float64 `toml:"h2"` // heritability guess, sets starting variances
	Vy  float64 `toml:"vy"` // phenotypic variance on the GWAS scale
	N   int     `toml:"n"`  // GWAS sample size; 0 means take it from the glist
	NuE float64 `toml:"nu_e"`
	NuB float64 `toml:"nu_b"`

	// Freezing any of these skips the corresponding draw and keeps
	// the initial value for all iterations (diagnostic runs).
	FixPi bool `toml:"fix_pi"`
	FixVe bool `toml:"fix_ve"`
	FixVb bool `toml:"fix_vb"`
	FixB  bool `toml:"fix_b"`

	// Shuffle visits markers in a freshly drawn permutation each
	// iteration instead of genome order; deterministic under Seed
	// either way.
	Shuffle bool  `toml:"shuffle"`
	Seed    int64 `toml:"seed"`
}

func DefaultBayesParams() *BayesParams {
	return &BayesParams{
		Method: MethodBayesC,
		Nit:    1000,
		Thin:   1,
		Pi:     0.01,
		PiR:    []float64{0.95, 0.02, 0.02, 0.01},
		Gamma:  []float64{0, 0.0001, 0.001, 0.01},
		H2:     0.5,
		Vy:     1,
		NuE:    4,
		NuB:    4,
		Seed:   1,
	}
}

func (p *BayesParams) validate() error {
	switch p.Method {
	case MethodBayesN, MethodBayesA, MethodBayesC, MethodBayesR:
	default:
		return &InvalidConfigError{Param: "method", Detail: fmt.Sprintf("unknown method %q", p.Method)}
	}
	if p.Nit < 1 {
		return &InvalidConfigError{Param: "nit", Detail: fmt.Sprintf("%d, must be at least 1", p.Nit)}
	}
	if p.Nburn < 0 || p.Nburn >= p.Nit {
		return &InvalidConfigError{Param: "nburn", Detail: fmt.Sprintf("%d outside [0, nit)", p.Nburn)}
	}
	if p.Thin < 1 {
		return &InvalidConfigError{Param: "thin", Detail: fmt.Sprintf("%d, must be at least 1", p.Thin)}
	}
	if p.Pi < 0 || p.Pi > 1 {
		return &InvalidConfigError{Param: "pi", Detail: fmt.Sprintf("%g outside [0, 1]", p.Pi)}
	}
	if p.H2 <= 0 || p.H2 >= 1 {
		return &InvalidConfigError{Param: "h2", Detail: fmt.Sprintf("%g outside (0, 1)", p.H2)}
	}
	if p.Vy <= 0 {
		return &InvalidConfigError{Param: "vy", Detail: fmt.Sprintf("%g, must be positive", p.Vy)}
	}
	if p.NuE <= 0 || p.NuB <= 0 {
		return &InvalidConfigError{Param: "nu", Detail: "degrees of freedom must be positive"}
	}
	if p.Method == MethodBayesR {
		if len(p.Gamma) != len(p.PiR) || len(p.Gamma) < 2 {
			return &InvalidConfigError{Param: "gamma", Detail: fmt.Sprintf("%d scales for %d mixing probabilities", len(p.Gamma), len(p.PiR))}
		}
		if p.Gamma[0] != 0 {
			return &InvalidConfigError{Param: "gamma", Detail: "first component must have scale 0 (null)"}
		}
		sum := 0.0
		for _, pi := range p.PiR {
			if pi < 0 || pi > 1 {
				return &InvalidConfigError{Param: "pi_r", Detail: fmt.Sprintf("%g outside [0, 1]", pi)}
			}
			sum += pi
		}
		if math.Abs(sum-1) > 1e-8 {
			return &InvalidConfigError{Param: "pi_r", Detail: fmt.Sprintf("probabilities sum to %g, expected 1", sum)}
		}
	}
	return nil
}

// MarkerEffectPosterior summarizes one marker's retained draws.
type MarkerEffectPosterior struct {
	Marker string
	Effect float64 // posterior mean, allele-count scale
	PIP    float64 // fraction of retained draws with a non-null component
	Var    float64 // posterior variance of the effect
}

// VarianceTrace holds one snapshot of the variance components per
// retained iteration.
type VarianceTrace struct {
	Ve []float64
	Vb []float64
	Pi []float64 // probability of a non-null component
}

// BLRResult carries one posterior record per glist marker, in genome
// order, zeros for markers the model never saw.
type BLRResult struct {
	Posteriors []MarkerEffectPosterior
	Trace      VarianceTrace
}

// blrChrom is one chromosome's sampler state, indexed by LD-block
// slot. rhs[j] is wy[j] minus the LD-weighted contribution of every
// other marker's current effect; it excludes marker j's own effect, so
// it is the conditional right-hand side directly.
type blrChrom struct {
	cd  *ChromosomeData
	blk *SparseLDBlock

	model []bool
	ww    []float64 // diagonal of X'X: 2 n f (1-f)
	sqww  []float64
	wy    []float64
	rhs   []float64
	b     []float64
	vbj   []float64 // bayesA per-marker variance
	comp  []int     // current mixture component, 0 = null

	sumB, sumB2 []float64
	nonNull     []int
}

type blrModel struct {
	p      *BayesParams
	rng    *rand.Rand
	chroms []*blrChrom

	n      float64
	yy     float64
	m      int // modeled marker count
	ve, vb float64
	se, sb float64 // prior scales
	pi     []float64
	trace  VarianceTrace
}

// RunBLR draws posterior samples of marker effects, mixture
// membership, and variance components by single-site Gibbs sampling
// over the sparse LD neighborhoods. Effects start at zero; variance
// components start at the H2-informed defaults. Marker updates are
// strictly sequential within an iteration; only the per-chromosome
// state setup is independent.
func RunBLR(gl *Glist, lds *LDStore, stats []SumStat, p *BayesParams) (*BLRResult, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	mdl, err := newBLRModel(gl, lds, stats, p)
	if err != nil {
		return nil, err
	}
	log.Printf("bayes: %s, %d markers in model, %d iterations", p.Method, mdl.m, p.Nit)
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
		if it%500 == 0 {
			log.Printf("bayes: iteration %d/%d ve=%.4g vb=%.4g", it, p.Nit, mdl.ve, mdl.vb)
		}
	}
	return mdl.result(gl), nil
}

func newBLRModel(gl *Glist, lds *LDStore, stats []SumStat, p *BayesParams) (*blrModel, error) {
	byID := make(map[string]SumStat, len(stats))
	for _, ss := range stats {
		byID[ss.Marker] = ss
	}
	mdl := &blrModel{
		p:   p,
		rng: rand.New(rand.NewSource(uint64(p.Seed))),
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

	unmatched := 0
	for _, cd := range gl.Chromosomes {
		blk, err := lds.Block(cd.Chromosome)
		if err != nil {
			return nil, err
		}
		nm := len(blk.Included)
		ch := &blrChrom{
			cd: cd, blk: blk,
			model: make([]bool, nm),
			ww:    make([]float64, nm),
			sqww:  make([]float64, nm),
			wy:    make([]float64, nm),
			rhs:   make([]float64, nm),
			b:     make([]float64, nm),
			vbj:   make([]float64, nm),
			comp:  make([]int, nm),
			sumB:  make([]float64, nm),
			sumB2: make([]float64, nm),
			nonNull: make([]int, nm),
		}
		for j, orig := range blk.Included {
			m := cd.Markers[orig]
			ss, ok := byID[m.ID]
			if !ok {
				continue
			}
			beta, ok := alignEffect(ss, m)
			if !ok {
				unmatched++
				continue
			}
			if m.Freq <= 0 || m.Freq >= 1 {
				continue
			}
			ch.model[j] = true
			ch.ww[j] = 2 * mdl.n * m.Freq * (1 - m.Freq)
			ch.sqww[j] = math.Sqrt(ch.ww[j])
			ch.wy[j] = ch.ww[j] * beta
			ch.rhs[j] = ch.wy[j]
			mdl.m++
		}
		mdl.chroms = append(mdl.chroms, ch)
	}
	if unmatched > 0 {
		log.Printf("bayes: %d summary markers with alleles matching neither glist allele, skipped", unmatched)
	}
	if mdl.m == 0 {
		return nil, &InvalidConfigError{Param: "stat", Detail: "no summary markers usable with the glist and its sparse LD"}
	}

	// Prior-informed starting values: expected per-marker variance of
	// H2*Vy spread over the modeled markers.
	expScale := 1.0
	switch p.Method {
	case MethodBayesC:
		if p.Pi > 0 {
			expScale = p.Pi
		}
	case MethodBayesR:
		expScale = 0
		for c := range p.Gamma {
			expScale += p.PiR[c] * p.Gamma[c]
		}
	}
	mdl.vb = p.H2 * p.Vy / (float64(mdl.m) * expScale)
	mdl.ve = (1 - p.H2) * p.Vy
	mdl.sb = mdl.vb
	mdl.se = mdl.ve
	switch p.Method {
	case MethodBayesC:
		mdl.pi = []float64{1 - p.Pi, p.Pi}
	case MethodBayesR:
		mdl.pi = append([]float64(nil), p.PiR...)
	}
	for _, ch := range mdl.chroms {
		for j := range ch.vbj {
			ch.vbj[j] = mdl.vb
		}
	}
	return mdl, nil
}

// logCompLik is the log marginal likelihood of the conditional
// right-hand side u under a component with effect variance s:
// u ~ N(0, ww(ww s + ve)). s = 0 gives the null component.
func logCompLik(u, ww, s, ve float64) float64 {
	v := ww * (ww*s + ve)
	return -0.5 * (math.Log(v) + u*u/v)
}

func (mdl *blrModel) drawEffect(u, ww, s float64) float64 {
	lhs := ww + mdl.ve/s
	return u/lhs + mdl.rng.NormFloat64()*math.Sqrt(mdl.ve/lhs)
}

// sweep runs one full single-site Gibbs pass over all modeled markers.
func (mdl *blrModel) sweep(it int) error {
	if mdl.p.FixB {
		return nil
	}
	for _, ch := range mdl.chroms {
		nm := len(ch.b)
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
			u := ch.rhs[j]
			bOld := ch.b[j]
			var bNew float64
			comp := 0
			switch mdl.p.Method {
			case MethodBayesN:
				bNew = mdl.drawEffect(u, ch.ww[j], mdl.vb)
				comp = 1
			case MethodBayesA:
				ch.vbj[j] = (bOld*bOld + mdl.p.NuB*mdl.sb) / distuv.ChiSquared{K: mdl.p.NuB + 1, Src: mdl.rng}.Rand()
				bNew = mdl.drawEffect(u, ch.ww[j], ch.vbj[j])
				comp = 1
			case MethodBayesC:
				logNull := math.Log(mdl.pi[0]) + logCompLik(u, ch.ww[j], 0, mdl.ve)
				logIn := math.Log(mdl.pi[1]) + logCompLik(u, ch.ww[j], mdl.vb, mdl.ve)
				// pi frozen at extremes decides the indicator outright
				p1 := 1 / (1 + math.Exp(logNull-logIn))
				if mdl.pi[1] == 1 {
					p1 = 1
				} else if mdl.pi[1] == 0 {
					p1 = 0
				}
				if mdl.rng.Float64() < p1 {
					bNew = mdl.drawEffect(u, ch.ww[j], mdl.vb)
					comp = 1
				}
			case MethodBayesR:
				comp = mdl.drawComponent(u, ch.ww[j])
				if mdl.p.Gamma[comp] > 0 {
					bNew = mdl.drawEffect(u, ch.ww[j], mdl.p.Gamma[comp]*mdl.vb)
				}
			}
			if math.IsNaN(bNew) || math.IsInf(bNew, 0) {
				return &NumericInstabilityError{Iteration: it, Detail: fmt.Sprintf("non-finite effect for marker %s", ch.cd.Markers[ch.blk.Included[j]].ID)}
			}
			ch.comp[j] = comp
			ch.b[j] = bNew
			if delta := bNew - bOld; delta != 0 {
				// Update the running right-hand sides of the LD
				// neighbors before moving to the next marker.
				sq := ch.sqww[j]
				ch.blk.forEachNeighbor(j, func(k int, r float64) {
					ch.rhs[k] -= ch.sqww[k] * sq * r * delta
				})
			}
		}
	}
	return nil
}

func (mdl *blrModel) drawComponent(u, ww float64) int {
	k := len(mdl.pi)
	ll := make([]float64, k)
	max := math.Inf(-1)
	for c := 0; c < k; c++ {
		if mdl.pi[c] == 0 {
			ll[c] = math.Inf(-1)
			continue
		}
		ll[c] = math.Log(mdl.pi[c]) + logCompLik(u, ww, mdl.p.Gamma[c]*mdl.vb, mdl.ve)
		if ll[c] > max {
			max = ll[c]
		}
	}
	sum := 0.0
	for c := 0; c < k; c++ {
		ll[c] = math.Exp(ll[c] - max)
		sum += ll[c]
	}
	x := mdl.rng.Float64() * sum
	for c := 0; c < k; c++ {
		x -= ll[c]
		if x < 0 {
			return c
		}
	}
	return k - 1
}

func (mdl *blrModel) updateVariances(it int) error {
	p := mdl.p

	// Residual sum of squares from the summary-level identities:
	// e'e = y'y - sum_j b_j (wy_j + rhs_j) + sum_j ww_j b_j^2.
	sse := mdl.yy
	ssb := 0.0
	nIn, counts := 0, make([]int, len(mdl.pi))
	for _, ch := range mdl.chroms {
		for j := range ch.b {
			if !ch.model[j] {
				continue
			}
			b := ch.b[j]
			sse -= b*(ch.wy[j]+ch.rhs[j]) - ch.ww[j]*b*b
			if len(counts) > 0 {
				counts[ch.comp[j]]++
			}
			switch p.Method {
			case MethodBayesN:
				ssb += b * b
			case MethodBayesC:
				if ch.comp[j] != 0 {
					ssb += b * b
					nIn++
				}
			case MethodBayesR:
				if ch.comp[j] != 0 {
					ssb += b * b / p.Gamma[ch.comp[j]]
					nIn++
				}
			}
		}
	}
	if math.IsNaN(sse) || math.IsInf(sse, 0) || sse <= 0 {
		return &NumericInstabilityError{Iteration: it, Detail: fmt.Sprintf("residual sum of squares %g", sse)}
	}

	if !p.FixVe {
		mdl.ve = (sse + p.NuE*mdl.se) / distuv.ChiSquared{K: mdl.n + p.NuE, Src: mdl.rng}.Rand()
	}
	if !p.FixVb && p.Method != MethodBayesA {
		df := float64(mdl.m)
		if p.Method != MethodBayesN {
			df = float64(nIn)
		}
		mdl.vb = (ssb + p.NuB*mdl.sb) / distuv.ChiSquared{K: df + p.NuB, Src: mdl.rng}.Rand()
	}
	if math.IsNaN(mdl.ve) || math.IsInf(mdl.ve, 0) || mdl.ve <= 0 ||
		math.IsNaN(mdl.vb) || math.IsInf(mdl.vb, 0) || mdl.vb <= 0 {
		return &NumericInstabilityError{Iteration: it, Detail: fmt.Sprintf("variance components ve=%g vb=%g", mdl.ve, mdl.vb)}
	}

	if !p.FixPi {
		switch p.Method {
		case MethodBayesC:
			pi1 := distuv.Beta{Alpha: float64(nIn) + 1, Beta: float64(mdl.m-nIn) + 1, Src: mdl.rng}.Rand()
			mdl.pi[0], mdl.pi[1] = 1-pi1, pi1
		case MethodBayesR:
			alpha := make([]float64, len(counts))
			for c, cnt := range counts {
				alpha[c] = float64(cnt) + 1
			}
			distmv.NewDirichlet(alpha, mdl.rng).Rand(mdl.pi)
		}
	}
	return nil
}

func (mdl *blrModel) retain() {
	for _, ch := range mdl.chroms {
		for j := range ch.b {
			ch.sumB[j] += ch.b[j]
			ch.sumB2[j] += ch.b[j] * ch.b[j]
			if ch.comp[j] != 0 {
				ch.nonNull[j]++
			}
		}
	}
	piNonNull := 1.0
	if len(mdl.pi) > 0 {
		piNonNull = 1 - mdl.pi[0]
	}
	mdl.trace.Ve = append(mdl.trace.Ve, mdl.ve)
	mdl.trace.Vb = append(mdl.trace.Vb, mdl.vb)
	mdl.trace.Pi = append(mdl.trace.Pi, piNonNull)
}

func (mdl *blrModel) result(gl *Glist) *BLRResult {
	nkept := float64(len(mdl.trace.Ve))
	res := &BLRResult{Trace: mdl.trace}
	for ci, cd := range gl.Chromosomes {
		ch := mdl.chroms[ci]
		post := make([]MarkerEffectPosterior, len(cd.Markers))
		for i, m := range cd.Markers {
			post[i].Marker = m.ID
		}
		for j, orig := range ch.blk.Included {
			if !ch.model[j] || nkept == 0 {
				continue
			}
			mean := ch.sumB[j] / nkept
			post[orig].Effect = mean
			post[orig].PIP = float64(ch.nonNull[j]) / nkept
			post[orig].Var = ch.sumB2[j]/nkept - mean*mean
		}
		res.Posteriors = append(res.Posteriors, post...)
	}
	return res
}

type bayescmd struct{}

func (cmd *bayescmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "glist.gob.gz", "input glist `file`")
	statFilenames := flags.String("stat", "", "summary statistic `file`(s), comma-separated; more than one runs the multi-trait sampler")
	outputFilename := flags.String("o", "-", "posterior output `file`")
	traceFilename := flags.String("trace", "", "variance component trace output `file`")
	paramFilename := flags.String("param", "", "TOML parameter `file` (flags override)")
	p := DefaultBayesParams()
	method := flags.String("method", p.Method, "prior family: bayesN, bayesA, bayesC, or bayesR")
	nit := flags.Int("nit", p.Nit, "number of Gibbs iterations")
	nburn := flags.Int("nburn", p.Nburn, "burn-in iterations discarded from the trace")
	thin := flags.Int("thin", p.Thin, "keep every `K`-th retained iteration")
	pi := flags.Float64("pi", p.Pi, "prior probability of a non-null effect (bayesC)")
	h2 := flags.Float64("h2", p.H2, "heritability guess for starting variances")
	vy := flags.Float64("vy", p.Vy, "phenotypic variance on the GWAS scale")
	nGwas := flags.Int("n", p.N, "GWAS sample size (default: glist individual count)")
	seed := flags.Int64("seed", p.Seed, "random seed")
	shuffle := flags.Bool("shuffle", p.Shuffle, "visit markers in a random order each iteration")
	fixPi := flags.Bool("fix-pi", p.FixPi, "freeze mixing probabilities at their starting values")
	fixVe := flags.Bool("fix-ve", p.FixVe, "freeze the residual variance")
	fixVb := flags.Bool("fix-vb", p.FixVb, "freeze the marker-effect variance")
	fixB := flags.Bool("fix-b", p.FixB, "freeze marker effects at zero (diagnostic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *statFilenames == "" {
		err = &InvalidConfigError{Param: "stat", Detail: "no summary statistic file given"}
		return 2
	}
	if *paramFilename != "" {
		_, err = toml.DecodeFile(*paramFilename, p)
		if err != nil {
			return 1
		}
	}
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "method":
			p.Method = *method
		case "nit":
			p.Nit = *nit
		case "nburn":
			p.Nburn = *nburn
		case "thin":
			p.Thin = *thin
		case "pi":
			p.Pi = *pi
		case "h2":
			p.H2 = *h2
		case "vy":
			p.Vy = *vy
		case "n":
			p.N = *nGwas
		case "seed":
			p.Seed = *seed
		case "shuffle":
			p.Shuffle = *shuffle
		case "fix-pi":
			p.FixPi = *fixPi
		case "fix-ve":
			p.FixVe = *fixVe
		case "fix-vb":
			p.FixVb = *fixVb
		case "fix-b":
			p.FixB = *fixB
		}
	})

	log.Printf("reading %s", *inputFilename)
	gl, err := LoadGlist(*inputFilename)
	if err != nil {
		return 1
	}
	lds := OpenLDStore(gl)

	files := strings.Split(*statFilenames, ",")
	var output io.WriteCloser
	openOutput := func() error {
		if *outputFilename == "-" {
			output = nopCloser{stdout}
			return nil
		}
		var oerr error
		output, oerr = createMaybeGzip(*outputFilename)
		return oerr
	}

	var trace *VarianceTrace
	if len(files) == 1 {
		var stats []SumStat
		stats, err = ReadSumStats(files[0])
		if err != nil {
			return 1
		}
		var res *BLRResult
		res, err = RunBLR(gl, lds, stats, p)
		if err != nil {
			return 1
		}
		if err = openOutput(); err != nil {
			return 1
		}
		err = writePosteriors(output, res.Posteriors)
		if err != nil {
			return 1
		}
		trace = &res.Trace
	} else {
		stats := make([][]SumStat, len(files))
		for i, fn := range files {
			stats[i], err = ReadSumStats(strings.TrimSpace(fn))
			if err != nil {
				return 1
			}
		}
		var res *MTBLRResult
		res, err = RunMTBLR(gl, lds, stats, p)
		if err != nil {
			return 1
		}
		if err = openOutput(); err != nil {
			return 1
		}
		err = res.Write(output)
		if err != nil {
			return 1
		}
		trace = &res.Trace
	}
	err = output.Close()
	if err != nil {
		return 1
	}

	if *traceFilename != "" {
		var tf io.WriteCloser
		tf, err = createMaybeGzip(*traceFilename)
		if err != nil {
			return 1
		}
		err = writeTrace(tf, trace)
		if err != nil {
			return 1
		}
		err = tf.Close()
		if err != nil {
			return 1
		}
	}
	return 0
}

func writePosteriors(w io.Writer, posts []MarkerEffectPosterior) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "marker\teffect\tpip\tvar")
	for _, p := range posts {
		fmt.Fprintf(bw, "%s\t%g\t%g\t%g\n", p.Marker, p.Effect, p.PIP, p.Var)
	}
	return bw.Flush()
}

func writeTrace(w io.Writer, t *VarianceTrace) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "it\tve\tvb\tpi")
	for i := range t.Ve {
		fmt.Fprintf(bw, "%d\t%g\t%g\t%g\n", i+1, t.Ve[i], t.Vb[i], t.Pi[i])
	}
	return bw.Flush()
}
