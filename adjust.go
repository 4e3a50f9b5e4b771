// Copyright (C) The Qgg Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package qgg

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// SummaryStatAdjuster produces LD-clumped, p-value-thresholded effect
// estimates: greedy C+T selection against the stored sparse LD,
// repeated independently per p-value threshold.
type SummaryStatAdjuster struct {
	R2         float64   // exclusion threshold on r² with a retained marker
	Thresholds []float64 // p-value thresholds, one output column each
}

// AdjustedTable has one row per input summary statistic, in input
// order, and one weight column per p-value threshold. Markers excluded
// by clumping (or failing any threshold) keep their row with a zero
// weight; rows are never dropped or reordered.
type AdjustedTable struct {
	Markers []string
	Columns []string
	Weights [][]float64 // Weights[col][row]
}

func (a *SummaryStatAdjuster) validate() error {
	if a.R2 < 0 || a.R2 > 1 {
		return &InvalidConfigError{Param: "r2", Detail: fmt.Sprintf("%g outside [0, 1]", a.R2)}
	}
	if len(a.Thresholds) == 0 {
		return &InvalidConfigError{Param: "thresholds", Detail: "no p-value thresholds given"}
	}
	for _, t := range a.Thresholds {
		if t <= 0 || t > 1 {
			return &InvalidConfigError{Param: "thresholds", Detail: fmt.Sprintf("%g outside (0, 1]", t)}
		}
	}
	return nil
}

type clumpCand struct {
	row   int
	id    string
	p     float64
	eff   float64
	chrom string
	idx   int
}

// Adjust runs clumping and thresholding. Candidates are ordered by
// ascending p-value, ties broken by marker id, so the retained set is
// deterministic and a re-run on identical inputs is identical. An
// empty retained set at a threshold is a valid outcome, not an error.
func (a *SummaryStatAdjuster) Adjust(gl *Glist, lds *LDStore, stats []SumStat) (*AdjustedTable, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	out := &AdjustedTable{
		Markers: make([]string, len(stats)),
		Columns: make([]string, len(a.Thresholds)),
		Weights: make([][]float64, len(a.Thresholds)),
	}
	for i, ss := range stats {
		out.Markers[i] = ss.Marker
	}

	// Resolve each summary row against the glist once. Markers the
	// glist does not know, or that failed QC, can never be retained.
	unknown := 0
	resolved := make([]clumpCand, 0, len(stats))
	for row, ss := range stats {
		cd, idx, err := gl.Find(ss.Marker)
		if err != nil {
			unknown++
			continue
		}
		if cd.Markers[idx].QCFail {
			continue
		}
		blk, err := lds.Block(cd.Chromosome)
		if err != nil {
			return nil, err
		}
		if _, ok := blk.Sub(idx); !ok {
			continue
		}
		// Weights are expressed per copy of the glist's allele 1, like
		// the genotype dosages they will multiply.
		eff, ok := alignEffect(ss, cd.Markers[idx])
		if !ok {
			unknown++
			continue
		}
		resolved = append(resolved, clumpCand{row: row, id: ss.Marker, p: ss.P, eff: eff, chrom: cd.Chromosome, idx: idx})
	}
	if unknown > 0 {
		log.Printf("adjust: %d of %d summary markers not in glist or not alignable, weights set to zero", unknown, len(stats))
	}

	for ti, thresh := range a.Thresholds {
		out.Columns[ti] = "b_" + strconv.FormatFloat(thresh, 'g', -1, 64)
		weights := make([]float64, len(stats))
		out.Weights[ti] = weights

		cands := make([]clumpCand, 0, len(resolved))
		for _, c := range resolved {
			if c.p <= thresh {
				cands = append(cands, c)
			}
		}
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].p != cands[j].p {
				return cands[i].p < cands[j].p
			}
			return cands[i].id < cands[j].id
		})

		excluded := make(map[string]bool)
		nretained := 0
		for _, c := range cands {
			if excluded[c.id] {
				continue
			}
			weights[c.row] = c.eff
			nretained++
			neighbors, err := lds.Neighbors(c.chrom, c.idx, a.R2)
			if err != nil {
				return nil, err
			}
			cd, _ := gl.Chromosome(c.chrom)
			for _, nidx := range neighbors {
				excluded[cd.Markers[nidx].ID] = true
			}
		}
		log.Printf("adjust: threshold %g: %d of %d candidates retained", thresh, nretained, len(cands))
	}
	return out, nil
}

// Write writes the table as tsv with a header row.
func (t *AdjustedTable) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "marker\t%s\n", strings.Join(t.Columns, "\t"))
	for row, id := range t.Markers {
		bw.WriteString(id)
		for _, col := range t.Weights {
			fmt.Fprintf(bw, "\t%g", col[row])
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

type adjustcmd struct{}

func (cmd *adjustcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "glist.gob.gz", "input glist `file`")
	statFilename := flags.String("stat", "", "summary statistic `file` (tsv)")
	outputFilename := flags.String("o", "-", "output `file`")
	r2 := flags.Float64("r2", 0.9, "exclude markers with r² above `T` with a retained marker")
	thresholds := flags.String("thresholds", "0.001,0.01,0.05", "comma-separated p-value `thresholds`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *statFilename == "" {
		err = &InvalidConfigError{Param: "stat", Detail: "no summary statistic file given"}
		return 2
	}

	adj := SummaryStatAdjuster{R2: *r2}
	for _, s := range strings.Split(*thresholds, ",") {
		t, perr := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if perr != nil {
			err = &InvalidConfigError{Param: "thresholds", Detail: fmt.Sprintf("bad threshold %q", s)}
			return 2
		}
		adj.Thresholds = append(adj.Thresholds, t)
	}

	gl, err := LoadGlist(*inputFilename)
	if err != nil {
		return 1
	}
	stats, err := ReadSumStats(*statFilename)
	if err != nil {
		return 1
	}
	table, err := adj.Adjust(gl, OpenLDStore(gl), stats)
	if err != nil {
		return 1
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = createMaybeGzip(*outputFilename)
		if err != nil {
			return 1
		}
	}
	err = table.Write(output)
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}
