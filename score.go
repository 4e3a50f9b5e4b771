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
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

// WeightTable is a per-marker weight table: a marker id column plus
// one or more numeric weight columns (for example the output of
// adjust, one column per p-value threshold, or of bayes).
type WeightTable struct {
	Columns []string
	Markers []string
	Weights [][]float64 // Weights[col][row]
}

// ReadWeights reads a tab-separated weight table. The first column
// must be named "marker"; every other column is a weight variant.
func ReadWeights(path string) (*WeightTable, error) {
	f, err := openMaybeGzip(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<16), 1<<22)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, &FormatError{Path: path, Detail: "empty file"}
	}
	header := strings.Split(scanner.Text(), "\t")
	if len(header) < 2 || strings.TrimSpace(header[0]) != "marker" {
		return nil, &MissingColumnError{Path: path, Column: "marker"}
	}
	wt := &WeightTable{
		Columns: make([]string, len(header)-1),
		Weights: make([][]float64, len(header)-1),
	}
	for i, name := range header[1:] {
		wt.Columns[i] = strings.TrimSpace(name)
	}
	lineno := 1
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != len(header) {
			return nil, &FormatError{Path: path, Detail: fmt.Sprintf("line %d: %d fields, header has %d", lineno, len(fields), len(header))}
		}
		wt.Markers = append(wt.Markers, strings.TrimSpace(fields[0]))
		for c := range wt.Columns {
			v, err := strconv.ParseFloat(strings.TrimSpace(fields[c+1]), 64)
			if err != nil {
				return nil, &FormatError{Path: path, Detail: fmt.Sprintf("line %d: bad weight %q", lineno, fields[c+1])}
			}
			wt.Weights[c] = append(wt.Weights[c], v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return wt, nil
}

// ScoreTable is one row per individual, one column per weight variant.
type ScoreTable struct {
	Individuals []string
	Columns     []string
	Scores      [][]float64 // Scores[col][individual]
}

// markerResolver maps a weight-table marker id to its chromosome and
// marker index. Glist.Find satisfies it, as does a sqlite MarkerIndex.
type markerResolver func(id string) (*ChromosomeData, int, error)

// ProjectScores computes, per individual and weight column, the sum
// over markers of genotype dosage times weight. Zero weights are
// skipped without touching the genotype column; missing genotypes
// contribute the marker's mean dosage. Chromosomes are scored in
// parallel with per-worker partial sums.
func ProjectScores(gl *Glist, wt *WeightTable, resolve markerResolver, threads int) (*ScoreTable, error) {
	if resolve == nil {
		resolve = gl.Find
	}
	type task struct {
		idx int // marker index within chromosome
		col int
		w   float64
	}
	tasks := map[*ChromosomeData][]task{}
	unmatched := 0
	for row, id := range wt.Markers {
		cd, idx, err := resolve(id)
		if err != nil {
			unmatched++
			continue
		}
		for c := range wt.Columns {
			if w := wt.Weights[c][row]; w != 0 {
				tasks[cd] = append(tasks[cd], task{idx: idx, col: c, w: w})
			}
		}
	}
	if unmatched > 0 {
		log.Printf("score: %d of %d weight markers not found, skipped", unmatched, len(wt.Markers))
	}

	individuals := gl.Chromosomes[0].Individuals
	for _, cd := range gl.Chromosomes {
		if len(cd.Individuals) != len(individuals) {
			return nil, &FormatError{Path: cd.FamPath, Detail: fmt.Sprintf("%d individuals, chromosome %s has %d", len(cd.Individuals), gl.Chromosomes[0].Chromosome, len(individuals))}
		}
	}
	out := &ScoreTable{
		Individuals: individuals,
		Columns:     wt.Columns,
		Scores:      make([][]float64, len(wt.Columns)),
	}
	for c := range out.Scores {
		out.Scores[c] = make([]float64, len(individuals))
	}

	var mtx sync.Mutex
	thr := throttle{Max: threads}
	for cd, chromTasks := range tasks {
		cd, chromTasks := cd, chromTasks
		thr.Go(func() error {
			store, err := cd.Open()
			if err != nil {
				return err
			}
			defer store.Close()
			partial := make([][]float64, len(wt.Columns))
			for c := range partial {
				partial[c] = make([]float64, len(individuals))
			}
			var dosages []float64
			// Tasks for the same marker reuse one decoded column.
			byMarker := map[int][]task{}
			for _, t := range chromTasks {
				byMarker[t.idx] = append(byMarker[t.idx], t)
			}
			for idx, mts := range byMarker {
				dosages, err = store.Dosages(idx, dosages)
				if err != nil {
					return err
				}
				meanDosage := 2 * cd.Markers[idx].Freq
				for j, d := range dosages {
					if math.IsNaN(d) {
						d = meanDosage
					}
					for _, t := range mts {
						partial[t.col][j] += t.w * d
					}
				}
			}
			mtx.Lock()
			defer mtx.Unlock()
			for c := range partial {
				for j, v := range partial[c] {
					out.Scores[c][j] += v
				}
			}
			return nil
		})
	}
	if err := thr.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Write writes the score table as tsv.
func (t *ScoreTable) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "id\t%s\n", strings.Join(t.Columns, "\t"))
	for j, id := range t.Individuals {
		bw.WriteString(id)
		for _, col := range t.Scores {
			fmt.Fprintf(bw, "\t%g", col[j])
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// WriteNpy writes the score matrix (individuals x columns) as a
// float64 .npy file.
func (t *ScoreTable) WriteNpy(w io.Writer) error {
	bufw := bufio.NewWriter(w)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	rows, cols := len(t.Individuals), len(t.Columns)
	npw.Shape = []int{rows, cols}
	out := make([]float64, rows*cols)
	for c := range t.Scores {
		for j, v := range t.Scores[c] {
			out[j*cols+c] = v
		}
	}
	if err := npw.WriteFloat64(out); err != nil {
		return err
	}
	return bufw.Flush()
}

type scorecmd struct{}

func (cmd *scorecmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "glist.gob.gz", "input glist `file`")
	weightFilename := flags.String("weights", "", "weight table `file` (tsv: marker + weight columns)")
	outputFilename := flags.String("o", "-", "output `file`")
	npyFilename := flags.String("npy", "", "also write the score matrix to a `.npy` file")
	indexFilename := flags.String("index-db", "", "resolve marker ids through this sqlite `index` instead of the glist")
	threads := flags.Int("threads", runtime.NumCPU(), "number of concurrent chromosome workers")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *weightFilename == "" {
		err = &InvalidConfigError{Param: "weights", Detail: "no weight table given"}
		return 2
	}

	log.Printf("reading %s", *inputFilename)
	gl, err := LoadGlist(*inputFilename)
	if err != nil {
		return 1
	}
	wt, err := ReadWeights(*weightFilename)
	if err != nil {
		return 1
	}

	var resolve markerResolver
	if *indexFilename != "" {
		var ix *MarkerIndex
		ix, err = OpenMarkerIndex(*indexFilename)
		if err != nil {
			return 1
		}
		defer ix.Close()
		resolve = func(id string) (*ChromosomeData, int, error) {
			row, err := ix.Lookup(id)
			if err != nil {
				return nil, 0, err
			}
			cd, err := gl.Chromosome(row.Chrom)
			if err != nil {
				return nil, 0, err
			}
			return cd, row.Idx, nil
		}
	}

	table, err := ProjectScores(gl, wt, resolve, *threads)
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
	if *npyFilename != "" {
		var npyf io.WriteCloser
		npyf, err = createMaybeGzip(*npyFilename)
		if err != nil {
			return 1
		}
		err = table.WriteNpy(npyf)
		if err != nil {
			return 1
		}
		err = npyf.Close()
		if err != nil {
			return 1
		}
	}
	return 0
}
