// Copyright (C) The Qgg Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package qgg

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// Sparse LD file layout, version 1, little endian:
//
//	magic "QLD1"
//	uint32 version
//	uint32 total marker count on the chromosome
//	uint32 included (QC-passing) marker count
//	included x uint32: original marker index of each included marker
//	per included marker s: uint32 k, then k x float64 =
//	    r(s, s+1) .. r(s, s+k) in included-marker order
//	included x float64: LD score per included marker
//
// Only the upper band is stored; symmetry and the unit diagonal hold
// by construction. Correlations beyond the window are exactly zero and
// not stored.
var ldMagic = [4]byte{'Q', 'L', 'D', '1'}

const ldFormatVersion = 1

// SparseLDBuilder computes windowed pairwise marker correlations per
// chromosome and writes one sparse LD file per chromosome. Exactly one
// of WindowMarkers and WindowBP must be set. Markers must be sorted by
// ascending position within each chromosome; prep enforces this when
// the triple is loaded.
//
// Missing genotypes are imputed to the marker mean before centering,
// so they contribute zero to every pairwise product. Mean imputation
// (rather than pairwise deletion) keeps the implied correlation matrix
// positive semi-definite.
type SparseLDBuilder struct {
	WindowMarkers int     // band width in markers
	WindowBP      int     // band width in base pairs
	ZeroBelow     float64 // |r| below this is stored as exactly 0
	Overwrite     bool
	Threads       int
}

func (b *SparseLDBuilder) validate() error {
	if (b.WindowMarkers > 0) == (b.WindowBP > 0) {
		return &InvalidConfigError{Param: "window", Detail: "exactly one of window-markers and window-bp must be set"}
	}
	if b.ZeroBelow < 0 || b.ZeroBelow >= 1 {
		return &InvalidConfigError{Param: "zero-below", Detail: fmt.Sprintf("%g outside [0, 1)", b.ZeroBelow)}
	}
	return nil
}

// Build computes sparse LD for every chromosome in gl, writing
// <outDir>/<chromosome>.ld and recording LD paths, window, and LD
// scores in gl. Chromosomes are built in parallel; each worker owns
// one chromosome's genotype input and LD output exclusively.
func (b *SparseLDBuilder) Build(gl *Glist, outDir string) error {
	if err := b.validate(); err != nil {
		return err
	}
	// Refuse to clobber before any expensive work starts.
	if !b.Overwrite {
		for _, cd := range gl.Chromosomes {
			path := filepath.Join(outDir, cd.Chromosome+".ld")
			if _, err := os.Stat(path); err == nil {
				return &AlreadyExistsError{Path: path}
			}
		}
	}
	if err := os.MkdirAll(outDir, 0777); err != nil {
		return err
	}
	thr := throttle{Max: b.Threads}
	for _, cd := range gl.Chromosomes {
		cd := cd
		thr.Go(func() error {
			path := filepath.Join(outDir, cd.Chromosome+".ld")
			return b.buildChromosome(cd, path)
		})
	}
	return thr.Wait()
}

type ldWindowCol struct {
	sub  int
	pos  int
	col  []float64
	norm float64
}

func (b *SparseLDBuilder) buildChromosome(cd *ChromosomeData, path string) error {
	store, err := cd.Open()
	if err != nil {
		return err
	}
	defer store.Close()

	var included []int
	for i, m := range cd.Markers {
		if !m.QCFail {
			included = append(included, i)
		}
	}
	log.Printf("chromosome %s: computing sparse LD for %d of %d markers", cd.Chromosome, len(included), len(cd.Markers))

	band := make([][]float64, len(included))
	scores := make([]float64, len(included))
	var window []ldWindowCol
	var spare [][]float64
	for s, orig := range included {
		// Drop columns that fall outside the window of this focal
		// marker.
		pos := cd.Markers[orig].Position
		drop := 0
		for _, wc := range window {
			if b.WindowMarkers > 0 && s-wc.sub > b.WindowMarkers {
				drop++
			} else if b.WindowBP > 0 && pos-wc.pos > b.WindowBP {
				drop++
			} else {
				break
			}
		}
		for _, wc := range window[:drop] {
			spare = append(spare, wc.col)
		}
		window = window[drop:]

		var col []float64
		if len(spare) > 0 {
			col, spare = spare[len(spare)-1], spare[:len(spare)-1]
		}
		col, err := store.DosagesCentered(orig, col)
		if err != nil {
			return err
		}
		norm := math.Sqrt(floats.Dot(col, col))
		scores[s]++ // r(s,s) = 1
		for _, wc := range window {
			var r float64
			if norm > 0 && wc.norm > 0 {
				r = floats.Dot(wc.col, col) / (wc.norm * norm)
			}
			if math.Abs(r) < b.ZeroBelow {
				r = 0
			}
			band[wc.sub] = append(band[wc.sub], r)
			scores[wc.sub] += r * r
			scores[s] += r * r
		}
		window = append(window, ldWindowCol{sub: s, pos: pos, col: col, norm: norm})
	}

	if err := writeSparseLD(path, len(cd.Markers), included, band, scores, b.Overwrite); err != nil {
		return err
	}
	cd.LDPath = path
	cd.LDWindowMarkers = b.WindowMarkers
	cd.LDWindowBP = b.WindowBP
	cd.LDScores = make([]float64, len(cd.Markers))
	for s, orig := range included {
		cd.LDScores[orig] = scores[s]
	}
	log.Printf("chromosome %s: wrote %s", cd.Chromosome, path)
	return nil
}

// writeSparseLD writes the LD file to path, via a temp file renamed on
// completion so a partial write is never mistaken for a complete file.
func writeSparseLD(path string, nmarkers int, included []int, band [][]float64, scores []float64, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return &AlreadyExistsError{Path: path}
		}
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	w := bufio.NewWriterSize(f, 1<<20)
	if _, err := w.Write(ldMagic[:]); err != nil {
		f.Close()
		return err
	}
	hdr := []uint32{ldFormatVersion, uint32(nmarkers), uint32(len(included))}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		f.Close()
		return err
	}
	idx := make([]uint32, len(included))
	for i, orig := range included {
		idx[i] = uint32(orig)
	}
	if err := binary.Write(w, binary.LittleEndian, idx); err != nil {
		f.Close()
		return err
	}
	for _, row := range band {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(row))); err != nil {
			f.Close()
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, row); err != nil {
			f.Close()
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, scores); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

type sparseldcmd struct{}

func (cmd *sparseldcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "glist.gob.gz", "input glist `file`")
	outputFilename := flags.String("o", "", "output glist `file` (default: same as input)")
	ldDir := flags.String("ld-dir", "ld", "output `directory` for per-chromosome LD files")
	builder := SparseLDBuilder{}
	flags.IntVar(&builder.WindowMarkers, "window-markers", 0, "LD window size in `markers`")
	flags.IntVar(&builder.WindowBP, "window-bp", 0, "LD window size in `basepairs`")
	flags.Float64Var(&builder.ZeroBelow, "zero-below", 0, "store correlations with |r| below `T` as zero")
	flags.BoolVar(&builder.Overwrite, "overwrite", false, "replace existing LD files")
	flags.IntVar(&builder.Threads, "threads", runtime.NumCPU(), "number of concurrent chromosome builds")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *outputFilename == "" {
		*outputFilename = *inputFilename
	}

	log.Printf("reading %s", *inputFilename)
	gl, err := LoadGlist(*inputFilename)
	if err != nil {
		return 1
	}
	err = builder.Build(gl, *ldDir)
	if err != nil {
		return 1
	}
	err = SaveGlist(gl, *outputFilename)
	if err != nil {
		return 1
	}
	return 0
}
