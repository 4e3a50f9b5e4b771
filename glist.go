// Copyright (C) The Qgg Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package qgg

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
)

// glistVersion is bumped whenever the gob layout of Glist changes
// incompatibly.
const glistVersion = 1

// ChromosomeData bundles everything the engine knows about one
// chromosome: the PLINK triple it came from, its marker annotations,
// and the sparse LD artifacts once built.
type ChromosomeData struct {
	Chromosome string
	BedPath    string
	BimPath    string
	FamPath    string

	Individuals []string
	Markers     []Marker

	// Sparse LD artifacts, empty until sparseld has run.
	LDPath          string
	LDWindowMarkers int
	LDWindowBP      int
	// LDScores has one entry per marker; zero for markers excluded
	// from the LD build.
	LDScores []float64
}

// Open opens the chromosome's genotype data, sharing this
// ChromosomeData's marker annotations with the returned store.
func (cd *ChromosomeData) Open() (*GenotypeStore, error) {
	return newGenotypeStore(cd.BedPath, cd.Markers, cd.Individuals)
}

// Glist is the persisted aggregate describing a genotype dataset: one
// ChromosomeData per chromosome, in genome order. It is an explicit
// immutable-by-convention object passed to every component; there is
// no ambient global state.
type Glist struct {
	Version     int
	Chromosomes []*ChromosomeData

	// lookup maps marker id -> (chromosome index, marker index).
	// Rebuilt on load, not persisted.
	lookup map[string]markerRef
}

type markerRef struct {
	Chrom int
	Index int
}

// Chromosome returns the ChromosomeData with the given name.
func (gl *Glist) Chromosome(name string) (*ChromosomeData, error) {
	for _, cd := range gl.Chromosomes {
		if cd.Chromosome == name {
			return cd, nil
		}
	}
	return nil, &NotFoundError{Kind: "chromosome", ID: name}
}

// Find returns the chromosome and marker index of the given marker id.
func (gl *Glist) Find(id string) (*ChromosomeData, int, error) {
	gl.buildLookup()
	ref, ok := gl.lookup[id]
	if !ok {
		return nil, 0, &NotFoundError{Kind: "marker", ID: id}
	}
	return gl.Chromosomes[ref.Chrom], ref.Index, nil
}

func (gl *Glist) buildLookup() {
	if gl.lookup != nil {
		return
	}
	gl.lookup = make(map[string]markerRef)
	for ci, cd := range gl.Chromosomes {
		for mi, m := range cd.Markers {
			gl.lookup[m.ID] = markerRef{Chrom: ci, Index: mi}
		}
	}
}

// NMarkers returns the total marker count across chromosomes.
func (gl *Glist) NMarkers() int {
	n := 0
	for _, cd := range gl.Chromosomes {
		n += len(cd.Markers)
	}
	return n
}

// sortChromosomes orders chromosomes numerically where possible
// (1..22 before X), lexically otherwise.
func (gl *Glist) sortChromosomes() {
	sort.Slice(gl.Chromosomes, func(i, j int) bool {
		a, b := gl.Chromosomes[i].Chromosome, gl.Chromosomes[j].Chromosome
		ai, aerr := strconv.Atoi(a)
		bi, berr := strconv.Atoi(b)
		switch {
		case aerr == nil && berr == nil:
			return ai < bi
		case aerr == nil:
			return true
		case berr == nil:
			return false
		default:
			return a < b
		}
	})
}

// ApplyQC marks markers failing the thresholds. Markers are annotated,
// never removed, so marker indices stay stable across the pipeline.
// Returns the number of markers passing and failing.
func (gl *Glist) ApplyQC(minMAF, maxMissing float64) (pass, fail int) {
	for _, cd := range gl.Chromosomes {
		for i := range cd.Markers {
			m := &cd.Markers[i]
			maf := m.Freq
			if maf > 0.5 {
				maf = 1 - maf
			}
			m.QCFail = maf < minMAF || m.Missing > maxMissing
			if m.QCFail {
				fail++
			} else {
				pass++
			}
		}
	}
	return pass, fail
}

// SaveGlist writes gl with gob, gzipped when path ends in ".gz". The
// file is written to a temp name and renamed on completion so a
// partial write is never mistaken for a complete Glist.
func SaveGlist(gl *Glist, path string) error {
	gl.Version = glistVersion
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	var w io.Writer = f
	var gzw *pgzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gzw = pgzip.NewWriter(f)
		w = gzw
	}
	if err := gob.NewEncoder(w).Encode(gl); err != nil {
		f.Close()
		return err
	}
	if gzw != nil {
		if err := gzw.Close(); err != nil {
			f.Close()
			return err
		}
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

// LoadGlist reads a Glist written by SaveGlist.
func LoadGlist(path string) (*Glist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gzr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, &FormatError{Path: path, Detail: err.Error()}
		}
		defer gzr.Close()
		r = gzr
	}
	var gl Glist
	if err := gob.NewDecoder(r).Decode(&gl); err != nil {
		return nil, &FormatError{Path: path, Detail: err.Error()}
	}
	if gl.Version != glistVersion {
		return nil, &FormatError{Path: path, Detail: fmt.Sprintf("glist version %d, expected %d", gl.Version, glistVersion)}
	}
	return &gl, nil
}
