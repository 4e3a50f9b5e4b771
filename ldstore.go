// Copyright (C) The Qgg Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package qgg

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// SparseLDBlock is one chromosome's banded correlation structure, as
// written by SparseLDBuilder. Correlations outside the stored band are
// exactly zero; the diagonal is exactly one; r(i,j) == r(j,i) by
// lookup.
type SparseLDBlock struct {
	Chromosome string
	NMarkers   int   // total markers on the chromosome
	Included   []int // original indices of markers in the block

	rows   [][]float64 // upper band, rows[s][d] = r(s, s+d+1) in included order
	scores []float64   // per included marker
	sub    map[int]int // original index -> included position
}

// Sub returns the included position of original marker index i, or
// ok=false if i was excluded from the LD build.
func (b *SparseLDBlock) Sub(i int) (int, bool) {
	s, ok := b.sub[i]
	return s, ok
}

// R returns the stored correlation between original marker indices i
// and j.
func (b *SparseLDBlock) R(i, j int) float64 {
	if i == j {
		return 1
	}
	si, ok := b.sub[i]
	if !ok {
		return 0
	}
	sj, ok := b.sub[j]
	if !ok {
		return 0
	}
	if si > sj {
		si, sj = sj, si
	}
	if d := sj - si - 1; d < len(b.rows[si]) {
		return b.rows[si][d]
	}
	return 0
}

// Neighbors returns the original indices of markers whose stored
// correlation with original marker index i exceeds r2 in r² terms.
func (b *SparseLDBlock) Neighbors(i int, r2 float64) []int {
	s, ok := b.sub[i]
	if !ok {
		return nil
	}
	var out []int
	b.forEachNeighbor(s, func(t int, r float64) {
		if r*r > r2 {
			out = append(out, b.Included[t])
		}
	})
	return out
}

// forEachNeighbor calls fn with every included position t whose stored
// correlation with included position s is inside the band, in
// ascending t order. Zero-valued stored correlations are skipped.
func (b *SparseLDBlock) forEachNeighbor(s int, fn func(t int, r float64)) {
	for e := s - 1; e >= 0; e-- {
		d := s - e - 1
		if d >= len(b.rows[e]) {
			break
		}
		if r := b.rows[e][d]; r != 0 {
			fn(e, r)
		}
	}
	for d, r := range b.rows[s] {
		if r != 0 {
			fn(s+d+1, r)
		}
	}
}

// LDStore serves previously built sparse LD blocks and LD scores,
// loaded lazily and cached per chromosome for the process lifetime.
type LDStore struct {
	gl *Glist

	mtx    sync.Mutex
	blocks map[string]*SparseLDBlock
}

func OpenLDStore(gl *Glist) *LDStore {
	return &LDStore{gl: gl, blocks: map[string]*SparseLDBlock{}}
}

// Block returns the chromosome's sparse LD block, reading it from disk
// on first use.
func (s *LDStore) Block(chromosome string) (*SparseLDBlock, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if blk, ok := s.blocks[chromosome]; ok {
		return blk, nil
	}
	cd, err := s.gl.Chromosome(chromosome)
	if err != nil {
		return nil, err
	}
	if cd.LDPath == "" {
		return nil, &NotBuiltError{Chromosome: chromosome}
	}
	blk, err := readSparseLD(cd.LDPath, len(cd.Markers))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotBuiltError{Chromosome: chromosome}
		}
		return nil, err
	}
	blk.Chromosome = chromosome
	s.blocks[chromosome] = blk
	return blk, nil
}

// Scores returns per-marker LD scores for the chromosome, aligned with
// the chromosome's full marker list (zero for markers excluded from
// the build).
func (s *LDStore) Scores(chromosome string) ([]float64, error) {
	blk, err := s.Block(chromosome)
	if err != nil {
		return nil, err
	}
	out := make([]float64, blk.NMarkers)
	for t, orig := range blk.Included {
		out[orig] = blk.scores[t]
	}
	return out, nil
}

// Neighbors returns original indices of markers whose stored |r|²
// with original marker index i exceeds r2.
func (s *LDStore) Neighbors(chromosome string, i int, r2 float64) ([]int, error) {
	blk, err := s.Block(chromosome)
	if err != nil {
		return nil, err
	}
	return blk.Neighbors(i, r2), nil
}

func readSparseLD(path string, nmarkers int) (*SparseLDBlock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReaderSize(f, 1<<20)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, &FormatError{Path: path, Detail: err.Error()}
	}
	if magic != ldMagic {
		return nil, &FormatError{Path: path, Detail: fmt.Sprintf("magic %q, expected %q", magic[:], ldMagic[:])}
	}
	var hdr [3]uint32
	if err := binary.Read(r, binary.LittleEndian, hdr[:]); err != nil {
		return nil, &FormatError{Path: path, Detail: err.Error()}
	}
	version, total, ninc := hdr[0], int(hdr[1]), int(hdr[2])
	if version != ldFormatVersion {
		return nil, &FormatError{Path: path, Detail: fmt.Sprintf("version %d, expected %d", version, ldFormatVersion)}
	}
	if total != nmarkers {
		return nil, &FormatError{Path: path, Detail: fmt.Sprintf("%d markers, glist has %d", total, nmarkers)}
	}
	if ninc > total {
		return nil, &FormatError{Path: path, Detail: fmt.Sprintf("%d included markers out of %d", ninc, total)}
	}
	idx := make([]uint32, ninc)
	if err := binary.Read(r, binary.LittleEndian, idx); err != nil {
		return nil, &FormatError{Path: path, Detail: err.Error()}
	}
	blk := &SparseLDBlock{
		NMarkers: nmarkers,
		Included: make([]int, ninc),
		rows:     make([][]float64, ninc),
		sub:      make(map[int]int, ninc),
	}
	for t, orig := range idx {
		if int(orig) >= total {
			return nil, &FormatError{Path: path, Detail: fmt.Sprintf("marker index %d out of range", orig)}
		}
		blk.Included[t] = int(orig)
		blk.sub[int(orig)] = t
	}
	for t := range blk.rows {
		var k uint32
		if err := binary.Read(r, binary.LittleEndian, &k); err != nil {
			return nil, &FormatError{Path: path, Detail: err.Error()}
		}
		if int(k) >= ninc {
			return nil, &FormatError{Path: path, Detail: fmt.Sprintf("band row %d: length %d out of range", t, k)}
		}
		row := make([]float64, k)
		if err := binary.Read(r, binary.LittleEndian, row); err != nil {
			return nil, &FormatError{Path: path, Detail: err.Error()}
		}
		blk.rows[t] = row
	}
	blk.scores = make([]float64, ninc)
	if err := binary.Read(r, binary.LittleEndian, blk.scores); err != nil {
		return nil, &FormatError{Path: path, Detail: err.Error()}
	}
	return blk, nil
}
