// Copyright (C) The Qgg Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package qgg

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Marker is one genotyped variant. Identity fields come from the .bim
// file; Freq, Missing, and QCFail are annotations filled in by prep and
// filter, never by the store itself.
type Marker struct {
	ID         string
	Chromosome string
	Position   int
	Allele1    string // effect allele; dosage counts copies of this
	Allele2    string
	Freq       float64 // allele1 frequency
	Missing    float64 // genotype missingness rate
	QCFail     bool
}

// GenotypeStore reads allele counts from one chromosome's PLINK binary
// triple (.bed/.bim/.fam) without loading the whole file into memory.
// The .bed must be in SNP-major mode: per marker, ceil(n/4) bytes, two
// bits per individual. The store is read-only.
type GenotypeStore struct {
	BedPath string

	bed            *os.File
	markers        []Marker
	markerIdx      map[string]int
	individuals    []string
	bytesPerMarker int
}

// bedDosage maps the 2-bit PLINK genotype codes to allele1 counts.
// 0b01 is the missing code.
var bedDosage = [4]float64{2, math.NaN(), 1, 0}

const bedHeaderSize = 3

// OpenGenotypeStore opens a PLINK triple and validates that the .bed
// header and size match the marker and individual counts declared by
// the .bim and .fam files.
func OpenGenotypeStore(bedPath, bimPath, famPath string) (*GenotypeStore, error) {
	individuals, err := readFam(famPath)
	if err != nil {
		return nil, err
	}
	markers, err := readBim(bimPath)
	if err != nil {
		return nil, err
	}
	return newGenotypeStore(bedPath, markers, individuals)
}

func newGenotypeStore(bedPath string, markers []Marker, individuals []string) (*GenotypeStore, error) {
	s := &GenotypeStore{
		BedPath:        bedPath,
		markers:        markers,
		individuals:    individuals,
		bytesPerMarker: (len(individuals) + 3) / 4,
		markerIdx:      make(map[string]int, len(markers)),
	}
	for i, m := range markers {
		s.markerIdx[m.ID] = i
	}
	f, err := os.Open(bedPath)
	if err != nil {
		return nil, err
	}
	s.bed = f
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	want := int64(bedHeaderSize) + int64(s.bytesPerMarker)*int64(len(markers))
	if fi.Size() != want {
		f.Close()
		return nil, &FormatError{Path: bedPath, Detail: fmt.Sprintf("size %d, expected %d for %d markers x %d individuals", fi.Size(), want, len(markers), len(individuals))}
	}
	var hdr [bedHeaderSize]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		f.Close()
		return nil, err
	}
	if hdr[0] != 0x6c || hdr[1] != 0x1b {
		f.Close()
		return nil, &FormatError{Path: bedPath, Detail: fmt.Sprintf("magic bytes %x %x, expected 6c 1b", hdr[0], hdr[1])}
	}
	if hdr[2] != 0x01 {
		f.Close()
		return nil, &FormatError{Path: bedPath, Detail: fmt.Sprintf("mode byte %x, only SNP-major (01) supported", hdr[2])}
	}
	return s, nil
}

func (s *GenotypeStore) Close() error {
	return s.bed.Close()
}

func (s *GenotypeStore) NMarkers() int { return len(s.markers) }

func (s *GenotypeStore) NIndividuals() int { return len(s.individuals) }

func (s *GenotypeStore) Marker(i int) Marker     { return s.markers[i] }
func (s *GenotypeStore) Markers() []Marker       { return s.markers }
func (s *GenotypeStore) Individuals() []string   { return s.individuals }
func (s *GenotypeStore) Individual(j int) string { return s.individuals[j] }

// MarkerByID returns the index of the marker with the given id.
func (s *GenotypeStore) MarkerByID(id string) (int, error) {
	i, ok := s.markerIdx[id]
	if !ok {
		return 0, &NotFoundError{Kind: "marker", ID: id}
	}
	return i, nil
}

func (s *GenotypeStore) readColumn(i int, buf []byte) error {
	if i < 0 || i >= len(s.markers) {
		return &NotFoundError{Kind: "marker", ID: strconv.Itoa(i)}
	}
	off := int64(bedHeaderSize) + int64(i)*int64(s.bytesPerMarker)
	if _, err := s.bed.ReadAt(buf, off); err != nil {
		return &FormatError{Path: s.BedPath, Detail: fmt.Sprintf("marker %d: %s", i, err)}
	}
	return nil
}

// Dosages decodes marker i's allele1 counts for all individuals.
// Missing genotypes are NaN. dst is reused if it has sufficient
// capacity.
func (s *GenotypeStore) Dosages(i int, dst []float64) ([]float64, error) {
	n := len(s.individuals)
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]
	buf := make([]byte, s.bytesPerMarker)
	if err := s.readColumn(i, buf); err != nil {
		return nil, err
	}
	for j := 0; j < n; j++ {
		code := buf[j/4] >> (2 * (j % 4)) & 3
		dst[j] = bedDosage[code]
	}
	return dst, nil
}

// DosagesCentered decodes marker i's allele counts centered on the
// mean of the observed genotypes, with missing genotypes imputed to
// that mean (so they contribute exactly zero after centering). This
// mean-imputation policy is what the sparse LD builder and the score
// projector both use.
func (s *GenotypeStore) DosagesCentered(i int, dst []float64) ([]float64, error) {
	dst, err := s.Dosages(i, dst)
	if err != nil {
		return nil, err
	}
	sum, nobs := 0.0, 0
	for _, x := range dst {
		if !math.IsNaN(x) {
			sum += x
			nobs++
		}
	}
	mean := 0.0
	if nobs > 0 {
		mean = sum / float64(nobs)
	}
	for j, x := range dst {
		if math.IsNaN(x) {
			dst[j] = 0
		} else {
			dst[j] = x - mean
		}
	}
	return dst, nil
}

// Row returns individual j's allele counts across all markers, missing
// as NaN. The .bed file is marker-major, so this reads one byte per
// marker; it is intended for occasional individual-level extraction,
// not bulk scans.
func (s *GenotypeStore) Row(j int, dst []float64) ([]float64, error) {
	if j < 0 || j >= len(s.individuals) {
		return nil, &NotFoundError{Kind: "individual", ID: strconv.Itoa(j)}
	}
	m := len(s.markers)
	if cap(dst) < m {
		dst = make([]float64, m)
	}
	dst = dst[:m]
	var b [1]byte
	for i := 0; i < m; i++ {
		off := int64(bedHeaderSize) + int64(i)*int64(s.bytesPerMarker) + int64(j/4)
		if _, err := s.bed.ReadAt(b[:], off); err != nil {
			return nil, &FormatError{Path: s.BedPath, Detail: fmt.Sprintf("individual %d marker %d: %s", j, i, err)}
		}
		code := b[0] >> (2 * (j % 4)) & 3
		dst[i] = bedDosage[code]
	}
	return dst, nil
}

// Scan decodes every marker column in file order and calls fn with the
// marker index and its dosages. The dosage slice is reused between
// calls.
func (s *GenotypeStore) Scan(fn func(i int, dosages []float64) error) error {
	n := len(s.individuals)
	if _, err := s.bed.Seek(bedHeaderSize, io.SeekStart); err != nil {
		return err
	}
	rdr := bufio.NewReaderSize(s.bed, 1<<20)
	buf := make([]byte, s.bytesPerMarker)
	dosages := make([]float64, n)
	for i := range s.markers {
		if _, err := io.ReadFull(rdr, buf); err != nil {
			return &FormatError{Path: s.BedPath, Detail: fmt.Sprintf("marker %d: %s", i, err)}
		}
		for j := 0; j < n; j++ {
			dosages[j] = bedDosage[buf[j/4]>>(2*(j%4))&3]
		}
		if err := fn(i, dosages); err != nil {
			return err
		}
	}
	return nil
}

// ComputeStats fills in Freq and Missing for every marker via one
// sequential pass.
func (s *GenotypeStore) ComputeStats() error {
	n := float64(len(s.individuals))
	return s.Scan(func(i int, dosages []float64) error {
		sum, nobs := 0.0, 0
		for _, x := range dosages {
			if !math.IsNaN(x) {
				sum += x
				nobs++
			}
		}
		m := &s.markers[i]
		if nobs > 0 {
			m.Freq = sum / float64(2*nobs)
		} else {
			m.Freq = 0
		}
		m.Missing = 1 - float64(nobs)/n
		return nil
	})
}

func readFam(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var ids []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<16), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, &FormatError{Path: path, Detail: fmt.Sprintf("line %d: %d fields, expected at least 2", len(ids)+1, len(fields))}
		}
		ids = append(ids, fields[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, &FormatError{Path: path, Detail: "no individuals"}
	}
	return ids, nil
}

func readBim(path string) ([]Marker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var markers []Marker
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<16), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			return nil, &FormatError{Path: path, Detail: fmt.Sprintf("line %d: %d fields, expected 6", len(markers)+1, len(fields))}
		}
		pos, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, &FormatError{Path: path, Detail: fmt.Sprintf("line %d: bad position %q", len(markers)+1, fields[3])}
		}
		markers = append(markers, Marker{
			ID:         fields[1],
			Chromosome: fields[0],
			Position:   pos,
			Allele1:    fields[4],
			Allele2:    fields[5],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(markers) == 0 {
		return nil, &FormatError{Path: path, Detail: "no markers"}
	}
	return markers, nil
}
