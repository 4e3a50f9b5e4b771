// Copyright (C) The Qgg Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package qgg

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
)

// SumStat is one marker's GWAS summary statistic. Effect is on the
// allele-count scale for EffectAllele; Freq is EffectAllele frequency.
type SumStat struct {
	Marker       string
	Effect       float64
	SE           float64
	P            float64
	EffectAllele string
	Freq         float64
}

// Required columns of a summary-statistic table, by exact (lowercase)
// name. Extra columns are allowed and ignored; a missing required
// column is a MissingColumnError, never silently defaulted.
var sumStatColumns = []string{"marker", "effect", "se", "p", "effect_allele", "freq"}

// ReadSumStats reads a tab-separated summary-statistic table with a
// header row. Row order is preserved.
func ReadSumStats(path string) ([]SumStat, error) {
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
	col := map[string]int{}
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, name := range sumStatColumns {
		if _, ok := col[name]; !ok {
			return nil, &MissingColumnError{Path: path, Column: name}
		}
	}

	var stats []SumStat
	lineno := 1
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < len(header) {
			return nil, &FormatError{Path: path, Detail: fmt.Sprintf("line %d: %d fields, header has %d", lineno, len(fields), len(header))}
		}
		num := func(name string) (float64, error) {
			v, err := strconv.ParseFloat(strings.TrimSpace(fields[col[name]]), 64)
			if err != nil {
				return 0, &FormatError{Path: path, Detail: fmt.Sprintf("line %d: bad %s %q", lineno, name, fields[col[name]])}
			}
			return v, nil
		}
		var ss SumStat
		ss.Marker = strings.TrimSpace(fields[col["marker"]])
		ss.EffectAllele = strings.TrimSpace(fields[col["effect_allele"]])
		if ss.Effect, err = num("effect"); err != nil {
			return nil, err
		}
		if ss.SE, err = num("se"); err != nil {
			return nil, err
		}
		if ss.P, err = num("p"); err != nil {
			return nil, err
		}
		if ss.Freq, err = num("freq"); err != nil {
			return nil, err
		}
		stats = append(stats, ss)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

// alignEffect returns the summary effect expressed per copy of the
// glist marker's Allele1, flipping the sign when the effect allele is
// Allele2, and ok=false when the effect allele matches neither.
func alignEffect(ss SumStat, m Marker) (float64, bool) {
	switch ss.EffectAllele {
	case m.Allele1:
		return ss.Effect, true
	case m.Allele2:
		return -ss.Effect, true
	}
	return 0, false
}

func openMaybeGzip(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gzr, err := pgzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, &FormatError{Path: path, Detail: err.Error()}
	}
	return &gzipReadCloser{gzr, f}, nil
}

type gzipReadCloser struct {
	*pgzip.Reader
	f *os.File
}

func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func createMaybeGzip(path string) (io.WriteCloser, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	return &gzipWriteCloser{pgzip.NewWriter(f), f}, nil
}

type gzipWriteCloser struct {
	*pgzip.Writer
	f *os.File
}

func (g *gzipWriteCloser) Close() error {
	err := g.Writer.Close()
	if cerr := g.f.Close(); err == nil {
		err = cerr
	}
	return err
}
