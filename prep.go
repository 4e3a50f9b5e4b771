// Copyright (C) The Qgg Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package qgg

import (
	"flag"
	"fmt"
	"io"
	"runtime"

	log "github.com/sirupsen/logrus"
)

// PrepGlist builds a Glist from PLINK prefixes, one triple per
// chromosome, scanning each chromosome once to fill allele frequency
// and missingness. Chromosomes are scanned in parallel; each worker
// owns exactly one triple.
func PrepGlist(prefixes []string, threads int) (*Glist, error) {
	if len(prefixes) == 0 {
		return nil, &InvalidConfigError{Param: "input", Detail: "no PLINK prefixes given"}
	}
	gl := &Glist{Chromosomes: make([]*ChromosomeData, len(prefixes))}
	thr := throttle{Max: threads}
	for i, prefix := range prefixes {
		i, prefix := i, prefix
		thr.Go(func() error {
			cd, err := prepChromosome(prefix)
			if err != nil {
				return err
			}
			gl.Chromosomes[i] = cd
			return nil
		})
	}
	if err := thr.Wait(); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, cd := range gl.Chromosomes {
		if seen[cd.Chromosome] {
			return nil, &InvalidConfigError{Param: "input", Detail: fmt.Sprintf("chromosome %q appears in more than one PLINK triple", cd.Chromosome)}
		}
		seen[cd.Chromosome] = true
	}
	gl.sortChromosomes()
	return gl, nil
}

func prepChromosome(prefix string) (*ChromosomeData, error) {
	bed, bim, fam := prefix+".bed", prefix+".bim", prefix+".fam"
	store, err := OpenGenotypeStore(bed, bim, fam)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	chrom := store.Marker(0).Chromosome
	for i := 1; i < store.NMarkers(); i++ {
		m := store.Marker(i)
		if m.Chromosome != chrom {
			return nil, &FormatError{Path: bim, Detail: fmt.Sprintf("mixed chromosomes %q and %q; one triple per chromosome", chrom, m.Chromosome)}
		}
		// The windowed LD builder walks markers in file order and
		// assumes positions never decrease.
		if prev := store.Marker(i - 1).Position; m.Position < prev {
			return nil, &FormatError{Path: bim, Detail: fmt.Sprintf("marker %s at position %d after position %d; markers must be sorted by position", m.ID, m.Position, prev)}
		}
	}
	log.Printf("scanning %s (%d markers, %d individuals)", bed, store.NMarkers(), store.NIndividuals())
	if err := store.ComputeStats(); err != nil {
		return nil, err
	}
	return &ChromosomeData{
		Chromosome:  chrom,
		BedPath:     bed,
		BimPath:     bim,
		FamPath:     fam,
		Individuals: store.Individuals(),
		Markers:     store.Markers(),
	}, nil
}

type prepcmd struct{}

func (cmd *prepcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	outputFilename := flags.String("o", "glist.gob.gz", "output glist `file`")
	indexFilename := flags.String("index", "", "also write a sqlite marker index to `file`")
	threads := flags.Int("threads", runtime.NumCPU(), "number of concurrent chromosome scans")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() == 0 {
		err = fmt.Errorf("usage: %s [options] plink-prefix [plink-prefix ...]", prog)
		return 2
	}

	gl, err := PrepGlist(flags.Args(), *threads)
	if err != nil {
		return 1
	}
	log.Printf("writing %s", *outputFilename)
	err = SaveGlist(gl, *outputFilename)
	if err != nil {
		return 1
	}
	if *indexFilename != "" {
		log.Printf("writing marker index %s", *indexFilename)
		err = CreateMarkerIndex(*indexFilename, gl)
		if err != nil {
			return 1
		}
	}
	log.Printf("done, %d chromosomes, %d markers", len(gl.Chromosomes), gl.NMarkers())
	return 0
}
