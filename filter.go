// Copyright (C) The Qgg Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package qgg

import (
	"flag"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
)

type filtercmd struct{}

func (cmd *filtercmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	minMAF := flags.Float64("min-maf", 0.01, "flag markers with minor allele frequency below `F`")
	maxMissing := flags.Float64("max-missing", 0.05, "flag markers with genotype missingness above `F`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *minMAF < 0 || *minMAF > 0.5 {
		err = &InvalidConfigError{Param: "min-maf", Detail: fmt.Sprintf("%g outside [0, 0.5]", *minMAF)}
		return 1
	}
	if *maxMissing < 0 || *maxMissing > 1 {
		err = &InvalidConfigError{Param: "max-missing", Detail: fmt.Sprintf("%g outside [0, 1]", *maxMissing)}
		return 1
	}
	if *outputFilename == "" {
		*outputFilename = *inputFilename
	}

	log.Printf("reading %s", *inputFilename)
	gl, err := LoadGlist(*inputFilename)
	if err != nil {
		return 1
	}
	pass, fail := gl.ApplyQC(*minMAF, *maxMissing)
	log.Printf("%d markers pass QC, %d flagged", pass, fail)
	err = SaveGlist(gl, *outputFilename)
	if err != nil {
		return 1
	}
	return 0
}
