// Copyright (C) The Qgg Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package qgg

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/james-bowman/nlp"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type pcacmd struct{}

func (cmd *pcacmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "glist.gob.gz", "input glist `file`")
	outputFilename := flags.String("o", "pca.npy", "output `file`")
	components := flags.Int("components", 4, "number of principal components")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *components < 1 {
		err = &InvalidConfigError{Param: "components", Detail: fmt.Sprintf("%d, must be at least 1", *components)}
		return 1
	}

	log.Printf("reading %s", *inputFilename)
	gl, err := LoadGlist(*inputFilename)
	if err != nil {
		return 1
	}

	log.Print("loading genotype matrix")
	var data []float64
	cols := 0
	rows := 0
	for _, cd := range gl.Chromosomes {
		if rows == 0 {
			rows = len(cd.Individuals)
		}
		store, serr := cd.Open()
		if serr != nil {
			err = serr
			return 1
		}
		var col []float64
		for i, m := range cd.Markers {
			if m.QCFail {
				continue
			}
			col, serr = store.DosagesCentered(i, col)
			if serr != nil {
				store.Close()
				err = serr
				return 1
			}
			data = append(data, col...)
			cols++
		}
		store.Close()
	}
	log.Printf("fitting %d components on %d individuals x %d markers", *components, rows, cols)

	// data is marker-major: one centered column per QC-passing
	// marker, i.e. already features x samples for the transformer.
	mtx := mat.NewDense(cols, rows, data)
	transformer := nlp.NewPCA(*components)
	transformer.Fit(mtx)
	reduced, err := transformer.Transform(mtx)
	if err != nil {
		return 1
	}
	pcs := reduced.T()

	prows, pcols := pcs.Dims()
	out := make([]float64, prows*pcols)
	for i := 0; i < prows; i++ {
		for j := 0; j < pcols; j++ {
			out[i*pcols+j] = pcs.At(i, j)
		}
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
		if err != nil {
			return 1
		}
	}
	bufw := bufio.NewWriter(output)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return 1
	}
	npw.Shape = []int{prows, pcols}
	err = npw.WriteFloat64(out)
	if err != nil {
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	log.Print("done")
	return 0
}
