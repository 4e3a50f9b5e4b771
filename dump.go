// Copyright (C) The Qgg Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package qgg

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
)

// dumpcmd prints a persisted Glist as JSON for inspection.
type dumpcmd struct{}

func (cmd *dumpcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "glist.gob.gz", "input glist `file`")
	markers := flags.Bool("markers", false, "include full per-marker metadata")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	gl, err := LoadGlist(*inputFilename)
	if err != nil {
		return 1
	}
	if !*markers {
		for _, cd := range gl.Chromosomes {
			cd.Markers = nil
			cd.LDScores = nil
		}
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	err = enc.Encode(gl)
	if err != nil {
		return 1
	}
	return 0
}
