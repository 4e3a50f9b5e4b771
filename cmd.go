// Copyright (C) The Qgg Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package qgg

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

type cmdHandler interface {
	RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int
}

var handlers = map[string]cmdHandler{
	"prep":     &prepcmd{},
	"filter":   &filtercmd{},
	"sparseld": &sparseldcmd{},
	"adjust":   &adjustcmd{},
	"bayes":    &bayescmd{},
	"score":    &scorecmd{},
	"pca":      &pcacmd{},
	"dump":     &dumpcmd{},
}

func Main() {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		logrus.StandardLogger().Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	}
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	h, ok := handlers[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unrecognized command %q\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
	os.Exit(h.RunCommand(os.Args[0]+" "+os.Args[1], os.Args[2:], os.Stdin, os.Stdout, os.Stderr))
}

func usage(w io.Writer) {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "usage: qgg command [options]\n\ncommands:\n")
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", name)
	}
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
