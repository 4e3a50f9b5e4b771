// Copyright (C) The Qgg Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package qgg

import "fmt"

// FormatError reports malformed or truncated binary input.
type FormatError struct {
	Path   string
	Detail string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: bad format: %s", e.Path, e.Detail)
}

// NotFoundError reports a missing marker, individual, or chromosome id.
type NotFoundError struct {
	Kind string // "marker", "individual", "chromosome"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// AlreadyExistsError reports a refusal to overwrite an existing output
// file. Recomputing LD is expensive, so silently skipping or silently
// overwriting would hide staleness.
type AlreadyExistsError struct {
	Path string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists (use -overwrite to replace)", e.Path)
}

// NotBuiltError reports a request for a derived artifact (sparse LD)
// that has not been constructed yet.
type NotBuiltError struct {
	Chromosome string
}

func (e *NotBuiltError) Error() string {
	return fmt.Sprintf("no sparse LD built for chromosome %q", e.Chromosome)
}

// InvalidConfigError reports an out-of-range sampler or filter
// parameter. Raised before any expensive computation starts.
type InvalidConfigError struct {
	Param  string
	Detail string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Detail)
}

// NumericInstabilityError reports a non-finite intermediate value in
// the sampler. The run is aborted rather than letting NaN propagate
// into output.
type NumericInstabilityError struct {
	Iteration int
	Detail    string
}

func (e *NumericInstabilityError) Error() string {
	return fmt.Sprintf("numeric instability at iteration %d: %s", e.Iteration, e.Detail)
}

// MissingColumnError reports a summary-statistic table that does not
// carry a required column.
type MissingColumnError struct {
	Path   string
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%s: missing required column %q", e.Path, e.Column)
}
