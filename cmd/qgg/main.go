// Copyright (C) The Qgg Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import (
	"github.com/quantgen/qgg"
)

func main() {
	qgg.Main()
}
