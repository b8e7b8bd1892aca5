// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Mintylink - Minty Toothbrush Holder Client
//
// A CLI tool for discovering Minty holders, following brushing sessions
// and keeping daily progress toward the three-session goal.

package main

import (
	"os"

	"github.com/Thermoquad/mintylink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
