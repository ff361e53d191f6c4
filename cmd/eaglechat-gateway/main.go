// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the EagleChat gateway.
package main

import (
	"os"

	"github.com/eaglechat/gateway/cmd/eaglechat-gateway/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
