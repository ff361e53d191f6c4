// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the command-line surface of the gateway.
package app

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:               "eaglechat-gateway",
	DisableAutoGenTag: true,
	Short:             "Multi-tenant chatbot gateway for WordPress sites",
	Long: `EagleChat gateway sits between WordPress sites and AI providers.
It onboards sites with callback attestation, verifies HMAC-signed requests,
keeps tenant provider keys sealed at rest, and proxies chat traffic upstream.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// NewRootCmd creates the root command for the gateway CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}
