/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "consentd",
		Short: "Signed, expiring, scoped consent tokens",
		Long: `consentd issues signed consent tokens and releases agent payloads only
for consents that are registered, authentic, unexpired and in scope.

The serve command runs the authority. The remaining commands work offline
on tokens in their base64url text form.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newVerifyCmd())
	root.AddCommand(newInspectCmd())
	root.AddCommand(newQRCmd())
	return root
}
