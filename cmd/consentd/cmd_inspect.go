/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/kentakayama/consent-over-http/internal/domain"
	"github.com/kentakayama/consent-over-http/internal/token"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <token>",
		Short: "Print the claims and COSE structure of a token",
		Long:  `Decode a token without verifying it and print it as JSON.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := tokenBytes(args[0])
			if err != nil {
				return err
			}
			out, err := token.Inspect(raw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

// tokenBytes decodes the base64url text form of a token.
func tokenBytes(text string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedToken, err)
	}
	return raw, nil
}
