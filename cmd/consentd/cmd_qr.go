/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/kentakayama/consent-over-http/internal/qr"
	"github.com/kentakayama/consent-over-http/internal/token"
	"github.com/spf13/cobra"
)

func newQRCmd() *cobra.Command {
	var (
		output string
		size   int
	)
	cmd := &cobra.Command{
		Use:   "qr <token> -o <file.png>",
		Short: "Render a token as a QR code PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(args[0])
			if _, err := token.DecodeString(text); err != nil {
				return err
			}
			png, err := qr.PNG(text, size)
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, png, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", output, len(png))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "PNG file to write")
	cmd.Flags().IntVar(&size, "size", qr.DefaultSize, "Edge length in pixels")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
