/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kentakayama/consent-over-http/internal/authority"
	"github.com/kentakayama/consent-over-http/internal/signer"
	"github.com/kentakayama/consent-over-http/internal/token"
	"github.com/spf13/cobra"
)

var errInvalidToken = errors.New("token signature does not verify")

func newVerifyCmd() *cobra.Command {
	var keyPath string
	cmd := &cobra.Command{
		Use:   "verify --key <cose-key file> <token>",
		Short: "Check a token's signature offline",
		Long: `Check that a token was signed by the authority whose COSE_Key is in
--key (as served by /api/key). Only authenticity is checked: expiry and
revocation need the authority itself.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(keyPath)
			if err != nil {
				return fmt.Errorf("failed to read key: %w", err)
			}
			v, err := signer.ParsePublicKey(data)
			if err != nil {
				return err
			}

			raw, err := tokenBytes(args[0])
			if err != nil {
				return err
			}
			t, err := token.Decode(raw)
			if err != nil {
				return err
			}
			if !authority.VerifyToken(v, raw) {
				return errInvalidToken
			}

			c := t.Consent.Claims
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "valid\n")
			fmt.Fprintf(out, "id:      %s\n", c.ID)
			fmt.Fprintf(out, "scope:   %v\n", c.Scope.Strings())
			fmt.Fprintf(out, "created: %s\n", c.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "expires: %s\n", c.ExpiresAt.Format(time.RFC3339))
			if t.KeyID != nil && !v.MatchesKeyID(t.KeyID) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: kid h'%x' does not name this key\n", t.KeyID)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&keyPath, "key", "k", "", "Path to the authority's CBOR COSE_Key")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
