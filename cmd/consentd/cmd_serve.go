/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kentakayama/consent-over-http/internal/config"
	"github.com/kentakayama/consent-over-http/internal/server"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	configPath string
	addr       string
	dbPath     string
	publicURL  string
	certFile   string
	keyFile    string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the consent authority over HTTP",
		Long: `Run the consent authority. A fresh signing key is generated at start;
fetch it from /api/key to verify tokens offline.

Flags override values read from --config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(cmd, opts)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to YAML config file")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "SQLite database path (selects the sqlite registry)")
	cmd.Flags().StringVar(&opts.publicURL, "public-url", "", "Base URL used in agent links")
	cmd.Flags().StringVar(&opts.certFile, "tls-cert", "", "TLS certificate file")
	cmd.Flags().StringVar(&opts.keyFile, "tls-key", "", "TLS private key file")
	return cmd
}

func loadServeConfig(cmd *cobra.Command, opts serveOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return config.Config{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Server.Addr = opts.addr
	}
	if flags.Changed("db") {
		cfg.Registry.Driver = config.DriverSQLite
		cfg.Registry.Path = opts.dbPath
	}
	if flags.Changed("public-url") {
		cfg.Server.PublicURL = opts.publicURL
	}
	if flags.Changed("tls-cert") {
		cfg.Server.TLSCertFile = opts.certFile
	}
	if flags.Changed("tls-key") {
		cfg.Server.TLSKeyFile = opts.keyFile
	}
	cfg.Logger = log.New(cmd.ErrOrStderr(), "consentd: ", log.LstdFlags)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		_ = srv.Shutdown(context.Background())
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
