/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"

	"github.com/kentakayama/consent-over-http/internal/agent"
	"github.com/kentakayama/consent-over-http/internal/audit"
	"github.com/kentakayama/consent-over-http/internal/authority"
	"github.com/kentakayama/consent-over-http/internal/config"
	"github.com/kentakayama/consent-over-http/internal/domain/service"
	"github.com/kentakayama/consent-over-http/internal/infra/sqlite"
	"github.com/kentakayama/consent-over-http/internal/registry"
	"github.com/kentakayama/consent-over-http/internal/signer"
)

// Server wires the HTTP listener and request handling stack.
type Server struct {
	cfg       config.Config
	handler   *handler
	authority *authority.Authority
	http      *http.Server
	db        *sql.DB
	sweepCtx  context.Context
	stop      context.CancelFunc
	logger    *log.Logger
}

// New constructs a Server using the provided configuration. The signing key
// is generated here, once per process.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s, err := signer.Generate(nil)
	if err != nil {
		return nil, err
	}
	logger.Printf("generated signing key, kid h'%x'", s.KeyID())

	reg, db, err := openRegistry(ctx, cfg.Registry)
	if err != nil {
		return nil, err
	}

	catalog, err := agent.Default()
	if err != nil {
		sqlite.CloseDB(db)
		return nil, err
	}

	a, err := authority.New(s, reg, catalog,
		authority.WithMaxTTL(cfg.Policy.MaxTTL),
		authority.WithDefaultTTL(cfg.Policy.DefaultTTL),
		authority.WithAudit(audit.LogSink{Logger: logger}),
		authority.WithLogger(logger),
	)
	if err != nil {
		sqlite.CloseDB(db)
		return nil, err
	}

	h, err := newHandler(a, handlerOptions{
		publicURL: cfg.Server.PublicURL,
		qrSize:    cfg.Policy.QRSize,
		logger:    logger,
	})
	if err != nil {
		sqlite.CloseDB(db)
		return nil, err
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	sweepCtx, stop := context.WithCancel(context.Background())
	return &Server{
		cfg:       cfg,
		handler:   h,
		authority: a,
		http:      httpSrv,
		db:        db,
		sweepCtx:  sweepCtx,
		stop:      stop,
		logger:    logger,
	}, nil
}

func openRegistry(ctx context.Context, cfg config.RegistryConfig) (service.ConsentRegistry, *sql.DB, error) {
	if cfg.Driver != config.DriverSQLite {
		return registry.NewMemory(), nil, nil
	}
	db, err := sqlite.InitDB(ctx, cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	return sqlite.NewConsentRepository(db), db, nil
}

// ListenAndServe starts the HTTP server and blocks until it stops.
func (s *Server) ListenAndServe() error {
	if s.cfg.Registry.SweepInterval > 0 {
		go s.authority.RunSweeper(s.sweepCtx, s.cfg.Registry.SweepInterval)
	}

	var err error
	if s.cfg.TLSEnabled() {
		s.logger.Printf("Run consent server on %s (TLS).", s.http.Addr)
		err = s.http.ListenAndServeTLS(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
	} else {
		s.logger.Printf("Run consent server on %s.", s.http.Addr)
		err = s.http.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully takes down the HTTP server and releases the registry.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	err := s.http.Shutdown(ctx)
	if cerr := sqlite.CloseDB(s.db); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Handler exposes the request router, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}
