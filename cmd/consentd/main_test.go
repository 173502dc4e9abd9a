/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kentakayama/consent-over-http/internal/agent"
	"github.com/kentakayama/consent-over-http/internal/authority"
	"github.com/kentakayama/consent-over-http/internal/config"
	"github.com/kentakayama/consent-over-http/internal/domain"
	"github.com/kentakayama/consent-over-http/internal/domain/model"
	"github.com/kentakayama/consent-over-http/internal/registry"
	"github.com/kentakayama/consent-over-http/internal/signer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// issueToken returns a fresh token and the path of its authority's COSE_Key.
func issueToken(t *testing.T) (string, string) {
	t.Helper()
	s, err := signer.Generate(nil)
	require.Nil(t, err)
	catalog, err := agent.Default()
	require.Nil(t, err)
	a, err := authority.New(s, registry.NewMemory(), catalog, authority.WithLogger(log.New(io.Discard, "", 0)))
	require.Nil(t, err)

	scope, err := model.NewScope("camera", "location")
	require.Nil(t, err)
	issued, err := a.Issue(context.Background(), scope, time.Hour)
	require.Nil(t, err)

	key, err := a.PublicKey()
	require.Nil(t, err)
	keyPath := filepath.Join(t.TempDir(), "authority.cose-key")
	require.Nil(t, os.WriteFile(keyPath, key, 0o600))
	return issued.TokenText, keyPath
}

func run(args ...string) (string, string, error) {
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVerify(t *testing.T) {
	text, keyPath := issueToken(t)

	stdout, _, err := run("verify", "--key", keyPath, text)
	require.Nil(t, err)
	assert.Contains(t, stdout, "valid")
	assert.Contains(t, stdout, "[camera location]")

	_, otherKey := issueToken(t)
	_, _, err = run("verify", "--key", otherKey, text)
	assert.ErrorIs(t, err, errInvalidToken)

	raw, err := base64.RawURLEncoding.DecodeString(text)
	require.Nil(t, err)
	raw[len(raw)-1] ^= 0x01
	_, _, err = run("verify", "--key", keyPath, base64.RawURLEncoding.EncodeToString(raw))
	assert.ErrorIs(t, err, errInvalidToken)

	_, _, err = run("verify", "--key", keyPath, "not a token")
	assert.ErrorIs(t, err, domain.ErrMalformedToken)

	_, _, err = run("verify", text)
	assert.NotNil(t, err, "--key is required")
}

func TestInspect(t *testing.T) {
	text, _ := issueToken(t)

	stdout, _, err := run("inspect", text)
	require.Nil(t, err)
	assert.Contains(t, stdout, `"claims"`)
	assert.Contains(t, stdout, `"camera"`)
	assert.Contains(t, stdout, `"envelope"`)

	_, _, err = run("inspect", "AAAA")
	assert.ErrorIs(t, err, domain.ErrMalformedToken)
}

func TestQR(t *testing.T) {
	text, _ := issueToken(t)
	out := filepath.Join(t.TempDir(), "consent.png")

	_, _, err := run("qr", text, "-o", out)
	require.Nil(t, err)
	png, err := os.ReadFile(out)
	require.Nil(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	_, _, err = run("qr", "garbage!", "-o", out)
	assert.ErrorIs(t, err, domain.ErrMalformedToken)
}

func TestLoadServeConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "consentd.yaml")
	require.Nil(t, os.WriteFile(cfgPath, []byte("server:\n  addr: 127.0.0.1:9000\npolicy:\n  max_ttl: 4h\n  default_ttl: 1h\n"), 0o600))

	cmd := newServeCmd()
	dbPath := filepath.Join(dir, "consents.db")
	require.Nil(t, cmd.ParseFlags([]string{"--config", cfgPath, "--db", dbPath}))
	opts := serveOptions{configPath: cfgPath, dbPath: dbPath}

	cfg, err := loadServeConfig(cmd, opts)
	require.Nil(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 4*time.Hour, cfg.Policy.MaxTTL)
	assert.Equal(t, config.DriverSQLite, cfg.Registry.Driver)
	assert.Equal(t, dbPath, cfg.Registry.Path)
	assert.NotNil(t, cfg.Logger)

	cmd = newServeCmd()
	require.Nil(t, cmd.ParseFlags([]string{"--tls-cert", "cert.pem"}))
	_, err = loadServeConfig(cmd, serveOptions{certFile: "cert.pem"})
	assert.NotNil(t, err, "cert without key")
}
