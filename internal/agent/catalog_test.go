/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package agent

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/kentakayama/consent-over-http/internal/domain"
	"github.com/kentakayama/consent-over-http/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClaims() model.Claims {
	now := time.Unix(1700000000, 0).UTC()
	return model.Claims{
		ID:        "c0ffee",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
		Scope:     model.Scope{model.CapabilityScreenshot, model.CapabilityShell},
	}
}

func TestDefault_Platforms(t *testing.T) {
	c, err := Default()
	require.Nil(t, err)
	assert.Equal(t, []string{"android", "ios", "linux", "macos", "windows"}, c.Platforms())
}

func TestCatalog_Render(t *testing.T) {
	c, err := Default()
	require.Nil(t, err)

	out, err := c.Render("linux", NewParams(testClaims(), "linux", model.CapabilityScreenshot))
	require.Nil(t, err)
	s := string(out)
	assert.Contains(t, s, "#!/bin/bash")
	assert.Contains(t, s, "consent c0ffee")
	assert.Contains(t, s, "capability screenshot")
	assert.Contains(t, s, "screenshot,shell")
	assert.Contains(t, s, "2023-11-14T23:13:20Z")
}

func TestCatalog_UnknownPlatform(t *testing.T) {
	c, err := Default()
	require.Nil(t, err)

	out, err := c.Render("plan9", NewParams(testClaims(), "plan9", model.CapabilityShell))
	assert.ErrorIs(t, err, domain.ErrUnknownPlatform)
	assert.Nil(t, out)
}

func TestLoad(t *testing.T) {
	fsys := fstest.MapFS{
		"solaris.tmpl": {Data: []byte("id={{.ConsentID}} cap={{.Capability}}")},
		"README":       {Data: []byte("ignored")},
	}
	c, err := Load(fsys)
	require.Nil(t, err)
	assert.Equal(t, []string{"solaris"}, c.Platforms())

	out, err := c.Render("solaris", NewParams(testClaims(), "solaris", model.CapabilityCamera))
	require.Nil(t, err)
	assert.Equal(t, "id=c0ffee cap=camera", string(out))

	_, err = Load(fstest.MapFS{})
	assert.NotNil(t, err)

	_, err = Load(fstest.MapFS{"bad.tmpl": {Data: []byte("{{.Nope")}})
	assert.NotNil(t, err)
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "windows_c0ffee", Filename("windows", "c0ffee"))
}
