/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package agent renders the payloads released on redemption.
package agent

import (
	"bytes"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/kentakayama/consent-over-http/internal/domain"
	"github.com/kentakayama/consent-over-http/internal/domain/model"
	"github.com/kentakayama/consent-over-http/resources"
)

// Params are the values a payload template is rendered with.
type Params struct {
	ConsentID  string
	Platform   string
	Capability model.Capability
	Scope      []string
	ExpiresAt  string
}

// NewParams derives template parameters from a verified consent.
func NewParams(c model.Claims, platform string, capability model.Capability) Params {
	return Params{
		ConsentID:  c.ID,
		Platform:   platform,
		Capability: capability,
		Scope:      c.Scope.Strings(),
		ExpiresAt:  c.ExpiresAt.Format(time.RFC3339),
	}
}

// Catalog maps platform names to payload templates. It is static
// configuration and safe for concurrent use once built.
type Catalog struct {
	templates map[string]*template.Template
}

var funcs = template.FuncMap{
	"join": strings.Join,
}

// Default loads the templates embedded in the binary.
func Default() (*Catalog, error) {
	sub, err := fs.Sub(resources.AgentTemplates, "agents")
	if err != nil {
		return nil, err
	}
	return Load(sub)
}

// Load reads every <platform>.tmpl at the root of fsys.
func Load(fsys fs.FS) (*Catalog, error) {
	names, err := fs.Glob(fsys, "*.tmpl")
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no agent templates found")
	}

	c := &Catalog{templates: make(map[string]*template.Template, len(names))}
	for _, name := range names {
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		platform := strings.TrimSuffix(path.Base(name), ".tmpl")
		if err := c.Add(platform, string(body)); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add parses and registers a template for platform, replacing any previous one.
// It must not be called once the catalog is shared.
func (c *Catalog) Add(platform, body string) error {
	if platform == "" {
		return fmt.Errorf("empty platform name")
	}
	tmpl, err := template.New(platform).Funcs(funcs).Option("missingkey=error").Parse(body)
	if err != nil {
		return fmt.Errorf("parse %s template: %w", platform, err)
	}
	if c.templates == nil {
		c.templates = make(map[string]*template.Template)
	}
	c.templates[platform] = tmpl
	return nil
}

// Has reports whether platform has a template.
func (c *Catalog) Has(platform string) bool {
	_, ok := c.templates[platform]
	return ok
}

// Platforms lists the known platforms, sorted.
func (c *Catalog) Platforms() []string {
	out := make([]string, 0, len(c.templates))
	for p := range c.templates {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Render produces the payload for platform. Unknown platforms fail with
// domain.ErrUnknownPlatform; there is no fallback payload.
func (c *Catalog) Render(platform string, p Params) ([]byte, error) {
	tmpl, ok := c.templates[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownPlatform, platform)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p); err != nil {
		return nil, fmt.Errorf("render %s payload: %w", platform, err)
	}
	return buf.Bytes(), nil
}

// Filename is the download name of a payload.
func Filename(platform, consentID string) string {
	return platform + "_" + consentID
}
