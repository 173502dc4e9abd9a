/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import (
	"fmt"
	"slices"

	"github.com/kentakayama/consent-over-http/internal/domain"
	"github.com/kentakayama/consent-over-http/internal/util"
)

// Capability is a tag naming one thing a consent authorizes.
type Capability string

const (
	CapabilityShell      Capability = "shell"
	CapabilityScreenshot Capability = "screenshot"
	CapabilityFilesystem Capability = "filesystem"
	CapabilityLocation   Capability = "location"
	CapabilityCamera     Capability = "camera"
)

var knownCapabilities = func() util.Set[Capability] {
	s := util.NewSet[Capability]()
	for _, c := range []Capability{
		CapabilityShell,
		CapabilityScreenshot,
		CapabilityFilesystem,
		CapabilityLocation,
		CapabilityCamera,
	} {
		s.Add(c)
	}
	return s
}()

// KnownCapabilities returns every capability the authority can grant, sorted.
func KnownCapabilities() []Capability {
	return util.SortedKeys(knownCapabilities)
}

// IsKnown reports whether c is a capability the authority can grant.
func (c Capability) IsKnown() bool {
	return knownCapabilities.Has(c)
}

// Scope is a sorted, duplicate-free list of capabilities.
type Scope []Capability

// NewScope normalizes tags into a Scope. Every tag must be a known capability
// and at least one tag is required.
func NewScope(tags ...string) (Scope, error) {
	if len(tags) == 0 {
		return nil, fmt.Errorf("%w: empty", domain.ErrInvalidScope)
	}
	set := util.NewSet[Capability]()
	for _, tag := range tags {
		c := Capability(tag)
		if !c.IsKnown() {
			return nil, fmt.Errorf("%w: unknown capability %q", domain.ErrInvalidScope, tag)
		}
		set.Add(c)
	}
	return Scope(util.SortedKeys(set)), nil
}

// FullScope grants every known capability.
func FullScope() Scope {
	return Scope(KnownCapabilities())
}

// Has is exact tag membership. No prefix or pattern matching is done.
func (s Scope) Has(c Capability) bool {
	return slices.Contains(s, c)
}

// Strings returns the scope as plain tags.
func (s Scope) Strings() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = string(c)
	}
	return out
}

// Clone returns an independent copy.
func (s Scope) Clone() Scope {
	return slices.Clone(s)
}
