/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package resources

import (
	"embed"
)

var (
	// AgentTemplates holds one payload template per platform, named <platform>.tmpl.
	//go:embed agents/*.tmpl
	AgentTemplates embed.FS
)
