/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package audit

import (
	"bytes"
	"context"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTee_MemoryAndLog(t *testing.T) {
	var buf bytes.Buffer
	mem := NewMemorySink()
	sink := Tee{mem, LogSink{Logger: log.New(&buf, "", 0)}, Discard{}}

	ctx := context.Background()
	now := time.Now()
	assert.Nil(t, sink.Record(ctx, NewEvent(now, KindIssued, "c1")))
	tampered := NewEvent(now, KindTampered, "c1")
	tampered.Reason = "signature mismatch"
	assert.Nil(t, sink.Record(ctx, tampered))

	events := mem.Events()
	assert.Len(t, events, 2)
	assert.NotEqual(t, events[0].ID, events[1].ID)
	assert.Equal(t, 1, mem.Count(KindTampered))
	assert.Equal(t, 0, mem.Count(KindRedeemed))

	out := buf.String()
	assert.Contains(t, out, "audit: issued consent=c1")
	assert.Contains(t, out, "SECURITY audit: tampered consent=c1")
}
