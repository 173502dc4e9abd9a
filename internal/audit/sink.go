/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// Kind classifies an audit event.
type Kind string

const (
	KindIssued   Kind = "issued"
	KindRedeemed Kind = "redeemed"
	KindDeclined Kind = "declined"
	// KindTampered is kept apart from KindDeclined: a signature that stops
	// verifying means the registry was altered.
	KindTampered Kind = "tampered"
	KindRevoked  Kind = "revoked"
)

// Event is one audit record.
type Event struct {
	ID         string
	At         time.Time
	Kind       Kind
	ConsentID  string
	Capability string
	Platform   string
	Reason     string
}

// NewEvent stamps an event with a fresh id.
func NewEvent(at time.Time, kind Kind, consentID string) Event {
	return Event{
		ID:        uuid.NewString(),
		At:        at,
		Kind:      kind,
		ConsentID: consentID,
	}
}

// Sink receives audit events. It only stores, it does not answer queries.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

// LogSink writes events through a logger.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) Record(_ context.Context, e Event) error {
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}
	prefix := "audit"
	if e.Kind == KindTampered {
		prefix = "SECURITY audit"
	}
	logger.Printf("%s: %s consent=%s capability=%q platform=%q reason=%q event=%s",
		prefix, e.Kind, e.ConsentID, e.Capability, e.Platform, e.Reason, e.ID)
	return nil
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(context.Context, Event) error { return nil }
