package core

import (
	"context"
	"iter"
	"time"
)

// AuditFilter selects decisions from the audit log. Zero values match everything.
type AuditFilter struct {
	ID            string
	CorrelationID string
	Provider      string
	Kind          DecisionKind
	Reason        Reason
	Subject       string
	Since         time.Time
	Until         time.Time

	// Limit caps the number of decisions yielded. Zero means no limit.
	Limit int
}

// Matches reports whether the decision passes the filter, ignoring Limit.
func (f AuditFilter) Matches(d FederationDecision) bool {
	if f.ID != "" && d.ID != f.ID {
		return false
	}
	if f.CorrelationID != "" && d.CorrelationID != f.CorrelationID {
		return false
	}
	if f.Provider != "" && d.Provider != f.Provider {
		return false
	}
	if f.Kind != "" && d.Kind != f.Kind {
		return false
	}
	if f.Reason != ReasonNone && d.Reason != f.Reason {
		return false
	}
	if f.Subject != "" && d.Principal.Subject != f.Subject {
		return false
	}
	if !f.Since.IsZero() && d.Time.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && d.Time.After(f.Until) {
		return false
	}
	return true
}

// AuditLog is the append-only record of federation decisions.
type AuditLog interface {
	// Append records the decision. When it returns nil the decision is durable.
	Append(ctx context.Context, decision FederationDecision) error

	// Query yields matching decisions in append order. Every call starts a new,
	// finite iteration.
	Query(ctx context.Context, filter AuditFilter) iter.Seq2[FederationDecision, error]

	Close() error
}
