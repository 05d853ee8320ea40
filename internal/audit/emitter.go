// Package audit emits structured platform events to the audit ledger.
//
// Every event type carries an allow-list of permitted field names. The lists
// are the anonymity backstop: no list contains a voter field, a credential
// value, or a ballot selection, so an event that would join a voter to a
// ballot cannot be represented, let alone written.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uvote-platform/uvote/internal/ledger"
)

// Audit event types.
const (
	EventAuthorizationIssued   = "authorization_issued"
	EventAuthorizationConsumed = "authorization_consumed"
	EventBallotCast            = "ballot_cast"
	EventElectionCreated       = "election_created"
	EventElectionOpened        = "election_opened"
	EventElectionClosed        = "election_closed"
	EventIntegrityAlert        = "integrity_alert"
	EventReconciliationRun     = "reconciliation_run"
)

// allowedFields maps each event type to the only field names it may carry.
var allowedFields = map[string]map[string]bool{
	EventAuthorizationIssued:   {"authorization_id": true, "election_id": true},
	EventAuthorizationConsumed: {"authorization_id": true, "election_id": true},
	EventBallotCast:            {"election_id": true, "entry_position": true},
	EventElectionCreated:       {"election_id": true, "title": true},
	EventElectionOpened:        {"election_id": true},
	EventElectionClosed:        {"election_id": true},
	EventIntegrityAlert:        {"scope": true, "position": true, "reason": true},
	EventReconciliationRun:     {"election_id": true, "credentials_consumed": true, "ledger_entries": true, "consistent": true},
}

// ErrUnknownEventType is returned for an event type with no allow-list.
var ErrUnknownEventType = errors.New("unknown audit event type")

// ErrForbiddenField is returned when a field name is not in the event
// type's allow-list.
var ErrForbiddenField = errors.New("audit event field not allowed")

// Event is the payload stored in the audit ledger.
type Event struct {
	Source string            `json:"source"`
	Type   string            `json:"type"`
	Fields map[string]string `json:"fields,omitempty"`
	At     time.Time         `json:"at"`
}

// ParseEvent decodes an audit ledger payload.
func ParseEvent(payload []byte) (*Event, error) {
	ev := &Event{}
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, fmt.Errorf("parse audit event: %w", err)
	}
	return ev, nil
}

// Record is a validated, marshalled audit event together with the audit
// scope it belongs in, ready to be appended by a store inside its own
// transaction.
type Record struct {
	Scope   string
	Payload []byte
}

// Emitter writes events for one platform component. Each component emits
// into its own audit scope, so a component's events form one totally
// ordered chain.
type Emitter struct {
	ledger ledger.Ledger
	source string
	logger *zap.Logger
}

// NewEmitter creates an Emitter for the named source component.
func NewEmitter(l ledger.Ledger, source string, logger *zap.Logger) *Emitter {
	return &Emitter{ledger: l, source: source, logger: logger}
}

// Scope returns the audit scope this emitter writes to.
func (e *Emitter) Scope() string { return e.source }

// Build validates the event against its allow-list and returns the record
// for a store to append transactionally.
func (e *Emitter) Build(eventType string, fields map[string]string) (Record, error) {
	allowed, ok := allowedFields[eventType]
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	for name := range fields {
		if !allowed[name] {
			return Record{}, fmt.Errorf("%w: %q on %q", ErrForbiddenField, name, eventType)
		}
	}

	payload, err := json.Marshal(&Event{
		Source: e.source,
		Type:   eventType,
		Fields: fields,
		At:     time.Now().UTC(),
	})
	if err != nil {
		return Record{}, fmt.Errorf("marshal audit event: %w", err)
	}
	return Record{Scope: e.source, Payload: payload}, nil
}

// Emit validates the event and appends it to the audit ledger.
func (e *Emitter) Emit(ctx context.Context, eventType string, fields map[string]string) (*ledger.Entry, error) {
	rec, err := e.Build(eventType, fields)
	if err != nil {
		return nil, err
	}
	entry, err := e.ledger.Append(ctx, rec.Scope, rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("append audit event: %w", err)
	}
	e.logger.Debug("audit event emitted",
		zap.String("source", e.source),
		zap.String("type", eventType),
		zap.Int64("position", entry.Position),
	)
	return entry, nil
}
