package audit

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/uvote-platform/uvote/internal/ledger"
)

var ctx = context.Background()

func newTestEmitter() (*Emitter, *ledger.MemoryLedger) {
	l := ledger.NewMemory()
	return NewEmitter(l, "credential-exchange", zap.NewNop()), l
}

func TestEmit_appendsToSourceScope(t *testing.T) {
	em, l := newTestEmitter()

	entry, err := em.Emit(ctx, EventAuthorizationConsumed, map[string]string{
		"authorization_id": "a6f1c923-8a6e-4f5c-b6b0-1f2d3e4a5b6c",
		"election_id":      "7",
	})
	if err != nil {
		t.Fatal(err)
	}
	if entry.Scope != "credential-exchange" {
		t.Errorf("scope: got %q, want credential-exchange", entry.Scope)
	}

	stored, err := l.Get(ctx, "credential-exchange", 0)
	if err != nil {
		t.Fatal(err)
	}
	ev, err := ParseEvent(stored.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != EventAuthorizationConsumed {
		t.Errorf("type: got %q", ev.Type)
	}
	if ev.Source != "credential-exchange" {
		t.Errorf("source: got %q", ev.Source)
	}
	if ev.Fields["election_id"] != "7" {
		t.Errorf("fields: got %v", ev.Fields)
	}
}

func TestEmit_unknownTypeRejected(t *testing.T) {
	em, l := newTestEmitter()

	_, err := em.Emit(ctx, "voter_logged_in", map[string]string{"election_id": "1"})
	if !errors.Is(err, ErrUnknownEventType) {
		t.Errorf("got %v, want ErrUnknownEventType", err)
	}

	n, _ := l.Len(ctx, "credential-exchange")
	if n != 0 {
		t.Errorf("rejected event still reached the ledger: %d entries", n)
	}
}

// Linkage-capable field names must be rejected on every event type.
func TestBuild_linkageFieldsForbiddenEverywhere(t *testing.T) {
	em, _ := newTestEmitter()

	types := []string{
		EventAuthorizationIssued, EventAuthorizationConsumed, EventBallotCast,
		EventElectionCreated, EventElectionOpened, EventElectionClosed,
		EventIntegrityAlert, EventReconciliationRun,
	}
	for _, typ := range types {
		for _, field := range []string{"voter_id", "credential", "selection"} {
			if _, err := em.Build(typ, map[string]string{field: "x"}); !errors.Is(err, ErrForbiddenField) {
				t.Errorf("%s with field %q: got %v, want ErrForbiddenField", typ, field, err)
			}
		}
	}
}

func TestBuild_allowsSubsetOfFields(t *testing.T) {
	em, _ := newTestEmitter()
	if _, err := em.Build(EventElectionClosed, map[string]string{"election_id": "3"}); err != nil {
		t.Errorf("allowed field rejected: %v", err)
	}
	if _, err := em.Build(EventElectionClosed, nil); err != nil {
		t.Errorf("empty field set rejected: %v", err)
	}
}

func TestEmit_eventsChain(t *testing.T) {
	em, l := newTestEmitter()

	for i := 0; i < 3; i++ {
		if _, err := em.Emit(ctx, EventElectionOpened, map[string]string{"election_id": "1"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Verify(ctx, em.Scope()); err != nil {
		t.Errorf("audit chain failed verification: %v", err)
	}
}
