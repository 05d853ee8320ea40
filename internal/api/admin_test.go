package api_test

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/uvote-platform/uvote/internal/audit"
	"github.com/uvote-platform/uvote/internal/ledger"
)

// auditEvents returns the parsed events in one audit scope.
func (e *env) auditEvents(t *testing.T, scope string) []*audit.Event {
	t.Helper()
	var events []*audit.Event
	err := e.audits.Walk(ctx, scope, func(entry *ledger.Entry) error {
		ev, err := audit.ParseEvent(entry.Payload)
		if err != nil {
			return err
		}
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return events
}

func TestAdminLogin_issuesToken(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/admin/login",
		map[string]string{"email": "admin@example.org", "password": "password123"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}

	body := decode(t, w)
	if body["token"] != e.adminToken {
		t.Errorf("token: got %v", body["token"])
	}
	org, ok := body["organiser"].(map[string]any)
	if !ok {
		t.Fatalf("organiser missing from response: %v", body)
	}
	if org["email"] != "admin@example.org" {
		t.Errorf("organiser email: got %v", org["email"])
	}
	if strings.Contains(w.Body.String(), "password_hash") {
		t.Error("response leaks password hash")
	}
}

func TestAdminLogin_401_wrongPassword(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/admin/login",
		map[string]string{"email": "admin@example.org", "password": "nope"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", w.Code)
	}
}

func TestAdmin_requiresSessionToken(t *testing.T) {
	e := newEnv(t)

	for name, token := range map[string]string{
		"missing": "",
		"bogus":   "not-the-session-token",
	} {
		w := e.do(t, http.MethodGet, "/api/v1/admin/elections", nil, token)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s token: got %d, want 401", name, w.Code)
		}
	}
}

func TestElectionLifecycle_auditTrail(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/admin/elections",
		map[string]string{"title": "school board"}, e.adminToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status: got %d, body %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["title"] != "school board" || body["status"] != "draft" {
		t.Fatalf("created election: %v", body)
	}
	if strings.Contains(w.Body.String(), "ballot_key") {
		t.Fatal("create response leaks ballot key")
	}
	id := int64(body["id"].(float64))

	w = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/elections/%d/open", id), nil, e.adminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("open status: got %d, body %s", w.Code, w.Body.String())
	}
	if body = decode(t, w); body["status"] != "open" {
		t.Fatalf("after open: %v", body)
	}

	w = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/elections/%d/close", id), nil, e.adminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("close status: got %d, body %s", w.Code, w.Body.String())
	}
	if body = decode(t, w); body["status"] != "closed" {
		t.Fatalf("after close: %v", body)
	}

	events := e.auditEvents(t, "election-lifecycle")
	if len(events) != 3 {
		t.Fatalf("lifecycle events: got %d, want 3", len(events))
	}
	wantID := fmt.Sprintf("%d", id)
	for i, wantType := range []string{audit.EventElectionCreated, audit.EventElectionOpened, audit.EventElectionClosed} {
		if events[i].Type != wantType {
			t.Errorf("event %d: got %q, want %q", i, events[i].Type, wantType)
		}
		if events[i].Fields["election_id"] != wantID {
			t.Errorf("event %d election_id: got %q", i, events[i].Fields["election_id"])
		}
	}
	if events[0].Fields["title"] != "school board" {
		t.Errorf("created event title: got %q", events[0].Fields["title"])
	}
}

func TestElectionOpen_twice409(t *testing.T) {
	e := newEnv(t)

	// The default election is already open.
	w := e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/elections/%d/open", e.electionID), nil, e.adminToken)
	if w.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want 409", w.Code)
	}
}

func TestElectionClose_draft409(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/admin/elections",
		map[string]string{"title": "never opened"}, e.adminToken)
	if w.Code != http.StatusCreated {
		t.Fatal(w.Body.String())
	}
	id := int64(decode(t, w)["id"].(float64))

	w = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/elections/%d/close", id), nil, e.adminToken)
	if w.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want 409", w.Code)
	}
}

func TestGetElection_notFoundAndBadID(t *testing.T) {
	e := newEnv(t)

	if w := e.do(t, http.MethodGet, "/api/v1/admin/elections/999", nil, e.adminToken); w.Code != http.StatusNotFound {
		t.Errorf("unknown id: got %d, want 404", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/api/v1/admin/elections/abc", nil, e.adminToken); w.Code != http.StatusBadRequest {
		t.Errorf("malformed id: got %d, want 400", w.Code)
	}
}

func TestListElections(t *testing.T) {
	e := newEnv(t)

	if w := e.do(t, http.MethodPost, "/api/v1/admin/elections",
		map[string]string{"title": "second"}, e.adminToken); w.Code != http.StatusCreated {
		t.Fatal(w.Body.String())
	}

	w := e.do(t, http.MethodGet, "/api/v1/admin/elections", nil, e.adminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	list, ok := decode(t, w)["elections"].([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("elections: got %v", list)
	}
	if strings.Contains(w.Body.String(), "ballot_key") {
		t.Error("list response leaks ballot keys")
	}
}

func TestResults_409_whileOpen(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/admin/elections/%d/results", e.electionID), nil, e.adminToken)
	if w.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want 409", w.Code)
	}
}

func TestResults_tallyAfterClose(t *testing.T) {
	e := newEnv(t)

	for i, selection := range []string{"alice", "alice", "bob"} {
		w := e.do(t, http.MethodPost, "/api/v1/ballots", map[string]string{
			"credential": e.mintCredential(t, int64(i+1)),
			"selection":  selection,
		}, "")
		if w.Code != http.StatusCreated {
			t.Fatalf("cast %d: got %d, body %s", i, w.Code, w.Body.String())
		}
	}
	if w := e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/elections/%d/close", e.electionID), nil, e.adminToken); w.Code != http.StatusOK {
		t.Fatal(w.Body.String())
	}

	w := e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/admin/elections/%d/results", e.electionID), nil, e.adminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}

	body := decode(t, w)
	if body["total_ballots"] != float64(3) {
		t.Errorf("total_ballots: got %v", body["total_ballots"])
	}
	results, ok := body["results"].(map[string]any)
	if !ok {
		t.Fatalf("results missing: %v", body)
	}
	if results["alice"] != float64(2) || results["bob"] != float64(1) {
		t.Errorf("tally: got %v", results)
	}
}

func TestReconcile_viaAPI(t *testing.T) {
	e := newEnv(t)

	if w := e.do(t, http.MethodPost, "/api/v1/ballots", map[string]string{
		"credential": e.mintCredential(t, 1),
		"selection":  "alice",
	}, ""); w.Code != http.StatusCreated {
		t.Fatal(w.Body.String())
	}

	w := e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/admin/elections/%d/reconcile", e.electionID), nil, e.adminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}

	body := decode(t, w)
	if body["consistent"] != true {
		t.Errorf("report: %v", body)
	}
	if body["credentials_consumed"] != float64(1) || body["ledger_entries"] != float64(1) {
		t.Errorf("counts: %v", body)
	}
}

func TestReconcile_404_unknownElection(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/api/v1/admin/elections/999/reconcile", nil, e.adminToken)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", w.Code)
	}
}

func TestScopes_quarantineAndClear(t *testing.T) {
	e := newEnv(t)

	if w := e.do(t, http.MethodPost, "/api/v1/ballots", map[string]string{
		"credential": e.mintCredential(t, 1),
		"selection":  "alice",
	}, ""); w.Code != http.StatusCreated {
		t.Fatal(w.Body.String())
	}

	e.tamperBallot(t, 0)
	e.monitor.SweepAll(ctx)

	scope := ledger.ElectionScope(e.electionID)
	w := e.do(t, http.MethodGet, "/api/v1/admin/scopes", nil, e.adminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("scopes status: got %d", w.Code)
	}
	halted, _ := decode(t, w)["halted"].([]any)
	if len(halted) != 1 || halted[0] != scope {
		t.Fatalf("halted scopes: got %v, want [%s]", halted, scope)
	}

	// Casting into the quarantined scope is refused.
	w = e.do(t, http.MethodPost, "/api/v1/ballots", map[string]string{
		"credential": e.mintCredential(t, 2),
		"selection":  "bob",
	}, "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("cast into halted scope: got %d, want 422", w.Code)
	}

	w = e.do(t, http.MethodPost, "/api/v1/admin/scopes/"+scope+"/clear", nil, e.adminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("clear status: got %d, body %s", w.Code, w.Body.String())
	}
	if body := decode(t, w); body["cleared"] != true {
		t.Errorf("clear response: %v", body)
	}

	if w = e.do(t, http.MethodPost, "/api/v1/admin/scopes/"+scope+"/clear", nil, e.adminToken); w.Code != http.StatusNotFound {
		t.Errorf("second clear: got %d, want 404", w.Code)
	}

	w = e.do(t, http.MethodGet, "/api/v1/admin/scopes", nil, e.adminToken)
	if halted, _ := decode(t, w)["halted"].([]any); len(halted) != 0 {
		t.Errorf("halted scopes after clear: got %v", halted)
	}
}
