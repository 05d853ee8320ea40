package api_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/uvote-platform/uvote/internal/voting"
)

func TestExchange_returnsCredential(t *testing.T) {
	e := newEnv(t)
	authID := e.enroll(t, 7)

	w := e.do(t, http.MethodPost, "/api/v1/exchange",
		map[string]string{"authorization_id": authID.String()}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decode(t, w)
	cred, _ := resp["credential"].(string)
	if len(cred) < 43 {
		t.Errorf("credential too short: %q", cred)
	}
	if int64(resp["election_id"].(float64)) != e.electionID {
		t.Errorf("election_id: got %v", resp["election_id"])
	}
}

func TestExchange_400_malformedID(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/exchange",
		map[string]string{"authorization_id": "not-a-uuid"}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// Unknown authorization, consumed authorization, and not-yet-open election
// must be indistinguishable from the outside.
func TestExchange_rejectionsIndistinguishable(t *testing.T) {
	e := newEnv(t)

	// Cause 1: authorization that does not exist.
	unknown := e.do(t, http.MethodPost, "/api/v1/exchange",
		map[string]string{"authorization_id": uuid.New().String()}, "")

	// Cause 2: authorization already consumed.
	consumedID := e.enroll(t, 7)
	if w := e.do(t, http.MethodPost, "/api/v1/exchange",
		map[string]string{"authorization_id": consumedID.String()}, ""); w.Code != http.StatusOK {
		t.Fatalf("setup exchange failed: %d", w.Code)
	}
	consumed := e.do(t, http.MethodPost, "/api/v1/exchange",
		map[string]string{"authorization_id": consumedID.String()}, "")

	// Cause 3: authorization for an election still in draft.
	draft, err := e.elections.Create(ctx, "draft election")
	if err != nil {
		t.Fatal(err)
	}
	draftAuth := &voting.Authorization{
		ID:         uuid.New(),
		ElectionID: draft.ID,
		VoterID:    8,
		Status:     voting.StatusIssued,
	}
	if err := e.store.CreateAuthorization(ctx, draftAuth); err != nil {
		t.Fatal(err)
	}
	notActive := e.do(t, http.MethodPost, "/api/v1/exchange",
		map[string]string{"authorization_id": draftAuth.ID.String()}, "")

	for name, code := range map[string]int{
		"unknown":    unknown.Code,
		"consumed":   consumed.Code,
		"not active": notActive.Code,
	} {
		if code != http.StatusUnprocessableEntity {
			t.Errorf("%s rejection status: got %d, want 422", name, code)
		}
	}
	if unknown.Body.String() != consumed.Body.String() || consumed.Body.String() != notActive.Body.String() {
		t.Errorf("rejection bodies differ: %q / %q / %q",
			unknown.Body.String(), consumed.Body.String(), notActive.Body.String())
	}
}

func TestCast_thenReceiptLookup(t *testing.T) {
	e := newEnv(t)
	cred := e.mintCredential(t, 7)

	w := e.do(t, http.MethodPost, "/api/v1/ballots",
		map[string]string{"credential": cred, "selection": "candidate-7"}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	resp := decode(t, w)
	handle, _ := resp["receipt"].(string)
	if !strings.HasPrefix(handle, "uvr1_") {
		t.Fatalf("receipt handle: %q", handle)
	}
	if int64(resp["position"].(float64)) != 0 {
		t.Errorf("position: got %v, want 0", resp["position"])
	}

	lookup := e.do(t, http.MethodGet, "/api/v1/receipts/"+handle, nil, "")
	if lookup.Code != http.StatusOK {
		t.Fatalf("receipt lookup: expected 200, got %d", lookup.Code)
	}
	lr := decode(t, lookup)
	if lr["exists"] != true {
		t.Error("receipt reported missing")
	}
	if int64(lr["election_id"].(float64)) != e.electionID {
		t.Errorf("receipt election_id: got %v", lr["election_id"])
	}
}

func TestReceipt_404_unknownHandle(t *testing.T) {
	e := newEnv(t)

	handle := "uvr1_" + strings.Repeat("a", 64)
	w := e.do(t, http.MethodGet, "/api/v1/receipts/"+handle, nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if decode(t, w)["exists"] != false {
		t.Error("expected exists=false")
	}
}

func TestReceipt_400_malformedHandle(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/api/v1/receipts/not-a-receipt", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// Credential reuse and a fabricated credential must look identical.
func TestCast_rejectionsIndistinguishable(t *testing.T) {
	e := newEnv(t)
	cred := e.mintCredential(t, 7)

	if w := e.do(t, http.MethodPost, "/api/v1/ballots",
		map[string]string{"credential": cred, "selection": "a"}, ""); w.Code != http.StatusCreated {
		t.Fatalf("setup cast failed: %d", w.Code)
	}

	reuse := e.do(t, http.MethodPost, "/api/v1/ballots",
		map[string]string{"credential": cred, "selection": "b"}, "")
	unknown := e.do(t, http.MethodPost, "/api/v1/ballots",
		map[string]string{"credential": "fabricated-credential-value", "selection": "b"}, "")

	if reuse.Code != http.StatusUnprocessableEntity || unknown.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422/422, got %d/%d", reuse.Code, unknown.Code)
	}
	if reuse.Body.String() != unknown.Body.String() {
		t.Errorf("rejection bodies differ: %q vs %q", reuse.Body.String(), unknown.Body.String())
	}
}

func TestCast_400_missingFields(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/ballots",
		map[string]string{"credential": "x"}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// The exchange response is the only place a credential value ever appears;
// the ballot response must not echo the credential back.
func TestCast_responseOmitsCredential(t *testing.T) {
	e := newEnv(t)
	cred := e.mintCredential(t, 7)

	w := e.do(t, http.MethodPost, "/api/v1/ballots",
		map[string]string{"credential": cred, "selection": "candidate-7"}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), cred) {
		t.Error("cast response contains the credential value")
	}
	if strings.Contains(w.Body.String(), "candidate-7") {
		t.Error("cast response contains the plaintext selection")
	}
}
