package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/uvote-platform/uvote/pkg/client"
)

const (
	goodAuthorization  = "550e8400-e29b-41d4-a716-446655440000"
	spentAuthorization = "550e8400-e29b-41d4-a716-446655440001"
	goodHandle         = "uvr1_3f6c2a9d3f6c2a9d3f6c2a9d3f6c2a9d3f6c2a9d3f6c2a9d3f6c2a9d3f6c2a9d"
	adminToken         = "test-session-token"
)

// ── Stub server ─────────────────────────────────────────────────────────

func stubVotingServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/exchange", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AuthorizationID string `json:"authorization_id"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.AuthorizationID == spentAuthorization {
			http.Error(w, `{"error":"exchange rejected"}`, http.StatusUnprocessableEntity)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"credential":  "cred-a1b2c3d4",
			"election_id": 7,
		})
	})

	mux.HandleFunc("/api/v1/ballots", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Credential string `json:"credential"`
			Selection  string `json:"selection"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Credential == "spent-credential" {
			http.Error(w, `{"error":"ballot rejected"}`, http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"receipt":     goodHandle,
			"election_id": 7,
			"position":    3,
		})
	})

	mux.HandleFunc("/api/v1/receipts/", func(w http.ResponseWriter, r *http.Request) {
		handle := strings.TrimPrefix(r.URL.Path, "/api/v1/receipts/")
		if handle != goodHandle {
			http.Error(w, `{"exists":false}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"exists":      true,
			"election_id": 7,
			"position":    3,
			"cast_at":     "2026-03-01T10:00:00Z",
		})
	})

	mux.HandleFunc("/api/v1/elections/7/ledger", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"election_id": 7,
			"length":      2,
			"entries": []map[string]any{
				{"position": 0, "hash": "aa11", "prev_hash": strings.Repeat("0", 64), "cast_at": "2026-03-01T10:00:00Z"},
				{"position": 1, "hash": "bb22", "prev_hash": "aa11", "cast_at": "2026-03-01T10:05:00Z"},
			},
			"chain_valid": true,
		})
	})

	mux.HandleFunc("/api/v1/elections/7/ledger/verify", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"valid": true})
	})

	mux.HandleFunc("/api/v1/elections/8/ledger/verify", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"valid":    false,
			"position": 2,
			"reason":   "hash mismatch",
		})
	})

	mux.HandleFunc("/api/v1/admin/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "password123" {
			http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"token": adminToken,
			"organiser": map[string]any{
				"id":    "660e8400-e29b-41d4-a716-446655440000",
				"email": req.Email,
				"name":  "Admin",
			},
		})
	})

	mux.HandleFunc("/api/v1/admin/elections/7/results", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+adminToken {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"election_id":   7,
			"title":         "Student Council 2026",
			"total_ballots": 3,
			"results":       map[string]int64{"alice": 2, "bob": 1},
		})
	})

	mux.HandleFunc("/api/v1/admin/elections/7/reconcile", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+adminToken {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"election_id":             7,
			"authorizations_consumed": 3,
			"credentials_issued":      3,
			"credentials_consumed":    3,
			"ledger_entries":          3,
			"consistent":              true,
		})
	})

	return httptest.NewServer(mux)
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestExchange_success(t *testing.T) {
	srv := stubVotingServer(t)
	defer srv.Close()

	c, err := client.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	cred, err := c.Exchange(context.Background(), goodAuthorization)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if cred.Value != "cred-a1b2c3d4" {
		t.Errorf("unexpected credential: %s", cred.Value)
	}
	if cred.ElectionID != 7 {
		t.Errorf("unexpected election id: %d", cred.ElectionID)
	}
}

func TestExchange_rejected(t *testing.T) {
	srv := stubVotingServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)
	_, err := c.Exchange(context.Background(), spentAuthorization)
	if !errors.Is(err, client.ErrExchangeRejected) {
		t.Errorf("expected ErrExchangeRejected, got %v", err)
	}
}

func TestExchange_malformedID(t *testing.T) {
	srv := stubVotingServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)
	_, err := c.Exchange(context.Background(), "not-a-uuid")
	if err == nil {
		t.Error("expected error for malformed authorization id")
	}
}

func TestCast_success(t *testing.T) {
	srv := stubVotingServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	result, err := c.Cast(context.Background(), "cred-a1b2c3d4", "alice")
	if err != nil {
		t.Fatalf("Cast: %v", err)
	}
	if result.Receipt != goodHandle {
		t.Errorf("unexpected receipt: %s", result.Receipt)
	}
	if result.Position != 3 {
		t.Errorf("unexpected position: %d", result.Position)
	}
}

func TestCast_rejected(t *testing.T) {
	srv := stubVotingServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)
	_, err := c.Cast(context.Background(), "spent-credential", "alice")
	if !errors.Is(err, client.ErrBallotRejected) {
		t.Errorf("expected ErrBallotRejected, got %v", err)
	}
}

func TestReceipt_found(t *testing.T) {
	srv := stubVotingServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	st, err := c.Receipt(context.Background(), goodHandle)
	if err != nil {
		t.Fatalf("Receipt: %v", err)
	}
	if !st.Exists {
		t.Error("expected receipt to exist")
	}
	if st.ElectionID != 7 || st.Position != 3 {
		t.Errorf("unexpected receipt status: %+v", st)
	}
}

func TestReceipt_unknownHandle(t *testing.T) {
	srv := stubVotingServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	unknown := "uvr1_" + strings.Repeat("e", 64)
	st, err := c.Receipt(context.Background(), unknown)
	if err != nil {
		t.Fatalf("Receipt: %v", err)
	}
	if st.Exists {
		t.Error("expected Exists false for unknown handle")
	}
}

func TestReceipt_malformedHandle(t *testing.T) {
	srv := stubVotingServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)
	_, err := c.Receipt(context.Background(), "uvr1_tooshort")
	if err == nil {
		t.Error("expected error for malformed handle")
	}
}

func TestLedgerTrail_success(t *testing.T) {
	srv := stubVotingServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	trail, err := c.LedgerTrail(context.Background(), 7)
	if err != nil {
		t.Fatalf("LedgerTrail: %v", err)
	}
	if trail.Length != 2 || len(trail.Entries) != 2 {
		t.Fatalf("unexpected trail: %+v", trail)
	}
	if !trail.ChainValid {
		t.Error("expected chain_valid true")
	}
	if trail.Entries[1].PrevHash != trail.Entries[0].Hash {
		t.Error("entries are not linked")
	}
}

func TestLedgerTrail_cache(t *testing.T) {
	callCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		json.NewEncoder(w).Encode(map[string]any{
			"election_id": 7,
			"length":      0,
			"entries":     []map[string]any{},
			"chain_valid": true,
		})
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL, client.WithCacheTTL(5*time.Minute))

	c.LedgerTrail(context.Background(), 7)
	c.LedgerTrail(context.Background(), 7)

	if callCount != 1 {
		t.Errorf("expected 1 HTTP call (cached), got %d", callCount)
	}
}

func TestVerifyChain_valid(t *testing.T) {
	srv := stubVotingServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	v, err := c.VerifyChain(context.Background(), 7)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !v.Valid {
		t.Errorf("expected valid chain, got %+v", v)
	}
}

func TestVerifyChain_tampered(t *testing.T) {
	srv := stubVotingServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	v, err := c.VerifyChain(context.Background(), 8)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if v.Valid {
		t.Error("expected tampering verdict")
	}
	if v.Position != 2 || v.Reason == "" {
		t.Errorf("unexpected verdict: %+v", v)
	}
}

func TestAdminLogin_storesToken(t *testing.T) {
	srv := stubVotingServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)

	token, err := c.AdminLogin(context.Background(), "ops@example.org", "password123")
	if err != nil {
		t.Fatalf("AdminLogin: %v", err)
	}
	if token != adminToken {
		t.Errorf("unexpected token: %s", token)
	}

	// The stored token must authenticate subsequent admin calls.
	tally, err := c.Results(context.Background(), 7)
	if err != nil {
		t.Fatalf("Results after login: %v", err)
	}
	if tally.TotalBallots != 3 {
		t.Errorf("unexpected tally: %+v", tally)
	}
	if tally.Results["alice"] != 2 {
		t.Errorf("unexpected results: %v", tally.Results)
	}
}

func TestAdminLogin_badPassword(t *testing.T) {
	srv := stubVotingServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL)
	_, err := c.AdminLogin(context.Background(), "ops@example.org", "wrong")
	if err == nil {
		t.Error("expected error for bad password")
	}
}

func TestResults_401_withoutToken(t *testing.T) {
	srv := stubVotingServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL) // no session token
	_, err := c.Results(context.Background(), 7)
	if err == nil {
		t.Error("expected error for unauthenticated results call")
	}
}

func TestReconcile_success(t *testing.T) {
	srv := stubVotingServer(t)
	defer srv.Close()

	c, _ := client.New(srv.URL, client.WithToken(adminToken))

	report, err := c.Reconcile(context.Background(), 7)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !report.Consistent {
		t.Errorf("expected consistent report, got %+v", report)
	}
	if report.LedgerEntries != 3 {
		t.Errorf("unexpected ledger entries: %d", report.LedgerEntries)
	}
}
