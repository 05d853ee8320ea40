package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uvote-platform/uvote/internal/api"
	"github.com/uvote-platform/uvote/internal/audit"
	"github.com/uvote-platform/uvote/internal/election"
	"github.com/uvote-platform/uvote/internal/integrity"
	"github.com/uvote-platform/uvote/internal/ledger"
	"github.com/uvote-platform/uvote/internal/organiser"
	"github.com/uvote-platform/uvote/internal/voting"
)

var ctx = context.Background()

// ── Stubs ────────────────────────────────────────────────────────────────

// stubOrganiserAuth accepts one fixed login and one fixed session token.
type stubOrganiserAuth struct {
	token string
	org   *organiser.Organiser
}

func (s *stubOrganiserAuth) Login(_ context.Context, email, password string) (string, *organiser.Organiser, error) {
	if email == s.org.Email && password == "password123" {
		return s.token, s.org, nil
	}
	return "", nil, organiser.ErrInvalidCredentials
}

func (s *stubOrganiserAuth) Authenticate(_ context.Context, token string) (*organiser.Organiser, error) {
	if token == s.token {
		return s.org, nil
	}
	return nil, organiser.ErrInvalidCredentials
}

// ── Environment ──────────────────────────────────────────────────────────

// env wires the full memory stack behind a test router: both ledgers, the
// voting store, election lifecycle, integrity monitor, and all handlers.
type env struct {
	router     *gin.Engine
	ballots    *ledger.MemoryLedger
	audits     *ledger.MemoryLedger
	store      *voting.MemoryStore
	elections  *election.Memory
	exchange   *voting.ExchangeService
	casting    *voting.CastingService
	monitor    *integrity.Monitor
	electionID int64
	adminToken string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	ballots := ledger.NewMemory()
	audits := ledger.NewMemory()
	store := voting.NewMemoryStore(ballots, audits)
	elections := election.NewMemory()

	e, err := elections.Create(ctx, "city council 2026")
	if err != nil {
		t.Fatal(err)
	}
	if err := elections.Open(ctx, e.ID); err != nil {
		t.Fatal(err)
	}

	exchange := voting.NewExchangeService(store, elections,
		audit.NewEmitter(audits, "credential-exchange", logger), logger)
	casting := voting.NewCastingService(store, elections,
		audit.NewEmitter(audits, "ballot-casting", logger), logger)

	monitor := integrity.New(
		[]integrity.Target{{Name: "ballot", Ledger: ballots}},
		integrity.Config{}, logger)
	casting.SetHaltChecker(monitor)

	auth := &stubOrganiserAuth{
		token: "test-session-token",
		org:   &organiser.Organiser{ID: uuid.New(), Email: "admin@example.org", Name: "Admin"},
	}

	router := gin.New()
	v1 := router.Group("/api/v1")
	api.NewVotingHandler(exchange, casting, ballots, logger).Register(v1)
	api.NewLedgerHandler(ballots, logger).Register(v1)
	api.NewAdminHandler(auth, elections, casting, ballots, monitor,
		audit.NewEmitter(audits, "election-lifecycle", logger), logger).Register(v1)

	return &env{
		router:     router,
		ballots:    ballots,
		audits:     audits,
		store:      store,
		elections:  elections,
		exchange:   exchange,
		casting:    casting,
		monitor:    monitor,
		electionID: e.ID,
		adminToken: auth.token,
	}
}

// do performs one request against the router. A non-empty token is sent as a
// Bearer header.
func (e *env) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// enroll creates an issued authorization for a voter in the default election.
func (e *env) enroll(t *testing.T, voterID int64) uuid.UUID {
	t.Helper()
	a := &voting.Authorization{
		ID:         uuid.New(),
		ElectionID: e.electionID,
		VoterID:    voterID,
		Status:     voting.StatusIssued,
		IssuedAt:   time.Now().UTC(),
	}
	if err := e.store.CreateAuthorization(ctx, a); err != nil {
		t.Fatal(err)
	}
	return a.ID
}

// mintCredential enrolls a voter and runs the exchange, returning the
// credential value.
func (e *env) mintCredential(t *testing.T, voterID int64) string {
	t.Helper()
	cred, err := e.exchange.Exchange(ctx, e.enroll(t, voterID))
	if err != nil {
		t.Fatal(err)
	}
	return cred.Value
}

// tamperBallot corrupts the payload of one stored ballot entry in place.
func (e *env) tamperBallot(t *testing.T, position int64) {
	t.Helper()
	err := e.ballots.Walk(ctx, ledger.ElectionScope(e.electionID), func(entry *ledger.Entry) error {
		if entry.Position == position {
			entry.Payload = append([]byte("tampered:"), entry.Payload...)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

// decode unmarshals a JSON response body.
func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}
