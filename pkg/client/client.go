// Package client provides the uVote Go SDK for exchanging voting
// authorizations, casting ballots, checking receipts, and verifying
// election ledgers over the platform's HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uvote-platform/uvote/pkg/receipt"
)

// ErrExchangeRejected is returned by Exchange when the server refuses the
// authorization with HTTP 422. The response never says whether the
// authorization was unknown, already consumed, or the election inactive,
// so neither does this error.
var ErrExchangeRejected = errors.New("exchange rejected")

// ErrBallotRejected is the casting counterpart of ErrExchangeRejected: the
// credential was unknown, already used, or the election is not accepting
// ballots. The server does not disclose which, and the credential value is
// never echoed back.
var ErrBallotRejected = errors.New("ballot rejected")

// Credential is an anonymous ballot credential returned by Exchange. Value
// is shown to the caller exactly once; the server never returns it again.
type Credential struct {
	Value      string `json:"credential"`
	ElectionID int64  `json:"election_id"`
}

// CastResult holds the receipt returned for an accepted ballot.
type CastResult struct {
	Receipt    string `json:"receipt"`
	ElectionID int64  `json:"election_id"`
	Position   int64  `json:"position"`
}

// ReceiptStatus reports whether a receipt's ballot is present in the ledger.
type ReceiptStatus struct {
	Exists     bool      `json:"exists"`
	ElectionID int64     `json:"election_id"`
	Position   int64     `json:"position"`
	CastAt     time.Time `json:"cast_at"`
}

// TrailEntry is one link of an election's public ballot chain. It carries
// hashes and positions only; ballot contents are not served.
type TrailEntry struct {
	Position int64     `json:"position"`
	Hash     string    `json:"hash"`
	PrevHash string    `json:"prev_hash"`
	CastAt   time.Time `json:"cast_at"`
}

// Trail is the full public chain for one election.
type Trail struct {
	ElectionID int64        `json:"election_id"`
	Length     int64        `json:"length"`
	Entries    []TrailEntry `json:"entries"`
	ChainValid bool         `json:"chain_valid"`
}

// VerifyResult is the server-side chain verification verdict. Position and
// Reason are only set when Valid is false.
type VerifyResult struct {
	Valid    bool   `json:"valid"`
	Position int64  `json:"position,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Tally holds the published results of a closed election.
type Tally struct {
	ElectionID   int64            `json:"election_id"`
	Title        string           `json:"title"`
	TotalBallots int64            `json:"total_ballots"`
	Results      map[string]int64 `json:"results"`
}

// ReconcileReport cross-checks an election's credential counters against its
// ballot chain, as computed by the server.
type ReconcileReport struct {
	ElectionID             int64 `json:"election_id"`
	AuthorizationsConsumed int64 `json:"authorizations_consumed"`
	CredentialsIssued      int64 `json:"credentials_issued"`
	CredentialsConsumed    int64 `json:"credentials_consumed"`
	LedgerEntries          int64 `json:"ledger_entries"`
	Consistent             bool  `json:"consistent"`
}

// Organiser is the account profile returned by AdminLogin.
type Organiser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Client is the uVote SDK entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *trailCache

	// token state, guarded by mu
	mu    sync.Mutex
	token string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithToken attaches a pre-obtained organiser session token to every
// request. AdminLogin replaces it.
func WithToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithCacheTTL enables in-memory caching of LedgerTrail responses with the
// given TTL. Useful for observers that poll the chain; the trail only ever
// grows, so a stale read is merely short.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.cache = newTrailCache(ttl)
		return nil
	}
}

// New creates a uVote SDK Client connected to baseURL.
//
//	c, err := client.New("https://vote.example.org",
//	    client.WithCacheTTL(30*time.Second),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// ─── Voter operations ────────────────────────────────────────────────────────

// Exchange trades a voting authorization for an anonymous ballot credential.
// Returns ErrExchangeRejected when the server refuses without detail.
func (c *Client) Exchange(ctx context.Context, authorizationID string) (*Credential, error) {
	if _, err := uuid.Parse(authorizationID); err != nil {
		return nil, fmt.Errorf("parse authorization id: %w", err)
	}

	payload, _ := json.Marshal(map[string]string{"authorization_id": authorizationID})
	url := c.baseURL + "/api/v1/exchange"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	status, body, err := c.doStatusBody(req)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusUnprocessableEntity:
		return nil, ErrExchangeRejected
	default:
		return nil, fmt.Errorf("server error %d: %s", status, string(body))
	}

	var cred Credential
	if err := json.Unmarshal(body, &cred); err != nil {
		return nil, fmt.Errorf("decode credential response: %w", err)
	}
	return &cred, nil
}

// Cast submits a ballot selection under a credential and returns the
// receipt. Returns ErrBallotRejected when the server refuses without detail.
func (c *Client) Cast(ctx context.Context, credential, selection string) (*CastResult, error) {
	payload, _ := json.Marshal(map[string]string{
		"credential": credential,
		"selection":  selection,
	})
	url := c.baseURL + "/api/v1/ballots"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	status, body, err := c.doStatusBody(req)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusCreated:
	case http.StatusUnprocessableEntity:
		return nil, ErrBallotRejected
	default:
		return nil, fmt.Errorf("server error %d: %s", status, string(body))
	}

	var result CastResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode cast response: %w", err)
	}
	return &result, nil
}

// Receipt checks whether a receipt handle's ballot is present in the ledger.
// An unknown handle is not an error: it returns Exists false.
func (c *Client) Receipt(ctx context.Context, handle string) (*ReceiptStatus, error) {
	if _, err := receipt.Parse(handle); err != nil {
		return nil, fmt.Errorf("parse receipt handle: %w", err)
	}

	url := c.baseURL + "/api/v1/receipts/" + handle
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	status, body, err := c.doStatusBody(req)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return &ReceiptStatus{Exists: false}, nil
	default:
		return nil, fmt.Errorf("server error %d: %s", status, string(body))
	}

	var st ReceiptStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("decode receipt response: %w", err)
	}
	return &st, nil
}

// ─── Public ledger operations ────────────────────────────────────────────────

// LedgerTrail fetches the public hash chain for an election.
func (c *Client) LedgerTrail(ctx context.Context, electionID int64) (*Trail, error) {
	if c.cache != nil {
		if t, ok := c.cache.get(electionID); ok {
			return t, nil
		}
	}

	url := fmt.Sprintf("%s/api/v1/elections/%d/ledger", c.baseURL, electionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var t Trail
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("decode trail response: %w", err)
	}

	if c.cache != nil {
		c.cache.set(electionID, &t)
	}
	return &t, nil
}

// VerifyChain asks the server to walk an election's ballot chain and report
// the first broken link, if any. A tampering verdict is a normal return, not
// an error.
func (c *Client) VerifyChain(ctx context.Context, electionID int64) (*VerifyResult, error) {
	url := fmt.Sprintf("%s/api/v1/elections/%d/ledger/verify", c.baseURL, electionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var v VerifyResult
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}
	return &v, nil
}

// ─── Organiser operations ────────────────────────────────────────────────────

// AdminLogin authenticates an organiser and stores the returned session
// token on the client for subsequent Results and Reconcile calls.
func (c *Client) AdminLogin(ctx context.Context, email, password string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"email": email, "password": password})
	url := c.baseURL + "/api/v1/admin/login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	var resp struct {
		Token     string    `json:"token"`
		Organiser Organiser `json:"organiser"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	return resp.Token, nil
}

// Results fetches the tally of a closed election. Requires an organiser
// token from AdminLogin or WithToken.
func (c *Client) Results(ctx context.Context, electionID int64) (*Tally, error) {
	url := fmt.Sprintf("%s/api/v1/admin/elections/%d/results", c.baseURL, electionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var tally Tally
	if err := json.Unmarshal(body, &tally); err != nil {
		return nil, fmt.Errorf("decode results response: %w", err)
	}
	return &tally, nil
}

// Reconcile fetches the server's credential-versus-chain consistency report
// for an election. Requires an organiser token.
func (c *Client) Reconcile(ctx context.Context, electionID int64) (*ReconcileReport, error) {
	url := fmt.Sprintf("%s/api/v1/admin/elections/%d/reconcile", c.baseURL, electionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var report ReconcileReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("decode reconcile response: %w", err)
	}
	return &report, nil
}

// ─── HTTP plumbing ───────────────────────────────────────────────────────────

func (c *Client) bearer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// do executes an HTTP request, attaching the session token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if t := c.bearer(); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("not found: %s", req.URL.Path)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("unauthorized: %s", string(body))
	}
	if resp.StatusCode == http.StatusConflict {
		return nil, fmt.Errorf("conflict: %s", string(body))
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// doStatusBody is a lower-level HTTP call that returns (statusCode, body, error)
// without failing on 4xx responses. The caller interprets the status code.
func (c *Client) doStatusBody(req *http.Request) (int, []byte, error) {
	if t := c.bearer(); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// ─── Trail cache ─────────────────────────────────────────────────────────────

type cacheEntry struct {
	trail     *Trail
	expiresAt time.Time
}

type trailCache struct {
	mu      sync.RWMutex
	entries map[int64]*cacheEntry
	ttl     time.Duration
}

func newTrailCache(ttl time.Duration) *trailCache {
	return &trailCache{entries: make(map[int64]*cacheEntry), ttl: ttl}
}

func (tc *trailCache) get(electionID int64) (*Trail, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	e, ok := tc.entries[electionID]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.trail, true
}

func (tc *trailCache) set(electionID int64, t *Trail) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.entries[electionID] = &cacheEntry{trail: t, expiresAt: time.Now().Add(tc.ttl)}
}
