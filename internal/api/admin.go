package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/uvote-platform/uvote/internal/audit"
	"github.com/uvote-platform/uvote/internal/election"
	"github.com/uvote-platform/uvote/internal/ledger"
	"github.com/uvote-platform/uvote/internal/organiser"
	"github.com/uvote-platform/uvote/internal/seal"
	"github.com/uvote-platform/uvote/internal/voting"
)

// ctxOrganiser is the context key under which the authenticated organiser is
// stored by requireOrganiser.
const ctxOrganiser = "uvote_organiser"

// organiserAuth is satisfied by *organiser.Service.
type organiserAuth interface {
	Login(ctx context.Context, email, password string) (string, *organiser.Organiser, error)
	Authenticate(ctx context.Context, token string) (*organiser.Organiser, error)
}

// electionStore is the lifecycle surface shared by election.Memory and
// *election.Repository.
type electionStore interface {
	Create(ctx context.Context, title string) (*election.Election, error)
	Get(ctx context.Context, id int64) (*election.Election, error)
	List(ctx context.Context) ([]*election.Election, error)
	Open(ctx context.Context, id int64) error
	Close(ctx context.Context, id int64) error
}

// reconciler is satisfied by *voting.CastingService.
type reconciler interface {
	Reconcile(ctx context.Context, electionID int64) (*voting.ReconcileReport, error)
}

// ballotWalker is the slice of the ballot ledger the tally needs.
type ballotWalker interface {
	Walk(ctx context.Context, scope string, fn func(*ledger.Entry) error) error
}

// scopeMonitor is satisfied by *integrity.Monitor.
type scopeMonitor interface {
	HaltedScopes() []string
	Clear(scope string) bool
}

// AdminHandler handles the organiser-authenticated management routes:
// election lifecycle, results, reconciliation, and quarantine clearing.
type AdminHandler struct {
	organisers organiserAuth
	elections  electionStore
	casting    reconciler
	ballots    ballotWalker
	monitor    scopeMonitor
	audit      *audit.Emitter
	logger     *zap.Logger
}

// NewAdminHandler creates an AdminHandler. The emitter should use an
// election-lifecycle source so lifecycle events land in their own audit scope.
func NewAdminHandler(
	organisers organiserAuth,
	elections electionStore,
	casting reconciler,
	ballots ballotWalker,
	monitor scopeMonitor,
	emitter *audit.Emitter,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		organisers: organisers,
		elections:  elections,
		casting:    casting,
		ballots:    ballots,
		monitor:    monitor,
		audit:      emitter,
		logger:     logger,
	}
}

// Register mounts the admin routes on the given router group. The login
// route is the only one reachable without a session token.
func (h *AdminHandler) Register(rg *gin.RouterGroup) {
	admin := rg.Group("/admin")
	admin.POST("/login", h.Login)

	authed := admin.Group("", h.requireOrganiser())
	{
		authed.POST("/elections", h.CreateElection)
		authed.GET("/elections", h.ListElections)
		authed.GET("/elections/:id", h.GetElection)
		authed.POST("/elections/:id/open", h.OpenElection)
		authed.POST("/elections/:id/close", h.CloseElection)
		authed.GET("/elections/:id/results", h.Results)
		authed.GET("/elections/:id/reconcile", h.Reconcile)
		authed.GET("/scopes", h.HaltedScopes)
		authed.POST("/scopes/:scope/clear", h.ClearScope)
	}
}

// requireOrganiser returns a middleware enforcing a valid organiser session
// Bearer token. On success the organiser is injected into the context.
func (h *AdminHandler) requireOrganiser() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organiser Bearer token required"})
			return
		}

		o, err := h.organisers.Authenticate(c.Request.Context(), strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
			return
		}

		c.Set(ctxOrganiser, o)
		c.Next()
	}
}

// organiserFromCtx retrieves the organiser injected by requireOrganiser.
func organiserFromCtx(c *gin.Context) *organiser.Organiser {
	v, _ := c.Get(ctxOrganiser)
	o, _ := v.(*organiser.Organiser)
	return o
}

// ─── Request types ───────────────────────────────────────────────────────────

type loginRequest struct {
	Email    string `json:"email"    binding:"required"`
	Password string `json:"password" binding:"required"`
}

type createElectionRequest struct {
	Title string `json:"title" binding:"required"`
}

// ─── Handlers ────────────────────────────────────────────────────────────────

// Login handles POST /admin/login: authenticates an organiser and returns a
// session token.
func (h *AdminHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, o, err := h.organisers.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, organiser.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		h.logger.Error("organiser login", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "organiser": o})
}

// CreateElection handles POST /admin/elections.
func (h *AdminHandler) CreateElection(c *gin.Context) {
	var req createElectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	e, err := h.elections.Create(c.Request.Context(), req.Title)
	if err != nil {
		h.logger.Error("create election", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create election"})
		return
	}

	h.emitLifecycle(c, audit.EventElectionCreated, map[string]string{
		"election_id": strconv.FormatInt(e.ID, 10),
		"title":       e.Title,
	})
	c.JSON(http.StatusCreated, e)
}

// ListElections handles GET /admin/elections.
func (h *AdminHandler) ListElections(c *gin.Context) {
	list, err := h.elections.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list elections", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list elections"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"elections": list})
}

// GetElection handles GET /admin/elections/:id.
func (h *AdminHandler) GetElection(c *gin.Context) {
	id, ok := electionIDParam(c)
	if !ok {
		return
	}
	e, err := h.elections.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "election not found"})
		return
	}
	c.JSON(http.StatusOK, e)
}

// OpenElection handles POST /admin/elections/:id/open.
func (h *AdminHandler) OpenElection(c *gin.Context) {
	h.transition(c, h.elections.Open, audit.EventElectionOpened)
}

// CloseElection handles POST /admin/elections/:id/close. Closing is terminal.
func (h *AdminHandler) CloseElection(c *gin.Context) {
	h.transition(c, h.elections.Close, audit.EventElectionClosed)
}

// transition runs one lifecycle move and emits its audit event.
func (h *AdminHandler) transition(c *gin.Context, move func(context.Context, int64) error, event string) {
	id, ok := electionIDParam(c)
	if !ok {
		return
	}

	if err := move(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, election.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "election not found"})
		case errors.Is(err, election.ErrBadTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "invalid status transition"})
		default:
			h.logger.Error("election transition", zap.String("event", event), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "transition failed"})
		}
		return
	}

	h.emitLifecycle(c, event, map[string]string{
		"election_id": strconv.FormatInt(id, 10),
	})

	e, err := h.elections.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"id": id})
		return
	}
	c.JSON(http.StatusOK, e)
}

// emitLifecycle appends a lifecycle audit event. The transition itself has
// already committed; an append failure here is logged, not rolled back.
func (h *AdminHandler) emitLifecycle(c *gin.Context, event string, fields map[string]string) {
	if _, err := h.audit.Emit(c.Request.Context(), event, fields); err != nil {
		h.logger.Error("emit lifecycle audit event", zap.String("event", event), zap.Error(err))
	}
}

// Results handles GET /admin/elections/:id/results: unseals every ballot in
// the election's chain and aggregates the selections. Only closed elections
// can be tallied.
func (h *AdminHandler) Results(c *gin.Context) {
	id, ok := electionIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	e, err := h.elections.Get(ctx, id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "election not found"})
		return
	}
	if e.Status != election.StatusClosed {
		c.JSON(http.StatusConflict, gin.H{"error": "results are available after the election closes"})
		return
	}

	tally := make(map[string]int64)
	var total int64
	err = h.ballots.Walk(ctx, ledger.ElectionScope(id), func(entry *ledger.Entry) error {
		plain, err := seal.Open(e.BallotKey, entry.Payload)
		if err != nil {
			return &ledger.IntegrityError{Scope: entry.Scope, Position: entry.Position, Reason: "ballot does not unseal"}
		}
		tally[string(plain)]++
		total++
		return nil
	})
	if err != nil {
		h.logger.Error("tally election", zap.Int64("election_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tally failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"election_id":   id,
		"title":         e.Title,
		"total_ballots": total,
		"results":       tally,
	})
}

// Reconcile handles GET /admin/elections/:id/reconcile: cross-checks the
// election's credential counters against its ballot chain.
func (h *AdminHandler) Reconcile(c *gin.Context) {
	id, ok := electionIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if _, err := h.elections.Get(ctx, id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "election not found"})
		return
	}

	report, err := h.casting.Reconcile(ctx, id)
	if err != nil {
		h.logger.Error("reconcile election", zap.Int64("election_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// HaltedScopes handles GET /admin/scopes: lists ballot scopes currently
// quarantined by the integrity monitor.
func (h *AdminHandler) HaltedScopes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"halted": h.monitor.HaltedScopes()})
}

// ClearScope handles POST /admin/scopes/:scope/clear: re-admits a
// quarantined scope after manual investigation. The next sweep will
// re-quarantine it if the chain is still bad.
func (h *AdminHandler) ClearScope(c *gin.Context) {
	scope := c.Param("scope")
	if !h.monitor.Clear(scope) {
		c.JSON(http.StatusNotFound, gin.H{"error": "scope is not halted"})
		return
	}

	fields := []zap.Field{zap.String("scope", scope)}
	if o := organiserFromCtx(c); o != nil {
		fields = append(fields, zap.String("organiser_id", o.ID.String()))
	}
	h.logger.Warn("halted scope cleared by organiser", fields...)

	c.JSON(http.StatusOK, gin.H{"scope": scope, "cleared": true})
}
