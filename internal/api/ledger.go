package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/uvote-platform/uvote/internal/ledger"
)

// ledgerReader is the read-only slice of the ballot ledger the public
// integrity surface needs.
type ledgerReader interface {
	Walk(ctx context.Context, scope string, fn func(*ledger.Entry) error) error
	Verify(ctx context.Context, scope string) error
}

// LedgerHandler exposes the public, unauthenticated integrity endpoints of
// the ballot ledger. Entry payloads are never served here; the trail is
// hashes and positions only.
type LedgerHandler struct {
	ballots ledgerReader
	logger  *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(ballots ledgerReader, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ballots: ballots, logger: logger}
}

// Register mounts the public ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/elections/:id/ledger", h.Trail)
	rg.GET("/elections/:id/ledger/verify", h.Verify)
}

// trailEntry is one row of the public audit trail.
type trailEntry struct {
	Position int64     `json:"position"`
	Hash     string    `json:"hash"`
	PrevHash string    `json:"prev_hash"`
	CastAt   time.Time `json:"cast_at"`
}

// Trail handles GET /elections/:id/ledger: the election's full hash chain
// without ballot contents, plus the current verification verdict.
func (h *LedgerHandler) Trail(c *gin.Context) {
	id, ok := electionIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	scope := ledger.ElectionScope(id)

	entries := make([]trailEntry, 0, 64)
	err := h.ballots.Walk(ctx, scope, func(e *ledger.Entry) error {
		entries = append(entries, trailEntry{
			Position: e.Position,
			Hash:     e.Hash,
			PrevHash: e.PrevHash,
			CastAt:   e.CreatedAt,
		})
		return nil
	})
	if err != nil {
		h.logger.Error("walk ballot ledger", zap.String("scope", scope), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ledger"})
		return
	}

	chainValid := true
	if err := h.ballots.Verify(ctx, scope); err != nil {
		h.logger.Warn("ballot chain verification failed", zap.String("scope", scope), zap.Error(err))
		chainValid = false
	}
	RecordChainVerification(chainValid)

	c.JSON(http.StatusOK, gin.H{
		"election_id": id,
		"length":      len(entries),
		"entries":     entries,
		"chain_valid": chainValid,
	})
}

// Verify handles GET /elections/:id/ledger/verify: recomputes the election's
// chain and reports the first bad position, if any.
func (h *LedgerHandler) Verify(c *gin.Context) {
	id, ok := electionIDParam(c)
	if !ok {
		return
	}

	err := h.ballots.Verify(c.Request.Context(), ledger.ElectionScope(id))
	var ie *ledger.IntegrityError
	switch {
	case err == nil:
		RecordChainVerification(true)
		c.JSON(http.StatusOK, gin.H{"valid": true})
	case errors.As(err, &ie):
		RecordChainVerification(false)
		h.logger.Warn("ballot chain verification failed",
			zap.String("scope", ie.Scope),
			zap.Int64("position", ie.Position),
		)
		c.JSON(http.StatusOK, gin.H{
			"valid":    false,
			"position": ie.Position,
			"reason":   ie.Reason,
		})
	default:
		h.logger.Error("verify ballot ledger", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
	}
}

// electionIDParam parses the :id route parameter, writing a 400 response on
// failure.
func electionIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return 0, false
	}
	return id, true
}
