package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uvote-platform/uvote/internal/ledger"
	"github.com/uvote-platform/uvote/internal/voting"
	"github.com/uvote-platform/uvote/pkg/receipt"
)

// exchangeSvc is the interface expected by VotingHandler, satisfied by
// *voting.ExchangeService.
type exchangeSvc interface {
	Exchange(ctx context.Context, authorizationID uuid.UUID) (*voting.Credential, error)
}

// castingSvc is satisfied by *voting.CastingService.
type castingSvc interface {
	Cast(ctx context.Context, credentialValue, selection string) (*voting.Receipt, error)
}

// receiptIndex resolves receipt handles back to ballot ledger entries.
type receiptIndex interface {
	FindByHash(ctx context.Context, hash string) (*ledger.Entry, error)
}

// VotingHandler handles the voter-facing routes: credential exchange, ballot
// casting, and receipt lookup.
type VotingHandler struct {
	exchange exchangeSvc
	casting  castingSvc
	ballots  receiptIndex
	logger   *zap.Logger
}

// NewVotingHandler creates a VotingHandler.
func NewVotingHandler(exchange exchangeSvc, casting castingSvc, ballots receiptIndex, logger *zap.Logger) *VotingHandler {
	return &VotingHandler{exchange: exchange, casting: casting, ballots: ballots, logger: logger}
}

// Register mounts the voter routes on the given router group.
func (h *VotingHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/exchange", h.Exchange)
	rg.POST("/ballots", h.Cast)
	rg.GET("/receipts/:handle", h.Receipt)
}

// ─── Request types ───────────────────────────────────────────────────────────

type exchangeRequest struct {
	AuthorizationID string `json:"authorization_id" binding:"required,uuid"`
}

type castRequest struct {
	Credential string `json:"credential" binding:"required"`
	Selection  string `json:"selection"  binding:"required"`
}

// ─── Handlers ────────────────────────────────────────────────────────────────

// voterRejection reports whether err is one of the refusals a voter can
// trigger by the state of their authorization, credential, or election.
// All of them get the same response so callers cannot probe state through
// response differences.
func voterRejection(err error) bool {
	return errors.Is(err, voting.ErrAuthorizationNotFound) ||
		errors.Is(err, voting.ErrAlreadyConsumed) ||
		errors.Is(err, voting.ErrElectionNotActive) ||
		errors.Is(err, voting.ErrCredentialUnknown) ||
		errors.Is(err, voting.ErrCredentialUsed) ||
		errors.Is(err, voting.ErrElectionClosed) ||
		errors.Is(err, voting.ErrScopeHalted)
}

// Exchange handles POST /exchange: trades a voting authorization for an
// anonymous ballot credential.
func (h *VotingHandler) Exchange(c *gin.Context) {
	var req exchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := uuid.Parse(req.AuthorizationID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "authorization_id must be a UUID"})
		return
	}

	cred, err := h.exchange.Exchange(c.Request.Context(), id)
	if err != nil {
		if voterRejection(err) {
			h.logger.Info("exchange rejected", zap.String("reason", err.Error()))
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "exchange rejected"})
			return
		}
		h.logger.Error("exchange", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "exchange failed"})
		return
	}

	RecordExchange()
	// The credential value is excluded from JSON everywhere else in the
	// system; this response is its single hand-off to the voter.
	c.JSON(http.StatusOK, gin.H{
		"credential":  cred.Value,
		"election_id": cred.ElectionID,
	})
}

// Cast handles POST /ballots: seals and records a ballot in exchange for a
// credential, returning the voter's receipt.
func (h *VotingHandler) Cast(c *gin.Context) {
	var req castRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rcpt, err := h.casting.Cast(c.Request.Context(), req.Credential, req.Selection)
	if err != nil {
		if voterRejection(err) {
			// Never the credential value, only the refusal cause.
			if errors.Is(err, voting.ErrScopeHalted) {
				h.logger.Warn("ballot rejected, scope halted")
			} else {
				h.logger.Info("ballot rejected", zap.String("reason", err.Error()))
			}
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "ballot rejected"})
			return
		}
		h.logger.Error("cast ballot", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ballot submission failed"})
		return
	}

	RecordBallotCast()
	c.JSON(http.StatusCreated, rcpt)
}

// Receipt handles GET /receipts/:handle: confirms whether a receipt's entry
// is present in the ballot ledger.
func (h *VotingHandler) Receipt(c *gin.Context) {
	hash, err := receipt.Parse(c.Param("handle"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid receipt handle"})
		return
	}

	entry, err := h.ballots.FindByHash(c.Request.Context(), hash)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"exists": false})
			return
		}
		h.logger.Error("receipt lookup", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "receipt lookup failed"})
		return
	}

	electionID, ok := ledger.ElectionID(entry.Scope)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"exists": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"exists":      true,
		"election_id": electionID,
		"position":    entry.Position,
		"cast_at":     entry.CreatedAt,
	})
}
