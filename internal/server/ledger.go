package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/holdonravn/Privora-core/internal/coord"
	"github.com/holdonravn/Privora-core/internal/ledger"
	"github.com/holdonravn/Privora-core/internal/queue"
)

// nonceHeader carries the producer's single-use request nonce. A repeated
// nonce within the TTL window is rejected before it reaches the queue.
const nonceHeader = "X-Privora-Nonce"

// LedgerHandler exposes the ledger's HTTP endpoints: record submission plus
// the published root and inclusion-proof artifacts.
type LedgerHandler struct {
	ledger   *ledger.Ledger
	queue    *queue.AppendQueue
	nonces   coord.NonceStore
	nonceTTL time.Duration
	logger   *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler. Nonces may be nil, in
// which case nonce admission is skipped.
func NewLedgerHandler(l *ledger.Ledger, q *queue.AppendQueue, nonces coord.NonceStore, nonceTTL time.Duration, logger *zap.Logger) *LedgerHandler {
	if nonceTTL <= 0 {
		nonceTTL = 5 * time.Minute
	}
	return &LedgerHandler{ledger: l, queue: q, nonces: nonces, nonceTTL: nonceTTL, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.POST("/records", h.SubmitRecord)
		l.GET("/root", h.Root)
		l.GET("/proof/:day/:index", h.Proof)
	}
}

// SubmitRecord handles POST /ledger/records — enqueues one record line for
// appending. The body is the raw record JSON; an optional X-Event-Id header
// makes retried submissions idempotent.
func (h *LedgerHandler) SubmitRecord(c *gin.Context) {
	ctx := c.Request.Context()

	if h.nonces != nil {
		if nonce := c.GetHeader(nonceHeader); nonce != "" {
			fresh, err := h.nonces.CheckAndSetNonce(ctx, nonce, h.nonceTTL)
			if err != nil {
				h.logger.Error("nonce check", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "nonce check failed"})
				return
			}
			if !fresh {
				c.JSON(http.StatusConflict, gin.H{"error": "nonce already used"})
				return
			}
		}
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a record line"})
		return
	}

	eventID, err := h.queue.Enqueue(ctx, "", string(body), c.GetHeader("X-Event-Id"))
	if err != nil {
		h.logger.Warn("enqueue rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"eventId": eventID})
}

// Root handles GET /ledger/root — the current partition's Merkle summary.
func (h *LedgerHandler) Root(c *gin.Context) {
	st := h.ledger.CurrentRoot()
	c.JSON(http.StatusOK, gin.H{
		"day":        st.Day,
		"leafCount":  st.LeafCount,
		"merkleRoot": st.MerkleRoot,
	})
}

// Proof handles GET /ledger/proof/:day/:index — an inclusion proof for one
// leaf of one day partition.
func (h *LedgerHandler) Proof(c *gin.Context) {
	day := c.Param("day")
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be a non-negative integer"})
		return
	}

	proof, err := h.ledger.Proof(day, idx)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such day or index"})
			return
		}
		h.logger.Error("proof", zap.String("day", day), zap.Int("index", idx), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build proof"})
		return
	}

	c.JSON(http.StatusOK, proof)
}
