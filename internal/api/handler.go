package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"auction-service/internal/aucterrors"
	"auction-service/internal/models"
	"auction-service/internal/service"
	"auction-service/internal/util"
	"auction-service/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Handler contains HTTP handlers
type Handler struct {
	auctions *service.AuctionService
	bids     *service.BidService
	hub      *ws.Hub
}

// NewHandler creates a new HTTP handler
func NewHandler(auctions *service.AuctionService, bids *service.BidService, hub *ws.Hub) *Handler {
	return &Handler{
		auctions: auctions,
		bids:     bids,
		hub:      hub,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ws", h.serveWS)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auctions", h.createAuction)
		v1.GET("/auctions", h.listAuctions)
		v1.GET("/auctions/:id", h.getAuction)
		v1.POST("/auctions/:id/bids", h.placeBid)
		v1.POST("/auctions/:id/start", h.startAuction)
		v1.POST("/auctions/:id/reset", h.resetAuction)
		v1.POST("/auctions/:id/end", h.endAuction)
		v1.POST("/auctions/:id/decision", h.decide)
		v1.POST("/counteroffers/:id/reply", h.replyCounter)
		v1.GET("/notifications", h.listNotifications)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// userID resolves the opaque caller identity. Authentication itself is an
// external collaborator; this layer only needs the identifier it yielded.
func userID(c *gin.Context) string {
	return c.GetHeader("X-User-ID")
}

// writeError maps domain errors to HTTP status codes. Too-low and ended
// rejections stay distinguishable so the client can suggest a correction.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, aucterrors.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, aucterrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, aucterrors.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, aucterrors.ErrTooLow):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "reason": "too_low"})
	case errors.Is(err, aucterrors.ErrEnded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "reason": "ended"})
	case errors.Is(err, aucterrors.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, aucterrors.ErrUnconfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage backend unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// createAuction handles listing creation
func (h *Handler) createAuction(c *gin.Context) {
	seller := userID(c)
	if seller == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	var req service.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	auction, err := h.auctions.CreateAuction(c.Request.Context(), seller, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, auction)
}

// listAuctions returns all auctions that are not closed
func (h *Handler) listAuctions(c *gin.Context) {
	auctions, err := h.auctions.ListOpenAuctions(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auctions": auctions})
}

// getAuction returns one auction with its bids
func (h *Handler) getAuction(c *gin.Context) {
	auction, bids, err := h.auctions.GetAuction(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auction": auction, "bids": bids})
}

type placeBidRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

// placeBid handles bid placement
func (h *Handler) placeBid(c *gin.Context) {
	bidder := userID(c)
	if bidder == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	var req placeBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	bid, err := h.bids.PlaceBid(c.Request.Context(), c.Param("id"), bidder, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bid)
}

type windowRequest struct {
	Minutes int `json:"minutes" binding:"required,min=1"`
}

// startAuction opens bidding now
func (h *Handler) startAuction(c *gin.Context) {
	var req windowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	auction, err := h.auctions.StartAuction(c.Request.Context(), c.Param("id"), userID(c), req.Minutes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, auction)
}

// resetAuction restarts an auction with a fresh window
func (h *Handler) resetAuction(c *gin.Context) {
	var req windowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	auction, err := h.auctions.ResetAuction(c.Request.Context(), c.Param("id"), userID(c), req.Minutes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, auction)
}

// endAuction ends bidding at the seller's request
func (h *Handler) endAuction(c *gin.Context) {
	auction, err := h.auctions.EndAuction(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, auction)
}

type decisionRequest struct {
	Action string          `json:"action" binding:"required,oneof=accept reject counter"`
	Amount decimal.Decimal `json:"amount"`
}

// decide records the seller's verdict on an ended auction
func (h *Handler) decide(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	counter, err := h.auctions.Decide(c.Request.Context(), c.Param("id"), userID(c), req.Action, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	if counter != nil {
		c.JSON(http.StatusCreated, counter)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

type counterReplyRequest struct {
	Accept *bool `json:"accept" binding:"required"`
}

// replyCounter resolves a counter-offer
func (h *Handler) replyCounter(c *gin.Context) {
	var req counterReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	counter, err := h.auctions.ReplyCounter(c.Request.Context(), c.Param("id"), userID(c), *req.Accept)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, counter)
}

// listNotifications returns the caller's notifications
func (h *Handler) listNotifications(c *gin.Context) {
	user := userID(c)
	if user == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	ns, err := h.auctions.ListNotifications(c.Request.Context(), user)
	if err != nil {
		writeError(c, err)
		return
	}
	if ns == nil {
		ns = []models.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": ns})
}

// serveWS upgrades the connection and registers the viewer session
func (h *Handler) serveWS(c *gin.Context) {
	if err := ws.ServeWS(h.hub, userID(c), c.Writer, c.Request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "websocket upgrade failed"})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
