// Package httpapi exposes the matching engine over HTTP using gin,
// replacing the teacher's net/http.ServeMux routing with the richer
// routing/validation/middleware stack the rest of the example corpus
// reaches for.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ordercore/internal/engine"
	"ordercore/internal/metrics"
	"ordercore/internal/models"
	"ordercore/internal/store"
)

// requestIDHeader is the header clients may set to propagate their own
// correlation id; one is generated when absent.
const requestIDHeader = "X-Request-ID"

// Server wires the matching engine, store, and metrics into a gin
// router. It holds no mutable state of its own.
type Server struct {
	Store   *store.MySQLStore
	Engine  *engine.MatchingEngine
	Metrics *metrics.Collector
	Logger  *zap.Logger

	DefaultTradesLimit int
	OrderBookDepth     int
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestIDMiddleware())
	r.Use(s.loggingMiddleware())

	r.POST("/orders", s.createOrder)
	r.GET("/orders/:id", s.getOrder)
	r.DELETE("/orders/:id", s.cancelOrder)
	r.GET("/trades", s.listTrades)
	r.GET("/orderbook", s.getOrderBook)
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// requestIDMiddleware assigns a correlation id to every request (or
// keeps a client-supplied one), echoing it back on the response and
// making it available to logging via the gin context.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Logger.Info("request",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// createOrder handles POST /orders: inserts the order, runs matching,
// and returns both the final order state and any trades produced.
func (s *Server) createOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	if req.ClientOrderID != nil {
		existing, err := s.Store.GetOrderByClientOrderID(ctx, *req.ClientOrderID)
		if err == nil {
			c.JSON(http.StatusOK, models.CreateOrderResponse{Order: *existing, Message: "duplicate client_order_id, returning existing order"})
			return
		}
		if !errors.Is(err, engine.ErrOrderNotFound) {
			s.Logger.Error("idempotency lookup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
	}

	now := time.Now()
	order := &models.Order{
		UserID:        req.UserID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          models.OrderTypeLimit,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Status:        models.OrderStatusNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	tx, err := s.Store.BeginTx(ctx)
	if err != nil {
		s.Logger.Error("begin tx failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if _, err := tx.InsertOrder(ctx, order); err != nil {
		tx.Rollback()
		s.Metrics.ObserveOrderRejected(req.Symbol, "insert_failed")
		s.Logger.Error("insert order failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	start := time.Now()
	trades, err := s.Engine.SubmitAndMatch(ctx, tx, order)
	s.Metrics.ObserveMatchLatency(req.Symbol, time.Since(start))
	if err != nil {
		tx.Rollback()
		if errors.Is(err, engine.ErrInvalidOrder) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order"})
			return
		}
		s.Logger.Error("match failed", zap.String("request_id", c.GetString("request_id")), zap.Int64("order_id", order.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if err := tx.Commit(); err != nil {
		s.Logger.Error("commit failed", zap.Int64("order_id", order.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	s.Metrics.ObserveOrderSubmitted(req.Symbol, string(req.Side))
	s.Metrics.ObserveTrades(req.Symbol, len(trades))

	refreshed, err := s.Store.GetOrder(ctx, order.ID)
	if err == nil {
		order = refreshed
	}

	c.JSON(http.StatusCreated, models.CreateOrderResponse{
		Order:   *order,
		Trades:  trades,
		Message: "order processed",
	})
}

func (s *Server) getOrder(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	order, err := s.Store.GetOrder(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, engine.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		s.Logger.Error("get order failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, order)
}

// cancelOrder handles DELETE /orders/:id. It marks the order CANCELLED
// in the store first, then tombstones it in memory, matching spec §5's
// ordering (durable state is authoritative; the book entry is a cache
// of it).
func (s *Server) cancelOrder(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	ctx := c.Request.Context()
	order, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, engine.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if order.Status.IsTerminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "order cannot be cancelled, current status: " + string(order.Status)})
		return
	}

	order.Status = models.OrderStatusCancelled
	order.UpdatedAt = time.Now()
	if err := s.Store.UpdateOrder(ctx, order); err != nil {
		s.Logger.Error("cancel update failed", zap.Int64("order_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	s.Engine.Cancel(order.Symbol, id)
	s.Metrics.ObserveOrderCancelled(order.Symbol)

	c.JSON(http.StatusOK, gin.H{"order_id": order.ID, "status": string(order.Status)})
}

func (s *Server) listTrades(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	limit := s.DefaultTradesLimit
	if ls := c.Query("limit"); ls != "" {
		n, err := strconv.Atoi(ls)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	trades, err := s.Store.ListTradesBySymbol(c.Request.Context(), symbol, limit)
	if err != nil {
		s.Logger.Error("list trades failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, models.TradeResponse{Trades: trades})
}

func (s *Server) getOrderBook(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	depth := s.OrderBookDepth
	if ds := c.Query("depth"); ds != "" {
		n, err := strconv.Atoi(ds)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid depth (must be 1-1000)"})
			return
		}
		depth = n
	}

	book := s.Engine.EnsureBook(symbol)
	bids, asks := book.GetTopLevels(depth)
	c.JSON(http.StatusOK, models.OrderBookResponse{Symbol: symbol, Bids: bids, Asks: asks})
}

func (s *Server) health(c *gin.Context) {
	if err := s.Store.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Shutdown gives callers a typed hook for graceful shutdown beyond what
// http.Server.Shutdown already covers (e.g. closing the store), kept
// symmetric with the teacher's explicit shutdown sequencing.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Store.Close()
}
