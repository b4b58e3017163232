// Package server exposes the payment pipeline over HTTP: payment execution,
// wallet provisioning and balances, and the payment ledger.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/moltworks/agentpay"
	"github.com/moltworks/agentpay/ledger"
	"github.com/moltworks/agentpay/wallet"
)

// PaymentExecutor runs the payment pipeline. *agentpay.Executor satisfies it.
type PaymentExecutor interface {
	Execute(ctx context.Context, p agentpay.ExecuteParams) (*agentpay.ExecuteResult, error)
}

// WalletService provisions wallets and reads balances. *wallet.Service
// satisfies it.
type WalletService interface {
	Ensure(ctx context.Context, agentID, chainKey string) (agentpay.Wallet, error)
	EnsureAll(ctx context.Context, agentID string) (map[string]agentpay.Wallet, error)
	Balances(ctx context.Context, agentID string) ([]wallet.Balance, error)
	Wallets(ctx context.Context, agentID string) (map[string]agentpay.Wallet, error)
	NativeTransfer(ctx context.Context, agentID, chainKey, to, valueWei string) (string, error)
}

// Server wires the HTTP routes.
type Server struct {
	executor PaymentExecutor
	wallets  WalletService
	store    ledger.Store
	log      *zap.Logger
}

// New creates a server.
func New(executor PaymentExecutor, wallets WalletService, store ledger.Store, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		executor: executor,
		wallets:  wallets,
		store:    store,
		log:      log,
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.POST("/payments/execute", s.executePayment)
	v1.GET("/payments", s.listPayments)
	v1.POST("/wallets", s.createWallets)
	v1.GET("/wallets", s.listWallets)
	v1.GET("/wallets/balances", s.listBalances)
	v1.POST("/wallets/transfer", s.nativeTransfer)
	return r
}

type executeRequest struct {
	AgentID       string          `json:"agentId" binding:"required"`
	Chain         string          `json:"chain" binding:"required"`
	URL           string          `json:"url" binding:"required,url"`
	Method        string          `json:"method"`
	Body          json.RawMessage `json:"body"`
	MaxAmount     string          `json:"maxAmount"`
	PaymentHeader string          `json:"paymentHeader"`
}

func (s *Server) executePayment(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	w, err := s.wallets.Ensure(c.Request.Context(), req.AgentID, req.Chain)
	if err != nil {
		s.log.Error("wallet lookup failed",
			zap.String("agent_id", req.AgentID),
			zap.String("chain", req.Chain),
			zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.executor.Execute(c.Request.Context(), agentpay.ExecuteParams{
		AgentID:       req.AgentID,
		ChainKey:      req.Chain,
		Wallet:        w,
		TargetURL:     req.URL,
		Method:        req.Method,
		Body:          req.Body,
		MaxAmount:     req.MaxAmount,
		PaymentHeader: req.PaymentHeader,
	})
	if err != nil {
		s.renderPaymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) renderPaymentError(c *gin.Context, err error) {
	var paymentErr *agentpay.PaymentError
	if !errors.As(err, &paymentErr) {
		s.log.Error("payment execution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusBadGateway
	switch paymentErr.Code {
	case agentpay.ErrCodeNoMatchingPaymentOption,
		agentpay.ErrCodeAmountExceedsLimit,
		agentpay.ErrCodeUnsupportedNetwork:
		status = http.StatusBadRequest
	case agentpay.ErrCodeInsufficientFunds:
		status = http.StatusPaymentRequired
	case agentpay.ErrCodeTimeout:
		status = http.StatusGatewayTimeout
	}

	s.log.Warn("payment not executed",
		zap.String("code", paymentErr.Code),
		zap.String("message", paymentErr.Message))
	c.JSON(status, gin.H{
		"error":   paymentErr.Message,
		"code":    paymentErr.Code,
		"details": paymentErr.Details,
	})
}

func (s *Server) listPayments(c *gin.Context) {
	agentID := c.Query("agentId")
	if agentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agentId query parameter is required"})
		return
	}
	records, err := s.store.List(c.Request.Context(), agentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []ledger.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"payments": records})
}

type createWalletsRequest struct {
	AgentID string `json:"agentId" binding:"required"`
	Chain   string `json:"chain"`
}

func (s *Server) createWallets(c *gin.Context) {
	var req createWalletsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Chain != "" {
		w, err := s.wallets.Ensure(c.Request.Context(), req.AgentID, req.Chain)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"wallets": map[string]agentpay.Wallet{req.Chain: w}})
		return
	}

	wallets, err := s.wallets.EnsureAll(c.Request.Context(), req.AgentID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallets": wallets})
}

func (s *Server) listWallets(c *gin.Context) {
	agentID := c.Query("agentId")
	if agentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agentId query parameter is required"})
		return
	}
	wallets, err := s.wallets.Wallets(c.Request.Context(), agentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallets": wallets})
}

func (s *Server) listBalances(c *gin.Context) {
	agentID := c.Query("agentId")
	if agentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agentId query parameter is required"})
		return
	}
	balances, err := s.wallets.Balances(c.Request.Context(), agentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": balances})
}

type nativeTransferRequest struct {
	AgentID string `json:"agentId" binding:"required"`
	Chain   string `json:"chain" binding:"required"`
	To      string `json:"to" binding:"required"`
	// Value is the native amount in wei, as a decimal string.
	Value string `json:"value" binding:"required"`
}

func (s *Server) nativeTransfer(c *gin.Context) {
	var req nativeTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := s.wallets.NativeTransfer(c.Request.Context(), req.AgentID, req.Chain, req.To, req.Value)
	if err != nil {
		s.log.Warn("native transfer failed",
			zap.String("agent_id", req.AgentID),
			zap.String("chain", req.Chain),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"txHash": hash})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
