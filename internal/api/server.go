// Package api serves the order API over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"paper_go/internal/checkpoint"
	"paper_go/internal/domain"
	"paper_go/internal/engine"
	"paper_go/internal/execution"
	"paper_go/internal/infra"
	"paper_go/pkg/quant"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Service is the engine surface the API needs. *engine.Sequencer implements it.
type Service interface {
	Submit(ctx context.Context, req execution.OrderRequest, ts quant.TimeStamp) (execution.SubmitResult, error)
	Cancel(ctx context.Context, orderID string, ts quant.TimeStamp) (execution.CancelResult, error)
	Tick(ctx context.Context, symbol string, price decimal.Decimal, ts quant.TimeStamp) ([]domain.Execution, error)
	ClearKillSwitch(ctx context.Context) (bool, error)
	Checkpoint(ctx context.Context) (checkpoint.Checkpoint, error)

	GetOrder(orderID string) (domain.Order, error)
	ListOrders(statuses ...domain.Status) []domain.Order
	Account() *domain.Account
	KillSwitch() bool
	Now() quant.TimeStamp
	Identity() string
}

var _ Service = (*engine.Sequencer)(nil)

// Handler holds the HTTP handlers.
type Handler struct {
	svc     Service
	logger  *slog.Logger
	timeout time.Duration
	limiter *infra.RateLimiter
}

// Option customizes the router.
type Option func(*Handler)

// WithOrderRateLimit throttles order submission and cancellation.
func WithOrderRateLimit(l *infra.RateLimiter) Option {
	return func(h *Handler) { h.limiter = l }
}

// WithTimeout bounds how long a request waits for the sequencer. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(svc Service, logger *slog.Logger, opts ...Option) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{svc: svc, logger: logger, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(h)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/health", h.health)
	r.POST("/orders", h.throttle, h.submitOrder)
	r.GET("/orders", h.listOrders)
	r.GET("/orders/:id", h.getOrder)
	r.DELETE("/orders/:id", h.throttle, h.cancelOrder)
	r.POST("/ticks", h.tick)
	r.GET("/account", h.account)
	r.POST("/risk/kill-switch/clear", h.clearKillSwitch)
	r.POST("/checkpoints", h.checkpoint)
	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP_REQUEST",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(start)))
	}
}

func (h *Handler) throttle(c *gin.Context) {
	if h.limiter == nil || h.limiter.TryAcquire() {
		c.Next()
		return
	}
	if wait, ok := h.limiter.RetryAfter(); ok {
		c.Header("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
	}
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
}

func (h *Handler) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

// fail maps the error taxonomy to HTTP status codes.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrMalformedOrder), errors.Is(err, domain.ErrMalformedTick):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrCheckpointNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrClockRegression):
		status = http.StatusConflict
	case errors.Is(err, infra.ErrCircuitOpen), errors.Is(err, engine.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("API_ERROR", slog.String("path", c.FullPath()), slog.Any("error", err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"identity":    h.svc.Identity(),
		"engine_time": h.svc.Now(),
		"kill_switch": h.svc.KillSwitch(),
	})
}

type orderBody struct {
	Symbol     string `json:"symbol" binding:"required"`
	Side       string `json:"side" binding:"required,oneof=BUY SELL"`
	Quantity   string `json:"quantity" binding:"required"`
	Type       string `json:"type" binding:"required,oneof=MARKET LIMIT"`
	LimitPrice string `json:"limit_price"`
	Ts         int64  `json:"ts"` // Unix micros; 0 means engine now
}

func (b orderBody) request() (execution.OrderRequest, error) {
	qty, err := quant.ParseDecimal(b.Quantity)
	if err != nil {
		return execution.OrderRequest{}, &domain.MalformedOrderError{Field: "quantity", Reason: err.Error()}
	}
	req := execution.OrderRequest{
		Symbol:   b.Symbol,
		Side:     domain.Side(b.Side),
		Quantity: qty,
		Type:     domain.Market(),
	}
	if b.Type == string(domain.KindLimit) {
		price, err := quant.ParseDecimal(b.LimitPrice)
		if err != nil {
			return execution.OrderRequest{}, &domain.MalformedOrderError{Field: "limit_price", Reason: err.Error()}
		}
		req.Type = domain.Limit(price)
	} else if b.LimitPrice != "" {
		return execution.OrderRequest{}, &domain.MalformedOrderError{Field: "limit_price", Reason: "market orders take no price"}
	}
	return req, nil
}

func (h *Handler) submitOrder(c *gin.Context) {
	var body orderBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid order payload: "+err.Error())
		return
	}
	req, err := body.request()
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	res, err := h.svc.Submit(ctx, req, quant.TimeStamp(body.Ts))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !res.Accepted {
		// Policy rejections are answers, not errors.
		c.JSON(http.StatusOK, res)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	var ts int64
	if raw := c.Query("ts"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, "invalid ts: "+err.Error())
			return
		}
		ts = parsed
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	res, err := h.svc.Cancel(ctx, c.Param("id"), quant.TimeStamp(ts))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"order_id": c.Param("id"), "result": res})
}

func (h *Handler) getOrder(c *gin.Context) {
	o, err := h.svc.GetOrder(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) listOrders(c *gin.Context) {
	var statuses []domain.Status
	for _, raw := range c.QueryArray("status") {
		for _, s := range strings.Split(raw, ",") {
			st := domain.Status(strings.ToUpper(strings.TrimSpace(s)))
			if !st.Valid() {
				badRequest(c, "unknown status "+s)
				return
			}
			statuses = append(statuses, st)
		}
	}
	orders := h.svc.ListOrders(statuses...)
	if orders == nil {
		orders = []domain.Order{}
	}
	c.JSON(http.StatusOK, orders)
}

type tickBody struct {
	Symbol string `json:"symbol" binding:"required"`
	Price  string `json:"price" binding:"required"`
	Ts     int64  `json:"ts" binding:"required"`
}

func (h *Handler) tick(c *gin.Context) {
	var body tickBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid tick payload: "+err.Error())
		return
	}
	price, err := quant.ParseDecimal(body.Price)
	if err != nil {
		badRequest(c, "invalid price: "+err.Error())
		return
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	execs, err := h.svc.Tick(ctx, body.Symbol, price, quant.TimeStamp(body.Ts))
	if err != nil {
		h.fail(c, err)
		return
	}
	if execs == nil {
		execs = []domain.Execution{}
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs})
}

type accountView struct {
	*domain.Account
	Value         decimal.Decimal `json:"value"`
	GrossExposure decimal.Decimal `json:"gross_exposure"`
	NetExposure   decimal.Decimal `json:"net_exposure"`
	KillSwitch    bool            `json:"kill_switch"`
	EngineTime    quant.TimeStamp `json:"engine_time"`
}

func (h *Handler) account(c *gin.Context) {
	acct := h.svc.Account()
	gross, net := acct.Exposures()
	c.JSON(http.StatusOK, accountView{
		Account:       acct,
		Value:         acct.Value(),
		GrossExposure: gross,
		NetExposure:   net,
		KillSwitch:    h.svc.KillSwitch(),
		EngineTime:    h.svc.Now(),
	})
}

func (h *Handler) clearKillSwitch(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	cleared, err := h.svc.ClearKillSwitch(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

func (h *Handler) checkpoint(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	cp, err := h.svc.Checkpoint(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"identity":    cp.Identity,
		"key":         cp.Key(),
		"created_at":  cp.CreatedAt,
		"engine_time": cp.EngineTime,
		"journal_seq": cp.JournalSeq,
	})
}
