// Package api exposes the operator actions of a running guard over HTTP:
// batch and breakout submission, bulk close, stop adjustments, manual halt
// and read-only state.
package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/rustyeddy/tradeguard/batch"
	"github.com/rustyeddy/tradeguard/breakout"
	"github.com/rustyeddy/tradeguard/errdefs"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/metrics"
	"github.com/rustyeddy/tradeguard/risk"
)

// Settings are the operator defaults the actions fall back to. They are
// swapped as a whole when the configuration is reloaded.
type Settings struct {
	Legs                  []risk.Leg
	CandleLookback        int
	HighOffsetPoints      float64
	LowOffsetPoints       float64
	BreakevenOffsetPoints float64
	Timeframe             market.Timeframe
}

type Server struct {
	ctl      *batch.Controller
	guard    *risk.Guard
	watcher  *breakout.Watcher
	metrics  *metrics.Metrics
	log      *slog.Logger
	limiter  *rate.Limiter
	settings atomic.Pointer[Settings]
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithRateLimit caps mutating requests at r per second with the given burst.
func WithRateLimit(r float64, burst int) Option {
	return func(s *Server) { s.limiter = rate.NewLimiter(rate.Limit(r), burst) }
}

func New(ctl *batch.Controller, guard *risk.Guard, w *breakout.Watcher, st Settings, opts ...Option) *Server {
	s := &Server{
		ctl:     ctl,
		guard:   guard,
		watcher: w,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s.SetSettings(st)
	return s
}

func (s *Server) SetSettings(st Settings) {
	st.Legs = append([]risk.Leg(nil), st.Legs...)
	s.settings.Store(&st)
}

func (s *Server) current() Settings { return *s.settings.Load() }

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := r.Group("/api")
	{
		api.GET("/state", s.getState)
		api.GET("/events", s.getEvents)
		api.GET("/breakouts", s.listBreakouts)

		ops := api.Group("")
		ops.Use(s.rateLimit())
		{
			ops.POST("/batch", s.postBatch)
			ops.POST("/breakouts", s.postBreakout)
			ops.DELETE("/breakouts/:id", s.deleteBreakout)
			ops.POST("/close-all", s.postCloseAll)
			ops.POST("/cancel-pending", s.postCancelPending)
			ops.POST("/flatten", s.postFlatten)
			ops.POST("/halt", s.postHalt)
			ops.POST("/stops/breakeven", s.postBreakeven)
			ops.POST("/stops/candle", s.postStopsToCandle)
		}
	}
	return r
}

// requestLogger logs every request at debug and failures at warn.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		if status >= http.StatusBadRequest {
			level = slog.LevelWarn
		}
		s.log.Log(c.Request.Context(), level, "api request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"client", c.ClientIP(),
			"errors", c.Errors.ByType(gin.ErrorTypePrivate).String(),
		)
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// statusFor maps the error taxonomy onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errdefs.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, errdefs.ErrRiskHalted):
		return http.StatusConflict
	case errors.Is(err, errdefs.ErrInvalidSymbol), errors.Is(err, errdefs.ErrInvalidStop),
		errors.Is(err, errdefs.ErrVolumeOutOfRange), errors.Is(err, errdefs.ErrGatewayRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errdefs.ErrMarketDataUnavailable), errors.Is(err, errdefs.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
