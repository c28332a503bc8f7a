// Package api exposes the backtest engine over HTTP
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"liquidity-sweep-backtest/services/arrowpipeline"
	"liquidity-sweep-backtest/services/clickhouse"
	"liquidity-sweep-backtest/services/engine"
	"liquidity-sweep-backtest/services/marketdata"
	"liquidity-sweep-backtest/services/report"
)

// BarLoader is satisfied by *clickhouse.Store
type BarLoader interface {
	LoadBars(ctx context.Context, q clickhouse.BarQuery, loc *time.Location) ([]engine.Bar, error)
}

type Options struct {
	Defaults engine.Config
	Location *time.Location
	// Loader may be nil; requests naming a symbol then fail with DATA_NOT_FOUND
	Loader           BarLoader
	IntradayInterval string
	DailyInterval    string
	Pipeline         *arrowpipeline.Pipeline
	Logger           *zap.Logger
}

type Server struct {
	opts     Options
	jobs     *JobStore
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Pipeline == nil {
		opts.Pipeline = arrowpipeline.NewPipeline(arrowpipeline.Config{}, opts.Logger)
	}
	if opts.IntradayInterval == "" {
		opts.IntradayInterval = "15m"
	}
	if opts.DailyInterval == "" {
		opts.DailyInterval = "1d"
	}
	return &Server{
		opts:   opts,
		jobs:   NewJobStore(),
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Router builds the gin engine with every route mounted
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	s.setupRoutes(r)
	return r
}

func (s *Server) setupRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.GET("/health", s.handleHealth)
		api.POST("/backtests", s.handleRun)
		api.GET("/backtests/:id", s.handleGet)
		api.GET("/backtests/:id/summary", s.handleSummary)
		api.GET("/backtests/:id/trades.csv", s.handleTradesCSV)
		api.GET("/backtests/:id/trades.arrow", s.handleTradesArrow)
		api.GET("/backtests/:id/stream", s.handleStream)
	}
}

// RunRequest carries bars inline as CSV text or names a stored symbol
type RunRequest struct {
	IntradayCSV string        `json:"intraday_csv"`
	DailyCSV    string        `json:"daily_csv"`
	Symbol      string        `json:"symbol"`
	From        time.Time     `json:"from"`
	To          time.Time     `json:"to"`
	Timezone    string        `json:"timezone"`
	Config      ConfigRequest `json:"config"`
	// Wait runs the backtest inside the request and returns the finished job
	Wait bool `json:"wait"`
}

type ConfigRequest struct {
	InitialBalance      *decimal.Decimal `json:"initial_balance"`
	RiskPerTrade        *decimal.Decimal `json:"risk_per_trade"`
	FeeRate             *decimal.Decimal `json:"fee_rate"`
	RewardRisk          *decimal.Decimal `json:"reward_risk"`
	LockDayOnDegenerate *bool            `json:"lock_day_on_degenerate"`
}

func (c ConfigRequest) apply(base engine.Config) engine.Config {
	if c.InitialBalance != nil {
		base.InitialBalance = *c.InitialBalance
	}
	if c.RiskPerTrade != nil {
		base.RiskPerTrade = *c.RiskPerTrade
	}
	if c.FeeRate != nil {
		base.FeeRate = *c.FeeRate
	}
	if c.RewardRisk != nil {
		base.RewardRisk = *c.RewardRisk
	}
	if c.LockDayOnDegenerate != nil {
		base.LockDayOnDegenerate = *c.LockDayOnDegenerate
	}
	return base
}

func (s *Server) abort(c *gin.Context, err error) {
	status, apiErr := classify(err)
	c.AbortWithStatusJSON(status, gin.H{"error": apiErr})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleRun(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, ErrInvalidParams.with(err))
		return
	}
	cfg := req.Config.apply(s.opts.Defaults)
	if err := cfg.Validate(); err != nil {
		s.abort(c, err)
		return
	}
	intraday, daily, err := s.loadBars(c.Request.Context(), req)
	if err != nil {
		s.abort(c, err)
		return
	}

	job := s.jobs.Create()
	log := s.logger.With(zap.String("job_id", job.ID))
	log.Info("backtest submitted",
		zap.Int("intraday_bars", len(intraday)),
		zap.Int("daily_bars", len(daily)),
		zap.String("config_hash", cfg.Hash()))

	run := func() {
		rep, err := engine.Run(intraday, daily, cfg, engine.WithLogger(log), engine.WithEventSink(job.appendEvent))
		if err != nil {
			_, apiErr := classify(err)
			log.Error("backtest failed", zap.Error(err))
			job.fail(apiErr)
			return
		}
		job.complete(rep)
	}

	if req.Wait {
		run()
		v := job.View()
		if v.Error != nil {
			c.JSON(statusOf(*v.Error), v)
			return
		}
		c.JSON(http.StatusOK, v)
		return
	}
	go run()
	c.JSON(http.StatusAccepted, job.View())
}

func (s *Server) loadBars(ctx context.Context, req RunRequest) ([]engine.Bar, []engine.Bar, error) {
	loc := s.opts.Location
	if req.Timezone != "" {
		l, err := marketdata.LoadLocation(req.Timezone)
		if err != nil {
			return nil, nil, ErrInvalidParams.with(err)
		}
		loc = l
	}

	var intraday, daily []engine.Bar
	var err error
	switch {
	case req.IntradayCSV != "":
		if intraday, err = marketdata.ReadCSV(strings.NewReader(req.IntradayCSV), loc); err != nil {
			return nil, nil, ErrInvalidParams.with(fmt.Errorf("intraday_csv: %w", err))
		}
		if req.DailyCSV != "" {
			if daily, err = marketdata.ReadCSV(strings.NewReader(req.DailyCSV), loc); err != nil {
				return nil, nil, ErrInvalidParams.with(fmt.Errorf("daily_csv: %w", err))
			}
		}
	case req.Symbol != "":
		if s.opts.Loader == nil {
			return nil, nil, ErrDataNotFound.with(fmt.Errorf("no bar store configured for symbol %s", req.Symbol))
		}
		q := clickhouse.BarQuery{Symbol: req.Symbol, Interval: s.opts.IntradayInterval, From: req.From, To: req.To}
		if intraday, err = s.opts.Loader.LoadBars(ctx, q, loc); err != nil {
			return nil, nil, ErrDataNotFound.with(err)
		}
		q.Interval = s.opts.DailyInterval
		if daily, err = s.opts.Loader.LoadBars(ctx, q, loc); err != nil {
			return nil, nil, ErrDataNotFound.with(err)
		}
		if len(intraday) == 0 {
			return nil, nil, ErrDataNotFound.with(fmt.Errorf("no %s bars for %s", s.opts.IntradayInterval, req.Symbol))
		}
	default:
		return nil, nil, ErrInvalidParams.with(fmt.Errorf("one of intraday_csv or symbol is required"))
	}

	intraday = marketdata.InLocation(intraday, loc)
	if len(daily) == 0 {
		daily = marketdata.ResampleDaily(intraday)
	} else {
		daily = marketdata.InLocation(daily, loc)
	}
	return intraday, daily, nil
}

func (s *Server) job(c *gin.Context) (*Job, bool) {
	j, ok := s.jobs.Get(c.Param("id"))
	if !ok {
		s.abort(c, ErrJobNotFound.with(fmt.Errorf("id %s", c.Param("id"))))
	}
	return j, ok
}

func (s *Server) finishedReport(c *gin.Context) (*engine.BacktestReport, bool) {
	j, ok := s.job(c)
	if !ok {
		return nil, false
	}
	rep, status := j.Report()
	if rep == nil {
		s.abort(c, ErrJobNotFinished.with(fmt.Errorf("job is %s", status)))
		return nil, false
	}
	return rep, true
}

func (s *Server) handleGet(c *gin.Context) {
	j, ok := s.job(c)
	if !ok {
		return
	}
	v := j.View()
	resp := gin.H{"job": v}
	if v.Report != nil {
		resp["summary"] = report.Summarize(v.Report)
		resp["trade_details"] = report.TradeDetails(v.Report.Trades)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSummary(c *gin.Context) {
	rep, ok := s.finishedReport(c)
	if !ok {
		return
	}
	var b strings.Builder
	if err := report.WriteSummary(&b, rep); err != nil {
		s.abort(c, err)
		return
	}
	c.String(http.StatusOK, b.String())
}

func (s *Server) handleTradesCSV(c *gin.Context) {
	rep, ok := s.finishedReport(c)
	if !ok {
		return
	}
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-trades.csv"`, c.Param("id")))
	c.Status(http.StatusOK)
	if err := report.WriteTradesCSV(c.Writer, rep); err != nil {
		s.logger.Error("write trades csv", zap.Error(err))
	}
}

func (s *Server) handleTradesArrow(c *gin.Context) {
	rep, ok := s.finishedReport(c)
	if !ok {
		return
	}
	c.Header("Content-Type", "application/vnd.apache.arrow.stream")
	c.Status(http.StatusOK)
	if err := s.opts.Pipeline.EncodeTrades(c.Writer, rep.Trades); err != nil {
		s.logger.Error("write trades arrow", zap.Error(err))
	}
}

// StreamMessage is one websocket frame: an engine event, or the final job state
type StreamMessage struct {
	Type  string        `json:"type"`
	Event *engine.Event `json:"event,omitempty"`
	Job   *JobView      `json:"job,omitempty"`
}

const writeWait = 10 * time.Second

// handleStream replays the job's events and follows new ones until the run ends
func (s *Server) handleStream(c *gin.Context) {
	j, ok := s.job(c)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	// a reader is required to notice the peer closing
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(m StreamMessage) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(m)
	}
	err = j.Follow(ctx, 0, func(e engine.Event) error {
		return send(StreamMessage{Type: "event", Event: &e})
	})
	if err != nil {
		s.logger.Debug("stream ended early", zap.String("job_id", j.ID), zap.Error(err))
		return
	}
	v := j.View()
	v.Report = nil
	if err := send(StreamMessage{Type: "done", Job: &v}); err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
