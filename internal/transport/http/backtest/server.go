// Package backtesthttp 提供回测相关的 HTTP API。
package backtesthttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"backsim/internal/backtest"
	"backsim/internal/histdata"
	"backsim/internal/replay"
	"backsim/internal/report"
)

// Server 暴露行情回填与回测任务接口。
type Server struct {
	addr    string
	runs    *backtest.Service
	fetcher *histdata.Service
	store   *histdata.Store
	cal     replay.Calendar
	router  *gin.Engine
}

// Config 描述 HTTP Server 的依赖。
type Config struct {
	Addr     string
	Runs     *backtest.Service
	Fetcher  *histdata.Service
	Store    *histdata.Store
	Calendar replay.Calendar
}

// NewServer 构建回测 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Runs == nil {
		return nil, errors.New("run service 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:    cfg.Addr,
		runs:    cfg.Runs,
		fetcher: cfg.Fetcher,
		store:   cfg.Store,
		cal:     cfg.Calendar,
		router:  router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api/backtest")
	api.POST("/fetch", s.handleFetch)
	api.GET("/fetch/:id", s.handleFetchStatus)
	api.GET("/jobs", s.handleJobs)
	api.GET("/data", s.handleManifest)
	api.GET("/data/integrity", s.handleIntegrity)
	api.GET("/bars", s.handleBars)
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/orders", s.handleRunOrders)
	api.GET("/runs/:id/trades", s.handleRunTrades)
	api.GET("/runs/:id/snapshots", s.handleRunSnapshots)
	api.GET("/runs/:id/report", s.handleRunReport)
}

func (s *Server) handleFetch(c *gin.Context) {
	if s.fetcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "回填服务未启用"})
		return
	}
	var req struct {
		InstrumentID string `json:"instrument_id" binding:"required"`
		Interval     string `json:"interval" binding:"required"`
		StartTS      int64  `json:"start_ts" binding:"required"`
		EndTS        int64  `json:"end_ts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.fetcher.SubmitFetch(histdata.FetchParams{
		InstrumentID: req.InstrumentID,
		Interval:     req.Interval,
		Start:        req.StartTS,
		End:          req.EndTS,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *Server) handleFetchStatus(c *gin.Context) {
	if s.fetcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "回填服务未启用"})
		return
	}
	job, ok := s.fetcher.JobSnapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) handleJobs(c *gin.Context) {
	if s.fetcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "回填服务未启用"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": s.fetcher.Jobs()})
}

func (s *Server) handleManifest(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "行情库未启用"})
		return
	}
	instrumentID := c.Query("instrument_id")
	interval := c.Query("interval")
	if instrumentID == "" || interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instrument_id/interval 必填"})
		return
	}
	info, err := s.store.Manifest(c.Request.Context(), instrumentID, interval)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": info})
}

func (s *Server) handleIntegrity(c *gin.Context) {
	if s.store == nil || s.cal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "行情库未启用"})
		return
	}
	instrumentID := c.Query("instrument_id")
	interval := c.Query("interval")
	fromDay := c.Query("from_day")
	toDay := c.Query("to_day")
	if instrumentID == "" || interval == "" || fromDay == "" || toDay == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instrument_id/interval/from_day/to_day 必填"})
		return
	}
	days, err := s.cal.TradingDays(fromDay, toDay)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reportInfo, err := s.store.CheckIntegrity(c.Request.Context(), instrumentID, interval, days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"integrity": reportInfo, "complete": reportInfo.Complete()})
}

func (s *Server) handleBars(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "行情库未启用"})
		return
	}
	instrumentID := c.Query("instrument_id")
	interval := c.Query("interval")
	if instrumentID == "" || interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instrument_id/interval 必填"})
		return
	}
	start, _ := strconv.ParseInt(c.Query("start_ts"), 10, 64)
	end, _ := strconv.ParseInt(c.Query("end_ts"), 10, 64)
	bars, err := s.store.RangeBars(c.Request.Context(), instrumentID, interval, start, end)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bars": bars})
}

func (s *Server) handleRunStart(c *gin.Context) {
	var req backtest.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.runs.StartRun(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *Server) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, err := s.runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))
	orders, err := s.runs.ListOrders(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) handleRunTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "1000"))
	trades, err := s.runs.ListTrades(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleRunSnapshots(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "2000"))
	snaps, err := s.runs.ListSnapshots(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

// handleRunReport 渲染 HTML 报表；format=png 时用 headless 浏览器截图。
func (s *Server) handleRunReport(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	run, err := s.runs.GetRun(ctx, id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	snaps, err := s.runs.ListSnapshots(ctx, id, 5000)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	trades, err := s.runs.ListTrades(ctx, id, 2000)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	input := report.Input{Run: run, Snapshots: snaps, Trades: trades}
	if c.Query("format") == "png" {
		png, err := report.RenderPNG(ctx, input)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "image/png", png)
		return
	}
	html, err := report.RenderHTML(input)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
