// Package api provides the HTTP and WebSocket server for the backtest
// engine.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/batch"
	"github.com/atlas-desktop/backtest-engine/internal/config"
	"github.com/atlas-desktop/backtest-engine/internal/data"
	"github.com/atlas-desktop/backtest-engine/internal/engine"
	"github.com/atlas-desktop/backtest-engine/internal/signal"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Server is the HTTP/WebSocket API server
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     config.ServerConfig
	defaults   config.BacktestConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*Client

	store    *data.Store
	registry *signal.Registry
	runner   *engine.Runner
	pool     *batch.Pool
	metrics  *Metrics

	backtests map[string]*BacktestState
}

// BacktestState tracks one submitted backtest
type BacktestState struct {
	ID      string
	Status  string
	Started time.Time
	Cancel  context.CancelFunc
	Result  *types.BacktestResult
	Err     string
}

// BacktestRequest is the payload for POST /backtest/run
type BacktestRequest struct {
	ID                   string                 `json:"id,omitempty"`
	Symbol               string                 `json:"symbol"`
	InitialCapital       decimal.Decimal        `json:"initial_capital"`
	Settings             *types.SessionSettings `json:"settings,omitempty"`
	Strategy             types.StrategyConfig   `json:"strategy"`
	MonteCarloIterations int                    `json:"monte_carlo_iterations,omitempty"`
}

// NewServer creates the API server and wires its routes
func NewServer(logger *zap.Logger, cfg config.ServerConfig, defaults config.BacktestConfig,
	store *data.Store, registry *signal.Registry, runner *engine.Runner, pool *batch.Pool) *Server {

	server := &Server{
		logger:    logger,
		config:    cfg,
		defaults:  defaults,
		router:    mux.NewRouter(),
		clients:   make(map[string]*Client),
		store:     store,
		registry:  registry,
		runner:    runner,
		pool:      pool,
		metrics:   NewMetrics(),
		backtests: make(map[string]*BacktestState),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	server.setupRoutes()
	return server
}

// Router exposes the underlying router for additional handlers
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/data/symbols", s.handleGetSymbols).Methods("GET")
	s.router.HandleFunc("/api/v1/data/history/{symbol}", s.handleGetHistory).Methods("GET")

	s.router.HandleFunc("/api/v1/strategies", s.handleGetStrategies).Methods("GET")

	s.router.HandleFunc("/api/v1/backtest/run", s.handleRunBacktest).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/sweep", s.handleRunSweep).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/{id}", s.handleGetBacktest).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/{id}/trades", s.handleGetBacktestTrades).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/{id}/cancel", s.handleCancelBacktest).Methods("POST")

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", addr))

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, client := range s.clients {
		client.Conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	symbols := s.store.Symbols()
	if len(symbols) == 0 {
		symbols = []string{"AAPL", "MSFT", "SPY"}
	}

	writeJSON(w, map[string]interface{}{
		"symbols": symbols,
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	start := time.Time{}
	end := time.Now()
	if v := r.URL.Query().Get("start"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			start = t
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			end = t
		}
	}

	bars, err := s.store.LoadBarsRange(symbol, start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"symbol": symbol,
		"bars":   bars,
		"count":  len(bars),
	})
}

func (s *Server) handleGetStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"strategies": s.registry.List(),
	})
}

// handleRunBacktest starts a backtest in the background and returns its ID
func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.InitialCapital.LessThanOrEqual(decimal.Zero) {
		req.InitialCapital = decimal.NewFromFloat(s.defaults.DefaultCapital)
	}

	gen, err := s.registry.Build(req.Strategy)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	bars, err := s.store.LoadBars(req.Symbol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	state := &BacktestState{
		ID:      req.ID,
		Status:  "running",
		Started: time.Now(),
		Cancel:  cancel,
	}

	s.mu.Lock()
	s.backtests[req.ID] = state
	s.mu.Unlock()

	s.metrics.BacktestsStarted.Inc()

	runCfg := engine.RunConfig{
		ID:             req.ID,
		Symbol:         req.Symbol,
		InitialCapital: req.InitialCapital,
		Settings:       req.Settings,
		OnProgress: func(done, total int, equity decimal.Decimal) {
			s.broadcast(&Message{
				ID:     uuid.New().String(),
				Type:   "event",
				Method: "backtest:progress",
				Payload: map[string]interface{}{
					"id":     req.ID,
					"done":   done,
					"total":  total,
					"equity": equity,
				},
				Timestamp: time.Now().UnixMilli(),
			})
		},
	}
	if req.MonteCarloIterations > 0 {
		runCfg.MonteCarlo = &engine.MonteCarloConfig{Iterations: req.MonteCarloIterations}
	}

	go func() {
		defer cancel()

		result, err := s.runner.Run(ctx, runCfg, bars, gen)

		s.mu.Lock()
		if err != nil {
			state.Status = "failed"
			state.Err = err.Error()
			s.metrics.BacktestsFailed.Inc()
			s.logger.Error("Backtest failed", zap.String("id", req.ID), zap.Error(err))
		} else {
			state.Status = "completed"
			state.Result = result
			s.metrics.BacktestsCompleted.Inc()
			s.metrics.BacktestDuration.Observe(result.Duration.Seconds())
			s.metrics.TradesExecuted.Add(float64(len(result.Trades)))
		}
		status := state.Status
		s.mu.Unlock()

		s.broadcast(&Message{
			ID:        uuid.New().String(),
			Type:      "event",
			Method:    "backtest:complete",
			Payload:   map[string]interface{}{"id": req.ID, "status": status},
			Timestamp: time.Now().UnixMilli(),
		})
	}()

	writeJSON(w, map[string]interface{}{
		"id":      req.ID,
		"status":  "running",
		"started": state.Started.Unix(),
	})
}

// handleRunSweep runs a parameter sweep synchronously and returns the grid
func (s *Server) handleRunSweep(w http.ResponseWriter, r *http.Request) {
	var cfg batch.SweepConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if cfg.InitialCapital.LessThanOrEqual(decimal.Zero) {
		cfg.InitialCapital = decimal.NewFromFloat(s.defaults.DefaultCapital)
	}

	bars, err := s.store.LoadBars(cfg.Symbol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	result, err := s.pool.Sweep(r.Context(), cfg, bars)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	summaries := make([]map[string]interface{}, 0, len(result.Runs))
	for _, run := range result.Runs {
		summary := map[string]interface{}{
			"id":     run.Job.ID,
			"params": run.Job.Strategy.Params,
		}
		if run.Err != nil {
			summary["error"] = run.Err.Error()
		} else {
			summary["totalReturn"] = run.Result.TotalReturn
			summary["winRate"] = run.Result.WinRate
			summary["maxDrawdown"] = run.Result.MaxDrawdown
		}
		summaries = append(summaries, summary)
	}

	response := map[string]interface{}{"runs": summaries}
	if result.Best != nil {
		response["best"] = map[string]interface{}{
			"id":          result.Best.Job.ID,
			"params":      result.Best.Job.Strategy.Params,
			"totalReturn": result.Best.Result.TotalReturn,
		}
	}
	writeJSON(w, response)
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	// Copy out of the state while holding the lock; the completion goroutine
	// writes these fields under s.mu.
	s.mu.RLock()
	state, ok := s.backtests[id]
	var (
		status  string
		started time.Time
		result  *types.BacktestResult
		errMsg  string
	)
	if ok {
		status = state.Status
		started = state.Started
		result = state.Result
		errMsg = state.Err
	}
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "Backtest not found", http.StatusNotFound)
		return
	}

	response := map[string]interface{}{
		"id":      id,
		"status":  status,
		"started": started.Unix(),
	}
	if result != nil {
		response["result"] = result
	}
	if errMsg != "" {
		response["error"] = errMsg
	}

	writeJSON(w, response)
}

func (s *Server) handleGetBacktestTrades(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	state, ok := s.backtests[id]
	var result *types.BacktestResult
	if ok {
		result = state.Result
	}
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "Backtest not found", http.StatusNotFound)
		return
	}
	if result == nil {
		http.Error(w, "Backtest not complete", http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]interface{}{
		"id":     id,
		"trades": result.Trades,
		"count":  len(result.Trades),
	})
}

func (s *Server) handleCancelBacktest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	state, ok := s.backtests[id]
	var status string
	if ok {
		if state.Status == "running" {
			state.Cancel()
			state.Status = "cancelled"
		}
		status = state.Status
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "Backtest not found", http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]interface{}{
		"id":     id,
		"status": status,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
