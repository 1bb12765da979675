package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"fx-session-sentry/internal/analyzer"
	"fx-session-sentry/internal/broker"
	"fx-session-sentry/internal/clock"
	"fx-session-sentry/internal/database"
	"fx-session-sentry/internal/feed"
	"fx-session-sentry/internal/gate"
	"fx-session-sentry/internal/notifier"
	"fx-session-sentry/internal/risk"
	"fx-session-sentry/internal/scheduler"
	"fx-session-sentry/internal/storage"
	"fx-session-sentry/internal/strategy/monitor"
	"fx-session-sentry/pkg/types"

	"go.uber.org/zap"
)

// App 应用程序管理器
type App struct {
	config *types.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	client       *broker.Client
	stateManager *storage.StateManager
	db           *database.Manager
	gate         *gate.Gate
	scheduler    *scheduler.Scheduler
	monitor      *monitor.PerformanceMonitor
	hub          *feed.Hub
	server       *http.Server
}

// NewApp 创建应用程序实例 and wires every component. Redis and MySQL failures degrade,
// other errors are fatal.
func NewApp(config *types.Config) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
	if err := app.build(); err != nil {
		cancel()
		app.closeStores()
		return nil, err
	}
	return app, nil
}

// settingsFromConfig the user-tunable settings as configured, before any stored override.
func settingsFromConfig(cfg *types.Config) types.Settings {
	s := types.DefaultSettings()
	t := cfg.Trading
	s.AccountID = cfg.OANDA.AccountID
	s.AccountType = cfg.OANDA.Environment
	s.RiskPercentage = t.RiskPercentage
	s.MaxTradesPerSession = t.MaxTradesPerSession
	s.MinRiskReward = t.MinRiskReward
	s.MaxRiskReward = t.MaxRiskReward
	s.EnableThreeStrikeRule = t.EnableThreeStrikeRule
	if len(t.Pairs) > 0 {
		s.PreferredPairs = t.Pairs
	}
	if t.RefreshInterval > 0 {
		s.RefreshInterval = t.RefreshInterval
	}
	return s
}

func (app *App) build() error {
	cfg := app.config
	accountID := cfg.OANDA.AccountID

	app.client = broker.NewClient(cfg.OANDA)
	if !app.client.Configured() {
		zap.L().Warn("⚠️ 未配置OANDA api_key/account_id, 调度器将空转")
	}
	app.stateManager = storage.NewStateManager(cfg.Redis, accountID)

	settings := settingsFromConfig(cfg)
	var journal scheduler.Journal
	var perfStore monitor.PerformanceStore
	if cfg.Database.MySQL.Enabled {
		db, err := database.NewManager(cfg.Database.MySQL)
		if err != nil {
			return fmt.Errorf("mysql: %w", err)
		}
		app.db = db
		journal = db
		perfStore = db

		stored, err := db.LoadSettings(accountID, settings)
		switch {
		case errors.Is(err, database.ErrSettingsNotFound):
			if err := db.SaveSettings(stored); err != nil {
				zap.L().Warn("保存初始设置失败", zap.Error(err))
			}
		case err != nil:
			return err
		}
		settings = stored
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	schedule, err := gate.NewSchedule(cfg.Trading.Timezone, cfg.Trading.Sessions)
	if err != nil {
		return err
	}

	app.monitor = monitor.NewPerformanceMonitor(perfStore, cfg.Server.ReportEvery)
	decisions := scheduler.NewDecisionLog(app.stateManager, journal)

	loadCtx, cancel := context.WithTimeout(app.ctx, 5*time.Second)
	initial, err := app.stateManager.LoadSession(loadCtx)
	cancel()
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		zap.L().Warn("加载会话状态失败, 从空状态开始", zap.Error(err))
	}

	app.gate = gate.New(gate.ConfigFrom(cfg.Trading, settings), schedule, clock.Real{},
		gate.WithStore(app.stateManager),
		gate.WithRecorder(gate.Recorders{app.monitor, decisions}),
		gate.WithInitialState(initial),
	)

	app.hub = feed.NewHub(cfg.Server.PingInterval)
	app.scheduler = scheduler.NewScheduler(scheduler.Deps{
		Broker:    app.client,
		Analyzer:  analyzer.NewAnalysisEngine(app.client, analyzer.WeightsFromConfig(cfg.Scoring)),
		Gate:      app.gate,
		Sizer:     risk.NewSizer(cfg.Sizing),
		Notifier:  notifier.New(cfg.DingTalk),
		Journal:   journal,
		Decisions: decisions,
		Feed:      app.hub,
		Metrics:   app.monitor,
	}, cfg.Trading, settings)
	return nil
}

// Start 启动应用程序
func (app *App) Start() {
	zap.L().Info("🚀 FX Session Sentry 启动中...",
		zap.String("account", app.client.AccountID()),
		zap.String("environment", app.config.OANDA.Environment))

	app.monitor.Start()

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.scheduler.Start(app.ctx)
	}()

	if app.config.Server.Listen != "" {
		app.server = &http.Server{
			Addr:              app.config.Server.Listen,
			Handler:           app.routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			zap.L().Info("🌐 HTTP服务启动", zap.String("listen", app.server.Addr))
			if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zap.L().Error("❌ HTTP服务异常退出", zap.Error(err))
			}
		}()
	}

	zap.L().Info("✅ FX Session Sentry 已启动")
}

func (app *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.monitor.Handler())
	mux.Handle("/ws", app.hub)
	mux.HandleFunc("/api/snapshot", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, app.scheduler.Snapshot())
	})
	mux.HandleFunc("/api/report", func(w http.ResponseWriter, r *http.Request) {
		body, err := app.monitor.GetMetricsJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("/api/report/daily", func(w http.ResponseWriter, r *http.Request) {
		pair := types.PairName(r.URL.Query().Get("pair"))
		if pair == "" {
			http.Error(w, "pair is required", http.StatusBadRequest)
			return
		}
		report, err := app.monitor.GetDailyReport(pair)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, report)
	})
	mux.HandleFunc("/api/storage", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, app.stateManager.GetRedisStats(r.Context()))
	})
	mux.HandleFunc("/api/decisions", func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.URL.Query().Get("n"))
		if n <= 0 {
			n = 20
		}
		decisions, err := app.stateManager.RecentDecisions(r.Context(), r.URL.Query().Get("pair"), n)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, decisions)
	})
	mux.HandleFunc("/api/emergency-stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		app.scheduler.EmergencyStop("requested via " + r.RemoteAddr)
		writeJSON(w, app.gate.Snapshot())
	})
	mux.HandleFunc("/api/resume", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		app.scheduler.Resume()
		writeJSON(w, app.gate.Snapshot())
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}

// Stop 停止应用程序
func (app *App) Stop() {
	zap.L().Info("🛑 收到停止信号，正在优雅关闭...")
	app.scheduler.Stop()
	app.cancel()

	if app.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := app.server.Shutdown(ctx); err != nil {
			zap.L().Warn("HTTP服务关闭失败", zap.Error(err))
		}
		cancel()
	}
	app.hub.Close()
	app.monitor.Stop()
	app.monitor.PrintFormattedReport(os.Stdout)

	// 等待所有goroutine结束，最多等待30秒
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("✅ FX Session Sentry 已安全关闭")
	case <-time.After(30 * time.Second):
		zap.L().Warn("⚠️ 强制关闭超时")
	}
	app.closeStores()
}

func (app *App) closeStores() {
	if app.stateManager != nil {
		if err := app.stateManager.Close(); err != nil {
			zap.L().Warn("关闭Redis失败", zap.Error(err))
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			zap.L().Warn("关闭数据库失败", zap.Error(err))
		}
	}
}

// WaitForShutdown 等待关闭信号
func (app *App) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
