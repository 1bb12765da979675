package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"fx-session-sentry/internal/analyzer"
	"fx-session-sentry/internal/broker"
	"fx-session-sentry/internal/clock"
	"fx-session-sentry/internal/database"
	"fx-session-sentry/internal/gate"
	"fx-session-sentry/internal/notifier"
	"fx-session-sentry/internal/risk"
	"fx-session-sentry/internal/scheduler"
	"fx-session-sentry/internal/storage"
	"fx-session-sentry/pkg/config"
	"fx-session-sentry/pkg/logger"
	"fx-session-sentry/pkg/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type configLoader func() (*types.Config, error)

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "fxsentry",
		Short:        "Forex multi-timeframe analysis and session trade gate",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: configs/config.local.yaml, configs/config.yaml)")

	load := func() (*types.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("加载配置失败: %w", err)
		}
		if _, err := logger.Init(cfg.Log); err != nil {
			return nil, fmt.Errorf("初始化日志失败: %w", err)
		}
		return cfg, nil
	}

	root.AddCommand(
		runCmd(load),
		analyzeCmd(load),
		statusCmd(load),
		closeCmd(load),
		tradesCmd(load),
	)
	return root
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the analysis scheduler, gate and dashboard server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = zap.L().Sync() }()

			app, err := NewApp(cfg)
			if err != nil {
				return err
			}
			app.Start()
			app.WaitForShutdown()
			app.Stop()
			return nil
		},
	}
}

// loadSession the persisted gate state, nil when there is none.
func loadSession(ctx context.Context, sm *storage.StateManager) *types.SessionState {
	st, err := sm.LoadSession(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			zap.L().Warn("加载会话状态失败", zap.Error(err))
		}
		return nil
	}
	return st
}

func analyzeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <pair>",
		Short: "Analyze one pair and dry-run the gate against the persisted session state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			client := broker.NewClient(cfg.OANDA)
			if !client.Configured() {
				return errors.New("oanda.api_key and oanda.account_id are required")
			}
			pair := types.PairName(args[0])

			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			sm := storage.NewStateManager(cfg.Redis, cfg.OANDA.AccountID)
			defer sm.Close()

			schedule, err := gate.NewSchedule(cfg.Trading.Timezone, cfg.Trading.Sessions)
			if err != nil {
				return err
			}
			settings := settingsFromConfig(cfg)
			g := gate.New(gate.ConfigFrom(cfg.Trading, settings), schedule, clock.Real{},
				gate.WithInitialState(loadSession(ctx, sm)))

			sched := scheduler.NewScheduler(scheduler.Deps{
				Broker:   client,
				Analyzer: analyzer.NewAnalysisEngine(client, analyzer.WeightsFromConfig(cfg.Scoring)),
				Gate:     g,
				Sizer:    risk.NewSizer(cfg.Sizing),
				Notifier: notifier.NewConsoleNotifier(),
			}, cfg.Trading, settings)

			analysis, decision, err := sched.DryRun(ctx, pair)
			if err != nil {
				return err
			}
			quote, err := client.GetPrice(ctx, pair)
			if err != nil {
				zap.L().Warn("报价获取失败", zap.String("pair", pair), zap.Error(err))
			}
			return printJSON(map[string]interface{}{
				"analysis": analysis,
				"decision": decision,
				"quote":    quote,
			})
		},
	}
}

func statusCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted session state and the broker's open trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			sm := storage.NewStateManager(cfg.Redis, cfg.OANDA.AccountID)
			defer sm.Close()

			out := map[string]interface{}{
				"session": loadSession(ctx, sm),
				"storage": sm.GetRedisStats(ctx),
			}

			client := broker.NewClient(cfg.OANDA)
			if client.Configured() {
				trades, err := client.GetOpenTrades(ctx)
				if err != nil {
					return err
				}
				out["open_trades"] = trades
				out["breaker"] = client.BreakerState()
			}
			return printJSON(out)
		},
	}
}

func closeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "close <trade-id>",
		Short: "Close an open trade at market",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			client := broker.NewClient(cfg.OANDA)
			if !client.Configured() {
				return errors.New("oanda.api_key and oanda.account_id are required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := client.CloseTrade(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("trade %s closed\n", args[0])
			return nil
		},
	}
}

func tradesCmd(load configLoader) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List the most recent journaled trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if !cfg.Database.MySQL.Enabled {
				return errors.New("database.mysql.enabled is false")
			}
			db, err := database.NewManager(cfg.Database.MySQL)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Health(); err != nil {
				return err
			}

			trades, err := db.RecentTrades(limit)
			if err != nil {
				return err
			}
			return printJSON(trades)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of trades")
	return cmd
}
