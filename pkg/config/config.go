package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"fx-session-sentry/pkg/types"

	"github.com/spf13/viper"
)

const envPrefix = "SENTRY"

// Load 加载配置. An explicit path wins; otherwise config.local then config are searched
// in ./configs and the working directory, and a missing file falls back to defaults.
func Load(path string) (*types.Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.SetConfigName("config.local")
		if err := v.ReadInConfig(); err != nil {
			v.SetConfigName("config")
			if err := v.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return nil, err
				}
			}
		}
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Trading.Pairs = types.NormalizePairs(cfg.Trading.Pairs)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the scheduler cannot run with. Missing broker credentials are
// not an error here: the scheduler no-ops and warns instead.
func Validate(cfg *types.Config) error {
	t := cfg.Trading
	switch {
	case t.RefreshInterval < 15*time.Second || t.RefreshInterval > 60*time.Second:
		return fmt.Errorf("trading.refresh_interval %s outside 15s..60s", t.RefreshInterval)
	case t.BatchSize < 1:
		return fmt.Errorf("trading.batch_size must be positive, got %d", t.BatchSize)
	case t.MaxTradesPerSession < 1:
		return fmt.Errorf("trading.max_trades_per_session must be positive")
	case t.RiskPercentage <= 0:
		return fmt.Errorf("trading.risk_percentage must be positive")
	}
	switch cfg.OANDA.Environment {
	case "practice", "live":
	default:
		return fmt.Errorf("oanda.environment must be practice or live, got %q", cfg.OANDA.Environment)
	}
	if _, err := time.LoadLocation(t.Timezone); err != nil {
		return fmt.Errorf("trading.timezone: %w", err)
	}
	for _, p := range t.Pairs {
		if types.QuoteCurrency(p) == "" {
			return fmt.Errorf("trading.pairs: malformed pair %q", p)
		}
	}
	for _, w := range t.Sessions {
		if w.StartHour < 0 || w.EndHour > 24 || w.StartHour >= w.EndHour {
			return fmt.Errorf("trading.sessions %q: bad hours %d-%d", w.Name, w.StartHour, w.EndHour)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file_path", "logs")
	v.SetDefault("log.max_size", 200)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.compress", false)

	v.SetDefault("redis.url", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "fxsentry")
	v.SetDefault("redis.ttl", 72*time.Hour)

	v.SetDefault("oanda.environment", "practice")
	v.SetDefault("oanda.timeout", 10*time.Second)
	v.SetDefault("oanda.max_retries", 3)
	v.SetDefault("oanda.rate_limit", 20.0)
	v.SetDefault("oanda.rate_burst", 5)

	v.SetDefault("database.mysql.enabled", false)
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.database", "fxsentry")
	v.SetDefault("database.mysql.max_idle_conns", 5)
	v.SetDefault("database.mysql.max_open_conns", 20)

	settings := types.DefaultSettings()
	v.SetDefault("trading.auto_trading", false)
	v.SetDefault("trading.pairs", settings.PreferredPairs)
	v.SetDefault("trading.refresh_interval", settings.RefreshInterval)
	v.SetDefault("trading.batch_size", 2)
	v.SetDefault("trading.batch_delay", time.Second)
	v.SetDefault("trading.analyze_debounce", 5*time.Second)
	v.SetDefault("trading.max_trades_per_session", settings.MaxTradesPerSession)
	v.SetDefault("trading.risk_percentage", settings.RiskPercentage)
	v.SetDefault("trading.min_risk_reward", settings.MinRiskReward)
	v.SetDefault("trading.max_risk_reward", settings.MaxRiskReward)
	v.SetDefault("trading.enable_three_strike_rule", settings.EnableThreeStrikeRule)
	v.SetDefault("trading.cooldown", 2*time.Minute)
	v.SetDefault("trading.pair_block_duration", time.Hour)
	v.SetDefault("trading.max_spread_pips", 2.0)
	v.SetDefault("trading.timezone", "Asia/Singapore")
	v.SetDefault("trading.sessions", []map[string]interface{}{
		{"name": "London", "start_hour": 15, "end_hour": 18},
		{"name": "New York", "start_hour": 20, "end_hour": 23},
	})

	v.SetDefault("scoring.trend_ema200_weight", 40.0)
	v.SetDefault("scoring.trend_structure_weight", 30.0)
	v.SetDefault("scoring.trend_slope_weight", 20.0)
	v.SetDefault("scoring.trend_volatility_weight", 10.0)
	v.SetDefault("scoring.setup_trend_weight", 0.3)
	v.SetDefault("scoring.setup_zone_bonus", 20.0)
	v.SetDefault("scoring.setup_signal_weight", 0.5)

	v.SetDefault("sizing.fallback_usd_jpy", 150.0)
	v.SetDefault("sizing.default_margin_rate", 0.05)

	v.SetDefault("dingtalk.webhook_url", "")
	v.SetDefault("dingtalk.secret", "")

	v.SetDefault("server.listen", ":9108")
	v.SetDefault("server.ping_interval", 20*time.Second)
	v.SetDefault("server.report_every", 5*time.Minute)
}
