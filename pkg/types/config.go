package types

import "time"

// Config 主配置结构
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Redis    RedisConfig    `mapstructure:"redis"`
	OANDA    OANDAConfig    `mapstructure:"oanda"`
	Database DatabaseConfig `mapstructure:"database"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Sizing   SizingConfig   `mapstructure:"sizing"`
	DingTalk DingTalkConfig `mapstructure:"dingtalk"`
	Server   ServerConfig   `mapstructure:"server"`
}

// LogConfig controls the zap/lumberjack sink.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`   // directory for the rotated file, empty disables it
	MaxSize    int    `mapstructure:"max_size"`    // MB
	MaxAge     int    `mapstructure:"max_age"`     // days
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

type RedisConfig struct {
	URL       string        `mapstructure:"url"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// OANDAConfig broker credentials and transport tuning
type OANDAConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	AccountID   string        `mapstructure:"account_id"`
	Environment string        `mapstructure:"environment"` // practice | live
	BaseURL     string        `mapstructure:"base_url"`    // overrides Environment when set
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RateLimit   float64       `mapstructure:"rate_limit"` // requests per second
	RateBurst   int           `mapstructure:"rate_burst"`
	Proxy       string        `mapstructure:"proxy"`
}

type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
}

// MySQLConfig MySQL配置
type MySQLConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// TradingConfig scheduler and gate tuning. The user-tunable subset also lives in Settings
// and is overridden by the persisted record when the database is enabled.
type TradingConfig struct {
	AutoTrading           bool          `mapstructure:"auto_trading"`
	Pairs                 []string      `mapstructure:"pairs"`
	RefreshInterval       time.Duration `mapstructure:"refresh_interval"`
	BatchSize             int           `mapstructure:"batch_size"`
	BatchDelay            time.Duration `mapstructure:"batch_delay"`
	AnalyzeDebounce       time.Duration `mapstructure:"analyze_debounce"`
	MaxTradesPerSession   int           `mapstructure:"max_trades_per_session"`
	RiskPercentage        float64       `mapstructure:"risk_percentage"`
	MinRiskReward         float64       `mapstructure:"min_risk_reward"`
	MaxRiskReward         float64       `mapstructure:"max_risk_reward"`
	EnableThreeStrikeRule bool          `mapstructure:"enable_three_strike_rule"`
	Cooldown              time.Duration `mapstructure:"cooldown"`
	PairBlockDuration     time.Duration `mapstructure:"pair_block_duration"`
	MaxSpreadPips         float64       `mapstructure:"max_spread_pips"`
	Timezone              string        `mapstructure:"timezone"`
	Sessions              []WindowSpec  `mapstructure:"sessions"`
}

// WindowSpec a trading window in local hours of TradingConfig.Timezone, end exclusive.
type WindowSpec struct {
	Name      string `mapstructure:"name"`
	StartHour int    `mapstructure:"start_hour"`
	EndHour   int    `mapstructure:"end_hour"`
}

// ScoringConfig empirical weights of the trend score and the setup quality score.
type ScoringConfig struct {
	TrendEMA200Weight     float64 `mapstructure:"trend_ema200_weight"`
	TrendStructureWeight  float64 `mapstructure:"trend_structure_weight"`
	TrendSlopeWeight      float64 `mapstructure:"trend_slope_weight"`
	TrendVolatilityWeight float64 `mapstructure:"trend_volatility_weight"`
	SetupTrendWeight      float64 `mapstructure:"setup_trend_weight"`
	SetupZoneBonus        float64 `mapstructure:"setup_zone_bonus"`
	SetupSignalWeight     float64 `mapstructure:"setup_signal_weight"`
}

type SizingConfig struct {
	FallbackUSDJPY    float64 `mapstructure:"fallback_usd_jpy"`
	DefaultMarginRate float64 `mapstructure:"default_margin_rate"`
}

// DingTalkConfig 钉钉配置
type DingTalkConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Secret     string `mapstructure:"secret"`
}

// ServerConfig exposes /metrics and the /ws dashboard feed.
type ServerConfig struct {
	Listen       string        `mapstructure:"listen"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	ReportEvery  time.Duration `mapstructure:"report_every"`
}
