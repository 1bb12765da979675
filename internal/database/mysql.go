package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fx-session-sentry/pkg/types"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var ErrSettingsNotFound = errors.New("settings not found")

// Manager 数据库管理器. Trade journal, decision log, daily performance and user settings.
type Manager struct {
	db     *gorm.DB
	config types.MySQLConfig
}

// TradeRecord 成交记录
type TradeRecord struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	TradeID        string     `gorm:"type:varchar(32);not null;uniqueIndex" json:"trade_id"`
	ClientID       string     `gorm:"type:varchar(64)" json:"client_id"`
	Pair           string     `gorm:"type:varchar(10);not null;index:idx_pair_opened" json:"pair"`
	Units          int64      `gorm:"not null" json:"units"`
	Price          float64    `gorm:"type:decimal(20,8);not null" json:"price"`
	StopLossPips   float64    `gorm:"type:decimal(10,2)" json:"stop_loss_pips"`
	TakeProfitPips float64    `gorm:"type:decimal(10,2)" json:"take_profit_pips"`
	Score          float64    `gorm:"type:decimal(5,1)" json:"score"`
	Recommendation string     `gorm:"type:varchar(16)" json:"recommendation"`
	OpenedAt       time.Time  `gorm:"not null;index:idx_pair_opened" json:"opened_at"`
	ClosePrice     *float64   `gorm:"type:decimal(20,8)" json:"close_price"`
	RealizedPL     *float64   `gorm:"type:decimal(20,4)" json:"realized_pl"`
	Result         string     `gorm:"type:varchar(10)" json:"result"`
	ClosedAt       *time.Time `json:"closed_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// DecisionRecord 闸门决策
type DecisionRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DecisionID string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"decision_id"`
	Pair       string    `gorm:"type:varchar(10);not null;index:idx_pair_time" json:"pair"`
	Allow      bool      `gorm:"not null" json:"allow"`
	Score      float64   `gorm:"type:decimal(5,1)" json:"score"`
	Reasons    string    `gorm:"type:text" json:"reasons"`
	Checks     string    `gorm:"type:text" json:"checks"`
	DecidedAt  time.Time `gorm:"not null;index:idx_pair_time" json:"decided_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// DailyPerformance 每日表现
type DailyPerformance struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Pair       string    `gorm:"type:varchar(10);not null;uniqueIndex:uk_pair_date" json:"pair"`
	Date       time.Time `gorm:"type:date;not null;uniqueIndex:uk_pair_date" json:"date"`
	Trades     int       `gorm:"default:0" json:"trades"`
	Wins       int       `gorm:"default:0" json:"wins"`
	Losses     int       `gorm:"default:0" json:"losses"`
	Breakevens int       `gorm:"default:0" json:"breakevens"`
	PnLPips    float64   `gorm:"type:decimal(12,1);default:0" json:"pnl_pips"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SettingsRecord one JSON settings document per account.
type SettingsRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AccountID string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"account_id"`
	Payload   string    `gorm:"type:text;not null" json:"payload"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewManager 创建数据库管理器
func NewManager(config types.MySQLConfig) (*Manager, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		config.Username,
		config.Password,
		config.Host,
		config.Port,
		config.Database,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库实例失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	manager := &Manager{
		db:     db,
		config: config,
	}

	if err := manager.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}

	zap.L().Info("MySQL数据库连接成功",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("database", config.Database))

	return manager, nil
}

// AutoMigrate 自动迁移表结构
func (m *Manager) AutoMigrate() error {
	return m.db.AutoMigrate(
		&TradeRecord{},
		&DecisionRecord{},
		&DailyPerformance{},
		&SettingsRecord{},
	)
}

func toTradeRecord(trade *types.Trade, a *types.MultiTimeframeAnalysis) TradeRecord {
	rec := TradeRecord{
		TradeID:        trade.ID,
		ClientID:       trade.ClientID,
		Pair:           trade.Pair,
		Units:          trade.Units,
		Price:          trade.Price,
		StopLossPips:   trade.StopLoss,
		TakeProfitPips: trade.TakeProfit,
		OpenedAt:       trade.OpenTime,
	}
	if a != nil {
		rec.Score = a.SetupQualityScore
		rec.Recommendation = string(a.Recommendation)
	}
	if rec.OpenedAt.IsZero() {
		rec.OpenedAt = time.Now()
	}
	return rec
}

// SaveTrade 保存成交
func (m *Manager) SaveTrade(trade *types.Trade, a *types.MultiTimeframeAnalysis) error {
	rec := toTradeRecord(trade, a)
	return m.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
}

// RecordTradeClose 回填平仓结果并累计当日表现
func (m *Manager) RecordTradeClose(ct types.ClosedTrade, day time.Time) error {
	pips := ct.PnLPips()
	result := types.ClassifyResult(pips)

	return m.db.Transaction(func(tx *gorm.DB) error {
		closedAt := ct.CloseTime
		closePrice, pl := ct.ClosePrice, ct.RealizedPL
		update := tx.Model(&TradeRecord{}).
			Where("trade_id = ? AND closed_at IS NULL", ct.ID).
			Updates(map[string]interface{}{
				"close_price": closePrice,
				"realized_pl": pl,
				"result":      string(result),
				"closed_at":   closedAt,
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			// already journaled or opened outside this process
			return nil
		}

		date := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		var perf DailyPerformance
		err := tx.Where("pair = ? AND date = ?", ct.Pair, date).First(&perf).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			perf = DailyPerformance{Pair: ct.Pair, Date: date}
		} else if err != nil {
			return err
		}
		applyResult(&perf, result, pips)
		return tx.Save(&perf).Error
	})
}

func applyResult(perf *DailyPerformance, result types.TradeResult, pips float64) {
	perf.Trades++
	perf.PnLPips += pips
	switch result {
	case types.ResultWin:
		perf.Wins++
	case types.ResultLoss:
		perf.Losses++
	default:
		perf.Breakevens++
	}
}

func toDecisionRecord(d types.GateDecision) (DecisionRecord, error) {
	reasons, err := json.Marshal(d.Reasons)
	if err != nil {
		return DecisionRecord{}, err
	}
	checks, err := json.Marshal(d.Checks)
	if err != nil {
		return DecisionRecord{}, err
	}
	return DecisionRecord{
		DecisionID: d.ID,
		Pair:       d.Pair,
		Allow:      d.Allow,
		Score:      d.Score,
		Reasons:    string(reasons),
		Checks:     string(checks),
		DecidedAt:  d.Time,
	}, nil
}

// BatchSaveDecisions 批量保存一轮的闸门决策
func (m *Manager) BatchSaveDecisions(decisions []types.GateDecision) error {
	if len(decisions) == 0 {
		return nil
	}

	records := make([]DecisionRecord, 0, len(decisions))
	for _, d := range decisions {
		rec, err := toDecisionRecord(d)
		if err != nil {
			return fmt.Errorf("encode decision %s: %w", d.ID, err)
		}
		records = append(records, rec)
	}

	tx := m.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	batchSize := 100
	for i := 0; i < len(records); i += batchSize {
		end := i + batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[i:end]
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(batch, len(batch)).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("批量保存决策失败: %w", err)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("提交决策事务失败: %w", err)
	}

	zap.L().Debug("批量保存决策完成", zap.Int("count", len(records)))
	return nil
}

func encodeSettings(s types.Settings) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeSettings overlays the stored document on the defaults so fields added later
// keep their default value.
func decodeSettings(payload string) (types.Settings, error) {
	s := types.DefaultSettings()
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return types.Settings{}, err
	}
	return s, nil
}

// LoadSettings returns fallback and ErrSettingsNotFound when the account has no stored record.
func (m *Manager) LoadSettings(accountID string, fallback types.Settings) (types.Settings, error) {
	var rec SettingsRecord
	err := m.db.Where("account_id = ?", accountID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fallback.AccountID = accountID
		return fallback, ErrSettingsNotFound
	}
	if err != nil {
		return types.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	s, err := decodeSettings(rec.Payload)
	if err != nil {
		return types.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	s.AccountID = accountID
	return s, nil
}

// SaveSettings validates and upserts.
func (m *Manager) SaveSettings(s types.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	payload, err := encodeSettings(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	rec := SettingsRecord{AccountID: s.AccountID, Payload: payload}
	return m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&rec).Error
}

// RecentTrades 获取最近成交
func (m *Manager) RecentTrades(limit int) ([]TradeRecord, error) {
	var trades []TradeRecord
	err := m.db.Order("opened_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// GetDailyPerformance 获取近几日表现
func (m *Manager) GetDailyPerformance(pair string, days int) ([]DailyPerformance, error) {
	var rows []DailyPerformance
	start := time.Now().UTC().AddDate(0, 0, -days).Truncate(24 * time.Hour)
	err := m.db.Where("pair = ? AND date >= ?", pair, start).
		Order("date DESC").
		Find(&rows).Error
	return rows, err
}

// Close 关闭数据库连接
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接健康状态
func (m *Manager) Health() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
