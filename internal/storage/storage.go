package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"fx-session-sentry/pkg/types"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	defaultPrefix       = "fxsentry"
	defaultTTL          = 72 * time.Hour
	defaultHistoryLimit = 200
)

var ErrNotFound = errors.New("not found")

// StateManager 状态管理器. Keeps the session state and recent gate decisions in memory
// and mirrors them to Redis when it is reachable.
type StateManager struct {
	mu           sync.RWMutex
	session      []byte
	decisions    map[string][]types.GateDecision
	redisClient  *redis.Client
	useRedis     bool
	prefix       string
	ttl          time.Duration
	accountID    string
	historyLimit int
}

func NewStateManager(cfg types.RedisConfig, accountID string) *StateManager {
	sm := newStateManager(cfg, accountID)

	if cfg.URL == "" {
		zap.L().Info("未配置Redis，使用纯内存模式")
		return sm
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		zap.L().Warn("Redis连接失败，使用纯内存模式", zap.String("addr", cfg.URL), zap.Error(err))
		_ = client.Close()
		return sm
	}
	zap.L().Info("Redis连接成功", zap.String("addr", cfg.URL))
	sm.redisClient = client
	sm.useRedis = true
	return sm
}

// NewWithClient wraps an already connected client.
func NewWithClient(client *redis.Client, cfg types.RedisConfig, accountID string) *StateManager {
	sm := newStateManager(cfg, accountID)
	sm.redisClient = client
	sm.useRedis = client != nil
	return sm
}

func newStateManager(cfg types.RedisConfig, accountID string) *StateManager {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if accountID == "" {
		accountID = "default"
	}
	return &StateManager{
		decisions:    make(map[string][]types.GateDecision),
		prefix:       prefix,
		ttl:          ttl,
		accountID:    accountID,
		historyLimit: defaultHistoryLimit,
	}
}

func (sm *StateManager) sessionKey() string {
	return fmt.Sprintf("%s:session:%s", sm.prefix, sm.accountID)
}

func (sm *StateManager) decisionKey(pair string) string {
	return fmt.Sprintf("%s:decisions:%s", sm.prefix, types.InstrumentName(pair))
}

// SaveSession writes the state to memory first, then Redis with the configured TTL.
func (sm *StateManager) SaveSession(ctx context.Context, state types.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	sm.mu.Lock()
	sm.session = data
	sm.mu.Unlock()

	if !sm.useRedis {
		return nil
	}
	if err := sm.redisClient.Set(ctx, sm.sessionKey(), data, sm.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

// LoadSession returns ErrNotFound when neither Redis nor memory hold a state.
func (sm *StateManager) LoadSession(ctx context.Context) (*types.SessionState, error) {
	var data []byte
	if sm.useRedis {
		val, err := sm.redisClient.Get(ctx, sm.sessionKey()).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			zap.L().Warn("redis get session failed, using memory copy", zap.Error(err))
		default:
			data = val
		}
	}
	if data == nil {
		sm.mu.RLock()
		data = sm.session
		sm.mu.RUnlock()
	}
	if data == nil {
		return nil, ErrNotFound
	}

	var state types.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	state.Normalize()
	return &state, nil
}

// AppendDecision keeps the most recent decisions per pair in a sorted set scored by
// decision time.
func (sm *StateManager) AppendDecision(ctx context.Context, d types.GateDecision) error {
	sm.mu.Lock()
	list := append(sm.decisions[d.Pair], d)
	if len(list) > sm.historyLimit {
		list = list[len(list)-sm.historyLimit:]
	}
	sm.decisions[d.Pair] = list
	sm.mu.Unlock()

	if !sm.useRedis {
		return nil
	}

	value, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}
	key := sm.decisionKey(d.Pair)
	if err := sm.redisClient.ZAdd(ctx, key, &redis.Z{
		Score:  float64(d.Time.UnixMilli()),
		Member: value,
	}).Err(); err != nil {
		return fmt.Errorf("redis zadd decision: %w", err)
	}
	if err := sm.redisClient.ZRemRangeByRank(ctx, key, 0, int64(-sm.historyLimit-1)).Err(); err != nil {
		return fmt.Errorf("redis trim decisions: %w", err)
	}
	return sm.redisClient.Expire(ctx, key, sm.ttl).Err()
}

// RecentDecisions newest first, at most n.
func (sm *StateManager) RecentDecisions(ctx context.Context, pair string, n int) ([]types.GateDecision, error) {
	if n <= 0 {
		return nil, nil
	}
	if sm.useRedis {
		members, err := sm.redisClient.ZRevRange(ctx, sm.decisionKey(pair), 0, int64(n-1)).Result()
		if err == nil {
			out := make([]types.GateDecision, 0, len(members))
			for _, m := range members {
				var d types.GateDecision
				if err := json.Unmarshal([]byte(m), &d); err != nil {
					return nil, fmt.Errorf("decode decision: %w", err)
				}
				out = append(out, d)
			}
			return out, nil
		}
		zap.L().Warn("redis read decisions failed, using memory copy", zap.String("pair", pair), zap.Error(err))
	}

	sm.mu.RLock()
	defer sm.mu.RUnlock()
	list := sm.decisions[pair]
	out := make([]types.GateDecision, 0, n)
	for i := len(list) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

// GetRedisStats 获取Redis统计信息
func (sm *StateManager) GetRedisStats(ctx context.Context) map[string]interface{} {
	sm.mu.RLock()
	stats := map[string]interface{}{
		"redis_enabled":  sm.useRedis,
		"memory_pairs":   len(sm.decisions),
		"session_cached": sm.session != nil,
	}
	sm.mu.RUnlock()

	if sm.useRedis {
		keys, err := sm.redisClient.Keys(ctx, sm.prefix+":*").Result()
		if err == nil {
			stats["redis_keys"] = len(keys)
		} else {
			stats["redis_error"] = err.Error()
		}
	}
	return stats
}

func (sm *StateManager) Close() error {
	if sm.redisClient == nil {
		return nil
	}
	return sm.redisClient.Close()
}
