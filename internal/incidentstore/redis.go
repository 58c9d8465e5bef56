package incidentstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/E4Itraining/AIOBS-sub000/config"
	"github.com/E4Itraining/AIOBS-sub000/guardrails"
	"github.com/E4Itraining/AIOBS-sub000/internal/tlsutil"
	"github.com/E4Itraining/AIOBS-sub000/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 🧰 Redis 事件存储
// =============================================================================
// 布局:
//   <prefix>:incident:<id>  事件 JSON（SET NX，只写一次）
//   <prefix>:timeline       ZSET，score 为时间戳微秒，member 为事件 ID
// =============================================================================

// RedisStore 基于 Redis 的事件存储
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisClient 按配置创建客户端并探活
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
	if cfg.TLS {
		opts.TLSConfig = tlsutil.ForAddr(cfg.Addr)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisStore 使用已有客户端创建存储
func NewRedisStore(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "guardrails:incidents"
	}
	logger.Info("redis incident store ready", zap.String("prefix", prefix))
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("component", "incident_store"), zap.String("backend", "redis")),
	}
}

// Backend 返回 "redis"
func (s *RedisStore) Backend() string { return "redis" }

func (s *RedisStore) incidentKey(id string) string { return s.prefix + ":incident:" + id }
func (s *RedisStore) timelineKey() string          { return s.prefix + ":timeline" }

// Append 在同一 MULTI 事务中写入事件与时间线索引。ID 已存在时拒绝覆盖，
// 索引使用 ZADD NX，重复写入不会改动原有时间戳。
func (s *RedisStore) Append(ctx context.Context, inc guardrails.Incident) error {
	payload, err := json.Marshal(inc)
	if err != nil {
		return types.NewError(types.ErrInternalError, "encode incident").WithCause(err)
	}

	var created *redis.BoolCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.SetNX(ctx, s.incidentKey(inc.ID), payload, 0)
		pipe.ZAddNX(ctx, s.timelineKey(), redis.Z{
			Score:  float64(inc.Timestamp.UnixMicro()),
			Member: inc.ID,
		})
		return nil
	})
	if err != nil {
		return types.NewError(types.ErrStoreUnavailable, "write incident").WithCause(err).WithRetryable(true)
	}
	if !created.Val() {
		return types.NewError(types.ErrStoreUnavailable,
			fmt.Sprintf("incident %s already exists", inc.ID))
	}
	return nil
}

// List 实现 Reader。时间窗口在 Redis 侧裁剪；仅按时间过滤时分页也下推到
// ZRANGEBYSCORE LIMIT，total 为索引条数。其余条件在内存中过滤。
func (s *RedisStore) List(ctx context.Context, filter *guardrails.IncidentFilter) ([]guardrails.Incident, int64, error) {
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if filter != nil && filter.Since != nil {
		rng.Min = strconv.FormatInt(filter.Since.UnixMicro(), 10)
	}
	if filter != nil && filter.Until != nil {
		rng.Max = strconv.FormatInt(filter.Until.UnixMicro(), 10)
	}

	if timeOnly(filter) {
		return s.listPage(ctx, filter, rng)
	}

	ids, err := s.client.ZRangeByScore(ctx, s.timelineKey(), rng).Result()
	if err != nil {
		return nil, 0, types.NewError(types.ErrStoreUnavailable, "read timeline").WithCause(err)
	}
	matched, err := s.load(ctx, ids, filter)
	if err != nil {
		return nil, 0, err
	}
	start, end := filter.Page(len(matched))
	return matched[start:end], int64(len(matched)), nil
}

func (s *RedisStore) listPage(ctx context.Context, filter *guardrails.IncidentFilter, rng *redis.ZRangeBy) ([]guardrails.Incident, int64, error) {
	if filter != nil && (filter.Offset > 0 || filter.Limit > 0) {
		rng.Offset = int64(max(filter.Offset, 0))
		rng.Count = -1
		if filter.Limit > 0 {
			rng.Count = int64(filter.Limit)
		}
	}

	var (
		total *redis.IntCmd
		page  *redis.StringSliceCmd
	)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		total = pipe.ZCount(ctx, s.timelineKey(), rng.Min, rng.Max)
		page = pipe.ZRangeByScore(ctx, s.timelineKey(), rng)
		return nil
	})
	if err != nil {
		return nil, 0, types.NewError(types.ErrStoreUnavailable, "read timeline").WithCause(err)
	}

	items, err := s.load(ctx, page.Val(), filter)
	if err != nil {
		return nil, 0, err
	}
	return items, total.Val(), nil
}

// load 批量读取事件正文，跳过缺失或损坏的条目，结果按时间与序号排序
func (s *RedisStore) load(ctx context.Context, ids []string, filter *guardrails.IncidentFilter) ([]guardrails.Incident, error) {
	if len(ids) == 0 {
		return []guardrails.Incident{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.incidentKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "read incidents").WithCause(err)
	}

	matched := make([]guardrails.Incident, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// 索引存在但正文缺失
			s.logger.Warn("dangling timeline entry", zap.String("incident_id", ids[i]))
			continue
		}
		var inc guardrails.Incident
		if err := json.Unmarshal([]byte(raw), &inc); err != nil {
			s.logger.Warn("corrupt incident payload", zap.String("incident_id", ids[i]), zap.Error(err))
			continue
		}
		if filter.Match(inc) {
			matched = append(matched, inc)
		}
	}

	slices.SortStableFunc(matched, func(a, b guardrails.Incident) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		switch {
		case a.Sequence < b.Sequence:
			return -1
		case a.Sequence > b.Sequence:
			return 1
		}
		return 0
	})
	return matched, nil
}

// timeOnly reports whether filter narrows by time window and paging alone.
func timeOnly(f *guardrails.IncidentFilter) bool {
	return f == nil || (f.Class == "" && f.Severity == "" && f.Status == "" && f.TenantID == "" && f.RequestID == "")
}

// Ping 检查连接
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close 关闭客户端
func (s *RedisStore) Close() error {
	return s.client.Close()
}
