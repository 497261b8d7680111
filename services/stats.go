package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/parakkad/fundraiser/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultHistoryPage     = 1
	DefaultHistoryPageSize = 10
	MaxHistoryPageSize     = 100
)

// Totals is the public summary of settled contributions.
type Totals struct {
	TotalAmount int64            `json:"totalAmount"`
	TotalCount  int64            `json:"totalCount"`
	WardWise    map[string]int64 `json:"wardWise"`
}

type HistoryQuery struct {
	Page     int
	PageSize int
	Ward     string
}

type HistoryPage struct {
	Payments []models.HistoryItem `json:"payments"`
	HasMore  bool                 `json:"hasMore"`
	Total    int64                `json:"total"`
}

// StatsCache stores the last computed totals. Every Invalidate starts a new
// generation; totals computed under an older generation are never stored.
type StatsCache interface {
	// Get returns the cached totals, nil on a miss, and the current generation.
	Get(ctx context.Context) (*Totals, int64, error)
	// Set stores t unless the cache was invalidated after gen was read.
	Set(ctx context.Context, gen int64, t *Totals) error
	Invalidate(ctx context.Context) error
}

// StatsService answers the dashboard's read queries.
type StatsService struct {
	source StatsSource
	cache  StatsCache
	log    *zap.Logger
}

// NewStatsService builds the service; cache may be nil.
func NewStatsService(source StatsSource, cache StatsCache, log *zap.Logger) *StatsService {
	return &StatsService{source: source, cache: cache, log: log}
}

func (s *StatsService) ComputeTotals(ctx context.Context) (*Totals, error) {
	cacheable := false
	var gen int64
	if s.cache != nil {
		cached, g, err := s.cache.Get(ctx)
		switch {
		case err != nil:
			s.log.Warn("Stats cache read failed", zap.Error(err))
		case cached != nil:
			return cached, nil
		default:
			cacheable, gen = true, g
		}
	}

	amount, count, err := s.source.SuccessTotals(ctx)
	if err != nil {
		return nil, err
	}
	wards, err := s.source.SuccessWardTotals(ctx)
	if err != nil {
		return nil, err
	}
	totals := &Totals{TotalAmount: amount, TotalCount: count, WardWise: wards}

	if cacheable {
		if err := s.cache.Set(ctx, gen, totals); err != nil {
			s.log.Warn("Stats cache write failed", zap.Error(err))
		}
	}
	return totals, nil
}

// ListHistory returns one page of settled contributions, newest first.
func (s *StatsService) ListHistory(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	page := q.Page
	if page < 1 {
		page = DefaultHistoryPage
	}
	size := q.PageSize
	if size < 1 {
		size = DefaultHistoryPageSize
	}
	if size > MaxHistoryPageSize {
		size = MaxHistoryPageSize
	}
	offset := (page - 1) * size

	items, total, err := s.source.SuccessHistory(ctx, q.Ward, offset, size)
	if err != nil {
		return nil, err
	}
	return &HistoryPage{
		Payments: items,
		HasMore:  int64(offset+len(items)) < total,
		Total:    total,
	}, nil
}

const (
	statsCacheKey      = "fundraiser:stats:totals"
	statsGenerationKey = "fundraiser:stats:generation"
)

// setIfGeneration writes the totals only while the generation still matches.
var setIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[1]) or '0'
if gen ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

// RedisStatsCache keeps totals in Redis as JSON next to a generation counter.
type RedisStatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStatsCache(client *redis.Client, ttl time.Duration) *RedisStatsCache {
	return &RedisStatsCache{client: client, ttl: ttl}
}

func (c *RedisStatsCache) Get(ctx context.Context) (*Totals, int64, error) {
	vals, err := c.client.MGet(ctx, statsGenerationKey, statsCacheKey).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis get stats: %w", err)
	}

	var gen int64
	if raw, ok := vals[0].(string); ok {
		if gen, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, 0, fmt.Errorf("decode stats generation: %w", err)
		}
	}
	raw, ok := vals[1].(string)
	if !ok {
		return nil, gen, nil
	}

	var t Totals
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, 0, fmt.Errorf("decode cached stats: %w", err)
	}
	return &t, gen, nil
}

func (c *RedisStatsCache) Set(ctx context.Context, gen int64, t *Totals) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	keys := []string{statsGenerationKey, statsCacheKey}
	if err := setIfGeneration.Run(ctx, c.client, keys, gen, data, c.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis set stats: %w", err)
	}
	return nil
}

func (c *RedisStatsCache) Invalidate(ctx context.Context) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, statsGenerationKey)
		pipe.Del(ctx, statsCacheKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate stats: %w", err)
	}
	return nil
}
