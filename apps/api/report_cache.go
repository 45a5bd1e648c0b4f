package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ecomed/libs/reportflow"

	goredis "github.com/redis/go-redis/v9"
)

const (
	reportListCacheKey           = "ecomed:reports:all"
	reportListCacheGenerationKey = "ecomed:reports:generation"
)

// reportListCache holds the public list. Every invalidation bumps a
// generation; Set only stores a list read under the current generation.
type reportListCache interface {
	// Get reports ok=false on a miss, with the generation current at the read.
	Get(ctx context.Context) (reports []reportflow.Report, generation int64, ok bool, err error)
	Set(ctx context.Context, generation int64, reports []reportflow.Report) error
	Invalidate(ctx context.Context) error
}

type redisReportCache struct {
	client        *goredis.Client
	key           string
	generationKey string
	ttl           time.Duration
}

func newRedisReportCache(client *goredis.Client, ttl time.Duration) *redisReportCache {
	return &redisReportCache{
		client:        client,
		key:           reportListCacheKey,
		generationKey: reportListCacheGenerationKey,
		ttl:           ttl,
	}
}

func (c *redisReportCache) Get(ctx context.Context) ([]reportflow.Report, int64, bool, error) {
	values, err := c.client.MGet(ctx, c.key, c.generationKey).Result()
	if err != nil {
		return nil, 0, false, err
	}
	generation, err := parseCacheGeneration(values[1])
	if err != nil {
		return nil, 0, false, err
	}

	raw, ok := values[0].(string)
	if !ok {
		return nil, generation, false, nil
	}
	var reports []reportflow.Report
	if err := json.Unmarshal([]byte(raw), &reports); err != nil {
		return nil, generation, false, err
	}
	return reports, generation, true, nil
}

func (c *redisReportCache) Set(ctx context.Context, generation int64, reports []reportflow.Report) error {
	b, err := json.Marshal(reports)
	if err != nil {
		return err
	}

	err = c.client.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, c.generationKey).Int64()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		if current != generation {
			return errStaleReportList
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, c.key, b, c.ttl)
			return nil
		})
		return err
	}, c.generationKey)
	if errors.Is(err, errStaleReportList) || errors.Is(err, goredis.TxFailedErr) {
		return nil
	}
	return err
}

func (c *redisReportCache) Invalidate(ctx context.Context) error {
	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Incr(ctx, c.generationKey)
		pipe.Del(ctx, c.key)
		return nil
	})
	return err
}

var errStaleReportList = errors.New("report list read before the last invalidation")

func parseCacheGeneration(value any) (int64, error) {
	if value == nil {
		return 0, nil
	}
	raw, ok := value.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected cache generation %T", value)
	}
	return strconv.ParseInt(raw, 10, 64)
}

// listReports serves the full newest-first list, through the cache when one is
// configured. Cache failures fall back to the store.
func (a *App) listReports(ctx context.Context) ([]reportflow.Report, error) {
	var (
		generation int64
		fill       bool
	)
	if a.cache != nil {
		cached, gen, ok, err := a.cache.Get(ctx)
		generation = gen
		fill = err == nil
		switch {
		case err != nil:
			a.metrics.cacheLookup("error")
			a.log.Warn("report cache read failed", "err", err)
		case ok:
			a.metrics.cacheLookup("hit")
			return cached, nil
		default:
			a.metrics.cacheLookup("miss")
		}
	}

	var (
		reports []reportflow.Report
		err     error
	)
	if a.reportsList != nil {
		reports, err = a.reportsList(ctx)
	} else {
		reports, err = a.storeListReports(ctx)
	}
	if err != nil {
		return nil, err
	}
	if reports == nil {
		reports = []reportflow.Report{}
	}

	if fill {
		if err := a.cache.Set(ctx, generation, reports); err != nil {
			a.log.Warn("report cache write failed", "err", err)
		}
	}
	return reports, nil
}

func (a *App) invalidateReportCache(ctx context.Context) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Invalidate(ctx); err != nil {
		a.log.Warn("report cache invalidation failed", "err", err)
	}
}
