package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xiaot623/gogo/workspace/internal/domain"
)

var _ RunLog = (*RedisRunLog)(nil)

// RedisRunLog keeps run logs in Redis. Each run has a counter that assigns
// log ids and a sorted set of entries scored by log id.
type RedisRunLog struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisRunLog returns a run log backed by rdb. Keys are namespaced by
// prefix, which defaults to "runlog".
func NewRedisRunLog(rdb *redis.Client, prefix string) *RedisRunLog {
	if prefix == "" {
		prefix = "runlog"
	}
	return &RedisRunLog{rdb: rdb, prefix: prefix}
}

type redisEntry struct {
	LogID     int64     `json:"log_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Keys of one run share a hash tag so the append script can touch both.
func (r *RedisRunLog) seqKey(runID string) string     { return r.prefix + ":{" + runID + "}:seq" }
func (r *RedisRunLog) entriesKey(runID string) string { return r.prefix + ":{" + runID + "}:entries" }

// appendScript assigns the next log id and stores the entry in one step, so
// an entry is never visible before those with smaller ids.
var appendScript = redis.NewScript(`
local id = redis.call('INCR', KEYS[1])
local member = cjson.encode({log_id = id, content = ARGV[1], created_at = ARGV[2]})
redis.call('ZADD', KEYS[2], id, member)
return id
`)

// Append assigns the next log id and stores the entry atomically.
func (r *RedisRunLog) Append(ctx context.Context, runID, content string) (int64, error) {
	keys := []string{r.seqKey(runID), r.entriesKey(runID)}
	createdAt := time.Now().UTC().Format(time.RFC3339Nano)
	logID, err := appendScript.Run(ctx, r.rdb, keys, content, createdAt).Int64()
	if err != nil {
		return 0, fmt.Errorf("append run log: %w", err)
	}
	return logID, nil
}

// List returns up to limit entries with log id greater than afterLogID.
func (r *RedisRunLog) List(ctx context.Context, runID string, afterLogID int64, limit int) ([]domain.RunLogEntry, error) {
	by := &redis.ZRangeBy{Min: "(" + strconv.FormatInt(afterLogID, 10), Max: "+inf"}
	if limit > 0 {
		by.Count = int64(limit)
	}
	members, err := r.rdb.ZRangeByScore(ctx, r.entriesKey(runID), by).Result()
	if err != nil {
		return nil, fmt.Errorf("list run log: %w", err)
	}
	entries := make([]domain.RunLogEntry, 0, len(members))
	for _, m := range members {
		var e redisEntry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			return nil, fmt.Errorf("decode run log entry: %w", err)
		}
		entries = append(entries, domain.RunLogEntry{
			LogID:     e.LogID,
			RunID:     runID,
			Content:   e.Content,
			CreatedAt: e.CreatedAt,
		})
	}
	return entries, nil
}
