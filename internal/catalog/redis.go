package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/determined-ai/rcq/internal/config"
	"github.com/determined-ai/rcq/pkg/model"
)

// Redis keeps job history in a capped list per source and known products in a set per
// platform:
//
//	<prefix>:history:<lower source path>  list of JSON JobHistory, newest first
//	<prefix>:products:<platform>          set of lower relative paths
//	<prefix>:built:<lower source path>    set of <platform>:<lower relative path> built from it
type Redis struct {
	client     *redis.Client
	prefix     string
	historyLen int64
}

// NewRedis connects to Redis.
func NewRedis(ctx context.Context, c *config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", c.Addr)
	}
	return &Redis{client: client, prefix: c.KeyPrefix, historyLen: int64(c.HistoryLen)}, nil
}

func (r *Redis) historyKey(sourcePath string) string {
	return fmt.Sprintf("%s:history:%s", r.prefix, strings.ToLower(sourcePath))
}

func (r *Redis) productsKey(platform string) string {
	return fmt.Sprintf("%s:products:%s", r.prefix, platform)
}

func (r *Redis) builtKey(sourcePath string) string {
	return fmt.Sprintf("%s:built:%s", r.prefix, strings.ToLower(sourcePath))
}

// AssetExists implements Catalog.
func (r *Redis) AssetExists(ctx context.Context, platform, searchTerm string) (bool, error) {
	term := strings.ToLower(strings.ReplaceAll(searchTerm, `\`, "/"))
	if term == "" {
		return false, nil
	}
	key := r.productsKey(platform)
	ok, err := r.client.SIsMember(ctx, key, term).Result()
	if err != nil {
		return false, errors.Wrapf(err, "checking %s", key)
	}
	if ok {
		return true, nil
	}

	iter := r.client.SScan(ctx, key, 0, "*/"+globEscape(term), 0).Iterator()
	if iter.Next(ctx) {
		return true, nil
	}
	if err := iter.Err(); err != nil {
		return false, errors.Wrapf(err, "scanning %s", key)
	}
	return false, nil
}

// RecordJob implements Catalog.
func (r *Redis) RecordJob(ctx context.Context, h model.JobHistory) error {
	b, err := json.Marshal(h)
	if err != nil {
		return errors.Wrap(err, "encoding job history")
	}
	key := r.historyKey(h.SourcePath)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, b)
		pipe.LTrim(ctx, key, 0, r.historyLen-1)
		if h.Succeeded() {
			rel := strings.ToLower(h.RelativePath)
			pipe.SAdd(ctx, r.productsKey(h.Platform), rel)
			pipe.SAdd(ctx, r.builtKey(h.SourcePath), h.Platform+":"+rel)
		}
		return nil
	})
	return errors.Wrapf(err, "recording job %d", h.RunKey)
}

// JobHistory implements Catalog.
func (r *Redis) JobHistory(ctx context.Context, sourcePath string) ([]model.JobHistory, error) {
	key := r.historyKey(sourcePath)
	raw, err := r.client.LRange(ctx, key, 0, historyLimit-1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", key)
	}
	history := make([]model.JobHistory, 0, len(raw))
	for _, s := range raw {
		var h model.JobHistory
		if err := json.Unmarshal([]byte(s), &h); err != nil {
			return nil, errors.Wrapf(err, "decoding %s", key)
		}
		history = append(history, h)
	}
	return history, nil
}

// RemoveSource implements Catalog.
func (r *Redis) RemoveSource(ctx context.Context, sourcePath string, folder bool) error {
	keys := []string{r.builtKey(sourcePath)}
	if folder {
		keys = nil
		pattern := globEscape(r.builtKey(strings.TrimSuffix(sourcePath, "/")+"/")) + "*"
		iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return errors.Wrapf(err, "scanning products of %s", sourcePath)
		}
	}

	for _, key := range keys {
		built, err := r.client.SMembers(ctx, key).Result()
		if err != nil {
			return errors.Wrapf(err, "reading %s", key)
		}
		_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, b := range built {
				platform, rel, ok := strings.Cut(b, ":")
				if !ok {
					continue
				}
				pipe.SRem(ctx, r.productsKey(platform), rel)
			}
			pipe.Del(ctx, key)
			return nil
		})
		if err != nil {
			return errors.Wrapf(err, "removing products of %s", key)
		}
	}
	return nil
}

// Close implements Catalog.
func (r *Redis) Close() error {
	return r.client.Close()
}

func globEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`).Replace(s)
}
