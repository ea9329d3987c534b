package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ai-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore espelha os eventos de uso no Redis. Serve para somar o
// consumo de várias instâncias; o snapshot servido pelo gateway continua vindo
// da memória local.
type RedisStatsStore struct {
	rdb redis.Cmdable

	prefix string
	// ttl aplica apenas em chaves de série temporal / por identidade.
	// total e identities são cumulativos e não expiram.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "aigateway:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record implementa domain.StatsStore com a mesma regra da memória: bloqueios
// só incrementam rate_limit_hits.
func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	fields := statsFields(ev.Outcome)
	totalKey := s.prefix + ":total"

	pipe := s.rdb.Pipeline()
	for _, f := range fields {
		pipe.HIncrBy(ctx, totalKey, f, 1)
	}
	pipe.HIncrBy(ctx, s.prefix+":outcome", string(ev.Outcome), 1)

	if ev.Outcome != domain.OutcomeDenied {
		id := strings.TrimSpace(string(ev.Identity))
		if id != "" {
			pipe.PFAdd(ctx, s.prefix+":identities", id)
		}
	}

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		for _, f := range fields {
			pipe.HIncrBy(ctx, bucketKey, f, 1)
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if ev.Method != "" || ev.Path != "" {
		routeKey := s.prefix + ":route"
		routeField := strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path)
		routeField = strings.TrimSpace(routeField)
		if routeField != "" {
			pipe.HIncrBy(ctx, routeKey, routeField+":"+string(ev.Outcome), 1)
		}
	}

	if s.trackKeys {
		k := strings.TrimSpace(string(ev.Identity))
		if k != "" {
			keyKey := s.prefix + ":key:" + k
			for _, f := range fields {
				pipe.HIncrBy(ctx, keyKey, f, 1)
			}
			if s.ttl > 0 {
				pipe.Expire(ctx, keyKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// statsFields devolve os campos de hash afetados por um desfecho.
func statsFields(o domain.Outcome) []string {
	if o == domain.OutcomeDenied {
		return []string{"rate_limit_hits"}
	}
	if o.Success() {
		return []string{"requests"}
	}
	return []string{"requests", "errors"}
}
