package storage

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/skalibog/bandarscope/internal/config"
	"github.com/skalibog/bandarscope/pkg/logger"
	"github.com/skalibog/bandarscope/pkg/models"
)

// RedisStore хранит последние рекомендации в списке на каждую пару
type RedisStore struct {
	client   *goredis.Client
	capacity int64
}

// NewRedisStore подключается к Redis и проверяет соединение
func NewRedisStore(ctx context.Context, cfg config.HistoryConfig) (*RedisStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("Подключено к Redis", zap.String("addr", cfg.RedisAddr))
	return newRedisStore(client, cfg.Capacity), nil
}

func newRedisStore(client *goredis.Client, capacity int) *RedisStore {
	if capacity <= 0 {
		capacity = MaxRecent
	}
	return &RedisStore{client: client, capacity: int64(capacity)}
}

func redisKey(pair models.TradingPair) string {
	return "bandarscope:recommendations:" + pair.String()
}

func (s *RedisStore) Append(ctx context.Context, rec *models.Recommendation) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ошибка сериализации рекомендации: %w", err)
	}

	key := redisKey(rec.Pair)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, s.capacity-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ошибка записи в Redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, pair models.TradingPair, limit int) ([]*models.Recommendation, error) {
	raws, err := s.client.LRange(ctx, redisKey(pair), 0, int64(clampLimit(limit))-1).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из Redis: %w", err)
	}

	recs := make([]*models.Recommendation, 0, len(raws))
	for _, raw := range raws {
		rec, err := decodeRecommendation([]byte(raw))
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
