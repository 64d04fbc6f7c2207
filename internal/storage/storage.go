package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/skalibog/bandarscope/internal/config"
	"github.com/skalibog/bandarscope/pkg/logger"
	"github.com/skalibog/bandarscope/pkg/models"
)

// MaxRecent максимальное количество записей, возвращаемых Recent
const MaxRecent = 1000

// Store хранилище истории рекомендаций. Ядро только добавляет записи.
type Store interface {
	Append(ctx context.Context, rec *models.Recommendation) error
	Close() error
}

// Reader чтение истории, используется HTTP слоем
type Reader interface {
	// Recent возвращает последние записи по паре, новые первыми
	Recent(ctx context.Context, pair models.TradingPair, limit int) ([]*models.Recommendation, error)
}

// New создает хранилище по настройке history.backend
func New(ctx context.Context, cfg config.HistoryConfig) (Store, error) {
	var (
		store Store
		err   error
	)

	switch cfg.Backend {
	case "memory", "":
		store = NewMemoryStore(cfg.Capacity)
	case "influxdb":
		store, err = NewInfluxDBStore(ctx, cfg)
	case "sqlite":
		store, err = NewSQLiteStore(cfg.SQLitePath)
	case "redis":
		store, err = NewRedisStore(ctx, cfg)
	case "none":
		return NopStore{}, nil
	default:
		return nil, fmt.Errorf("неизвестный тип хранилища истории: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Хранилище истории инициализировано", zap.String("backend", cfg.Backend))

	if cfg.RetryAttempts > 1 {
		return WithRetry(store, cfg.RetryAttempts), nil
	}
	return store, nil
}

// NopStore отбрасывает записи
type NopStore struct{}

func (NopStore) Append(context.Context, *models.Recommendation) error { return nil }
func (NopStore) Close() error { return nil }

// RetryStore повторяет неудачные записи с экспоненциальной задержкой
type RetryStore struct {
	Store
	attempts int
	min, max time.Duration
}

// WithRetry оборачивает хранилище повторами Append
func WithRetry(store Store, attempts int) *RetryStore {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryStore{Store: store, attempts: attempts, min: 100 * time.Millisecond, max: 2 * time.Second}
}

// Append пытается записать не более attempts раз
func (r *RetryStore) Append(ctx context.Context, rec *models.Recommendation) error {
	b := &backoff.Backoff{Min: r.min, Max: r.max, Factor: 2, Jitter: true}

	var err error
	for i := 0; i < r.attempts; i++ {
		if err = r.Store.Append(ctx, rec); err == nil {
			return nil
		}
		if i == r.attempts-1 {
			break
		}

		d := b.Duration()
		logger.Debug("Повтор записи в историю",
			zap.String("pair", rec.Pair.String()),
			zap.Int("attempt", i+1),
			zap.Duration("delay", d),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
	return fmt.Errorf("запись в историю не удалась после %d попыток: %w", r.attempts, err)
}

// Recent делегирует чтение, если обернутое хранилище его поддерживает
func (r *RetryStore) Recent(ctx context.Context, pair models.TradingPair, limit int) ([]*models.Recommendation, error) {
	reader, ok := r.Store.(Reader)
	if !ok {
		return nil, fmt.Errorf("хранилище не поддерживает чтение истории")
	}
	return reader.Recent(ctx, pair, limit)
}

// AsReader возвращает Reader, если хранилище поддерживает чтение
func AsReader(store Store) (Reader, bool) {
	if rs, ok := store.(*RetryStore); ok {
		store = rs.Store
	}
	r, ok := store.(Reader)
	return r, ok
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxRecent {
		return MaxRecent
	}
	return limit
}
