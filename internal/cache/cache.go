package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/skalibog/bandarscope/internal/metrics"
	"github.com/skalibog/bandarscope/pkg/logger"
	"github.com/skalibog/bandarscope/pkg/models"
)

// Options параметры кэша
type Options struct {
	// FetchTimeout ограничивает загрузку, общую для всех ожидающих вызовов
	FetchTimeout time.Duration
	// MaxStale максимальный возраст устаревшего значения, которое можно вернуть при ошибке; 0 - без ограничения
	MaxStale time.Duration
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Result значение из кэша
type Result[V any] struct {
	Value     V
	Stale     bool
	FetchedAt time.Time
}

// Cache кэш с ограниченным временем жизни, объединением одновременных загрузок
// и возвратом устаревшего значения при недоступности источника.
type Cache struct {
	opts    Options
	entries sync.Map // string -> *entry; тип значения по ключу постоянен
	group   singleflight.Group
}

type entry struct {
	mu        sync.RWMutex
	value     any
	fetchedAt time.Time
	ok        bool
}

func (e *entry) load() (any, time.Time, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.value, e.fetchedAt, e.ok
}

func (e *entry) store(v any, at time.Time) {
	e.mu.Lock()
	e.value, e.fetchedAt, e.ok = v, at, true
	e.mu.Unlock()
}

// New создает кэш
func New(opts Options) *Cache {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 45 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{opts: opts}
}

// Loader загружает значение из источника
type Loader[V any] func(ctx context.Context) (V, error)

// loaded результат общей загрузки вместе со временем получения
type loaded struct {
	value any
	at    time.Time
}

// GetOrFetch возвращает значение моложе ttl без обращения к источнику.
// Иначе выполняется не более одной загрузки на ключ; все ожидающие получают один результат.
// Отмена ctx вызывающего не отменяет общую загрузку. Ожидание ограничено FetchTimeout,
// даже если загрузчик не реагирует на отмену контекста.
func GetOrFetch[V any](ctx context.Context, c *Cache, key string, ttl time.Duration, loader Loader[V]) (Result[V], error) {
	if v, at, ok := c.entry(key).load(); ok && c.fresh(at, ttl) {
		c.opts.Metrics.IncCache("hit")
		return Result[V]{Value: v.(V), FetchedAt: at}, nil
	}
	c.opts.Metrics.IncCache("miss")

	ch := c.group.DoChan(key, func() (any, error) {
		// предыдущая загрузка могла завершиться, пока вызывающий шел к слоту
		if v, at, ok := c.entry(key).load(); ok && c.fresh(at, ttl) {
			return loaded{value: v, at: at}, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.FetchTimeout)
		defer cancel()

		v, err := loader(fetchCtx)
		if err != nil {
			if fetchCtx.Err() != nil && !isTyped(err) {
				err = fmt.Errorf("%w: загрузка %s прервана по таймауту: %w", models.ErrUpstreamUnavailable, key, err)
			}
			return nil, err
		}

		// запись идет в актуальную запись ключа: Invalidate мог заменить ее во время загрузки
		at := c.opts.Now()
		c.entry(key).store(v, at)
		c.opts.Metrics.SetCacheEntries(c.Len())
		return loaded{value: v, at: at}, nil
	})

	timer := time.NewTimer(c.opts.FetchTimeout)
	defer timer.Stop()

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return Result[V]{}, ctx.Err()
	case res = <-ch:
	case <-timer.C:
		// загрузчик не уложился в таймаут: освобождаем слот для следующих вызовов
		c.group.Forget(key)
		res = singleflight.Result{
			Err: fmt.Errorf("%w: загрузка %s не завершилась за %s", models.ErrUpstreamUnavailable, key, c.opts.FetchTimeout),
		}
	}

	if res.Shared {
		c.opts.Metrics.IncCache("coalesced")
	}

	if res.Err == nil {
		l := res.Val.(loaded)
		return Result[V]{Value: l.value.(V), FetchedAt: l.at}, nil
	}

	if v, at, ok := c.entry(key).load(); ok && (c.opts.MaxStale == 0 || c.opts.Now().Sub(at) <= c.opts.MaxStale) {
		c.opts.Metrics.IncCache("stale")
		logger.Warn("Источник недоступен, возвращаем устаревшее значение",
			zap.String("key", key),
			zap.Time("fetched_at", at),
			zap.Error(res.Err))
		return Result[V]{Value: v.(V), Stale: true, FetchedAt: at}, nil
	}

	return Result[V]{}, normalize(res.Err)
}

func (c *Cache) fresh(at time.Time, ttl time.Duration) bool {
	return c.opts.Now().Sub(at) < ttl
}

// Invalidate удаляет все ключи с указанным префиксом
func (c *Cache) Invalidate(prefix string) int {
	var n int
	c.entries.Range(func(k, _ any) bool {
		if strings.HasPrefix(k.(string), prefix) {
			c.entries.Delete(k)
			n++
		}
		return true
	})
	c.opts.Metrics.SetCacheEntries(c.Len())
	return n
}

// Len количество ключей с загруженным значением
func (c *Cache) Len() int {
	var n int
	c.entries.Range(func(_, v any) bool {
		if _, _, ok := v.(*entry).load(); ok {
			n++
		}
		return true
	})
	return n
}

func (c *Cache) entry(key string) *entry {
	if e, ok := c.entries.Load(key); ok {
		return e.(*entry)
	}
	e, _ := c.entries.LoadOrStore(key, &entry{})
	return e.(*entry)
}

func isTyped(err error) bool {
	return errors.Is(err, models.ErrRateLimited) ||
		errors.Is(err, models.ErrInvalidInput) ||
		errors.Is(err, models.ErrUpstreamUnavailable)
}

// normalize оставляет ErrRateLimited и ErrInvalidInput как есть, остальное сводит к ErrUpstreamUnavailable
func normalize(err error) error {
	if isTyped(err) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrUpstreamUnavailable, err)
}
