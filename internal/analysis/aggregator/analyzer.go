package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skalibog/bandarscope/internal/analysis/bandarmology"
	"github.com/skalibog/bandarscope/internal/analysis/recommendation"
	"github.com/skalibog/bandarscope/internal/analysis/technical"
	"github.com/skalibog/bandarscope/internal/cache"
	"github.com/skalibog/bandarscope/internal/config"
	"github.com/skalibog/bandarscope/internal/metrics"
	"github.com/skalibog/bandarscope/internal/storage"
	"github.com/skalibog/bandarscope/pkg/logger"
	"github.com/skalibog/bandarscope/pkg/models"
)

const appendTimeout = 5 * time.Second

// Source источник рыночных данных (шлюз биржи)
type Source interface {
	Ticker(ctx context.Context, pair models.TradingPair) (*models.Ticker, error)
	Depth(ctx context.Context, pair models.TradingPair) (*models.OrderBook, error)
	History(ctx context.Context, pair models.TradingPair) (models.PriceHistory, error)
}

// Analyzer объединяет все аналитические компоненты
type Analyzer struct {
	source        Source
	cache         *cache.Cache
	store         storage.Store
	metrics       *metrics.Metrics
	ttl           config.CacheConfig
	maxConcurrent int

	technicalAnal    *technical.Analyzer
	bandarmologyAnal *bandarmology.Analyzer
	engine           *recommendation.Engine
}

// NewAnalyzer создает новый анализатор
func NewAnalyzer(cfg *config.Config, source Source, c *cache.Cache, store storage.Store, m *metrics.Metrics) (*Analyzer, error) {
	engine, err := recommendation.NewEngine(cfg.Recommendation)
	if err != nil {
		return nil, err
	}
	if store == nil {
		store = storage.NopStore{}
	}

	return &Analyzer{
		source:           source,
		cache:            c,
		store:            store,
		metrics:          m,
		ttl:              cfg.Cache,
		maxConcurrent:    max(cfg.Analysis.MaxConcurrent, 1),
		technicalAnal:    technical.NewAnalyzer(cfg.Analysis.Technical),
		bandarmologyAnal: bandarmology.NewAnalyzer(cfg.Analysis.Bandarmology),
		engine:           engine,
	}, nil
}

// snapshot неизменяемый набор данных по паре для одного анализа
type snapshot struct {
	ticker  *models.Ticker
	book    *models.OrderBook
	history models.PriceHistory
	stale   bool
}

// Analyze формирует рекомендацию для пары
func (a *Analyzer) Analyze(ctx context.Context, rawPair string) (*models.Recommendation, error) {
	start := time.Now()

	pair, err := models.ParsePair(rawPair)
	if err != nil {
		a.metrics.IncAnalysisError("input")
		return nil, err
	}

	snap, err := a.fetch(ctx, pair)
	if err != nil {
		a.metrics.IncAnalysisError("fetch")
		logger.Warn("Не удалось получить данные для анализа",
			zap.String("pair", pair.String()),
			zap.Error(err))
		return nil, err
	}

	// Технический анализ и анализ стакана параллельно над одним снимком
	var (
		wg               sync.WaitGroup
		indicators       models.IndicatorSet
		book             *models.BandarmologyScore
		techErr, bookErr error
	)
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer recoverAnalyzer("technical", &techErr)
		indicators, techErr = a.technicalAnal.Analyze(snap.history)
	}()

	go func() {
		defer wg.Done()
		defer recoverAnalyzer("bandarmology", &bookErr)
		book, bookErr = a.bandarmologyAnal.Analyze(snap.book)
	}()

	wg.Wait()

	history := snap.history
	if techErr != nil {
		a.metrics.IncAnalysisError("technical")
		logger.Warn("Технический анализ недоступен", zap.String("pair", pair.String()), zap.Error(techErr))
		indicators = technical.AbsentSet(techErr.Error())
		// некорректная история не годится и для импульса
		history = nil
	}
	indicators[technical.Momentum] = technical.AnalyzeMomentum(snap.ticker, history)
	if bookErr != nil {
		a.metrics.IncAnalysisError("bandarmology")
		logger.Warn("Анализ стакана недоступен", zap.String("pair", pair.String()), zap.Error(bookErr))
		book = nil
	}

	rec := a.engine.Recommend(pair, indicators, book)
	if techErr != nil {
		rec.TechnicalError = techErr.Error()
	}
	if bookErr != nil {
		rec.BandarmologyError = bookErr.Error()
	}
	rec.Price = snap.ticker.Last
	rec.Volume24h = snap.ticker.Volume24h
	rec.Stale = snap.stale

	a.record(ctx, rec)
	a.metrics.ObserveAnalysis(string(rec.Action), time.Since(start))

	logger.Debug("Анализ завершен",
		zap.String("pair", pair.String()),
		zap.String("action", string(rec.Action)),
		zap.Float64("score", rec.Score),
		zap.Float64("confidence", rec.Confidence),
		zap.Bool("stale", rec.Stale))

	return rec, nil
}

// fetch получает тикер, стакан и историю одновременно через кэш.
// Любая ошибка прерывает анализ.
func (a *Analyzer) fetch(ctx context.Context, pair models.TradingPair) (*snapshot, error) {
	snap := &snapshot{}
	var staleTicker, staleBook, staleHistory bool

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		res, err := cache.GetOrFetch(gctx, a.cache, cacheKey(pair, "ticker"), a.ttl.TickerTTL,
			func(ctx context.Context) (*models.Ticker, error) { return a.source.Ticker(ctx, pair) })
		if err != nil {
			return fmt.Errorf("тикер %s: %w", pair, err)
		}
		snap.ticker, staleTicker = res.Value, res.Stale
		return nil
	})

	g.Go(func() error {
		res, err := cache.GetOrFetch(gctx, a.cache, cacheKey(pair, "depth"), a.ttl.DepthTTL,
			func(ctx context.Context) (*models.OrderBook, error) { return a.source.Depth(ctx, pair) })
		if err != nil {
			return fmt.Errorf("стакан %s: %w", pair, err)
		}
		snap.book, staleBook = res.Value, res.Stale
		return nil
	})

	g.Go(func() error {
		res, err := cache.GetOrFetch(gctx, a.cache, cacheKey(pair, "history"), a.ttl.HistoryTTL,
			func(ctx context.Context) (models.PriceHistory, error) { return a.source.History(ctx, pair) })
		if err != nil {
			return fmt.Errorf("история %s: %w", pair, err)
		}
		snap.history, staleHistory = res.Value, res.Stale
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap.stale = staleTicker || staleBook || staleHistory
	return snap, nil
}

// record сохраняет рекомендацию в историю; ошибка записи не влияет на результат
func (a *Analyzer) record(ctx context.Context, rec *models.Recommendation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()

	if err := a.store.Append(ctx, rec); err != nil {
		a.metrics.IncHistoryAppend("error")
		logger.Error("Не удалось сохранить рекомендацию",
			zap.String("pair", rec.Pair.String()),
			zap.String("id", rec.ID),
			zap.Error(err))
		return
	}
	a.metrics.IncHistoryAppend("ok")
}

// AnalyzeAll анализирует пары с ограниченным параллелизмом.
// Возвращает успешные результаты в порядке пар; ошибки по отдельным парам логируются.
func (a *Analyzer) AnalyzeAll(ctx context.Context, pairs []string) []*models.Recommendation {
	results := make([]*models.Recommendation, len(pairs))

	var g errgroup.Group
	g.SetLimit(a.maxConcurrent)

	for i, p := range pairs {
		g.Go(func() error {
			rec, err := a.Analyze(ctx, p)
			if err != nil {
				logger.Warn("Ошибка анализа пары", zap.String("pair", p), zap.Error(err))
				return nil
			}
			results[i] = rec
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*models.Recommendation, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Invalidate сбрасывает закэшированные данные пары
func (a *Analyzer) Invalidate(rawPair string) (int, error) {
	pair, err := models.ParsePair(rawPair)
	if err != nil {
		return 0, err
	}
	n := a.cache.Invalidate(pair.String() + ":")
	logger.Info("Кэш пары сброшен", zap.String("pair", pair.String()), zap.Int("keys", n))
	return n, nil
}

func cacheKey(pair models.TradingPair, kind string) string {
	return pair.String() + ":" + kind
}

// recoverAnalyzer превращает панику анализатора в ошибку этой стороны
func recoverAnalyzer(name string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("паника в анализаторе %s: %v", name, r)
	}
}
