package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/skalibog/bandarscope/pkg/logger"
	"github.com/skalibog/bandarscope/pkg/models"
)

// Runner анализирует набор пар
type Runner interface {
	AnalyzeAll(ctx context.Context, pairs []string) []*models.Recommendation
}

// Sink получает результаты каждого прогона
type Sink func(recs []*models.Recommendation)

// Scheduler периодически обновляет рекомендации по отслеживаемым парам
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	pairs  []string
	sinks  []Sink
	ctx    context.Context

	mu     sync.RWMutex
	latest map[string]*models.Recommendation
	lastAt time.Time
}

// New создает планировщик. Пересекающиеся прогоны пропускаются.
func New(ctx context.Context, runner Runner, pairs []string, sinks ...Sink) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		runner: runner,
		pairs:  pairs,
		sinks:  sinks,
		ctx:    ctx,
		latest: make(map[string]*models.Recommendation),
	}
}

// Register регистрирует задачу обновления по расписанию (cron или @every)
func (s *Scheduler) Register(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.RunNow); err != nil {
		return fmt.Errorf("некорректное расписание %q: %w", schedule, err)
	}
	return nil
}

// Start запускает планировщик
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("Планировщик запущен", zap.Strings("pairs", s.pairs))
}

// Stop останавливает планировщик и ждет завершения текущего прогона
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logger.Info("Планировщик остановлен")
}

// RunNow выполняет обновление немедленно
func (s *Scheduler) RunNow() {
	if s.ctx.Err() != nil {
		return
	}

	start := time.Now()
	recs := s.runner.AnalyzeAll(s.ctx, s.pairs)

	s.mu.Lock()
	for _, r := range recs {
		s.latest[r.Pair.String()] = r
	}
	s.lastAt = time.Now()
	s.mu.Unlock()

	logger.Info("Обновление рекомендаций завершено",
		zap.Int("pairs", len(s.pairs)),
		zap.Int("ok", len(recs)),
		zap.Duration("duration", time.Since(start)))

	for _, sink := range s.sinks {
		sink(recs)
	}
}

// Latest возвращает последние рекомендации по парам в порядке отслеживания
func (s *Scheduler) Latest() ([]*models.Recommendation, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Recommendation, 0, len(s.latest))
	for _, p := range s.pairs {
		pair, err := models.ParsePair(p)
		if err != nil {
			continue
		}
		if r, ok := s.latest[pair.String()]; ok {
			out = append(out, r)
		}
	}
	return out, s.lastAt
}
