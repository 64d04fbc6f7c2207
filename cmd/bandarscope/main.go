package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skalibog/bandarscope/internal/analysis/aggregator"
	"github.com/skalibog/bandarscope/internal/api"
	"github.com/skalibog/bandarscope/internal/cache"
	"github.com/skalibog/bandarscope/internal/config"
	"github.com/skalibog/bandarscope/internal/exchange"
	"github.com/skalibog/bandarscope/internal/metrics"
	"github.com/skalibog/bandarscope/internal/scheduler"
	"github.com/skalibog/bandarscope/internal/storage"
	"github.com/skalibog/bandarscope/internal/ui"
	"github.com/skalibog/bandarscope/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "путь к файлу конфигурации (необязательно)")
	uiFlag := flag.Bool("ui", false, "запустить терминальный интерфейс")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}
	if *uiFlag {
		cfg.UI.Enabled = true
	}

	// В режиме UI консольный вывод логов ломает экран
	if err := logger.Init(logger.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: cfg.Log.Console && !cfg.UI.Enabled,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("Завершение с ошибкой", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Работа завершена")
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := metrics.New()

	limiter := exchange.NewRateLimiter(cfg.RateLimit.Calls, cfg.RateLimit.Window,
		exchange.Policy(cfg.RateLimit.Policy), cfg.RateLimit.WaitTimeout, m)
	gateway := exchange.NewGateway(newClient(cfg.Exchange), limiter, exchange.GatewayOptions{
		RequestTimeout: cfg.Exchange.RequestTimeout,
		Interval:       cfg.Exchange.Interval,
		HistoryBars:    cfg.Exchange.HistoryBars,
		DepthLimit:     cfg.Exchange.DepthLimit,
		Metrics:        m,
	})

	freshness := cache.New(cache.Options{
		FetchTimeout: cfg.Cache.FetchTimeout,
		MaxStale:     cfg.Cache.MaxStale,
		Metrics:      m,
	})

	store, err := storage.New(ctx, cfg.History)
	if err != nil {
		return fmt.Errorf("ошибка инициализации хранилища: %w", err)
	}
	defer store.Close()

	analyzer, err := aggregator.NewAnalyzer(cfg, gateway, freshness, store, m)
	if err != nil {
		return fmt.Errorf("ошибка инициализации анализатора: %w", err)
	}

	logger.Info("bandarscope запущен",
		zap.String("provider", cfg.Exchange.Provider),
		zap.String("history", cfg.History.Backend),
		zap.Strings("pairs", cfg.Scheduler.Pairs))

	var dashboard *ui.TermUI
	var sinks []scheduler.Sink
	if cfg.UI.Enabled {
		dashboard = ui.NewTermUI(cfg.UI, cfg.Log.File)
		sinks = append(sinks, dashboard.Update)
	}

	if cfg.Scheduler.Schedule != "" && len(cfg.Scheduler.Pairs) > 0 {
		sched := scheduler.New(ctx, analyzer, cfg.Scheduler.Pairs, sinks...)
		if err := sched.Register(cfg.Scheduler.Schedule); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
		go sched.RunNow()
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.Enabled {
		reader, _ := storage.AsReader(store)
		srv := api.NewServer(analyzer, reader, m.Handler())
		g.Go(func() error {
			if err := srv.ListenAndServe(gctx, cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ошибка HTTP сервера: %w", err)
			}
			return nil
		})
	}

	if dashboard != nil {
		g.Go(func() error {
			// выход из интерфейса завершает приложение
			defer cancel()
			return dashboard.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	return g.Wait()
}

// newClient создает клиент выбранной биржи
func newClient(cfg config.ExchangeConfig) exchange.Client {
	httpClient := &http.Client{}

	if cfg.Provider == "binance" {
		baseURL := cfg.BaseURL
		if strings.Contains(baseURL, "indodax") {
			baseURL = ""
		}
		return exchange.NewBinanceClient(baseURL, cfg.APIKey, cfg.APISecret, httpClient)
	}
	return exchange.NewIndodaxClient(cfg.BaseURL, httpClient)
}
