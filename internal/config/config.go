package config

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Exchange       ExchangeConfig       `yaml:"exchange"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Cache          CacheConfig          `yaml:"cache"`
	Analysis       AnalysisConfig       `yaml:"analysis"`
	Recommendation RecommendationConfig `yaml:"recommendation"`
	History        HistoryConfig        `yaml:"history"`
	Server         ServerConfig         `yaml:"server"`
	Scheduler      SchedulerConfig      `yaml:"scheduler"`
	Log            LogConfig            `yaml:"log"`
	UI             UIConfig             `yaml:"ui"`
}

// ExchangeConfig содержит настройки подключения к бирже
type ExchangeConfig struct {
	Provider       string        `yaml:"provider" validate:"oneof=indodax binance"`
	BaseURL        string        `yaml:"base_url" validate:"required,url"`
	APIKey         string        `yaml:"api_key"`
	APISecret      string        `yaml:"api_secret"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
	Interval       string        `yaml:"interval" validate:"required"`
	HistoryBars    int           `yaml:"history_bars" validate:"gte=1,lte=1000"`
	DepthLimit     int           `yaml:"depth_limit" validate:"gte=5,lte=1000"`
}

// RateLimitConfig настройки общего лимитера запросов
type RateLimitConfig struct {
	Calls       int           `yaml:"calls" validate:"gte=1"`
	Window      time.Duration `yaml:"window" validate:"gt=0"`
	Policy      string        `yaml:"policy" validate:"oneof=block fail_fast"`
	WaitTimeout time.Duration `yaml:"wait_timeout" validate:"gte=0"`
}

// CacheConfig настройки кэша
type CacheConfig struct {
	TickerTTL    time.Duration `yaml:"ticker_ttl" validate:"gt=0"`
	DepthTTL     time.Duration `yaml:"depth_ttl" validate:"gt=0"`
	HistoryTTL   time.Duration `yaml:"history_ttl" validate:"gt=0"`
	MaxStale     time.Duration `yaml:"max_stale" validate:"gte=0"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
}

// AnalysisConfig содержит настройки аналитических модулей
type AnalysisConfig struct {
	MaxConcurrent int                `yaml:"max_concurrent" validate:"gte=1"`
	Technical     TechnicalConfig    `yaml:"technical"`
	Bandarmology  BandarmologyConfig `yaml:"bandarmology"`
}

// TechnicalConfig настройки технического анализа
type TechnicalConfig struct {
	RSIPeriod       int     `yaml:"rsi_period" validate:"gte=2"`
	RSIOversold     float64 `yaml:"rsi_oversold" validate:"gt=0,lt=100"`
	RSIOverbought   float64 `yaml:"rsi_overbought" validate:"gt=0,lt=100,gtfield=RSIOversold"`
	MACDFast        int     `yaml:"macd_fast" validate:"gte=2"`
	MACDSlow        int     `yaml:"macd_slow" validate:"gtfield=MACDFast"`
	MACDSignal      int     `yaml:"macd_signal" validate:"gte=2"`
	SMAFast         int     `yaml:"sma_fast" validate:"gte=2"`
	SMASlow         int     `yaml:"sma_slow" validate:"gtfield=SMAFast"`
	BBPeriod        int     `yaml:"bb_period" validate:"gte=2"`
	BBDeviation     float64 `yaml:"bb_deviation" validate:"gt=0"`
	ROCPeriod       int     `yaml:"roc_period" validate:"gte=1"`
	VolumePeriod    int     `yaml:"volume_period" validate:"gte=2"`
	VolumeSpike     float64 `yaml:"volume_spike" validate:"gt=1"`
	VolumeDeltaBars int     `yaml:"volume_delta_bars" validate:"gte=2"`
	ATRPeriod       int     `yaml:"atr_period" validate:"gte=2"`
	IchimokuTenkan  int     `yaml:"ichimoku_tenkan" validate:"gte=2"`
	IchimokuKijun   int     `yaml:"ichimoku_kijun" validate:"gtfield=IchimokuTenkan"`
	IchimokuSenkouB int     `yaml:"ichimoku_senkou_b" validate:"gtfield=IchimokuKijun"`
}

// BandarmologyConfig настройки анализа стакана
type BandarmologyConfig struct {
	Bands           []int   `yaml:"bands" validate:"min=1,dive,gte=1"`
	TopLevels       int     `yaml:"top_levels" validate:"gte=1"`
	WallScanLevels  int     `yaml:"wall_scan_levels" validate:"gte=1"`
	WallAvgLevels   int     `yaml:"wall_avg_levels" validate:"gte=1"`
	WallMultiplier  float64 `yaml:"wall_multiplier" validate:"gt=1"`
	MaxWalls        int     `yaml:"max_walls" validate:"gte=1"`
	WhalePercentile float64 `yaml:"whale_percentile" validate:"gt=0,lt=100"`
	NeutralBand     float64 `yaml:"neutral_band" validate:"gte=0,lt=1"`
}

// RecommendationConfig настройки итоговой рекомендации
type RecommendationConfig struct {
	Weights   map[string]float64 `yaml:"weights" validate:"required,dive,gte=0,lte=1"`
	Threshold float64            `yaml:"threshold" validate:"gt=0,lt=1"`
}

// HistoryConfig настройки хранения истории рекомендаций
type HistoryConfig struct {
	Backend       string `yaml:"backend" validate:"oneof=memory influxdb sqlite redis none"`
	Capacity      int    `yaml:"capacity" validate:"gte=1"`
	RetryAttempts int    `yaml:"retry_attempts" validate:"gte=1"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Organization  string `yaml:"organization"`
	Bucket        string `yaml:"bucket"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisDB       int    `yaml:"redis_db"`
	SQLitePath    string `yaml:"sqlite_path"`
}

// ServerConfig настройки HTTP сервера
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	Enabled bool   `yaml:"enabled"`
}

// SchedulerConfig настройки периодического обновления
type SchedulerConfig struct {
	Schedule string   `yaml:"schedule"`
	Pairs    []string `yaml:"pairs"`
}

// LogConfig настройки логирования
type LogConfig struct {
	Level   string `yaml:"level" validate:"oneof=debug info warn error"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// UIConfig настройки пользовательского интерфейса
type UIConfig struct {
	Enabled     bool `yaml:"enabled"`
	RefreshRate int  `yaml:"refresh_rate_ms" validate:"gte=0"`
}

// DefaultWeights веса сигналов по умолчанию.
// Только эти имена допустимы в таблице весов.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"rsi":          0.10,
		"macd":         0.10,
		"sma_cross":    0.10,
		"bollinger":    0.05,
		"roc":          0.05,
		"volume":       0.05,
		"volume_delta": 0.05,
		"ichimoku":     0.05,
		"momentum":     0.15,
		"bandarmology": 0.30,
	}
}

// Defaults возвращает конфигурацию по умолчанию
func Defaults() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			Provider:       "indodax",
			BaseURL:        "https://indodax.com",
			RequestTimeout: 10 * time.Second,
			Interval:       "15",
			HistoryBars:    200,
			DepthLimit:     100,
		},
		RateLimit: RateLimitConfig{
			Calls:       10,
			Window:      60 * time.Second,
			Policy:      "block",
			WaitTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			TickerTTL:    30 * time.Second,
			DepthTTL:     10 * time.Second,
			HistoryTTL:   5 * time.Minute,
			MaxStale:     10 * time.Minute,
			FetchTimeout: 45 * time.Second,
		},
		Analysis: AnalysisConfig{
			MaxConcurrent: 5,
			Technical: TechnicalConfig{
				RSIPeriod:       14,
				RSIOversold:     30,
				RSIOverbought:   70,
				MACDFast:        12,
				MACDSlow:        26,
				MACDSignal:      9,
				SMAFast:         7,
				SMASlow:         25,
				BBPeriod:        20,
				BBDeviation:     2,
				ROCPeriod:       10,
				VolumePeriod:    20,
				VolumeSpike:     1.5,
				VolumeDeltaBars: 20,
				ATRPeriod:       14,
				IchimokuTenkan:  9,
				IchimokuKijun:   26,
				IchimokuSenkouB: 52,
			},
			Bandarmology: BandarmologyConfig{
				Bands:           []int{5, 20},
				TopLevels:       3,
				WallScanLevels:  20,
				WallAvgLevels:   50,
				WallMultiplier:  3,
				MaxWalls:        5,
				WhalePercentile: 95,
				NeutralBand:     0.1,
			},
		},
		Recommendation: RecommendationConfig{
			Weights:   DefaultWeights(),
			Threshold: 0.15,
		},
		History: HistoryConfig{
			Backend:       "memory",
			Capacity:      1000,
			RetryAttempts: 3,
			Bucket:        "bandarscope",
			Organization:  "bandarscope",
			RedisAddr:     "localhost:6379",
			SQLitePath:    "data/bandarscope.db",
		},
		Server: ServerConfig{
			Addr:    ":8080",
			Enabled: true,
		},
		Scheduler: SchedulerConfig{
			Schedule: "@every 1m",
			Pairs:    []string{"btc_idr", "eth_idr"},
		},
		Log: LogConfig{
			Level:   "info",
			File:    "app.json.log",
			Console: true,
		},
		UI: UIConfig{
			RefreshRate: 1000,
		},
	}
}

// Load загружает конфигурацию: значения по умолчанию, затем файл (если указан), затем переменные окружения
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
		// веса из файла заменяют таблицу по умолчанию целиком
		cfg.Recommendation.Weights = nil
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
		}
		if cfg.Recommendation.Weights == nil {
			cfg.Recommendation.Weights = DefaultWeights()
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("некорректная конфигурация: %w", err)
	}
	// ожидание токена и сам запрос должны укладываться в таймаут загрузки кэша
	if c.RateLimit.Policy == "block" && c.RateLimit.WaitTimeout+c.Exchange.RequestTimeout > c.Cache.FetchTimeout {
		return fmt.Errorf("некорректная конфигурация: rate_limit.wait_timeout (%s) + exchange.request_timeout (%s) больше cache.fetch_timeout (%s)",
			c.RateLimit.WaitTimeout, c.Exchange.RequestTimeout, c.Cache.FetchTimeout)
	}
	return ValidateWeights(c.Recommendation.Weights)
}

// ValidateWeights проверяет имена сигналов и то, что сумма весов равна 1 с точностью 1e-6
func ValidateWeights(weights map[string]float64) error {
	known := DefaultWeights()

	var sum float64
	for name, w := range weights {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("неизвестный сигнал %q в таблице весов (допустимы: %s)", name, strings.Join(SignalNames(), ", "))
		}
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("некорректный вес %s: %v", name, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("сумма весов сигналов должна быть 1.0, получено %.6f", sum)
	}
	return nil
}

// SignalNames имена сигналов, которым можно назначить вес
func SignalNames() []string {
	names := make([]string, 0, len(DefaultWeights()))
	for name := range DefaultWeights() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type lookupFunc func(key string) (string, bool)

// applyEnv переопределяет значения из переменных окружения
func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("некорректное значение %s=%q: %w", key, v, err)
		}
		*dst = d
		return nil
	}

	str("UPSTREAM_BASE_URL", &c.Exchange.BaseURL)
	str("UPSTREAM_PROVIDER", &c.Exchange.Provider)
	str("RATE_LIMIT_POLICY", &c.RateLimit.Policy)
	str("HISTORY_BACKEND", &c.History.Backend)
	str("INFLUX_URL", &c.History.URL)
	str("INFLUX_TOKEN", &c.History.Token)
	str("REDIS_ADDR", &c.History.RedisAddr)
	str("SQLITE_PATH", &c.History.SQLitePath)
	str("HTTP_ADDR", &c.Server.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	str("SCHEDULE", &c.Scheduler.Schedule)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CACHE_TTL_TICKER", &c.Cache.TickerTTL},
		{"CACHE_TTL_DEPTH", &c.Cache.DepthTTL},
		{"CACHE_TTL_HISTORY", &c.Cache.HistoryTTL},
		{"CACHE_MAX_STALE", &c.Cache.MaxStale},
		{"CACHE_FETCH_TIMEOUT", &c.Cache.FetchTimeout},
		{"RATE_LIMIT_WINDOW", &c.RateLimit.Window},
		{"RATE_LIMIT_WAIT", &c.RateLimit.WaitTimeout},
		{"REQUEST_TIMEOUT", &c.Exchange.RequestTimeout},
	}
	for _, d := range durations {
		if err := dur(d.key, d.dst); err != nil {
			return err
		}
	}

	if v, ok := lookup("RATE_LIMIT_CALLS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("некорректное значение RATE_LIMIT_CALLS=%q: %w", v, err)
		}
		c.RateLimit.Calls = n
	}

	if v, ok := lookup("SIGNAL_THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("некорректное значение SIGNAL_THRESHOLD=%q: %w", v, err)
		}
		c.Recommendation.Threshold = f
	}

	if v, ok := lookup("SIGNAL_WEIGHTS"); ok && v != "" {
		weights, err := ParseWeights(v)
		if err != nil {
			return err
		}
		c.Recommendation.Weights = weights
	}

	if v, ok := lookup("WATCH_PAIRS"); ok && v != "" {
		c.Scheduler.Pairs = splitList(v)
	}

	return nil
}

// ParseWeights разбирает строку вида "rsi=0.1,macd=0.15"
func ParseWeights(s string) (map[string]float64, error) {
	weights := make(map[string]float64)
	for _, part := range splitList(s) {
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("некорректный элемент SIGNAL_WEIGHTS %q, ожидается name=value", part)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("некорректный вес %q: %w", part, err)
		}
		weights[strings.TrimSpace(name)] = w
	}
	if len(weights) == 0 {
		return nil, fmt.Errorf("пустой список SIGNAL_WEIGHTS")
	}
	return weights, nil
}

// FormatWeights возвращает веса в виде строки, отсортированной по имени
func FormatWeights(weights map[string]float64) string {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%g", name, weights[name])
	}
	return strings.Join(parts, ",")
}

// parseDuration принимает длительность Go ("30s") или число секунд ("30")
func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
