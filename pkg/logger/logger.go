package logger

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options параметры логгера
type Options struct {
	Level   string // debug, info, warn, error
	File    string // путь к JSON файлу, пусто - не писать в файл
	Console bool   // читаемый вывод в stderr
}

// Глобальный экземпляр логгера
var (
	globalLogger = zap.NewNop()
	mu           sync.RWMutex
)

// Init инициализирует глобальный логгер. До вызова Init логгер ничего не пишет.
func Init(opts Options) error {
	l, err := newLogger(opts)
	if err != nil {
		return err
	}

	mu.Lock()
	globalLogger = l
	mu.Unlock()
	return nil
}

// GetLogger возвращает глобальный экземпляр логгера
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

// Sync сбрасывает буферы логгера
func Sync() {
	_ = GetLogger().Sync()
}

// Вспомогательные функции для удобства использования
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}

func newLogger(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.Set(opts.Level); err != nil {
			return nil, fmt.Errorf("неизвестный уровень логирования %q: %w", opts.Level, err)
		}
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("02.01.2006 - 15:04:05.000000000Z07:00")
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	var cores []zapcore.Core

	if opts.Console {
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleConfig),
			zapcore.Lock(os.Stderr),
			level,
		))
	}

	if opts.File != "" {
		jsonFile, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("ошибка открытия файла логов: %w", err)
		}
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(jsonFile),
			level,
		))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	// Tee: консоль + JSON файл
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)), nil
}
