package models

import "errors"

// Типизированные ошибки конвейера анализа. Проверяются через errors.Is.
var (
	// ErrUpstreamUnavailable биржа недоступна и нет пригодных данных в кэше
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrRateLimited исчерпан лимит запросов к бирже
	ErrRateLimited = errors.New("rate limited")

	// ErrInsufficientData недостаточно данных для расчета
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidInput некорректные входные данные: пара, перекрещенный стакан, история
	ErrInvalidInput = errors.New("invalid input")
)
