package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/skalibog/bandarscope/pkg/logger"
	"github.com/skalibog/bandarscope/pkg/models"
)

// SQLiteStore хранит рекомендации в таблице recommendations
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore открывает (или создает) базу и выполняет миграции
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ошибка создания каталога %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия sqlite: %w", err)
	}
	// один писатель
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка включения WAL: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка миграции: %w", err)
	}

	logger.Info("SQLite хранилище открыто", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recommendations (
			id          TEXT PRIMARY KEY,
			pair        TEXT NOT NULL,
			action      TEXT NOT NULL,
			score       REAL,
			confidence  REAL,
			risk        TEXT,
			price       REAL,
			stale       INTEGER,
			computed_at INTEGER NOT NULL,
			payload     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recommendations_pair_ts ON recommendations(pair, computed_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec *models.Recommendation) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ошибка сериализации рекомендации: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO recommendations (id, pair, action, score, confidence, risk, price, stale, computed_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Pair.String(), string(rec.Action), rec.Score, rec.Confidence,
		string(rec.Risk), rec.Price, rec.Stale, rec.ComputedAt.UnixNano(), string(payload))
	if err != nil {
		return fmt.Errorf("ошибка записи рекомендации: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, pair models.TradingPair, limit int) ([]*models.Recommendation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM recommendations WHERE pair = ? ORDER BY computed_at DESC, rowid DESC LIMIT ?`,
		pair.String(), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса истории: %w", err)
	}
	defer rows.Close()

	var recs []*models.Recommendation
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		rec, err := decodeRecommendation([]byte(raw))
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
