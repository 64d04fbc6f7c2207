package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/skalibog/bandarscope/internal/config"
	"github.com/skalibog/bandarscope/pkg/models"
)

const measurement = "recommendations"

// InfluxDBStore хранит рекомендации в InfluxDB
type InfluxDBStore struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPIBlocking
	org      string
	bucket   string
}

// NewInfluxDBStore создает хранилище InfluxDB и проверяет соединение
func NewInfluxDBStore(ctx context.Context, cfg config.HistoryConfig) (*InfluxDBStore, error) {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(10))

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	return &InfluxDBStore{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Organization),
		writeAPI: client.WriteAPIBlocking(cfg.Organization, cfg.Bucket),
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}, nil
}

// Append записывает рекомендацию точкой в measurement recommendations
func (s *InfluxDBStore) Append(ctx context.Context, rec *models.Recommendation) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ошибка сериализации рекомендации: %w", err)
	}

	point := influxdb2.NewPoint(
		measurement,
		map[string]string{
			"pair":   rec.Pair.String(),
			"action": string(rec.Action),
		},
		map[string]interface{}{
			"id":         rec.ID,
			"score":      rec.Score,
			"confidence": rec.Confidence,
			"price":      rec.Price,
			"risk":       string(rec.Risk),
			"stale":      rec.Stale,
			"payload":    string(payload),
		},
		rec.ComputedAt,
	)

	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("ошибка записи в InfluxDB: %w", err)
	}
	return nil
}

// Recent возвращает последние рекомендации по паре
func (s *InfluxDBStore) Recent(ctx context.Context, pair models.TradingPair, limit int) ([]*models.Recommendation, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -30d)
			|> filter(fn: (r) => r._measurement == "%s")
			|> filter(fn: (r) => r.pair == "%s")
			|> filter(fn: (r) => r._field == "payload")
			|> group()
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, s.bucket, measurement, pair.String(), clampLimit(limit))

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса истории рекомендаций: %w", err)
	}
	defer result.Close()

	var recs []*models.Recommendation
	for result.Next() {
		raw, _ := result.Record().Value().(string)
		rec, err := decodeRecommendation([]byte(raw))
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}
	return recs, nil
}

// Close закрывает соединение с базой данных
func (s *InfluxDBStore) Close() error {
	s.client.Close()
	return nil
}

func decodeRecommendation(raw []byte) (*models.Recommendation, error) {
	var rec models.Recommendation
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("поврежденная запись истории: %w", err)
	}
	rec.ComputedAt = rec.ComputedAt.In(time.UTC)
	return &rec, nil
}
