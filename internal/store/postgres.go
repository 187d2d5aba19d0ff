package store

import (
	"context"
	"fmt"
	"time"

	"github.com/benmeehan/location-agent/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const schema = `
CREATE TABLE IF NOT EXISTS locations (
	id         BIGSERIAL PRIMARY KEY,
	device_id  TEXT             NOT NULL,
	latitude   DOUBLE PRECISION NOT NULL,
	longitude  DOUBLE PRECISION NOT NULL,
	altitude   DOUBLE PRECISION,
	speed      DOUBLE PRECISION,
	timestamp  BIGINT           NOT NULL,
	created_at BIGINT           NOT NULL
);
CREATE INDEX IF NOT EXISTS locations_timestamp_idx ON locations (timestamp);
`

const selectColumns = `id, device_id, latitude, longitude, altitude, speed, timestamp, created_at`

// PGStore keeps records in PostgreSQL.
type PGStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
	now    func() time.Time
}

// OpenPG connects to url, verifies the connection and creates the schema.
func OpenPG(ctx context.Context, url string, logger zerolog.Logger) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// Connection pool configuration
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.Info().
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("Postgres connection pool created")

	return &PGStore{pool: pool, logger: logger, now: time.Now}, nil
}

func (s *PGStore) Insert(ctx context.Context, sample models.LocationSample) (models.LocationRecord, error) {
	rec := models.LocationRecord{LocationSample: sample, CreatedAt: s.now().UnixMilli()}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO locations (device_id, latitude, longitude, altitude, speed, timestamp, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		sample.DeviceID, sample.Latitude, sample.Longitude, sample.Altitude, sample.Speed,
		sample.Timestamp, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return models.LocationRecord{}, fmt.Errorf("insert location: %w", err)
	}
	return rec, nil
}

func (s *PGStore) Range(ctx context.Context, start, end int64) ([]models.LocationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM locations
		 WHERE timestamp >= $1 AND timestamp <= $2
		 ORDER BY timestamp ASC, id ASC`,
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	return collect(rows)
}

func (s *PGStore) Latest(ctx context.Context, limit int) ([]models.LocationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM locations ORDER BY timestamp DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query latest locations: %w", err)
	}
	return collect(rows)
}

func (s *PGStore) DeleteOlderThan(ctx context.Context, olderThan int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM locations WHERE timestamp < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete locations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM locations`)
	if err != nil {
		return 0, fmt.Errorf("delete locations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PGStore) Close() {
	s.pool.Close()
}

func collect(rows pgx.Rows) ([]models.LocationRecord, error) {
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.LocationRecord, error) {
		var r models.LocationRecord
		err := row.Scan(&r.ID, &r.DeviceID, &r.Latitude, &r.Longitude, &r.Altitude, &r.Speed, &r.Timestamp, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan locations: %w", err)
	}
	if records == nil {
		records = []models.LocationRecord{}
	}
	return records, nil
}
