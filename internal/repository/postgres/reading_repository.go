package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/plc-fleet/internal/domain"
)

// ReadingRepository implements SPEC_FULL.md §4.4 over a pgx pool, grounded
// on the ingestion service's COPY-protocol writer with a pgx.Batch
// fallback for small batches.
type ReadingRepository struct {
	pool        *pgxpool.Pool
	logger      zerolog.Logger
	useCopy     bool
	copyMinSize int
}

// NewReadingRepository wraps an already-connected pool. Batches smaller
// than copyMinSize are sent as a pgx.Batch of single-row INSERTs; larger
// ones use COPY.
func NewReadingRepository(pool *pgxpool.Pool, logger zerolog.Logger) *ReadingRepository {
	return &ReadingRepository{
		pool:        pool,
		logger:      logger.With().Str("component", "reading-repository").Logger(),
		useCopy:     true,
		copyMinSize: 20,
	}
}

// AppendBatch performs a batched insert; ordering within the batch is
// preserved (COPY and pgx.Batch both stream rows in slice order), and a
// partial failure fails the whole batch — callers apply the retry policy
// from SPEC_FULL.md §4.6 step 6.
func (r *ReadingRepository) AppendBatch(ctx context.Context, readings []*domain.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	var err error
	if r.useCopy && len(readings) >= r.copyMinSize {
		err = r.appendCopy(ctx, readings)
	} else {
		err = r.appendInsert(ctx, readings)
	}
	if err != nil {
		return &domain.PersistenceError{Op: "append_batch", Err: err}
	}
	return nil
}

func (r *ReadingRepository) appendCopy(ctx context.Context, readings []*domain.Reading) error {
	columns := []string{"register_id", "timestamp", "raw_value", "scaled_value", "quality"}
	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"readings"},
		columns,
		pgx.CopyFromSlice(len(readings), func(i int) ([]any, error) {
			rd := readings[i]
			return []any{rd.RegisterID, rd.Timestamp, rd.RawValue, rd.ScaledValue, string(rd.Quality)}, nil
		}),
	)
	return err
}

func (r *ReadingRepository) appendInsert(ctx context.Context, readings []*domain.Reading) error {
	batch := &pgx.Batch{}
	const query = `INSERT INTO readings (register_id, timestamp, raw_value, scaled_value, quality) VALUES ($1,$2,$3,$4,$5)`
	for _, rd := range readings {
		batch.Queue(query, rd.RegisterID, rd.Timestamp, rd.RawValue, rd.ScaledValue, string(rd.Quality))
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LatestPerRegister returns one row per register for a device, newest
// first.
func (r *ReadingRepository) LatestPerRegister(ctx context.Context, deviceID int64) ([]*domain.Reading, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (r.register_id) r.id, r.register_id, r.timestamp, r.raw_value, r.scaled_value, r.quality
		FROM readings r
		JOIN register_configs rc ON rc.id = r.register_id
		WHERE rc.device_id = $1
		ORDER BY r.register_id, r.timestamp DESC`, deviceID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "latest_per_register", Err: err}
	}
	defer rows.Close()
	return scanReadings(rows)
}

// Range returns readings for one register within [from, to], newest last,
// bounded by limit.
func (r *ReadingRepository) Range(ctx context.Context, registerID int64, from, to time.Time, limit int) ([]*domain.Reading, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, register_id, timestamp, raw_value, scaled_value, quality
		FROM readings
		WHERE register_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC
		LIMIT $4`, registerID, from, to, limit)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "range", Err: err}
	}
	defer rows.Close()
	return scanReadings(rows)
}

// Aggregate buckets readings into bucketMinutes-wide windows and computes
// avg/min/max/count over rows with quality=good, grounded on
// original_source's get_aggregated_data.
func (r *ReadingRepository) Aggregate(ctx context.Context, registerID int64, from, to time.Time, bucketMinutes int) ([]domain.AggregateBucket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT to_timestamp(floor(extract(epoch FROM timestamp) / ($4 * 60)) * ($4 * 60)) AS bucket,
		       avg(scaled_value), min(scaled_value), max(scaled_value), count(*)
		FROM readings
		WHERE register_id = $1 AND timestamp >= $2 AND timestamp <= $3 AND quality = 'good'
		GROUP BY bucket
		ORDER BY bucket ASC`, registerID, from, to, bucketMinutes)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "aggregate", Err: err}
	}
	defer rows.Close()

	var out []domain.AggregateBucket
	for rows.Next() {
		var b domain.AggregateBucket
		if err := rows.Scan(&b.BucketStart, &b.Avg, &b.Min, &b.Max, &b.Count); err != nil {
			return nil, &domain.PersistenceError{Op: "aggregate", Err: err}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// PruneBefore deletes every reading with timestamp < ts and reports the
// number of rows removed — the retention task's primitive.
func (r *ReadingRepository) PruneBefore(ctx context.Context, ts time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM readings WHERE timestamp < $1`, ts)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "prune_before", Err: err}
	}
	return tag.RowsAffected(), nil
}

func scanReadings(rows pgx.Rows) ([]*domain.Reading, error) {
	var out []*domain.Reading
	for rows.Next() {
		rd := &domain.Reading{}
		var quality string
		if err := rows.Scan(&rd.ID, &rd.RegisterID, &rd.Timestamp, &rd.RawValue, &rd.ScaledValue, &quality); err != nil {
			return nil, &domain.PersistenceError{Op: "scan_reading", Err: err}
		}
		rd.Quality = domain.Quality(quality)
		out = append(out, rd)
	}
	return out, rows.Err()
}
