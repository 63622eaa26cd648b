// internal/history/postgres.go
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bitesense/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the store can be tested against pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	sqlCreateTable = `
        CREATE TABLE IF NOT EXISTS bite_records (
            seq        BIGSERIAL PRIMARY KEY,
            id         TEXT NOT NULL UNIQUE,
            image_ref  TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL,
            analysis   JSONB NOT NULL
        );
    `
	sqlInsertRecord = `
        INSERT INTO bite_records (id, image_ref, created_at, analysis)
        VALUES ($1, $2, $3, $4);
    `
	sqlTrimRecords = `
        DELETE FROM bite_records
        WHERE seq NOT IN (SELECT seq FROM bite_records ORDER BY seq DESC LIMIT $1);
    `
	sqlListRecords = `
        SELECT id, image_ref, created_at, analysis
        FROM bite_records
        ORDER BY seq DESC
        LIMIT $1;
    `
	sqlGetRecord = `
        SELECT id, image_ref, created_at, analysis
        FROM bite_records
        WHERE id = $1;
    `
	sqlClearRecords = `DELETE FROM bite_records;`
)

var errCorruptPayload = errors.New("corrupt analysis payload")

// PostgresStore keeps one row per record and trims to Capacity inside the
// inserting transaction.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

// NewPostgresStore verifies the connection and creates the table if needed.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, sqlCreateTable); err != nil {
		return nil, fmt.Errorf("failed to create bite_records table: %w", err)
	}
	return &PostgresStore{
		pool: pool,
		log:  logger.Named("history.postgres"),
		now:  time.Now,
	}, nil
}

func (s *PostgresStore) Append(ctx context.Context, rec schemas.BiteRecord) (schemas.BiteRecord, error) {
	rec = stamp(rec, s.now())
	payload, err := codec.Marshal(rec.Analysis)
	if err != nil {
		return schemas.BiteRecord{}, fmt.Errorf("failed to encode analysis: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return schemas.BiteRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlInsertRecord, rec.ID, rec.ImageRef, rec.CreatedAt, payload); err != nil {
		return schemas.BiteRecord{}, fmt.Errorf("failed to insert bite record: %w", err)
	}
	if _, err := tx.Exec(ctx, sqlTrimRecords, Capacity); err != nil {
		return schemas.BiteRecord{}, fmt.Errorf("failed to trim bite history: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return schemas.BiteRecord{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlClearRecords); err != nil {
		return fmt.Errorf("failed to clear bite history: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]schemas.BiteRecord, error) {
	rows, err := s.pool.Query(ctx, sqlListRecords, Capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to query bite history: %w", err)
	}
	defer rows.Close()

	list := []schemas.BiteRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if errors.Is(err, errCorruptPayload) {
			s.log.Warn("Discarding corrupt bite history", zap.Error(err))
			return []schemas.BiteRecord{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan bite record: %w", err)
		}
		list = append(list, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bite history: %w", err)
	}
	return list, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (schemas.BiteRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, sqlGetRecord, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return schemas.BiteRecord{}, ErrNotFound
	}
	if err != nil {
		return schemas.BiteRecord{}, fmt.Errorf("failed to load bite record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (schemas.BiteRecord, error) {
	var (
		rec     schemas.BiteRecord
		payload []byte
	)
	if err := row.Scan(&rec.ID, &rec.ImageRef, &rec.CreatedAt, &payload); err != nil {
		return schemas.BiteRecord{}, err
	}
	if err := codec.Unmarshal(payload, &rec.Analysis); err != nil {
		return schemas.BiteRecord{}, fmt.Errorf("%w for %s: %v", errCorruptPayload, rec.ID, err)
	}
	return rec, nil
}
