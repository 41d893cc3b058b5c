package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"market-rtc/pkg/logger"
)

type PostgresQueue struct {
	pool *pgxpool.Pool
}

func NewPostgresQueue(databaseURL string) (*PostgresQueue, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresQueue{pool: pool}, nil
}

func (db *PostgresQueue) Close() error {
	db.pool.Close()
	return nil
}

func (db *PostgresQueue) Enqueue(ctx context.Context, identity, kind string, payload []byte) error {
	query := `
		INSERT INTO notification_queue (identity, kind, payload, created_at)
		VALUES ($1, $2, $3, NOW())`

	if _, err := db.pool.Exec(ctx, query, identity, kind, payload); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}

	return nil
}

func (db *PostgresQueue) PendingCount(ctx context.Context, identity string) (int, error) {
	query := `SELECT COUNT(*) FROM notification_queue WHERE identity = $1 AND delivered_at IS NULL`

	var count int
	if err := db.pool.QueryRow(ctx, query, identity).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}
