package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
)

type markerRepository struct {
	db *sql.DB
}

// NewMarkerRepository создаёт PostgreSQL-реализацию ProcessedMarkerRepository.
// Используется как fallback-guard, когда Redis недоступен; просроченные строки
// убирает периодический cleanup worker.
func NewMarkerRepository(store *Store) domain.ProcessedMarkerRepository {
	return &markerRepository{db: store.DB()}
}

func (r *markerRepository) Seen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, domain.ErrMarkerKeyRequired
	}

	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var expiresAt time.Time
	err := r.db.QueryRowContext(queryCtx, `
		SELECT expires_at FROM processed_markers WHERE key = $1
	`, key).Scan(&expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("select processed marker: %w", err)
	}

	return time.Now().Before(expiresAt), nil
}

func (r *markerRepository) Mark(ctx context.Context, key string, ttl time.Duration) error {
	if key == "" {
		return domain.ErrMarkerKeyRequired
	}

	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(queryCtx, `
		INSERT INTO processed_markers (key, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at
	`, key, time.Now().Add(ttl).UTC())
	if err != nil {
		return fmt.Errorf("upsert processed marker: %w", err)
	}

	return nil
}

func (r *markerRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM processed_markers
		WHERE key IN (
			SELECT key FROM processed_markers
			WHERE expires_at < $1
			LIMIT $2
		)
	`, before.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired markers: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for marker cleanup: %w", err)
	}

	return int(affected), nil
}

var _ domain.ProcessedMarkerRepository = (*markerRepository)(nil)
