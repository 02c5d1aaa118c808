package repository

import (
	"context"
	"database/sql"
	"time"
)

// LeaseRepository реализует блокировки задач с истечением
type LeaseRepository struct {
	db *sql.DB
}

// NewLeaseRepository создает новый репозиторий блокировок
func NewLeaseRepository(db *sql.DB) *LeaseRepository {
	return &LeaseRepository{db: db}
}

// Acquire захватывает lease, если он свободен, истек или уже наш
func (r *LeaseRepository) Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO job_leases (name, holder, expires_at)
		VALUES ($1, $2, NOW() + $3::float8 * INTERVAL '1 millisecond')
		ON CONFLICT (name) DO UPDATE
		SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE job_leases.expires_at < NOW() OR job_leases.holder = EXCLUDED.holder
	`, name, holder, ttl.Milliseconds())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release отпускает lease, только если он принадлежит holder
func (r *LeaseRepository) Release(ctx context.Context, name, holder string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM job_leases WHERE name = $1 AND holder = $2`, name, holder)
	return err
}
