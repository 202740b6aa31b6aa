package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AcquireLease takes the lease when it is free or expired, or renews it for its current holder.
func (s *Storage) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	query := `
		INSERT INTO leases (name, holder, expires_at)
		VALUES ($1, $2, NOW() + $3 * INTERVAL '1 millisecond')
		ON CONFLICT (name) DO UPDATE
		SET holder = EXCLUDED.holder,
		    expires_at = EXCLUDED.expires_at
		WHERE leases.holder = EXCLUDED.holder
		   OR leases.expires_at < NOW()
		RETURNING holder
	`

	var got string
	err := s.db.QueryRowContext(ctx, query, name, holder, ttl.Milliseconds()).Scan(&got)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return got == holder, nil
}

func (s *Storage) ReleaseLease(ctx context.Context, name, holder string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE name = $1 AND holder = $2`, name, holder)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}
