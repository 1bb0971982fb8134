package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TryLease claims the (stage, day) lease for holder until now+ttl.
// An expired lease held by someone else is replaced. Returns ErrLeaseHeld when
// a live lease belongs to another holder.
func (l *Ledger) TryLease(ctx context.Context, stage, day, holder string, ttl time.Duration) error {
	now := time.Now()
	return l.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM stage_leases WHERE stage = $1 AND day = $2 AND expires_at < $3`,
			stage, day, formatTime(now),
		); err != nil {
			return fmt.Errorf("failed to clear expired lease %s/%s: %w", stage, day, err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO stage_leases (stage, day, holder, acquired_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (stage, day) DO NOTHING`,
			stage, day, holder, formatTime(now), formatTime(now.Add(ttl)),
		)
		if err != nil {
			return fmt.Errorf("failed to insert lease %s/%s: %w", stage, day, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read lease insert result: %w", err)
		}
		if n == 0 {
			var current string
			if err := tx.QueryRowContext(ctx,
				`SELECT holder FROM stage_leases WHERE stage = $1 AND day = $2`, stage, day,
			).Scan(&current); err != nil {
				return fmt.Errorf("%w: %s/%s", ErrLeaseHeld, stage, day)
			}
			return fmt.Errorf("%w: %s/%s by %s", ErrLeaseHeld, stage, day, current)
		}
		return nil
	})
}

// ReleaseLease drops the (stage, day) lease if holder still owns it.
func (l *Ledger) ReleaseLease(ctx context.Context, stage, day, holder string) error {
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM stage_leases WHERE stage = $1 AND day = $2 AND holder = $3`,
		stage, day, holder,
	)
	if err != nil {
		return fmt.Errorf("failed to release lease %s/%s: %w", stage, day, err)
	}
	return nil
}
