package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/secinto/go-csp-policy/policy"
)

// DBTX is what the policy queries need; *sql.DB and *sql.Tx both have it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// basePolicyLockKey names the advisory lock held while the base flag moves.
const basePolicyLockKey int64 = 0x6373705f62617365

// claimBasePolicy unsets the base flag on every policy except keep (0 for a
// policy not inserted yet). It holds a transaction-scoped advisory lock, so
// concurrent base saves run one after the other and the later one clears
// the earlier one's row once it is visible.
func claimBasePolicy(ctx context.Context, tx DBTX, keep int64) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, basePolicyLockKey); err != nil {
		return errors.Wrap(err, "locking base policy")
	}
	query := `UPDATE csp_policies SET is_base_policy = false WHERE is_base_policy AND id <> $1`
	if _, err := tx.ExecContext(ctx, query, keep); err != nil {
		return errors.Wrap(err, "clearing other base policies")
	}
	return nil
}

// savePolicyTx writes p and, for a base policy, claims the base flag first,
// all in one transaction.
func (r *Postgres) savePolicyTx(ctx context.Context, p *policy.Policy) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning policy transaction")
	}
	defer func() {
		if rec := recover(); rec != nil {
			_ = tx.Rollback()
			panic(rec)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if p.IsBasePolicy {
		if err = claimBasePolicy(ctx, tx, p.ID); err != nil {
			return err
		}
	}
	if err = upsertPolicy(ctx, tx, p); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "committing policy")
}
