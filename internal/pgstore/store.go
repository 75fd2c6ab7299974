// Package pgstore implements placement.Store on PostgreSQL with pgx.
//
// Transactions run at READ COMMITTED with explicit row locks (SELECT ... FOR
// UPDATE). Serialization failures and deadlocks roll back and re-run the
// whole transaction function a bounded number of times.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"jobmate/placement-service/internal/placement"
)

const (
	maxTxAttempts = 3
	retryBackoff  = 20 * time.Millisecond
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL placement store.
type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

var _ placement.Store = (*Store)(nil)

// New returns a Store over pool.
func New(pool *pgxpool.Pool, log *zap.Logger) *Store {
	return &Store{pool: pool, log: log}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// InTx runs fn in a transaction, retrying on transient conflicts.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx placement.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runInTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		s.log.Warn("transaction conflict, retrying", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return err
}

func (s *Store) runInTx(ctx context.Context, fn func(ctx context.Context, tx placement.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &txStore{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// isRetryable reports serialization failures (40001) and deadlocks (40P01).
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return placement.ErrNotFound
	}
	return err
}

// ─── Reads ───────────────────────────────────────────────────────────────────

func (s *Store) GetAd(ctx context.Context, id string) (*placement.Ad, error) {
	return getAd(ctx, s.pool, id, false)
}

func (s *Store) ListActiveAds(ctx context.Context, now time.Time, limit, offset int) ([]placement.Ad, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+adColumns+`
		 FROM ads
		 WHERE status = 'ACTIVE' AND start_date <= $1 AND end_date >= $1
		 ORDER BY tier_rank DESC, last_jumped_at DESC NULLS LAST, id
		 LIMIT $2 OFFSET $3`,
		now, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ads := make([]placement.Ad, 0)
	for rows.Next() {
		a, err := scanAd(rows)
		if err != nil {
			return nil, err
		}
		ads = append(ads, *a)
	}
	return ads, rows.Err()
}

func (s *Store) ListAdOptions(ctx context.Context, adID string) ([]placement.AdOption, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, ad_id, option_id, value, price, start_date, end_date
		 FROM ad_options WHERE ad_id = $1 ORDER BY option_id`,
		adID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (placement.AdOption, error) {
		var o placement.AdOption
		err := row.Scan(&o.ID, &o.AdID, &o.OptionID, &o.Value, &o.Price, &o.StartDate, &o.EndDate)
		return o, err
	})
}

func (s *Store) GetPayment(ctx context.Context, id string) (*placement.Payment, error) {
	return getPayment(ctx, s.pool, "id", id, false)
}

func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID string) (*placement.Payment, error) {
	return getPayment(ctx, s.pool, "order_id", orderID, false)
}

func (s *Store) GetAccount(ctx context.Context, userID string) (*placement.UserAccount, error) {
	var a placement.UserAccount
	err := s.pool.QueryRow(ctx,
		`SELECT id, total_paid_ad_days, free_ad_credits FROM users WHERE id = $1`,
		userID,
	).Scan(&a.ID, &a.TotalPaidAdDays, &a.FreeAdCredits)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s *Store) IncrementViews(ctx context.Context, adID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE ads SET view_count = view_count + 1 WHERE id = $1`, adID)
	return err
}

func (s *Store) IncrementClicks(ctx context.Context, adID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE ads SET click_count = click_count + 1 WHERE id = $1`, adID)
	return err
}

// ─── Auto jump ───────────────────────────────────────────────────────────────

func (s *Store) AutoJumpCandidates(ctx context.Context, windowStart, now time.Time) ([]placement.AutoJumpCandidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.id, a.auto_jump_per_day, a.last_jumped_at,
		        (SELECT COUNT(*) FROM jump_logs j
		          WHERE j.ad_id = a.id AND j.type = 'AUTO' AND j.created_at >= $1)
		 FROM ads a
		 WHERE a.status = 'ACTIVE'
		   AND a.auto_jump_per_day > 0
		   AND a.start_date <= $2 AND a.end_date >= $2
		 ORDER BY a.last_jumped_at NULLS FIRST, a.id`,
		windowStart, now,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (placement.AutoJumpCandidate, error) {
		var c placement.AutoJumpCandidate
		err := row.Scan(&c.AdID, &c.AutoJumpPerDay, &c.LastJumpedAt, &c.JumpsInWindow)
		return c, err
	})
}

// AutoJump is a compare-and-swap on last_jumped_at; the jump log insert is
// part of the same statement so both happen or neither does.
func (s *Store) AutoJump(ctx context.Context, adID string, expected *time.Time, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`WITH moved AS (
		    UPDATE ads
		    SET last_jumped_at = $3, updated_at = $3
		    WHERE id = $1
		      AND status = 'ACTIVE'
		      AND last_jumped_at IS NOT DISTINCT FROM $2
		    RETURNING id
		 )
		 INSERT INTO jump_logs (id, ad_id, type, created_at)
		 SELECT $4, id, 'AUTO', $3 FROM moved`,
		adID, expected, now, uuid.NewString(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
