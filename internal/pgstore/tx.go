package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"jobmate/placement-service/internal/placement"
)

// txStore implements placement.Tx on one pgx transaction.
type txStore struct {
	q querier
}

const adColumns = `id, user_id, status, product_id, tier_rank, duration_days,
	title, description, payment_method, start_date, end_date, total_amount,
	edit_count, max_edits, auto_jump_per_day, manual_jump_per_day,
	manual_jump_used_today, last_jumped_at, last_manual_jump_at,
	view_count, click_count, is_verified, business_number,
	created_at, updated_at`

func scanAd(row pgx.Row) (*placement.Ad, error) {
	var a placement.Ad
	err := row.Scan(
		&a.ID, &a.UserID, &a.Status, &a.ProductID, &a.TierRank, &a.DurationDays,
		&a.Title, &a.Description, &a.PaymentMethod, &a.StartDate, &a.EndDate, &a.TotalAmount,
		&a.EditCount, &a.MaxEdits, &a.AutoJumpPerDay, &a.ManualJumpPerDay,
		&a.ManualJumpUsedToday, &a.LastJumpedAt, &a.LastManualJumpAt,
		&a.ViewCount, &a.ClickCount, &a.IsVerified, &a.BusinessNumber,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func getAd(ctx context.Context, q querier, id string, forUpdate bool) (*placement.Ad, error) {
	sql := `SELECT ` + adColumns + ` FROM ads WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	return scanAd(q.QueryRow(ctx, sql, id))
}

const paymentColumns = `id, order_id, user_id, ad_id, amount, method, status,
	item_snapshot, cancel_reason, payment_key, paid_at, created_at, updated_at`

func getPayment(ctx context.Context, q querier, column, value string, forUpdate bool) (*placement.Payment, error) {
	sql := `SELECT ` + paymentColumns + ` FROM payments WHERE ` + column + ` = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var (
		p   placement.Payment
		raw []byte
	)
	err := q.QueryRow(ctx, sql, value).Scan(
		&p.ID, &p.OrderID, &p.UserID, &p.AdID, &p.Amount, &p.Method, &p.Status,
		&raw, &p.CancelReason, &p.PaymentKey, &p.PaidAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if p.Snapshot, err = placement.UnmarshalSnapshot(raw); err != nil {
		return nil, fmt.Errorf("payment %s: %w", p.ID, err)
	}
	return &p, nil
}

func (t *txStore) LockAd(ctx context.Context, id string) (*placement.Ad, error) {
	return getAd(ctx, t.q, id, true)
}

func (t *txStore) LockPayment(ctx context.Context, id string) (*placement.Payment, error) {
	return getPayment(ctx, t.q, "id", id, true)
}

func (t *txStore) InsertAd(ctx context.Context, a *placement.Ad) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO ads (`+adColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`,
		a.ID, a.UserID, a.Status, a.ProductID, a.TierRank, a.DurationDays,
		a.Title, a.Description, a.PaymentMethod, a.StartDate, a.EndDate, a.TotalAmount,
		a.EditCount, a.MaxEdits, a.AutoJumpPerDay, a.ManualJumpPerDay,
		a.ManualJumpUsedToday, a.LastJumpedAt, a.LastManualJumpAt,
		a.ViewCount, a.ClickCount, a.IsVerified, a.BusinessNumber,
		a.CreatedAt, a.UpdatedAt,
	)
	return err
}

// UpdateAd writes the mutable columns. View and click counters are owned by
// their own increments and are left alone.
func (t *txStore) UpdateAd(ctx context.Context, a *placement.Ad) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE ads SET
		    status = $2, product_id = $3, tier_rank = $4, duration_days = $5,
		    title = $6, description = $7, start_date = $8, end_date = $9,
		    total_amount = $10, edit_count = $11, max_edits = $12,
		    auto_jump_per_day = $13, manual_jump_per_day = $14,
		    manual_jump_used_today = $15, last_jumped_at = $16,
		    last_manual_jump_at = $17, is_verified = $18, business_number = $19,
		    updated_at = $20
		 WHERE id = $1`,
		a.ID, a.Status, a.ProductID, a.TierRank, a.DurationDays,
		a.Title, a.Description, a.StartDate, a.EndDate,
		a.TotalAmount, a.EditCount, a.MaxEdits,
		a.AutoJumpPerDay, a.ManualJumpPerDay,
		a.ManualJumpUsedToday, a.LastJumpedAt,
		a.LastManualJumpAt, a.IsVerified, a.BusinessNumber,
		a.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return placement.ErrNotFound
	}
	return nil
}

func (t *txStore) InsertPayment(ctx context.Context, p *placement.Payment) error {
	snap, err := placement.MarshalSnapshot(p.Snapshot)
	if err != nil {
		return err
	}
	_, err = t.q.Exec(ctx,
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		p.ID, p.OrderID, p.UserID, p.AdID, p.Amount, p.Method, p.Status,
		snap, p.CancelReason, p.PaymentKey, p.PaidAt, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// UpdatePayment writes status fields only; the item snapshot is immutable.
func (t *txStore) UpdatePayment(ctx context.Context, p *placement.Payment) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE payments SET
		    status = $2, cancel_reason = $3, payment_key = $4, paid_at = $5, updated_at = $6
		 WHERE id = $1`,
		p.ID, p.Status, p.CancelReason, p.PaymentKey, p.PaidAt, p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return placement.ErrNotFound
	}
	return nil
}

func (t *txStore) HasPendingPayment(ctx context.Context, adID string) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE ad_id = $1 AND status = 'PENDING')`,
		adID,
	).Scan(&exists)
	return exists, err
}

func (t *txStore) CancelPendingPayments(ctx context.Context, adIDs []string, reason string, now time.Time) (int64, error) {
	tag, err := t.q.Exec(ctx,
		`UPDATE payments
		 SET status = 'CANCELLED', cancel_reason = $2, updated_at = $3
		 WHERE ad_id = ANY($1) AND status = 'PENDING'`,
		adIDs, reason, now,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txStore) ReplaceAdOptions(ctx context.Context, adID string, opts []placement.AdOption) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM ad_options WHERE ad_id = $1`, adID); err != nil {
		return err
	}
	for _, o := range opts {
		if _, err := t.q.Exec(ctx,
			`INSERT INTO ad_options (id, ad_id, option_id, value, price, start_date, end_date)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			o.ID, adID, o.OptionID, o.Value, o.Price, o.StartDate, o.EndDate,
		); err != nil {
			return err
		}
	}
	return nil
}

func (t *txStore) InsertJumpLog(ctx context.Context, l placement.JumpLog) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO jump_logs (id, ad_id, type, created_at) VALUES ($1, $2, $3, $4)`,
		l.ID, l.AdID, l.Type, l.CreatedAt,
	)
	return err
}

func (t *txStore) EnsureUser(ctx context.Context, userID string) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		userID,
	)
	return err
}

func (t *txStore) AddPaidAdDays(ctx context.Context, userID string, days int) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE users SET total_paid_ad_days = total_paid_ad_days + $2 WHERE id = $1`,
		userID, days,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return placement.ErrNotFound
	}
	return nil
}

// ConsumeFreeCredit is a guarded decrement; it reports false when the user
// has no credit left.
func (t *txStore) ConsumeFreeCredit(ctx context.Context, userID string) (bool, error) {
	tag, err := t.q.Exec(ctx,
		`UPDATE users SET free_ad_credits = free_ad_credits - 1
		 WHERE id = $1 AND free_ad_credits > 0`,
		userID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txStore) AddFreeCredits(ctx context.Context, userID string, n int) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE users SET free_ad_credits = free_ad_credits + $2 WHERE id = $1`,
		userID, n,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return placement.ErrNotFound
	}
	return nil
}

func (t *txStore) InsertNotification(ctx context.Context, n *placement.Notification) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO notifications (id, user_id, ad_id, kind, title, message, link, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.UserID, n.AdID, n.Kind, n.Title, n.Message, n.Link, n.CreatedAt,
	)
	return err
}

func (t *txStore) SaveVerification(ctx context.Context, v placement.BusinessVerification) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO business_verifications (ad_id, business_number, status, registry_state, checked_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		v.AdID, v.BusinessNumber, v.Status, v.RegistryState, v.CheckedAt,
	)
	return err
}
