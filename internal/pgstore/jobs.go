package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"jobmate/placement-service/internal/placement"
)

// The bulk updates below are single conditional statements, so concurrent
// runs of the same job touch each row at most once.

func collectRefs(rows pgx.Rows, err error) ([]placement.AdRef, error) {
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (placement.AdRef, error) {
		var r placement.AdRef
		err := row.Scan(&r.ID, &r.UserID, &r.Title)
		return r, err
	})
}

func (t *txStore) ExpireActiveAds(ctx context.Context, now time.Time) ([]placement.AdRef, error) {
	return collectRefs(t.q.Query(ctx,
		`UPDATE ads SET status = 'EXPIRED', updated_at = $1
		 WHERE status = 'ACTIVE' AND end_date < $1
		 RETURNING id, user_id, title`,
		now,
	))
}

// CancelOverdueDeposits skips rows another transaction holds locked: those
// are being approved right now and the approval wins.
func (t *txStore) CancelOverdueDeposits(ctx context.Context, createdBefore, now time.Time) ([]placement.AdRef, error) {
	return collectRefs(t.q.Query(ctx,
		`UPDATE ads SET status = 'CANCELLED', updated_at = $2
		 WHERE id IN (
		     SELECT id FROM ads
		     WHERE status = 'PENDING_DEPOSIT' AND created_at < $1
		     FOR UPDATE SKIP LOCKED
		 )
		 AND status = 'PENDING_DEPOSIT'
		 RETURNING id, user_id, title`,
		createdBefore, now,
	))
}

func (t *txStore) ResetDailyJumps(ctx context.Context, now time.Time) (int64, error) {
	tag, err := t.q.Exec(ctx,
		`UPDATE ads SET manual_jump_used_today = 0, updated_at = $1
		 WHERE manual_jump_used_today <> 0`,
		now,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txStore) InsertExpiryNotices(ctx context.Context, spec placement.NoticeSpec) ([]placement.Notification, error) {
	rows, err := t.q.Query(ctx,
		`INSERT INTO notifications (id, user_id, ad_id, kind, title, message, link, created_at)
		 SELECT gen_random_uuid()::text, a.user_id, a.id, $1, $2,
		        replace($3, '%s', '"' || a.title || '"'), '/ads/' || a.id, $7
		 FROM ads a
		 WHERE a.status = 'ACTIVE'
		   AND a.end_date > $4 AND a.end_date <= $5
		   AND NOT EXISTS (
		       SELECT 1 FROM notifications n
		       WHERE n.ad_id = a.id AND n.kind = $1 AND n.created_at >= $6
		   )
		 RETURNING id, user_id, ad_id, kind, title, message, link, created_at`,
		spec.Kind, spec.Title, spec.Format, spec.EndAfter, spec.EndBefore, spec.DedupSince, spec.Now,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (placement.Notification, error) {
		var n placement.Notification
		err := row.Scan(&n.ID, &n.UserID, &n.AdID, &n.Kind, &n.Title, &n.Message, &n.Link, &n.CreatedAt)
		return n, err
	})
}
