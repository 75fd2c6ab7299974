package placement

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
)

// DepositDeadline is how long a bank-transfer order may wait for its deposit.
const DepositDeadline = 48 * time.Hour

// Job names, shared by the HTTP cron routes, the CLI and the scheduler.
const (
	JobExpireAds       = "expire-ads"
	JobCancelDeposits  = "cancel-overdue-deposits"
	JobAutoJump        = "auto-jump"
	JobResetDailyJumps = "reset-daily-jumps"
	JobExpiryNotices   = "expiry-notices"
)

// JobResult summarizes one run of a housekeeping job.
type JobResult struct {
	Job      string `json:"job"`
	Affected int64  `json:"affected"`
	Failed   int64  `json:"failed,omitempty"`
}

// JobFunc runs one job once.
type JobFunc func(ctx context.Context) (JobResult, error)

// Jobs returns every periodic job by name.
func (s *Service) Jobs() map[string]JobFunc {
	return map[string]JobFunc{
		JobExpireAds:       s.ExpireAds,
		JobCancelDeposits:  s.CancelOverdueDeposits,
		JobAutoJump:        s.RunAutoJump,
		JobResetDailyJumps: s.ResetDailyJumps,
		JobExpiryNotices:   s.SendExpiryNotices,
	}
}

// JobNames returns the job names in a stable order.
func (s *Service) JobNames() []string {
	names := make([]string, 0, 5)
	for name := range s.Jobs() {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RunJob runs the named job once.
func (s *Service) RunJob(ctx context.Context, name string) (JobResult, error) {
	fn, ok := s.Jobs()[name]
	if !ok {
		return JobResult{}, fmt.Errorf("%w: job %q", ErrNotFound, name)
	}
	return fn(ctx)
}

func (s *Service) finishJob(res JobResult, err error) error {
	s.metrics.JobRun(res.Job, res.Affected, res.Failed, err)
	if err != nil {
		s.log.Error("job failed", zap.String("job", res.Job), zap.Error(err))
		return fmt.Errorf("%s: %w", res.Job, err)
	}
	s.log.Info("job done",
		zap.String("job", res.Job),
		zap.Int64("affected", res.Affected),
		zap.Int64("failed", res.Failed))
	return nil
}

// ExpireAds moves every ACTIVE ad past its end date to EXPIRED and notifies
// the owners. Re-running it finds nothing left to expire.
func (s *Service) ExpireAds(ctx context.Context) (JobResult, error) {
	now := s.now()
	res := JobResult{Job: JobExpireAds}
	var (
		refs  []AdRef
		notes []Notification
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		notes = nil
		var err error
		if refs, err = tx.ExpireActiveAds(ctx, now); err != nil {
			return err
		}
		for _, r := range refs {
			n := newNotification(r.UserID, r.ID, NoticeAdExpired, "Listing expired",
				fmt.Sprintf("Your listing %q has expired. Renew it to keep it visible.", r.Title), now)
			if err := tx.InsertNotification(ctx, &n); err != nil {
				return err
			}
			notes = append(notes, n)
		}
		return nil
	})
	if err != nil {
		return res, s.finishJob(res, err)
	}

	res.Affected = int64(len(refs))
	s.publish(ctx, notes, refChanges(refs, AdActive, AdExpired))
	return res, s.finishJob(res, nil)
}

// CancelOverdueDeposits cancels PENDING_DEPOSIT ads older than the deposit
// deadline together with their PENDING payments. The update is conditional
// on the ad still being PENDING_DEPOSIT, so an approval that locked the ad
// first wins.
func (s *Service) CancelOverdueDeposits(ctx context.Context) (JobResult, error) {
	now := s.now()
	res := JobResult{Job: JobCancelDeposits}
	var (
		refs  []AdRef
		notes []Notification
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		notes = nil
		var err error
		if refs, err = tx.CancelOverdueDeposits(ctx, now.Add(-DepositDeadline), now); err != nil {
			return err
		}
		if len(refs) == 0 {
			return nil
		}
		ids := make([]string, len(refs))
		for i, r := range refs {
			ids[i] = r.ID
		}
		if _, err := tx.CancelPendingPayments(ctx, ids, "deposit deadline passed", now); err != nil {
			return err
		}
		for _, r := range refs {
			n := newNotification(r.UserID, r.ID, NoticeAdCancelled, "Order cancelled",
				fmt.Sprintf("No deposit was received for %q within %d hours; the order was cancelled.",
					r.Title, int(DepositDeadline.Hours())), now)
			if err := tx.InsertNotification(ctx, &n); err != nil {
				return err
			}
			notes = append(notes, n)
		}
		return nil
	})
	if err != nil {
		return res, s.finishJob(res, err)
	}

	res.Affected = int64(len(refs))
	s.publish(ctx, notes, refChanges(refs, AdPendingDeposit, AdCancelled))
	return res, s.finishJob(res, nil)
}

// ResetDailyJumps zeroes the manual jump counters. It is scheduled at local
// midnight.
func (s *Service) ResetDailyJumps(ctx context.Context) (JobResult, error) {
	now := s.now()
	res := JobResult{Job: JobResetDailyJumps}
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		res.Affected, err = tx.ResetDailyJumps(ctx, now)
		return err
	})
	return res, s.finishJob(res, err)
}

type expiryNotice struct {
	kind  NotificationKind
	lead  int // days
	title string
	msg   string
}

var expiryNotices = []expiryNotice{
	{NoticeExpiresIn3Days, 3, "Listing expires in 3 days", "Your listing %s expires in 3 days."},
	{NoticeExpiresIn1Day, 1, "Listing expires tomorrow", "Your listing %s expires tomorrow."},
	{NoticeExpiresToday, 0, "Listing expires today", "Your listing %s expires within 24 hours."},
}

// SendExpiryNotices sends the D-3, D-1 and D-0 notices. An ad whose end
// date falls in (now+L days, now+L+1 days] gets the notice for lead L unless
// it received the same kind in the last 24 hours.
func (s *Service) SendExpiryNotices(ctx context.Context) (JobResult, error) {
	now := s.now()
	res := JobResult{Job: JobExpiryNotices}
	var notes []Notification
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		notes = nil
		for _, e := range expiryNotices {
			sent, err := tx.InsertExpiryNotices(ctx, NoticeSpec{
				Kind:       e.kind,
				Title:      e.title,
				Format:     e.msg,
				EndAfter:   now.Add(time.Duration(e.lead) * 24 * time.Hour),
				EndBefore:  now.Add(time.Duration(e.lead+1) * 24 * time.Hour),
				DedupSince: now.Add(-24 * time.Hour),
				Now:        now,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", e.kind, err)
			}
			notes = append(notes, sent...)
		}
		return nil
	})
	if err != nil {
		return res, s.finishJob(res, err)
	}

	res.Affected = int64(len(notes))
	s.publish(ctx, notes, nil)
	return res, s.finishJob(res, nil)
}

func refChanges(refs []AdRef, from, to AdStatus) []statusChange {
	changes := make([]statusChange, len(refs))
	for i, r := range refs {
		changes[i] = statusChange{AdID: r.ID, UserID: r.UserID, From: from, To: to}
	}
	return changes
}
