// Package placementtest provides in-memory fakes for testing code built on
// the placement service: a transactional Store, a controllable clock and
// recording publisher, gateway and registry doubles.
package placementtest

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobmate/placement-service/internal/placement"
)

type state struct {
	ads           map[string]placement.Ad
	payments      map[string]placement.Payment
	options       map[string][]placement.AdOption
	users         map[string]placement.UserAccount
	jumps         []placement.JumpLog
	notes         []placement.Notification
	verifications []placement.BusinessVerification
}

func (s *state) clone() *state {
	c := &state{
		ads:           maps.Clone(s.ads),
		payments:      maps.Clone(s.payments),
		options:       make(map[string][]placement.AdOption, len(s.options)),
		users:         maps.Clone(s.users),
		jumps:         slices.Clone(s.jumps),
		notes:         slices.Clone(s.notes),
		verifications: slices.Clone(s.verifications),
	}
	for k, v := range s.options {
		c.options[k] = slices.Clone(v)
	}
	return c
}

// Store is an in-memory placement.Store. Transactions are serialized and
// copy-on-write: fn works on a private copy that replaces the committed
// state only when fn returns nil.
type Store struct {
	mu        sync.Mutex
	st        *state
	failures  map[string]error
	conflicts int
	attempts  int
}

var _ placement.Store = (*Store)(nil)

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		st: &state{
			ads:      map[string]placement.Ad{},
			payments: map[string]placement.Payment{},
			options:  map[string][]placement.AdOption{},
			users:    map[string]placement.UserAccount{},
		},
		failures: map[string]error{},
	}
}

// FailNext makes the next call of the named Tx method return err.
func (s *Store) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = err
}

// InjectConflicts makes the next n transactions run fn, discard its work and
// run it again, as a database retry after a serialization failure would.
func (s *Store) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

// TxAttempts returns how many times transaction functions have run.
func (s *Store) TxAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx placement.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.attempts++
		work := s.st.clone()
		if err := fn(ctx, &tx{s: s, st: work}); err != nil {
			return err
		}
		if s.conflicts > 0 {
			s.conflicts--
			continue
		}
		s.st = work
		return nil
	}
}

func (s *Store) fail(method string) error {
	if err, ok := s.failures[method]; ok {
		delete(s.failures, method)
		return err
	}
	return nil
}

// ─── Seeding and inspection ──────────────────────────────────────────────────

// AddUser creates a user with n free credits.
func (s *Store) AddUser(id string, freeCredits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.users[id] = placement.UserAccount{ID: id, FreeAdCredits: freeCredits}
}

// PutAd stores a copy of ad, creating its user when missing.
func (s *Store) PutAd(ad placement.Ad) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.ads[ad.ID] = ad
	if _, ok := s.st.users[ad.UserID]; !ok {
		s.st.users[ad.UserID] = placement.UserAccount{ID: ad.UserID}
	}
}

// PutPayment stores a copy of p.
func (s *Store) PutPayment(p placement.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.payments[p.ID] = p
}

// Ad returns the committed copy of an ad.
func (s *Store) Ad(id string) (placement.Ad, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.ads[id]
	return a, ok
}

// Payment returns the committed copy of a payment.
func (s *Store) Payment(id string) (placement.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.payments[id]
	return p, ok
}

// Account returns the committed user counters.
func (s *Store) Account(id string) placement.UserAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.users[id]
}

// Options returns the committed options of an ad.
func (s *Store) Options(adID string) []placement.AdOption {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.options[adID])
}

// JumpLogs returns the jump logs of an ad, oldest first.
func (s *Store) JumpLogs(adID string) []placement.JumpLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []placement.JumpLog
	for _, j := range s.st.jumps {
		if j.AdID == adID {
			out = append(out, j)
		}
	}
	return out
}

// Notifications returns every committed notification, oldest first.
func (s *Store) Notifications() []placement.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.notes)
}

// Verifications returns every stored verification attempt.
func (s *Store) Verifications() []placement.BusinessVerification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.verifications)
}

// ─── placement.Store reads ───────────────────────────────────────────────────

func (s *Store) GetAd(_ context.Context, id string) (*placement.Ad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.ads[id]
	if !ok {
		return nil, placement.ErrNotFound
	}
	return &a, nil
}

func (s *Store) ListActiveAds(_ context.Context, now time.Time, limit, offset int) ([]placement.Ad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []placement.Ad
	for _, a := range s.st.ads {
		if a.Status == placement.AdActive && !a.StartDate.After(now) && !a.EndDate.Before(now) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, compareListing)
	if offset >= len(out) {
		return []placement.Ad{}, nil
	}
	out = out[offset:]
	return out[:min(limit, len(out))], nil
}

// compareListing orders by tier rank, then most recent jump, then id.
func compareListing(a, b placement.Ad) int {
	if a.TierRank != b.TierRank {
		return b.TierRank - a.TierRank
	}
	switch {
	case a.LastJumpedAt == nil && b.LastJumpedAt != nil:
		return 1
	case a.LastJumpedAt != nil && b.LastJumpedAt == nil:
		return -1
	case a.LastJumpedAt != nil && !a.LastJumpedAt.Equal(*b.LastJumpedAt):
		return b.LastJumpedAt.Compare(*a.LastJumpedAt)
	}
	return strings.Compare(a.ID, b.ID)
}

func (s *Store) ListAdOptions(_ context.Context, adID string) ([]placement.AdOption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.options[adID]), nil
}

func (s *Store) GetPayment(_ context.Context, id string) (*placement.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.payments[id]
	if !ok {
		return nil, placement.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetPaymentByOrderID(_ context.Context, orderID string) (*placement.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.st.payments {
		if p.OrderID == orderID {
			return &p, nil
		}
	}
	return nil, placement.ErrNotFound
}

func (s *Store) GetAccount(_ context.Context, userID string) (*placement.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users[userID]
	if !ok {
		return nil, placement.ErrNotFound
	}
	return &u, nil
}

func (s *Store) IncrementViews(_ context.Context, adID string) error {
	return s.bump(adID, func(a *placement.Ad) { a.ViewCount++ })
}

func (s *Store) IncrementClicks(_ context.Context, adID string) error {
	return s.bump(adID, func(a *placement.Ad) { a.ClickCount++ })
}

func (s *Store) bump(adID string, f func(*placement.Ad)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.ads[adID]
	if !ok {
		return placement.ErrNotFound
	}
	f(&a)
	s.st.ads[adID] = a
	return nil
}

func (s *Store) AutoJumpCandidates(_ context.Context, windowStart, now time.Time) ([]placement.AutoJumpCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []placement.AutoJumpCandidate
	for _, a := range s.st.ads {
		if a.Status != placement.AdActive || a.AutoJumpPerDay <= 0 ||
			a.StartDate.After(now) || a.EndDate.Before(now) {
			continue
		}
		n := 0
		for _, j := range s.st.jumps {
			if j.AdID == a.ID && j.Type == placement.JumpAuto && !j.CreatedAt.Before(windowStart) {
				n++
			}
		}
		out = append(out, placement.AutoJumpCandidate{
			AdID:           a.ID,
			AutoJumpPerDay: a.AutoJumpPerDay,
			LastJumpedAt:   a.LastJumpedAt,
			JumpsInWindow:  n,
		})
	}
	slices.SortFunc(out, func(a, b placement.AutoJumpCandidate) int { return strings.Compare(a.AdID, b.AdID) })
	return out, nil
}

func (s *Store) AutoJump(_ context.Context, adID string, expected *time.Time, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("AutoJump"); err != nil {
		return false, err
	}
	a, ok := s.st.ads[adID]
	if !ok || a.Status != placement.AdActive || !sameTime(a.LastJumpedAt, expected) {
		return false, nil
	}
	a.LastJumpedAt = &now
	a.UpdatedAt = now
	s.st.ads[adID] = a
	s.st.jumps = append(s.st.jumps, placement.JumpLog{
		ID: uuid.NewString(), AdID: adID, Type: placement.JumpAuto, CreatedAt: now,
	})
	return true, nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
