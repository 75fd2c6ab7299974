package placement_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"jobmate/placement-service/internal/placement"
	"jobmate/placement-service/internal/placement/placementtest"
	"jobmate/placement-service/internal/pricing"
)

// t0 is a Monday noon in UTC; every test clock starts here unless it says
// otherwise.
var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

var (
	owner    = placement.Actor{UserID: "owner-1", Role: placement.RoleUser}
	stranger = placement.Actor{UserID: "someone-else", Role: placement.RoleUser}
	admin    = placement.Actor{UserID: "admin-1", Role: placement.RoleAdmin}
)

type env struct {
	svc   *placement.Service
	store *placementtest.Store
	clock *placementtest.Clock
	pub   *placementtest.Publisher
	gw    *placementtest.Gateway
	reg   *placementtest.Registry
}

func newEnv(t *testing.T, opts ...placement.Option) *env {
	t.Helper()
	e := &env{
		store: placementtest.NewStore(),
		clock: placementtest.NewClock(t0),
		pub:   &placementtest.Publisher{},
		gw:    &placementtest.Gateway{},
		reg:   &placementtest.Registry{},
	}
	base := []placement.Option{
		placement.WithClock(e.clock.Now),
		placement.WithLocation(time.UTC),
		placement.WithPublisher(e.pub),
		placement.WithGateway(e.gw),
		placement.WithRegistry(e.reg),
		placement.WithLogger(zaptest.NewLogger(t)),
	}
	e.svc = placement.NewService(e.store, pricing.Default(), append(base, opts...)...)
	return e
}

// activeAd returns an ACTIVE ad on SPECIAL that started at start and runs
// 30 days.
func activeAd(id string, start time.Time) placement.Ad {
	end := start.AddDate(0, 0, 30)
	jumped := start
	return placement.Ad{
		ID:               id,
		UserID:           owner.UserID,
		Status:           placement.AdActive,
		ProductID:        "SPECIAL",
		TierRank:         3,
		DurationDays:     30,
		Title:            "Line cook wanted",
		PaymentMethod:    placement.MethodCard,
		StartDate:        &start,
		EndDate:          &end,
		MaxEdits:         10,
		AutoJumpPerDay:   10,
		ManualJumpPerDay: 5,
		LastJumpedAt:     &jumped,
		CreatedAt:        start,
		UpdatedAt:        start,
	}
}

func mustAd(t *testing.T, s *placementtest.Store, id string) placement.Ad {
	t.Helper()
	a, ok := s.Ad(id)
	require.True(t, ok, "ad %s not found", id)
	return a
}

func mustPayment(t *testing.T, s *placementtest.Store, id string) placement.Payment {
	t.Helper()
	p, ok := s.Payment(id)
	require.True(t, ok, "payment %s not found", id)
	return p
}

// requireRejection asserts err is a Rejection with code c and returns it.
func requireRejection(t *testing.T, err error, c placement.Code) *placement.Rejection {
	t.Helper()
	var r *placement.Rejection
	require.True(t, errors.As(err, &r), "expected a rejection, got %v", err)
	require.Equal(t, c, r.Code, r.Msg)
	return r
}

func requireValidation(t *testing.T, err error) {
	t.Helper()
	var v *placement.ValidationError
	require.True(t, errors.As(err, &v), "expected a validation error, got %v", err)
}

var errBoom = errors.New("boom")
