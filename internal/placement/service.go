package placement

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobmate/placement-service/internal/gateway"
	"jobmate/placement-service/internal/pricing"
	"jobmate/placement-service/internal/registry"
)

// Redis channels the service publishes to.
const (
	ChannelNotification = "EVENT_NOTIFICATION"
	ChannelAdStatus     = "EVENT_AD_STATUS_CHANGED"
)

// Publisher fans events out to push/email workers.
type Publisher interface {
	Publish(ctx context.Context, channel string, message []byte) error
}

// PaymentGateway confirms card/wallet payments.
type PaymentGateway interface {
	Confirm(ctx context.Context, paymentKey, orderID string, amount int64) (gateway.Result, error)
}

// BusinessRegistry looks up business registration numbers.
type BusinessRegistry interface {
	Lookup(ctx context.Context, businessNumber string) (registry.State, error)
}

// Recorder receives metrics about state changes and job runs.
type Recorder interface {
	AdTransition(from, to string)
	PaymentApproved(kind string, amount int64)
	Jump(kind string)
	JobRun(job string, affected, failed int64, err error)
}

// ─── Service ─────────────────────────────────────────────────────────────────

// Service encapsulates the placement business logic. It has no dependency
// on net/http and can be driven by any transport or by the scheduler.
type Service struct {
	store    Store
	catalog  atomic.Pointer[pricing.Catalog]
	events   Publisher
	gateway  PaymentGateway
	registry BusinessRegistry
	metrics  Recorder
	log      *zap.Logger
	now      func() time.Time
	loc      *time.Location
	banned   []string
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithLocation sets the local time zone used by the jump windows.
func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

// WithPublisher sets the event publisher.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.events = p } }

// WithGateway sets the card payment gateway.
func WithGateway(g PaymentGateway) Option { return func(s *Service) { s.gateway = g } }

// WithRegistry sets the business registry client.
func WithRegistry(r BusinessRegistry) Option { return func(s *Service) { s.registry = r } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option { return func(s *Service) { s.metrics = r } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithBannedTerms sets the terms refused in ad content.
func WithBannedTerms(terms []string) Option { return func(s *Service) { s.banned = terms } }

// NewService returns a configured Service.
func NewService(store Store, catalog *pricing.Catalog, opts ...Option) *Service {
	s := &Service{
		store:   store,
		events:  nopPublisher{},
		metrics: nopRecorder{},
		log:     zap.NewNop(),
		now:     time.Now,
		loc:     time.Local,
	}
	s.catalog.Store(catalog)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the catalog currently used for new orders.
func (s *Service) Catalog() *pricing.Catalog { return s.catalog.Load() }

// SetCatalog swaps the catalog. Pending payments keep their snapshot.
func (s *Service) SetCatalog(c *pricing.Catalog) { s.catalog.Store(c) }

// Quote validates and prices a request against the current catalog.
func (s *Service) Quote(req pricing.Request) (pricing.Quote, error) {
	c := s.Catalog()
	if err := c.Validate(req); err != nil {
		return pricing.Quote{}, &ValidationError{Msg: err.Error()}
	}
	return c.Quote(req), nil
}

// ─── Events ──────────────────────────────────────────────────────────────────

// publish sends committed notifications and status changes. Failures are
// logged and never undo the committed state.
func (s *Service) publish(ctx context.Context, notes []Notification, changes []statusChange) {
	for i := range notes {
		s.emit(ctx, ChannelNotification, notes[i])
	}
	for _, c := range changes {
		s.metrics.AdTransition(string(c.From), string(c.To))
		s.emit(ctx, ChannelAdStatus, c)
	}
}

func (s *Service) emit(ctx context.Context, channel string, v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		s.log.Error("marshal event", zap.String("channel", channel), zap.Error(err))
		return
	}
	if err := s.events.Publish(ctx, channel, msg); err != nil {
		s.log.Warn("publish event failed", zap.String("channel", channel), zap.Error(err))
	}
}

type statusChange struct {
	AdID   string   `json:"adId"`
	UserID string   `json:"userId"`
	From   AdStatus `json:"from"`
	To     AdStatus `json:"to"`
}

func newNotification(userID, adID string, kind NotificationKind, title, message string, now time.Time) Notification {
	id := adID
	return Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		AdID:      &id,
		Kind:      kind,
		Title:     title,
		Message:   message,
		Link:      adLink(adID),
		CreatedAt: now,
	}
}

// newOrderID returns an externally visible, globally unique order id.
func newOrderID(now time.Time) string {
	u := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "AD" + now.UTC().Format("20060102") + strings.ToUpper(u[:16])
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, []byte) error { return nil }

type nopRecorder struct{}

func (nopRecorder) AdTransition(string, string)        {}
func (nopRecorder) PaymentApproved(string, int64)      {}
func (nopRecorder) Jump(string)                        {}
func (nopRecorder) JobRun(string, int64, int64, error) {}
