package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ads-marketplace/deal-engine/internal/config"
	"github.com/ads-marketplace/deal-engine/internal/events"
	"github.com/ads-marketplace/deal-engine/internal/metrics"
	"github.com/ads-marketplace/deal-engine/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// memStore is an in-memory stand-in for the postgres repositories. Status changes are
// conditional on the current status, like the UPDATE ... WHERE status = $from in DealRepo.
type memStore struct {
	mu       sync.Mutex
	now      func() time.Time
	deals    map[uuid.UUID]*models.Deal
	channels map[uuid.UUID]*models.Channel
	txs      []models.Transaction
	earnings map[uuid.UUID]models.OwnerEarning
	clicks   map[string]bool
	audit    []models.AuditLog

	earningErr error
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		now:      now,
		deals:    make(map[uuid.UUID]*models.Deal),
		channels: make(map[uuid.UUID]*models.Channel),
		earnings: make(map[uuid.UUID]models.OwnerEarning),
		clicks:   make(map[string]bool),
	}
}

func (s *memStore) Create(_ context.Context, d *models.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = s.now()
	d.UpdatedAt = d.CreatedAt
	cp := *d
	s.deals[d.ID] = &cp
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "deal %s", id)
	}
	cp := *d
	return &cp, nil
}

func (s *memStore) list(match func(*models.Deal) bool) []models.Deal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Deal
	for _, d := range s.deals {
		if match(d) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *memStore) ListByStatus(_ context.Context, status string) ([]models.Deal, error) {
	return s.list(func(d *models.Deal) bool { return d.Status == status }), nil
}

func (s *memStore) ListStale(_ context.Context, status string, before time.Time) ([]models.Deal, error) {
	return s.list(func(d *models.Deal) bool { return d.Status == status && d.UpdatedAt.Before(before) }), nil
}

func (s *memStore) ListByChannel(_ context.Context, channelID uuid.UUID, statuses []string) ([]models.Deal, error) {
	return s.list(func(d *models.Deal) bool {
		if d.ChannelID != channelID {
			return false
		}
		for _, st := range statuses {
			if d.Status == st {
				return true
			}
		}
		return false
	}), nil
}

func (s *memStore) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string, patch models.DealPatch, entries []models.Transaction) (*models.Deal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "deal %s", id)
	}
	if d.Status != from {
		return nil, errors.Wrapf(models.ErrConcurrentModification, "deal %s is no longer %s", id, from)
	}
	d.Status = to
	if patch.PostRef != nil {
		d.PostRef = patch.PostRef
	}
	if patch.PostedAt != nil {
		d.PostedAt = patch.PostedAt
	}
	if patch.VerifiedAt != nil {
		d.VerifiedAt = patch.VerifiedAt
	}
	if patch.PaidAt != nil {
		d.PaidAt = patch.PaidAt
	}
	if patch.CompletedAt != nil {
		d.CompletedAt = patch.CompletedAt
	}
	if patch.RejectionReason != nil {
		d.RejectionReason = patch.RejectionReason
	}
	d.UpdatedAt = s.now()
	for _, e := range entries {
		e.ID = uuid.New()
		e.DealID = id
		e.CreatedAt = s.now()
		s.txs = append(s.txs, e)
	}
	cp := *d
	return &cp, nil
}

func (s *memStore) SpendClick(_ context.Context, id uuid.UUID, unitPrice decimal.Decimal) (*models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok || d.Status != models.DealStatusPosted || d.PricingMode != models.PricingModeClick {
		return nil, nil
	}
	if d.Budget != nil && !d.Spent.LessThan(*d.Budget) {
		return nil, nil
	}
	d.Spent = d.Spent.Add(unitPrice)
	d.ClickCount++
	d.UpdatedAt = s.now()
	cp := *d
	return &cp, nil
}

func (s *memStore) RecordClick(_ context.Context, dealID uuid.UUID, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dealID.String() + "|" + fingerprint
	if s.clicks[key] {
		return false, nil
	}
	s.clicks[key] = true
	return true, nil
}

func (s *memStore) CountClicks(_ context.Context, dealID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.clicks {
		if strings.HasPrefix(key, dealID.String()+"|") {
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListTransactions(_ context.Context, dealID uuid.UUID) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, t := range s.txs {
		if t.DealID == dealID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) CreateEarning(_ context.Context, e *models.OwnerEarning) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.earningErr != nil {
		return false, s.earningErr
	}
	if _, ok := s.earnings[e.DealID]; ok {
		return false, nil
	}
	e.ID = uuid.New()
	s.earnings[e.DealID] = *e
	return true, nil
}

func (s *memStore) GetEarning(_ context.Context, dealID uuid.UUID) (*models.OwnerEarning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.earnings[dealID]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "earning of deal %s", dealID)
	}
	return &e, nil
}

func (s *memStore) earning(dealID uuid.UUID) (models.OwnerEarning, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.earnings[dealID]
	return e, ok
}

func (s *memStore) Log(_ context.Context, entry models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

func (s *memStore) GetByEntity(_ context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditLog
	for i := len(s.audit) - 1; i >= 0; i-- {
		a := s.audit[i]
		if a.EntityType == entityType && a.EntityID != nil && *a.EntityID == entityID {
			out = append(out, a)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// channelStore exposes the channel half of memStore; GetByID clashes with the deal store.
type channelStore struct{ s *memStore }

func (c channelStore) GetByID(_ context.Context, id uuid.UUID) (*models.Channel, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	ch, ok := c.s.channels[id]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "channel %s", id)
	}
	cp := *ch
	return &cp, nil
}

func (c channelStore) Create(_ context.Context, ch *models.Channel) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	for _, existing := range c.s.channels {
		if existing.ExternalRef == ch.ExternalRef {
			ch.ID = existing.ID
		}
	}
	if ch.ID == uuid.Nil {
		ch.ID = uuid.New()
	}
	cp := *ch
	c.s.channels[ch.ID] = &cp
	return nil
}

func (c channelStore) ListActive(_ context.Context) ([]models.Channel, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	var out []models.Channel
	for _, ch := range c.s.channels {
		if ch.IsActive {
			out = append(out, *ch)
		}
	}
	return out, nil
}

func (c channelStore) Deactivate(_ context.Context, id uuid.UUID) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	ch, ok := c.s.channels[id]
	if !ok {
		return models.ErrNotFound
	}
	ch.IsActive = false
	ch.CanPost = false
	return nil
}

// fakePlatform scripts publish results and liveness/rights answers.
type fakePlatform struct {
	mu            sync.Mutex
	publishErrs   []error // consumed per attempt; empty means success
	publishCalls  int
	liveness      models.Liveness
	livenessErr   error
	probes        int
	rights        []models.PostingRights // consumed per check; last value repeats
	publishDelay  time.Duration
	onPublish     func(call int)
}

func (p *fakePlatform) Publish(ctx context.Context, ch *models.Channel, _ models.Creative) (string, error) {
	p.mu.Lock()
	p.publishCalls++
	n := p.publishCalls
	var err error
	if len(p.publishErrs) > 0 {
		err = p.publishErrs[0]
		p.publishErrs = p.publishErrs[1:]
	}
	delay := p.publishDelay
	hook := p.onPublish
	p.mu.Unlock()

	if hook != nil {
		hook(n)
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return ch.ExternalRef + "/" + string(rune('0'+n)), nil
}

func (p *fakePlatform) ProbeLiveness(_ context.Context, _ *models.Channel, _ string) (models.Liveness, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes++
	if p.livenessErr != nil {
		return models.LivenessIndeterminate, p.livenessErr
	}
	if p.liveness == "" {
		return models.LivenessAlive, nil
	}
	return p.liveness, nil
}

func (p *fakePlatform) CheckPostingRights(_ context.Context, _ *models.Channel) (models.PostingRights, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.rights) == 0 {
		return models.PostingRightsGranted, nil
	}
	r := p.rights[0]
	if len(p.rights) > 1 {
		p.rights = p.rights[1:]
	}
	return r, nil
}

func (p *fakePlatform) setLiveness(l models.Liveness) {
	p.mu.Lock()
	p.liveness = l
	p.mu.Unlock()
}

func (p *fakePlatform) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.publishCalls
}

type notification struct {
	UserID uuid.UUID
	Kind   string
	DealID uuid.UUID
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Notify(_ context.Context, userID uuid.UUID, kind string, dealID uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{UserID: userID, Kind: kind, DealID: dealID})
	return nil
}

func (n *recordingNotifier) kinds(userID uuid.UUID) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		if s.UserID == userID {
			out = append(out, s.Kind)
		}
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

// fakeRegistry records scheduled loops; tests drive ticks by calling Orchestrator.CheckDeal.
type fakeRegistry struct {
	mu        sync.Mutex
	intervals map[uuid.UUID]time.Duration
	history   map[uuid.UUID][]time.Duration
	cancels   int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		intervals: make(map[uuid.UUID]time.Duration),
		history:   make(map[uuid.UUID][]time.Duration),
	}
}

func (r *fakeRegistry) Schedule(dealID uuid.UUID, interval time.Duration, _ func(context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intervals[dealID] = interval
	r.history[dealID] = append(r.history[dealID], interval)
	return nil
}

func (r *fakeRegistry) Cancel(dealID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.intervals[dealID]; ok {
		r.cancels++
	}
	delete(r.intervals, dealID)
}

func (r *fakeRegistry) Interval(dealID uuid.UUID) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.intervals[dealID]
	return d, ok
}

func (r *fakeRegistry) active(dealID uuid.UUID) bool {
	_, ok := r.Interval(dealID)
	return ok
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// harness wires the engine over the fakes.
type harness struct {
	clock     *fakeClock
	store     *memStore
	channels  channelStore
	platform  *fakePlatform
	notifier  *recordingNotifier
	publisher *recordingPublisher
	registry  *fakeRegistry
	metrics   *metrics.Metrics
	ledger    *EscrowLedger
	orch      *Orchestrator
	clicks    *ClickMeter
	service   *DealService
	channel   *models.Channel
}

func testOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		PostMaxAttempts:     3,
		PostBackoffBase:     time.Millisecond,
		ExternalCallTimeout: time.Second,
		ShortInterval:       30 * time.Second,
		LongInterval:        5 * time.Minute,
		ShortDealThreshold:  time.Hour,
		ClickMaxDuration:    7 * 24 * time.Hour,
		ResumeConcurrency:   4,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testOrchestratorConfig()
	h := &harness{
		clock:     &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		platform:  &fakePlatform{},
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		registry:  newFakeRegistry(),
		metrics:   metrics.NewNop(),
	}
	h.store = newMemStore(h.clock.Now)
	h.channels = channelStore{s: h.store}

	tiers, err := config.ParseFeeTiers("100:15,1000:10,*:5")
	if err != nil {
		t.Fatal(err)
	}
	log := zap.NewNop()
	h.ledger = NewEscrowLedger(h.store, h.store, h.channels, h.store, h.publisher, NewFeeSchedule(tiers, 9), config.OvershootCap, h.metrics, log)
	h.ledger.now = h.clock.Now
	h.orch = NewOrchestrator(h.store, h.channels, h.ledger, h.platform, h.notifier, h.registry, h.metrics, cfg, log)
	h.orch.now = h.clock.Now
	h.clicks = NewClickMeter(h.store, h.store, h.orch, h.metrics, log)
	h.service = NewDealService(h.store, h.channels, h.ledger, h.store, h.publisher, log)

	perClick := decimal.NewFromInt(1)
	perDuration := decimal.NewFromInt(50)
	h.channel = &models.Channel{
		ID:               uuid.New(),
		OwnerUserID:      uuid.New(),
		ExternalRef:      "testchannel",
		IsActive:         true,
		CanPost:          true,
		ApprovalStatus:   models.ChannelApprovalApproved,
		PricePerDuration: &perDuration,
		PricePerClick:    &perClick,
	}
	h.store.channels[h.channel.ID] = h.channel
	return h
}

// seedDeal inserts a deal directly in the given status.
func (h *harness) seedDeal(status, mode string, amount decimal.Decimal, duration time.Duration) *models.Deal {
	link := "https://example.com/landing"
	d := &models.Deal{
		ID:               uuid.New(),
		ChannelID:        h.channel.ID,
		AdvertiserUserID: uuid.New(),
		Creative:         models.Creative{Text: "Try our product", LinkURL: &link},
		PricingMode:      mode,
		DurationSeconds:  int(duration / time.Second),
		Status:           status,
	}
	if mode == models.PricingModeClick {
		price := *h.channel.PricePerClick
		d.Budget = &amount
		d.ClickPrice = &price
	} else {
		d.Price = &amount
	}
	if err := h.store.Create(context.Background(), d); err != nil {
		panic(err)
	}
	return d
}

// seedPosted inserts a posted deal whose content went live postedAgo before now.
func (h *harness) seedPosted(mode string, amount decimal.Decimal, duration, postedAgo time.Duration) *models.Deal {
	d := h.seedDeal(models.DealStatusPosted, mode, amount, duration)
	postedAt := h.clock.Now().Add(-postedAgo)
	ref := "testchannel/1"
	h.store.mu.Lock()
	h.store.deals[d.ID].PostedAt = &postedAt
	h.store.deals[d.ID].PostRef = &ref
	h.store.mu.Unlock()
	d.PostedAt = &postedAt
	d.PostRef = &ref
	return d
}

func (h *harness) setSpent(id uuid.UUID, spent decimal.Decimal) {
	h.store.mu.Lock()
	h.store.deals[id].Spent = spent
	h.store.mu.Unlock()
}

func (h *harness) deal(t *testing.T, id uuid.UUID) *models.Deal {
	t.Helper()
	d, err := h.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// ledgerTypes returns "type:amount" for each entry of the deal in order.
func (h *harness) ledgerTypes(t *testing.T, id uuid.UUID) []string {
	t.Helper()
	txs, err := h.store.ListTransactions(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, 0, len(txs))
	for _, tx := range txs {
		out = append(out, tx.Type+":"+tx.Amount.String())
	}
	return out
}
