package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"billingsync/internal/model"
)

// memStore is an in-memory stand-in for every repository the services use.
type memStore struct {
	mu       sync.Mutex
	tenants  map[string]*model.Tenant
	members  map[string]model.Role // tenantID|userID
	users    map[string]*model.User
	subs     []model.Subscription
	records  []model.WebhookRecord
	upserts  int
	markPaid int

	subsErr   error
	upsertErr error
	logErr    error
}

func newMemStore() *memStore {
	return &memStore{
		tenants: map[string]*model.Tenant{},
		members: map[string]model.Role{},
		users:   map[string]*model.User{},
	}
}

func (m *memStore) addTenant(t model.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = &t
}

func (m *memStore) addMember(tenantID, userID string, role model.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[tenantID+"|"+userID] = role
}

func (m *memStore) addUser(u model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.UserID] = &u
}

func (m *memStore) addSub(s model.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, s)
}

func (m *memStore) tenant(id string) model.Tenant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.tenants[id]
}

func (m *memStore) subsFor(tenantID string) []model.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs {
		if s.TenantID == tenantID {
			out = append(out, s)
		}
	}
	return out
}

func (m *memStore) GetTenant(_ context.Context, id string) (*model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) GetMemberRole(_ context.Context, tenantID, userID string) (model.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[tenantID+"|"+userID], nil
}

func (m *memStore) MarkTenantPaid(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok || t.TrialEndDate == nil {
		return false, nil
	}
	t.TrialEndDate = nil
	m.markPaid++
	return true, nil
}

func (m *memStore) ListTrialTenantsWithActiveSubscription(_ context.Context, limit int) ([]model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Tenant
	for _, s := range m.subs {
		t, ok := m.tenants[s.TenantID]
		if s.Status == model.SubscriptionStatusActive && ok && t.TrialEndDate != nil {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) ListForTenant(_ context.Context, tenantID, userID string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subsErr != nil {
		return nil, m.subsErr
	}
	var out []model.Subscription
	for _, s := range m.subs {
		if s.TenantID == tenantID && s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (m *memStore) UpsertSubscription(_ context.Context, tenantID string, f model.SubscriptionUpsert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserts++
	start, end := f.PeriodStart, f.PeriodEnd
	for i := range m.subs {
		s := &m.subs[i]
		if s.TenantID != tenantID {
			continue
		}
		if s.Status == f.Status && s.UserID == f.UserID &&
			ptrEq(s.StripeSubscriptionID, strOrNil(f.StripeSubscriptionID)) &&
			ptrEq(s.StripeCustomerID, strOrNil(f.StripeCustomerID)) {
			return nil
		}
		s.UserID = f.UserID
		s.Status = f.Status
		s.PlanType = f.PlanType
		s.StripeSubscriptionID = strOrNil(f.StripeSubscriptionID)
		s.StripeCustomerID = strOrNil(f.StripeCustomerID)
		s.CurrentPeriodStart = &start
		s.CurrentPeriodEnd = &end
		s.CancelledAt = nil
		return nil
	}
	m.subs = append(m.subs, model.Subscription{
		ID:                   "sub-row-" + tenantID,
		UserID:               f.UserID,
		TenantID:             tenantID,
		Status:               f.Status,
		PlanType:             f.PlanType,
		StripeSubscriptionID: strOrNil(f.StripeSubscriptionID),
		StripeCustomerID:     strOrNil(f.StripeCustomerID),
		CurrentPeriodStart:   &start,
		CurrentPeriodEnd:     &end,
		CreatedAt:            start,
		UpdatedAt:            start,
	})
	return nil
}

func ptrEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (m *memStore) CancelByStripeSubscriptionID(_ context.Context, stripeSubID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.subs {
		s := &m.subs[i]
		if s.StripeSubscriptionID != nil && *s.StripeSubscriptionID == stripeSubID && s.Status != model.SubscriptionStatusCancelled {
			now := time.Now()
			s.Status = model.SubscriptionStatusCancelled
			s.CancelledAt = &now
			return s.TenantID, true, nil
		}
	}
	return "", false, nil
}

func (m *memStore) Record(_ context.Context, rec *model.WebhookRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logErr != nil {
		return m.logErr
	}
	m.records = append(m.records, *rec)
	return nil
}

func (m *memStore) ListSince(_ context.Context, since time.Time) ([]model.WebhookRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.WebhookRecord
	for _, r := range m.records {
		if !r.ProcessedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) RecentFailures(_ context.Context, limit int) ([]model.WebhookRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.WebhookRecord
	for _, r := range m.records {
		if !r.Success {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessedAt.After(out[j].ProcessedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) CountByEventID(_ context.Context, eventID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.EventID == eventID {
			n++
		}
	}
	return n, nil
}

// fakeProvider serves a fixed provider snapshot.
type fakeProvider struct {
	mu       sync.Mutex
	sessions map[string]*model.CheckoutSession
	subs     map[string][]model.ProviderSubscription
	charges  map[string][]model.Charge
	listed   map[string][]model.CheckoutSession
	err      error
	calls    int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		sessions: map[string]*model.CheckoutSession{},
		subs:     map[string][]model.ProviderSubscription{},
		charges:  map[string][]model.Charge{},
		listed:   map[string][]model.CheckoutSession{},
	}
}

func (p *fakeProvider) count() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func (p *fakeProvider) ListActiveSubscriptions(_ context.Context, customer string, _ int64) ([]model.ProviderSubscription, error) {
	if err := p.count(); err != nil {
		return nil, err
	}
	return p.subs[customer], nil
}

func (p *fakeProvider) ListRecentCharges(_ context.Context, customer string, _ int64) ([]model.Charge, error) {
	if err := p.count(); err != nil {
		return nil, err
	}
	return p.charges[customer], nil
}

func (p *fakeProvider) ListCheckoutSessions(_ context.Context, customer string, _ int64) ([]model.CheckoutSession, error) {
	if err := p.count(); err != nil {
		return nil, err
	}
	return p.listed[customer], nil
}

func (p *fakeProvider) RetrieveCheckoutSession(_ context.Context, ref string) (*model.CheckoutSession, error) {
	if err := p.count(); err != nil {
		return nil, err
	}
	s, ok := p.sessions[ref]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []model.BillingEvent
	err    error
}

func (f *fakePublisher) PublishBillingEvent(_ context.Context, ev model.BillingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

type fakeQueue struct {
	jobs []model.ReconcileJob
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, job model.ReconcileJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

var errStore = errors.New("store unavailable")

func ptrTime(t time.Time) *time.Time { return &t }

func ptrStr(s string) *string { return &s }
