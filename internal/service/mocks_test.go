package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	appErrors "github.com/unclebandit/campaign-lifecycle/internal/errors"
	"github.com/unclebandit/campaign-lifecycle/internal/events"
	"github.com/unclebandit/campaign-lifecycle/internal/lock"
	"github.com/unclebandit/campaign-lifecycle/internal/model"
	"github.com/unclebandit/campaign-lifecycle/internal/scheduler"
	"github.com/unclebandit/campaign-lifecycle/internal/service"
	"github.com/unclebandit/campaign-lifecycle/internal/social"
)

// MockCampaignRepo keeps campaigns in memory and applies the same
// conditional updates as the Postgres repository.
type MockCampaignRepo struct {
	mu          sync.Mutex
	campaigns   map[int64]*model.Campaign
	nextID      int64
	rateUpdates int
	running     int
}

func NewMockCampaignRepo(cs ...*model.Campaign) *MockCampaignRepo {
	m := &MockCampaignRepo{campaigns: map[int64]*model.Campaign{}, nextID: 100}
	for _, c := range cs {
		m.campaigns[c.ID] = c
	}
	return m
}

func (m *MockCampaignRepo) Get(id int64) model.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.campaigns[id]
}

func (m *MockCampaignRepo) GetByID(_ context.Context, id int64) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (m *MockCampaignRepo) Create(_ context.Context, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c.ID = m.nextID
	c.CreatedAt = time.Now()
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *MockCampaignRepo) UpdateRewardRates(_ context.Context, id int64, rates model.Rates) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.Rates = rates
	m.rateUpdates++
	return nil
}

func (m *MockCampaignRepo) TransitionStatus(_ context.Context, id int64, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if c.Status == s {
			c.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (m *MockCampaignRepo) CountByStatus(_ context.Context, status model.CampaignStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.running
	for _, c := range m.campaigns {
		if c.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *MockCampaignRepo) AdmitRunning(_ context.Context, id int64, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	collecting := m.running
	for _, c := range m.campaigns {
		if c.Status == model.StatusRunning {
			collecting++
		}
	}
	if collecting >= limit {
		return collecting, false, appErrors.ErrCollectionCapacity
	}
	c := m.campaigns[id]
	if c == nil || c.Status != model.StatusStarted {
		return collecting, false, nil
	}
	c.Status = model.StatusRunning
	return collecting, true, nil
}

func (m *MockCampaignRepo) MarkClosed(_ context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[id]
	if c == nil || c.Status != model.StatusClosing || c.ClosedAt != nil {
		return false, nil
	}
	c.ClosedAt = &at
	return true, nil
}

func (m *MockCampaignRepo) SetFirstPost(_ context.Context, id int64, postID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[id]
	if c == nil || !c.Approved || c.FirstPostID != nil {
		return false, nil
	}
	c.FirstPostID = &postID
	c.Status = model.StatusStarted
	return true, nil
}

func (m *MockCampaignRepo) SetContractTx(_ context.Context, id int64, txID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[id]
	if c == nil || c.FirstPostID == nil || c.ContractTxID != nil {
		return false, nil
	}
	c.ContractTxID = &txID
	return true, nil
}

func (m *MockCampaignRepo) SetSecondPost(_ context.Context, id int64, postID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[id]
	if c == nil || c.ContractTxID == nil || c.SecondPostID != nil {
		return false, nil
	}
	c.SecondPostID = &postID
	return true, nil
}

type MockEngagementRepo struct {
	Records []model.EngagementRecord
	Err     error
}

func (m *MockEngagementRepo) CountDistinctParticipants(_ context.Context, campaignID int64, status model.PaymentStatus) (int, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	seen := map[string]bool{}
	for _, r := range m.Records {
		if r.CampaignID == campaignID && r.PaymentStatus == status {
			seen[r.ParticipantID] = true
		}
	}
	return len(seen), nil
}

type MockAuditRepo struct {
	mu      sync.Mutex
	Entries []model.AuditLogEntry
}

func (m *MockAuditRepo) Append(_ context.Context, e *model.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.Entries) + 1)
	m.Entries = append(m.Entries, *e)
	return nil
}

func (m *MockAuditRepo) Recent(_ context.Context, campaignID int64, limit int) ([]model.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AuditLogEntry
	for i := len(m.Entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.Entries[i].CampaignID == campaignID {
			out = append(out, m.Entries[i])
		}
	}
	return out, nil
}

// Messages returns "status message" pairs in insertion order.
func (m *MockAuditRepo) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		out[i] = e.Status + " " + e.Message
	}
	return out
}

type MockBus struct {
	mu     sync.Mutex
	Events []events.Event
	Err    error
}

func (b *MockBus) Publish(_ context.Context, ev events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return b.Err
	}
	b.Events = append(b.Events, ev)
	return nil
}

func (b *MockBus) Published() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.Event(nil), b.Events...)
}

// MockScheduler records jobs and honours dedupe keys.
type MockScheduler struct {
	mu   sync.Mutex
	Jobs []*model.ScheduledJob
	Err  error
}

func (s *MockScheduler) AddJob(_ context.Context, eventName string, payload any, executeAt time.Time, opts ...scheduler.JobOption) (*model.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, &appErrors.SchedulingError{EventName: eventName, Err: s.Err}
	}
	job := &model.ScheduledJob{ID: int64(len(s.Jobs) + 1), EventName: eventName, ExecuteAt: executeAt, Status: model.JobPending}
	for _, opt := range opts {
		opt(job)
	}
	if job.DedupeKey != nil {
		for _, j := range s.Jobs {
			if j.DedupeKey != nil && *j.DedupeKey == *job.DedupeKey && j.Status == model.JobPending {
				j.Status = model.JobReplaced
			}
		}
	}
	ev, ok := payload.(events.Expiration)
	if ok {
		job.Payload, _ = json.Marshal(ev)
	}
	s.Jobs = append(s.Jobs, job)
	return job, nil
}

func (s *MockScheduler) Pending() []*model.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ScheduledJob
	for _, j := range s.Jobs {
		if j.Status == model.JobPending {
			out = append(out, j)
		}
	}
	return out
}

type MockPublisher struct {
	mu      sync.Mutex
	Posts   []string
	Parents []*string
	FailOn  int // 1-based call number that fails; 0 never fails
	calls   int
}

func (p *MockPublisher) Publish(_ context.Context, text string, isThread bool, parent *string, _ social.Owner) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls == p.FailOn {
		return "", errors.New("social network unavailable")
	}
	p.Posts = append(p.Posts, text)
	p.Parents = append(p.Parents, parent)
	return "post-" + string(rune('0'+len(p.Posts))), nil
}

type MockContract struct {
	mu            sync.Mutex
	FundErr       error
	ExpiryErr     error
	FundCalls     int
	ExpiryCalls   int
	FungibleCalls int
}

func (c *MockContract) Fund(context.Context, *model.Campaign, social.Owner) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FundCalls++
	if c.FundErr != nil {
		return "", c.FundErr
	}
	return "tx-1", nil
}

func (c *MockContract) Expiry(context.Context, *model.Campaign, social.Owner) (social.SettlementResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ExpiryCalls++
	if c.ExpiryErr != nil {
		return social.SettlementResult{}, c.ExpiryErr
	}
	return social.SettlementResult{Status: "SUCCESS"}, nil
}

func (c *MockContract) ExpiryFungible(context.Context, *model.Campaign, social.Owner) (social.SettlementResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FungibleCalls++
	if c.ExpiryErr != nil {
		return social.SettlementResult{}, c.ExpiryErr
	}
	return social.SettlementResult{Status: "SUCCESS"}, nil
}

type MockNotifier struct {
	mu     sync.Mutex
	Events []string
}

func (n *MockNotifier) SendToUser(_ context.Context, _ int64, eventType string, _ any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Events = append(n.Events, eventType)
	return true
}

type fixture struct {
	Campaigns   *MockCampaignRepo
	Engagements *MockEngagementRepo
	Audit       *MockAuditRepo
	Bus         *MockBus
	Scheduler   *MockScheduler
	Publisher   *MockPublisher
	Contract    *MockContract
	Notifier    *MockNotifier
	Now         time.Time
	Deps        service.Deps
}

func newFixture(cs ...*model.Campaign) *fixture {
	f := &fixture{
		Campaigns:   NewMockCampaignRepo(cs...),
		Engagements: &MockEngagementRepo{},
		Audit:       &MockAuditRepo{},
		Bus:         &MockBus{},
		Scheduler:   &MockScheduler{},
		Publisher:   &MockPublisher{},
		Contract:    &MockContract{},
		Notifier:    &MockNotifier{},
		Now:         time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	f.Deps = service.Deps{
		CampaignRepo:   f.Campaigns,
		EngagementRepo: f.Engagements,
		AuditRepo:      f.Audit,
		Bus:            f.Bus,
		Locker:         lock.NewKeyedMutex(),
		Clock:          func() time.Time { return f.Now },
	}
	return f
}

func (f *fixture) workflow() *service.PublishWorkflow {
	return &service.PublishWorkflow{
		Deps:      f.Deps,
		Publisher: f.Publisher,
		Contract:  f.Contract,
		Notifier:  f.Notifier,
		Templates: service.DefaultTemplates(),
	}
}

func (f *fixture) settlement() *service.SettlementCoordinator {
	return &service.SettlementCoordinator{Deps: f.Deps, Scheduler: f.Scheduler, ClaimDuration: 90 * time.Minute}
}

func (f *fixture) expiry() *service.ExpiryHandler {
	return &service.ExpiryHandler{Deps: f.Deps, Contract: f.Contract, Notifier: f.Notifier}
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
