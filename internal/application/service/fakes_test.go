package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
)

// memClaimRepo keeps claims in memory with the same version semantics as the sqlite repository
type memClaimRepo struct {
	mu     sync.Mutex
	claims map[string]*entity.Claim

	// beforeUpdate runs inside Update before the version check
	beforeUpdate func(stored *entity.Claim)
	// readBarrier, when set, holds every GetByID until all expected readers arrive
	readBarrier *sync.WaitGroup
}

func newMemClaimRepo() *memClaimRepo {
	return &memClaimRepo{claims: make(map[string]*entity.Claim)}
}

func (r *memClaimRepo) Create(ctx context.Context, claim *entity.Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	claim.Version = 1
	r.claims[claim.ID] = claim.Clone()
	return nil
}

func (r *memClaimRepo) GetByID(ctx context.Context, id string) (*entity.Claim, error) {
	r.mu.Lock()
	stored, ok := r.claims[id]
	var cp *entity.Claim
	if ok {
		cp = stored.Clone()
	}
	r.mu.Unlock()

	if r.readBarrier != nil {
		r.readBarrier.Done()
		r.readBarrier.Wait()
	}
	if !ok {
		return nil, port.ErrNotFound
	}
	return cp, nil
}

func (r *memClaimRepo) Update(ctx context.Context, claim *entity.Claim, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.claims[claim.ID]
	if !ok {
		return port.ErrNotFound
	}
	if r.beforeUpdate != nil {
		r.beforeUpdate(stored)
	}
	if stored.Version != expectedVersion {
		return port.ErrVersionConflict
	}

	history := stored.History
	next := claim.Clone()
	next.History = history
	next.Version = expectedVersion + 1
	r.claims[claim.ID] = next
	claim.Version = next.Version
	return nil
}

func (r *memClaimRepo) AppendEvents(ctx context.Context, claimID string, events []entity.ApprovalEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.claims[claimID]
	stored.History = append(stored.History, events...)
	return nil
}

func (r *memClaimRepo) Delete(ctx context.Context, id string, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.claims[id]
	if !ok {
		return port.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return port.ErrVersionConflict
	}
	delete(r.claims, id)
	return nil
}

func (r *memClaimRepo) filter(keep func(c *entity.Claim) bool) []*entity.Claim {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Claim
	for _, c := range r.claims {
		if keep(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memClaimRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*entity.Claim, error) {
	return r.filter(func(c *entity.Claim) bool { return c.OwnerID == ownerID }), nil
}

func (r *memClaimRepo) ListPendingFor(ctx context.Context, approverID string) ([]*entity.Claim, error) {
	return r.filter(func(c *entity.Claim) bool {
		return c.Status == entity.StatusSubmitted && c.CurrentApproverID == approverID
	}), nil
}

func (r *memClaimRepo) ListStuck(ctx context.Context, companyID string) ([]*entity.Claim, error) {
	return r.filter(func(c *entity.Claim) bool {
		return c.CompanyID == companyID && c.Status == entity.StatusSubmitted && c.PolicyStuck
	}), nil
}

func (r *memClaimRepo) CountActions(ctx context.Context, actorID, action string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.claims {
		for _, e := range c.History {
			if e.ActorID == actorID && e.Action == action && !e.Timestamp.Before(since) {
				n++
			}
		}
	}
	return n, nil
}

func (r *memClaimRepo) stored(id string) *entity.Claim {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.claims[id]; ok {
		return c.Clone()
	}
	return nil
}

type fakePolicies struct {
	mu       sync.Mutex
	policies map[string]*approval.Policy
	err      error
}

func (f *fakePolicies) FindBySubject(ctx context.Context, subjectID string) (*approval.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.policies[subjectID], nil
}

func (f *fakePolicies) Save(ctx context.Context, policy *approval.Policy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.policies == nil {
		f.policies = make(map[string]*approval.Policy)
	}
	f.policies[policy.SubjectID] = policy
	return nil
}

type fakeDirectory struct {
	users     map[string]*entity.User
	companies map[string]*entity.Company
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:     make(map[string]*entity.User),
		companies: make(map[string]*entity.Company),
	}
}

func (d *fakeDirectory) GetUser(ctx context.Context, id string) (*entity.User, error) {
	if u, ok := d.users[id]; ok {
		return u, nil
	}
	return nil, port.ErrNotFound
}

func (d *fakeDirectory) GetCompany(ctx context.Context, id string) (*entity.Company, error) {
	if c, ok := d.companies[id]; ok {
		return c, nil
	}
	return nil, port.ErrNotFound
}

func (d *fakeDirectory) IsAdmin(ctx context.Context, actorID, companyID string) (bool, error) {
	u, ok := d.users[actorID]
	return ok && u.CompanyID == companyID && u.IsAdmin(), nil
}

func (d *fakeDirectory) DefaultApprover(ctx context.Context, companyID, excludeUserID string) (string, error) {
	c, ok := d.companies[companyID]
	if !ok {
		return "", nil
	}
	if c.DefaultApproverID != "" && c.DefaultApproverID != excludeUserID {
		return c.DefaultApproverID, nil
	}

	var admins []string
	for _, u := range d.users {
		if u.CompanyID == companyID && u.IsAdmin() && u.ID != excludeUserID {
			admins = append(admins, u.ID)
		}
	}
	sort.Strings(admins)
	if len(admins) == 0 {
		return "", nil
	}
	return admins[0], nil
}

func (d *fakeDirectory) SaveCompany(ctx context.Context, company *entity.Company) error {
	d.companies[company.ID] = company
	return nil
}

func (d *fakeDirectory) SaveUser(ctx context.Context, user *entity.User) error {
	d.users[user.ID] = user
	return nil
}

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (p *recordingPublisher) DispatchAsync(ctx context.Context, evt *event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) types() []event.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func (p *recordingPublisher) last() *event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return nil
	}
	return p.events[len(p.events)-1]
}

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

type memNotifications struct {
	mu    sync.Mutex
	items []*entity.Notification
}

func (m *memNotifications) Create(ctx context.Context, n *entity.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, n)
	return nil
}

func (m *memNotifications) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*entity.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Notification
	for _, n := range m.items {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memNotifications) MarkSent(ctx context.Context, id string) error {
	return nil
}
