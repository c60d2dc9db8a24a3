package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/secinto/go-csp-policy/policy"
	"github.com/secinto/go-csp-policy/report"
)

// Memory is an in-process Store. All reads return copies, so callers may
// modify what they get back.
type Memory struct {
	mu sync.RWMutex

	nextPolicyID    int64
	nextDirectiveID int64

	policies   map[int64]*policy.Policy
	directives map[int64]*policy.Directive
	links      map[int64]map[int64]bool
	pages      map[string]int64
	reports    []report.ViolationReport

	// now stamps inserted reports.
	now func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		policies:   make(map[int64]*policy.Policy),
		directives: make(map[int64]*policy.Directive),
		links:      make(map[int64]map[int64]bool),
		pages:      make(map[string]int64),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// assemble returns a copy of p carrying its linked directives. Callers hold
// at least the read lock.
func (m *Memory) assemble(p *policy.Policy) *policy.Policy {
	c := p.Clone()
	c.Directives = nil
	ids := make([]int64, 0, len(m.links[p.ID]))
	for id := range m.links[p.ID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if d, ok := m.directives[id]; ok {
			c.Directives = append(c.Directives, d.Clone())
		}
	}
	return c
}

func matches(p *policy.Policy, live bool, method policy.DeliveryMethod) bool {
	return p.Enabled && p.DeliveryMethod == method && (p.IsLive || !live)
}

func (m *Memory) BasePolicy(_ context.Context, live bool, method policy.DeliveryMethod) (*policy.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *policy.Policy
	for _, p := range m.policies {
		if p.IsBasePolicy && matches(p, live, method) && (found == nil || p.ID < found.ID) {
			found = p
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return m.assemble(found), nil
}

func (m *Memory) PagePolicy(_ context.Context, pageID string, live bool, method policy.DeliveryMethod) (*policy.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.pages[pageID]
	if !ok {
		return nil, ErrNotFound
	}
	p, ok := m.policies[id]
	if !ok || !matches(p, live, method) {
		return nil, ErrNotFound
	}
	return m.assemble(p), nil
}

func (m *Memory) Policy(_ context.Context, id int64) (*policy.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.policies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.assemble(p), nil
}

func (m *Memory) SavePolicy(_ context.Context, p *policy.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == 0 {
		m.nextPolicyID++
		p.ID = m.nextPolicyID
	} else if _, ok := m.policies[p.ID]; !ok {
		return ErrNotFound
	}
	stored := p.Clone()
	stored.Directives = nil
	m.policies[p.ID] = stored

	if p.IsBasePolicy {
		for id, other := range m.policies {
			if id != p.ID {
				other.IsBasePolicy = false
			}
		}
	}
	return nil
}

func (m *Memory) DeletePolicy(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.policies[id]; !ok {
		return ErrNotFound
	}
	delete(m.policies, id)
	delete(m.links, id)
	for page, pid := range m.pages {
		if pid == id {
			delete(m.pages, page)
		}
	}
	return nil
}

func (m *Memory) SaveDirective(_ context.Context, d *policy.Directive) error {
	d.Normalize()
	if d.Key == "" {
		return errors.New("directive key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.ID == 0 {
		m.nextDirectiveID++
		d.ID = m.nextDirectiveID
	} else if _, ok := m.directives[d.ID]; !ok {
		return ErrNotFound
	}
	m.directives[d.ID] = d.Clone()
	return nil
}

func (m *Memory) DeleteDirective(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.directives[id]; !ok {
		return ErrNotFound
	}
	delete(m.directives, id)
	for _, set := range m.links {
		delete(set, id)
	}
	return nil
}

func (m *Memory) LinkDirective(_ context.Context, policyID, directiveID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.policies[policyID]; !ok {
		return errors.Wrapf(ErrNotFound, "policy %d", policyID)
	}
	if _, ok := m.directives[directiveID]; !ok {
		return errors.Wrapf(ErrNotFound, "directive %d", directiveID)
	}
	if m.links[policyID] == nil {
		m.links[policyID] = make(map[int64]bool)
	}
	m.links[policyID][directiveID] = true
	return nil
}

func (m *Memory) LinkPage(_ context.Context, pageID string, policyID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.policies[policyID]; !ok {
		return errors.Wrapf(ErrNotFound, "policy %d", policyID)
	}
	m.pages[pageID] = policyID
	return nil
}

func (m *Memory) InsertReport(_ context.Context, r *report.ViolationReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now()
	}
	m.reports = append(m.reports, *r)
	return nil
}

// Reports returns a copy of the stored reports in insertion order.
func (m *Memory) Reports() []report.ViolationReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]report.ViolationReport(nil), m.reports...)
}

func (m *Memory) CountReports(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.reports)), nil
}

func (m *Memory) DeleteReportsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.reports[:0]
	var removed int64
	for _, r := range m.reports {
		if r.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.reports = kept
	return removed, nil
}
