package service_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/campaign-batch-sender/internal/errors"
	"github.com/unclebandit/campaign-batch-sender/internal/model"
)

type txKey struct{}

// memStore is an in-memory campaign store. Transactions are serialized and
// roll back on error; writes outside a transaction behave as single-statement
// transactions, like row locks would make them.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	campaigns map[int64]model.Campaign
	failures  []model.FailureLog
	nextID    int64
	nextLogID int64

	failUpdates error
	// beforeTransition runs once, just before the next TransitionStatus.
	beforeTransition func()
}

func newMemStore() *memStore {
	return &memStore{campaigns: make(map[int64]model.Campaign)}
}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(bool)
	return ok
}

func (s *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	savedCampaigns := make(map[int64]model.Campaign, len(s.campaigns))
	for id, c := range s.campaigns {
		savedCampaigns[id] = c
	}
	savedFailures := append([]model.FailureLog(nil), s.failures...)
	savedID, savedLogID := s.nextID, s.nextLogID
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.campaigns, s.failures = savedCampaigns, savedFailures
		s.nextID, s.nextLogID = savedID, savedLogID
		s.mu.Unlock()
		return err
	}
	return nil
}

// write runs fn as its own transaction unless ctx already holds one.
func (s *memStore) write(ctx context.Context, fn func() error) error {
	if !inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func (s *memStore) put(c model.Campaign) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		s.nextID++
		c.ID = s.nextID
	} else if c.ID > s.nextID {
		s.nextID = c.ID
	}
	s.campaigns[c.ID] = c
	return c.ID
}

func (s *memStore) campaign(id int64) model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.campaigns[id]
}

func (s *memStore) failureCount(campaignID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.failures {
		if f.CampaignID == campaignID {
			n++
		}
	}
	return n
}

func (s *memStore) Create(ctx context.Context, c *model.Campaign) error {
	return s.write(ctx, func() error {
		if c.Status == "" {
			c.Status = model.StatusDraft
		}
		s.nextID++
		c.ID = s.nextID
		c.CreatedAt = time.Now()
		c.UpdatedAt = c.CreatedAt
		s.campaigns[c.ID] = *c
		return nil
	})
}

func (s *memStore) GetByID(_ context.Context, id int64) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return &c, nil
}

func (s *memStore) GetByIDForUpdate(ctx context.Context, id int64) (*model.Campaign, error) {
	if !inTx(ctx) {
		return nil, errors.New("GetByIDForUpdate outside transaction")
	}
	return s.GetByID(ctx, id)
}

func (s *memStore) Update(ctx context.Context, c *model.Campaign) error {
	return s.write(ctx, func() error {
		if s.failUpdates != nil {
			return s.failUpdates
		}
		current, ok := s.campaigns[c.ID]
		if !ok {
			return appErrors.NewCampaignNotFound(c.ID)
		}
		if c.Status != model.StatusDraft && c.SentCount+c.ErrorCount > c.TotalRecipients {
			return fmt.Errorf("check constraint: %d+%d > %d", c.SentCount, c.ErrorCount, c.TotalRecipients)
		}
		next := *c
		next.Subject, next.Body = current.Subject, current.Body
		next.UpdatedAt = time.Now()
		s.campaigns[c.ID] = next
		return nil
	})
}

func (s *memStore) UpdateStatus(ctx context.Context, id int64, status model.CampaignStatus) error {
	return s.write(ctx, func() error {
		if s.failUpdates != nil {
			return s.failUpdates
		}
		c, ok := s.campaigns[id]
		if !ok {
			return appErrors.NewCampaignNotFound(id)
		}
		c.Status = status
		c.UpdatedAt = time.Now()
		s.campaigns[id] = c
		return nil
	})
}

func (s *memStore) TransitionStatus(ctx context.Context, id int64, from, to model.CampaignStatus) (bool, error) {
	if hook := s.beforeTransition; hook != nil {
		s.beforeTransition = nil
		hook()
	}

	moved := false
	err := s.write(ctx, func() error {
		if s.failUpdates != nil {
			return s.failUpdates
		}
		c, ok := s.campaigns[id]
		if !ok {
			return appErrors.NewCampaignNotFound(id)
		}
		if c.Status != from {
			return nil
		}
		c.Status = to
		c.UpdatedAt = time.Now()
		s.campaigns[id] = c
		moved = true
		return nil
	})
	return moved, err
}

func (s *memStore) UpdateContent(ctx context.Context, id int64, subject, body string) error {
	return s.write(ctx, func() error {
		c, ok := s.campaigns[id]
		if !ok {
			return appErrors.NewCampaignNotFound(id)
		}
		c.Subject, c.Body = subject, body
		s.campaigns[id] = c
		return nil
	})
}

func (s *memStore) Delete(ctx context.Context, id int64) error {
	return s.write(ctx, func() error {
		if _, ok := s.campaigns[id]; !ok {
			return appErrors.NewCampaignNotFound(id)
		}
		delete(s.campaigns, id)
		return nil
	})
}

func (s *memStore) ListCampaigns(_ context.Context, offset, limit int, status model.CampaignStatus) ([]*model.Campaign, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*model.Campaign
	for _, c := range s.campaigns {
		if status != "" && c.Status != status {
			continue
		}
		c := c
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	if offset >= len(all) {
		return []*model.Campaign{}, len(all), nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (s *memStore) ListIDsByStatus(_ context.Context, statuses []model.CampaignStatus, updatedBefore time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for id, c := range s.campaigns {
		for _, st := range statuses {
			if c.Status == st && c.UpdatedAt.Before(updatedBefore) {
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *memStore) CreateMany(ctx context.Context, logs []model.FailureLog) error {
	return s.write(ctx, func() error {
		for _, l := range logs {
			s.nextLogID++
			l.ID = s.nextLogID
			l.ErrorMessage = model.TruncateDiagnostic(l.ErrorMessage)
			s.failures = append(s.failures, l)
		}
		return nil
	})
}

func (s *memStore) ListByCampaign(_ context.Context, campaignID int64, limit, offset int) ([]model.FailureLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.FailureLog
	skipped := 0
	for _, f := range s.failures {
		if f.CampaignID != campaignID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *memStore) ListAfter(_ context.Context, campaignID, afterID int64, limit int) ([]model.FailureLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.FailureLog
	for _, f := range s.failures {
		if f.CampaignID != campaignID || f.ID <= afterID {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *memStore) DeleteMany(ctx context.Context, ids []int64) error {
	return s.write(ctx, func() error {
		drop := make(map[int64]bool, len(ids))
		for _, id := range ids {
			drop[id] = true
		}
		kept := s.failures[:0:0]
		for _, f := range s.failures {
			if !drop[f.ID] {
				kept = append(kept, f)
			}
		}
		s.failures = kept
		return nil
	})
}

func (s *memStore) CountByCampaign(ctx context.Context, campaignID int64) (int, error) {
	return s.failureCount(campaignID), nil
}

// memRecipients is an ID-ordered recipient table.
type memRecipients struct {
	mu     sync.Mutex
	rows   []model.Recipient
	nextID int64
}

func newRecipients(n int) *memRecipients {
	r := &memRecipients{}
	r.add(n)
	return r
}

func (r *memRecipients) add(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < n; i++ {
		r.nextID++
		r.rows = append(r.rows, model.Recipient{ID: r.nextID, Email: fmt.Sprintf("user%d@example.com", r.nextID)})
	}
}

func (r *memRecipients) remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, row := range r.rows {
		if row.ID == id {
			r.rows = append(r.rows[:i], r.rows[i+1:]...)
			return
		}
	}
}

func (r *memRecipients) MaxID(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rows) == 0 {
		return 0, nil
	}
	return r.rows[len(r.rows)-1].ID, nil
}

func (r *memRecipients) CountUpTo(_ context.Context, maxID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, row := range r.rows {
		if row.ID <= maxID {
			n++
		}
	}
	return n, nil
}

func (r *memRecipients) Range(_ context.Context, afterID, maxID int64, limit int) ([]model.Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Recipient
	for _, row := range r.rows {
		if row.ID > afterID && row.ID <= maxID && len(out) < limit {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memRecipients) FindByIDs(_ context.Context, ids []int64) ([]model.Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []model.Recipient
	for _, row := range r.rows {
		if want[row.ID] {
			out = append(out, row)
		}
	}
	return out, nil
}

// fakeMailer fails for recipients listed in failing and records every attempt.
type fakeMailer struct {
	mu       sync.Mutex
	failing  map[int64]string
	attempts []int64
	onSend   func(r model.Recipient)
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{failing: make(map[int64]string)}
}

func (m *fakeMailer) fail(reason string, ids ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.failing[id] = reason
	}
}

func (m *fakeMailer) heal(ids ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.failing, id)
	}
}

func (m *fakeMailer) Send(ctx context.Context, r model.Recipient, _, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.attempts = append(m.attempts, r.ID)
	reason, failing := m.failing[r.ID]
	hook := m.onSend
	m.mu.Unlock()

	if hook != nil {
		hook(r)
	}
	if failing {
		return errors.New(reason)
	}
	return nil
}

func (m *fakeMailer) calls() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.attempts...)
}
