package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/geminicodes/MapMyVisitors-Cursor/models"
	"github.com/geminicodes/MapMyVisitors-Cursor/store"
)

var errBoom = errors.New("boom")

// fakeDB implements AccountWriter and VisitorRepository in memory and counts calls.
type fakeDB struct {
	mu sync.Mutex

	accounts map[string]*models.Account
	visitors map[string][]models.VisitorEvent
	monthly  map[string]int64

	calls int

	accountErr   error
	monthlyErr error
	reserveErr error
	releaseErr error
	insertErr  error
	recentErr  error
	countErr   error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		accounts: make(map[string]*models.Account),
		visitors: make(map[string][]models.VisitorEvent),
		monthly:  make(map[string]int64),
	}
}

func (f *fakeDB) addAccount(widgetID string, paid, watermarkRemoved bool) *models.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc := &models.Account{
		ID:               "acc-" + widgetID,
		Email:            widgetID + "@example.com",
		WidgetID:         widgetID,
		Paid:             paid,
		WatermarkRemoved: watermarkRemoved,
	}
	f.accounts[widgetID] = acc
	return acc
}

func (f *fakeDB) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeDB) GetByWidgetID(_ context.Context, widgetID string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	acc, ok := f.accounts[widgetID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *acc
	return &cp, nil
}

func (f *fakeDB) Create(_ context.Context, email string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for _, a := range f.accounts {
		if a.Email == email {
			return nil, store.ErrEmailTaken
		}
	}
	acc := &models.Account{ID: "acc-new", Email: email, WidgetID: "newWidget_01"}
	f.accounts[acc.WidgetID] = acc
	cp := *acc
	return &cp, nil
}

func (f *fakeDB) SetFlags(_ context.Context, widgetID string, paid, watermarkRemoved *bool) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	acc, ok := f.accounts[widgetID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if paid != nil {
		acc.Paid = *paid
	}
	if watermarkRemoved != nil {
		acc.WatermarkRemoved = *watermarkRemoved
	}
	cp := *acc
	return &cp, nil
}

func (f *fakeDB) Insert(_ context.Context, ev *models.VisitorEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.insertErr != nil {
		return f.insertErr
	}
	if ev.ID == "" {
		ev.ID = "ev-" + time.Now().Format("150405.000000000")
	}
	// Newest first, matching the store's ordering.
	f.visitors[ev.AccountID] = append([]models.VisitorEvent{*ev}, f.visitors[ev.AccountID]...)
	return nil
}

func (f *fakeDB) Recent(_ context.Context, accountID string, limit int) ([]models.VisitorEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	all := f.visitors[accountID]
	if len(all) > limit {
		all = all[:limit]
	}
	return append([]models.VisitorEvent(nil), all...), nil
}

func (f *fakeDB) CountSince(_ context.Context, accountID string, since time.Time) (int64, error) {
	return f.countWhere(accountID, func(t time.Time) bool { return !t.Before(since) })
}

func (f *fakeDB) CountAfter(_ context.Context, accountID string, after time.Time) (int64, error) {
	return f.countWhere(accountID, func(t time.Time) bool { return t.After(after) })
}

func (f *fakeDB) countWhere(accountID string, keep func(time.Time) bool) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.countErr != nil {
		return 0, f.countErr
	}
	var n int64
	for _, ev := range f.visitors[accountID] {
		if keep(ev.CreatedAt) {
			n++
		}
	}
	return n, nil
}

func (f *fakeDB) MonthlyCount(_ context.Context, accountID, month string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.monthlyErr != nil {
		return 0, f.monthlyErr
	}
	return f.monthly[accountID+"|"+month], nil
}

func (f *fakeDB) ReserveMonthly(_ context.Context, accountID, month string, limit int64) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.reserveErr != nil {
		return 0, false, f.reserveErr
	}
	key := accountID + "|" + month
	if f.monthly[key] >= limit {
		return 0, false, nil
	}
	f.monthly[key]++
	return f.monthly[key], true, nil
}

func (f *fakeDB) ReleaseMonthly(_ context.Context, accountID, month string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.releaseErr != nil {
		return f.releaseErr
	}
	if key := accountID + "|" + month; f.monthly[key] > 0 {
		f.monthly[key]--
	}
	return nil
}

func (f *fakeDB) visitorCount(accountID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.visitors[accountID])
}

type fakeGeo struct {
	mu    sync.Mutex
	loc   models.Location
	calls []string
}

func (g *fakeGeo) Resolve(_ context.Context, ip string) models.Location {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, ip)
	return g.loc
}

type allowAll struct{}

func (allowAll) Allow(string) bool { return true }

type fakePublisher struct {
	mu     sync.Mutex
	visits []models.ArchivedVisit
}

func (p *fakePublisher) Publish(v models.ArchivedVisit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visits = append(p.visits, v)
}

type fakeAnalytics struct {
	err error
}

func (a *fakeAnalytics) EventCountsOverTime(_ context.Context, _, _ string, start, _ time.Time) ([]models.CountByTime, error) {
	if a.err != nil {
		return nil, a.err
	}
	return []models.CountByTime{{Time: start, Count: 3}}, nil
}

func (a *fakeAnalytics) TopPages(context.Context, string, time.Time, time.Time, uint64) ([]models.TopPathResult, error) {
	if a.err != nil {
		return nil, a.err
	}
	return []models.TopPathResult{{PagePath: "/pricing", Count: 7}}, nil
}

func (a *fakeAnalytics) TopCountries(context.Context, string, time.Time, time.Time, uint64) ([]models.TopCountryResult, error) {
	if a.err != nil {
		return nil, a.err
	}
	return []models.TopCountryResult{{Country: "Germany", CountryCode: "DE", Count: 4}}, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }
