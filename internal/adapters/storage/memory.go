package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

// MemoryStore es un ExperimentStore en memoria para scans de prueba (--dry-run)
// y tests. Mismas semánticas que SQLiteStore, sin persistencia.
type MemoryStore struct {
	mu      sync.Mutex
	account *domain.Account
	spec    *domain.ExperimentSpec
	result  *domain.ExperimentResult
	runs    []domain.ScanRun
	trades  []domain.PaperTrade
}

// NewMemoryStore crea un store vacío.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Path() string { return ":memory:" }
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Init(_ context.Context, spec domain.ExperimentSpec) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.account == nil {
		m.account = &domain.Account{StartingBankroll: spec.InitBankroll, Cash: spec.InitBankroll, UpdatedAt: time.Now().UTC()}
	}
	c := spec.Clone()
	m.spec = &c
	return *m.account, nil
}

func (m *MemoryStore) Account(_ context.Context) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.account == nil {
		return domain.Account{}, fmt.Errorf("storage.MemoryStore.Account: %w", ErrNotInitialized)
	}
	return *m.account, nil
}

func (m *MemoryStore) UpdateCash(_ context.Context, cash float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.account == nil {
		return fmt.Errorf("storage.MemoryStore.UpdateCash: %w", ErrNotInitialized)
	}
	m.account.Cash = cash
	m.account.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SaveRun(_ context.Context, r domain.ScanRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	m.runs = append(m.runs, r)
	return nil
}

func (m *MemoryStore) ListRuns(_ context.Context, limit int) ([]domain.ScanRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ScanRun, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		out = append(out, m.runs[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) RecordFill(_ context.Context, t domain.PaperTrade, cashAfter float64) (domain.PaperTrade, error) {
	if err := t.Fill.Validate(); err != nil {
		return domain.PaperTrade{}, fmt.Errorf("storage.MemoryStore.RecordFill: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.account == nil {
		return domain.PaperTrade{}, fmt.Errorf("storage.MemoryStore.RecordFill: %w", ErrNotInitialized)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = domain.TradeOpen
	}
	t.OpenedAt = t.OpenedAt.UTC()
	m.trades = append(m.trades, t)
	m.account.Cash = cashAfter
	return t, nil
}

func (m *MemoryStore) LoadFills(_ context.Context, tag string, w domain.TimeWindow) ([]domain.PaperTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PaperTrade
	for _, t := range m.trades {
		if t.ExperimentTag == tag && w.Contains(t.OpenedAt) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (m *MemoryStore) OpenTrades(_ context.Context) ([]domain.PaperTrade, error) {
	return m.byStatus(domain.TradeOpen), nil
}

func (m *MemoryStore) ClosedTrades(_ context.Context) ([]domain.PaperTrade, error) {
	out := m.byStatus(domain.TradeClosed)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ClosedAt.After(*out[j].ClosedAt) })
	return out, nil
}

func (m *MemoryStore) ResolveMarket(_ context.Context, slug string, outcomeYes bool, at time.Time) ([]domain.PaperTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var settled []domain.PaperTrade
	for i, t := range m.trades {
		if t.Status != domain.TradeOpen || t.Slug != slug {
			continue
		}
		closed := t.Settle(outcomeYes, at)
		m.trades[i] = closed
		if m.account != nil {
			m.account.Cash += closed.Fill.Shares * closed.ExitPrice
		}
		settled = append(settled, closed)
	}
	return settled, nil
}

func (m *MemoryStore) LoadSpec(_ context.Context) (domain.ExperimentSpec, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.spec == nil {
		return domain.ExperimentSpec{}, false, nil
	}
	return m.spec.Clone(), true, nil
}

func (m *MemoryStore) SaveResult(_ context.Context, r domain.ExperimentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = &r
	return nil
}

func (m *MemoryStore) LoadResult(_ context.Context) (domain.ExperimentResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.result == nil {
		return domain.ExperimentResult{}, false, nil
	}
	return *m.result, true, nil
}

func (m *MemoryStore) byStatus(status domain.TradeStatus) []domain.PaperTrade {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PaperTrade
	for _, t := range m.trades {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

// MemoryFactory entrega un MemoryStore por tag. Volver a abrir un tag
// devuelve el mismo store.
type MemoryFactory struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
}

// NewMemoryFactory crea la factory.
func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{stores: make(map[string]*MemoryStore)}
}

// PathFor usa las mismas rutas que una Factory sin directorio.
func (f *MemoryFactory) PathFor(spec domain.ExperimentSpec) string {
	if spec.DB != "" {
		return spec.DB
	}
	return spec.Tag + Extension
}

// Open implementa ports.StoreFactory.
func (f *MemoryFactory) Open(_ context.Context, spec domain.ExperimentSpec) (ports.ExperimentStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stores[spec.Tag]
	if !ok {
		s = NewMemoryStore()
		f.stores[spec.Tag] = s
	}
	return s, nil
}

// Store devuelve el store de tag si existe.
func (f *MemoryFactory) Store(tag string) (*MemoryStore, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stores[tag]
	return s, ok
}
