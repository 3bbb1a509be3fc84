package ledger

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/bodhipep/storefront/internal/catalog"
	"github.com/bodhipep/storefront/internal/orders"
)

// Memory is a mutex-per-SKU ledger. It doubles as a catalog.Source so tests
// and credential-less dev run against one consistent stock view.
type Memory struct {
	mu    sync.RWMutex // guards the index, not the counters
	items map[string]*memItem
}

type memItem struct {
	mu sync.Mutex
	p  catalog.Product
}

func NewMemory(seed []catalog.Product) *Memory {
	m := &Memory{items: map[string]*memItem{}}
	for _, p := range seed {
		m.items[p.SKU] = &memItem{p: p}
	}
	return m
}

func (m *Memory) item(sku string) (*memItem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[sku]
	return it, ok
}

func (m *Memory) Reserve(ctx context.Context, sku string, qty int) error {
	return m.ReserveAll(ctx, []orders.Line{{SKU: sku, Qty: qty}})
}

func (m *Memory) Release(ctx context.Context, sku string, qty int) error {
	return m.ReleaseAll(ctx, []orders.Line{{SKU: sku, Qty: qty}})
}

func (m *Memory) Commit(ctx context.Context, sku string, qty int) error {
	return m.CommitAll(ctx, []orders.Line{{SKU: sku, Qty: qty}})
}

// lockLines locks every line's SKU in lexicographic order and returns the
// locked items keyed by SKU plus an unlock func.
func (m *Memory) lockLines(lines []orders.Line) (map[string]*memItem, func(), error) {
	skus := make([]string, 0, len(lines))
	seen := map[string]bool{}
	for _, l := range lines {
		if !seen[l.SKU] {
			seen[l.SKU] = true
			skus = append(skus, l.SKU)
		}
	}
	sort.Strings(skus)

	locked := make([]*memItem, 0, len(skus))
	unlock := func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].mu.Unlock()
		}
	}
	items := make(map[string]*memItem, len(skus))
	for _, sku := range skus {
		it, ok := m.item(sku)
		if !ok {
			unlock()
			return nil, nil, &catalog.UnknownSKUError{SKU: sku}
		}
		it.mu.Lock()
		locked = append(locked, it)
		items[sku] = it
	}
	return items, unlock, nil
}

func (m *Memory) ReserveAll(ctx context.Context, lines []orders.Line) error {
	items, unlock, err := m.lockLines(lines)
	if err != nil {
		return err
	}
	defer unlock()

	// Aggregate per SKU first: a batch may repeat a SKU, and the shortfall
	// check must see the batch's full demand, not each line alone.
	need := make(map[string]int, len(items))
	skus := make([]string, 0, len(items))
	for _, l := range lines {
		if _, ok := need[l.SKU]; !ok {
			skus = append(skus, l.SKU)
		}
		need[l.SKU] += l.Qty
	}
	sort.Strings(skus)

	// Check every SKU before mutating any: a shortfall anywhere leaves the
	// whole batch untouched.
	for _, sku := range skus {
		if rem := items[sku].p.Remaining(); rem < need[sku] {
			return &InsufficientStockError{SKU: sku, Remaining: rem}
		}
	}
	for _, sku := range skus {
		items[sku].p.Reserved += need[sku]
	}
	return nil
}

func (m *Memory) ReleaseAll(ctx context.Context, lines []orders.Line) error {
	items, unlock, err := m.lockLines(lines)
	if err != nil {
		return err
	}
	defer unlock()

	for _, l := range lines {
		it := items[l.SKU]
		if l.Qty > it.p.Reserved {
			slog.Warn("over-release floored", "sku", l.SKU, "qty", l.Qty, "reserved", it.p.Reserved)
			it.p.Reserved = 0
			continue
		}
		it.p.Reserved -= l.Qty
	}
	return nil
}

func (m *Memory) CommitAll(ctx context.Context, lines []orders.Line) error {
	items, unlock, err := m.lockLines(lines)
	if err != nil {
		return err
	}
	defer unlock()

	for _, l := range lines {
		it := items[l.SKU]
		if l.Qty > it.p.Reserved || l.Qty > it.p.OnHand {
			slog.Warn("over-commit floored", "sku", l.SKU, "qty", l.Qty,
				"reserved", it.p.Reserved, "on_hand", it.p.OnHand)
		}
		it.p.Reserved = floorSub(it.p.Reserved, l.Qty)
		it.p.OnHand = floorSub(it.p.OnHand, l.Qty)
	}
	return nil
}

func floorSub(a, b int) int {
	if a > b {
		return a - b
	}
	return 0
}

// GetBySKUs implements catalog.Source.
func (m *Memory) GetBySKUs(ctx context.Context, skus []string) ([]catalog.Product, error) {
	out := make([]catalog.Product, 0, len(skus))
	for _, sku := range skus {
		it, ok := m.item(sku)
		if !ok {
			continue
		}
		it.mu.Lock()
		out = append(out, it.p)
		it.mu.Unlock()
	}
	return out, nil
}

// List implements catalog.Source.
func (m *Memory) List(ctx context.Context) ([]catalog.Product, error) {
	m.mu.RLock()
	skus := make([]string, 0, len(m.items))
	for sku := range m.items {
		skus = append(skus, sku)
	}
	m.mu.RUnlock()
	sort.Strings(skus)
	return m.GetBySKUs(ctx, skus)
}
