package orders

import (
	"context"
	"sort"
	"sync"

	"storeops/internal/models"
)

// Memory is an in-memory Gateway used by tests and by local development
// without a database. Safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	orders   map[int64]models.Order
	notes    map[int64]models.OrderNote
	products map[int64]models.Product
	nextNote int64

	// FailOrders makes mutations against the listed ids fail, to exercise
	// partial-failure paths.
	FailOrders map[int64]error
}

// NewMemory builds an empty in-memory gateway.
func NewMemory() *Memory {
	return &Memory{
		orders:   make(map[int64]models.Order),
		notes:    make(map[int64]models.OrderNote),
		products: make(map[int64]models.Product),
	}
}

// PutOrder inserts or replaces an order.
func (m *Memory) PutOrder(o models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

// PutProduct inserts or replaces a product.
func (m *Memory) PutProduct(p models.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

// Note returns a stored note by id.
func (m *Memory) Note(id int64) (models.OrderNote, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	return n, ok
}

// NotesFor returns every note attached to an order, in insertion order.
func (m *Memory) NotesFor(orderID int64) []models.OrderNote {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.OrderNote
	for _, n := range m.notes {
		if n.OrderID == orderID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) failure(id int64) error {
	if m.FailOrders == nil {
		return nil
	}
	return m.FailOrders[id]
}

func (m *Memory) FindByID(_ context.Context, id int64) (models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, models.ErrNotFound
	}
	return o, nil
}

func (m *Memory) FindByIDs(_ context.Context, ids []int64) (map[int64]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]models.Order, len(ids))
	for _, id := range ids {
		if o, ok := m.orders[id]; ok {
			out[id] = o
		}
	}
	return out, nil
}

func (m *Memory) Query(_ context.Context, c models.Criteria, limit int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := make([]models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		if matches(o, c) {
			matched = append(matched, o)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	ids := make([]int64, len(matched))
	for i, o := range matched {
		ids[i] = o.ID
	}
	return ids, nil
}

func matches(o models.Order, c models.Criteria) bool {
	if len(c.Statuses) > 0 {
		found := false
		for _, s := range c.Statuses {
			if o.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.CreatedFrom != nil && o.CreatedAt.Before(*c.CreatedFrom) {
		return false
	}
	if c.CreatedTo != nil && o.CreatedAt.After(*c.CreatedTo) {
		return false
	}
	if c.CustomerEmail != "" && o.CustomerEmail != c.CustomerEmail {
		return false
	}
	if c.MinTotalCents != nil && o.TotalCents < *c.MinTotalCents {
		return false
	}
	if c.MaxTotalCents != nil && o.TotalCents > *c.MaxTotalCents {
		return false
	}
	if c.Country != "" && o.Country != c.Country {
		return false
	}
	return true
}

func (m *Memory) UpdateStatus(_ context.Context, id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(id); err != nil {
		return err
	}
	o, ok := m.orders[id]
	if !ok {
		return models.ErrNotFound
	}
	o.Status = status
	m.orders[id] = o
	return nil
}

func (m *Memory) SetTags(_ context.Context, id int64, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(id); err != nil {
		return err
	}
	o, ok := m.orders[id]
	if !ok {
		return models.ErrNotFound
	}
	o.Tags = append([]string(nil), tags...)
	m.orders[id] = o
	return nil
}

func (m *Memory) AddNote(_ context.Context, note models.OrderNote) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(note.OrderID); err != nil {
		return 0, err
	}
	if _, ok := m.orders[note.OrderID]; !ok {
		return 0, models.ErrNotFound
	}
	m.nextNote++
	note.ID = m.nextNote
	m.notes[note.ID] = note
	return note.ID, nil
}

func (m *Memory) DeleteNote(_ context.Context, noteID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notes[noteID]; !ok {
		return models.ErrNotFound
	}
	delete(m.notes, noteID)
	return nil
}

func (m *Memory) GetProduct(_ context.Context, id int64) (models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return models.Product{}, models.ErrNotFound
	}
	return p, nil
}

func (m *Memory) SetStock(_ context.Context, id int64, qty int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return models.ErrNotFound
	}
	p.StockQty = qty
	m.products[id] = p
	return nil
}
