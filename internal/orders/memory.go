package orders

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the credential-less Store used by tests and local dev. All
// methods deep-copy on the way in and out so callers never alias live state.
type MemoryStore struct {
	mu    sync.Mutex
	byID  map[string]*Order
	byKey map[string]string // idempotency key -> order id
	byRef map[string]string // external payment ref -> order id
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  map[string]*Order{},
		byKey: map[string]string{},
		byRef: map[string]string{},
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[o.ID]; ok {
		return ErrIDCollision
	}
	if _, ok := s.byKey[o.IdempotencyKey]; ok {
		return ErrKeyConflict
	}
	c := o.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	c.UpdatedAt = c.CreatedAt
	s.byID[c.ID] = c
	s.byKey[c.IdempotencyKey] = c.ID
	o.CreatedAt, o.UpdatedAt = c.CreatedAt, c.UpdatedAt
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (s *MemoryStore) GetByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *MemoryStore) GetByPaymentRef(ctx context.Context, ref string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRef[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *MemoryStore) Transition(ctx context.Context, id string, to Status, meta Meta) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status == to {
		return o.Clone(), nil // terminal replay is a no-op
	}
	if !CanTransition(o.Status, to) {
		return nil, &InvalidTransitionError{OrderID: id, From: o.Status, To: to}
	}
	o.Status = to
	o.UpdatedAt = s.now().UTC()
	if meta.ExternalPaymentRef != "" {
		o.ExternalPaymentRef = meta.ExternalPaymentRef
		s.byRef[meta.ExternalPaymentRef] = id
	}
	if meta.ReceiptURL != "" {
		o.ReceiptURL = meta.ReceiptURL
	}
	if meta.Reason != "" {
		o.ProviderStatus = meta.Reason
	}
	return o.Clone(), nil
}

func (s *MemoryStore) MirrorProviderStatus(ctx context.Context, id, providerStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != StatusReserved {
		return nil
	}
	o.ProviderStatus = providerStatus
	o.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) ListExpiredReserved(ctx context.Context, cutoff time.Time) ([]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Order
	for _, o := range s.byID {
		if o.Status == StatusReserved && o.CreatedAt.Before(cutoff) {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}
