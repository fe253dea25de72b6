package store

import (
	"context"
	"sync"
	"time"

	"github.com/bridgeline-hq/bridgeline-settler/pkg/models"
)

// MemoryStore is an in-memory repository. Used in tests and local dev; the
// single mutex makes every conditional update atomic with respect to
// concurrent writers.
type MemoryStore struct {
	mu      sync.Mutex
	intents map[string]*models.PaymentIntent
}

var _ Repository = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents: make(map[string]*models.PaymentIntent),
	}
}

func (m *MemoryStore) Create(_ context.Context, intent *models.PaymentIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.intents[intent.ID]; exists {
		return ErrAlreadyExists
	}
	m.intents[intent.ID] = intent.Clone()
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (*models.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, exists := m.intents[id]
	if !exists {
		return nil, ErrNotFound
	}
	return intent.Clone(), nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, status models.Status) ([]*models.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*models.PaymentIntent
	for _, intent := range m.intents {
		if intent.Status == status {
			matched = append(matched, intent.Clone())
		}
	}
	return matched, nil
}

func (m *MemoryStore) ConditionalUpdate(_ context.Context, id string, expected models.Status, mutate func(*models.PaymentIntent)) (*models.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, exists := m.intents[id]
	if !exists {
		return nil, ErrNotFound
	}
	if intent.Status != expected {
		return nil, ErrConflict
	}

	updated := intent.Clone()
	mutate(updated)
	updated.UpdatedAt = time.Now().UTC()
	m.intents[id] = updated
	return updated.Clone(), nil
}
