package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/example/cash-exchange/internal/models"
)

// ErrNotFound is returned when a user or request does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence operations the matching service needs.
// Implementations: MemoryStore for tests and local runs, PostgresStore for
// production.
type Store interface {
	PendingRequests(ctx context.Context) ([]models.ExchangeRequest, error)
	Request(ctx context.Context, id string) (models.ExchangeRequest, error)
	InsertRequest(ctx context.Context, req *models.ExchangeRequest) error
	UpdateRequestStatus(ctx context.Context, id string, status models.RequestStatus, acceptedBy string) (models.ExchangeRequest, error)

	User(ctx context.Context, id string) (models.User, error)
	UpdateUserLocation(ctx context.Context, userID string, loc models.Coord) error

	InsertTransaction(ctx context.Context, tx *models.Transaction) error
	UserRequests(ctx context.Context, userID string, status models.RequestStatus) ([]models.ExchangeRequest, error)
	UserTransactions(ctx context.Context, userID string) ([]models.Transaction, error)
}

type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]models.ExchangeRequest
	users    map[string]models.User
	txs      []models.Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]models.ExchangeRequest),
		users:    make(map[string]models.User),
	}
}

// PutUser seeds or replaces a user profile.
func (m *MemoryStore) PutUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *MemoryStore) PendingRequests(ctx context.Context) ([]models.ExchangeRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ExchangeRequest, 0, len(m.requests))
	for _, r := range m.requests {
		if r.Status == models.StatusPending {
			out = append(out, r)
		}
	}
	// map iteration order is random; keep output deterministic
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Request(ctx context.Context, id string) (models.ExchangeRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return models.ExchangeRequest{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) InsertRequest(ctx context.Context, req *models.ExchangeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.ID] = *req
	return nil
}

func (m *MemoryStore) UpdateRequestStatus(ctx context.Context, id string, status models.RequestStatus, acceptedBy string) (models.ExchangeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return models.ExchangeRequest{}, ErrNotFound
	}
	r.Status = status
	if acceptedBy != "" {
		r.AcceptedBy = acceptedBy
	}
	r.UpdatedAt = time.Now().UTC()
	m.requests[id] = r
	return r, nil
}

func (m *MemoryStore) User(ctx context.Context, id string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryStore) UpdateUserLocation(ctx context.Context, userID string, loc models.Coord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Loc = loc
	u.UpdatedAt = time.Now().UTC()
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) InsertTransaction(ctx context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = append(m.txs, *tx)
	return nil
}

func (m *MemoryStore) UserRequests(ctx context.Context, userID string, status models.RequestStatus) ([]models.ExchangeRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ExchangeRequest, 0)
	for _, r := range m.requests {
		if r.UserID != userID {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UserTransactions(ctx context.Context, userID string) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Transaction, 0)
	for _, tx := range m.txs {
		if tx.FromUser == userID || tx.ToUser == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}
