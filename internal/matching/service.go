package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/cash-exchange/internal/models"
	"github.com/example/cash-exchange/internal/observability"
	"github.com/example/cash-exchange/internal/storage"
)

// DefaultRadiusKm is the radius callers fall back to when none is given.
const DefaultRadiusKm = 5.0

// Notifier announces lifecycle events after a mutation persists. All calls
// are fire and forget.
type Notifier interface {
	NewRequest(req models.ExchangeRequest)
	Accepted(req models.ExchangeRequest)
	Completed(req models.ExchangeRequest)
	Cancelled(req models.ExchangeRequest)
}

// CandidateIndex narrows the pending-request candidate set for a nearby
// query, e.g. via a Redis geo index. Optional; the store is the fallback.
type CandidateIndex interface {
	PendingNear(ctx context.Context, ref models.Coord, radiusKm float64) ([]models.ExchangeRequest, error)
}

// Escrow holds, captures, and releases funds for online-payment exchanges.
// Optional and best effort: escrow failures never fail the mutation.
type Escrow interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, holdID string) error
	Cancel(ctx context.Context, holdID string) error
}

// Service orchestrates the proximity filter, the store, and the notification
// dispatcher. Validation errors abort before any persistence or notification
// side effect; store errors propagate unchanged.
type Service struct {
	Store    storage.Store
	Notifier Notifier
	Index    CandidateIndex
	Escrow   Escrow
	Logger   *slog.Logger

	mu    sync.Mutex
	holds map[string]string // request id -> escrow hold id
}

func NewService(store storage.Store, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Store: store, Notifier: notifier, Logger: logger, holds: make(map[string]string)}
}

// FindNearby returns open requests within radiusKm of the user, nearest
// first, excluding the user's own. A user without a recorded location gets
// ErrLocationNotSet.
func (s *Service) FindNearby(ctx context.Context, userID string, radiusKm float64) ([]models.NearbyRequest, error) {
	u, err := s.Store.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Loc.IsUnset() {
		return nil, ErrLocationNotSet
	}
	cands, err := s.candidates(ctx, u.Loc, radiusKm)
	if err != nil {
		return nil, err
	}
	return Nearby(u.Loc, radiusKm, cands, userID)
}

// FindRecent is FindNearby restricted to requests created in the last
// sinceMinutes. Unlike FindNearby it treats an unset user location as "no
// results" rather than an error, so feeds can render for fresh accounts.
func (s *Service) FindRecent(ctx context.Context, userID string, sinceMinutes int, radiusKm float64) ([]models.NearbyRequest, error) {
	u, err := s.Store.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Loc.IsUnset() {
		return []models.NearbyRequest{}, nil
	}
	cands, err := s.candidates(ctx, u.Loc, radiusKm)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-time.Duration(sinceMinutes) * time.Minute)
	recent := cands[:0:0]
	for _, r := range cands {
		if !r.CreatedAt.Before(cutoff) {
			recent = append(recent, r)
		}
	}
	return Nearby(u.Loc, radiusKm, recent, userID)
}

// CreateRequest validates and persists a new exchange request at the user's
// current location, then announces it to all connected users.
func (s *Service) CreateRequest(ctx context.Context, userID string, amount float64, typ models.RequestType) (models.ExchangeRequest, error) {
	if amount <= 0 {
		return models.ExchangeRequest{}, ErrInvalidAmount
	}
	if !typ.Known() {
		return models.ExchangeRequest{}, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	u, err := s.Store.User(ctx, userID)
	if err != nil {
		return models.ExchangeRequest{}, err
	}
	if u.Loc.IsUnset() {
		return models.ExchangeRequest{}, ErrInvalidLocation
	}
	now := time.Now().UTC()
	req := models.ExchangeRequest{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		UserName:  u.Name,
		Amount:    models.RoundAmount(amount),
		Type:      typ,
		Loc:       u.Loc,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.InsertRequest(ctx, &req); err != nil {
		return models.ExchangeRequest{}, err
	}
	observability.RequestsCreated.Inc()
	s.Notifier.NewRequest(req)
	return req, nil
}

// AcceptRequest moves a pending request to accepted and records the
// acceptor. The owner cannot accept their own request.
func (s *Service) AcceptRequest(ctx context.Context, requestID, acceptorID string) (models.ExchangeRequest, error) {
	req, err := s.Store.Request(ctx, requestID)
	if err != nil {
		return models.ExchangeRequest{}, err
	}
	if req.UserID == acceptorID {
		return models.ExchangeRequest{}, fmt.Errorf("%w: cannot accept own request", ErrForbidden)
	}
	if req.Status != models.StatusPending {
		return models.ExchangeRequest{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, req.Status, models.StatusAccepted)
	}
	updated, err := s.Store.UpdateRequestStatus(ctx, requestID, models.StatusAccepted, acceptorID)
	if err != nil {
		return models.ExchangeRequest{}, err
	}
	s.holdFunds(ctx, updated)
	observability.RequestsAccepted.Inc()
	s.Notifier.Accepted(updated)
	return updated, nil
}

// CompleteRequest settles an accepted request. Only the owner or the
// acceptor may complete it. A Transaction row records the settlement.
func (s *Service) CompleteRequest(ctx context.Context, requestID, actorID string) (models.ExchangeRequest, error) {
	req, err := s.Store.Request(ctx, requestID)
	if err != nil {
		return models.ExchangeRequest{}, err
	}
	if req.Status != models.StatusAccepted {
		return models.ExchangeRequest{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, req.Status, models.StatusCompleted)
	}
	if actorID != req.UserID && actorID != req.AcceptedBy {
		return models.ExchangeRequest{}, ErrForbidden
	}
	updated, err := s.Store.UpdateRequestStatus(ctx, requestID, models.StatusCompleted, "")
	if err != nil {
		return models.ExchangeRequest{}, err
	}
	s.captureFunds(ctx, updated)
	s.recordTransaction(ctx, updated)
	observability.RequestsCompleted.Inc()
	s.Notifier.Completed(updated)
	return updated, nil
}

// CancelRequest withdraws a still-pending request. Owner only; cancelled is
// terminal and announced to nobody.
func (s *Service) CancelRequest(ctx context.Context, requestID, actorID string) (models.ExchangeRequest, error) {
	req, err := s.Store.Request(ctx, requestID)
	if err != nil {
		return models.ExchangeRequest{}, err
	}
	if req.UserID != actorID {
		return models.ExchangeRequest{}, ErrForbidden
	}
	if req.Status != models.StatusPending {
		return models.ExchangeRequest{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, req.Status, models.StatusCancelled)
	}
	updated, err := s.Store.UpdateRequestStatus(ctx, requestID, models.StatusCancelled, "")
	if err != nil {
		return models.ExchangeRequest{}, err
	}
	s.Notifier.Cancelled(updated)
	return updated, nil
}

// UpdateLocation records the user's current coordinate. The sentinel and
// out-of-range values are rejected.
func (s *Service) UpdateLocation(ctx context.Context, userID string, loc models.Coord) error {
	if loc.IsUnset() || !loc.InRange() {
		return ErrInvalidLocation
	}
	return s.Store.UpdateUserLocation(ctx, userID, loc)
}

// UserStats aggregates a user's exchange history.
func (s *Service) UserStats(ctx context.Context, userID string) (models.UserStats, error) {
	completed, err := s.Store.UserRequests(ctx, userID, models.StatusCompleted)
	if err != nil {
		return models.UserStats{}, err
	}
	active, err := s.Store.UserRequests(ctx, userID, models.StatusPending)
	if err != nil {
		return models.UserStats{}, err
	}
	txs, err := s.Store.UserTransactions(ctx, userID)
	if err != nil {
		return models.UserStats{}, err
	}
	stats := models.UserStats{
		CompletedRequests: len(completed),
		ActiveRequests:    len(active),
		TotalTransactions: len(txs),
	}
	for _, tx := range txs {
		if tx.Status == models.TxCompleted {
			stats.TotalAmount += tx.Amount
		}
	}
	return stats, nil
}

func (s *Service) candidates(ctx context.Context, ref models.Coord, radiusKm float64) ([]models.ExchangeRequest, error) {
	if s.Index != nil {
		cands, err := s.Index.PendingNear(ctx, ref, radiusKm)
		if err == nil {
			return cands, nil
		}
		s.Logger.Warn("candidate index unavailable, falling back to store", "error", err)
	}
	return s.Store.PendingRequests(ctx)
}

// holdFunds places an escrow hold for online-payment exchanges. Best effort.
func (s *Service) holdFunds(ctx context.Context, req models.ExchangeRequest) {
	if s.Escrow == nil || req.Type != models.NeedOnlinePayment {
		return
	}
	holdID, err := s.Escrow.Hold(ctx, int64(req.Amount*100), "usd", req.AcceptedBy)
	if err != nil {
		s.Logger.Warn("escrow hold failed", "request_id", req.ID, "error", err)
		return
	}
	s.mu.Lock()
	s.holds[req.ID] = holdID
	s.mu.Unlock()
}

// ReleaseHolds cancels every escrow hold that was never captured, freeing the
// acceptor's funds. The hold ledger is in-memory, so this runs on shutdown:
// a hold the next process cannot see must not stay open.
func (s *Service) ReleaseHolds(ctx context.Context) {
	if s.Escrow == nil {
		return
	}
	s.mu.Lock()
	holds := s.holds
	s.holds = make(map[string]string)
	s.mu.Unlock()
	for reqID, holdID := range holds {
		if err := s.Escrow.Cancel(ctx, holdID); err != nil {
			s.Logger.Warn("escrow release failed", "request_id", reqID, "hold_id", holdID, "error", err)
		}
	}
}

func (s *Service) captureFunds(ctx context.Context, req models.ExchangeRequest) {
	if s.Escrow == nil {
		return
	}
	s.mu.Lock()
	holdID, ok := s.holds[req.ID]
	delete(s.holds, req.ID)
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.Escrow.Capture(ctx, holdID); err != nil {
		s.Logger.Warn("escrow capture failed", "request_id", req.ID, "error", err)
	}
}

// recordTransaction persists the settlement row. A failure here is logged
// rather than surfaced: the status transition already committed.
func (s *Service) recordTransaction(ctx context.Context, req models.ExchangeRequest) {
	tx := models.Transaction{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		FromUser:  req.AcceptedBy,
		ToUser:    req.UserID,
		Amount:    req.Amount,
		Status:    models.TxCompleted,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Store.InsertTransaction(ctx, &tx); err != nil {
		s.Logger.Warn("transaction record failed", "request_id", req.ID, "error", err)
	}
}
