package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/cash-exchange/internal/models"
	"github.com/example/cash-exchange/internal/storage"
)

type fakeNotifier struct {
	created   []models.ExchangeRequest
	accepted  []models.ExchangeRequest
	completed []models.ExchangeRequest
	cancelled []models.ExchangeRequest
}

func (f *fakeNotifier) NewRequest(r models.ExchangeRequest) { f.created = append(f.created, r) }
func (f *fakeNotifier) Accepted(r models.ExchangeRequest)   { f.accepted = append(f.accepted, r) }
func (f *fakeNotifier) Completed(r models.ExchangeRequest)  { f.completed = append(f.completed, r) }
func (f *fakeNotifier) Cancelled(r models.ExchangeRequest)  { f.cancelled = append(f.cancelled, r) }

func newTestService() (*Service, *storage.MemoryStore, *fakeNotifier) {
	store := storage.NewMemoryStore()
	n := &fakeNotifier{}
	return NewService(store, n, nil), store, n
}

func seedUser(store *storage.MemoryStore, id string, lat, lon float64) {
	store.PutUser(models.User{ID: id, Name: "user " + id, Loc: models.Coord{Lat: lat, Lon: lon}})
}

func TestFindNearbyScenario(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	seedUser(store, "A", 10.0, 10.0)
	seedUser(store, "B", 10.01, 10.01)
	seedUser(store, "C", 20.0, 20.0)

	req, err := svc.CreateRequest(ctx, "A", 100, models.NeedCash)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// B is ~1.5 km away and sees the request
	out, err := svc.FindNearby(ctx, "B", 5.0)
	if err != nil {
		t.Fatalf("findNearby(B): %v", err)
	}
	if len(out) != 1 || out[0].ID != req.ID {
		t.Fatalf("expected A's request, got %+v", out)
	}
	if out[0].DistanceKm <= 0 || out[0].DistanceKm > 2 {
		t.Fatalf("unexpected distance %f", out[0].DistanceKm)
	}

	// C is ~1500 km away and sees nothing
	out, err = svc.FindNearby(ctx, "C", 5.0)
	if err != nil {
		t.Fatalf("findNearby(C): %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty, got %+v", out)
	}

	// the owner never sees their own request
	out, err = svc.FindNearby(ctx, "A", 5.0)
	if err != nil {
		t.Fatalf("findNearby(A): %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("owner saw own request: %+v", out)
	}
}

func TestFindNearbyUnsetLocationErrors(t *testing.T) {
	svc, store, _ := newTestService()
	seedUser(store, "noloc", 0, 0)
	_, err := svc.FindNearby(context.Background(), "noloc", 5.0)
	if !errors.Is(err, ErrLocationNotSet) {
		t.Fatalf("expected ErrLocationNotSet, got %v", err)
	}
}

func TestFindRecentUnsetLocationReturnsEmpty(t *testing.T) {
	svc, store, _ := newTestService()
	seedUser(store, "noloc", 0, 0)
	out, err := svc.FindRecent(context.Background(), "noloc", 30, 5.0)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if out == nil || len(out) != 0 {
		t.Fatalf("expected empty slice, got %v", out)
	}
}

func TestFindRecentWindowsOutOldRequests(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	seedUser(store, "A", 10, 10)
	seedUser(store, "B", 10.001, 10)

	old := models.ExchangeRequest{
		ID: "old", UserID: "A", Amount: 50, Type: models.NeedCash,
		Loc: models.Coord{Lat: 10, Lon: 10}, Status: models.StatusPending,
		CreatedAt: time.Now().Add(-2 * time.Hour),
	}
	if err := store.InsertRequest(ctx, &old); err != nil {
		t.Fatal(err)
	}
	fresh, err := svc.CreateRequest(ctx, "A", 50, models.NeedCash)
	if err != nil {
		t.Fatal(err)
	}

	out, err := svc.FindRecent(ctx, "B", 30, 5.0)
	if err != nil {
		t.Fatalf("findRecent: %v", err)
	}
	if len(out) != 1 || out[0].ID != fresh.ID {
		t.Fatalf("expected only the fresh request, got %+v", out)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	svc, store, n := newTestService()
	ctx := context.Background()
	seedUser(store, "A", 10, 10)
	seedUser(store, "noloc", 0, 0)

	if _, err := svc.CreateRequest(ctx, "A", 0, models.NeedCash); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.CreateRequest(ctx, "A", 10, "Need Magic"); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
	if _, err := svc.CreateRequest(ctx, "noloc", 10, models.NeedCash); !errors.Is(err, ErrInvalidLocation) {
		t.Fatalf("expected ErrInvalidLocation, got %v", err)
	}
	if len(n.created) != 0 {
		t.Fatalf("validation failures must not notify, got %d events", len(n.created))
	}

	req, err := svc.CreateRequest(ctx, "A", 99.999, models.NeedOnlinePayment)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.Amount != 100.00 {
		t.Fatalf("amount not rounded: %f", req.Amount)
	}
	if req.Status != models.StatusPending {
		t.Fatalf("new request not pending: %s", req.Status)
	}
	if len(n.created) != 1 || n.created[0].ID != req.ID {
		t.Fatalf("expected one new_request notification")
	}
}

func TestAcceptRequest(t *testing.T) {
	svc, store, n := newTestService()
	ctx := context.Background()
	seedUser(store, "A", 10, 10)
	seedUser(store, "B", 10.01, 10.01)

	req, err := svc.CreateRequest(ctx, "A", 25, models.NeedCash)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.AcceptRequest(ctx, req.ID, "A"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("owner accepting own request: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.AcceptRequest(ctx, "missing", "B"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	accepted, err := svc.AcceptRequest(ctx, req.ID, "B")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != models.StatusAccepted || accepted.AcceptedBy != "B" {
		t.Fatalf("bad accepted state: %+v", accepted)
	}
	if len(n.accepted) != 1 {
		t.Fatalf("expected one accepted notification")
	}

	// a second accept hits the transition guard
	if _, err := svc.AcceptRequest(ctx, req.ID, "B"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCompleteRequest(t *testing.T) {
	svc, store, n := newTestService()
	ctx := context.Background()
	seedUser(store, "A", 10, 10)
	seedUser(store, "B", 10.01, 10.01)

	req, _ := svc.CreateRequest(ctx, "A", 25, models.NeedCash)

	// completing a pending request is an invalid transition
	if _, err := svc.CompleteRequest(ctx, req.ID, "A"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if _, err := svc.AcceptRequest(ctx, req.ID, "B"); err != nil {
		t.Fatal(err)
	}

	// a bystander cannot complete
	if _, err := svc.CompleteRequest(ctx, req.ID, "Z"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	done, err := svc.CompleteRequest(ctx, req.ID, "B")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if len(n.completed) != 1 {
		t.Fatalf("expected one completed notification")
	}

	// settlement recorded for both participants
	txs, err := store.UserTransactions(ctx, "A")
	if err != nil || len(txs) != 1 {
		t.Fatalf("expected one transaction, got %v (%v)", txs, err)
	}
	if txs[0].FromUser != "B" || txs[0].ToUser != "A" || txs[0].Amount != 25 {
		t.Fatalf("bad transaction: %+v", txs[0])
	}

	// terminal: accepting a completed request fails and leaves it untouched
	if _, err := svc.AcceptRequest(ctx, req.ID, "B"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	cur, _ := store.Request(ctx, req.ID)
	if cur.Status != models.StatusCompleted {
		t.Fatalf("status changed by failed accept: %s", cur.Status)
	}
}

func TestCancelRequest(t *testing.T) {
	svc, store, n := newTestService()
	ctx := context.Background()
	seedUser(store, "A", 10, 10)
	seedUser(store, "B", 10.01, 10.01)

	req, _ := svc.CreateRequest(ctx, "A", 25, models.NeedCash)

	if _, err := svc.CancelRequest(ctx, req.ID, "B"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-owner cancel: expected ErrForbidden, got %v", err)
	}
	cancelled, err := svc.CancelRequest(ctx, req.ID, "A")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if len(n.cancelled) != 1 {
		t.Fatalf("expected one cancelled event")
	}
	// cancelled is terminal
	if _, err := svc.AcceptRequest(ctx, req.ID, "B"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

type fakeEscrow struct {
	held      []string
	captured  []string
	cancelled []string
}

func (f *fakeEscrow) Hold(_ context.Context, amount int64, currency, customerID string) (string, error) {
	id := "hold-" + customerID
	f.held = append(f.held, id)
	return id, nil
}
func (f *fakeEscrow) Capture(_ context.Context, holdID string) error {
	f.captured = append(f.captured, holdID)
	return nil
}
func (f *fakeEscrow) Cancel(_ context.Context, holdID string) error {
	f.cancelled = append(f.cancelled, holdID)
	return nil
}

func TestEscrowHoldCaptureAndRelease(t *testing.T) {
	svc, store, _ := newTestService()
	esc := &fakeEscrow{}
	svc.Escrow = esc
	ctx := context.Background()
	seedUser(store, "A", 10, 10)
	seedUser(store, "B", 10.01, 10.01)
	seedUser(store, "C", 10.02, 10.02)

	// cash exchanges never touch escrow
	cash, _ := svc.CreateRequest(ctx, "A", 25, models.NeedCash)
	if _, err := svc.AcceptRequest(ctx, cash.ID, "B"); err != nil {
		t.Fatal(err)
	}
	if len(esc.held) != 0 {
		t.Fatalf("cash accept placed a hold: %v", esc.held)
	}

	// online-payment accept places a hold, complete captures it
	settled, _ := svc.CreateRequest(ctx, "A", 50, models.NeedOnlinePayment)
	if _, err := svc.AcceptRequest(ctx, settled.ID, "B"); err != nil {
		t.Fatal(err)
	}
	if len(esc.held) != 1 {
		t.Fatalf("expected one hold, got %v", esc.held)
	}
	if _, err := svc.CompleteRequest(ctx, settled.ID, "B"); err != nil {
		t.Fatal(err)
	}
	if len(esc.captured) != 1 || esc.captured[0] != esc.held[0] {
		t.Fatalf("hold not captured: %v", esc.captured)
	}

	// an abandoned accepted exchange: its hold is released, the captured one
	// is left alone
	abandoned, _ := svc.CreateRequest(ctx, "A", 75, models.NeedOnlinePayment)
	if _, err := svc.AcceptRequest(ctx, abandoned.ID, "C"); err != nil {
		t.Fatal(err)
	}
	svc.ReleaseHolds(ctx)
	if len(esc.cancelled) != 1 || esc.cancelled[0] != "hold-C" {
		t.Fatalf("expected the abandoned hold released, got %v", esc.cancelled)
	}

	// release drained the ledger, a second pass is a no-op
	svc.ReleaseHolds(ctx)
	if len(esc.cancelled) != 1 {
		t.Fatalf("release not idempotent: %v", esc.cancelled)
	}
}

func TestUpdateLocationValidation(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	seedUser(store, "A", 10, 10)

	if err := svc.UpdateLocation(ctx, "A", models.Coord{}); !errors.Is(err, ErrInvalidLocation) {
		t.Fatalf("sentinel: expected ErrInvalidLocation, got %v", err)
	}
	if err := svc.UpdateLocation(ctx, "A", models.Coord{Lat: 95, Lon: 10}); !errors.Is(err, ErrInvalidLocation) {
		t.Fatalf("out of range: expected ErrInvalidLocation, got %v", err)
	}
	if err := svc.UpdateLocation(ctx, "A", models.Coord{Lat: 11, Lon: 11}); err != nil {
		t.Fatalf("valid update: %v", err)
	}
	u, _ := store.User(ctx, "A")
	if u.Loc.Lat != 11 || u.Loc.Lon != 11 {
		t.Fatalf("location not persisted: %+v", u.Loc)
	}
}
