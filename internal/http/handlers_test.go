package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/cash-exchange/internal/matching"
	"github.com/example/cash-exchange/internal/models"
	"github.com/example/cash-exchange/internal/notify"
	"github.com/example/cash-exchange/internal/realtime"
	"github.com/example/cash-exchange/internal/routing"
	"github.com/example/cash-exchange/internal/storage"
)

// fakeAuth treats the bearer token as the user id.
type fakeAuth struct{}

func (fakeAuth) Verify(token string) (string, error) {
	if token == "" {
		return "", errors.New("no token")
	}
	return token, nil
}

func newTestServer() (*Server, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(testWriter{}, nil))
	registry := realtime.NewRegistry(logger)
	dispatcher := notify.NewDispatcher(registry, nil, logger)
	svc := matching.NewService(store, dispatcher, logger)
	return NewServer(svc, store, registry, fakeAuth{}, nil,
		routing.NewCache(time.Minute), 5.0, 30, logger), store
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func doJSON(t *testing.T, srv http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestAPIRequiresAuth(t *testing.T) {
	srv, _ := newTestServer()
	if w := doJSON(t, srv, "GET", "/api/user/me", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	srv, store := newTestServer()
	store.PutUser(models.User{ID: "A", Name: "Alice", Loc: models.Coord{Lat: 10, Lon: 10}})
	store.PutUser(models.User{ID: "B", Name: "Bob", Loc: models.Coord{Lat: 10.01, Lon: 10.01}})

	w := doJSON(t, srv, "POST", "/api/requests", "A", `{"amount":100,"type":"Need Cash"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", w.Code, w.Body.String())
	}
	var req models.ExchangeRequest
	if err := json.Unmarshal(w.Body.Bytes(), &req); err != nil {
		t.Fatal(err)
	}

	// B sees it nearby
	w = doJSON(t, srv, "GET", "/api/requests/nearby", "B", "")
	if w.Code != http.StatusOK {
		t.Fatalf("nearby: expected 200, got %d", w.Code)
	}
	var nearby struct {
		Count    int                    `json:"count"`
		Requests []models.NearbyRequest `json:"requests"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &nearby); err != nil {
		t.Fatal(err)
	}
	if nearby.Count != 1 || nearby.Requests[0].ID != req.ID {
		t.Fatalf("unexpected nearby response: %s", w.Body.String())
	}

	// owner cannot accept their own request
	if w := doJSON(t, srv, "POST", "/api/requests/"+req.ID+"/accept", "A", ""); w.Code != http.StatusForbidden {
		t.Fatalf("self accept: expected 403, got %d", w.Code)
	}
	if w := doJSON(t, srv, "POST", "/api/requests/"+req.ID+"/accept", "B", ""); w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d", w.Code)
	}
	// double accept conflicts
	if w := doJSON(t, srv, "POST", "/api/requests/"+req.ID+"/accept", "B", ""); w.Code != http.StatusConflict {
		t.Fatalf("double accept: expected 409, got %d", w.Code)
	}
	if w := doJSON(t, srv, "POST", "/api/requests/"+req.ID+"/complete", "B", ""); w.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d", w.Code)
	}

	// unknown request maps to 404
	if w := doJSON(t, srv, "POST", "/api/requests/nope/accept", "B", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing request: expected 404, got %d", w.Code)
	}
}

func TestNearbyWithoutLocationIsBadRequest(t *testing.T) {
	srv, store := newTestServer()
	store.PutUser(models.User{ID: "noloc", Name: "Nowhere"})

	if w := doJSON(t, srv, "GET", "/api/requests/nearby", "noloc", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	// recent is intentionally lenient for fresh accounts
	w := doJSON(t, srv, "GET", "/api/requests/recent", "noloc", "")
	if w.Code != http.StatusOK {
		t.Fatalf("recent: expected 200, got %d", w.Code)
	}
	var recent struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &recent); err != nil {
		t.Fatal(err)
	}
	if recent.Count != 0 {
		t.Fatalf("expected empty recent feed, got %d", recent.Count)
	}
}

type fakeRouting struct{ addr string }

func (f fakeRouting) Route(context.Context, models.Coord, models.Coord) (json.RawMessage, error) {
	return json.RawMessage(`{"paths":[]}`), nil
}

func (f fakeRouting) Address(context.Context, models.Coord) (string, error) {
	return f.addr, nil
}

func TestAddressEndpoint(t *testing.T) {
	srv, store := newTestServer()
	store.PutUser(models.User{ID: "A", Name: "Alice"})

	// no provider wired
	if w := doJSON(t, srv, "GET", "/api/address?lat=10&lng=10", "A", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unconfigured: expected 503, got %d", w.Code)
	}

	srv.Routing = fakeRouting{addr: "1 Main St, Springfield"}

	if w := doJSON(t, srv, "GET", "/api/address?lat=0&lng=0", "A", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("sentinel coordinate: expected 400, got %d", w.Code)
	}
	if w := doJSON(t, srv, "GET", "/api/address?lat=95&lng=10", "A", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("out of range: expected 400, got %d", w.Code)
	}

	w := doJSON(t, srv, "GET", "/api/address?lat=10&lng=10", "A", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	var body struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Address != "1 Main St, Springfield" {
		t.Fatalf("unexpected address %q", body.Address)
	}
}

func TestUpdateLocationValidatesBody(t *testing.T) {
	srv, store := newTestServer()
	store.PutUser(models.User{ID: "A", Name: "Alice"})

	if w := doJSON(t, srv, "POST", "/api/user/location", "A", `{"latitude":0,"longitude":0}`); w.Code != http.StatusBadRequest {
		t.Fatalf("sentinel: expected 400, got %d", w.Code)
	}
	if w := doJSON(t, srv, "POST", "/api/user/location", "A", `{"latitude":10,"longitude":10}`); w.Code != http.StatusOK {
		t.Fatalf("valid: expected 200, got %d", w.Code)
	}
}
