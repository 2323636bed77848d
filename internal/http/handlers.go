package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/cash-exchange/internal/auth"
	"github.com/example/cash-exchange/internal/matching"
	"github.com/example/cash-exchange/internal/models"
	"github.com/example/cash-exchange/internal/realtime"
	"github.com/example/cash-exchange/internal/routing"
	"github.com/example/cash-exchange/internal/storage"
)

type Server struct {
	Matching   *matching.Service
	Store      storage.Store
	Registry   *realtime.Registry
	Auth       auth.Authenticator
	Routing    routing.Provider
	RouteCache *routing.Cache

	DefaultRadiusKm float64
	RecentWindowMin int

	logger *slog.Logger
	mux    *mux.Router
	ws     *realtime.Handler
}

func NewServer(svc *matching.Service, store storage.Store, reg *realtime.Registry, authn auth.Authenticator, router routing.Provider, cache *routing.Cache, defaultRadiusKm float64, recentWindowMin int, logger *slog.Logger) *Server {
	s := &Server{
		Matching:        svc,
		Store:           store,
		Registry:        reg,
		Auth:            authn,
		Routing:         router,
		RouteCache:      cache,
		DefaultRadiusKm: defaultRadiusKm,
		RecentWindowMin: recentWindowMin,
		logger:          logger,
		mux:             mux.NewRouter(),
		ws:              &realtime.Handler{Registry: reg, Auth: authn, Logger: logger},
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/requests", s.handleCreateRequest).Methods("POST")
	api.HandleFunc("/requests/nearby", s.handleNearby).Methods("GET")
	api.HandleFunc("/requests/recent", s.handleRecent).Methods("GET")
	api.HandleFunc("/requests/{id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/requests/{id}/complete", s.handleComplete).Methods("POST")
	api.HandleFunc("/requests/{id}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/user/me", s.handleMe).Methods("GET")
	api.HandleFunc("/user/location", s.handleUpdateLocation).Methods("POST")
	api.HandleFunc("/user/requests", s.handleUserRequests).Methods("GET")
	api.HandleFunc("/user/transactions", s.handleUserTransactions).Methods("GET")
	api.HandleFunc("/user/stats", s.handleUserStats).Methods("GET")
	api.HandleFunc("/route", s.handleRoute).Methods("GET")
	api.HandleFunc("/address", s.handleAddress).Methods("GET")

	// auth for /ws happens in-band, via the handshake frame
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount float64            `json:"amount"`
		Type   models.RequestType `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := s.Matching.CreateRequest(r.Context(), userID(r), body.Amount, body.Type)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	radius := s.queryFloat(r, "radius", s.DefaultRadiusKm)
	out, err := s.Matching.FindNearby(r.Context(), userID(r), radius)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": out, "count": len(out)})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	radius := s.queryFloat(r, "radius", s.DefaultRadiusKm)
	minutes := s.queryInt(r, "minutes", s.RecentWindowMin)
	out, err := s.Matching.FindRecent(r.Context(), userID(r), minutes, radius)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": out, "count": len(out)})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	req, err := s.Matching.AcceptRequest(r.Context(), mux.Vars(r)["id"], userID(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	req, err := s.Matching.CompleteRequest(r.Context(), mux.Vars(r)["id"], userID(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	req, err := s.Matching.CancelRequest(r.Context(), mux.Vars(r)["id"], userID(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.Store.User(r.Context(), userID(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.Coord
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Matching.UpdateLocation(r.Context(), userID(r), loc); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Location updated successfully"})
}

func (s *Server) handleUserRequests(w http.ResponseWriter, r *http.Request) {
	status := models.RequestStatus(r.URL.Query().Get("status"))
	out, err := s.Store.UserRequests(r.Context(), userID(r), status)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUserTransactions(w http.ResponseWriter, r *http.Request) {
	out, err := s.Store.UserTransactions(r.Context(), userID(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Matching.UserStats(r.Context(), userID(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if s.Routing == nil {
		writeError(w, http.StatusServiceUnavailable, "routing not configured")
		return
	}
	q := r.URL.Query()
	from := models.Coord{Lat: parseFloat(q.Get("start_lat")), Lon: parseFloat(q.Get("start_lng"))}
	to := models.Coord{Lat: parseFloat(q.Get("end_lat")), Lon: parseFloat(q.Get("end_lng"))}
	if !from.InRange() || !to.InRange() || from.IsUnset() || to.IsUnset() {
		writeError(w, http.StatusBadRequest, "invalid route endpoints")
		return
	}
	if s.RouteCache != nil {
		if b, ok := s.RouteCache.Get(from, to); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write(b)
			return
		}
	}
	raw, err := s.Routing.Route(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to get route")
		return
	}
	if s.RouteCache != nil {
		s.RouteCache.Set(from, to, raw)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}

// handleAddress reverse-geocodes a coordinate for display. The provider
// degrades to a "Location: lat, lon" string on upstream failure, so this
// endpoint only errors on bad input.
func (s *Server) handleAddress(w http.ResponseWriter, r *http.Request) {
	if s.Routing == nil {
		writeError(w, http.StatusServiceUnavailable, "routing not configured")
		return
	}
	q := r.URL.Query()
	at := models.Coord{Lat: parseFloat(q.Get("lat")), Lon: parseFloat(q.Get("lng"))}
	if at.IsUnset() || !at.InRange() {
		writeError(w, http.StatusBadRequest, "invalid coordinate")
		return
	}
	addr, err := s.Routing.Address(r.Context(), at)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to get address")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": addr})
}

var upgrader = websocket.Upgrader{
	// the handshake frame carries the credential, so any origin may connect
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	go s.ws.Serve(conn)
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, matching.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, matching.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, matching.ErrInvalidLocation),
		errors.Is(err, matching.ErrLocationNotSet),
		errors.Is(err, matching.ErrInvalidAmount),
		errors.Is(err, matching.ErrInvalidType):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) queryFloat(r *http.Request, key string, def float64) float64 {
	if v := r.URL.Query().Get(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return def
}

func (s *Server) queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return def
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(v, 64)
	return f
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
