package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/example/cash-exchange/internal/models"
)

// Provider answers routing and reverse-geocoding queries for the meetup flow.
type Provider interface {
	Route(ctx context.Context, from, to models.Coord) (json.RawMessage, error)
	Address(ctx context.Context, at models.Coord) (string, error)
}

// GraphHopperClient proxies the GraphHopper routing and geocoding APIs.
type GraphHopperClient struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewGraphHopperClient(endpoint, key string) *GraphHopperClient {
	if endpoint == "" {
		endpoint = "https://graphhopper.com/api/1"
	}
	return &GraphHopperClient{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 5 * time.Second}}
}

// Route fetches a foot route between two points and returns the raw
// GraphHopper response for the client to render.
func (g *GraphHopperClient) Route(ctx context.Context, from, to models.Coord) (json.RawMessage, error) {
	u := fmt.Sprintf("%s/route?point=%.6f,%.6f&point=%.6f,%.6f&vehicle=foot&key=%s",
		g.Endpoint, from.Lat, from.Lon, to.Lat, to.Lon, url.QueryEscape(g.Key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graphhopper route: status %d", resp.StatusCode)
	}
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Address reverse-geocodes a coordinate to a display string. On any failure
// it falls back to the bare coordinates rather than erroring; the address is
// cosmetic.
func (g *GraphHopperClient) Address(ctx context.Context, at models.Coord) (string, error) {
	fallback := fmt.Sprintf("Location: %g, %g", at.Lat, at.Lon)
	u := fmt.Sprintf("%s/geocode?point=%.6f,%.6f&reverse=true&key=%s",
		g.Endpoint, at.Lat, at.Lon, url.QueryEscape(g.Key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fallback, nil
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return fallback, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fallback, nil
	}
	var out struct {
		Hits []struct {
			Name    string `json:"name"`
			City    string `json:"city"`
			Country string `json:"country"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || len(out.Hits) == 0 {
		return fallback, nil
	}
	hit := out.Hits[0]
	addr := hit.Name
	if hit.City != "" {
		addr += ", " + hit.City
	}
	if hit.Country != "" {
		addr += ", " + hit.Country
	}
	return addr, nil
}
