package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/cash-exchange/internal/models"
)

// RedisIndex is an optional Redis-backed geo index of open exchange requests,
// kept current by the event consumer. The server can use it to narrow the
// candidate set for a nearby query before the exact proximity filter runs.
type RedisIndex struct {
	client *redis.Client
	key    string
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key}
}

// NewRedisIndexWithClient wraps an existing client so a process that already
// holds a Redis connection pool does not open a second one.
func NewRedisIndexWithClient(c *redis.Client, key string) *RedisIndex {
	return &RedisIndex{client: c, key: key}
}

// Ping reports whether Redis is reachable, for readiness checks.
func (r *RedisIndex) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Add indexes a pending request: GEOADD for the coordinate plus a meta hash
// for the fields the candidate filter needs.
func (r *RedisIndex) Add(ctx context.Context, req models.ExchangeRequest) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: req.Loc.Lon, Latitude: req.Loc.Lat, Name: req.ID,
	}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(req.ID), map[string]interface{}{
		"user_id":    req.UserID,
		"user_name":  req.UserName,
		"amount":     strconv.FormatFloat(req.Amount, 'f', 2, 64),
		"type":       string(req.Type),
		"created_at": req.CreatedAt.Format(time.RFC3339),
	}).Err()
}

// Remove drops a request from the index once it leaves the pending state.
func (r *RedisIndex) Remove(ctx context.Context, requestID string) error {
	if err := r.client.ZRem(ctx, r.key, requestID).Err(); err != nil {
		return err
	}
	return r.client.Del(ctx, metaKey(requestID)).Err()
}

// PendingNear returns indexed requests within radiusKm of ref, hydrated from
// their meta hashes. Everything returned here is pending by construction; the
// caller still applies the exact proximity filter on top.
func (r *RedisIndex) PendingNear(ctx context.Context, ref models.Coord, radiusKm float64) ([]models.ExchangeRequest, error) {
	res, err := r.client.GeoRadius(ctx, r.key, ref.Lon, ref.Lat, &redis.GeoRadiusQuery{
		Radius: radiusKm, Unit: "km", WithCoord: true, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.ExchangeRequest, 0, len(res))
	for _, g := range res {
		req := models.ExchangeRequest{
			ID:     g.Name,
			Loc:    models.Coord{Lat: g.Latitude, Lon: g.Longitude},
			Status: models.StatusPending,
		}
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			req.UserID = m["user_id"]
			req.UserName = m["user_name"]
			req.Type = models.RequestType(m["type"])
			if v, ok := m["amount"]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					req.Amount = f
				}
			}
			if v, ok := m["created_at"]; ok {
				if ts, err := time.Parse(time.RFC3339, v); err == nil {
					req.CreatedAt = ts
				}
			}
		}
		out = append(out, req)
	}
	return out, nil
}

func (r *RedisIndex) Close() error { return r.client.Close() }

func metaKey(id string) string { return "request:meta:" + id }
