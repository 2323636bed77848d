package models

import (
	"math"
	"time"
)

// Coord is a WGS84 latitude/longitude pair in degrees.
// (0,0) means "no location recorded", not a point in the Gulf of Guinea.
type Coord struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// IsUnset reports whether the coordinate is the unset sentinel.
func (c Coord) IsUnset() bool { return c.Lat == 0 && c.Lon == 0 }

// InRange reports whether the coordinate is within valid WGS84 bounds.
func (c Coord) InRange() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

type RequestType string

const (
	NeedCash          RequestType = "Need Cash"
	NeedOnlinePayment RequestType = "Need Online Payment"
)

// Known reports whether t is a recognized request type.
func (t RequestType) Known() bool {
	return t == NeedCash || t == NeedOnlinePayment
}

type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusAccepted  RequestStatus = "accepted"
	StatusCompleted RequestStatus = "completed"
	StatusCancelled RequestStatus = "cancelled"
)

// ExchangeRequest is a posted cash-for-online-payment exchange offer.
type ExchangeRequest struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id"`
	UserName   string        `json:"user_name"`
	Amount     float64       `json:"amount"`
	Type       RequestType   `json:"type"`
	Loc        Coord         `json:"location"`
	Status     RequestStatus `json:"status"`
	AcceptedBy string        `json:"accepted_by,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// NearbyRequest is an ExchangeRequest annotated with the distance from a
// reference point. The distance is computed per query and never persisted.
type NearbyRequest struct {
	ExchangeRequest
	DistanceKm float64 `json:"distance_km"`
}

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Loc       Coord     `json:"location"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
)

// Transaction records a settled exchange between two users.
type Transaction struct {
	ID        string            `json:"id"`
	RequestID string            `json:"request_id"`
	FromUser  string            `json:"from_user"`
	ToUser    string            `json:"to_user"`
	Amount    float64           `json:"amount"`
	Status    TransactionStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

// UserStats summarizes a user's exchange history.
type UserStats struct {
	CompletedRequests int     `json:"completed_requests"`
	ActiveRequests    int     `json:"active_requests"`
	TotalTransactions int     `json:"total_transactions"`
	TotalAmount       float64 `json:"total_amount"`
}

// RoundAmount normalizes a monetary amount to two decimal places.
func RoundAmount(v float64) float64 { return math.Round(v*100) / 100 }
