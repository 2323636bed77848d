package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/cash-exchange/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

const requestCols = `id, user_id, user_name, amount, type, latitude, longitude, status, coalesce(accepted_by,''), created_at, updated_at`

func scanRequest(row interface{ Scan(...any) error }) (models.ExchangeRequest, error) {
	var r models.ExchangeRequest
	err := row.Scan(&r.ID, &r.UserID, &r.UserName, &r.Amount, &r.Type,
		&r.Loc.Lat, &r.Loc.Lon, &r.Status, &r.AcceptedBy, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (p *PostgresStore) PendingRequests(ctx context.Context) ([]models.ExchangeRequest, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+requestCols+` FROM requests WHERE status = $1 ORDER BY created_at`, models.StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ExchangeRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Request(ctx context.Context, id string) (models.ExchangeRequest, error) {
	r, err := scanRequest(p.db.QueryRowContext(ctx,
		`SELECT `+requestCols+` FROM requests WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return models.ExchangeRequest{}, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) InsertRequest(ctx context.Context, req *models.ExchangeRequest) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO requests(id, user_id, user_name, amount, type, latitude, longitude, status, created_at, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		req.ID, req.UserID, req.UserName, req.Amount, req.Type,
		req.Loc.Lat, req.Loc.Lon, req.Status, req.CreatedAt, req.UpdatedAt)
	return err
}

func (p *PostgresStore) UpdateRequestStatus(ctx context.Context, id string, status models.RequestStatus, acceptedBy string) (models.ExchangeRequest, error) {
	var row *sql.Row
	if acceptedBy != "" {
		row = p.db.QueryRowContext(ctx,
			`UPDATE requests SET status=$1, accepted_by=$2, updated_at=$3 WHERE id=$4 RETURNING `+requestCols,
			status, acceptedBy, time.Now().UTC(), id)
	} else {
		row = p.db.QueryRowContext(ctx,
			`UPDATE requests SET status=$1, updated_at=$2 WHERE id=$3 RETURNING `+requestCols,
			status, time.Now().UTC(), id)
	}
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return models.ExchangeRequest{}, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) User(ctx context.Context, id string) (models.User, error) {
	var u models.User
	err := p.db.QueryRowContext(ctx,
		`SELECT id, email, name, latitude, longitude, created_at, updated_at FROM profiles WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.Name, &u.Loc.Lat, &u.Loc.Lon, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.User{}, ErrNotFound
	}
	return u, err
}

func (p *PostgresStore) UpdateUserLocation(ctx context.Context, userID string, loc models.Coord) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE profiles SET latitude=$1, longitude=$2, updated_at=$3 WHERE id=$4`,
		loc.Lat, loc.Lon, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) InsertTransaction(ctx context.Context, tx *models.Transaction) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO transactions(id, request_id, from_user, to_user, amount, status, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7)`,
		tx.ID, tx.RequestID, tx.FromUser, tx.ToUser, tx.Amount, tx.Status, tx.CreatedAt)
	return err
}

func (p *PostgresStore) UserRequests(ctx context.Context, userID string, status models.RequestStatus) ([]models.ExchangeRequest, error) {
	q := `SELECT ` + requestCols + ` FROM requests WHERE user_id = $1`
	args := []any{userID}
	if status != "" {
		q += ` AND status = $2`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ExchangeRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UserTransactions(ctx context.Context, userID string) ([]models.Transaction, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, request_id, from_user, to_user, amount, status, created_at
		 FROM transactions WHERE from_user = $1 OR to_user = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(&tx.ID, &tx.RequestID, &tx.FromUser, &tx.ToUser, &tx.Amount, &tx.Status, &tx.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error { return p.db.Close() }
