package repos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"campusdesk/internal/model"
)

type CreateAccountInput struct {
	ID          string
	Email       string
	DisplayName string
	FullName    string
	Role        model.Role
	APIKeyHash  string
	Status      model.AccountStatus
}

var ErrDuplicateEmail = errors.New("duplicate_email")

func (s *Store) CreateAccount(ctx context.Context, in CreateAccountInput) (model.Account, error) {
	if in.ID == "" {
		in.ID = newID()
	}
	if in.Status == "" {
		in.Status = model.AccountStatusActive
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO accounts (id, email, display_name, full_name, role, status, api_key_hash, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID,
		in.Email,
		in.DisplayName,
		in.FullName,
		string(in.Role),
		string(in.Status),
		in.APIKeyHash,
		formatTS(s.nowUTC()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Account{}, ErrDuplicateEmail
		}
		return model.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return s.GetAccountByID(ctx, in.ID)
}

func (s *Store) ListAccounts(ctx context.Context, role string, page, perPage int) ([]model.Account, int, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 50
	}
	where := "WHERE 1=1"
	args := []any{}
	if role != "" {
		where += " AND role = ?"
		args = append(args, role)
	}
	var total int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, perPage, (page-1)*perPage)
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, email, display_name, full_name, role, status, created_at, last_seen
FROM accounts `+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (s *Store) GetAccountByID(ctx context.Context, id string) (model.Account, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, email, display_name, full_name, role, status, created_at, last_seen
FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func (s *Store) GetAccountByAPIKeyHash(ctx context.Context, hash string) (model.Account, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, email, display_name, full_name, role, status, created_at, last_seen
FROM accounts WHERE api_key_hash = ?`, hash)
	return scanAccount(row)
}

func (s *Store) RotateAccountKey(ctx context.Context, id, hash string) error {
	res, err := s.DB.ExecContext(ctx, "UPDATE accounts SET api_key_hash = ? WHERE id = ?", hash, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) SetAccountStatus(ctx context.Context, id string, status model.AccountStatus) error {
	res, err := s.DB.ExecContext(ctx, "UPDATE accounts SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) UpdateLastSeen(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, "UPDATE accounts SET last_seen = ? WHERE id = ?", formatTS(s.nowUTC()), id)
	return err
}

func scanAccount(row scanner) (model.Account, error) {
	var (
		a         model.Account
		role      string
		status    string
		createdAt string
		lastSeen  sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.FullName, &role, &status, &createdAt, &lastSeen); err != nil {
		return model.Account{}, err
	}
	a.Role = model.Role(role)
	a.Status = model.AccountStatus(status)
	a.CreatedAt = parseTS(createdAt)
	a.LastSeen = parseTSPtr(lastSeen)
	return a, nil
}
