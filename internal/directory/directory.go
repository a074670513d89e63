// Package directory resolves where and how to address a user.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"campusdesk/internal/model"
)

var ErrNotFound = errors.New("contact_not_found")

type Lookup interface {
	ResolveUserContact(ctx context.Context, userID string) (model.UserContact, error)
}

// DisplayName picks the first non-empty of full name, display name and
// the local part of the email, falling back to "Usuario".
func DisplayName(fullName, displayName, email string) string {
	for _, s := range []string{fullName, displayName} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return "Usuario"
}

type AccountReader interface {
	GetAccountByID(ctx context.Context, id string) (model.Account, error)
}

// Local resolves contacts from the service's own accounts table.
type Local struct {
	accounts AccountReader
}

func NewLocal(accounts AccountReader) *Local {
	return &Local{accounts: accounts}
}

func (l *Local) ResolveUserContact(ctx context.Context, userID string) (model.UserContact, error) {
	acc, err := l.accounts.GetAccountByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UserContact{}, ErrNotFound
	}
	if err != nil {
		return model.UserContact{}, err
	}
	if strings.TrimSpace(acc.Email) == "" {
		return model.UserContact{}, ErrNotFound
	}
	return model.UserContact{
		UserID:      acc.ID,
		Email:       acc.Email,
		DisplayName: DisplayName(acc.FullName, acc.DisplayName, acc.Email),
	}, nil
}

// Postgres resolves contacts from the identity provider's users table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open directory: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping directory: %w", err)
	}
	return &Postgres{db: db}, nil
}

func NewPostgresFromDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) ResolveUserContact(ctx context.Context, userID string) (model.UserContact, error) {
	var email, fullName, name sql.NullString
	err := p.db.QueryRowContext(ctx, `
SELECT email,
       raw_user_meta_data->>'full_name',
       raw_user_meta_data->>'name'
FROM auth.users
WHERE id = $1`, userID).Scan(&email, &fullName, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UserContact{}, ErrNotFound
	}
	if err != nil {
		return model.UserContact{}, fmt.Errorf("lookup user %s: %w", userID, err)
	}
	if strings.TrimSpace(email.String) == "" {
		return model.UserContact{}, ErrNotFound
	}
	return model.UserContact{
		UserID:      userID,
		Email:       email.String,
		DisplayName: DisplayName(fullName.String, name.String, email.String),
	}, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
