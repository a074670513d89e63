package repos

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Store struct {
	DB  *sql.DB
	now func() time.Time
}

// Fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func New(db *sql.DB) *Store {
	return &Store{DB: db, now: time.Now}
}

// WithClock returns a copy of the store stamping rows with now.
func (s *Store) WithClock(now func() time.Time) *Store {
	return &Store{DB: s.DB, now: now}
}

func (s *Store) nowUTC() time.Time {
	return s.now().UTC()
}

func formatTS(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func nullTS(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{Valid: true, String: formatTS(*t)}
}

func newID() string {
	return uuid.NewString()
}

func toJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func fromJSON[T any](s string) T {
	var v T
	if strings.TrimSpace(s) == "" {
		return v
	}
	_ = json.Unmarshal([]byte(s), &v)
	return v
}

func parseTS(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseTSPtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTS(s.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) Count(ctx context.Context, table string) (int, error) {
	switch table {
	case "accounts", "activities", "conversations", "messages", "agent_requests", "notifications", "outbox_events", "faqs":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var c int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	if err := s.DB.QueryRowContext(ctx, query).Scan(&c); err != nil {
		return 0, err
	}
	return c, nil
}
