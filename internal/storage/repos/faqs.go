package repos

import (
	"context"
	"database/sql"

	"campusdesk/internal/model"
)

const faqColumns = `id, question, answer, created_by, created_at, updated_at`

func (s *Store) CreateFAQ(ctx context.Context, question, answer, createdBy string) (model.FAQ, error) {
	now := formatTS(s.nowUTC())
	res, err := s.DB.ExecContext(ctx, `
INSERT INTO faqs (question, answer, created_by, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)`, question, answer, createdBy, now, now)
	if err != nil {
		return model.FAQ{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.FAQ{}, err
	}
	return s.GetFAQ(ctx, id)
}

func (s *Store) GetFAQ(ctx context.Context, id int64) (model.FAQ, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+faqColumns+` FROM faqs WHERE id = ?`, id)
	return scanFAQ(row)
}

// ListFAQs returns every FAQ in creation order.
func (s *Store) ListFAQs(ctx context.Context) ([]model.FAQ, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+faqColumns+` FROM faqs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.FAQ{}
	for rows.Next() {
		f, err := scanFAQ(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) UpdateFAQ(ctx context.Context, id int64, question, answer string) (model.FAQ, error) {
	res, err := s.DB.ExecContext(ctx, `
UPDATE faqs SET question = ?, answer = ?, updated_at = ? WHERE id = ?`,
		question, answer, formatTS(s.nowUTC()), id)
	if err != nil {
		return model.FAQ{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.FAQ{}, sql.ErrNoRows
	}
	return s.GetFAQ(ctx, id)
}

func (s *Store) DeleteFAQ(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM faqs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanFAQ(row scanner) (model.FAQ, error) {
	var (
		f         model.FAQ
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&f.ID, &f.Question, &f.Answer, &f.CreatedBy, &createdAt, &updatedAt); err != nil {
		return model.FAQ{}, err
	}
	f.CreatedAt = parseTS(createdAt)
	f.UpdatedAt = parseTS(updatedAt)
	return f, nil
}
