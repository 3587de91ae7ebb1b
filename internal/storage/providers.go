package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

const providerColumns = "id, vendor, name, endpoint_required, endpoint, endpoint_hint, " +
	"api_key_required, api_key_hint, model_required, model, model_hint, " +
	"help_text, get_started_text, get_started_url, modified_at"

func (s *Store) GetProvider(ctx context.Context, id uuid.UUID) (Provider, error) {
	q := s.sql.Select(providerColumns).
		From("providers").
		Where(sq.Eq{"id": id.String()})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Provider{}, fmt.Errorf("build get provider query: %w", err)
	}

	row := s.db.QueryRowContext(ctx, sqlStr, args...)
	p, err := scanProvider(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Provider{}, ErrNotFound
		}
		return Provider{}, fmt.Errorf("get provider: %w", err)
	}
	return p, nil
}

func (s *Store) ListProviders(ctx context.Context) ([]Provider, error) {
	q := s.sql.Select(providerColumns).
		From("providers").
		OrderBy("name ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list providers query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	out := make([]Provider, 0)
	for rows.Next() {
		p, err := scanProvider(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan provider row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provider rows: %w", err)
	}
	return out, nil
}

// UpdateProviderConfig sets the user-editable fields of a seeded provider
// row. The API key does not live here: it is envelope-encrypted in settings.
func (s *Store) UpdateProviderConfig(ctx context.Context, id uuid.UUID, endpoint, model *string) error {
	q := s.sql.Update("providers").
		Set("endpoint", endpoint).
		Set("model", model).
		Set("modified_at", time.Now().UTC()).
		Where(sq.Eq{"id": id.String()})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update provider query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("update provider: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProvider(scan func(dest ...any) error) (Provider, error) {
	var (
		p          Provider
		rowID      string
		vendor     string
		endpoint   sql.NullString
		model      sql.NullString
		modifiedAt sql.NullTime
	)
	if err := scan(
		&rowID, &vendor, &p.Name,
		&p.EndpointRequired, &endpoint, &p.EndpointHint,
		&p.APIKeyRequired, &p.APIKeyHint,
		&p.ModelRequired, &model, &p.ModelHint,
		&p.HelpText, &p.GetStartedText, &p.GetStartedURL,
		&modifiedAt,
	); err != nil {
		return Provider{}, err
	}

	parsed, err := uuid.Parse(rowID)
	if err != nil {
		return Provider{}, fmt.Errorf("parse provider id: %w", err)
	}
	p.ID = parsed
	p.Vendor = Vendor(vendor)
	if endpoint.Valid {
		p.Endpoint = &endpoint.String
	}
	if model.Valid {
		p.Model = &model.String
	}
	if modifiedAt.Valid {
		p.ModifiedAt = &modifiedAt.Time
	}
	return p, nil
}
