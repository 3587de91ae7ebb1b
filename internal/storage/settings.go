package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// GetSetting returns the value for name. A stored NULL comes back as nil;
// a missing row is ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, name string) (*string, error) {
	q := s.sql.Select("value").From("settings").Where(sq.Eq{"name": name})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get setting query: %w", err)
	}

	var value sql.NullString
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get setting: %w", err)
	}
	if !value.Valid {
		return nil, nil
	}
	return &value.String, nil
}

func (s *Store) SetSetting(ctx context.Context, name string, value *string, sensitive bool) error {
	q := s.sql.Insert("settings").
		Columns("name", "value", "sensitive", "modified_at").
		Values(name, value, sensitive, time.Now().UTC()).
		Suffix("ON CONFLICT(name) DO UPDATE SET value=excluded.value, sensitive=excluded.sensitive, modified_at=excluded.modified_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build set setting query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}
