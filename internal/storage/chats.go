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

var ErrNotFound = errors.New("not found")

// CreateChat inserts the chat and its seed messages in one transaction, so
// a chat never becomes visible without its opening context.
func (s *Store) CreateChat(ctx context.Context, chat Chat, seed []ChatMessage) error {
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create chat tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := s.sql.Insert("chats").
		Columns("id", "video_url", "title", "description", "thumbnail", "created_at").
		Values(chat.ID.String(), chat.VideoURL, chat.Title, chat.Description, chat.Thumbnail, chat.CreatedAt)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert chat query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}

	for _, m := range seed {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = chat.CreatedAt
		}
		sqlStr, args, err := s.insertMessageQuery(chat.ID, m)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("insert seed message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create chat tx: %w", err)
	}
	return nil
}

func (s *Store) insertMessageQuery(chatID uuid.UUID, m ChatMessage) (string, []any, error) {
	var providerID *string
	if m.ProviderID != nil {
		v := m.ProviderID.String()
		providerID = &v
	}
	q := s.sql.Insert("chat_messages").
		Columns("chat_id", "role", "body", "provider_id", "model", "created_at").
		Values(chatID.String(), string(m.Role), m.Body, providerID, m.Model, m.CreatedAt)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build insert message query: %w", err)
	}
	return sqlStr, args, nil
}

func (s *Store) GetChat(ctx context.Context, id uuid.UUID) (Chat, error) {
	q := s.sql.Select("id", "video_url", "title", "description", "thumbnail", "created_at").
		From("chats").
		Where(sq.Eq{"id": id.String()})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Chat{}, fmt.Errorf("build get chat query: %w", err)
	}

	var (
		c     Chat
		rowID string
	)
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&rowID, &c.VideoURL, &c.Title, &c.Description, &c.Thumbnail, &c.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chat{}, ErrNotFound
		}
		return Chat{}, fmt.Errorf("get chat: %w", err)
	}
	c.ID, err = uuid.Parse(rowID)
	if err != nil {
		return Chat{}, fmt.Errorf("parse chat id: %w", err)
	}
	return c, nil
}

func (s *Store) ListChats(ctx context.Context) ([]ChatInfo, error) {
	q := s.sql.Select("id", "video_url", "title", "created_at").
		From("chats").
		OrderBy("created_at DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list chats query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	out := make([]ChatInfo, 0)
	for rows.Next() {
		var (
			info  ChatInfo
			rowID string
		)
		if err := rows.Scan(&rowID, &info.VideoURL, &info.Title, &info.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		info.ID, err = uuid.Parse(rowID)
		if err != nil {
			return nil, fmt.Errorf("parse chat id: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat rows: %w", err)
	}
	return out, nil
}

// ListMessages returns the chat's messages newest-first. Callers that feed a
// transport re-sort to chronological order themselves.
func (s *Store) ListMessages(ctx context.Context, chatID uuid.UUID) ([]ChatMessage, error) {
	q := s.sql.Select("id", "chat_id", "role", "body", "provider_id", "model", "created_at").
		From("chat_messages").
		Where(sq.Eq{"chat_id": chatID.String()}).
		OrderBy("created_at DESC", "id DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list messages query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]ChatMessage, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

func scanMessage(rows *sql.Rows) (ChatMessage, error) {
	var (
		m          ChatMessage
		chatID     string
		providerID sql.NullString
		model      sql.NullString
	)
	if err := rows.Scan(&m.ID, &chatID, &m.Role, &m.Body, &providerID, &model, &m.CreatedAt); err != nil {
		return ChatMessage{}, fmt.Errorf("scan message row: %w", err)
	}
	parsed, err := uuid.Parse(chatID)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("parse message chat id: %w", err)
	}
	m.ChatID = parsed
	if providerID.Valid {
		pid, err := uuid.Parse(providerID.String)
		if err != nil {
			return ChatMessage{}, fmt.Errorf("parse message provider id: %w", err)
		}
		m.ProviderID = &pid
	}
	if model.Valid {
		m.Model = &model.String
	}
	return m, nil
}

// AppendMessage durably adds one message to an existing chat. The single
// INSERT is atomic with respect to concurrent appends on the same chat.
func (s *Store) AppendMessage(ctx context.Context, m ChatMessage) (int64, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	sqlStr, args, err := s.insertMessageQuery(m.ChatID, m)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		// Postgres does not support LastInsertId; the id is not load-bearing
		// for callers, so report success without it.
		return 0, nil
	}
	return id, nil
}

// DeleteChat removes the chat and all of its messages.
func (s *Store) DeleteChat(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete chat tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := s.sql.Delete("chat_messages").Where(sq.Eq{"chat_id": id.String()})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete messages query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("delete chat messages: %w", err)
	}

	q = s.sql.Delete("chats").Where(sq.Eq{"id": id.String()})
	sqlStr, args, err = q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete chat query: %w", err)
	}
	res, err := tx.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete chat tx: %w", err)
	}
	return nil
}
