package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/pdfqa/internal/model"
	"github.com/xxxsen/pdfqa/internal/pkg/dbutil"
	appErr "github.com/xxxsen/pdfqa/internal/pkg/errors"
)

const sessionTable = "chat_sessions"

type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

func (r *SessionRepo) Create(ctx context.Context, session *model.ChatSession) error {
	history, err := encodeJSON(session.History, "[]")
	if err != nil {
		return err
	}
	metadata, err := encodeJSON(session.Metadata, "{}")
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"session_id":       session.ID,
		"user_id":          session.UserID,
		"user_name":        session.UserName,
		"session_name":     session.Name,
		"chat_history":     history,
		"last_interaction": session.LastInteraction,
		"metadata":         metadata,
	}
	sqlStr, args, err := builder.BuildInsert(sessionTable, []map[string]interface{}{data})
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

// ListByUser returns session headers, most recently used first.
func (r *SessionRepo) ListByUser(ctx context.Context, userID string) ([]model.ChatSession, error) {
	where := map[string]interface{}{
		"user_id":  userID,
		"_orderby": "last_interaction desc",
	}
	sqlStr, args, err := builder.BuildSelect(sessionTable, where, []string{"session_id", "user_id", "user_name", "session_name", "last_interaction"})
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var sessions []model.ChatSession
	for rows.Next() {
		var (
			item     model.ChatSession
			userName sql.NullString
			name     sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.UserID, &userName, &name, &item.LastInteraction); err != nil {
			return nil, err
		}
		item.UserName = userName.String
		item.Name = name.String
		sessions = append(sessions, item)
	}
	return sessions, rows.Err()
}

func (r *SessionRepo) GetByID(ctx context.Context, sessionID string) (*model.ChatSession, error) {
	where := map[string]interface{}{"session_id": sessionID}
	sqlStr, args, err := builder.BuildSelect(sessionTable, where, []string{"session_id", "user_id", "user_name", "session_name", "chat_history", "last_interaction", "metadata"})
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, appErr.ErrNotFound
	}
	var (
		session  model.ChatSession
		userName sql.NullString
		name     sql.NullString
		history  sql.NullString
		metadata sql.NullString
	)
	if err := rows.Scan(&session.ID, &session.UserID, &userName, &name, &history, &session.LastInteraction, &metadata); err != nil {
		return nil, err
	}
	session.UserName = userName.String
	session.Name = name.String
	session.History = []model.ChatTurn{}
	if history.String != "" {
		if err := json.Unmarshal([]byte(history.String), &session.History); err != nil {
			return nil, err
		}
	}
	session.Metadata = map[string]interface{}{}
	if metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &session.Metadata); err != nil {
			return nil, err
		}
	}
	return &session, nil
}

func (r *SessionRepo) UpdateHistory(ctx context.Context, sessionID string, history []model.ChatTurn, now int64) error {
	encoded, err := encodeJSON(history, "[]")
	if err != nil {
		return err
	}
	return r.update(ctx, sessionID, map[string]interface{}{
		"chat_history":     encoded,
		"last_interaction": now,
	})
}

func (r *SessionRepo) UpdateMetadata(ctx context.Context, sessionID string, metadata map[string]interface{}, now int64) error {
	encoded, err := encodeJSON(metadata, "{}")
	if err != nil {
		return err
	}
	return r.update(ctx, sessionID, map[string]interface{}{
		"metadata":         encoded,
		"last_interaction": now,
	})
}

func (r *SessionRepo) Delete(ctx context.Context, sessionID string) error {
	where := map[string]interface{}{"session_id": sessionID}
	sqlStr, args, err := builder.BuildDelete(sessionTable, where)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func (r *SessionRepo) update(ctx context.Context, sessionID string, update map[string]interface{}) error {
	where := map[string]interface{}{"session_id": sessionID}
	sqlStr, args, err := builder.BuildUpdate(sessionTable, where, update)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func encodeJSON(v interface{}, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}
