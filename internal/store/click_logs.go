package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

func (s *SQLiteStore) InsertClickLog(ctx context.Context, entry *ClickLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	params := entry.Params
	if params == nil {
		params = map[string]string{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode click params: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO click_logs (id, original_url, token, params_json, redirect_url, user_id, user_agent, ip_address, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.OriginalURL, entry.Token, string(paramsJSON), entry.RedirectURL,
		nullString(entry.UserID), nullString(entry.UserAgent), nullString(entry.IPAddress),
		entry.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert click log: %w", err)
	}
	return nil
}

// FindClickLogsByUser returns the user's most recent clicks, newest first.
func (s *SQLiteStore) FindClickLogsByUser(ctx context.Context, userID string, limit int) ([]ClickLogEntry, error) {
	return s.queryClickLogs(ctx, "WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?", userID, limit)
}

// FindClickLogsSince returns clicks created at or after since, newest first.
func (s *SQLiteStore) FindClickLogsSince(ctx context.Context, since time.Time, limit int) ([]ClickLogEntry, error) {
	return s.queryClickLogs(ctx, "WHERE created_at >= ? ORDER BY created_at DESC, rowid DESC LIMIT ?", since.UnixMilli(), limit)
}

func (s *SQLiteStore) queryClickLogs(ctx context.Context, tail string, args ...any) ([]ClickLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, original_url, token, params_json, redirect_url, user_id, user_agent, ip_address, created_at
        FROM click_logs `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query click logs: %w", err)
	}
	defer rows.Close()

	var entries []ClickLogEntry
	for rows.Next() {
		var (
			e                          ClickLogEntry
			paramsJSON                 string
			userID, userAgent, address sql.NullString
			createdAt                  int64
		)
		if err := rows.Scan(&e.ID, &e.OriginalURL, &e.Token, &paramsJSON, &e.RedirectURL,
			&userID, &userAgent, &address, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan click log row: %w", err)
		}
		if err := json.Unmarshal([]byte(paramsJSON), &e.Params); err != nil {
			return nil, fmt.Errorf("failed to decode click params for %s: %w", e.ID, err)
		}
		e.UserID = userID.String
		e.UserAgent = userAgent.String
		e.IPAddress = address.String
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
