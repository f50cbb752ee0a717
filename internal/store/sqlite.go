package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	if !strings.Contains(dataSourceName, "?") {
		dataSourceName += "?_busy_timeout=5000&_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping is used by the health endpoint.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        external_user_id TEXT UNIQUE NOT NULL,
        email TEXT UNIQUE,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS chats (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        title TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );
    CREATE INDEX IF NOT EXISTS idx_chats_user_created ON chats (user_id, created_at);

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        chat_id TEXT NOT NULL,
        sender TEXT NOT NULL CHECK (sender IN ('user', 'model')),
        content TEXT NOT NULL,
        timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (chat_id) REFERENCES chats (id)
    );

    -- Times are unix milliseconds so range filters compare numerically.
    CREATE TABLE IF NOT EXISTS recommendation_cache (
        identity_kind TEXT NOT NULL,
        identity TEXT NOT NULL,
        tier TEXT NOT NULL,
        category TEXT NOT NULL DEFAULT '',
        items_json TEXT NOT NULL,
        expires_at INTEGER NOT NULL,
        updated_at INTEGER NOT NULL,
        PRIMARY KEY (identity_kind, identity, tier, category)
    );
    CREATE INDEX IF NOT EXISTS idx_recommendation_cache_expires ON recommendation_cache (expires_at);

    CREATE TABLE IF NOT EXISTS click_logs (
        id TEXT PRIMARY KEY, -- UUID
        original_url TEXT NOT NULL,
        token TEXT NOT NULL,
        params_json TEXT NOT NULL,
        redirect_url TEXT NOT NULL,
        user_id TEXT,
        user_agent TEXT,
        ip_address TEXT,
        created_at INTEGER NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_click_logs_user_created ON click_logs (user_id, created_at);
    CREATE INDEX IF NOT EXISTS idx_click_logs_created ON click_logs (created_at);
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods
func (s *SQLiteStore) GetUserByExternalID(ctx context.Context, externalUserID string) (*User, error) {
	return s.getUser(ctx, "external_user_id = ?", externalUserID)
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (*User, error) {
	var user User
	var email sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT id, external_user_id, email, created_at FROM users WHERE "+where, arg).
		Scan(&user.ID, &user.ExternalUserID, &email, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	user.Email = email.String
	return &user, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, externalUserID, email string) (*User, error) {
	var emailArg sql.NullString
	if e := strings.ToLower(strings.TrimSpace(email)); e != "" {
		emailArg = sql.NullString{String: e, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, "INSERT INTO users (external_user_id, email, created_at) VALUES (?, ?, ?)",
		externalUserID, emailArg, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return s.GetUserByExternalID(ctx, externalUserID)
}

// GetOrCreateUser returns the user with externalUserID, creating it if
// needed. A known user without an email gets the given one attached.
func (s *SQLiteStore) GetOrCreateUser(ctx context.Context, externalUserID, email string) (*User, error) {
	user, err := s.GetUserByExternalID(ctx, externalUserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return s.CreateUser(ctx, externalUserID, email)
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if user.Email == "" && email != "" {
		if _, err := s.db.ExecContext(ctx, "UPDATE users SET email = ? WHERE id = ?", email, user.ID); err != nil {
			return nil, fmt.Errorf("failed to attach email to user: %w", err)
		}
		user.Email = email
	}
	return user, nil
}

// Chat methods
func (s *SQLiteStore) CreateChat(ctx context.Context, userID int64, title *string) (*Chat, error) {
	chatID := uuid.NewString()
	now := s.now()
	_, err := s.db.ExecContext(ctx, "INSERT INTO chats (id, user_id, title, created_at) VALUES (?, ?, ?, ?)",
		chatID, userID, title, now)
	if err != nil {
		return nil, fmt.Errorf("failed to execute chat insert: %w", err)
	}
	return &Chat{ID: chatID, UserID: userID, Title: title, CreatedAt: now}, nil
}

// GetChatByID returns nil when the chat does not exist or belongs to
// another user.
func (s *SQLiteStore) GetChatByID(ctx context.Context, chatID string, userID int64) (*Chat, error) {
	var chat Chat
	var title sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT id, user_id, title, created_at FROM chats WHERE id = ? AND user_id = ?", chatID, userID).
		Scan(&chat.ID, &chat.UserID, &title, &chat.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query chat: %w", err)
	}
	if title.Valid {
		chat.Title = &title.String
	}
	return &chat, nil
}

// GetRecentChatsByUserID returns at most n chats, newest first.
func (s *SQLiteStore) GetRecentChatsByUserID(ctx context.Context, userID int64, n int) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, title, created_at FROM chats WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?",
		userID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var chat Chat
		var title sql.NullString
		if err := rows.Scan(&chat.ID, &chat.UserID, &title, &chat.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		if title.Valid {
			chat.Title = &title.String
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

// Message methods
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	msg.ID = uuid.NewString()
	msg.Timestamp = s.now()

	_, err := s.db.ExecContext(ctx, "INSERT INTO messages (id, chat_id, sender, content, timestamp) VALUES (?, ?, ?, ?, ?)",
		msg.ID, msg.ChatID, msg.Sender, msg.Content, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	return nil
}

// GetMessagesByChatID returns the newest limit messages of a chat, oldest
// first.
func (s *SQLiteStore) GetMessagesByChatID(ctx context.Context, chatID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, chat_id, sender, content, timestamp FROM messages WHERE chat_id = ? ORDER BY timestamp DESC, rowid DESC LIMIT ?",
		chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Sender, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}
