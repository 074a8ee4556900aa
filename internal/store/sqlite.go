package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
var ErrDuplicate = errors.New("record already exists")

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dataSourceName. Foreign keys are
// enabled on every connection so chat deletion cascades to messages and
// feedback.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", withPragmas(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        email TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        created_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS chats (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        title TEXT NOT NULL DEFAULT 'New Chat',
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL,
        FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
    );
    CREATE INDEX IF NOT EXISTS idx_chats_user ON chats (user_id, updated_at);

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        chat_id TEXT NOT NULL,
        content TEXT NOT NULL,
        is_ai_response BOOLEAN NOT NULL DEFAULT FALSE,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (chat_id) REFERENCES chats (id) ON DELETE CASCADE
    );
    CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages (chat_id, created_at);

    CREATE TABLE IF NOT EXISTS feedback (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        message_id TEXT UNIQUE NOT NULL,
        rating INTEGER NOT NULL,
        feedback_type TEXT NOT NULL,
        comment TEXT,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (message_id) REFERENCES messages (id) ON DELETE CASCADE
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// User methods
func (s *SQLiteStore) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, "INSERT INTO users (email, password_hash, created_at) VALUES (?, ?, ?)", email, passwordHash, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read user id: %w", err)
	}
	return &User{ID: id, Email: email, PasswordHash: passwordHash, CreatedAt: now}, nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, "SELECT id, email, password_hash, created_at FROM users WHERE email = ?", email))
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, "SELECT id, email, password_hash, created_at FROM users WHERE id = ?", id))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// Chat methods
func (s *SQLiteStore) CreateChat(ctx context.Context, userID int64, title string) (*Chat, error) {
	if title == "" {
		title = DefaultChatTitle
	}
	chat := &Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	chat.UpdatedAt = chat.CreatedAt

	_, err := s.db.ExecContext(ctx, "INSERT INTO chats (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		chat.ID, chat.UserID, chat.Title, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to execute chat insert: %w", err)
	}
	return chat, nil
}

// GetChatByID returns nil, nil when the chat does not exist or belongs to
// another user.
func (s *SQLiteStore) GetChatByID(ctx context.Context, chatID string, userID int64) (*Chat, error) {
	var chat Chat
	err := s.db.QueryRowContext(ctx, "SELECT id, user_id, title, created_at, updated_at FROM chats WHERE id = ? AND user_id = ?", chatID, userID).
		Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return &chat, nil
}

func (s *SQLiteStore) GetChatsByUserID(ctx context.Context, userID int64) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, user_id, title, created_at, updated_at FROM chats WHERE user_id = ? ORDER BY updated_at DESC, rowid DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	chats := []Chat{}
	for rows.Next() {
		var chat Chat
		if err := rows.Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chats: %w", err)
	}
	return chats, nil
}

// UpdateChatTitle reports false when no chat with that id is owned by userID.
func (s *SQLiteStore) UpdateChatTitle(ctx context.Context, chatID string, userID int64, title string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE chats SET title = ?, updated_at = ? WHERE id = ? AND user_id = ?", title, time.Now().UTC(), chatID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to execute chat title update: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID string, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE id = ? AND user_id = ?", chatID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete chat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

// DeleteChatsByUserID removes every chat owned by userID together with their
// messages and feedback, and returns the number of chats removed.
func (s *SQLiteStore) DeleteChatsByUserID(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chats: %w", err)
	}
	return res.RowsAffected()
}

// Message methods

// CreateMessage assigns the message id and timestamp, inserts it and bumps
// the owning chat's updated_at in one transaction.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin message insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, "INSERT INTO messages (id, chat_id, content, is_ai_response, created_at) VALUES (?, ?, ?, ?, ?)",
		msg.ID, msg.ChatID, msg.Content, msg.IsAIResponse, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "UPDATE chats SET updated_at = ? WHERE id = ?", msg.CreatedAt, msg.ChatID); err != nil {
		return fmt.Errorf("failed to touch chat: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message insert: %w", err)
	}
	return nil
}

// GetMessagesByChatID returns the chat's messages in conversation order.
func (s *SQLiteStore) GetMessagesByChatID(ctx context.Context, chatID string) ([]Message, error) {
	query := "SELECT id, chat_id, content, is_ai_response, created_at FROM messages WHERE chat_id = ? ORDER BY created_at ASC, rowid ASC"
	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Content, &msg.IsAIResponse, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// GetMessageWithOwner returns nil, nil when the message does not exist.
func (s *SQLiteStore) GetMessageWithOwner(ctx context.Context, messageID string) (*MessageOwner, error) {
	var mo MessageOwner
	err := s.db.QueryRowContext(ctx, `
        SELECT m.id, m.chat_id, m.content, m.is_ai_response, m.created_at, c.user_id
        FROM messages m
        JOIN chats c ON c.id = m.chat_id
        WHERE m.id = ?
    `, messageID).Scan(&mo.ID, &mo.ChatID, &mo.Content, &mo.IsAIResponse, &mo.CreatedAt, &mo.OwnerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &mo, nil
}

// Feedback methods

// UpsertFeedback stores the feedback for fb.MessageID, replacing rating,
// type and comment of an existing record. created_at of the first submission is kept.
func (s *SQLiteStore) UpsertFeedback(ctx context.Context, fb *Feedback) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO feedback (message_id, rating, feedback_type, comment, created_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (message_id) DO UPDATE SET
            rating = excluded.rating,
            feedback_type = excluded.feedback_type,
            comment = excluded.comment
    `, fb.MessageID, fb.Rating, fb.FeedbackType, fb.Comment, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert feedback: %w", err)
	}

	stored, err := s.GetFeedbackByMessageID(ctx, fb.MessageID)
	if err != nil {
		return err
	}
	if stored == nil {
		return fmt.Errorf("feedback for message %s vanished after upsert", fb.MessageID)
	}
	*fb = *stored
	return nil
}

func (s *SQLiteStore) GetFeedbackByMessageID(ctx context.Context, messageID string) (*Feedback, error) {
	var fb Feedback
	var comment sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT id, message_id, rating, feedback_type, comment, created_at FROM feedback WHERE message_id = ?", messageID).
		Scan(&fb.ID, &fb.MessageID, &fb.Rating, &fb.FeedbackType, &comment, &fb.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get feedback: %w", err)
	}
	if comment.Valid {
		fb.Comment = &comment.String
	}
	return &fb, nil
}

// CountFeedback returns the number of feedback rows attached to messageID.
func (s *SQLiteStore) CountFeedback(ctx context.Context, messageID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feedback WHERE message_id = ?", messageID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count feedback: %w", err)
	}
	return n, nil
}
