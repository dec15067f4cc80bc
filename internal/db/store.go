package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a row does not exist or is not owned by
	// the requesting user.
	ErrNotFound = errors.New("not found")
	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = errors.New("email already registered")
)

// Store implements the persistence operations over a connection pool.
// Queries are written with ? placeholders and rebound per driver.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore builds a Store over the given pool.
func NewStore(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// CreateUser inserts a new account with an already-hashed password.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	user := &User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	q := s.db.Rebind(`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, user.ID.String(), user.Email, user.PasswordHash, user.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// GetUserByEmail fetches an account by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	q := s.db.Rebind(`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`)
	if err := s.db.GetContext(ctx, &user, q, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// CreateConversation starts a new thread for a user.
func (s *Store) CreateConversation(ctx context.Context, userID uuid.UUID, title string) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q := s.db.Rebind(`INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, conv.ID.String(), conv.UserID.String(), conv.Title, conv.CreatedAt, conv.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return conv, nil
}

// GetConversation fetches a thread, scoped to its owner.
func (s *Store) GetConversation(ctx context.Context, id, userID uuid.UUID) (*Conversation, error) {
	var conv Conversation
	q := s.db.Rebind(`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ? AND user_id = ?`)
	if err := s.db.GetContext(ctx, &conv, q, id.String(), userID.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations returns a user's threads, most recently active first,
// with per-thread message counts.
func (s *Store) ListConversations(ctx context.Context, userID uuid.UUID) ([]Conversation, error) {
	convs := []Conversation{}
	q := s.db.Rebind(`
		SELECT c.id, c.user_id, c.title, c.created_at, c.updated_at,
		       COUNT(m.id) AS message_count
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		WHERE c.user_id = ?
		GROUP BY c.id, c.user_id, c.title, c.created_at, c.updated_at
		ORDER BY c.updated_at DESC`)
	if err := s.db.SelectContext(ctx, &convs, q, userID.String()); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// DeleteConversation removes a thread and its messages, scoped to its owner.
func (s *Store) DeleteConversation(ctx context.Context, id, userID uuid.UUID) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		tx.Rebind(`DELETE FROM conversations WHERE id = ? AND user_id = ?`),
		id.String(), userID.String())
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		tx.Rebind(`DELETE FROM messages WHERE conversation_id = ?`),
		id.String()); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return tx.Commit()
}

// AppendMessage adds one turn to a thread and bumps its activity timestamp.
func (s *Store) AppendMessage(ctx context.Context, conversationID uuid.UUID, role, content string) (*Message, error) {
	msg := &Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	q := s.db.Rebind(`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, msg.ID.String(), msg.ConversationID.String(), msg.Role, msg.Content, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	touch := s.db.Rebind(`UPDATE conversations SET updated_at = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, touch, msg.CreatedAt, conversationID.String()); err != nil {
		s.logger.Warn("Failed to touch conversation timestamp",
			zap.String("conversation_id", conversationID.String()),
			zap.Error(err),
		)
	}
	return msg, nil
}

// ListMessages returns a thread's turns oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	msgs := []Message{}
	q := s.db.Rebind(`SELECT id, conversation_id, role, content, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at ASC`)
	if err := s.db.SelectContext(ctx, &msgs, q, conversationID.String()); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// RecentMessages returns the last limit turns, oldest first.
func (s *Store) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	msgs := []Message{}
	q := s.db.Rebind(`SELECT id, conversation_id, role, content, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &msgs, q, conversationID.String(), limit); err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	// Query returns newest first; callers want chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// SetTitleIfEmpty assigns a title to a thread that does not have one yet.
func (s *Store) SetTitleIfEmpty(ctx context.Context, conversationID uuid.UUID, title string) error {
	q := s.db.Rebind(`UPDATE conversations SET title = ? WHERE id = ? AND title = ''`)
	if _, err := s.db.ExecContext(ctx, q, title, conversationID.String()); err != nil {
		return fmt.Errorf("set conversation title: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
