// Package postgres reads users, conversations and read receipts from the
// chat database. The schema belongs to the REST service; this package only
// runs the few queries the gateway needs.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	_ "github.com/lib/pq"
)

var (
	ErrMessageNotFound   = fmt.Errorf("message not found: %w", core.ErrNotFound)
	ErrNotParticipant    = fmt.Errorf("you are not a participant in this conversation: %w", core.ErrForbidden)
	ErrOwnMessage        = fmt.Errorf("you cannot mark your own messages as read: %w", core.ErrForbidden)
	ErrWrongConversation = fmt.Errorf("message does not belong to this conversation: %w", core.ErrForbidden)
)

type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

type Store struct {
	db *sql.DB
}

// Open connects with lib/pq and pings once.
func Open(dsn string, conf Config) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(conf.MaxOpenConns)
	db.SetMaxIdleConns(conf.MaxIdleConns)
	db.SetConnMaxLifetime(conf.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), conf.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{db: db}, nil
}

func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) FindUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var (
		first, last string
		email       sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT "firstName", "lastName", "email" FROM "user" WHERE "id"::text = $1`,
		string(id),
	).Scan(&first, &last, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	name := first
	if last != "" {
		name += " " + last
	}
	return &domain.User{ID: id, Name: name, Email: email.String}, nil
}

// ListConversations orders by latest message, then by conversation update.
func (s *Store) ListConversations(ctx context.Context, user domain.UserID, limit int) ([]domain.ConversationID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c."id"::text
		FROM "conversation" c
		JOIN "participant" p ON p."conversationId" = c."id"
		LEFT JOIN LATERAL (
			SELECT MAX(m."createdAt") AS "lastAt" FROM "message" m WHERE m."conversationId" = c."id"
		) lm ON true
		WHERE p."userId"::text = $1 AND p."isBlocked" = false
		ORDER BY COALESCE(lm."lastAt", c."updatedAt") DESC
		LIMIT $2`,
		string(user), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []domain.ConversationID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, domain.ConversationID(id))
	}
	return out, rows.Err()
}

func (s *Store) IsParticipant(ctx context.Context, conv domain.ConversationID, user domain.UserID) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM "participant" WHERE "conversationId"::text = $1 AND "userId"::text = $2 AND "isBlocked" = false)`,
		string(conv), string(user),
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return ok, nil
}

// MarkConversationRead inserts a receipt for every message of the
// conversation the user has not sent and not yet read.
func (s *Store) MarkConversationRead(ctx context.Context, conv domain.ConversationID, user domain.UserID) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO "message_read" ("messageId", "userId")
		SELECT m."id", p."userId"
		FROM "message" m
		JOIN "participant" p ON p."conversationId" = m."conversationId" AND p."userId"::text = $2
		WHERE m."conversationId"::text = $1
		  AND m."senderId" <> p."userId"
		  AND m."isDeleted" = false
		ON CONFLICT ("messageId", "userId") DO NOTHING`,
		string(conv), string(user),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark conversation read: %w", err)
	}
	return res.RowsAffected()
}

// MarkMessageRead returns the time of the receipt, the existing one when the
// message was already read. Concurrent reads by the same user resolve to
// the first stored receipt.
func (s *Store) MarkMessageRead(ctx context.Context, conv domain.ConversationID, msg domain.MessageID, user domain.UserID) (time.Time, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to begin: %w", err)
	}
	defer tx.Rollback()

	var (
		sender        string
		msgConv       string
		isParticipant bool
	)
	err = tx.QueryRowContext(ctx, `
		SELECT m."senderId"::text,
		       m."conversationId"::text,
		       EXISTS (SELECT 1 FROM "participant" p WHERE p."conversationId" = m."conversationId" AND p."userId"::text = $2)
		FROM "message" m
		WHERE m."id"::text = $1`,
		string(msg), string(user),
	).Scan(&sender, &msgConv, &isParticipant)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrMessageNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load message: %w", err)
	}
	if msgConv != string(conv) {
		return time.Time{}, ErrWrongConversation
	}
	if !isParticipant {
		return time.Time{}, ErrNotParticipant
	}
	if sender == string(user) {
		return time.Time{}, ErrOwnMessage
	}

	var readAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT "readAt" FROM "message_read" WHERE "messageId"::text = $1 AND "userId"::text = $2`,
		string(msg), string(user),
	).Scan(&readAt)
	switch {
	case err == nil:
		return readAt, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return time.Time{}, fmt.Errorf("failed to load receipt: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO "message_read" ("messageId", "userId") VALUES ($1::uuid, $2::uuid)
		 ON CONFLICT ("messageId", "userId") DO UPDATE SET "readAt" = "message_read"."readAt"
		 RETURNING "readAt"`,
		string(msg), string(user),
	).Scan(&readAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to insert receipt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return time.Time{}, fmt.Errorf("failed to commit: %w", err)
	}
	return readAt, nil
}

// UpdateStatus writes the isOnline flag and lastSeen of the user row.
func (s *Store) UpdateStatus(ctx context.Context, user domain.UserID, status domain.PresenceStatus, lastSeen time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE "user" SET "isOnline" = $2, "lastSeen" = $3, "updatedAt" = now() WHERE "id"::text = $1`,
		string(user), status == domain.StatusOnline, lastSeen,
	)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}
