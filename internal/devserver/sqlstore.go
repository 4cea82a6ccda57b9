package devserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"chatwire/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id          TEXT PRIMARY KEY,
	request_id  TEXT NOT NULL,
	customer_id TEXT NOT NULL,
	expert_id   TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	UNIQUE (request_id, expert_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id     TEXT NOT NULL REFERENCES rooms(id),
	sender_type TEXT NOT NULL,
	sender_id   TEXT NOT NULL,
	body        TEXT NOT NULL DEFAULT '',
	file_path   TEXT NOT NULL DEFAULT '',
	is_read     INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, id);
`

// writeOperation is one queued mutation with its completion signal.
type writeOperation struct {
	operation func(db *sql.DB) error
	result    chan error
}

// SQLStore persists rooms and messages in SQLite. All writes funnel
// through a single goroutine; reads go straight to the pool, which WAL
// mode serves concurrently.
type SQLStore struct {
	db     *sql.DB
	writes chan writeOperation
	done   chan struct{}
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	log    zerolog.Logger
}

const writeTimeout = 10 * time.Second

// NewSQLStore opens (creating if needed) the database at path. Use
// ":memory:" for tests.
func NewSQLStore(path string, logger zerolog.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &SQLStore{
		db:     db,
		writes: make(chan writeOperation, 100),
		done:   make(chan struct{}),
		log:    logger.With().Str("component", "sqlstore").Logger(),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

func (s *SQLStore) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writes:
			op.result <- op.operation(s.db)
		case <-s.done:
			return
		}
	}
}

func (s *SQLStore) executeWrite(op func(db *sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writes <- writeOperation{operation: op, result: result}:
		return <-result
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-s.done:
		return ErrStoreClosed
	}
}

// CreateRoom inserts a room for the (request, expert) pair. A
// concurrent duplicate create returns the existing room rather than an
// error; room identity is the pair, not the caller.
func (s *SQLStore) CreateRoom(ctx context.Context, requestID, customerID, expertID string) (types.ChatRoom, error) {
	room := types.ChatRoom{
		RoomID:     uuid.New().String(),
		RequestID:  requestID,
		CustomerID: customerID,
		ExpertID:   expertID,
	}

	err := s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO rooms (id, request_id, customer_id, expert_id, created_at) VALUES (?, ?, ?, ?, ?)`,
			room.RoomID, requestID, customerID, expertID, time.Now().UTC(),
		)
		return err
	})
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return s.LookupRoom(ctx, requestID, expertID)
		}
		return types.ChatRoom{}, fmt.Errorf("create room: %w", err)
	}

	s.log.Info().Str("room_id", room.RoomID).Str("request_id", requestID).Msg("room created")
	return room, nil
}

// LookupRoom finds the room for a quote request and expert seat,
// including the last-message summary fields.
func (s *SQLStore) LookupRoom(ctx context.Context, requestID, expertID string) (types.ChatRoom, error) {
	return s.queryRoom(ctx, `WHERE r.request_id = ? AND r.expert_id = ?`, requestID, expertID)
}

// GetRoom finds a room by id.
func (s *SQLStore) GetRoom(ctx context.Context, roomID string) (types.ChatRoom, error) {
	return s.queryRoom(ctx, `WHERE r.id = ?`, roomID)
}

func (s *SQLStore) queryRoom(ctx context.Context, where string, args ...any) (types.ChatRoom, error) {
	query := `
		SELECT r.id, r.request_id, r.customer_id, r.expert_id,
		       COALESCE((SELECT m.body FROM messages m WHERE m.room_id = r.id ORDER BY m.id DESC LIMIT 1), ''),
		       (SELECT m.created_at FROM messages m WHERE m.room_id = r.id ORDER BY m.id DESC LIMIT 1),
		       (SELECT COUNT(*) FROM messages m WHERE m.room_id = r.id AND m.is_read = 0)
		FROM rooms r ` + where

	var room types.ChatRoom
	var lastAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&room.RoomID,
		&room.RequestID,
		&room.CustomerID,
		&room.ExpertID,
		&room.LastMessagePreview,
		&lastAt,
		&room.UnreadCount,
	)
	if err == sql.ErrNoRows {
		return types.ChatRoom{}, ErrRoomNotFound
	}
	if err != nil {
		return types.ChatRoom{}, fmt.Errorf("query room: %w", err)
	}
	if lastAt.Valid {
		room.LastMessageAt = lastAt.Time
	}
	return room, nil
}

// InsertMessage persists a message and returns it with the assigned id
// and server timestamp.
func (s *SQLStore) InsertMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	err := s.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO messages (room_id, sender_type, sender_id, body, file_path, is_read, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			msg.RoomID, msg.SenderRole, msg.SenderID, msg.Body, msg.AttachmentRef, msg.IsRead, msg.CreatedAt,
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		msg.ID = types.MessageID(id)
		return nil
	})
	if err != nil {
		return types.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

const messageColumns = `id, room_id, sender_type, sender_id, body, file_path, is_read, created_at`

// ListMessages returns one history page ascending. A zero before
// cursor yields the newest page; otherwise only messages older than
// the cursor.
func (s *SQLStore) ListMessages(ctx context.Context, roomID string, before types.MessageID, limit int) ([]types.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE room_id = ?`
	args := []any{roomID}
	if before > 0 {
		query += ` AND id < ?`
		args = append(args, int64(before))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	msgs, err := s.queryMessages(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	// Newest-N selection comes back descending; history pages are
	// served ascending.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MessagesAfter returns messages newer than the cursor, ascending.
// Used for replay when a client reconnects with a resume cursor.
func (s *SQLStore) MessagesAfter(ctx context.Context, roomID string, after types.MessageID) ([]types.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE room_id = ? AND id > ? ORDER BY id ASC`
	return s.queryMessages(ctx, query, roomID, int64(after))
}

func (s *SQLStore) queryMessages(ctx context.Context, query string, args ...any) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []types.Message
	for rows.Next() {
		var msg types.Message
		err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.SenderRole,
			&msg.SenderID,
			&msg.Body,
			&msg.AttachmentRef,
			&msg.IsRead,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// MarkRead flips the given messages to read, skipping the reader's own
// messages and anything already read. Returns the ids that actually
// changed, which are the ones worth broadcasting.
func (s *SQLStore) MarkRead(ctx context.Context, roomID string, ids []types.MessageID, readerID string) ([]types.MessageID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := []any{roomID, readerID}
	for _, id := range ids {
		args = append(args, int64(id))
	}

	var flipped []types.MessageID
	err := s.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM messages WHERE room_id = ? AND is_read = 0 AND sender_id <> ? AND id IN (`+placeholders+`)`,
			args...,
		)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			flipped = append(flipped, types.MessageID(id))
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(flipped) == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE messages SET is_read = 1 WHERE room_id = ? AND is_read = 0 AND sender_id <> ? AND id IN (`+placeholders+`)`,
			args...,
		)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return flipped, nil
}

// HealthCheck validates connectivity.
func (s *SQLStore) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Close drains the write loop and closes the pool.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}
