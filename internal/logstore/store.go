// Package logstore persists conversation logs: one log per thread
// channel, appended to while the thread is open and sealed with closer
// metadata on close. It implements the log client contract the thread
// core relays through.
package logstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/threadmail/threadmail/internal/chat"
)

// MemoryDSN opens a private in-memory database, for tests.
const MemoryDSN = "file::memory:?cache=private"

// urlPrefix is the path segment between the viewer base URL and the
// log key.
const urlPrefix = "/logs"

// Summary is a per-user log listing entry.
type Summary struct {
	Key       string
	ChannelID int64
	Open      bool
	CreatedAt time.Time
	ClosedAt  time.Time
}

// LoggedMessage is one archived message inside a log.
type LoggedMessage struct {
	AuthorID   int64
	AuthorName string
	Content    string
	Type       string
	CreatedAt  time.Time
}

// ClosePayload seals a log on thread close.
type ClosePayload struct {
	ClosedAt time.Time

	// CloseMessage is empty for silent closes.
	CloseMessage string

	Closer chat.User
}

// Posted is the result of sealing a log: the key plus the archived
// messages, newest last.
type Posted struct {
	Key      string
	Messages []LoggedMessage
}

// Store is the SQLite-backed log store.
type Store struct {
	db      *sql.DB
	log     zerolog.Logger
	baseURL func() string
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithBaseURL supplies the log-viewer base URL used to build log links.
// It is consulted per call so settings changes take effect live.
func WithBaseURL(base func() string) Option {
	return func(s *Store) {
		if base != nil {
			s.baseURL = base
		}
	}
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open opens (creating if needed) the log database at path.
func Open(path string, logger zerolog.Logger, opts ...Option) (*Store, error) {
	dsn := path
	if path != MemoryDSN {
		dsn = fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open log database: %w", err)
	}
	if path == MemoryDSN {
		// A pooled connection would see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to log database: %w", err)
	}

	store := &Store{
		db:      db,
		log:     logger,
		baseURL: func() string { return "" },
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS logs (
			key           TEXT PRIMARY KEY,
			recipient_id  INTEGER NOT NULL,
			channel_id    INTEGER NOT NULL,
			creator_id    INTEGER NOT NULL,
			open          INTEGER NOT NULL DEFAULT 1,
			created_at    TEXT NOT NULL,
			closed_at     TEXT,
			close_message TEXT,
			closer_id     INTEGER,
			closer_name   TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS log_messages (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			log_key     TEXT NOT NULL,
			message_id  INTEGER NOT NULL,
			author_id   INTEGER NOT NULL,
			author_name TEXT NOT NULL,
			content     TEXT NOT NULL,
			type        TEXT NOT NULL DEFAULT 'thread_message',
			created_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS logs_recipient_idx ON logs(recipient_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS logs_channel_open_idx ON logs(channel_id, open)`,
		`CREATE INDEX IF NOT EXISTS log_messages_key_idx ON log_messages(log_key, id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize log schema: %w", err)
		}
	}
	return nil
}

// logURL composes the viewer link for a key. Empty when no base URL is
// configured.
func (s *Store) logURL(key string) string {
	base := strings.TrimRight(s.baseURL(), "/")
	if base == "" {
		return ""
	}
	return base + urlPrefix + "/" + key
}

// CreateLogEntry opens a log for a new thread channel and returns its
// viewer URL (or the bare key when no base URL is configured).
func (s *Store) CreateLogEntry(ctx context.Context, recipient *chat.User, channel *chat.Channel, creator *chat.User) (string, error) {
	key := uuid.New().String()
	creatorID := recipient.ID
	if creator != nil {
		creatorID = creator.ID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (key, recipient_id, channel_id, creator_id, open, created_at)
		VALUES (?, ?, ?, ?, 1, ?)`,
		key, recipient.ID, channel.ID, creatorID, s.now().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("failed to create log entry: %w", err)
	}
	if url := s.logURL(key); url != "" {
		return url, nil
	}
	return key, nil
}

// UserLogs lists a user's logs, oldest first.
func (s *Store) UserLogs(ctx context.Context, userID int64) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, channel_id, open, created_at, COALESCE(closed_at, '')
		FROM logs WHERE recipient_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user logs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			summary         Summary
			open            int
			created, closed string
		)
		if err := rows.Scan(&summary.Key, &summary.ChannelID, &open, &created, &closed); err != nil {
			return nil, fmt.Errorf("failed to scan log summary: %w", err)
		}
		summary.Open = open != 0
		summary.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		if closed != "" {
			summary.ClosedAt, _ = time.Parse(time.RFC3339Nano, closed)
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query user logs: %w", err)
	}
	return out, nil
}

// AppendLog archives one message into the open log for channelID.
// Messages arriving for a channel with no open log are dropped with a
// warning; archiving is best effort by contract.
func (s *Store) AppendLog(ctx context.Context, msg *chat.Message, channelID int64, msgType string) error {
	if msgType == "" {
		msgType = "thread_message"
	}
	key, err := s.openLogKey(ctx, channelID)
	if err != nil {
		return err
	}
	if key == "" {
		s.log.Warn().Int64("channel_id", channelID).Msg("no open log for channel, message not archived")
		return nil
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO log_messages (log_key, message_id, author_id, author_name, content, type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key, msg.ID, msg.Author.ID, msg.Author.String(), msg.Content, msgType,
		createdAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append log message: %w", err)
	}
	return nil
}

func (s *Store) openLogKey(ctx context.Context, channelID int64) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx,
		`SELECT key FROM logs WHERE channel_id = ? AND open = 1 ORDER BY created_at DESC LIMIT 1`,
		channelID).Scan(&key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve open log: %w", err)
	}
	return key, nil
}

// PostLog seals the open log for channelID with closer metadata and
// returns the key plus the archived messages. Returns (nil, nil) when
// the channel has no open log.
func (s *Store) PostLog(ctx context.Context, channelID int64, payload ClosePayload) (*Posted, error) {
	key, err := s.openLogKey(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, nil
	}

	closedAt := payload.ClosedAt
	if closedAt.IsZero() {
		closedAt = s.now()
	}

	var closeMessage any
	if payload.CloseMessage != "" {
		closeMessage = payload.CloseMessage
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE logs SET open = 0, closed_at = ?, close_message = ?, closer_id = ?, closer_name = ?
		WHERE key = ?`,
		closedAt.Format(time.RFC3339Nano), closeMessage,
		payload.Closer.ID, payload.Closer.String(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to seal log: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT author_id, author_name, content, type, created_at
		FROM log_messages WHERE log_key = ? ORDER BY id`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read archived messages: %w", err)
	}
	defer rows.Close()

	posted := &Posted{Key: key}
	for rows.Next() {
		var (
			msg     LoggedMessage
			created string
		)
		if err := rows.Scan(&msg.AuthorID, &msg.AuthorName, &msg.Content, &msg.Type, &created); err != nil {
			return nil, fmt.Errorf("failed to scan archived message: %w", err)
		}
		msg.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		posted.Messages = append(posted.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read archived messages: %w", err)
	}
	return posted, nil
}

// URL exposes the viewer link for a key, for callers that only hold
// the key.
func (s *Store) URL(key string) string {
	return s.logURL(key)
}
