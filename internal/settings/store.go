package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// MemoryDSN opens a private in-memory database, for tests.
const MemoryDSN = "file::memory:?cache=private"

// Store is the runtime settings store. The in-memory cache holds
// storage-form values and is authoritative between flushes; Update
// persists dirty state to SQLite.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	mu    sync.Mutex
	cache map[string]string
	dirty bool
}

// Open opens (creating if needed) the settings database at path and
// loads the cache. Pass MemoryDSN for an ephemeral store.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	dsn := path
	if path != MemoryDSN {
		dsn = fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database: %w", err)
	}
	if path == MemoryDSN {
		// A pooled connection would see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to settings database: %w", err)
	}

	store := &Store{
		db:    db,
		log:   logger,
		cache: make(map[string]string),
	}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.Load(context.Background()); err != nil {
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
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to initialize settings schema: %w", err)
	}
	return nil
}

// Load replaces the cache with the persisted state. Keys absent from
// the schema are ignored.
func (s *Store) Load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	defer rows.Close()

	loaded := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("failed to scan setting: %w", err)
		}
		if _, ok := Schema[key]; !ok {
			s.log.Warn().Str("key", key).Msg("ignoring unknown settings key")
			continue
		}
		loaded[key] = value
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	s.mu.Lock()
	s.cache = loaded
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// Update flushes the cache to the database. A clean cache is a no-op.
func (s *Store) Update(ctx context.Context) error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]string, len(s.cache))
	for k, v := range s.cache {
		snapshot[k] = v
	}
	s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin settings flush: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM settings`); err != nil {
		return fmt.Errorf("failed to flush settings: %w", err)
	}
	for key, value := range snapshot {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value) VALUES (?, ?)`, key, value); err != nil {
			return fmt.Errorf("failed to flush setting %q: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settings flush: %w", err)
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// Set validates raw through the key's converter and stores it.
func (s *Store) Set(key, raw string) error {
	entry, ok := Schema[key]
	if !ok {
		return &InvalidValueError{Key: key, Reason: "unknown key"}
	}
	if !entry.Settable {
		return &InvalidValueError{Key: key, Reason: "key is not settable"}
	}
	stored, err := entry.Conv.Sanitize(raw)
	if err != nil {
		return &InvalidValueError{Key: key, Reason: err.Error()}
	}
	s.setRaw(key, stored)
	return nil
}

func (s *Store) setRaw(key, stored string) {
	s.mu.Lock()
	s.cache[key] = stored
	s.dirty = true
	s.mu.Unlock()
}

// Remove drops a key from the cache. Returns true if it was present.
func (s *Store) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache[key]; !ok {
		return false
	}
	delete(s.cache, key)
	s.dirty = true
	return true
}

// IsSet reports whether the key has an explicit stored value.
func (s *Store) IsSet(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cache[key]
	return ok
}

// raw returns the stored form of a key, falling back to the schema
// default, with ok reporting whether any value exists at all.
func (s *Store) raw(key string) (string, bool) {
	s.mu.Lock()
	stored, ok := s.cache[key]
	s.mu.Unlock()
	if ok {
		return stored, true
	}
	entry, known := Schema[key]
	if known && entry.Default != "" {
		return entry.Default, true
	}
	return "", false
}

// decode runs the key's converter over its current value, purging the
// key and substituting the default when the stored value is malformed.
func (s *Store) decode(key string) (any, bool) {
	entry, known := Schema[key]
	if !known {
		return nil, false
	}

	s.mu.Lock()
	stored, explicit := s.cache[key]
	s.mu.Unlock()

	if explicit {
		if v, ok := entry.Conv.Decode(stored); ok {
			return v, true
		}
		s.log.Error().Str("key", key).Str("value", stored).
			Msg("malformed settings value removed")
		s.Remove(key)
	}
	if entry.Default == "" {
		return nil, false
	}
	v, ok := entry.Conv.Decode(entry.Default)
	return v, ok
}

// String returns the key's string value, or "" when unset.
func (s *Store) String(key string) string {
	v, ok := s.decode(key)
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// StringOr returns the key's string value, or fallback when unset.
func (s *Store) StringOr(key, fallback string) string {
	v, ok := s.decode(key)
	if !ok {
		return fallback
	}
	str, _ := v.(string)
	if str == "" {
		return fallback
	}
	return str
}

// Bool returns the key's boolean value, defaulting to false.
func (s *Store) Bool(key string) bool {
	v, ok := s.decode(key)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Int64 returns the key's integer value and whether one is configured.
func (s *Store) Int64(key string) (int64, bool) {
	v, ok := s.decode(key)
	if !ok {
		return 0, false
	}
	n, _ := v.(int64)
	return n, true
}

// Color returns the key's color as an RGB int, or fallback when unset.
func (s *Store) Color(key string, fallback int) int {
	v, ok := s.decode(key)
	if !ok {
		return fallback
	}
	n, _ := v.(int)
	return n
}

// Duration returns the key's duration and whether a usable value is
// configured. A malformed stored duration is purged (fail-soft) and
// reported as "not configured".
func (s *Store) Duration(key string) (time.Duration, bool) {
	s.mu.Lock()
	_, explicit := s.cache[key]
	s.mu.Unlock()
	if !explicit {
		return 0, false
	}
	v, ok := s.decode(key)
	if !ok {
		return 0, false
	}
	d, _ := v.(time.Duration)
	if d <= 0 {
		return 0, false
	}
	return d, true
}

// Emoji returns the key's emoji value, or fallback when unset.
func (s *Store) Emoji(key, fallback string) string {
	v, ok := s.decode(key)
	if !ok {
		return fallback
	}
	e, _ := v.(string)
	if e == "" {
		return fallback
	}
	return e
}

// mentionMap reads one of the per-thread mention views.
func (s *Store) mentionMap(key string) map[string][]string {
	out := make(map[string][]string)
	stored, ok := s.raw(key)
	if !ok {
		return out
	}
	if err := json.Unmarshal([]byte(stored), &out); err != nil {
		s.log.Error().Str("key", key).Err(err).
			Msg("malformed settings value removed")
		s.Remove(key)
		return make(map[string][]string)
	}
	return out
}

func (s *Store) writeMentionMap(key string, m map[string][]string) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	s.setRaw(key, string(data))
}

func threadKey(threadID int64) string {
	return strconv.FormatInt(threadID, 10)
}

// Subscribers returns the persistent mention list for a thread.
func (s *Store) Subscribers(threadID int64) []string {
	return s.mentionMap(KeySubscriptions)[threadKey(threadID)]
}

// Subscribe adds a mention to a thread's persistent list. Returns
// false if it was already present.
func (s *Store) Subscribe(threadID int64, mention string) bool {
	m := s.mentionMap(KeySubscriptions)
	key := threadKey(threadID)
	for _, existing := range m[key] {
		if existing == mention {
			return false
		}
	}
	m[key] = append(m[key], mention)
	s.writeMentionMap(KeySubscriptions, m)
	return true
}

// Unsubscribe removes a mention from a thread's persistent list.
func (s *Store) Unsubscribe(threadID int64, mention string) bool {
	m := s.mentionMap(KeySubscriptions)
	key := threadKey(threadID)
	for i, existing := range m[key] {
		if existing == mention {
			m[key] = append(m[key][:i], m[key][i+1:]...)
			if len(m[key]) == 0 {
				delete(m, key)
			}
			s.writeMentionMap(KeySubscriptions, m)
			return true
		}
	}
	return false
}

// DropSubscriptions removes a thread's persistent mention list.
func (s *Store) DropSubscriptions(threadID int64) bool {
	m := s.mentionMap(KeySubscriptions)
	key := threadKey(threadID)
	if _, ok := m[key]; !ok {
		return false
	}
	delete(m, key)
	s.writeMentionMap(KeySubscriptions, m)
	return true
}

// AddSquadMember adds a one-shot mention for a thread's next relayed
// recipient message.
func (s *Store) AddSquadMember(threadID int64, mention string) bool {
	m := s.mentionMap(KeyNotificationSquad)
	key := threadKey(threadID)
	for _, existing := range m[key] {
		if existing == mention {
			return false
		}
	}
	m[key] = append(m[key], mention)
	s.writeMentionMap(KeyNotificationSquad, m)
	return true
}

// RemoveSquadMember withdraws a one-shot mention before it fires.
func (s *Store) RemoveSquadMember(threadID int64, mention string) bool {
	m := s.mentionMap(KeyNotificationSquad)
	key := threadKey(threadID)
	for i, existing := range m[key] {
		if existing == mention {
			m[key] = append(m[key][:i], m[key][i+1:]...)
			if len(m[key]) == 0 {
				delete(m, key)
			}
			s.writeMentionMap(KeyNotificationSquad, m)
			return true
		}
	}
	return false
}

// TakeSquad consumes and returns a thread's one-shot mention list.
// Each entry fires at most once.
func (s *Store) TakeSquad(threadID int64) []string {
	m := s.mentionMap(KeyNotificationSquad)
	key := threadKey(threadID)
	members, ok := m[key]
	if !ok {
		return nil
	}
	delete(m, key)
	s.writeMentionMap(KeyNotificationSquad, m)
	return members
}

// DropSquad removes a thread's one-shot mention list without firing.
func (s *Store) DropSquad(threadID int64) bool {
	m := s.mentionMap(KeyNotificationSquad)
	key := threadKey(threadID)
	if _, ok := m[key]; !ok {
		return false
	}
	delete(m, key)
	s.writeMentionMap(KeyNotificationSquad, m)
	return true
}

// Closure is a persisted pending-close record, keyed by thread id.
type Closure struct {
	// Time is when the close fires.
	Time time.Time `json:"time"`

	// CloserID identifies who scheduled the close.
	CloserID int64 `json:"closer_id"`

	Silent        bool   `json:"silent"`
	DeleteChannel bool   `json:"delete_channel"`
	Message       string `json:"message,omitempty"`
	AutoClose     bool   `json:"auto_close"`
}

func (s *Store) closureMap() map[string]Closure {
	out := make(map[string]Closure)
	stored, ok := s.raw(KeyClosures)
	if !ok {
		return out
	}
	if err := json.Unmarshal([]byte(stored), &out); err != nil {
		s.log.Error().Str("key", KeyClosures).Err(err).
			Msg("malformed settings value removed")
		s.Remove(KeyClosures)
		return make(map[string]Closure)
	}
	return out
}

func (s *Store) writeClosureMap(m map[string]Closure) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	s.setRaw(KeyClosures, string(data))
}

// Closure returns a thread's pending closure record, if any.
func (s *Store) Closure(threadID int64) (Closure, bool) {
	c, ok := s.closureMap()[threadKey(threadID)]
	return c, ok
}

// SetClosure records a thread's pending closure.
func (s *Store) SetClosure(threadID int64, c Closure) {
	m := s.closureMap()
	m[threadKey(threadID)] = c
	s.writeClosureMap(m)
}

// DeleteClosure removes a thread's pending closure record. Returns
// true if a record existed.
func (s *Store) DeleteClosure(threadID int64) bool {
	m := s.closureMap()
	key := threadKey(threadID)
	if _, ok := m[key]; !ok {
		return false
	}
	delete(m, key)
	s.writeClosureMap(m)
	return true
}

// Closures returns all pending closure records keyed by thread id.
func (s *Store) Closures() map[int64]Closure {
	out := make(map[int64]Closure)
	for key, c := range s.closureMap() {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		out[id] = c
	}
	return out
}

// Keys returns the schema keys in no particular order, for the CLI.
func Keys() []string {
	out := make([]string, 0, len(Schema))
	for key := range Schema {
		out = append(out, key)
	}
	return out
}
