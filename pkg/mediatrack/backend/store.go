package backend

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/mediatrack/pkg/mediatrack/hit"
)

// HitStore persists hits of downloaded content to SQLite, grouped by
// session.
type HitStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewHitStore opens or creates a hit store.
// The path should be a file path (e.g., "./media.db") or ":memory:" for testing.
func NewHitStore(path string) (*HitStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS hits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key TEXT NOT NULL,
			tracker_id TEXT NOT NULL,
			hit_type TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			data BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_hits_session_key
		ON hits(session_key)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &HitStore{db: db}, nil
}

// Append stores h at the end of its session.
func (s *HitStore) Append(h hit.Hit) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode hit: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	_, err = s.db.Exec(`
		INSERT INTO hits (session_key, tracker_id, hit_type, timestamp, data)
		VALUES (?, ?, ?, ?, ?)
	`, h.SessionKey, h.TrackerID, string(h.Type), h.Timestamp.UTC().Format(time.RFC3339Nano), data)
	if err != nil {
		return fmt.Errorf("append hit: %w", err)
	}
	return nil
}

// Session returns the hits of sessionKey in the order they were appended.
func (s *HitStore) Session(sessionKey string) ([]hit.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`
		SELECT tracker_id, data FROM hits
		WHERE session_key = ?
		ORDER BY id
	`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	defer rows.Close()

	var hits []hit.Hit
	for rows.Next() {
		var trackerID string
		var data []byte
		if err := rows.Scan(&trackerID, &data); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}

		var h hit.Hit
		if err := json.Unmarshal(data, &h); err != nil {
			return nil, fmt.Errorf("decode hit: %w", err)
		}
		h.TrackerID = trackerID
		h.SessionKey = sessionKey
		h.Downloaded = true
		hits = append(hits, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	return hits, nil
}

// ClosedSessions returns the keys of sessions that contain a
// sessionComplete or sessionEnd hit, oldest first.
func (s *HitStore) ClosedSessions() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`
		SELECT session_key FROM hits
		WHERE hit_type IN (?, ?)
		GROUP BY session_key
		ORDER BY MIN(id)
	`, string(hit.TypeSessionComplete), string(hit.TypeSessionEnd))
	if err != nil {
		return nil, fmt.Errorf("list closed sessions: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan session key: %w", err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return keys, nil
}

// Count returns the number of stored hits.
func (s *HitStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM hits`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count hits: %w", err)
	}
	return n, nil
}

// DeleteSession removes every hit of sessionKey.
func (s *HitStore) DeleteSession(sessionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if _, err := s.db.Exec(`DELETE FROM hits WHERE session_key = ?`, sessionKey); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteAll removes every stored hit.
func (s *HitStore) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if _, err := s.db.Exec(`DELETE FROM hits`); err != nil {
		return fmt.Errorf("delete hits: %w", err)
	}
	return nil
}

// Close closes the database. It is safe to call more than once.
func (s *HitStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
