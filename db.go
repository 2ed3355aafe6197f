package main

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/example/authgateway/internal/auth"
)

// DB is a credential store with a lifecycle.
type DB interface {
	auth.UserStore
	Init() error
}

var (
	_ DB = (*MemDB)(nil)
	_ DB = (*SQLiteDB)(nil)
	_ DB = (*PostgresDB)(nil)
)

// Memory DB
type MemDB struct {
	mu    sync.RWMutex
	users map[string]*auth.User
	seq   int64
}

func NewMemoryDB() *MemDB {
	return &MemDB{users: map[string]*auth.User{}, seq: 1}
}

func (m *MemDB) Init() error { return nil }

func (m *MemDB) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[username]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *MemDB) Save(_ context.Context, u *auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Username]; ok {
		return auth.ErrUserExists
	}
	u.ID = m.seq
	m.seq++
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	cp := *u
	m.users[u.Username] = &cp
	return nil
}

func (m *MemDB) List(_ context.Context) ([]*auth.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*auth.User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *auth.User) int { return int(a.ID - b.ID) })
	return out, nil
}

// SQLite DB
type SQLiteDB struct {
	db   *sql.DB
	path string
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteDB{db: d, path: path}
	if err := s.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) Init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY AUTOINCREMENT, username TEXT NOT NULL UNIQUE, password_hash TEXT NOT NULL, role TEXT NOT NULL, created_at TEXT NOT NULL);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteDB) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,username,password_hash,role,created_at FROM users WHERE username = ?`, username)
	var u auth.User
	var created string
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &created)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if u.CreatedAt, err = parseCreatedAt(created); err != nil {
		return nil, fmt.Errorf("user %q: %w", username, err)
	}
	return &u, nil
}

func (s *SQLiteDB) Save(ctx context.Context, u *auth.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO users(username,password_hash,role,created_at) VALUES(?,?,?,?)`,
		u.Username, u.PasswordHash, u.Role, u.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return auth.ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("insert user id: %w", err)
	}
	return nil
}

func (s *SQLiteDB) List(ctx context.Context) ([]*auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,username,password_hash,role,created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []*auth.User
	for rows.Next() {
		var u auth.User
		var created string
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &created); err != nil {
			return nil, err
		}
		if u.CreatedAt, err = parseCreatedAt(created); err != nil {
			return nil, fmt.Errorf("user %q: %w", u.Username, err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func parseCreatedAt(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse created_at: %w", err)
	}
	return t, nil
}

// lifecycle helpers
func (m *MemDB) close() error { return nil }
func (m *MemDB) ping() bool   { return true }

func (s *SQLiteDB) close() error { return s.db.Close() }
func (s *SQLiteDB) ping() bool   { return s.db.Ping() == nil }
