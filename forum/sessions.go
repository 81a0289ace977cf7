package forum

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// PGSessionStore keeps scs session data in the Postgres sessions table.
type PGSessionStore struct {
	pool *pgxpool.Pool
}

func (p *PGSessionStore) Find(token string) ([]byte, bool, error) {
	var data []byte
	err := p.pool.QueryRow(context.Background(),
		`SELECT data FROM sessions WHERE token = $1 AND expiry > NOW()`, token).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (p *PGSessionStore) Commit(token string, b []byte, expiry time.Time) error {
	_, err := p.pool.Exec(context.Background(), `
        INSERT INTO sessions (token, data, expiry) VALUES ($1, $2, $3)
        ON CONFLICT (token) DO UPDATE SET
            data = EXCLUDED.data,
            expiry = EXCLUDED.expiry`, token, b, expiry)
	return err
}

func (p *PGSessionStore) Delete(token string) error {
	_, err := p.pool.Exec(context.Background(), `DELETE FROM sessions WHERE token = $1`, token)
	return err
}

func (p *PGSessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE expiry <= NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SQLiteSessionStore keeps scs session data in the SQLite sessions table.
type SQLiteSessionStore struct {
	pool *sqlitex.Pool
	now  func() time.Time
}

func (s *SQLiteSessionStore) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *SQLiteSessionStore) with(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

func (s *SQLiteSessionStore) Find(token string) ([]byte, bool, error) {
	var data []byte
	found := false
	err := s.with(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT data FROM sessions WHERE token = ? AND expiry > ?`, &sqlitex.ExecOptions{
			Args: []any{token, toMicros(s.clock())},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				data = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, data)
				found = true
				return nil
			},
		})
	})
	if err != nil {
		return nil, false, err
	}
	return data, found, nil
}

func (s *SQLiteSessionStore) Commit(token string, b []byte, expiry time.Time) error {
	return s.with(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
            INSERT INTO sessions (token, data, expiry) VALUES (?, ?, ?)
            ON CONFLICT (token) DO UPDATE SET
                data = excluded.data,
                expiry = excluded.expiry`, &sqlitex.ExecOptions{
			Args: []any{token, b, toMicros(expiry)},
		})
	})
}

func (s *SQLiteSessionStore) Delete(token string) error {
	return s.with(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `DELETE FROM sessions WHERE token = ?`, &sqlitex.ExecOptions{
			Args: []any{token},
		})
	})
}

func (s *SQLiteSessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	var n int64
	err := s.with(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `DELETE FROM sessions WHERE expiry <= ?`, &sqlitex.ExecOptions{
			Args: []any{toMicros(s.clock())},
		})
		n = int64(conn.Changes())
		return err
	})
	return n, err
}

type expiredSessionDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// StartSessionCleanup deletes expired sessions every interval until ctx
// is done. Stores without expiry support are ignored.
func StartSessionCleanup(ctx context.Context, store any, interval time.Duration, logger *slog.Logger) {
	deleter, ok := store.(expiredSessionDeleter)
	if !ok {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := deleter.DeleteExpired(ctx)
			if err != nil {
				logger.Error("session cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("expired sessions removed", "count", n)
			}
		}
	}
}
