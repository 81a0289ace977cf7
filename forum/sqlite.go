package forum

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alexedwards/scs/v2"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    email TEXT NOT NULL UNIQUE,
    hash TEXT NOT NULL,
    image_file TEXT NOT NULL DEFAULT 'default.png',
    level TEXT NOT NULL DEFAULT 'member',
    created_at INTEGER NOT NULL,
    password_changed_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS posts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    author_id TEXT NOT NULL REFERENCES users(id)
);
CREATE TABLE IF NOT EXISTS comments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    author_id TEXT NOT NULL REFERENCES users(id),
    post_id INTEGER NOT NULL REFERENCES posts(id)
);
CREATE TABLE IF NOT EXISTS resources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    filename TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS sessions (
    token TEXT PRIMARY KEY,
    data BLOB NOT NULL,
    expiry INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_on_created_at ON posts(created_at);
CREATE INDEX IF NOT EXISTS idx_posts_on_author_id ON posts(author_id);
CREATE INDEX IF NOT EXISTS idx_comments_on_post_id ON comments(post_id);
CREATE INDEX IF NOT EXISTS idx_comments_on_author_id ON comments(author_id);
CREATE INDEX IF NOT EXISTS idx_sessions_on_expiry ON sessions(expiry);
`

// SQLiteStore is the single-file store used for local development and
// tests. Timestamps are stored as Unix microseconds to match the
// precision Postgres keeps.
type SQLiteStore struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	now    func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    4,
		PrepareConn: prepareSQLiteConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %s: %w", path, err)
	}
	logger.Info("sqlite store opened", "path", path)
	return &SQLiteStore{pool: pool, logger: logger, now: time.Now}, nil
}

func prepareSQLiteConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)
	if err := sqlitex.ExecuteScript(conn, sqliteSchema, nil); err != nil {
		return fmt.Errorf("sqlite: schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if err := s.pool.Close(); err != nil {
		s.logger.Error("sqlite store close error", "error", err)
		return fmt.Errorf("sqlite: close: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Sessions() scs.Store {
	return &SQLiteSessionStore{pool: s.pool}
}

// exec runs fn on a pooled connection.
func (s *SQLiteStore) exec(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

func toMicros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }

// --- User Functions ---

func readUser(stmt *sqlite.Stmt) *User {
	return &User{
		ID:                stmt.ColumnText(0),
		Username:          stmt.ColumnText(1),
		Email:             stmt.ColumnText(2),
		Hash:              []byte(stmt.ColumnText(3)),
		ImageFile:         stmt.ColumnText(4),
		Level:             stmt.ColumnText(5),
		CreatedAt:         fromMicros(stmt.ColumnInt64(6)),
		PasswordChangedAt: fromMicros(stmt.ColumnInt64(7)),
	}
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (*User, error) {
	var user *User
	err := s.exec(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+userColumns+` FROM users WHERE `+where+` = ?`, &sqlitex.ExecOptions{
			Args: []any{arg},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				user = readUser(stmt)
				return nil
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	return s.exec(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{
				user.ID, user.Username, user.Email, string(user.Hash),
				user.ImageFile, user.Level, toMicros(user.CreatedAt), toMicros(user.PasswordChangedAt),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "id", id)
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "email", email)
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.getUser(ctx, "username", username)
}

func (s *SQLiteStore) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var found bool
	err := s.exec(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT EXISTS (`+query+`)`, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = stmt.ColumnInt(0) == 1
				return nil
			},
		})
	})
	return found, err
}

func (s *SQLiteStore) UsernameTaken(ctx context.Context, username, exceptID string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM users WHERE username = ? AND id <> ?`, username, exceptID)
}

func (s *SQLiteStore) EmailTaken(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM users WHERE email = ?`, email)
}

// update runs a single-row write and maps zero affected rows to ErrNotFound.
func (s *SQLiteStore) update(ctx context.Context, query string, args ...any) error {
	return s.exec(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SQLiteStore) UpdateUserProfile(ctx context.Context, id, username, imageFile string) error {
	return s.update(ctx, `UPDATE users SET username = ?, image_file = ? WHERE id = ?`, username, imageFile, id)
}

func (s *SQLiteStore) UpdatePassword(ctx context.Context, id string, hash []byte, changedAt time.Time) error {
	return s.update(ctx, `UPDATE users SET hash = ?, password_changed_at = ? WHERE id = ?`, string(hash), toMicros(changedAt), id)
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	return s.deleteWithPolicy(ctx, "users", id)
}

func (s *SQLiteStore) deleteWithPolicy(ctx context.Context, table, id string) error {
	return s.exec(ctx, func(conn *sqlite.Conn) (err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("sqlite: begin transaction: %w", err)
		}
		defer endTransaction(&err)

		restrict, cascade := relationsOf(table)
		for _, rel := range restrict {
			var exists bool
			query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = ?)`, rel.Child, rel.ForeignKey)
			err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					exists = stmt.ColumnInt(0) == 1
					return nil
				},
			})
			if err != nil {
				return fmt.Errorf("failed to check %s: %w", rel.Child, err)
			}
			if exists {
				return fmt.Errorf("%w: %s still referenced by %s", ErrRestricted, table, rel.Child)
			}
		}
		for _, rel := range cascade {
			query := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, rel.Child, rel.ForeignKey)
			if err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: []any{id}}); err != nil {
				return fmt.Errorf("failed to delete %s: %w", rel.Child, err)
			}
		}

		if err = sqlitex.Execute(conn, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), &sqlitex.ExecOptions{Args: []any{id}}); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
		if conn.Changes() == 0 {
			err = ErrNotFound
			return err
		}
		return nil
	})
}

// --- Post Functions ---

func readPost(stmt *sqlite.Stmt) Post {
	return Post{
		ID:          stmt.ColumnInt64(0),
		Title:       stmt.ColumnText(1),
		Content:     stmt.ColumnText(2),
		Summary:     stmt.ColumnText(3),
		CreatedAt:   fromMicros(stmt.ColumnInt64(4)),
		AuthorID:    stmt.ColumnText(5),
		AuthorName:  stmt.ColumnText(6),
		AuthorImage: stmt.ColumnText(7),
	}
}

func (s *SQLiteStore) queryPosts(ctx context.Context, query string, args ...any) ([]Post, error) {
	var posts []Post
	err := s.exec(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				posts = append(posts, readPost(stmt))
				return nil
			},
		})
	})
	return posts, err
}

func (s *SQLiteStore) CreatePost(ctx context.Context, post *Post) error {
	if post.CreatedAt.IsZero() {
		post.CreatedAt = s.now().UTC().Truncate(time.Microsecond)
	}
	return s.exec(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `INSERT INTO posts (title, content, summary, created_at, author_id) VALUES (?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{post.Title, post.Content, post.Summary, toMicros(post.CreatedAt), post.AuthorID},
		})
		if err != nil {
			return fmt.Errorf("failed to insert post: %w", err)
		}
		post.ID = conn.LastInsertRowID()
		return nil
	})
}

func (s *SQLiteStore) GetPost(ctx context.Context, id int64) (*Post, error) {
	posts, err := s.queryPosts(ctx, postSelect+` WHERE p.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, ErrNotFound
	}
	return &posts[0], nil
}

func (s *SQLiteStore) ListPosts(ctx context.Context, page, pageSize int) ([]Post, error) {
	return s.queryPosts(ctx, postSelect+` ORDER BY p.created_at DESC, p.id DESC LIMIT ? OFFSET ?`, pageSize, offset(page, pageSize))
}

func (s *SQLiteStore) CountPosts(ctx context.Context) (int, error) {
	var count int
	err := s.exec(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT COUNT(*) FROM posts`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	return count, err
}

func (s *SQLiteStore) ListPostsByUser(ctx context.Context, userID string) ([]Post, error) {
	return s.queryPosts(ctx, postSelect+` WHERE p.author_id = ? ORDER BY p.created_at DESC, p.id DESC`, userID)
}

func (s *SQLiteStore) UpdatePost(ctx context.Context, post *Post) error {
	return s.update(ctx, `UPDATE posts SET title = ?, content = ?, summary = ? WHERE id = ?`,
		post.Title, post.Content, post.Summary, post.ID)
}

func (s *SQLiteStore) DeletePost(ctx context.Context, id int64) error {
	return s.deleteWithPolicy(ctx, "posts", strconv.FormatInt(id, 10))
}

// --- Comment Functions ---

func (s *SQLiteStore) CreateComment(ctx context.Context, comment *Comment) error {
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = s.now().UTC().Truncate(time.Microsecond)
	}
	return s.exec(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `INSERT INTO comments (content, created_at, author_id, post_id) VALUES (?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{comment.Content, toMicros(comment.CreatedAt), comment.AuthorID, comment.PostID},
		})
		if err != nil {
			return fmt.Errorf("failed to insert comment: %w", err)
		}
		comment.ID = conn.LastInsertRowID()
		return nil
	})
}

func (s *SQLiteStore) ListComments(ctx context.Context, postID int64) ([]Comment, error) {
	query := `SELECT c.id, c.content, c.created_at, c.author_id, u.username, c.post_id
              FROM comments c JOIN users u ON u.id = c.author_id
              WHERE c.post_id = ?
              ORDER BY c.created_at ASC, c.id ASC`
	var comments []Comment
	err := s.exec(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: []any{postID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				comments = append(comments, Comment{
					ID:         stmt.ColumnInt64(0),
					Content:    stmt.ColumnText(1),
					CreatedAt:  fromMicros(stmt.ColumnInt64(2)),
					AuthorID:   stmt.ColumnText(3),
					AuthorName: stmt.ColumnText(4),
					PostID:     stmt.ColumnInt64(5),
				})
				return nil
			},
		})
	})
	return comments, err
}

// --- Resource Functions ---

func (s *SQLiteStore) CreateResource(ctx context.Context, res *Resource) error {
	return s.exec(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `INSERT INTO resources (title, filename) VALUES (?, ?)`, &sqlitex.ExecOptions{
			Args: []any{res.Title, res.Filename},
		})
		if err != nil {
			return fmt.Errorf("failed to insert resource: %w", err)
		}
		res.ID = conn.LastInsertRowID()
		return nil
	})
}

func (s *SQLiteStore) queryResources(ctx context.Context, query string, args ...any) ([]Resource, error) {
	var out []Resource
	err := s.exec(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, Resource{
					ID:       stmt.ColumnInt64(0),
					Title:    stmt.ColumnText(1),
					Filename: stmt.ColumnText(2),
				})
				return nil
			},
		})
	})
	return out, err
}

func (s *SQLiteStore) ListResources(ctx context.Context) ([]Resource, error) {
	return s.queryResources(ctx, `SELECT id, title, filename FROM resources ORDER BY id`)
}

func (s *SQLiteStore) GetResourceByFilename(ctx context.Context, filename string) (*Resource, error) {
	out, err := s.queryResources(ctx, `SELECT id, title, filename FROM resources WHERE filename = ?`, filename)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return &out[0], nil
}

func (s *SQLiteStore) DeleteResource(ctx context.Context, id int64) error {
	return s.deleteWithPolicy(ctx, "resources", strconv.FormatInt(id, 10))
}
