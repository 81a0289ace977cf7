// forum/database.go
package forum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    email TEXT NOT NULL UNIQUE,
    hash BYTEA NOT NULL,
    image_file TEXT NOT NULL DEFAULT 'default.png',
    level TEXT NOT NULL DEFAULT 'member',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    password_changed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS posts (
    id BIGSERIAL PRIMARY KEY,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    author_id UUID NOT NULL REFERENCES users(id)
);
CREATE TABLE IF NOT EXISTS comments (
    id BIGSERIAL PRIMARY KEY,
    content TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    author_id UUID NOT NULL REFERENCES users(id),
    post_id BIGINT NOT NULL REFERENCES posts(id)
);
CREATE TABLE IF NOT EXISTS resources (
    id BIGSERIAL PRIMARY KEY,
    title TEXT NOT NULL,
    filename TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS sessions (
    token TEXT PRIMARY KEY,
    data BYTEA NOT NULL,
    expiry TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_on_created_at ON posts(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_posts_on_author_id ON posts(author_id);
CREATE INDEX IF NOT EXISTS idx_comments_on_post_id ON comments(post_id);
CREATE INDEX IF NOT EXISTS idx_comments_on_author_id ON comments(author_id);
CREATE INDEX IF NOT EXISTS idx_sessions_on_expiry ON sessions(expiry);
`

// Database is the Postgres store.
type Database struct {
	pool *pgxpool.Pool
}

func NewDatabase(ctx context.Context, connectionString string) (*Database, error) {
	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Database{pool: pool}, nil
}

func (d *Database) Migrate(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	d.pool.Close()
	return nil
}

func (d *Database) Sessions() scs.Store {
	return &PGSessionStore{pool: d.pool}
}

// --- User Functions ---

const userColumns = `id, username, email, hash, image_file, level, created_at, password_changed_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Hash, &u.ImageFile, &u.Level, &u.CreatedAt, &u.PasswordChangedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (d *Database) CreateUser(ctx context.Context, user *User) error {
	query := `INSERT INTO users (` + userColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := d.pool.Exec(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.Hash,
		user.ImageFile,
		user.Level,
		user.CreatedAt,
		user.PasswordChangedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// parseUserID converts a user id for comparison against the uuid
// column. Malformed ids cannot name a row.
func parseUserID(id string) (uuid.UUID, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, ErrNotFound
	}
	return uid, nil
}

func (d *Database) GetUserByID(ctx context.Context, id string) (*User, error) {
	uid, err := parseUserID(id)
	if err != nil {
		return nil, err
	}
	return scanUser(d.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, uid))
}

func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(d.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (d *Database) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(d.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (d *Database) UsernameTaken(ctx context.Context, username, exceptID string) (bool, error) {
	var taken bool
	except, err := parseUserID(exceptID)
	if err != nil {
		except = uuid.Nil
	}
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1 AND id <> $2)`
	err = d.pool.QueryRow(ctx, query, username, except).Scan(&taken)
	return taken, err
}

func (d *Database) EmailTaken(ctx context.Context, email string) (bool, error) {
	var taken bool
	err := d.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email).Scan(&taken)
	return taken, err
}

func (d *Database) UpdateUserProfile(ctx context.Context, id, username, imageFile string) error {
	uid, err := parseUserID(id)
	if err != nil {
		return err
	}
	tag, err := d.pool.Exec(ctx, `UPDATE users SET username = $2, image_file = $3 WHERE id = $1`, uid, username, imageFile)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *Database) UpdatePassword(ctx context.Context, id string, hash []byte, changedAt time.Time) error {
	uid, err := parseUserID(id)
	if err != nil {
		return err
	}
	tag, err := d.pool.Exec(ctx, `UPDATE users SET hash = $2, password_changed_at = $3 WHERE id = $1`, uid, hash, changedAt)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *Database) DeleteUser(ctx context.Context, id string) error {
	uid, err := parseUserID(id)
	if err != nil {
		return err
	}
	return d.deleteWithPolicy(ctx, "users", uid)
}

// deleteWithPolicy removes one parent row after applying every
// relation declared for the parent table, in a single transaction.
// id must have the Go type of the parent's key column.
func (d *Database) deleteWithPolicy(ctx context.Context, table string, id any) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	restrict, cascade := relationsOf(table)
	for _, rel := range restrict {
		var exists bool
		query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)`, rel.Child, rel.ForeignKey)
		if err := tx.QueryRow(ctx, query, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check %s: %w", rel.Child, err)
		}
		if exists {
			return fmt.Errorf("%w: %s still referenced by %s", ErrRestricted, table, rel.Child)
		}
	}
	for _, rel := range cascade {
		query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, rel.Child, rel.ForeignKey)
		if _, err := tx.Exec(ctx, query, id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", rel.Child, err)
		}
	}

	tag, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

// --- Post Functions ---

const postSelect = `SELECT p.id, p.title, p.content, p.summary, p.created_at, p.author_id, u.username, u.image_file
    FROM posts p JOIN users u ON u.id = p.author_id`

func scanPosts(rows pgx.Rows) ([]Post, error) {
	defer rows.Close()
	var posts []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.Title, &p.Content, &p.Summary, &p.CreatedAt, &p.AuthorID, &p.AuthorName, &p.AuthorImage); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (d *Database) CreatePost(ctx context.Context, post *Post) error {
	query := `INSERT INTO posts (title, content, summary, author_id) VALUES ($1, $2, $3, $4) RETURNING id, created_at`
	return d.pool.QueryRow(ctx, query, post.Title, post.Content, post.Summary, post.AuthorID).Scan(&post.ID, &post.CreatedAt)
}

func (d *Database) GetPost(ctx context.Context, id int64) (*Post, error) {
	var p Post
	err := d.pool.QueryRow(ctx, postSelect+` WHERE p.id = $1`, id).
		Scan(&p.ID, &p.Title, &p.Content, &p.Summary, &p.CreatedAt, &p.AuthorID, &p.AuthorName, &p.AuthorImage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *Database) ListPosts(ctx context.Context, page, pageSize int) ([]Post, error) {
	rows, err := d.pool.Query(ctx, postSelect+` ORDER BY p.created_at DESC, p.id DESC LIMIT $1 OFFSET $2`, pageSize, offset(page, pageSize))
	if err != nil {
		return nil, err
	}
	return scanPosts(rows)
}

func (d *Database) CountPosts(ctx context.Context) (int, error) {
	var count int
	err := d.pool.QueryRow(ctx, `SELECT COUNT(*) FROM posts`).Scan(&count)
	return count, err
}

func (d *Database) ListPostsByUser(ctx context.Context, userID string) ([]Post, error) {
	uid, err := parseUserID(userID)
	if err != nil {
		return nil, nil
	}
	rows, err := d.pool.Query(ctx, postSelect+` WHERE p.author_id = $1 ORDER BY p.created_at DESC, p.id DESC`, uid)
	if err != nil {
		return nil, err
	}
	return scanPosts(rows)
}

func (d *Database) UpdatePost(ctx context.Context, post *Post) error {
	tag, err := d.pool.Exec(ctx, `UPDATE posts SET title = $2, content = $3, summary = $4 WHERE id = $1`,
		post.ID, post.Title, post.Content, post.Summary)
	if err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *Database) DeletePost(ctx context.Context, id int64) error {
	return d.deleteWithPolicy(ctx, "posts", id)
}

// --- Comment Functions ---

func (d *Database) CreateComment(ctx context.Context, comment *Comment) error {
	query := `INSERT INTO comments (content, author_id, post_id) VALUES ($1, $2, $3) RETURNING id, created_at`
	return d.pool.QueryRow(ctx, query, comment.Content, comment.AuthorID, comment.PostID).Scan(&comment.ID, &comment.CreatedAt)
}

func (d *Database) ListComments(ctx context.Context, postID int64) ([]Comment, error) {
	query := `SELECT c.id, c.content, c.created_at, c.author_id, u.username, c.post_id
              FROM comments c JOIN users u ON u.id = c.author_id
              WHERE c.post_id = $1
              ORDER BY c.created_at ASC, c.id ASC`
	rows, err := d.pool.Query(ctx, query, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var comments []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.Content, &c.CreatedAt, &c.AuthorID, &c.AuthorName, &c.PostID); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// --- Resource Functions ---

func (d *Database) CreateResource(ctx context.Context, res *Resource) error {
	return d.pool.QueryRow(ctx, `INSERT INTO resources (title, filename) VALUES ($1, $2) RETURNING id`, res.Title, res.Filename).Scan(&res.ID)
}

func (d *Database) ListResources(ctx context.Context) ([]Resource, error) {
	rows, err := d.pool.Query(ctx, `SELECT id, title, filename FROM resources ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Resource
	for rows.Next() {
		var r Resource
		if err := rows.Scan(&r.ID, &r.Title, &r.Filename); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *Database) GetResourceByFilename(ctx context.Context, filename string) (*Resource, error) {
	var r Resource
	err := d.pool.QueryRow(ctx, `SELECT id, title, filename FROM resources WHERE filename = $1`, filename).Scan(&r.ID, &r.Title, &r.Filename)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (d *Database) DeleteResource(ctx context.Context, id int64) error {
	return d.deleteWithPolicy(ctx, "resources", id)
}
