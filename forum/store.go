package forum

import (
	"context"
	"time"

	"github.com/alexedwards/scs/v2"
)

// Store is the persistence layer. Database (Postgres) and SQLiteStore
// implement it with identical semantics.
type Store interface {
	Migrate(ctx context.Context) error
	Close() error
	// Sessions returns an scs.Store sharing the same backend.
	Sessions() scs.Store

	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	UsernameTaken(ctx context.Context, username, exceptID string) (bool, error)
	EmailTaken(ctx context.Context, email string) (bool, error)
	UpdateUserProfile(ctx context.Context, id, username, imageFile string) error
	UpdatePassword(ctx context.Context, id string, hash []byte, changedAt time.Time) error
	DeleteUser(ctx context.Context, id string) error

	CreatePost(ctx context.Context, post *Post) error
	GetPost(ctx context.Context, id int64) (*Post, error)
	ListPosts(ctx context.Context, page, pageSize int) ([]Post, error)
	CountPosts(ctx context.Context) (int, error)
	ListPostsByUser(ctx context.Context, userID string) ([]Post, error)
	UpdatePost(ctx context.Context, post *Post) error
	DeletePost(ctx context.Context, id int64) error

	CreateComment(ctx context.Context, comment *Comment) error
	ListComments(ctx context.Context, postID int64) ([]Comment, error)

	CreateResource(ctx context.Context, res *Resource) error
	ListResources(ctx context.Context) ([]Resource, error)
	GetResourceByFilename(ctx context.Context, filename string) (*Resource, error)
	DeleteResource(ctx context.Context, id int64) error
}

func offset(page, pageSize int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}

var (
	_ Store = (*Database)(nil)
	_ Store = (*SQLiteStore)(nil)
)
