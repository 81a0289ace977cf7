// forum/models.go
package forum

import (
	"errors"
	"time"
)

var (
	ErrNotFound   = errors.New("forum: not found")
	ErrForbidden  = errors.New("forum: forbidden")
	ErrRestricted = errors.New("forum: dependent rows exist")
)

// Post is an event announcement authored by a user.
type Post struct {
	ID          int64     `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Content     string    `json:"content" db:"content"`
	Summary     string    `json:"summary" db:"summary"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	AuthorID    string    `json:"author_id" db:"author_id"`
	AuthorName  string    `json:"author_name" db:"-"`
	AuthorImage string    `json:"author_image" db:"-"`
}

type Comment struct {
	ID         int64     `json:"id" db:"id"`
	Content    string    `json:"content" db:"content"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	AuthorID   string    `json:"author_id" db:"author_id"`
	AuthorName string    `json:"author_name" db:"-"`
	PostID     int64     `json:"post_id" db:"post_id"`
}

// Resource is an uploaded file. It has no owner.
type Resource struct {
	ID       int64  `json:"id" db:"id"`
	Title    string `json:"title" db:"title"`
	Filename string `json:"filename" db:"filename"`
}

// Policy says what deleting a parent row does to its children.
type Policy int

const (
	Restrict Policy = iota
	Cascade
)

func (p Policy) String() string {
	if p == Cascade {
		return "cascade"
	}
	return "restrict"
}

// Relation is one foreign key edge between tables.
type Relation struct {
	Parent     string
	Child      string
	ForeignKey string
	Policy     Policy
}

// Relations lists every edge the stores enforce on delete. Restrict
// edges are checked before any cascade runs.
var Relations = []Relation{
	{Parent: "posts", Child: "comments", ForeignKey: "post_id", Policy: Cascade},
	{Parent: "users", Child: "posts", ForeignKey: "author_id", Policy: Restrict},
	{Parent: "users", Child: "comments", ForeignKey: "author_id", Policy: Restrict},
}

func relationsOf(parent string) (restrict, cascade []Relation) {
	for _, rel := range Relations {
		if rel.Parent != parent {
			continue
		}
		if rel.Policy == Cascade {
			cascade = append(cascade, rel)
		} else {
			restrict = append(restrict, rel)
		}
	}
	return restrict, cascade
}
