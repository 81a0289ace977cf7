package forum

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultPicture = "default.png"
	LevelMember    = "member"
)

type User struct {
	ID                string    `json:"id"`
	Username          string    `json:"username"`
	Email             string    `json:"email"`
	Hash              []byte    `json:"-"`
	ImageFile         string    `json:"image_file"`
	Level             string    `json:"level"`
	CreatedAt         time.Time `json:"created_at"`
	PasswordChangedAt time.Time `json:"-"`
}

func NewUser(username, email string, now time.Time) *User {
	now = now.UTC()
	return &User{
		ID:                uuid.New().String(),
		Username:          username,
		Email:             email,
		ImageFile:         DefaultPicture,
		Level:             LevelMember,
		CreatedAt:         now,
		PasswordChangedAt: now,
	}
}

// SetPassword replaces the stored hash.
func (u *User) SetPassword(password string, cost int) error {
	hash, err := HashPassword(password, cost)
	if err != nil {
		return err
	}
	u.Hash = hash
	return nil
}

func HashPassword(password string, cost int) ([]byte, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return bcrypt.GenerateFromPassword([]byte(password), cost)
}

func (u *User) PasswordMatches(input string) (bool, error) {
	err := bcrypt.CompareHashAndPassword(u.Hash, []byte(input))
	if err != nil {
		switch {
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			//invalid password
			return false, nil
		default:
			//unknown error
			return false, err
		}
	}

	return true, nil
}

// IsAuthor reports whether u wrote p.
func (u *User) IsAuthor(p *Post) bool {
	return u != nil && p != nil && u.ID == p.AuthorID
}
