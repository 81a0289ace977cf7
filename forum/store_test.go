package forum

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "portal.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return store
}

func mustCreateUser(t *testing.T, store Store, username string) *User {
	t.Helper()
	user := NewUser(username, username+"@example.com", time.Now())
	user.Hash = []byte("not-a-real-hash")
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
	return user
}

func mustCreatePost(t *testing.T, store Store, author *User, title string) *Post {
	t.Helper()
	post := &Post{Title: title, Content: "content of " + title, AuthorID: author.ID}
	if err := store.CreatePost(context.Background(), post); err != nil {
		t.Fatalf("CreatePost(%s): %v", title, err)
	}
	return post
}

func TestUserLookups(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	alice := mustCreateUser(t, store, "alice")

	byEmail, err := store.GetUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if byEmail.ID != alice.ID || byEmail.ImageFile != DefaultPicture || byEmail.Level != LevelMember {
		t.Errorf("GetUserByEmail = %+v", byEmail)
	}
	if string(byEmail.Hash) != "not-a-real-hash" {
		t.Errorf("Hash = %q", byEmail.Hash)
	}

	if _, err := store.GetUserByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUserByUsername(nobody) err = %v, want ErrNotFound", err)
	}
	if _, err := store.GetUserByID(ctx, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUserByID(garbage) err = %v, want ErrNotFound", err)
	}

	taken, err := store.UsernameTaken(ctx, "alice", "")
	if err != nil || !taken {
		t.Errorf("UsernameTaken(alice) = %v, %v", taken, err)
	}
	taken, err = store.UsernameTaken(ctx, "alice", alice.ID)
	if err != nil || taken {
		t.Errorf("UsernameTaken(alice, except self) = %v, %v", taken, err)
	}
	taken, err = store.EmailTaken(ctx, "alice@example.com")
	if err != nil || !taken {
		t.Errorf("EmailTaken = %v, %v", taken, err)
	}
}

func TestUniqueConstraintsBackstopLookups(t *testing.T) {
	store := openTestStore(t)
	mustCreateUser(t, store, "alice")

	dup := NewUser("alice", "other@example.com", time.Now())
	dup.Hash = []byte("x")
	if err := store.CreateUser(context.Background(), dup); err == nil {
		t.Error("second user with the same username was inserted")
	}
}

func TestUpdateProfileAndPassword(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	alice := mustCreateUser(t, store, "alice")

	if err := store.UpdateUserProfile(ctx, alice.ID, "alice2", "abc.png"); err != nil {
		t.Fatalf("UpdateUserProfile: %v", err)
	}
	changed := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	if err := store.UpdatePassword(ctx, alice.ID, []byte("new-hash"), changed); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	got, err := store.GetUserByID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got.Username != "alice2" || got.ImageFile != "abc.png" || string(got.Hash) != "new-hash" {
		t.Errorf("user after update = %+v", got)
	}
	if !got.PasswordChangedAt.Equal(changed) {
		t.Errorf("PasswordChangedAt = %v, want %v", got.PasswordChangedAt, changed)
	}

	if err := store.UpdatePassword(ctx, "missing", []byte("x"), changed); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdatePassword(missing) err = %v, want ErrNotFound", err)
	}
}

func TestPostsPaginateNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	alice := mustCreateUser(t, store, "alice")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		post := &Post{Title: string(rune('A' + i)), Content: "x", AuthorID: alice.ID, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := store.CreatePost(ctx, post); err != nil {
			t.Fatalf("CreatePost: %v", err)
		}
	}

	count, err := store.CountPosts(ctx)
	if err != nil || count != 7 {
		t.Fatalf("CountPosts = %d, %v", count, err)
	}

	first, err := store.ListPosts(ctx, 1, 5)
	if err != nil {
		t.Fatalf("ListPosts page 1: %v", err)
	}
	second, err := store.ListPosts(ctx, 2, 5)
	if err != nil {
		t.Fatalf("ListPosts page 2: %v", err)
	}
	if len(first) != 5 || len(second) != 2 {
		t.Fatalf("page sizes = %d, %d; want 5, 2", len(first), len(second))
	}
	if first[0].Title != "G" || second[1].Title != "A" {
		t.Errorf("order: first[0]=%s second[1]=%s", first[0].Title, second[1].Title)
	}
	if first[0].AuthorName != "alice" || first[0].AuthorImage != DefaultPicture {
		t.Errorf("author join = %q, %q", first[0].AuthorName, first[0].AuthorImage)
	}
}

func TestUpdatePostKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	alice := mustCreateUser(t, store, "alice")
	post := mustCreatePost(t, store, alice, "Original")

	before, err := store.GetPost(ctx, post.ID)
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	post.Title = "Edited"
	post.Summary = "short"
	post.CreatedAt = time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := store.UpdatePost(ctx, post); err != nil {
		t.Fatalf("UpdatePost: %v", err)
	}
	after, err := store.GetPost(ctx, post.ID)
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if after.Title != "Edited" || after.Summary != "short" {
		t.Errorf("post after update = %+v", after)
	}
	if !after.CreatedAt.Equal(before.CreatedAt) {
		t.Errorf("CreatedAt changed from %v to %v", before.CreatedAt, after.CreatedAt)
	}
}

func TestDeletePostCascadesToComments(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	alice := mustCreateUser(t, store, "alice")
	bob := mustCreateUser(t, store, "bob")
	doomed := mustCreatePost(t, store, alice, "Doomed")
	kept := mustCreatePost(t, store, alice, "Kept")

	for _, p := range []*Post{doomed, doomed, kept} {
		if err := store.CreateComment(ctx, &Comment{Content: "hi", AuthorID: bob.ID, PostID: p.ID}); err != nil {
			t.Fatalf("CreateComment: %v", err)
		}
	}

	if err := store.DeletePost(ctx, doomed.ID); err != nil {
		t.Fatalf("DeletePost: %v", err)
	}
	if _, err := store.GetPost(ctx, doomed.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPost after delete err = %v, want ErrNotFound", err)
	}
	orphans, err := store.ListComments(ctx, doomed.ID)
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(orphans) != 0 {
		t.Errorf("%d comments survived their post", len(orphans))
	}
	remaining, err := store.ListComments(ctx, kept.ID)
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(remaining) != 1 || remaining[0].AuthorName != "bob" {
		t.Errorf("comments on other post = %+v", remaining)
	}

	if err := store.DeletePost(ctx, doomed.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeletePost err = %v, want ErrNotFound", err)
	}
}

func TestDeleteUserIsRestricted(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	alice := mustCreateUser(t, store, "alice")
	bob := mustCreateUser(t, store, "bob")
	carol := mustCreateUser(t, store, "carol")
	post := mustCreatePost(t, store, alice, "Hello")
	if err := store.CreateComment(ctx, &Comment{Content: "hi", AuthorID: bob.ID, PostID: post.ID}); err != nil {
		t.Fatalf("CreateComment: %v", err)
	}

	tests := []struct {
		name    string
		user    *User
		wantErr error
	}{
		{"author of a post", alice, ErrRestricted},
		{"author of a comment", bob, ErrRestricted},
		{"no dependents", carol, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.DeleteUser(ctx, tt.user.ID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("DeleteUser err = %v, want %v", err, tt.wantErr)
			}
			_, getErr := store.GetUserByID(ctx, tt.user.ID)
			if tt.wantErr != nil && getErr != nil {
				t.Errorf("restricted user was removed: %v", getErr)
			}
			if tt.wantErr == nil && !errors.Is(getErr, ErrNotFound) {
				t.Errorf("user still present: %v", getErr)
			}
		})
	}
}

func TestRelationsDeclarePolicies(t *testing.T) {
	want := map[[2]string]Policy{
		{"posts", "comments"}: Cascade,
		{"users", "posts"}:    Restrict,
		{"users", "comments"}: Restrict,
	}
	for _, rel := range Relations {
		key := [2]string{rel.Parent, rel.Child}
		if p, ok := want[key]; !ok || p != rel.Policy {
			t.Errorf("relation %s->%s policy %s unexpected", rel.Parent, rel.Child, rel.Policy)
		}
		delete(want, key)
	}
	for key := range want {
		t.Errorf("missing relation %s->%s", key[0], key[1])
	}
}

func TestResources(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	res := &Resource{Title: "Syllabus", Filename: "0011223344556677.pdf"}
	if err := store.CreateResource(ctx, res); err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	got, err := store.GetResourceByFilename(ctx, res.Filename)
	if err != nil || got.ID != res.ID || got.Title != "Syllabus" {
		t.Fatalf("GetResourceByFilename = %+v, %v", got, err)
	}
	list, err := store.ListResources(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListResources = %v, %v", list, err)
	}
	if err := store.DeleteResource(ctx, res.ID); err != nil {
		t.Fatalf("DeleteResource: %v", err)
	}
	if _, err := store.GetResourceByFilename(ctx, res.Filename); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteSessionStore(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	sessions := &SQLiteSessionStore{pool: store.pool, now: func() time.Time { return now }}

	if err := sessions.Commit("live", []byte{0x01, 0x00, 0xff}, now.Add(time.Hour)); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := sessions.Commit("stale", []byte("old"), now.Add(-time.Minute)); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	data, found, err := sessions.Find("live")
	if err != nil || !found || string(data) != string([]byte{0x01, 0x00, 0xff}) {
		t.Fatalf("Find(live) = %v, %v, %v", data, found, err)
	}
	if _, found, err := sessions.Find("stale"); err != nil || found {
		t.Errorf("Find(stale) found = %v, err = %v", found, err)
	}

	if err := sessions.Commit("live", []byte("updated"), now.Add(2*time.Hour)); err != nil {
		t.Fatalf("Commit update: %v", err)
	}
	if data, _, _ := sessions.Find("live"); string(data) != "updated" {
		t.Errorf("Find after update = %q", data)
	}

	n, err := sessions.DeleteExpired(context.Background())
	if err != nil || n != 1 {
		t.Errorf("DeleteExpired = %d, %v; want 1", n, err)
	}
	if err := sessions.Delete("live"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := sessions.Find("live"); found {
		t.Error("session still present after Delete")
	}
}
