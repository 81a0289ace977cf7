package forum

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/rexlx/eventboard/form"
	"github.com/rexlx/eventboard/mailer"
	"github.com/rexlx/eventboard/resettoken"
)

const (
	loginFailedMessage  = "Login unsuccessful. Please check email and password."
	invalidTokenMessage = "That is an invalid or expired token."
)

func (h *Handlers) register(w http.ResponseWriter, r *http.Request, _ *User) {
	view := viewData{Title: "Register Page"}
	if r.Method != http.MethodPost {
		h.render(w, r, http.StatusOK, "register.html", view)
		return
	}
	if !h.parseForm(w, r) {
		return
	}
	ctx := r.Context()
	res, err := form.Validate(ctx, h.registrationForm(), r.PostForm)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if !res.OK() {
		view.Form = formState(res, "")
		h.render(w, r, http.StatusOK, "register.html", view)
		return
	}

	user := NewUser(res.Get("username"), res.Get("email"), h.now())
	if err := user.SetPassword(res.Get("password"), h.bcryptCost); err != nil {
		h.serverError(w, r, err)
		return
	}
	if err := h.store.CreateUser(ctx, user); err != nil {
		h.serverError(w, r, err)
		return
	}
	if err := h.establishSession(ctx, user.ID, false); err != nil {
		h.serverError(w, r, err)
		return
	}
	h.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	h.flash(ctx, fmt.Sprintf("Registration is successful. Welcome, %s.", user.Username))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// authenticate returns the user only when both email and password
// match. Unknown emails still pay for a bcrypt comparison.
func (h *Handlers) authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := h.store.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ok, err := user.PasswordMatches(password)
	if err != nil || !ok {
		return nil, err
	}
	return user, nil
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request, _ *User) {
	view := viewData{Title: "Login Page"}
	if r.Method != http.MethodPost {
		h.render(w, r, http.StatusOK, "login.html", view)
		return
	}
	if !h.parseForm(w, r) {
		return
	}
	ctx := r.Context()
	res, err := form.Validate(ctx, loginForm, r.PostForm)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if !res.OK() {
		view.Form = formState(res, "")
		h.render(w, r, http.StatusOK, "login.html", view)
		return
	}

	user, err := h.authenticate(ctx, res.Get("email"), res.Get("password"))
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if user == nil {
		h.logger.Info("login failed", "remote", r.RemoteAddr)
		view.Form = formView{Values: map[string]string{"email": res.Get("email")}}
		view.Flashes = []string{loginFailedMessage}
		h.render(w, r, http.StatusOK, "login.html", view)
		return
	}

	remember := res.Get("remember") != ""
	if err := h.establishSession(ctx, user.ID, remember); err != nil {
		h.serverError(w, r, err)
		return
	}
	http.Redirect(w, r, safeNext(r.URL.Query().Get("next")), http.StatusSeeOther)
}

func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Destroy(r.Context()); err != nil {
		h.serverError(w, r, err)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

type accountView struct {
	ImageFile string
}

func (h *Handlers) account(w http.ResponseWriter, r *http.Request, user *User) {
	view := viewData{Title: "Account", User: user, Data: accountView{ImageFile: user.ImageFile}}
	if r.Method != http.MethodPost {
		view.Form = formView{Values: map[string]string{"username": user.Username}}
		h.render(w, r, http.StatusOK, "account.html", view)
		return
	}
	if !h.parseForm(w, r) {
		return
	}
	ctx := r.Context()
	res, err := form.Validate(ctx, h.updateAccountForm(user), r.PostForm)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	picture := user.ImageFile
	if res.OK() {
		if header := formFile(r, "picture"); header != nil {
			name, err := h.uploads.SavePicture(header)
			switch {
			case errors.Is(err, ErrDisallowedExtension):
				res.Add("picture", "File does not have an approved extension: jpg, jpeg, png.")
			case errors.Is(err, ErrNotAnImage):
				res.Add("picture", "File is not a valid image.")
			case err != nil:
				h.serverError(w, r, err)
				return
			default:
				picture = name
			}
		}
	}
	if !res.OK() {
		view.Form = formState(res, "")
		h.render(w, r, http.StatusOK, "account.html", view)
		return
	}

	if err := h.store.UpdateUserProfile(ctx, user.ID, res.Get("username"), picture); err != nil {
		if picture != user.ImageFile {
			h.uploads.Remove(ProfilePictures, picture)
		}
		h.serverError(w, r, err)
		return
	}
	if picture != user.ImageFile {
		if err := h.uploads.Remove(ProfilePictures, user.ImageFile); err != nil {
			h.logger.Warn("old profile picture not removed", "file", user.ImageFile, "error", err)
		}
	}
	h.flash(ctx, "Your account has been updated.")
	http.Redirect(w, r, "/account", http.StatusSeeOther)
}

func (h *Handlers) deleteAccount(w http.ResponseWriter, r *http.Request, user *User) {
	ctx := r.Context()
	err := h.store.DeleteUser(ctx, user.ID)
	if errors.Is(err, ErrRestricted) {
		h.flash(ctx, "Your account still has events or comments and cannot be deleted.")
		http.Redirect(w, r, "/account", http.StatusSeeOther)
		return
	}
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if err := h.uploads.Remove(ProfilePictures, user.ImageFile); err != nil {
		h.logger.Warn("profile picture not removed", "file", user.ImageFile, "error", err)
	}
	if err := h.Session.Destroy(ctx); err != nil {
		h.serverError(w, r, err)
		return
	}
	h.logger.Info("user deleted", "user_id", user.ID)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type userPageView struct {
	Profile *User
	Posts   []Post
}

func (h *Handlers) userPage(w http.ResponseWriter, r *http.Request, user *User) {
	ctx := r.Context()
	profile, err := h.store.GetUserByUsername(ctx, chi.URLParam(r, "username"))
	if errors.Is(err, ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	posts, err := h.store.ListPostsByUser(ctx, profile.ID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "user.html", viewData{
		Title: profile.Username,
		User:  user,
		Data:  userPageView{Profile: profile, Posts: posts},
	})
}

// --- password reset ---

func (h *Handlers) resetRequest(w http.ResponseWriter, r *http.Request, _ *User) {
	view := viewData{Title: "Reset Password"}
	if r.Method != http.MethodPost {
		h.render(w, r, http.StatusOK, "reset_request.html", view)
		return
	}
	if !h.parseForm(w, r) {
		return
	}
	ctx := r.Context()
	res, err := form.Validate(ctx, requestResetForm, r.PostForm)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if !res.OK() {
		view.Form = formState(res, "")
		h.render(w, r, http.StatusOK, "reset_request.html", view)
		return
	}

	user, err := h.store.GetUserByEmail(ctx, res.Get("email"))
	switch {
	case errors.Is(err, ErrNotFound):
		h.logger.Debug("password reset requested for unknown email")
	case err != nil:
		h.serverError(w, r, err)
		return
	default:
		if err := h.sendResetEmail(ctx, user); err != nil {
			h.logger.Error("password reset email failed", "user_id", user.ID, "error", err)
		}
	}
	h.flash(ctx, "If an account exists for that email, a message has been sent with instructions to reset your password.")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handlers) sendResetEmail(ctx context.Context, user *User) error {
	token, err := resettoken.Sign(h.secret, user.ID, h.now(), h.resetTTL)
	if err != nil {
		return err
	}
	link := h.baseURL + "/reset_password/" + token
	return h.mail.Send(ctx, mailer.Message{
		To:      user.Email,
		Subject: "Password Reset Request",
		Body: "To reset your password, visit the following link:\n" + link +
			"\n\nIf you did not make this request, ignore this email and no changes will be made.\n",
	})
}

// userFromResetToken resolves a token to its user. Tokens issued
// before the user's last password change are spent.
func (h *Handlers) userFromResetToken(ctx context.Context, token string) (*User, error) {
	claims, err := resettoken.Verify(h.secret, token, h.now())
	if err != nil {
		return nil, nil
	}
	user, err := h.store.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if claims.IssuedAt.Before(user.PasswordChangedAt.Truncate(time.Second)) {
		return nil, nil
	}
	return user, nil
}

func (h *Handlers) resetPassword(w http.ResponseWriter, r *http.Request, _ *User) {
	ctx := r.Context()
	user, err := h.userFromResetToken(ctx, chi.URLParam(r, "token"))
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if user == nil {
		h.flash(ctx, invalidTokenMessage)
		http.Redirect(w, r, "/reset_password", http.StatusSeeOther)
		return
	}

	view := viewData{Title: "Reset Password"}
	if r.Method != http.MethodPost {
		h.render(w, r, http.StatusOK, "reset_token.html", view)
		return
	}
	if !h.parseForm(w, r) {
		return
	}
	res, err := form.Validate(ctx, resetPasswordForm, r.PostForm)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if !res.OK() {
		view.Form = formState(res, "")
		h.render(w, r, http.StatusOK, "reset_token.html", view)
		return
	}
	hash, err := HashPassword(res.Get("password"), h.bcryptCost)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if err := h.store.UpdatePassword(ctx, user.ID, hash, h.now().UTC()); err != nil {
		h.serverError(w, r, err)
		return
	}
	h.logger.Info("password reset", "user_id", user.ID)
	h.flash(ctx, "Your password has been updated. You are now able to log in.")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
