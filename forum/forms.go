package forum

import (
	"context"

	"github.com/rexlx/eventboard/form"
)

func (h *Handlers) usernameAvailable(exceptID string) form.Check {
	return func(ctx context.Context, v string) (string, error) {
		taken, err := h.store.UsernameTaken(ctx, v, exceptID)
		if err != nil || !taken {
			return "", err
		}
		return "The username is already taken.", nil
	}
}

func (h *Handlers) emailAvailable(ctx context.Context, v string) (string, error) {
	taken, err := h.store.EmailTaken(ctx, v)
	if err != nil || !taken {
		return "", err
	}
	return "The email address is already taken.", nil
}

// maxPasswordBytes is the longest input bcrypt will hash.
const maxPasswordBytes = 72

func passwordFits(_ context.Context, v string) (string, error) {
	if len(v) > maxPasswordBytes {
		return "Password cannot be longer than 72 bytes.", nil
	}
	return "", nil
}

func (h *Handlers) registrationForm() form.Schema {
	return form.Schema{
		Fields: []form.Field{
			{Name: "username", Label: "Username", Rules: "required,min=3,max=20", Checks: []form.Check{h.usernameAvailable("")}},
			{Name: "email", Label: "Email", Rules: "required,email,max=120", Checks: []form.Check{h.emailAvailable}},
			{Name: "password", Label: "Password", Rules: "required", Raw: true, Checks: []form.Check{passwordFits}},
			{Name: "confirm_password", Label: "Confirm Password", Rules: "required", Raw: true},
		},
		Matches: []form.Match{{Field: "confirm_password", Other: "password", Message: "Passwords must match."}},
	}
}

var loginForm = form.Schema{
	Fields: []form.Field{
		{Name: "email", Label: "Email", Rules: "required,email"},
		{Name: "password", Label: "Password", Rules: "required", Raw: true},
		{Name: "remember", Label: "Remember Me"},
	},
}

func (h *Handlers) updateAccountForm(user *User) form.Schema {
	return form.Schema{
		Fields: []form.Field{
			{Name: "username", Label: "Username", Rules: "required,min=3,max=20", Checks: []form.Check{h.usernameAvailable(user.ID)}},
		},
	}
}

var eventForm = form.Schema{
	Fields: []form.Field{
		{Name: "title", Label: "Title", Rules: "required,max=100"},
		{Name: "content", Label: "Content", Rules: "required"},
		{Name: "tldr", Label: "TL;DR", Rules: "max=200"},
	},
}

var commentForm = form.Schema{
	Fields: []form.Field{
		{Name: "content", Label: "Content", Rules: "required"},
	},
}

var uploadResourceForm = form.Schema{
	Fields: []form.Field{
		{Name: "title", Label: "Title", Rules: "required,max=100"},
	},
}

var requestResetForm = form.Schema{
	Fields: []form.Field{
		{Name: "email", Label: "Email", Rules: "required,email"},
	},
}

var resetPasswordForm = form.Schema{
	Fields: []form.Field{
		{Name: "password", Label: "Password", Rules: "required", Raw: true, Checks: []form.Check{passwordFits}},
		{Name: "confirm_password", Label: "Confirm Password", Rules: "required", Raw: true},
	},
	Matches: []form.Match{{Field: "confirm_password", Other: "password", Message: "Passwords must match."}},
}
