// forum/handlers.go
package forum

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rexlx/eventboard/form"
	"github.com/rexlx/eventboard/mailer"
	"github.com/rexlx/eventboard/resettoken"
)

const PageSize = 5

const (
	sessionUserID = "userID"
	sessionFlash  = "flash"
)

//go:embed templates/*.html
var templateFS embed.FS

// PaginationData holds all the necessary info for rendering pagination controls.
type PaginationData struct {
	CurrentPage int
	TotalPages  int
	NextPage    int
	PrevPage    int
	HasNext     bool
	HasPrev     bool
}

func paginate(page, total, pageSize int) PaginationData {
	totalPages := (total + pageSize - 1) / pageSize
	return PaginationData{
		CurrentPage: page,
		TotalPages:  totalPages,
		NextPage:    page + 1,
		PrevPage:    page - 1,
		HasNext:     page < totalPages,
		HasPrev:     page > 1,
	}
}

// Options wires the handler dependencies.
type Options struct {
	Store      Store
	Sessions   *scs.SessionManager
	Uploads    *Uploads
	Mailer     mailer.Mailer
	Logger     *slog.Logger
	Secret     []byte
	BaseURL    string
	BcryptCost int
	MaxUpload  int64
	ResetTTL   time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type Handlers struct {
	Session *scs.SessionManager

	store      Store
	uploads    *Uploads
	mail       mailer.Mailer
	logger     *slog.Logger
	templates  map[string]*template.Template
	secret     []byte
	baseURL    string
	bcryptCost int
	maxUpload  int64
	resetTTL   time.Duration
	now        func() time.Time
	dummyHash  []byte
}

func NewHandlers(opts Options) (*Handlers, error) {
	if opts.Store == nil || opts.Sessions == nil || opts.Uploads == nil || opts.Mailer == nil {
		return nil, errors.New("forum: store, sessions, uploads and mailer are required")
	}
	if len(opts.Secret) == 0 {
		return nil, errors.New("forum: secret is required")
	}
	tpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	h := &Handlers{
		Session:    opts.Sessions,
		store:      opts.Store,
		uploads:    opts.Uploads,
		mail:       opts.Mailer,
		logger:     opts.Logger,
		templates:  tpl,
		secret:     opts.Secret,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		bcryptCost: opts.BcryptCost,
		maxUpload:  opts.MaxUpload,
		resetTTL:   opts.ResetTTL,
		now:        opts.Now,
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.maxUpload <= 0 {
		h.maxUpload = 16 << 20
	}
	if h.resetTTL <= 0 {
		h.resetTTL = resettoken.DefaultTTL
	}
	// Compared against on unknown emails so both login failures cost a
	// bcrypt round.
	if h.dummyHash, err = HashPassword("unused-password", h.bcryptCost); err != nil {
		return nil, fmt.Errorf("forum: dummy hash: %w", err)
	}
	return h, nil
}

func parseTemplates() (map[string]*template.Template, error) {
	funcs := template.FuncMap{
		"date": func(t time.Time) string { return t.Format("January 2, 2006") },
		"picture": func(name string) string {
			return "/static/" + ProfilePictures + "/" + url.PathEscape(name)
		},
	}
	pages, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	out := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		name := strings.TrimPrefix(page, "templates/")
		if name == "layout.html" {
			continue
		}
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", page)
		if err != nil {
			return nil, fmt.Errorf("forum: parsing %s: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}

// Routes returns the full application handler, sessions included.
func (h *Handlers) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)
	r.Use(h.Session.LoadAndSave)

	r.Get("/", h.public(h.home))
	r.Get("/about", h.public(h.about))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	})

	r.Get("/register", h.anonymousOnly(h.register))
	r.Post("/register", h.anonymousOnly(h.register))
	r.Get("/login", h.anonymousOnly(h.login))
	r.Post("/login", h.anonymousOnly(h.login))
	r.Get("/logout", h.logout)
	r.Post("/logout", h.logout)
	r.Get("/account", h.loginRequired(h.account))
	r.Post("/account", h.loginRequired(h.account))
	r.Post("/account/delete", h.loginRequired(h.deleteAccount))
	r.Get("/user/{username}", h.public(h.userPage))

	r.Get("/reset_password", h.anonymousOnly(h.resetRequest))
	r.Post("/reset_password", h.anonymousOnly(h.resetRequest))
	r.Get("/reset_password/{token}", h.anonymousOnly(h.resetPassword))
	r.Post("/reset_password/{token}", h.anonymousOnly(h.resetPassword))

	r.Get("/events", h.public(h.listEvents))
	r.Get("/event/new", h.loginRequired(h.newEvent))
	r.Post("/event/new", h.loginRequired(h.newEvent))
	r.Get("/event/{id}", h.public(h.showEvent))
	r.Post("/event/{id}", h.loginRequired(h.commentOnEvent))
	r.Get("/event/{id}/update", h.loginRequired(h.updateEvent))
	r.Post("/event/{id}/update", h.loginRequired(h.updateEvent))
	r.Post("/event/{id}/delete", h.loginRequired(h.deleteEvent))

	r.Get("/upload_resources", h.loginRequired(h.uploadResource))
	r.Post("/upload_resources", h.loginRequired(h.uploadResource))
	r.Get("/resources", h.loginRequired(h.listResources))
	r.Get("/return_files/{name}", h.downloadResource)
	r.Post("/resources/{name}/delete", h.loginRequired(h.deleteResource))

	pics := http.StripPrefix("/static/"+ProfilePictures+"/", http.FileServer(http.Dir(h.uploads.Dir(ProfilePictures))))
	r.Handle("/static/"+ProfilePictures+"/*", pics)
	return r
}

func (h *Handlers) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

// --- identity ---

// identityHandler receives the authenticated user explicitly; nil
// means anonymous.
type identityHandler func(w http.ResponseWriter, r *http.Request, user *User)

func (h *Handlers) currentUser(ctx context.Context) (*User, error) {
	id := h.Session.GetString(ctx, sessionUserID)
	if id == "" {
		return nil, nil
	}
	user, err := h.store.GetUserByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		h.Session.Remove(ctx, sessionUserID)
		return nil, nil
	}
	return user, err
}

func (h *Handlers) public(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := h.currentUser(r.Context())
		if err != nil {
			h.serverError(w, r, err)
			return
		}
		next(w, r, user)
	}
}

func (h *Handlers) loginRequired(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := h.currentUser(r.Context())
		if err != nil {
			h.serverError(w, r, err)
			return
		}
		if user == nil {
			h.flash(r.Context(), "Please log in to access this page.")
			http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
			return
		}
		next(w, r, user)
	}
}

func (h *Handlers) anonymousOnly(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := h.currentUser(r.Context())
		if err != nil {
			h.serverError(w, r, err)
			return
		}
		if user != nil {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		next(w, r, nil)
	}
}

func (h *Handlers) establishSession(ctx context.Context, userID string, remember bool) error {
	if err := h.Session.RenewToken(ctx); err != nil {
		return err
	}
	h.Session.Put(ctx, sessionUserID, userID)
	h.Session.RememberMe(ctx, remember)
	return nil
}

// --- rendering ---

type formView struct {
	Values map[string]string
	Errors map[string][]string
	Legend string
}

type viewData struct {
	Title   string
	User    *User
	Flashes []string
	Form    formView
	Data    any
}

func (h *Handlers) flash(ctx context.Context, msg string) {
	h.Session.Put(ctx, sessionFlash, msg)
}

func (h *Handlers) render(w http.ResponseWriter, r *http.Request, status int, page string, data viewData) {
	tpl, ok := h.templates[page]
	if !ok {
		h.serverError(w, r, fmt.Errorf("template %s not found", page))
		return
	}
	if msg := h.Session.PopString(r.Context(), sessionFlash); msg != "" {
		data.Flashes = append([]string{msg}, data.Flashes...)
	}
	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		h.serverError(w, r, fmt.Errorf("executing %s: %w", page, err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func formState(res form.Result, legend string) formView {
	return formView{Values: res.Values, Errors: res.Errors, Legend: legend}
}

func (h *Handlers) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func forbidden(w http.ResponseWriter) {
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}

// parseForm limits the body and parses urlencoded or multipart input.
// It writes the error response itself and reports false on failure.
func (h *Handlers) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		err = r.ParseMultipartForm(8 << 20)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return false
	}
	return true
}

// formFile returns the first uploaded file for name, if any.
func formFile(r *http.Request, name string) *multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	if files := r.MultipartForm.File[name]; len(files) > 0 {
		return files[0]
	}
	return nil
}

// safeNext accepts only local absolute paths.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return next
}

func pageParam(r *http.Request) int {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	return page
}

// --- static pages ---

func (h *Handlers) home(w http.ResponseWriter, r *http.Request, user *User) {
	posts, err := h.store.ListPosts(r.Context(), 1, 3)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "home.html", viewData{Title: "Home Page", User: user, Data: posts})
}

func (h *Handlers) about(w http.ResponseWriter, r *http.Request, user *User) {
	h.render(w, r, http.StatusOK, "about.html", viewData{Title: "About Page", User: user})
}
