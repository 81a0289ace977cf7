package forum

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rexlx/eventboard/form"
)

// EventsViewData is the data structure for the events list page.
type EventsViewData struct {
	Posts      []Post
	Pagination PaginationData
}

// EventViewData is the data structure for the single event page.
type EventViewData struct {
	Post     *Post
	Comments []Comment
	CanEdit  bool
}

// listEvents pages through all events, newest first.
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request, user *User) {
	ctx := r.Context()
	page := pageParam(r)

	total, err := h.store.CountPosts(ctx)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	pagination := paginate(page, total, PageSize)
	if page > 1 && page > pagination.TotalPages {
		http.NotFound(w, r)
		return
	}
	posts, err := h.store.ListPosts(ctx, page, PageSize)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	h.render(w, r, http.StatusOK, "events.html", viewData{
		Title: "Recent Events",
		User:  user,
		Data:  EventsViewData{Posts: posts, Pagination: pagination},
	})
}

// loadPost resolves the {id} URL parameter. It writes a 404 and
// returns nil when the event does not exist.
func (h *Handlers) loadPost(w http.ResponseWriter, r *http.Request) *Post {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		http.NotFound(w, r)
		return nil
	}
	post, err := h.store.GetPost(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		http.NotFound(w, r)
		return nil
	}
	if err != nil {
		h.serverError(w, r, err)
		return nil
	}
	return post
}

func (h *Handlers) newEvent(w http.ResponseWriter, r *http.Request, user *User) {
	view := viewData{Title: "New Event", User: user, Form: formView{Legend: "Create New Event"}}
	if r.Method != http.MethodPost {
		h.render(w, r, http.StatusOK, "event_form.html", view)
		return
	}
	if !h.parseForm(w, r) {
		return
	}
	ctx := r.Context()
	res, err := form.Validate(ctx, eventForm, r.PostForm)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if !res.OK() {
		view.Form = formState(res, view.Form.Legend)
		h.render(w, r, http.StatusOK, "event_form.html", view)
		return
	}
	post := &Post{
		Title:    res.Get("title"),
		Content:  res.Get("content"),
		Summary:  res.Get("tldr"),
		AuthorID: user.ID,
	}
	if err := h.store.CreatePost(ctx, post); err != nil {
		h.serverError(w, r, err)
		return
	}
	h.logger.Info("event created", "post_id", post.ID, "author_id", user.ID)
	http.Redirect(w, r, "/events", http.StatusSeeOther)
}

func (h *Handlers) renderEvent(w http.ResponseWriter, r *http.Request, user *User, post *Post, fv formView) {
	comments, err := h.store.ListComments(r.Context(), post.ID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "event.html", viewData{
		Title: post.Title,
		User:  user,
		Form:  fv,
		Data:  EventViewData{Post: post, Comments: comments, CanEdit: user.IsAuthor(post)},
	})
}

func (h *Handlers) showEvent(w http.ResponseWriter, r *http.Request, user *User) {
	post := h.loadPost(w, r)
	if post == nil {
		return
	}
	h.renderEvent(w, r, user, post, formView{})
}

func (h *Handlers) commentOnEvent(w http.ResponseWriter, r *http.Request, user *User) {
	post := h.loadPost(w, r)
	if post == nil {
		return
	}
	if !h.parseForm(w, r) {
		return
	}
	ctx := r.Context()
	res, err := form.Validate(ctx, commentForm, r.PostForm)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if !res.OK() {
		h.renderEvent(w, r, user, post, formState(res, ""))
		return
	}
	comment := &Comment{Content: res.Get("content"), AuthorID: user.ID, PostID: post.ID}
	if err := h.store.CreateComment(ctx, comment); err != nil {
		h.serverError(w, r, err)
		return
	}
	http.Redirect(w, r, "/event/"+strconv.FormatInt(post.ID, 10), http.StatusSeeOther)
}

func (h *Handlers) updateEvent(w http.ResponseWriter, r *http.Request, user *User) {
	post := h.loadPost(w, r)
	if post == nil {
		return
	}
	if !user.IsAuthor(post) {
		h.logger.Warn("event update refused", "post_id", post.ID, "user_id", user.ID)
		forbidden(w)
		return
	}
	legend := "Update Event Information"
	view := viewData{Title: "Update Event Information", User: user}
	if r.Method != http.MethodPost {
		view.Form = formView{Legend: legend, Values: map[string]string{
			"title":   post.Title,
			"content": post.Content,
			"tldr":    post.Summary,
		}}
		h.render(w, r, http.StatusOK, "event_form.html", view)
		return
	}
	if !h.parseForm(w, r) {
		return
	}
	ctx := r.Context()
	res, err := form.Validate(ctx, eventForm, r.PostForm)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if !res.OK() {
		view.Form = formState(res, legend)
		h.render(w, r, http.StatusOK, "event_form.html", view)
		return
	}
	post.Title = res.Get("title")
	post.Content = res.Get("content")
	post.Summary = res.Get("tldr")
	if err := h.store.UpdatePost(ctx, post); err != nil {
		h.serverError(w, r, err)
		return
	}
	h.flash(ctx, "The event information has been updated.")
	http.Redirect(w, r, "/event/"+strconv.FormatInt(post.ID, 10), http.StatusSeeOther)
}

// deleteEvent removes the event and, through the posts->comments
// cascade, every comment on it.
func (h *Handlers) deleteEvent(w http.ResponseWriter, r *http.Request, user *User) {
	post := h.loadPost(w, r)
	if post == nil {
		return
	}
	if !user.IsAuthor(post) {
		h.logger.Warn("event delete refused", "post_id", post.ID, "user_id", user.ID)
		forbidden(w)
		return
	}
	ctx := r.Context()
	if err := h.store.DeletePost(ctx, post.ID); err != nil {
		h.serverError(w, r, err)
		return
	}
	h.logger.Info("event deleted", "post_id", post.ID, "author_id", user.ID)
	h.flash(ctx, "The event has been deleted.")
	http.Redirect(w, r, "/events", http.StatusSeeOther)
}
