package forum

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rexlx/eventboard/form"
)

func (h *Handlers) uploadResource(w http.ResponseWriter, r *http.Request, user *User) {
	view := viewData{Title: "Upload Resources", User: user}
	if r.Method != http.MethodPost {
		h.render(w, r, http.StatusOK, "upload_resources.html", view)
		return
	}
	if !h.parseForm(w, r) {
		return
	}
	ctx := r.Context()
	res, err := form.Validate(ctx, uploadResourceForm, r.PostForm)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	header := formFile(r, "content")
	if header == nil {
		res.Add("content", "This field is required.")
	}
	var filename string
	if res.OK() {
		filename, err = h.uploads.SaveResource(header)
		if errors.Is(err, ErrDisallowedExtension) {
			res.Add("content", "File type not allowed. Allowed: "+strings.Join(ResourceExtensions, ", ")+".")
		} else if err != nil {
			h.serverError(w, r, err)
			return
		}
	}
	if !res.OK() {
		view.Form = formState(res, "")
		h.render(w, r, http.StatusOK, "upload_resources.html", view)
		return
	}

	resource := &Resource{Title: res.Get("title"), Filename: filename}
	if err := h.store.CreateResource(ctx, resource); err != nil {
		h.uploads.Remove(Resources, filename)
		h.serverError(w, r, err)
		return
	}
	h.logger.Info("resource uploaded", "resource_id", resource.ID, "file", filename, "user_id", user.ID)
	http.Redirect(w, r, "/resources", http.StatusSeeOther)
}

func (h *Handlers) listResources(w http.ResponseWriter, r *http.Request, user *User) {
	resources, err := h.store.ListResources(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "resources.html", viewData{Title: "Resources", User: user, Data: resources})
}

// downloadResource serves any stored resource file by name. There is
// no access control.
func (h *Handlers) downloadResource(w http.ResponseWriter, r *http.Request) {
	path, err := h.uploads.Path(Resources, chi.URLParam(r, "name"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (h *Handlers) deleteResource(w http.ResponseWriter, r *http.Request, user *User) {
	ctx := r.Context()
	resource, err := h.store.GetResourceByFilename(ctx, chi.URLParam(r, "name"))
	if errors.Is(err, ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if err := h.store.DeleteResource(ctx, resource.ID); err != nil {
		h.serverError(w, r, err)
		return
	}
	if err := h.uploads.Remove(Resources, resource.Filename); err != nil {
		h.logger.Warn("resource file not removed", "file", resource.Filename, "error", err)
	}
	h.logger.Info("resource deleted", "resource_id", resource.ID, "user_id", user.ID)
	h.flash(ctx, "The file has been deleted.")
	http.Redirect(w, r, "/resources", http.StatusSeeOther)
}
