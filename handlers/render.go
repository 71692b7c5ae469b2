package handlers

import (
	"bytes"
	"net/http"

	"hospital/models"

	"go.uber.org/zap"
)

// render executes a page into a buffer first so a template error can still become a
// clean 500 response.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, page string, data models.PageData) {
	t, ok := h.pages[page]
	if !ok {
		h.serverError(w, r, errUnknownPage(page))
		return
	}

	buf := new(bytes.Buffer)
	if err := t.ExecuteTemplate(buf, "base", data); err != nil {
		h.serverError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.log.Error("internal error",
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	h.errorPage(w, http.StatusInternalServerError, "500 - Server Error")
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	h.errorPage(w, http.StatusNotFound, "404 - Page Not Found")
}

func (h *Handler) forbidden(w http.ResponseWriter, r *http.Request) {
	h.log.Warn("csrf check failed",
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("path", r.URL.Path))
	h.errorPage(w, http.StatusForbidden, "403 - Invalid or missing form token")
}

// errorPage never goes through serverError, a failing error template would loop.
func (h *Handler) errorPage(w http.ResponseWriter, status int, title string) {
	buf := new(bytes.Buffer)
	if t, ok := h.pages["error"]; ok {
		if err := t.ExecuteTemplate(buf, "base", models.PageData{Message: title}); err == nil {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(status)
			buf.WriteTo(w)
			return
		}
	}
	http.Error(w, title, status)
}

type errUnknownPage string

func (e errUnknownPage) Error() string {
	return "unknown page " + string(e)
}
