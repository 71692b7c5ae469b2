package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"hospital/auth"
	"hospital/models"
	"hospital/utils"

	"go.uber.org/zap"
)

const (
	verifyFirstMessage   = "Please verify your email before logging in"
	signupOKMessage      = "Registration successful! Please check your email to verify your account."
	signupNoMailMessage  = "Registration successful but verification email could not be sent. Please contact support."
	verifiedMessage      = "Email verified successfully! You can now log in."
	verifyFailedMessage  = "Invalid or expired verification link."
	loginRequiredMessage = "Please enter username and password"
	resendOKMessage      = "If an unverified account uses that email, a new verification link has been sent."
	resendNoMailMessage  = "The verification email could not be sent. Please try again later."
)

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(w, r)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if s != nil && s.LoggedIn {
		http.Redirect(w, r, "/home", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (h *Handler) loginPage(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(w, r)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if s != nil && s.LoggedIn {
		user, err := h.auth.CurrentUser(r.Context(), s.UserID)
		if err == nil && user.IsVerified() {
			http.Redirect(w, r, "/home", http.StatusFound)
			return
		}
	}
	h.render(w, r, http.StatusOK, "login", models.PageData{})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render(w, r, http.StatusBadRequest, "login", models.PageData{Error: loginRequiredMessage})
		return
	}
	username := r.PostForm.Get("username")
	data := models.PageData{Form: models.FormData{Username: username}}

	user, err := h.auth.Login(r.Context(), auth.LoginInput{
		Username:  username,
		Password:  r.PostForm.Get("password"),
		ClientKey: utils.GetIP(r, h.opts.TrustProxy),
	})
	if err != nil {
		var (
			verr *auth.ValidationError
			rl   *auth.RateLimitError
		)
		switch {
		case errors.As(err, &verr):
			data.Error = loginRequiredMessage
			h.render(w, r, http.StatusUnprocessableEntity, "login", data)
		case errors.As(err, &rl):
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())))
			data.Error = rl.Message()
			h.render(w, r, http.StatusTooManyRequests, "login", data)
		case errors.Is(err, auth.ErrInvalidCredentials):
			data.Error = auth.InvalidCredentialsMessage
			h.render(w, r, http.StatusOK, "login", data)
		default:
			h.serverError(w, r, err)
		}
		return
	}

	old, err := h.lookupSession(r)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	s, err := h.sessions.Rotate(r.Context(), old, models.Session{
		UserID:    user.ID,
		Username:  user.Username,
		LoggedIn:  true,
		UserAgent: utils.GetUserAgent(r),
		IPAddress: utils.GetIP(r, h.opts.TrustProxy),
	})
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	utils.SetSessionCookie(w, s.SessionToken, h.sessions.TTL(), h.opts.SecureCookies)
	utils.SetUsernameCookie(w, user.Username, h.opts.UsernameCookieTTL, h.opts.SecureCookies)

	if !user.IsVerified() {
		data.Error = verifyFirstMessage
		data.IsLoggedIn = true
		data.Username = user.Username
		h.render(w, r, http.StatusOK, "login", data)
		return
	}
	http.Redirect(w, r, "/home", http.StatusFound)
}

func (h *Handler) signupPage(w http.ResponseWriter, r *http.Request) {
	s, err := h.anonymousSession(w, r)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "signup", models.PageData{CSRFtoken: s.CSRFToken})
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	s, ok := h.checkCSRF(w, r)
	if !ok {
		return
	}

	in := auth.SignupInput{
		Username: r.PostForm.Get("username"),
		Password: r.PostForm.Get("password"),
		Email:    r.PostForm.Get("email"),
	}
	data := models.PageData{
		CSRFtoken: s.CSRFToken,
		Form:      models.FormData{Username: in.Username, Email: in.Email},
	}

	res, err := h.auth.Signup(r.Context(), in)
	if err != nil {
		var (
			verr     *auth.ValidationError
			conflict *auth.ConflictError
		)
		switch {
		case errors.As(err, &verr):
			data.Errors = verr.Fields
			h.render(w, r, http.StatusUnprocessableEntity, "signup", data)
		case errors.As(err, &conflict):
			data.Error = conflict.Message()
			h.render(w, r, http.StatusOK, "signup", data)
		default:
			h.serverError(w, r, err)
		}
		return
	}

	if res.DeliveryErr != nil {
		h.render(w, r, http.StatusOK, "signup_success", models.PageData{Error: signupNoMailMessage})
		return
	}
	h.render(w, r, http.StatusOK, "signup_success", models.PageData{Message: signupOKMessage})
}

func (h *Handler) verifyPage(w http.ResponseWriter, r *http.Request) {
	s, err := h.anonymousSession(w, r)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	q := r.URL.Query()
	h.render(w, r, http.StatusOK, "verify", models.PageData{
		CSRFtoken: s.CSRFToken,
		Form:      models.FormData{ID: q.Get("id"), Token: q.Get("token")},
	})
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.checkCSRF(w, r); !ok {
		return
	}

	// A malformed id is reported like any other failed verification.
	id, _ := strconv.ParseInt(r.PostForm.Get("id"), 10, 64)
	err := h.auth.Verify(r.Context(), id, r.PostForm.Get("token"))
	switch {
	case err == nil:
		h.render(w, r, http.StatusOK, "verify_result", models.PageData{Message: verifiedMessage})
	case errors.Is(err, auth.ErrVerificationFailed):
		h.render(w, r, http.StatusOK, "verify_result", models.PageData{Error: verifyFailedMessage})
	default:
		h.serverError(w, r, err)
	}
}

func (h *Handler) resendVerification(w http.ResponseWriter, r *http.Request) {
	s, ok := h.checkCSRF(w, r)
	if !ok {
		return
	}

	email := r.PostForm.Get("email")
	data := models.PageData{CSRFtoken: s.CSRFToken, Form: models.FormData{Email: email}}

	err := h.auth.ResendVerification(r.Context(), auth.ResendInput{
		Email:     email,
		ClientKey: utils.GetIP(r, h.opts.TrustProxy),
	})
	if err == nil {
		data.Message = resendOKMessage
		h.render(w, r, http.StatusOK, "verify", data)
		return
	}

	var (
		verr *auth.ValidationError
		rl   *auth.RateLimitError
		derr *auth.DeliveryError
	)
	switch {
	case errors.As(err, &verr):
		data.Errors = verr.Fields
		h.render(w, r, http.StatusUnprocessableEntity, "verify", data)
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())))
		data.Error = rl.Message()
		h.render(w, r, http.StatusTooManyRequests, "verify", data)
	case errors.As(err, &derr):
		data.Error = resendNoMailMessage
		h.render(w, r, http.StatusOK, "verify", data)
	default:
		h.serverError(w, r, err)
	}
}

func (h *Handler) home(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(w, r)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if s == nil || !s.LoggedIn {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	user, err := h.auth.CurrentUser(r.Context(), s.UserID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		h.serverError(w, r, err)
		return
	}
	if !user.IsVerified() {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	h.render(w, r, http.StatusOK, "home", models.PageData{IsLoggedIn: true, Username: user.Username})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(utils.SessionCookie); err == nil && c.Value != "" {
		if err := h.sessions.Delete(r.Context(), c.Value); err != nil && !errors.Is(err, utils.ErrSessionNotFound) {
			h.log.Error("failed to delete session", zap.Error(err))
		}
	}
	utils.ClearCookies(w, h.opts.SecureCookies)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// checkCSRF parses the form and compares its csrf_token with the session's. On failure
// the 403 page has already been written.
func (h *Handler) checkCSRF(w http.ResponseWriter, r *http.Request) (*models.Session, bool) {
	if err := r.ParseForm(); err != nil {
		h.forbidden(w, r)
		return nil, false
	}
	s, err := h.session(w, r)
	if err != nil {
		h.serverError(w, r, err)
		return nil, false
	}
	if !utils.CheckCSRF(s, r.PostForm.Get("csrf_token")) {
		h.forbidden(w, r)
		return nil, false
	}
	return s, true
}
