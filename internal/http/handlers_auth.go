package http

import (
	"errors"
	"net/http"
	"net/url"

	"spendwise/internal/auth"
	"spendwise/internal/core"
	applog "spendwise/internal/log"
)

func (s *Server) handleSignupPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "signup.html", s.newPage(r, "Sign up"))
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	email := sanitizeInput(r.PostForm.Get("email"))
	name := sanitizeInput(r.PostForm.Get("name"))

	user, err := s.auth.SignUp(r.Context(), email, name, r.PostForm.Get("password"))
	if err != nil && user.Email == "" {
		p := s.newPage(r, "Sign up")
		p.Error = userMessage(err)
		p.Form["email"], p.Form["name"] = email, name
		if statusFor(err) == http.StatusInternalServerError {
			applog.FromContext(r.Context()).ErrorContext(r.Context(), "Sign up failed", applog.FieldError, err)
		}
		s.render(w, r, statusFor(err), "signup.html", p)
		return
	}

	target := "/verify?email=" + url.QueryEscape(user.Email)
	if err != nil {
		// The account exists; the user can ask for a new code from the verify page.
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Verification code not sent",
			applog.FieldUser, user.Email, applog.FieldError, err)
		target += "&unsent=1"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) handleVerifyPage(w http.ResponseWriter, r *http.Request) {
	p := s.newPage(r, "Verify your email")
	p.Form["email"] = r.URL.Query().Get("email")
	if r.URL.Query().Get("unsent") != "" {
		p.Error = "We could not send your code. Use resend to try again."
	}
	s.render(w, r, http.StatusOK, "verify.html", p)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	email := sanitizeInput(r.PostForm.Get("email"))
	if err := s.auth.VerifyEmail(r.Context(), email, r.PostForm.Get("code")); err != nil {
		p := s.newPage(r, "Verify your email")
		p.Error = userMessage(err)
		p.Form["email"] = email
		s.render(w, r, statusFor(err), "verify.html", p)
		return
	}
	http.Redirect(w, r, "/login?verified=1", http.StatusSeeOther)
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	email := sanitizeInput(r.PostForm.Get("email"))
	p := s.newPage(r, "Verify your email")
	p.Form["email"] = email
	if err := s.auth.ResendCode(r.Context(), email); err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Resend code failed", applog.FieldError, err)
		p.Error = userMessage(err)
		s.render(w, r, statusFor(err), "verify.html", p)
		return
	}
	p.Flash = "If the address is waiting for verification, a new code is on its way."
	s.render(w, r, http.StatusOK, "verify.html", p)
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	p := s.newPage(r, "Log in")
	switch {
	case r.URL.Query().Get("verified") != "":
		p.Flash = "Email verified. You can log in now."
	case r.URL.Query().Get("reset") != "":
		p.Flash = "Password updated. Log in with your new password."
	}
	s.render(w, r, http.StatusOK, "login.html", p)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	email := sanitizeInput(r.PostForm.Get("email"))
	sess, err := s.auth.Login(r.Context(), email, r.PostForm.Get("password"))
	if errors.Is(err, core.ErrNotVerified) {
		http.Redirect(w, r, "/verify?email="+url.QueryEscape(core.NormalizeEmail(email)), http.StatusSeeOther)
		return
	}
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			applog.FromContext(r.Context()).ErrorContext(r.Context(), "Login failed", applog.FieldError, err)
		}
		p := s.newPage(r, "Log in")
		p.Error = userMessage(err)
		p.Form["email"] = email
		s.render(w, r, statusFor(err), "login.html", p)
		return
	}
	auth.SetSessionCookie(w, sess, s.cookieSecure)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := auth.TokenFromRequest(r); token != "" {
		if err := s.auth.Logout(r.Context(), token); err != nil {
			applog.FromContext(r.Context()).ErrorContext(r.Context(), "Logout failed", applog.FieldError, err)
		}
	}
	auth.ClearSessionCookie(w, s.cookieSecure)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) handleForgotPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "forgot.html", s.newPage(r, "Forgot password"))
}

func (s *Server) handleForgot(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	email := sanitizeInput(r.PostForm.Get("email"))
	p := s.newPage(r, "Forgot password")
	p.Form["email"] = email
	if err := s.auth.RequestPasswordReset(r.Context(), email); err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			applog.FromContext(r.Context()).ErrorContext(r.Context(), "Password reset request failed", applog.FieldError, err)
		}
		p.Error = userMessage(err)
		s.render(w, r, statusFor(err), "forgot.html", p)
		return
	}
	p.Flash = "If an account exists for that address, a reset link has been sent."
	s.render(w, r, http.StatusOK, "forgot.html", p)
}

func (s *Server) handleResetPage(w http.ResponseWriter, r *http.Request) {
	p := s.newPage(r, "Choose a new password")
	p.Form["token"] = r.URL.Query().Get("token")
	s.render(w, r, http.StatusOK, "reset.html", p)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	token := r.PostForm.Get("token")
	if err := s.auth.ResetPassword(r.Context(), token, r.PostForm.Get("password")); err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			applog.FromContext(r.Context()).ErrorContext(r.Context(), "Password reset failed", applog.FieldError, err)
		}
		p := s.newPage(r, "Choose a new password")
		p.Error = userMessage(err)
		p.Form["token"] = token
		s.render(w, r, statusFor(err), "reset.html", p)
		return
	}
	http.Redirect(w, r, "/login?reset=1", http.StatusSeeOther)
}
