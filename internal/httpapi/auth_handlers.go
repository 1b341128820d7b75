package httpapi

import (
	"net/http"
	"time"

	"shalomjobs.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User      auth.Account `json:"user"`
	ExpiresAt string       `json:"expires_at"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.auth.Register(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.auth.Logout(r.Context(), sess.Token); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "signed_out",
		"redirect": "/login",
	})
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		User:      sess.Account,
		ExpiresAt: sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
