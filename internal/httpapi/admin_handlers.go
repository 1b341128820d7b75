package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"shalomjobs.org/internal/auth"
	"shalomjobs.org/internal/seclog"
)

const maxLockMinutes = int(auth.MaxLockDuration / time.Minute)

type lockRequest struct {
	Minutes int `json:"minutes"`
}

type securityLevelRequest struct {
	SecurityLevel string `json:"security_level"`
}

func actor(r *http.Request) auth.Account {
	sess, _ := auth.SessionFromContext(r.Context())
	return sess.Account
}

func (a *API) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := a.auth.ListAccounts(r.Context(), actor(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	type userView struct {
		auth.Account
		FailedAttempts int  `json:"failedAttempts"`
		Locked         bool `json:"locked"`
	}
	out := make([]userView, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, userView{
			Account:        acc,
			FailedAttempts: a.auth.Tracker().Get(r.Context(), acc.Email).Count,
			Locked:         a.auth.IsLocked(r.Context(), acc),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

func (a *API) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := a.auth.DeleteAccount(r.Context(), actor(r), r.PathValue("id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAdminUnlock(w http.ResponseWriter, r *http.Request) {
	acc, err := a.auth.UnlockAccount(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) handleAdminLock(w http.ResponseWriter, r *http.Request) {
	req := lockRequest{Minutes: 60}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Minutes < 1 || req.Minutes > maxLockMinutes {
		writeError(w, r, http.StatusBadRequest, "minutes must be between 1 and "+strconv.Itoa(maxLockMinutes))
		return
	}
	acc, err := a.auth.LockAccount(r.Context(), actor(r), r.PathValue("id"), time.Duration(req.Minutes)*time.Minute)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) handleAdminSecurityLevel(w http.ResponseWriter, r *http.Request) {
	var req securityLevelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	level, ok := auth.ParseSecurityLevel(req.SecurityLevel)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "security_level must be standard, high or restricted")
		return
	}
	acc, err := a.auth.SetSecurityLevel(r.Context(), actor(r), r.PathValue("id"), level)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) handleAdminSecurityLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stream, ok := seclog.ParseStream(q.Get("stream"))
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown stream")
		return
	}
	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stream":  stream,
		"entries": a.seclog.List(r.Context(), stream, limit),
	})
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v < min || v > max {
		return 0, strconv.ErrRange
	}
	return v, nil
}
