package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"serviceelectro.org/internal/account"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	Email     string       `json:"email"`
	Role      account.Role `json:"role"`
	UserID    int64        `json:"userId"`
	Username  string       `json:"username"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt.UTC(),
		Email:     res.Email,
		Role:      res.Role,
		UserID:    res.UserID,
		Username:  res.DisplayName,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	p, err := principal(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if !p.CanActFor(userID) {
		writeError(w, r, http.StatusForbidden, "cannot log out another user")
		return
	}
	if err := a.auth.Logout(r.Context(), userID); err != nil {
		writeError(w, r, http.StatusBadRequest, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in account.SignupInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acc, err := a.accounts.Signup(r.Context(), in)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/admin/users/"+strconv.FormatInt(acc.ID, 10))
	writeJSON(w, http.StatusCreated, acc)
}
