package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/envvault/internal/users"
)

type credentialsBody struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userRequest struct {
	User credentialsBody `json:"user"`
}

type profileUpdateRequest struct {
	User struct {
		Username *string `json:"username"`
		Email    *string `json:"email"`
		Avatar   *string `json:"avatar"`
		Password *string `json:"password"`
	} `json:"user"`
}

type userResponse struct {
	User *users.Profile `json:"user"`
}

type pendingResponse struct {
	Status string `json:"status"`
	Msg    string `json:"msg"`
	Email  string `json:"email"`
}

type apiKeyResponse struct {
	Status string `json:"status"`
	APIKey string `json:"apiKey"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// handleRegister handles POST /api/users/register.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req userRequest
	if !h.decode(w, r, &req) {
		return
	}

	reg, err := h.users.Register(r.Context(), users.RegisterInput{
		Username: req.User.Username,
		Email:    req.User.Email,
		Password: req.User.Password,
	})
	if err != nil {
		h.fail(w, r, "register", start, err)
		return
	}

	if reg.Pending {
		writeJSON(w, http.StatusOK, pendingResponse{
			Status: "success",
			Msg:    "Awaiting Email confirmation",
			Email:  reg.Email,
		})
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{User: users.NewProfile(reg.Session.User, reg.Session.Token)})
}

// handleConfirm handles GET /api/users/confirm/{sealed}.
func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sealed := mux.Vars(r)["sealed"]

	session, err := h.users.Confirm(r.Context(), sealed)
	if err != nil {
		h.fail(w, r, "confirm", start, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{User: users.NewProfile(session.User, session.Token)})
}

// handleLogin handles POST /api/users/login.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req userRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.users.Login(r.Context(), req.User.Email, req.User.Password)
	if err != nil {
		h.fail(w, r, "login", start, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: users.NewProfile(session.User, session.Token)})
}

// handleGetMe handles GET /api/users/me.
func (h *Handler) handleGetMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userResponse{User: users.NewProfile(userFrom(r.Context()), sessionToken(r))})
}

// handleUpdateMe handles PUT /api/users/me.
func (h *Handler) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req profileUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}

	updated, err := h.users.UpdateProfile(r.Context(), userFrom(r.Context()), users.ProfileUpdate{
		Username: req.User.Username,
		Email:    req.User.Email,
		Avatar:   req.User.Avatar,
		Password: req.User.Password,
	})
	if err != nil {
		h.fail(w, r, "update_profile", start, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: users.NewProfile(updated, sessionToken(r))})
}

// handleDeleteMe handles DELETE /api/users/me.
func (h *Handler) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if err := h.users.Delete(r.Context(), userFrom(r.Context())); err != nil {
		h.fail(w, r, "delete_user", start, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

// handleGenerateKey handles GET /api/users/genkey and POST /api/users/keys.
// The token is returned once and cannot be recovered later.
func (h *Handler) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	caller := userFrom(r.Context())

	issued, err := h.issuer.Issue(r.Context(), caller.ID)
	if err != nil {
		h.fail(w, r, "generate_key", start, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"user_id":       caller.ID,
		"credential_id": issued.Credential.ID,
	}).Info("API key generated")
	writeJSON(w, http.StatusOK, apiKeyResponse{Status: "Success", APIKey: issued.Token})
}

// handleDeleteKey handles POST /api/users/delkey.
func (h *Handler) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	caller := userFrom(r.Context())

	var req struct {
		KeyID string `json:"key_id"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.issuer.Revoke(r.Context(), caller.ID, req.KeyID); err != nil {
		h.fail(w, r, "delete_key", start, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}
