package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/kenneth/envvault/internal/domain"
	"github.com/kenneth/envvault/internal/secrets"
)

type envResponse struct {
	Env *domain.Environment `json:"env"`
}

type envListResponse struct {
	Envs []*domain.Environment `json:"envs"`
}

type createEnvRequest struct {
	Env struct {
		Title string   `json:"title"`
		Team  []string `json:"team"`
	} `json:"env"`
}

type updateEnvRequest struct {
	Env struct {
		ID    string    `json:"_id"`
		Title *string   `json:"title"`
		Team  *[]string `json:"team"`
	} `json:"env"`
}

type secretRequest struct {
	Env struct {
		EnvID   string `json:"env_id"`
		KeyID   string `json:"key_id"`
		KeyName string `json:"key_name"`
		Value   string `json:"value"`
	} `json:"env"`
}

type fetchRequest struct {
	EnvName string `json:"env_name"`
	APIKey  string `json:"api_key"`
	Decrypt *bool  `json:"decrypt"`
}

// handleCreateEnvironment handles POST /api/env.
func (h *Handler) handleCreateEnvironment(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req createEnvRequest
	if !h.decode(w, r, &req) {
		return
	}

	env, err := h.secrets.CreateEnvironment(r.Context(), userFrom(r.Context()), req.Env.Title, req.Env.Team)
	if err != nil {
		h.fail(w, r, "create_env", start, err)
		return
	}
	writeJSON(w, http.StatusCreated, envResponse{Env: env})
}

// handleUpdateEnvironment handles PUT /api/env/updateEnv.
func (h *Handler) handleUpdateEnvironment(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req updateEnvRequest
	if !h.decode(w, r, &req) {
		return
	}

	env, err := h.secrets.UpdateEnvironment(r.Context(), userFrom(r.Context()), secrets.EnvironmentUpdate{
		ID:    req.Env.ID,
		Title: req.Env.Title,
		Team:  req.Env.Team,
	})
	if err != nil {
		h.fail(w, r, "update_env", start, err)
		return
	}
	writeJSON(w, http.StatusOK, envResponse{Env: env})
}

// handleListEnvironments handles GET /api/env/userenvs.
func (h *Handler) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	envs, err := h.secrets.ListEnvironments(r.Context(), userFrom(r.Context()))
	if err != nil {
		h.fail(w, r, "list_envs", start, err)
		return
	}
	if envs == nil {
		envs = []*domain.Environment{}
	}
	writeJSON(w, http.StatusOK, envListResponse{Envs: envs})
}

// handleGetEnvironment handles GET /api/env/{id}. Values stay ciphertext
// unless decrypt=true.
func (h *Handler) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := mux.Vars(r)["id"]

	env, err := h.secrets.GetEnvironment(r.Context(), userFrom(r.Context()), id, queryBool(r, "decrypt", false))
	if err != nil {
		h.fail(w, r, "get_env", start, err)
		return
	}
	writeJSON(w, http.StatusOK, envResponse{Env: env})
}

// handleDeleteEnvironment handles DELETE /api/env/{id}.
func (h *Handler) handleDeleteEnvironment(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := mux.Vars(r)["id"]

	if err := h.secrets.DeleteEnvironment(r.Context(), userFrom(r.Context()), id); err != nil {
		h.fail(w, r, "delete_env", start, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

// handleFetchEnvironment handles POST /api/env/env, the machine client path.
// The API key comes from the body or the X-API-Key header; values are
// decrypted unless the caller sets decrypt=false.
func (h *Handler) handleFetchEnvironment(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req fetchRequest
	if !h.decode(w, r, &req) {
		return
	}
	token := strings.TrimSpace(req.APIKey)
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-API-Key"))
	}
	if token == "" {
		h.fail(w, r, "fetch_env", start, domain.Validation("api_key", "api_key is required"))
		return
	}

	ident, err := h.issuer.Authenticate(r.Context(), token)
	if err != nil {
		h.fail(w, r, "fetch_env", start, err)
		return
	}

	reveal := true
	if req.Decrypt != nil {
		reveal = *req.Decrypt
	}
	env, err := h.secrets.FetchByTitle(r.Context(), ident.User, req.EnvName, reveal)
	if err != nil {
		h.fail(w, r, "fetch_env", start, err)
		return
	}
	writeJSON(w, http.StatusOK, envResponse{Env: env})
}

// handleAddSecret handles POST /api/env/addKey.
func (h *Handler) handleAddSecret(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req secretRequest
	if !h.decode(w, r, &req) {
		return
	}

	env, err := h.secrets.AddSecret(r.Context(), userFrom(r.Context()), secrets.AddInput{
		EnvID:   req.Env.EnvID,
		KeyName: req.Env.KeyName,
		Value:   req.Env.Value,
	})
	if err != nil {
		h.fail(w, r, "add_key", start, err)
		return
	}
	writeJSON(w, http.StatusOK, envResponse{Env: env})
}

// handleUpdateSecret handles PUT /api/env/updateKey.
func (h *Handler) handleUpdateSecret(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req secretRequest
	if !h.decode(w, r, &req) {
		return
	}

	env, err := h.secrets.UpdateSecret(r.Context(), userFrom(r.Context()), secrets.UpdateInput{
		EnvID:   req.Env.EnvID,
		KeyID:   req.Env.KeyID,
		KeyName: req.Env.KeyName,
		Value:   req.Env.Value,
	})
	if err != nil {
		h.fail(w, r, "update_key", start, err)
		return
	}
	writeJSON(w, http.StatusOK, envResponse{Env: env})
}

// handleDeleteSecret handles POST /api/env/deleteKey.
func (h *Handler) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req secretRequest
	if !h.decode(w, r, &req) {
		return
	}

	env, err := h.secrets.DeleteSecret(r.Context(), userFrom(r.Context()), secrets.DeleteInput{
		EnvID: req.Env.EnvID,
		KeyID: req.Env.KeyID,
	})
	if err != nil {
		h.fail(w, r, "delete_key", start, err)
		return
	}
	writeJSON(w, http.StatusOK, envResponse{Env: env})
}
