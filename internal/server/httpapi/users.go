package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/qvault/internal/server/services"
	"github.com/go-chi/chi/v5"
)

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context(), principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]userJSON, 0, len(users))
	for _, u := range users {
		j := profileJSON(&u)
		j.Status = u.Status
		created := u.CreatedAt
		j.CreatedAt = &created
		out = append(out, j)
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool       `json:"success"`
		Users   []userJSON `json:"users"`
	}{true, out})
}

type createUserRequest struct {
	UserName   string `json:"username"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Department string `json:"department"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	u, err := h.users.Create(r.Context(), principal(r), services.CreateUserInput{
		UserName:   req.UserName,
		Password:   req.Password,
		Name:       req.Name,
		Role:       req.Role,
		Department: req.Department,
	}, requestMeta(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		Success bool     `json:"success"`
		User    refJSON  `json:"user"`
	}{true, refJSON{ID: u.ID, UserName: u.UserName}})
}

// refJSON identifies a newly created account.
type refJSON struct {
	ID       string `json:"id"`
	UserName string `json:"username"`
}

type updateUserRequest struct {
	Name       *string `json:"name"`
	Department *string `json:"department"`
	Status     *string `json:"status"`
	Role       *string `json:"role"`
	Password   *string `json:"password"`
}

func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	_, err := h.users.Update(r.Context(), principal(r), chi.URLParam(r, "id"), services.UpdateUserInput{
		Name:       req.Name,
		Department: req.Department,
		Status:     req.Status,
		Role:       req.Role,
		Password:   req.Password,
	}, requestMeta(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Success: true, Message: "User updated"})
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Delete(r.Context(), principal(r), chi.URLParam(r, "id"), requestMeta(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Success: true, Message: "User deleted"})
}
