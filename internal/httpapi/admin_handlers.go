package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"serviceelectro.org/internal/errs"
)

type verifyRequest struct {
	AdminID int64 `json:"adminId" validate:"required,gt=0"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,max=64"`
}

type flagRequest struct {
	Value *bool `json:"value" validate:"required"`
}

// --- users ---

func (a *API) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.accounts.List(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeList(w, users)
}

func (a *API) handleAdminGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	acc, err := a.accounts.Get(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if err := a.accounts.Delete(r.Context(), id); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "admin.user.delete", map[string]any{"target_user_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAdminSetEmailVerified(verified bool) http.HandlerFunc {
	event := "admin.user.unverify_email"
	if verified {
		event = "admin.user.verify_email"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		acc, err := a.accounts.SetEmailVerified(r.Context(), id, verified)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		a.audit(r.Context(), event, map[string]any{"target_user_id": id})
		writeJSON(w, http.StatusOK, acc)
	}
}

// --- publications ---

func (a *API) handleAdminListPublications(w http.ResponseWriter, r *http.Request) {
	pubs, err := a.moderation.ListAll(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeList(w, pubs)
}

func (a *API) handleAdminListUnverified(w http.ResponseWriter, r *http.Request) {
	pubs, err := a.moderation.ListUnverified(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeList(w, pubs)
}

func (a *API) handleAdminListByStatus(w http.ResponseWriter, r *http.Request) {
	pubs, err := a.moderation.ListByStatus(r.Context(), r.PathValue("status"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeList(w, pubs)
}

func (a *API) handleAdminGetPublication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	pub, err := a.moderation.Get(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pub)
}

func (a *API) handleAdminVerify(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.writeServiceError(w, r, errs.FromValidator(err))
		return
	}
	pub, err := a.moderation.Verify(r.Context(), id, req.AdminID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "admin.publication.verify", map[string]any{
		"publication_id": id,
		"admin_id":       req.AdminID,
	})
	writeJSON(w, http.StatusOK, pub)
}

func (a *API) handleAdminUnverify(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	pub, err := a.moderation.Unverify(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "admin.publication.unverify", map[string]any{"publication_id": id})
	writeJSON(w, http.StatusOK, pub)
}

func (a *API) handleAdminSetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	var req statusRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	pub, err := a.moderation.UpdateStatus(r.Context(), id, strings.TrimSpace(req.Status))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "admin.publication.status", map[string]any{
		"publication_id": id,
		"status":         pub.Status,
	})
	writeJSON(w, http.StatusOK, pub)
}

func (a *API) handleAdminSetFlag(flag string) http.HandlerFunc {
	set := a.moderation.SetInCatalog
	if flag == "publications" {
		set = a.moderation.SetInPublications
	}
	event := "admin.publication." + flag
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		var req flagRequest
		if !a.decodeValid(w, r, &req) {
			return
		}
		pub, err := set(r.Context(), id, *req.Value)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		a.audit(r.Context(), event, map[string]any{
			"publication_id": id,
			"value":          *req.Value,
		})
		writeJSON(w, http.StatusOK, pub)
	}
}

func (a *API) handleAdminDeletePublication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if err := a.moderation.Delete(r.Context(), id); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "admin.publication.delete", map[string]any{"publication_id": id})
	w.WriteHeader(http.StatusNoContent)
}
