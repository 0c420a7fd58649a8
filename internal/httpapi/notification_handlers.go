package httpapi

import (
	"net/http"
	"strings"
)

func (a *API) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	list, err := a.notifications.ListForUser(r.Context(), p.UserID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeList(w, list)
}

func (a *API) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	id := strings.ToUpper(strings.TrimSpace(r.PathValue("id")))
	if err := a.notifications.MarkRead(r.Context(), p.UserID, id); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
