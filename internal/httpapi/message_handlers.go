package httpapi

import (
	"net/http"
	"strings"

	"serviceelectro.org/internal/messaging"
)

func messageID(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(r.PathValue("id")))
}

func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	var in messaging.SendInput
	if !a.decodeValid(w, r, &in) {
		return
	}
	m, err := a.messages.Send(r.Context(), p.UserID, in)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/messages/"+m.ID)
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) handleInbox(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	list, err := a.messages.Inbox(r.Context(), p.UserID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeList(w, list)
}

func (a *API) handleSent(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	list, err := a.messages.Sent(r.Context(), p.UserID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeList(w, list)
}

func (a *API) handleConversation(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	other, err := pathID(r, "userId")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	list, err := a.messages.Conversation(r.Context(), p.UserID, other)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeList(w, list)
}

func (a *API) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	m, err := a.messages.Get(r.Context(), p.UserID, messageID(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	n, err := a.messages.UnreadCount(r.Context(), p.UserID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (a *API) handleMarkMessageRead(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if err := a.messages.MarkRead(r.Context(), p.UserID, messageID(r)); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMarkAllMessagesRead(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	n, err := a.messages.MarkAllRead(r.Context(), p.UserID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (a *API) handleAdminListMessages(w http.ResponseWriter, r *http.Request) {
	list, err := a.messages.All(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeList(w, list)
}

func (a *API) handleAdminDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := messageID(r)
	if err := a.messages.Delete(r.Context(), id); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "admin.message.delete", map[string]any{"message_id": id})
	w.WriteHeader(http.StatusNoContent)
}
