package httpapi

import (
	"net/http"

	"shalomjobs.org/internal/auth"
	"shalomjobs.org/internal/messaging"
)

type sendMessageRequest struct {
	Content string `json:"content"`
}

type conversationView struct {
	messaging.Conversation
	Unread int `json:"unread"`
}

func views(list []messaging.Conversation, reader messaging.Sender) []conversationView {
	out := make([]conversationView, 0, len(list))
	for _, c := range list {
		out = append(out, conversationView{Conversation: c, Unread: c.Unread(reader)})
	}
	return out
}

func (a *API) handleListConversations(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": views(a.messages.List(r.Context(), sess.Account.ID), messaging.SenderUser),
	})
}

func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	msg, err := a.messages.Send(r.Context(), sess.Account.ID, r.PathValue("id"), messaging.SenderUser, req.Content)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	conv, err := a.messages.MarkRead(r.Context(), sess.Account.ID, r.PathValue("id"), messaging.SenderUser)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationView{Conversation: conv, Unread: conv.Unread(messaging.SenderUser)})
}

func (a *API) handleAdminInbox(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": views(a.messages.AdminInbox(r.Context()), messaging.SenderAdmin),
	})
}

func (a *API) handleAdminReply(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	msg, err := a.messages.AdminReply(r.Context(), r.PathValue("userId"), r.PathValue("id"), req.Content)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
