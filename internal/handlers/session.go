package handlers

import (
	"net/http"
)

// BootstrapSession issues a widget session token
// @Summary Create a widget session
// @Description Issues the short-lived bearer token the widget presents on booking endpoints
// @Tags session
// @Produce json
// @Success 200 {object} auth.Session
// @Failure 500 {object} errorResponse "Token signing failed"
// @Router /bootstrap/session [post]
func (h *Handlers) BootstrapSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Issue(r.Header.Get("Origin"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}
