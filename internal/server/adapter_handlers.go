package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Every adapter failure is reported as 404 with an {"errors": [...]} envelope;
// the authentication server client does not distinguish failure kinds.

func respond(c *gin.Context, value any, err error) {
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"errors": []string{err.Error()}})
		return
	}
	c.JSON(http.StatusOK, value)
}

func (h *httpHandler) params(c *gin.Context) queryParams {
	return newQueryParams(c.Request.URL.Query())
}

func (h *httpHandler) handleCreateUser(c *gin.Context) {
	user, err := h.params(c).user()
	if err != nil {
		respond(c, nil, err)
		return
	}
	created, err := h.adapter.CreateUser(c.Request.Context(), user)
	respond(c, created, err)
}

func (h *httpHandler) handleGetUser(c *gin.Context) {
	user, err := h.adapter.GetUser(c.Request.Context(), h.params(c).text("userId"))
	respond(c, user, err)
}

func (h *httpHandler) handleGetUserByAccount(c *gin.Context) {
	user, err := h.adapter.GetUserByAccount(c.Request.Context(), h.params(c).accountKey())
	respond(c, user, err)
}

func (h *httpHandler) handleUpdateUser(c *gin.Context) {
	patch, err := h.params(c).userPatch()
	if err != nil {
		respond(c, nil, err)
		return
	}
	updated, err := h.adapter.UpdateUser(c.Request.Context(), patch)
	respond(c, updated, err)
}

func (h *httpHandler) handleLinkAccount(c *gin.Context) {
	account, err := h.params(c).account()
	if err != nil {
		respond(c, nil, err)
		return
	}
	linked, err := h.adapter.LinkAccount(c.Request.Context(), account)
	respond(c, linked, err)
}

func (h *httpHandler) handleDeleteUser(c *gin.Context) {
	deleted, err := h.adapter.DeleteUser(c.Request.Context(), h.params(c).text("userId"))
	respond(c, deleted, err)
}

func (h *httpHandler) handleUnlinkAccount(c *gin.Context) {
	unlinked, err := h.adapter.UnlinkAccount(c.Request.Context(), h.params(c).accountKey())
	respond(c, unlinked, err)
}

func (h *httpHandler) handleCreateSession(c *gin.Context) {
	session, err := h.params(c).session()
	if err != nil {
		respond(c, nil, err)
		return
	}
	created, err := h.adapter.CreateSession(c.Request.Context(), session)
	respond(c, created, err)
}

func (h *httpHandler) handleGetSessionAndUser(c *gin.Context) {
	pair, err := h.adapter.GetSessionAndUser(c.Request.Context(), h.params(c).text("sessionToken"))
	respond(c, pair, err)
}

func (h *httpHandler) handleUpdateSession(c *gin.Context) {
	patch, err := h.params(c).sessionPatch()
	if err != nil {
		respond(c, nil, err)
		return
	}
	updated, err := h.adapter.UpdateSession(c.Request.Context(), patch)
	respond(c, updated, err)
}

func (h *httpHandler) handleDeleteSession(c *gin.Context) {
	deleted, err := h.adapter.DeleteSession(c.Request.Context(), h.params(c).text("sessionToken"))
	respond(c, deleted, err)
}

func (h *httpHandler) handleGetUserByEmail(c *gin.Context) {
	user, err := h.adapter.GetUserByEmail(c.Request.Context(), h.params(c).exact("email"))
	respond(c, user, err)
}

func (h *httpHandler) handleCreateVerificationToken(c *gin.Context) {
	token, err := h.params(c).verificationToken()
	if err != nil {
		respond(c, nil, err)
		return
	}
	created, err := h.adapter.CreateVerificationToken(c.Request.Context(), token)
	respond(c, created, err)
}

func (h *httpHandler) handleUseVerificationToken(c *gin.Context) {
	params := h.params(c)
	used, err := h.adapter.UseVerificationToken(c.Request.Context(), params.text("identifier"), params.text("token"))
	respond(c, used, err)
}
