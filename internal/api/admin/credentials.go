// Package admin implements the SuperAdmin-only HTTP surface: service
// credential lifecycle, manual aggregation runs, action type management,
// and the first-run bootstrap exchange.
package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/audit-trail/audit-trail/internal/api/respond"
	"github.com/audit-trail/audit-trail/internal/middleware"
	"github.com/audit-trail/audit-trail/internal/services"
)

// CredentialHandler handles service credential management requests.
type CredentialHandler struct {
	credentials *services.CredentialService
}

// NewCredentialHandler creates a new credential handler.
func NewCredentialHandler(credentials *services.CredentialService) *CredentialHandler {
	return &CredentialHandler{credentials: credentials}
}

// Issue handles POST /api/v1/admin/credentials. The raw key appears in this
// response and nowhere else, ever.
func (h *CredentialHandler) Issue(c *gin.Context) {
	var in services.IssueInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	caller, _ := middleware.CallerFrom(c)
	cred, rawKey, err := h.credentials.Issue(c.Request.Context(), in, caller.ID)
	if err != nil {
		respond.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"credential": cred,
		"key":        rawKey,
		"warning":    "store this key now, it cannot be retrieved again",
	})
}

// List handles GET /api/v1/admin/credentials.
func (h *CredentialHandler) List(c *gin.Context) {
	creds, err := h.credentials.List(c.Request.Context())
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credentials": creds})
}

// Get handles GET /api/v1/admin/credentials/:id.
func (h *CredentialHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respond.BadRequest(c, "invalid credential id")
		return
	}
	cred, err := h.credentials.Get(c.Request.Context(), id)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, cred)
}

// Revoke handles POST /api/v1/admin/credentials/:id/revoke.
func (h *CredentialHandler) Revoke(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respond.BadRequest(c, "invalid credential id")
		return
	}
	caller, _ := middleware.CallerFrom(c)
	if err := h.credentials.Revoke(c.Request.Context(), id, caller.ID); err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked", "id": id})
}

// Delete handles DELETE /api/v1/admin/credentials/:id.
func (h *CredentialHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respond.BadRequest(c, "invalid credential id")
		return
	}
	if err := h.credentials.Delete(c.Request.Context(), id); err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
}
