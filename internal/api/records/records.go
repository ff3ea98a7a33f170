// Package records implements the HTTP handlers for audit record intake and
// retrieval. Intake authenticates with a service key; all read endpoints
// authenticate with a user JWT and are filtered by the caller's access
// scope before any row leaves the database.
package records

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/audit-trail/audit-trail/internal/access"
	"github.com/audit-trail/audit-trail/internal/api/respond"
	"github.com/audit-trail/audit-trail/internal/middleware"
	"github.com/audit-trail/audit-trail/internal/services"
)

// Handler handles record-related API requests.
type Handler struct {
	records *services.RecordService
}

// NewHandler creates a new records handler.
func NewHandler(records *services.RecordService) *Handler {
	return &Handler{records: records}
}

// Submit handles POST /api/v1/records. The submitting credential names the
// source service; a module restriction on the credential is enforced here.
func (h *Handler) Submit(c *gin.Context) {
	cred, ok := middleware.CredentialFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing service credential"})
		return
	}

	var in services.SubmitInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	moduleName := in.ModuleName
	if moduleName == "" {
		moduleName = in.EntityType
	}
	if !cred.AllowsModule(moduleName) {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "credential does not permit module " + moduleName,
		})
		return
	}

	// Client-reported IP is ignored; the connection's address wins.
	if in.IPAddress == nil {
		ip := c.ClientIP()
		in.IPAddress = &ip
	}

	rec, duplicate, err := h.records.Submit(c.Request.Context(), in, cred.ServiceName)
	if err != nil {
		respond.Error(c, err)
		return
	}
	if duplicate {
		c.JSON(http.StatusOK, gin.H{
			"status":   "duplicate",
			"event_id": in.EventID,
		})
		return
	}

	c.JSON(http.StatusCreated, rec)
}

// List handles GET /api/v1/records.
func (h *Handler) List(c *gin.Context) {
	scope := h.callerScope(c)
	limit, offset := pagination(c)

	in := services.ListInput{
		EntityType: optionalString(c, "entityType"),
		EntityID:   optionalString(c, "entityId"),
		ActionBy:   optionalString(c, "actionBy"),
		ActionType: optionalString(c, "actionType"),
		SortBy:     c.Query("sortBy"),
		SortOrder:  c.Query("sortOrder"),
		Limit:      limit,
		Offset:     offset,
	}

	if v := c.Query("dateFrom"); v != "" {
		t, err := parseDate(v, false)
		if err != nil {
			respond.BadRequest(c, err.Error())
			return
		}
		in.DateFrom = &t
	}
	if v := c.Query("dateTo"); v != "" {
		t, err := parseDate(v, true)
		if err != nil {
			respond.BadRequest(c, err.Error())
			return
		}
		in.DateTo = &t
	}

	records, total, err := h.records.List(c.Request.Context(), in, scope)
	if err != nil {
		respond.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// Get handles GET /api/v1/records/:id. A record outside the caller's scope
// is reported exactly like a missing one.
func (h *Handler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respond.BadRequest(c, "invalid record id")
		return
	}

	rec, err := h.records.Get(c.Request.Context(), id, h.callerScope(c))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// History handles GET /api/v1/records/history/:entityType/:entityId,
// returning the visible version history oldest first.
func (h *Handler) History(c *gin.Context) {
	entityType := c.Param("entityType")
	entityID := c.Param("entityId")

	records, err := h.records.History(c.Request.Context(), entityType, entityID, h.callerScope(c))
	if err != nil {
		respond.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entity_type": entityType,
		"entity_id":   entityID,
		"history":     records,
	})
}

// Search handles GET /api/v1/records/search?q=term.
func (h *Handler) Search(c *gin.Context) {
	term := c.Query("q")
	if term == "" {
		respond.BadRequest(c, "missing search term")
		return
	}
	limit, offset := pagination(c)

	records, total, err := h.records.Search(c.Request.Context(), term, h.callerScope(c), limit, offset)
	if err != nil {
		respond.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// Stats handles GET /api/v1/records/stats.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.records.Stats(c.Request.Context(), h.callerScope(c))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Delete handles DELETE /api/v1/admin/records/:id. Router wiring restricts
// it to SuperAdmin.
func (h *Handler) Delete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respond.BadRequest(c, "invalid record id")
		return
	}

	caller, _ := middleware.CallerFrom(c)
	if err := h.records.Delete(c.Request.Context(), id, caller.ID); err != nil {
		respond.Error(c, err)
		return
	}

	slog.Info("audit record deleted", "record_id", id, "deleted_by", caller.ID)
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
}

// callerScope derives the access scope for the authenticated caller. Routes
// using it are always behind AuthMiddleware; a missing caller would be a
// wiring bug and yields the most restrictive scope.
func (h *Handler) callerScope(c *gin.Context) access.Scope {
	caller, _ := middleware.CallerFrom(c)
	return access.ScopeFor(caller)
}
