// Package summaries implements the HTTP handlers for the daily rollup
// surface. Visibility is by source service: department callers see their own
// department's rollups, SuperAdmin sees everything.
package summaries

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audit-trail/audit-trail/internal/access"
	"github.com/audit-trail/audit-trail/internal/api/respond"
	"github.com/audit-trail/audit-trail/internal/db/repositories"
	"github.com/audit-trail/audit-trail/internal/middleware"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100

	// defaultStatsDays is the stats window when the caller gives no range.
	defaultStatsDays = 30
)

// Handler handles summary-related API requests.
type Handler struct {
	summaries *repositories.SummaryRepository
}

// NewHandler creates a new summaries handler.
func NewHandler(summaries *repositories.SummaryRepository) *Handler {
	return &Handler{summaries: summaries}
}

// List handles GET /api/v1/summaries.
func (h *Handler) List(c *gin.Context) {
	scope := callerScope(c)
	limit, offset := pagination(c)

	var filters repositories.SummaryFilters
	if v := c.Query("sourceService"); v != "" {
		filters.SourceService = &v
	}
	if v := c.Query("moduleName"); v != "" {
		filters.ModuleName = &v
	}
	if v := c.Query("action"); v != "" {
		filters.Action = &v
	}
	if v := c.Query("dateFrom"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			respond.BadRequest(c, "invalid dateFrom, want YYYY-MM-DD")
			return
		}
		filters.DateFrom = &t
	}
	if v := c.Query("dateTo"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			respond.BadRequest(c, "invalid dateTo, want YYYY-MM-DD")
			return
		}
		filters.DateTo = &t
	}

	summaries, total, err := h.summaries.List(c.Request.Context(), filters, scope, limit, offset)
	if err != nil {
		respond.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"summaries": summaries,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

// Stats handles GET /api/v1/summaries/stats, rolling the visible summaries
// up by service and action over a date range (default: last 30 days).
func (h *Handler) Stats(c *gin.Context) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -defaultStatsDays)
	to := now

	if v := c.Query("dateFrom"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			respond.BadRequest(c, "invalid dateFrom, want YYYY-MM-DD")
			return
		}
		from = t
	}
	if v := c.Query("dateTo"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			respond.BadRequest(c, "invalid dateTo, want YYYY-MM-DD")
			return
		}
		to = t
	}

	stats, err := h.summaries.Stats(c.Request.Context(), from, to, callerScope(c))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Recent handles GET /api/v1/summaries/recent?days=n (default 7).
func (h *Handler) Recent(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days < 1 {
		days = 7
	}
	if days > 90 {
		days = 90
	}

	summaries, err := h.summaries.Recent(c.Request.Context(), days, callerScope(c))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "summaries": summaries})
}

func pagination(c *gin.Context) (limit, offset int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit, (page - 1) * limit
}

func callerScope(c *gin.Context) access.Scope {
	caller, _ := middleware.CallerFrom(c)
	return access.ScopeFor(caller)
}
