package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audit-trail/audit-trail/internal/api/respond"
	"github.com/audit-trail/audit-trail/internal/services"
)

// AggregationHandler exposes manual summary aggregation runs, mainly for
// backfills after an outage or data import.
type AggregationHandler struct {
	aggregator *services.Aggregator
}

// NewAggregationHandler creates a new aggregation handler.
func NewAggregationHandler(aggregator *services.Aggregator) *AggregationHandler {
	return &AggregationHandler{aggregator: aggregator}
}

type aggregateRequest struct {
	// Date runs a single day.
	Date string `json:"date"`
	// DateFrom/DateTo run an inclusive range. Mutually exclusive with Date.
	DateFrom string `json:"date_from"`
	DateTo   string `json:"date_to"`
}

// Run handles POST /api/v1/admin/aggregate. With an empty body it
// recomputes today.
func (h *AggregationHandler) Run(c *gin.Context) {
	var req aggregateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.BadRequest(c, "invalid request body: "+err.Error())
			return
		}
	}
	if req.Date != "" && (req.DateFrom != "" || req.DateTo != "") {
		respond.BadRequest(c, "give either date or date_from/date_to, not both")
		return
	}

	parse := func(v string) (time.Time, bool) {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			respond.BadRequest(c, "invalid date "+v+", want YYYY-MM-DD")
			return time.Time{}, false
		}
		return t, true
	}

	ctx := c.Request.Context()
	switch {
	case req.Date != "":
		day, ok := parse(req.Date)
		if !ok {
			return
		}
		buckets, err := h.aggregator.AggregateDate(ctx, day)
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"date": req.Date, "buckets": buckets})

	case req.DateFrom != "" && req.DateTo != "":
		from, ok := parse(req.DateFrom)
		if !ok {
			return
		}
		to, ok := parse(req.DateTo)
		if !ok {
			return
		}
		days, err := h.aggregator.AggregateRange(ctx, from, to)
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"days_processed": days})

	case req.DateFrom != "" || req.DateTo != "":
		respond.BadRequest(c, "date_from and date_to must be given together")

	default:
		buckets, err := h.aggregator.AggregateDate(ctx, time.Now().UTC())
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"date": time.Now().UTC().Format("2006-01-02"), "buckets": buckets})
	}
}
