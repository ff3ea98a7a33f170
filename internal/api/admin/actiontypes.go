package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/audit-trail/audit-trail/internal/api/respond"
	"github.com/audit-trail/audit-trail/internal/db/models"
	"github.com/audit-trail/audit-trail/internal/db/repositories"
)

// ActionTypeHandler manages the action type vocabulary.
type ActionTypeHandler struct {
	actionTypes *repositories.ActionTypeRepository
}

// NewActionTypeHandler creates a new action type handler.
func NewActionTypeHandler(actionTypes *repositories.ActionTypeRepository) *ActionTypeHandler {
	return &ActionTypeHandler{actionTypes: actionTypes}
}

// List handles GET /api/v1/action-types. Available to any authenticated
// caller so clients can populate filter dropdowns.
func (h *ActionTypeHandler) List(c *gin.Context) {
	types, err := h.actionTypes.List(c.Request.Context())
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"action_types": types})
}

type createActionTypeRequest struct {
	Code        string `json:"code" binding:"required"`
	Description string `json:"description"`
}

// Create handles POST /api/v1/admin/action-types, adding a new code to the
// vocabulary. Existing codes are left untouched.
func (h *ActionTypeHandler) Create(c *gin.Context) {
	var req createActionTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	inserted, err := h.actionTypes.Seed(c.Request.Context(), []models.ActionType{
		{Code: req.Code, Description: req.Description, IsActive: true},
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	h.actionTypes.InvalidateCache()

	if inserted == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "exists", "code": req.Code})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "created", "code": req.Code})
}
