package dashboard

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/db/models"
	"github.com/cadogy/cadogy-backend/internal/validation"
)

// UsageStore is implemented by *repositories.UsageRepository
type UsageStore interface {
	Summary(ctx context.Context, userID string, days int) (*models.UsageSummary, error)
}

// UsageHandlers handles GET /api/dashboard/usage
type UsageHandlers struct {
	usage UsageStore
}

// NewUsageHandlers creates a new UsageHandlers instance
func NewUsageHandlers(usage UsageStore) *UsageHandlers {
	return &UsageHandlers{usage: usage}
}

// UsageQuery is the query of GET /api/dashboard/usage
type UsageQuery struct {
	Days int `form:"days" binding:"omitempty,min=1,max=365"`
}

// @Summary      API usage
// @Description  Request, error and token totals with a per-day series
// @Tags         Dashboard
// @Param        days  query  int  false  "Window in days (default 30, max 365)"
// @Success      200  {object}  models.UsageSummary
// @Router       /api/dashboard/usage [get]
func (h *UsageHandlers) SummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == nil {
			return
		}
		var q UsageQuery
		if errs := validation.BindQuery(c, &q); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		if q.Days == 0 {
			q.Days = 30
		}
		summary, err := h.usage.Summary(c.Request.Context(), user.ID, q.Days)
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		if summary.Days == nil {
			summary.Days = []models.UsageDay{}
		}
		c.JSON(http.StatusOK, gin.H{"days": q.Days, "summary": summary})
	}
}
