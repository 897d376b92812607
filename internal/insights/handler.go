package insights

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"insights-backend/internal/shared/server/respond"
)

// Handler serves read-only insight reports.
type Handler struct {
	Store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{Store: store}
}

// RegisterRoutes attaches insight routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/users/:id/insights", h.list)
}

func (h *Handler) list(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "user id is required", nil)
		return
	}
	categories := Categories
	if raw := c.Query("category"); raw != "" {
		category, err := ParseCategory(raw)
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
			return
		}
		categories = []Category{category}
	}

	out := make([]Record, 0)
	for _, category := range categories {
		records, err := h.Store.List(c.Request.Context(), userID, category)
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list insights", nil)
			return
		}
		sort.SliceStable(records, func(i, j int) bool { return records[i].Score > records[j].Score })
		out = append(out, records...)
	}
	respond.OK(c, gin.H{
		"userId":   userID,
		"insights": out,
	})
}
