package processes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"insights-backend/internal/shared/server/middleware"
	"insights-backend/internal/shared/server/respond"
	"insights-backend/internal/subject"
)

// Handler wires HTTP handlers to the process service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analyses", h.submit)
	rg.GET("/analyses/:id", h.get)
}

type submitRequest struct {
	Kind      string `json:"kind"`
	AttemptID string `json:"attemptId"`
	UserID    string `json:"userId"`
	From      string `json:"from"`
	To        string `json:"to"`
}

func (h *Handler) submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	ref, err := subject.Parse(req.Kind, req.AttemptID, req.UserID, req.From, req.To)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	p, err := h.Svc.Submit(ctx, ref)
	if err != nil {
		var conflict *ConflictError
		switch {
		case errors.As(err, &conflict):
			respond.ErrorWith(c, http.StatusConflict, "conflict", "an analysis is already running for this subject", gin.H{
				"processId": conflict.ActiveID,
			})
		case errors.Is(err, subject.ErrInvalid):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to submit analysis", nil)
		}
		return
	}

	respond.Accepted(c, c.FullPath()+"/"+p.ID, gin.H{
		"processId": p.ID,
		"status":    p.Status,
	})
}

func (h *Handler) get(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "process id is required", nil)
		return
	}

	p, err := h.Svc.Get(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "analysis not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch analysis", nil)
		}
		return
	}

	resp := gin.H{
		"id":     p.ID,
		"status": p.Status,
	}
	if p.Status == StatusProcessing && p.Progress != nil {
		resp["progress"] = p.Progress
	}
	if p.Status == StatusCompleted && len(p.Result) > 0 {
		resp["result"] = json.RawMessage(p.Result)
	}
	if p.Status == StatusFailed && p.ErrorMessage != nil {
		resp["errorCode"] = p.ErrorCode
		resp["errorMessage"] = *p.ErrorMessage
	}
	respond.JSON(c, http.StatusOK, resp)
}
