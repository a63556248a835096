package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stagecraft-ai/usagegate/internal/guard"
)

// UsageHandler serves the usage reservation and status endpoints.
type UsageHandler struct {
	guard *guard.Guard
}

// NewUsageHandler constructs a UsageHandler.
func NewUsageHandler(g *guard.Guard) *UsageHandler {
	return &UsageHandler{guard: g}
}

// reserveRequest defines the request body for a reservation.
type reserveRequest struct {
	CostUnits int    `json:"cost_units"`
	Tool      string `json:"tool"`
}

// Reserve charges the caller's budgets for one request.
func (h *UsageHandler) Reserve(c *gin.Context) {
	var body reserveRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "invalid json",
			"error_code": guard.CodeInvalidRequest,
			"retryable":  false,
		})
		return
	}

	decision, gerr := h.guard.Check(c.Request.Context(), guard.Request{
		Authorization: c.GetHeader("Authorization"),
		RemoteIP:      c.ClientIP(),
		CostUnits:     body.CostUnits,
		Tool:          body.Tool,
	})
	if gerr != nil {
		writeGuardError(c, gerr)
		return
	}
	c.JSON(http.StatusOK, decisionBody(decision))
}

// Status reports the caller's remaining budgets without charging.
func (h *UsageHandler) Status(c *gin.Context) {
	decision, gerr := h.guard.Status(c.Request.Context(), c.GetHeader("Authorization"), c.ClientIP(), c.Query("tool"))
	if gerr != nil {
		writeGuardError(c, gerr)
		return
	}
	c.JSON(http.StatusOK, decisionBody(decision))
}

func decisionBody(decision guard.Decision) gin.H {
	body := gin.H{
		"membership":      decision.Membership,
		"remaining":       decision.Remaining,
		"limit":           decision.Limit,
		"burst_remaining": decision.BurstRemaining,
		"burst_limit":     decision.BurstLimit,
		"reset_at":        decision.ResetAt.UTC().Format(time.RFC3339),
	}
	if decision.RequestID != "" {
		body["request_id"] = decision.RequestID
	}
	if decision.Tool != "" {
		body["tool"] = decision.Tool
		body["tool_remaining"] = decision.ToolRemaining
		body["tool_reset_at"] = decision.ToolResetAt.UTC().Format(time.RFC3339)
	}
	return body
}

func writeGuardError(c *gin.Context, gerr *guard.Error) {
	body := gin.H{
		"error":      gerr.Message,
		"error_code": gerr.Code,
		"retryable":  gerr.Retryable,
	}
	if !gerr.ResetAt.IsZero() {
		body["reset_at"] = gerr.ResetAt.UTC().Format(time.RFC3339)
	}
	c.JSON(gerr.HTTPStatus, body)
}
