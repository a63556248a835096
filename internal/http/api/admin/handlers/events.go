package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/stagecraft-ai/usagegate/internal/models"
)

// EventHandler serves usage event and anomaly listings.
type EventHandler struct {
	db *gorm.DB
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(db *gorm.DB) *EventHandler {
	return &EventHandler{db: db}
}

// eventListQuery defines filters for the usage event list.
type eventListQuery struct {
	Page    int    `form:"page,default=1"`   // Page number.
	Limit   int    `form:"limit,default=20"` // Page size.
	UserID  string `form:"user_id"`          // User filter.
	Tool    string `form:"tool"`             // Tool filter.
	Outcome string `form:"outcome"`          // Outcome filter.
}

// ListEvents returns usage events with paging and filters, newest first.
func (h *EventHandler) ListEvents(c *gin.Context) {
	var q eventListQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 100 {
		q.Limit = 20
	}

	base := h.db.WithContext(c.Request.Context()).Model(&models.UsageEvent{})
	if userQ := strings.TrimSpace(q.UserID); userQ != "" {
		userID, errParse := strconv.ParseUint(userQ, 10, 64)
		if errParse != nil || userID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		base = base.Where("user_id = ?", userID)
	}
	if toolQ := strings.TrimSpace(q.Tool); toolQ != "" {
		base = base.Where("tool = ?", toolQ)
	}
	if outcomeQ := strings.TrimSpace(q.Outcome); outcomeQ != "" {
		switch outcomeQ {
		case models.OutcomeAllowed, models.OutcomeBlocked, models.OutcomeError:
			base = base.Where("outcome = ?", outcomeQ)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid outcome"})
			return
		}
	}

	var total int64
	if errCount := base.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count events failed"})
		return
	}

	var rows []models.UsageEvent
	if errFind := base.Order("id DESC").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list events failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, event := range rows {
		out = append(out, gin.H{
			"id":           event.ID,
			"request_id":   event.RequestID,
			"user_id":      event.UserID,
			"anon_key":     event.AnonKey,
			"tool":         event.Tool,
			"outcome":      event.Outcome,
			"error_code":   event.ErrorCode,
			"cost_units":   event.CostUnits,
			"cost_micros":  event.CostMicros,
			"membership":   event.Membership,
			"requested_at": event.RequestedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"events": out,
		"total":  total,
		"page":   q.Page,
		"limit":  q.Limit,
	})
}

// anomalyListQuery defines filters for the anomaly list.
type anomalyListQuery struct {
	Page  int `form:"page,default=1"`   // Page number.
	Limit int `form:"limit,default=20"` // Page size.
}

// ListAnomalies returns anomaly flags with paging, newest first.
func (h *EventHandler) ListAnomalies(c *gin.Context) {
	var q anomalyListQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 100 {
		q.Limit = 20
	}

	base := h.db.WithContext(c.Request.Context()).Model(&models.AnomalyFlag{})

	var total int64
	if errCount := base.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count anomalies failed"})
		return
	}

	var rows []models.AnomalyFlag
	if errFind := base.Order("id DESC").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list anomalies failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, flag := range rows {
		out = append(out, gin.H{
			"id":         flag.ID,
			"request_id": flag.RequestID,
			"user_id":    flag.UserID,
			"anon_key":   flag.AnonKey,
			"reason":     flag.Reason,
			"cost_units": flag.CostUnits,
			"created_at": flag.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"anomalies": out,
		"total":     total,
		"page":      q.Page,
		"limit":     q.Limit,
	})
}
