package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	dbutil "github.com/stagecraft-ai/usagegate/internal/db"
	"github.com/stagecraft-ai/usagegate/internal/models"
	"github.com/stagecraft-ai/usagegate/internal/tier"
)

// UserHandler manages user account endpoints.
type UserHandler struct {
	db *gorm.DB
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(db *gorm.DB) *UserHandler {
	return &UserHandler{db: db}
}

// userListQuery defines filters for the user list view.
type userListQuery struct {
	Page     int    `form:"page,default=1"`   // Page number.
	Limit    int    `form:"limit,default=20"` // Page size.
	Username string `form:"username"`         // Username filter.
	Tier     string `form:"tier"`             // Canonical tier filter.
}

// List returns users with paging and filters.
func (h *UserHandler) List(c *gin.Context) {
	var q userListQuery
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

	base := h.db.WithContext(c.Request.Context()).Model(&models.User{})
	if usernameQ := strings.TrimSpace(q.Username); usernameQ != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+usernameQ+"%")
		base = base.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "username"), pattern)
	}
	if tierQ := strings.TrimSpace(q.Tier); tierQ != "" {
		if !tier.Known(tierQ) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown tier"})
			return
		}
		base = base.Where("membership = ?", string(tier.Normalize(tierQ)))
	}

	var total int64
	if errCount := base.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count users failed"})
		return
	}

	var rows []models.User
	if errFind := base.Order("created_at DESC").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list users failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, user := range rows {
		out = append(out, userBody(user))
	}
	c.JSON(http.StatusOK, gin.H{
		"users": out,
		"total": total,
		"page":  q.Page,
		"limit": q.Limit,
	})
}

// Get returns a single user.
func (h *UserHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, id).Error; errFind != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, userBody(user))
}

// setTierRequest defines the request body for a tier change.
type setTierRequest struct {
	Tier string `json:"tier"`
}

// SetTier changes a user's membership tier and restores the monthly
// tool balances to the new tier's defaults.
func (h *UserHandler) SetTier(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var body setTierRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !tier.Known(body.Tier) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown tier"})
		return
	}
	membership := tier.Normalize(body.Tier)

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, id).Error; errFind != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	now := time.Now().UTC()
	updates := map[string]any{"membership": string(membership)}
	if audioPolicy, ok := tier.LookupTool(tier.ToolLiveAudio); ok {
		updates["audio_minutes_left"] = audioPolicy.MonthlyDefault(membership)
		updates["audio_reset_at"] = now
	}
	if imagePolicy, ok := tier.LookupTool(tier.ToolImageGen); ok {
		updates["image_credits_left"] = imagePolicy.MonthlyDefault(membership)
		updates["image_reset_at"] = now
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&user).Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update tier failed"})
		return
	}
	if errReload := h.db.WithContext(c.Request.Context()).First(&user, id).Error; errReload != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reload user failed"})
		return
	}

	c.JSON(http.StatusOK, userBody(user))
}

// Disable blocks a user from consuming units.
func (h *UserHandler) Disable(c *gin.Context) {
	h.setActive(c, false)
}

// Enable restores a disabled user.
func (h *UserHandler) Enable(c *gin.Context) {
	h.setActive(c, true)
}

func (h *UserHandler) setActive(c *gin.Context, active bool) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	result := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", id).
		Update("active", active)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update user failed"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "active": active})
}

func parseIDParam(c *gin.Context) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func userBody(user models.User) gin.H {
	return gin.H{
		"id":                 user.ID,
		"username":           user.Username,
		"email":              user.Email,
		"membership":         string(tier.Normalize(user.Membership)),
		"generation_count":   user.GenerationCount,
		"last_reset_at":      user.LastResetAt,
		"audio_minutes_left": user.AudioMinutesLeft,
		"image_credits_left": user.ImageCreditsLeft,
		"active":             user.Active,
		"created_at":         user.CreatedAt,
		"updated_at":         user.UpdatedAt,
	}
}
