// Package front registers the public usage endpoints.
package front

import (
	"github.com/gin-gonic/gin"

	"github.com/stagecraft-ai/usagegate/internal/guard"
	handlers "github.com/stagecraft-ai/usagegate/internal/http/api/front/handlers"
)

// RegisterFrontRoutes registers the usage reservation and status routes.
func RegisterFrontRoutes(r *gin.Engine, g *guard.Guard) {
	if r == nil || g == nil {
		return
	}

	usageHandler := handlers.NewUsageHandler(g)
	usageGroup := r.Group("/v0/usage")
	usageGroup.POST("/reserve", usageHandler.Reserve)
	usageGroup.GET("/status", usageHandler.Status)
}
