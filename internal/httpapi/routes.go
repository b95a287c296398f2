package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// SetupRoutes wires the broadcast, health, swagger, and WebSocket upgrade
// routes onto router. The upgrade handler is passed in as a plain
// http.HandlerFunc (served by *realtime.Server) and wrapped with gin.WrapF;
// the domain diagnostic route is mounted only when domainHealth is non-nil.
func SetupRoutes(router *gin.Engine, broadcast *BroadcastHandler, domainHealth *DomainHealthHandler, wsHandler http.HandlerFunc) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/health", Health)

	router.GET("/ws", gin.WrapF(wsHandler))

	api := router.Group("/api")
	{
		api.POST("/broadcast", broadcast.Broadcast)
		if domainHealth != nil {
			api.GET("/health/domain", domainHealth.DomainHealth)
		}
	}
}
