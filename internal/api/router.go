package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the read API
func NewRouter(h *Handler, mode string) *gin.Engine {
	gin.SetMode(mode)

	router := gin.New()
	router.Use(Recovery())
	router.Use(Logger())
	router.Use(CORS(CORSConfig{AllowedOrigins: h.deps.AllowedOrigins}))

	router.GET("/", h.Info)
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	teams := router.Group("/teams")
	{
		teams.GET("", h.ListTeams)
		teams.GET("/:code", h.GetTeam)
	}

	return router
}
