package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/reelkit/reelkit-backend/internal/handlers"
)

type RouterConfig struct {
	BriefHandler      *handlers.BriefHandler
	GenerationHandler *handlers.GenerationHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5173",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.Healthcheck())

	api := router.Group("/api")
	{
		// Briefs
		api.POST("/briefs", cfg.BriefHandler.Create)
		api.GET("/briefs/:id", cfg.BriefHandler.Get)
		api.POST("/briefs/:id/parse", cfg.BriefHandler.Parse)

		// Generation batches
		api.POST("/generations", cfg.GenerationHandler.Start)
		api.GET("/generations/:id", cfg.GenerationHandler.Get)
		api.POST("/generations/:id/cancel", cfg.GenerationHandler.Cancel)
		api.POST("/generations/:id/retry", cfg.GenerationHandler.Retry)

		// Video items
		api.POST("/videos/:id/review", cfg.GenerationHandler.Review)
		api.POST("/videos/:id/iterate", cfg.GenerationHandler.Iterate)
	}

	return router
}
