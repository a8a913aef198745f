package http

import (
	"github.com/gin-gonic/gin"

	"docresearch/internal/bootstrap"
	"docresearch/internal/transport/http/handler"
	"docresearch/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.MaxMultipartMemory = app.Config.MaxUploadBytes()

	checks := make(map[string]handler.Check)
	for name, check := range app.HealthChecks() {
		checks[name] = check
	}
	healthHandler := handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt, checks)
	router.GET("/healthz", healthHandler.Check)

	documentHandler := handler.NewDocumentHandler(app.Documents, app.Config.MaxUploadBytes())
	queryHandler := handler.NewQueryHandler(app.Queries, app.Index, app.Config.Query.SearchLimit)
	themeHandler := handler.NewThemeHandler(app.Themes)

	v1 := router.Group("/api/v1")
	if app.Config.Auth.JWTSecret != "" {
		v1.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	}

	documents := v1.Group("/documents")
	documents.POST("", documentHandler.Upload)
	documents.POST("/batch", documentHandler.UploadBatch)
	documents.GET("", documentHandler.List)
	documents.GET("/by-ids", documentHandler.ByIDs)
	documents.GET("/:id", documentHandler.Get)
	documents.GET("/:id/content", documentHandler.Content)
	documents.GET("/:id/chunks", documentHandler.Chunks)
	documents.POST("/:id/reingest", documentHandler.Reingest)
	documents.DELETE("/:id", documentHandler.Delete)

	v1.POST("/query", queryHandler.Query)
	v1.POST("/search", queryHandler.Search)

	themes := v1.Group("/themes")
	themes.POST("/analyze", themeHandler.Analyze)
	themes.POST("", themeHandler.Create)
	themes.GET("", themeHandler.List)
	themes.GET("/:id", themeHandler.Get)
	themes.PUT("/:id", themeHandler.Update)
	themes.DELETE("/:id", themeHandler.Delete)

	return router
}
