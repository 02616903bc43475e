package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aviarydata/aviary/internal/service"
)

func SetupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authService service.AuthService,
	catalogService service.CatalogService,
	collectionService service.CollectionService,
	uploadService service.UploadService,
) {
	authHandler := NewAuthHandler(authService)
	catalogHandler := NewCatalogHandler(catalogService)
	collectionHandler := NewCollectionHandler(collectionService)
	uploadHandler := NewUploadHandler(uploadService, collectionService)

	authMiddleware := AuthMiddleware(jwtSecret)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	apiV1 := router.Group("/api/v1")
	{
		authGroup := apiV1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
		}
	}

	protected := apiV1.Group("")
	protected.Use(authMiddleware)
	{
		protected.GET("/me", func(c *gin.Context) {
			username, err := getUsernameFromContext(c)
			if err != nil {
				abortWithError(c, http.StatusInternalServerError, "Failed to identify caller")
				return
			}
			c.JSON(http.StatusOK, gin.H{"username": username})
		})

		protected.GET("/settings", authHandler.GetSettings)
		protected.PUT("/settings", authHandler.UpdateSettings)

		// --- Catalog Routes ---
		protected.POST("/query", catalogHandler.Query)
		geoGroup := protected.Group("/geo")
		{
			geoGroup.POST("/buckets", catalogHandler.GeoBuckets)
			geoGroup.POST("/buckets/images", catalogHandler.BucketImages)
		}
		siteGroup := protected.Group("/sites")
		{
			siteGroup.POST("/detect", catalogHandler.DetectSites)
			siteGroup.POST("/refresh", catalogHandler.RefreshSites)
		}
		protected.GET("/images/download-url", catalogHandler.DownloadURL)

		// --- Collection Routes ---
		collectionGroup := protected.Group("/collections")
		{
			collectionGroup.GET("", collectionHandler.List)
			collectionGroup.POST("", collectionHandler.Create)
			collectionGroup.GET("/:id", collectionHandler.Get)
			collectionGroup.PUT("/:id", collectionHandler.Update)
		}

		// --- Upload Routes ---
		uploadGroup := protected.Group("/uploads")
		{
			uploadGroup.POST("", uploadHandler.Launch)
			uploadGroup.GET("/:id", uploadHandler.Status)
		}
	}
}
