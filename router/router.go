// router/router.go

package router

import (
	"github.com/gin-gonic/gin"

	"github.com/hdgokani/atlan-metastore-sub001/controller"
	"github.com/hdgokani/atlan-metastore-sub001/middleware"
)

func SetupRouter(authzController *controller.AuthzController) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())

	api := router.Group("/api/v1")

	authzController.RegisterRoutes(api)

	return router
}
