package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ranktrack/internal/handler/api"
	"ranktrack/internal/repository"
	"ranktrack/internal/scanner"
	"ranktrack/internal/scheduler"
)

// Setup configures all routes for the Echo server.
func Setup(
	e *echo.Echo,
	db *gorm.DB,
	sched *scheduler.Scheduler,
	sc *scanner.Scanner,
	search scanner.SearchClient,
	logger *zap.Logger,
) {
	e.Use(echomw.Recover())

	repos := &api.Repos{
		Keyword:     repository.NewKeywordRepository(db),
		Target:      repository.NewTargetRepository(db),
		Observation: repository.NewObservationRepository(db),
	}

	keywordHandler := api.NewKeywordHandler(repos, sched, logger)
	targetHandler := api.NewTargetHandler(repos, sched, logger)
	scanHandler := api.NewScanHandler(repos, sc, search, logger)
	schedulerHandler := api.NewSchedulerHandler(sched, repos, logger)

	apiGroup := e.Group("/api")

	apiGroup.GET("/keywords", keywordHandler.List)
	apiGroup.POST("/keywords", keywordHandler.Create)
	apiGroup.POST("/keywords/:id/activate", keywordHandler.SetActive(true))
	apiGroup.POST("/keywords/:id/deactivate", keywordHandler.SetActive(false))
	apiGroup.POST("/keywords/:id/targets/:targetID", keywordHandler.Link)
	apiGroup.POST("/keywords/:id/targets/:targetID/activate", keywordHandler.SetRelationActive(true))
	apiGroup.POST("/keywords/:id/targets/:targetID/deactivate", keywordHandler.SetRelationActive(false))

	apiGroup.GET("/targets", targetHandler.List)
	apiGroup.POST("/targets", targetHandler.Create)
	apiGroup.POST("/targets/:id/activate", targetHandler.SetActive(true))
	apiGroup.POST("/targets/:id/deactivate", targetHandler.SetActive(false))
	apiGroup.GET("/targets/:id/history", targetHandler.History)
	apiGroup.GET("/targets/:id/latest", targetHandler.Latest)
	apiGroup.GET("/targets/:id/delta", targetHandler.Delta)
	apiGroup.GET("/targets/:id/statistics", targetHandler.Statistics)

	apiGroup.POST("/scan", scanHandler.Scan)
	apiGroup.POST("/scan/batch", scanHandler.ScanBatch)

	apiGroup.GET("/scheduler/status", schedulerHandler.Status)
	apiGroup.POST("/scheduler/start", schedulerHandler.Start)
	apiGroup.POST("/scheduler/pause", schedulerHandler.Pause)
	apiGroup.POST("/scheduler/resume", schedulerHandler.Resume)
	apiGroup.POST("/scheduler/stop", schedulerHandler.Stop)
	apiGroup.POST("/maintenance/purge", schedulerHandler.Purge)
}
