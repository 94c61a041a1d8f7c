package main

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/catalog"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/feedbackoptions"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/httpapi"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/notifications"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/reviewflow"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/reward"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/storage"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/task"
)

const (
	loggerContextAutoMigrate  = "migrate"
	loggerContextCatalog      = "catalog"
	rewardRetryJobName        = "reward_retry"
	errorMessageWireService   = "wire review flow"
	errorMessageSnowflakeNode = "snowflake node"
)

type flowService struct {
	router    *gin.Engine
	scheduler *task.Scheduler
}

func newFlowService(ctx context.Context, serverConfig ServerConfig, database *gorm.DB, logger *zap.Logger) (*flowService, error) {
	if migrateErr := storage.AutoMigrate(database); migrateErr != nil {
		logger.Error(loggerContextAutoMigrate, zap.Error(migrateErr))
		return nil, fmt.Errorf("%s: %w", loggerContextAutoMigrate, migrateErr)
	}

	repository := storage.NewReviewRepository(database)

	loadedCatalog, catalogErr := catalog.LoadFile(serverConfig.CatalogFile)
	if catalogErr != nil {
		logger.Error(loggerContextCatalog, zap.Error(catalogErr))
		return nil, catalogErr
	}
	if seedErr := catalog.SeedCompanies(ctx, repository, logger, loadedCatalog); seedErr != nil {
		return nil, seedErr
	}

	node, nodeErr := snowflake.NewNode(serverConfig.SnowflakeNode)
	if nodeErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageSnowflakeNode, nodeErr)
	}

	sender := notifications.NewLoggingSender(logger)
	dispatcher := notifications.NewDispatcher(logger, sender, sender)
	issuer := reward.NewLocalIssuer(database, node, dispatcher, logger)
	coordinator := reward.NewCoordinator(issuer, logger)
	optionsProvider := feedbackoptions.NewProvider(repository, loadedCatalog, logger)

	signer, signerErr := reviewflow.NewNavigationSigner(serverConfig.NavigationSecret, serverConfig.NavigationTTL)
	if signerErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageWireService, signerErr)
	}

	controller, controllerErr := reviewflow.NewController(reviewflow.Dependencies{
		Store:      repository,
		Options:    optionsProvider,
		Rewards:    coordinator,
		Notifier:   dispatcher,
		Navigation: signer,
		SyncPolicy: serverConfig.SyncPolicy,
		Logger:     logger,
	})
	if controllerErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageWireService, controllerErr)
	}

	handlers := httpapi.NewReviewHandlers(controller, optionsProvider, httpapi.NewFlowSessionStore(serverConfig.SessionSecret), logger)
	limiter := httpapi.NewRateLimiter(0, serverConfig.RateLimitPerWindow)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger(logger))
	registerRoutes(router, handlers, limiter)

	retryJob := task.NewRewardRetryJob(repository, coordinator, logger, task.RewardRetryConfig{})
	scheduler := task.NewScheduler(rewardRetryJobName, serverConfig.RewardRetryInterval, retryJob.Run, logger)

	return &flowService{router: router, scheduler: scheduler}, nil
}
