package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/reelkit/reelkit-backend/internal/db"
	"github.com/reelkit/reelkit-backend/internal/handlers"
	"github.com/reelkit/reelkit-backend/internal/logger"
	"github.com/reelkit/reelkit-backend/internal/providers"
	"github.com/reelkit/reelkit-backend/internal/repos"
	"github.com/reelkit/reelkit-backend/internal/server"
	"github.com/reelkit/reelkit-backend/internal/services"
	"github.com/reelkit/reelkit-backend/internal/utils"
)

func main() {
	_ = godotenv.Load()

	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	briefRepo := repos.NewBriefRepo(thePG, log)
	batchRepo := repos.NewGenerationBatchRepo(thePG, log)
	itemRepo := repos.NewVideoItemRepo(thePG, log)
	ledgerRepo := repos.NewCostLedgerRepo(thePG, log)

	// Providers
	log.Info("Setting up provider gateway from main...")
	gateway, err := providers.NewGateway(log)
	if err != nil {
		log.Error("Could not init provider gateway", "error", err)
		os.Exit(1)
	}

	// Services
	log.Info("Setting up Services from main...")
	bucketService, err := services.NewBucketService(log)
	if err != nil {
		log.Error("Could not init BucketService", "error", err)
		os.Exit(1)
	}
	ledgerService := services.NewCostLedgerService(log, ledgerRepo)
	briefService := services.NewBriefService(thePG, log, briefRepo, ledgerService, gateway)
	generationService := services.NewGenerationService(
		thePG,
		log,
		briefRepo,
		batchRepo,
		itemRepo,
		ledgerService,
		gateway,
		bucketService,
	)
	generationService.StartWorker(context.Background())

	// Handlers
	log.Info("Setting up handlers from main...")
	briefHandler := handlers.NewBriefHandler(log, briefService)
	generationHandler := handlers.NewGenerationHandler(log, generationService)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		BriefHandler:      briefHandler,
		GenerationHandler: generationHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}
