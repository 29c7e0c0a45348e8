package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"

	"workflow-sync-server/handlers"
	"workflow-sync-server/middleware"
	"workflow-sync-server/services"

	_ "workflow-sync-server/docs"
)

// @title Workflow Sync API
// @version 1.0
// @description Point cloud workflow execution tracking and result sync API
// @host localhost:8080
// @BasePath /api
func main() {
	// Config
	serverPort := getEnv("SERVER_PORT", "8080")

	// PostgreSQL Config
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort, _ := strconv.Atoi(getEnv("DB_PORT", "5432"))
	dbUser := getEnv("DB_USER", "trees")
	dbPassword := getEnv("DB_PASSWORD", "trees")
	dbName := getEnv("DB_NAME", "trees")

	// Redis Config
	redisHost := getEnv("REDIS_HOST", "localhost")
	redisPort, _ := strconv.Atoi(getEnv("REDIS_PORT", "6379"))

	// Galaxy Config
	galaxyURL := getEnv("GALAXY_URL", "http://localhost:8081")
	galaxyAPIKey := getEnv("GALAXY_API_KEY", "")
	galaxyEmail := getEnv("GALAXY_EMAIL", "")
	galaxyPassword := getEnv("GALAXY_PASSWORD", "")

	// Storage Config
	storageType := getEnv("STORAGE_TYPE", "local")
	storageEndpoint := getEnv("STORAGE_ENDPOINT", "/data/storage")
	storageAccessKey := getEnv("STORAGE_ACCESS_KEY", "")
	storageSecretKey := getEnv("STORAGE_SECRET_KEY", "")
	storageRegion := getEnv("STORAGE_REGION", "eu")
	storageBucket := getEnv("STORAGE_BUCKET", "")

	// Sync runner (disabled unless an interval is set)
	syncIntervalSeconds, _ := strconv.Atoi(getEnv("SYNC_INTERVAL_SECONDS", "0"))

	ctx := context.Background()

	// Initialize services
	dbService, err := services.NewDBService(dbHost, dbPort, dbUser, dbPassword, dbName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbService.Close()

	// Initialize database schema
	if err := dbService.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize database schema: %v", err)
	}
	log.Println("Database schema initialized")

	// Initialize Galaxy service
	galaxyService := services.NewGalaxyService(galaxyURL, galaxyAPIKey)
	if err := galaxyService.Authenticate(ctx, galaxyEmail, galaxyPassword); err != nil {
		log.Fatalf("Failed to authenticate with Galaxy: %v", err)
	}
	if err := galaxyService.Ping(ctx); err != nil {
		log.Fatalf("Failed to connect to Galaxy: %v", err)
	}
	log.Printf("Galaxy connection established: %s", galaxyURL)

	// Initialize storage service
	storageService, err := services.NewStorageService(ctx, storageType, storageEndpoint, storageAccessKey, storageSecretKey, storageRegion, storageBucket)
	if err != nil {
		log.Fatalf("Failed to initialize storage service: %v", err)
	}
	log.Printf("Storage service initialized: %s", storageType)

	// Initialize Redis service
	redisService := services.NewRedisService(redisHost, redisPort)

	// Initialize domain services
	statusService := services.NewStatusService(dbService, galaxyService, storageService)
	jobService := services.NewJobService(dbService, galaxyService, storageService)

	// Optional in-process sync runner; deployments using the statussync
	// cronjob leave this disabled
	if syncIntervalSeconds > 0 {
		runner := services.NewSyncRunner(statusService, redisService, time.Duration(syncIntervalSeconds)*time.Second)
		runner.Start()
		defer runner.Stop()
		log.Printf("Sync runner started with interval %ds", syncIntervalSeconds)
	}

	// Initialize handlers
	jobHandler := handlers.NewJobHandler(jobService, statusService)
	datasetHandler := handlers.NewDatasetHandler(jobService)

	// Fiber App
	app := fiber.New(fiber.Config{
		AppName: "WorkflowSync",
	})

	// Middleware
	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(middleware.XRayMiddleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Swagger
	app.Get("/swagger/*", swagger.HandlerDefault)

	// Health endpoints
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "UP"})
	})

	// API routes
	api := app.Group("/api")

	api.Post("/jobs", jobHandler.CreateJob)
	api.Get("/jobs", jobHandler.ListJobs)
	api.Get("/jobs/:invocationId", jobHandler.GetJob)
	api.Post("/jobs/:invocationId/sync", jobHandler.SyncJobResults)
	api.Post("/datasets", datasetHandler.CreateDataset)
	api.Get("/datasets/:id", datasetHandler.GetDataset)

	log.Printf("WorkflowSync Server starting on port %s", serverPort)
	log.Printf("Database: %s:%d/%s", dbHost, dbPort, dbName)
	log.Printf("Galaxy: %s", galaxyURL)
	log.Fatal(app.Listen(":" + serverPort))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
