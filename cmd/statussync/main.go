package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"workflow-sync-server/services"
)

// statussync runs one reconciliation + result-sync cycle against Galaxy and
// exits. It is meant to be invoked by an external scheduler (cron). The exit
// code is non-zero only when the run cannot start or the cycle aborts on a
// connectivity failure; per-item errors are reported in the cycle stats.
func main() {
	os.Exit(run())
}

// run holds the whole cycle so deferred cleanup (lock release, db close)
// still happens on an abort. log.Fatalf would skip the defers and leave
// the sync lock held for its full TTL.
func run() int {
	cycleTimeoutSeconds, _ := strconv.Atoi(getEnv("SYNC_CYCLE_TIMEOUT_SECONDS", "1800"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cycleTimeoutSeconds)*time.Second)
	defer cancel()

	log.Println("statussync: starting status synchronization")

	dbService, galaxyService, storageService, redisService, err := connectClients(ctx)
	if err != nil {
		log.Printf("statussync: %v", err)
		return 1
	}
	defer dbService.Close()

	owner := fmt.Sprintf("cron:%s", uuid.NewString())
	acquired, err := redisService.AcquireSyncLock(ctx, owner)
	if err != nil {
		log.Printf("statussync: failed to acquire sync lock: %v", err)
		return 1
	}
	if !acquired {
		log.Println("statussync: another sync run is active, exiting")
		return 0
	}
	defer redisService.ReleaseSyncLock(ctx, owner)

	statusService := services.NewStatusService(dbService, galaxyService, storageService)

	statusStats, resultStats, err := statusService.RunCycle(ctx)
	if err != nil {
		log.Printf("statussync: cycle aborted: %v", err)
		return 1
	}

	log.Printf("statussync: status sync stats: %+v", statusStats)
	log.Printf("statussync: result sync stats: %+v", resultStats)

	cycleID := time.Now().UTC().Format(time.RFC3339)
	if err := redisService.PublishCycleStats(ctx, cycleID, map[string]interface{}{
		"status_sync": statusStats,
		"result_sync": resultStats,
	}); err != nil {
		log.Printf("statussync: failed to publish cycle stats: %v", err)
	}

	log.Println("statussync: status synchronization completed")
	return 0
}

func connectClients(ctx context.Context) (*services.DBService, *services.GalaxyService, services.StorageService, *services.RedisService, error) {
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort, _ := strconv.Atoi(getEnv("DB_PORT", "5432"))
	dbUser := getEnv("DB_USER", "trees")
	dbPassword := getEnv("DB_PASSWORD", "trees")
	dbName := getEnv("DB_NAME", "trees")

	redisHost := getEnv("REDIS_HOST", "localhost")
	redisPort, _ := strconv.Atoi(getEnv("REDIS_PORT", "6379"))

	galaxyURL := getEnv("GALAXY_URL", "http://localhost:8081")
	galaxyAPIKey := getEnv("GALAXY_API_KEY", "")
	galaxyEmail := getEnv("GALAXY_EMAIL", "")
	galaxyPassword := getEnv("GALAXY_PASSWORD", "")

	storageType := getEnv("STORAGE_TYPE", "local")
	storageEndpoint := getEnv("STORAGE_ENDPOINT", "/data/storage")
	storageAccessKey := getEnv("STORAGE_ACCESS_KEY", "")
	storageSecretKey := getEnv("STORAGE_SECRET_KEY", "")
	storageRegion := getEnv("STORAGE_REGION", "eu")
	storageBucket := getEnv("STORAGE_BUCKET", "")

	dbService, err := services.NewDBService(dbHost, dbPort, dbUser, dbPassword, dbName)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	galaxyService := services.NewGalaxyService(galaxyURL, galaxyAPIKey)
	if err := galaxyService.Authenticate(ctx, galaxyEmail, galaxyPassword); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to authenticate with galaxy: %w", err)
	}
	if err := galaxyService.Ping(ctx); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to connect to galaxy: %w", err)
	}

	storageService, err := services.NewStorageService(ctx, storageType, storageEndpoint, storageAccessKey, storageSecretKey, storageRegion, storageBucket)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to initialize storage service: %w", err)
	}

	redisService := services.NewRedisService(redisHost, redisPort)
	if err := redisService.Ping(ctx); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Println("statussync: all clients connected successfully")
	return dbService, galaxyService, storageService, redisService, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
