package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SyncRunner runs the reconciliation + result-sync cycle on a fixed interval
// inside the API server process. The cron entrypoint under cmd/statussync is
// the deployment-preferred alternative; both share the Redis lock so they
// never run a cycle concurrently.
type SyncRunner struct {
	statusService *StatusService
	redisService  *RedisService
	interval      time.Duration
	cycleTimeout  time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

func NewSyncRunner(statusService *StatusService, redisService *RedisService, interval time.Duration) *SyncRunner {
	return &SyncRunner{
		statusService: statusService,
		redisService:  redisService,
		interval:      interval,
		cycleTimeout:  interval,
		stopCh:        make(chan struct{}),
	}
}

func (r *SyncRunner) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.runCycle()
			case <-r.stopCh:
				return
			}
		}
	}()
}

func (r *SyncRunner) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *SyncRunner) runCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cycleTimeout)
	defer cancel()

	owner := fmt.Sprintf("runner:%s", uuid.NewString())
	acquired, err := r.redisService.AcquireSyncLock(ctx, owner)
	if err != nil {
		log.Printf("syncrunner: failed to acquire sync lock: %v", err)
		return
	}
	if !acquired {
		log.Println("syncrunner: another sync run is active, skipping tick")
		return
	}
	defer r.redisService.ReleaseSyncLock(ctx, owner)

	statusStats, resultStats, err := r.statusService.RunCycle(ctx)
	if err != nil {
		log.Printf("syncrunner: cycle aborted: %v", err)
		return
	}

	cycleID := time.Now().UTC().Format(time.RFC3339)
	if err := r.redisService.PublishCycleStats(ctx, cycleID, map[string]interface{}{
		"status_sync": statusStats,
		"result_sync": resultStats,
	}); err != nil {
		log.Printf("syncrunner: failed to publish cycle stats: %v", err)
	}
}
