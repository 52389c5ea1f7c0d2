package searchsync

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/commercekit/searchsync/config"
	"github.com/commercekit/searchsync/models"
	"github.com/commercekit/searchsync/utils"
	"github.com/sirupsen/logrus"
)

// Scheduler triggers a sync run per entity type on a fixed interval. Each
// type is guarded by a distributed lock so replicas do not start overlapping
// runs for the same type; different types run independently since they touch
// disjoint ledger partitions.
type Scheduler struct {
	logger   *logrus.Logger
	svc      *SyncService
	interval time.Duration
	lockTTL  time.Duration
}

func NewScheduler(logger *logrus.Logger, svc *SyncService) *Scheduler {
	return &Scheduler{
		logger:   logger,
		svc:      svc,
		interval: schedulerIntervalFromEnv(),
		lockTTL:  10 * time.Minute,
	}
}

func ShouldRunScheduler() bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv("SEARCH_SYNC_SCHEDULER")))
	return val == "true" || val == "1" || val == "yes" || val == "on"
}

func schedulerIntervalFromEnv() time.Duration {
	if raw := os.Getenv("SEARCH_SYNC_INTERVAL_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	return 15 * time.Minute
}

func (s *Scheduler) Run(ctx context.Context) {
	if s == nil || s.svc == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.interval):
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	settings, err := models.GetSearchSettings(ctx)
	if err != nil {
		config.LogError(s.logger, "searchsync", "tick", "load settings", nil, err)
		return
	}
	if !settings.IsConfigured() {
		return
	}

	for _, entityType := range SyncableEntityTypes() {
		if ctx.Err() != nil {
			return
		}
		s.runLocked(ctx, entityType)
	}
}

// runLocked executes one entity type's run under its per-type lock. A held
// lock means another replica is already on it, which is not an error.
func (s *Scheduler) runLocked(ctx context.Context, entityType string) {
	locker := config.GetRedisLock()
	var lock *redislock.Lock
	if locker == nil {
		s.logger.WithFields(logrus.Fields{
			"module":     "searchsync",
			"entityType": entityType,
		}).Warn("redis lock not ready; proceeding without lock")
	} else {
		var err error
		lock, err = locker.Obtain(ctx, "searchsync:run:"+entityType, s.lockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			return
		} else if err != nil {
			config.LogError(s.logger, "searchsync", "runLocked", "obtain lock", entityType, err)
			return
		}
	}
	defer func() {
		if lock != nil {
			_ = lock.Release(ctx)
		}
	}()

	ctx = utils.SetTriggeredByInContext(ctx, models.SyncTriggeredScheduler)
	run, err := models.CreateSyncRun(ctx, entityType, models.SyncTriggeredScheduler)
	if err != nil {
		config.LogError(s.logger, "searchsync", "runLocked", "create run", entityType, err)
		return
	}
	if err := s.svc.ProcessRun(ctx, run.ID); err != nil {
		config.LogError(s.logger, "searchsync", "runLocked", "run sync", entityType, err)
	}
}
