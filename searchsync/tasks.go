package searchsync

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/commercekit/searchsync/config"
	"github.com/commercekit/searchsync/models"
	"github.com/commercekit/searchsync/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ModelSource feeds the reconciliation engine from the relational store
// through the anti-join candidate query.
type ModelSource[T models.Identifier] struct {
	Scopes []models.Scope
}

func (s ModelSource[T]) NonTransferred(ctx context.Context, entityName string, offset int, limit int, countOnly bool) ([]T, int64, error) {
	return models.NonTransferredEntities[T](ctx, entityName, offset, limit, countOnly, s.Scopes...)
}

// ModelLedger backs the engine's ledger writes with the transfer table.
type ModelLedger struct{}

func (ModelLedger) Get(ctx context.Context, entityName string, entityId int) (*models.EntityTransfer, error) {
	return models.GetEntityTransfer(ctx, entityName, entityId)
}

func (ModelLedger) InsertMany(ctx context.Context, transfers []*models.EntityTransfer) error {
	return models.InsertEntityTransfers(ctx, transfers)
}

func (ModelLedger) UpdateMany(ctx context.Context, transfers []*models.EntityTransfer) error {
	return models.UpdateEntityTransfers(ctx, transfers)
}

// SyncService owns the per-entity-type sync runs and their bookkeeping.
type SyncService struct {
	logger   *logrus.Logger
	conn     ClientProvider
	pageSize int
}

func NewSyncService(logger *logrus.Logger, conn ClientProvider) *SyncService {
	return &SyncService{
		logger:   logger,
		conn:     conn,
		pageSize: pageSizeFromEnv(),
	}
}

func pageSizeFromEnv() int {
	if raw := os.Getenv("SEARCH_SYNC_PAGE_SIZE"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return 5
}

// SyncableEntityTypes lists the entity types RunSync can dispatch, in the
// order the admin surface presents them.
func SyncableEntityTypes() []string {
	return []string{"category", "product"}
}

func IsSyncableEntityType(entityType string) bool {
	switch strings.ToLower(strings.TrimSpace(entityType)) {
	case "category", "product":
		return true
	}
	return false
}

func notDeleted() models.Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("deleted = ?", false)
	}
}

// RunSync executes one reconciliation run for the given entity type and
// records the outcome on the run row. Soft-deleted source rows never reach
// the index; a later hard delete path would ledger them as Deleted.
func (s *SyncService) RunSync(ctx context.Context, entityType string, run *models.SearchSyncRun) error {
	switch strings.ToLower(strings.TrimSpace(entityType)) {
	case "category":
		return runEntitySync[models.Category](ctx, s, run, notDeleted())
	case "product":
		return runEntitySync[models.Product](ctx, s, run, notDeleted())
	default:
		return fmt.Errorf("%w: unknown entity type %q", utils.ErrorValidation, entityType)
	}
}

func runEntitySync[T models.Identifier](ctx context.Context, s *SyncService, run *models.SearchSyncRun, scopes ...models.Scope) error {
	entityName := utils.GetTypeName[T]()
	repo := NewRepository[T](s.logger, s.conn)
	task := NewTransferTask[T](
		s.logger,
		entityName,
		ModelSource[T]{Scopes: scopes},
		repo,
		ModelLedger{},
		s.pageSize,
		DefaultBulkConfig(repo.IndexName()),
	)

	started := time.Now().UTC()
	stats, err := task.Execute(ctx)
	finished := time.Now().UTC()

	updates := map[string]interface{}{
		"records_synced":  stats.Records,
		"pages_processed": stats.Pages,
		"finished_at":     finished,
		"duration_ms":     finished.Sub(started).Milliseconds(),
	}
	if err != nil {
		updates["status"] = models.SyncRunStatusFailed
		updates["error"] = err.Error()
	} else {
		updates["status"] = models.SyncRunStatusSuccess
	}
	if run != nil {
		if updErr := models.UpdateSyncRun(ctx, run, updates); updErr != nil {
			config.LogError(s.logger, "searchsync", "runEntitySync", "finalize run", run.ID, updErr)
		}
	}

	if err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"module":     "searchsync",
		"entityName": entityName,
		"records":    stats.Records,
		"pages":      stats.Pages,
	}).Info("sync run completed")
	return nil
}

// ProcessRun picks up a queued run and executes it. Runs that already left
// the queued state are skipped, which makes redelivered triggers harmless.
func (s *SyncService) ProcessRun(ctx context.Context, runId uint) error {
	run, err := models.GetSyncRunById(ctx, runId)
	if err != nil {
		return err
	}
	if run.Status != models.SyncRunStatusQueued {
		s.logger.WithFields(logrus.Fields{
			"module": "searchsync",
			"runId":  runId,
			"status": run.Status,
		}).Info("skipping run, already picked up")
		return nil
	}

	started := time.Now().UTC()
	if err := models.UpdateSyncRun(ctx, run, map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": started,
	}); err != nil {
		return err
	}

	fields := logrus.Fields{
		"module":     "searchsync",
		"runId":      runId,
		"entityName": run.EntityName,
	}
	if by, ok := utils.GetTriggeredByFromContext(ctx); ok && by != "" {
		fields["trigger"] = by
	}
	s.logger.WithFields(fields).Info("run started")

	return s.RunSync(ctx, run.EntityName, run)
}

// TriggerSync queues a run and hands it to the message broker. When the
// broker is unreachable the run executes in the background instead, so a
// manual trigger still works in environments without pub/sub.
func (s *SyncService) TriggerSync(ctx context.Context, entityType string, triggeredBy string) (*models.SearchSyncRun, error) {
	entityType = strings.ToLower(strings.TrimSpace(entityType))
	if !IsSyncableEntityType(entityType) {
		return nil, fmt.Errorf("%w: unknown entity type %q", utils.ErrorValidation, entityType)
	}

	run, err := models.CreateSyncRun(ctx, entityType, triggeredBy)
	if err != nil {
		return nil, err
	}

	if err := PublishSyncRequest(ctx, s.logger, run.ID, entityType); err != nil {
		config.LogError(s.logger, "searchsync", "TriggerSync", "publish, falling back to in-process", entityType, err)
		go func() {
			bg := context.Background()
			if correlationId, ok := utils.GetCorrelationIdFromContext(ctx); ok {
				bg = utils.SetCorrelationIdInContext(bg, correlationId)
			}
			if runErr := s.ProcessRun(bg, run.ID); runErr != nil {
				config.LogError(s.logger, "searchsync", "TriggerSync", "background run", run.ID, runErr)
			}
		}()
	}
	return run, nil
}
