package models

import (
	"context"
	"errors"
	"time"

	"github.com/commercekit/searchsync/config"
	"github.com/commercekit/searchsync/utils"
	"gorm.io/gorm"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
)

const (
	SyncTriggeredManual    = "manual"
	SyncTriggeredScheduler = "scheduler"
	SyncTriggeredPubSub    = "pubsub"
)

// SearchSyncRun records one reconciliation run for one entity type. Failed
// runs keep the underlying error text; the admin surface shows only a
// "sync failed, see log" style summary plus this row.
type SearchSyncRun struct {
	ID             uint       `gorm:"primary_key" json:"id"`
	EntityName     string     `gorm:"index;size:400;not null" json:"entity_name"`
	Status         string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy    string     `gorm:"size:20" json:"triggered_by"`
	RecordsSynced  int        `json:"records_synced"`
	PagesProcessed int        `json:"pages_processed"`
	Error          string     `gorm:"type:text" json:"error"`
	StartedAt      *time.Time `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	DurationMs     int64      `json:"duration_ms"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func CreateSyncRun(ctx context.Context, entityName string, triggeredBy string) (*SearchSyncRun, error) {
	run := &SearchSyncRun{
		EntityName:  entityName,
		Status:      SyncRunStatusQueued,
		TriggeredBy: triggeredBy,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func GetSyncRunById(ctx context.Context, id uint) (*SearchSyncRun, error) {
	var run SearchSyncRun
	db := config.GetDB()
	err := db.WithContext(ctx).First(&run, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func UpdateSyncRun(ctx context.Context, run *SearchSyncRun, updates map[string]interface{}) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(run).Updates(updates).Error
}

// ListSyncRuns returns run history, newest first. entityName is optional.
func ListSyncRuns(ctx context.Context, entityName string, pageIndex int, pageSize int) ([]*SearchSyncRun, int64, error) {
	if pageIndex < 0 {
		pageIndex = 0
	}
	if pageSize <= 0 {
		pageSize = config.SearchLimit
	}

	db := config.GetDB()
	query := db.WithContext(ctx).Model(&SearchSyncRun{})
	if entityName != "" {
		query = query.Where("LOWER(entity_name) = ?", toLowerTrim(entityName))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var runs []*SearchSyncRun
	err := query.
		Order("id DESC").
		Offset(pageIndex * pageSize).
		Limit(pageSize).
		Find(&runs).Error
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}
