package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/commercekit/searchsync/config"
	"github.com/commercekit/searchsync/utils"
	"gorm.io/gorm"
)

// EntityTransfer is the ledger row marking that a source record has been
// propagated to the search index. A row exists for (EntityName, EntityId)
// iff that record was submitted successfully at least once; absence means
// "never transferred" and is what the reconciliation query looks for.
type EntityTransfer struct {
	ID              int       `gorm:"primary_key" json:"id"`
	EntityName      string    `gorm:"index:idx_entity_transfer,priority:1;size:400;not null" json:"entity_name"`
	EntityId        int       `gorm:"index:idx_entity_transfer,priority:2;not null" json:"entity_id"`
	Ignored         bool      `gorm:"not null;default:false" json:"ignored"`
	OperationTypeId int       `gorm:"not null" json:"operation_type_id"`
	CreatedDateUtc  time.Time `gorm:"not null" json:"created_date_utc"`
	UpdatedDateUtc  time.Time `gorm:"not null" json:"updated_date_utc"`
}

func (et EntityTransfer) OperationType() OperationType {
	return OperationType(et.OperationTypeId)
}

// GetEntityTransfer returns the ledger row for (entityName, entityId), or nil
// when the record was never transferred. Lookups are cached with a short TTL;
// every mutation of the same pair invalidates the cache entry.
func GetEntityTransfer(ctx context.Context, entityName string, entityId int) (*EntityTransfer, error) {
	if strings.TrimSpace(entityName) == "" {
		return nil, fmt.Errorf("%w: entityName is required", utils.ErrorValidation)
	}
	if entityId <= 0 {
		return nil, fmt.Errorf("%w: entityId must be positive", utils.ErrorValidation)
	}

	cacheKey := utils.CompositeKey(entityName, entityId)
	cached, err := utils.RetrieveRedisKeyed[EntityTransfer](cacheKey)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	var transfers []*EntityTransfer
	db := config.GetDB()
	err = db.WithContext(ctx).
		Where("entity_id = ?", entityId).
		Where("LOWER(entity_name) = ?", strings.ToLower(entityName)).
		Order("id ASC").
		Find(&transfers).Error
	if err != nil {
		return nil, err
	}
	if len(transfers) == 0 {
		return nil, nil
	}

	if err := utils.StoreRedisKeyed[EntityTransfer](transfers[0], cacheKey); err != nil {
		return nil, err
	}
	return transfers[0], nil
}

// GetEntityTransfersByEntityId lists ledger rows for an id across all entity
// types. Ids are not globally unique, so callers must expect several rows.
func GetEntityTransfersByEntityId(ctx context.Context, entityId int) ([]*EntityTransfer, error) {
	if entityId <= 0 {
		return nil, fmt.Errorf("%w: entityId must be positive", utils.ErrorValidation)
	}
	var transfers []*EntityTransfer
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("entity_id = ?", entityId).
		Order("id ASC").
		Find(&transfers).Error
	return transfers, err
}

func GetEntityTransferById(ctx context.Context, id int) (*EntityTransfer, error) {
	var transfer EntityTransfer
	db := config.GetDB()
	err := db.WithContext(ctx).First(&transfer, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

// Scope narrows a source-entity query (e.g. exclude soft-deleted rows).
type Scope func(*gorm.DB) *gorm.DB

// NonTransferredEntities pages through source rows of T that have no ledger
// row for (entityName, row id). The anti-join keys on the composite pair and
// compares entity names case-insensitively; any ledger row, ignored or not,
// removes the source row from the result. Rows are ordered by id and paged by
// row offset so callers can step past rows the index refused to take. When
// getOnlyTotalCount is set, only the count is computed.
func NonTransferredEntities[T Identifier](ctx context.Context, entityName string, offset int, limit int, getOnlyTotalCount bool, scopes ...Scope) ([]T, int64, error) {
	if strings.TrimSpace(entityName) == "" {
		return nil, 0, fmt.Errorf("%w: entityName is required", utils.ErrorValidation)
	}
	if offset < 0 || limit <= 0 {
		return nil, 0, fmt.Errorf("%w: invalid page arguments", utils.ErrorValidation)
	}

	db := config.GetDB()
	var model T
	table := db.Config.NamingStrategy.TableName(utils.GetTypeName[T]())

	query := db.WithContext(ctx).Model(&model).
		Joins(fmt.Sprintf(
			"LEFT JOIN entity_transfers ON entity_transfers.entity_id = %s.id AND LOWER(entity_transfers.entity_name) = ?", table),
			strings.ToLower(entityName)).
		Where("entity_transfers.id IS NULL")
	for _, scope := range scopes {
		query = scope(query)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if getOnlyTotalCount {
		return nil, total, nil
	}

	var entities []T
	err := query.
		Order(table + ".id ASC").
		Offset(offset).
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, 0, err
	}
	return entities, total, nil
}

// TransferSearchOptions filters the admin ledger search. Absent filters mean
// no restriction.
type TransferSearchOptions struct {
	EntityNames      []string
	OperationTypeIds []int
	Ignored          *bool
	PageIndex        int
	PageSize         int
}

// SearchEntityTransfers returns a page of ledger rows matching the filters,
// plus the unpaged total.
func SearchEntityTransfers(ctx context.Context, opts TransferSearchOptions) ([]*EntityTransfer, int64, error) {
	if opts.PageIndex < 0 {
		opts.PageIndex = 0
	}
	if opts.PageSize <= 0 {
		opts.PageSize = config.SearchLimit
	}

	db := config.GetDB()
	query := db.WithContext(ctx).Model(&EntityTransfer{})

	if opts.Ignored != nil {
		query = query.Where("ignored = ?", *opts.Ignored)
	}
	if len(opts.EntityNames) > 0 {
		lowered := make([]string, 0, len(opts.EntityNames))
		for _, name := range opts.EntityNames {
			lowered = append(lowered, strings.ToLower(strings.TrimSpace(name)))
		}
		query = query.Where("LOWER(entity_name) IN ?", lowered)
	}
	if len(opts.OperationTypeIds) > 0 {
		query = query.Where("operation_type_id IN ?", opts.OperationTypeIds)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var transfers []*EntityTransfer
	err := query.
		Order("id ASC").
		Offset(opts.PageIndex * opts.PageSize).
		Limit(opts.PageSize).
		Find(&transfers).Error
	if err != nil {
		return nil, 0, err
	}
	return transfers, total, nil
}

// InsertEntityTransfers persists new ledger rows in one statement. An empty
// collection is a no-op; a nil element is a validation error.
func InsertEntityTransfers(ctx context.Context, transfers []*EntityTransfer) error {
	if len(transfers) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, transfer := range transfers {
		if transfer == nil {
			return fmt.Errorf("%w: transfer cannot be nil", utils.ErrorValidation)
		}
		if transfer.CreatedDateUtc.IsZero() {
			transfer.CreatedDateUtc = now
		}
		if transfer.UpdatedDateUtc.IsZero() {
			transfer.UpdatedDateUtc = now
		}
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&transfers).Error; err != nil {
		return err
	}
	return invalidateTransferCache(transfers)
}

// UpdateEntityTransfers saves modified ledger rows. UpdatedDateUtc is always
// refreshed; CreatedDateUtc is left alone.
func UpdateEntityTransfers(ctx context.Context, transfers []*EntityTransfer) error {
	if len(transfers) == 0 {
		return nil
	}
	now := time.Now().UTC()
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, transfer := range transfers {
			if transfer == nil {
				return fmt.Errorf("%w: transfer cannot be nil", utils.ErrorValidation)
			}
			transfer.UpdatedDateUtc = now
			if err := tx.Save(transfer).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return invalidateTransferCache(transfers)
}

// DeleteEntityTransfersByIds removes ledger rows only; the indexed documents
// stay in place. Unknown ids are skipped silently; the returned count covers
// only the rows that actually existed.
func DeleteEntityTransfersByIds(ctx context.Context, ids []int) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	db := config.GetDB()
	var transfers []*EntityTransfer
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&transfers).Error; err != nil {
		return 0, err
	}
	if len(transfers) == 0 {
		return 0, nil
	}
	result := db.WithContext(ctx).Delete(&EntityTransfer{}, "id IN ?", ids)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, invalidateTransferCache(transfers)
}

// ToggleEntityTransferIgnored flips the manual skip marker on a ledger row.
func ToggleEntityTransferIgnored(ctx context.Context, id int, ignored bool) (*EntityTransfer, error) {
	transfer, err := GetEntityTransferById(ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(transfer).
		Updates(map[string]interface{}{
			"ignored":          ignored,
			"updated_date_utc": time.Now().UTC(),
		}).Error
	if err != nil {
		return nil, err
	}
	if err := invalidateTransferCache([]*EntityTransfer{transfer}); err != nil {
		return nil, err
	}
	return transfer, nil
}

// DistinctEntityNames lists the entity names present in the ledger, for
// filter UIs.
func DistinctEntityNames(ctx context.Context) ([]string, error) {
	var names []string
	db := config.GetDB()
	err := db.WithContext(ctx).Model(&EntityTransfer{}).
		Distinct("entity_name").
		Order("entity_name ASC").
		Pluck("entity_name", &names).Error
	return names, err
}

func invalidateTransferCache(transfers []*EntityTransfer) error {
	keys := make([]string, 0, len(transfers))
	for _, transfer := range transfers {
		if transfer == nil {
			continue
		}
		keys = append(keys, utils.CompositeKey(transfer.EntityName, transfer.EntityId))
	}
	return utils.RemoveRedisKeyed[EntityTransfer](keys...)
}
