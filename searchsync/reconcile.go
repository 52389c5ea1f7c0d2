package searchsync

import (
	"context"
	"strconv"
	"time"

	"github.com/commercekit/searchsync/config"
	"github.com/commercekit/searchsync/models"
	"github.com/sirupsen/logrus"
)

// EntitySource yields source rows that have no ledger row yet, ordered by id
// and paged by row offset. The result set shrinks as rows are ledgered, so
// the offset only needs to step past rows that were attempted but refused.
type EntitySource[T models.Identifier] interface {
	NonTransferred(ctx context.Context, entityName string, offset int, limit int, countOnly bool) ([]T, int64, error)
}

// BulkIndexer submits one page of entities to the index and streams per-item
// outcomes. The error channel delivers exactly one terminal result after the
// result channel is closed.
type BulkIndexer[T models.Identifier] interface {
	BulkAll(ctx context.Context, entities []T, cfg BulkConfig) (<-chan BatchItemResult, <-chan error)
}

// TransferLedger is the bookkeeping store the engine writes through.
type TransferLedger interface {
	Get(ctx context.Context, entityName string, entityId int) (*models.EntityTransfer, error)
	InsertMany(ctx context.Context, transfers []*models.EntityTransfer) error
	UpdateMany(ctx context.Context, transfers []*models.EntityTransfer) error
}

// TransferStats summarizes one completed or aborted run.
type TransferStats struct {
	Pages   int
	Records int
}

// TransferTask reconciles one entity type: page candidates, submit the page,
// ledger the outcomes, repeat until the candidate set is empty.
type TransferTask[T models.Identifier] struct {
	logger     *logrus.Logger
	entityName string
	source     EntitySource[T]
	indexer    BulkIndexer[T]
	ledger     TransferLedger
	pageSize   int
	bulkCfg    BulkConfig
}

func NewTransferTask[T models.Identifier](
	logger *logrus.Logger,
	entityName string,
	source EntitySource[T],
	indexer BulkIndexer[T],
	ledger TransferLedger,
	pageSize int,
	bulkCfg BulkConfig,
) *TransferTask[T] {
	if pageSize <= 0 {
		pageSize = 5
	}
	return &TransferTask[T]{
		logger:     logger,
		entityName: entityName,
		source:     source,
		indexer:    indexer,
		ledger:     ledger,
		pageSize:   pageSize,
		bulkCfg:    bulkCfg,
	}
}

// Execute runs the reconciliation loop to completion or first terminal
// failure. Ledger writes for a page are committed before the page's terminal
// error is inspected, so sub-batches that succeeded stay ledgered even when
// the run as a whole fails. Already-committed pages are never re-submitted;
// a failed page's rows simply remain candidates for the next run.
func (t *TransferTask[T]) Execute(ctx context.Context) (TransferStats, error) {
	var stats TransferStats

	_, total, err := t.source.NonTransferred(ctx, t.entityName, 0, t.pageSize, true)
	if err != nil {
		return stats, err
	}
	if total == 0 {
		return stats, nil
	}
	totalPages := int((total + int64(t.pageSize) - 1) / int64(t.pageSize))

	// Ledgered rows drop out of the candidate set on their own, so the
	// cursor only advances past rows that were submitted but came back
	// unledgered (rejected or unmappable). Those stay at the head of the
	// id-ordered candidate list and would otherwise shadow the tail.
	skip := 0
	for page := 0; page < totalPages; page++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		entities, _, err := t.source.NonTransferred(ctx, t.entityName, skip, t.pageSize, false)
		if err != nil {
			return stats, err
		}
		if len(entities) == 0 {
			break
		}

		committed, err := t.reconcilePage(ctx, entities)
		stats.Records += committed
		if err != nil {
			config.LogError(t.logger, "searchsync", "Execute", "page "+strconv.Itoa(page), t.entityName, err)
			return stats, err
		}
		skip += len(entities) - committed
		stats.Pages++
	}
	return stats, nil
}

// reconcilePage submits one page and ledgers its outcomes. It returns the
// number of rows committed along with the page's terminal error, if any.
func (t *TransferTask[T]) reconcilePage(ctx context.Context, entities []T) (int, error) {
	results, done := t.indexer.BulkAll(ctx, entities, t.bulkCfg)

	// Drain everything before touching the terminal error so partially
	// successful pages still ledger their completed sub-batches. Results
	// are keyed by id; sub-batch ordering is not meaningful.
	outcomes := make(map[int]models.OperationType, len(entities))
	var mappingErr error
	for item := range results {
		if !item.Succeeded {
			t.logger.WithFields(logrus.Fields{
				"module":     "searchsync",
				"entityName": t.entityName,
				"entityId":   item.EntityId,
				"status":     item.Status,
			}).Warn("index rejected document: " + item.ErrorReason)
			continue
		}
		op, err := models.OperationTypeFromAction(item.Operation)
		if err != nil {
			if mappingErr == nil {
				mappingErr = err
			}
			continue
		}
		outcomes[item.EntityId] = op
	}

	committed, commitErr := t.commitOutcomes(ctx, outcomes)
	if commitErr != nil {
		// Drain the terminal channel so the producer goroutine settles.
		<-done
		return committed, commitErr
	}

	if terminal := <-done; terminal != nil {
		return committed, terminal
	}
	return committed, mappingErr
}

func (t *TransferTask[T]) commitOutcomes(ctx context.Context, outcomes map[int]models.OperationType) (int, error) {
	if len(outcomes) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	var inserts []*models.EntityTransfer
	var updates []*models.EntityTransfer
	for entityId, op := range outcomes {
		existing, err := t.ledger.Get(ctx, t.entityName, entityId)
		if err != nil {
			return 0, err
		}
		if existing == nil {
			inserts = append(inserts, &models.EntityTransfer{
				EntityName:      t.entityName,
				EntityId:        entityId,
				OperationTypeId: int(op),
				CreatedDateUtc:  now,
				UpdatedDateUtc:  now,
			})
			continue
		}
		existing.OperationTypeId = int(op)
		existing.UpdatedDateUtc = now
		updates = append(updates, existing)
	}

	if err := t.ledger.InsertMany(ctx, inserts); err != nil {
		return 0, err
	}
	if err := t.ledger.UpdateMany(ctx, updates); err != nil {
		return len(inserts), err
	}
	return len(inserts) + len(updates), nil
}
