package searchsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/commercekit/searchsync/models"
	"github.com/commercekit/searchsync/utils"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/sirupsen/logrus"
)

// BulkConfig tunes one bulk-upsert call.
type BulkConfig struct {
	// Index is the target collection; defaults to the repository's index.
	Index string
	// MaxRetries is the retry budget per sub-batch on transient failure.
	MaxRetries int
	// Backoff is the pause between retries of the same sub-batch.
	Backoff time.Duration
	// MaxDegreeOfParallelism bounds concurrent in-flight sub-batches.
	MaxDegreeOfParallelism int
	// BatchSize is the number of documents per network round trip.
	BatchSize int
}

func DefaultBulkConfig(index string) BulkConfig {
	return BulkConfig{
		Index:                  index,
		MaxRetries:             2,
		Backoff:                30 * time.Second,
		MaxDegreeOfParallelism: 4,
		BatchSize:              100,
	}
}

func (c BulkConfig) normalized(index string) BulkConfig {
	def := DefaultBulkConfig(index)
	if c.Index == "" {
		c.Index = def.Index
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.Backoff <= 0 {
		c.Backoff = def.Backoff
	}
	if c.MaxDegreeOfParallelism <= 0 {
		c.MaxDegreeOfParallelism = def.MaxDegreeOfParallelism
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	return c
}

// BatchItemResult is the per-document outcome of a bulk call. Operation is
// the action name reported by the index ("index", "update", "delete", ...).
type BatchItemResult struct {
	EntityId    int
	Operation   string
	Status      int
	Succeeded   bool
	ErrorReason string
}

// Repository wraps the shared index client with typed operations for one
// entity type. The index name defaults to the lower-cased type name.
type Repository[T models.Identifier] struct {
	logger *logrus.Logger
	conn   ClientProvider
	index  string
}

func NewRepository[T models.Identifier](logger *logrus.Logger, conn ClientProvider) *Repository[T] {
	return &Repository[T]{
		logger: logger,
		conn:   conn,
		index:  strings.ToLower(utils.GetTypeName[T]()),
	}
}

func (r *Repository[T]) IndexName() string {
	return r.index
}

// GetById fetches a document; a missing document returns (nil, nil).
func (r *Repository[T]) GetById(ctx context.Context, id int) (*T, error) {
	client, err := r.conn.Client(ctx)
	if err != nil {
		return nil, err
	}

	res, err := client.Get(r.index, strconv.Itoa(id), client.Get.WithContext(ctx))
	if err != nil {
		return nil, &ConnectionError{Op: "get", Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, &ConnectionError{Op: "get", Err: fmt.Errorf("status %s", res.Status())}
	}

	var envelope struct {
		Source T `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	return &envelope.Source, nil
}

// Insert creates the document; an existing document with the same id is a
// write error.
func (r *Repository[T]) Insert(ctx context.Context, entity T) error {
	client, err := r.conn.Client(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(entity)
	if err != nil {
		return err
	}
	docID := strconv.Itoa(entity.GetId())
	res, err := client.Create(r.index, docID, bytes.NewReader(body), client.Create.WithContext(ctx))
	if err != nil {
		return &ConnectionError{Op: "insert", Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		return r.writeError("insert", docID, res)
	}
	return nil
}

// Update replaces the stored document fields with the entity's.
func (r *Repository[T]) Update(ctx context.Context, entity T) error {
	client, err := r.conn.Client(ctx)
	if err != nil {
		return err
	}

	doc, err := json.Marshal(entity)
	if err != nil {
		return err
	}
	body := append(append([]byte(`{"doc":`), doc...), '}')
	docID := strconv.Itoa(entity.GetId())
	res, err := client.Update(r.index, docID, bytes.NewReader(body), client.Update.WithContext(ctx))
	if err != nil {
		return &ConnectionError{Op: "update", Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		return r.writeError("update", docID, res)
	}
	return nil
}

// Delete removes the document. A document that is already gone is tolerated.
func (r *Repository[T]) Delete(ctx context.Context, entity T) error {
	client, err := r.conn.Client(ctx)
	if err != nil {
		return err
	}

	docID := strconv.Itoa(entity.GetId())
	res, err := client.Delete(r.index, docID, client.Delete.WithContext(ctx))
	if err != nil {
		return &ConnectionError{Op: "delete", Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil
	}
	if res.IsError() {
		return r.writeError("delete", docID, res)
	}
	return nil
}

// Find runs a query against the index with explicit offset/limit paging.
func (r *Repository[T]) Find(ctx context.Context, query map[string]interface{}, from int, size int) ([]T, error) {
	client, err := r.conn.Client(ctx)
	if err != nil {
		return nil, err
	}

	request := map[string]interface{}{
		"from": from,
		"size": size,
	}
	if query != nil {
		request["query"] = query
	}
	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	res, err := client.Search(
		client.Search.WithContext(ctx),
		client.Search.WithIndex(r.index),
		client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, &ConnectionError{Op: "search", Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, &ConnectionError{Op: "search", Err: fmt.Errorf("status %s", res.Status())}
	}

	var envelope struct {
		Hits struct {
			Hits []struct {
				Source T `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, err
	}

	entities := make([]T, 0, len(envelope.Hits.Hits))
	for _, hit := range envelope.Hits.Hits {
		entities = append(entities, hit.Source)
	}
	return entities, nil
}

// Refresh makes the just-written documents visible to subsequent searches.
func (r *Repository[T]) Refresh(ctx context.Context, index string) error {
	client, err := r.conn.Client(ctx)
	if err != nil {
		return err
	}

	res, err := client.Indices.Refresh(
		client.Indices.Refresh.WithContext(ctx),
		client.Indices.Refresh.WithIndex(index),
	)
	if err != nil {
		return &ConnectionError{Op: "refresh", Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		return &ConnectionError{Op: "refresh", Err: fmt.Errorf("status %s", res.Status())}
	}
	return nil
}

// BulkAll submits the entities in bounded sub-batches with bounded
// parallelism. Per-item outcomes stream on the first channel; the second
// channel delivers exactly one terminal result once everything settles.
// Sub-batches that succeed emit their items even when a sibling sub-batch
// later fails terminally, so callers can ledger partial progress. Result
// ordering across sub-batches is not guaranteed.
func (r *Repository[T]) BulkAll(ctx context.Context, entities []T, cfg BulkConfig) (<-chan BatchItemResult, <-chan error) {
	cfg = cfg.normalized(r.index)
	// Buffered for every possible item so producers never block on a slow
	// consumer and successful sub-batches are never dropped.
	results := make(chan BatchItemResult, len(entities))
	done := make(chan error, 1)

	go func() {
		defer close(results)

		if len(entities) == 0 {
			done <- nil
			return
		}

		client, err := r.conn.Client(ctx)
		if err != nil {
			done <- err
			return
		}

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			terminal error
		)
		sem := make(chan struct{}, cfg.MaxDegreeOfParallelism)

		for start := 0; start < len(entities); start += cfg.BatchSize {
			if runCtx.Err() != nil {
				break
			}
			end := start + cfg.BatchSize
			if end > len(entities) {
				end = len(entities)
			}
			batch := entities[start:end]

			wg.Add(1)
			sem <- struct{}{}
			go func(batch []T) {
				defer wg.Done()
				defer func() { <-sem }()

				items, err := r.bulkBatch(runCtx, client, batch, cfg)
				if err != nil {
					mu.Lock()
					if terminal == nil {
						terminal = err
						cancel()
					}
					mu.Unlock()
					return
				}
				for _, item := range items {
					results <- item
				}
			}(batch)
		}
		wg.Wait()

		if terminal == nil && ctx.Err() != nil {
			terminal = ctx.Err()
		}
		if terminal == nil {
			// Read-your-writes for the caller.
			if err := r.Refresh(ctx, cfg.Index); err != nil && r.logger != nil {
				r.logger.WithFields(logrus.Fields{
					"module": "searchsync",
					"index":  cfg.Index,
				}).Warn("index refresh after bulk failed: " + err.Error())
			}
		}
		done <- terminal
	}()

	return results, done
}

// bulkBatch sends one sub-batch, retrying transient failures up to the
// configured budget with the configured backoff. Per-item rejections are not
// transient; they come back as failed results.
func (r *Repository[T]) bulkBatch(ctx context.Context, client *elasticsearch.Client, batch []T, cfg BulkConfig) ([]BatchItemResult, error) {
	var buf bytes.Buffer
	for _, entity := range batch {
		meta := fmt.Sprintf(`{"index":{"_index":%q,"_id":%q}}`, cfg.Index, strconv.Itoa(entity.GetId()))
		buf.WriteString(meta)
		buf.WriteByte('\n')
		doc, err := json.Marshal(entity)
		if err != nil {
			return nil, err
		}
		buf.Write(doc)
		buf.WriteByte('\n')
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.Backoff):
			}
		}

		res, err := client.Bulk(bytes.NewReader(buf.Bytes()), client.Bulk.WithContext(ctx))
		if err != nil {
			lastErr = &ConnectionError{Op: "bulk", Err: err}
			continue
		}

		items, err := parseBulkResponse(res)
		if err != nil {
			lastErr = err
			continue
		}
		return items, nil
	}
	return nil, lastErr
}

type bulkResponseItem struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func parseBulkResponse(res *esapi.Response) ([]BatchItemResult, error) {
	defer res.Body.Close()

	if res.IsError() {
		return nil, &ConnectionError{Op: "bulk", Err: fmt.Errorf("status %s", res.Status())}
	}

	var body struct {
		Errors bool                          `json:"errors"`
		Items  []map[string]bulkResponseItem `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, &ConnectionError{Op: "bulk", Err: err}
	}

	items := make([]BatchItemResult, 0, len(body.Items))
	for _, entry := range body.Items {
		// The single key of each entry is the applied operation name.
		for action, item := range entry {
			id, err := strconv.Atoi(item.ID)
			if err != nil {
				items = append(items, BatchItemResult{
					Operation:   action,
					Status:      item.Status,
					Succeeded:   false,
					ErrorReason: fmt.Sprintf("non-numeric document id %q", item.ID),
				})
				continue
			}
			result := BatchItemResult{
				EntityId:  id,
				Operation: action,
				Status:    item.Status,
				Succeeded: item.Status >= 200 && item.Status < 300 && item.Error == nil,
			}
			if item.Error != nil {
				result.ErrorReason = item.Error.Reason
			}
			items = append(items, result)
		}
	}
	return items, nil
}

func (r *Repository[T]) writeError(op string, docID string, res *esapi.Response) error {
	reason := res.Status()
	var body struct {
		Error struct {
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err == nil && body.Error.Reason != "" {
		reason = body.Error.Reason
	}
	return &IndexWriteError{
		Index:      r.index,
		DocumentID: docID,
		Op:         op,
		StatusCode: res.StatusCode,
		Reason:     reason,
	}
}
