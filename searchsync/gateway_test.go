package searchsync

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/commercekit/searchsync/models"
	"github.com/elastic/go-elasticsearch/v8"
)

type staticProvider struct {
	client *elasticsearch.Client
}

func (p staticProvider) Client(ctx context.Context) (*elasticsearch.Client, error) {
	return p.client, nil
}

func newTestRepository(t *testing.T, handler http.HandlerFunc) (*Repository[models.Category], *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The client verifies it is talking to a genuine index node.
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return NewRepository[models.Category](quietLogger(), staticProvider{client: client}), srv
}

// bulkDocIds extracts the document ids from an NDJSON bulk payload.
func bulkDocIds(r *http.Request) []string {
	var ids []string
	scanner := bufio.NewScanner(r.Body)
	for scanner.Scan() {
		line := scanner.Text()
		var meta map[string]struct {
			ID string `json:"_id"`
		}
		if err := json.Unmarshal([]byte(line), &meta); err != nil {
			continue
		}
		if action, ok := meta["index"]; ok && action.ID != "" {
			ids = append(ids, action.ID)
		}
	}
	return ids
}

func writeBulkResponse(w http.ResponseWriter, ids []string, failing map[string]bool) {
	var sb strings.Builder
	sb.WriteString(`{"took":5,"errors":`)
	hasErrors := false
	for _, id := range ids {
		if failing[id] {
			hasErrors = true
		}
	}
	fmt.Fprintf(&sb, "%t", hasErrors)
	sb.WriteString(`,"items":[`)
	for i, id := range ids {
		if i > 0 {
			sb.WriteString(",")
		}
		if failing[id] {
			fmt.Fprintf(&sb, `{"index":{"_id":%q,"status":400,"error":{"type":"mapper_parsing_exception","reason":"failed to parse field"}}}`, id)
		} else {
			fmt.Fprintf(&sb, `{"index":{"_id":%q,"status":201,"result":"created"}}`, id)
		}
	}
	sb.WriteString(`]}`)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(sb.String()))
}

func TestRepositoryIndexName(t *testing.T) {
	repo, _ := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {})
	if repo.IndexName() != "category" {
		t.Fatalf("index = %q, want category", repo.IndexName())
	}
}

func TestGetByIdFoundAndMissing(t *testing.T) {
	repo, _ := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/7") {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"_index":"category","_id":"7","found":true,"_source":{"id":7,"name":"drinks"}}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"found":false}`))
	})

	got, err := repo.GetById(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetById(7): %v", err)
	}
	if got == nil || got.ID != 7 || got.Name != "drinks" {
		t.Fatalf("GetById(7) = %+v", got)
	}

	missing, err := repo.GetById(context.Background(), 99)
	if err != nil {
		t.Fatalf("GetById(99): %v", err)
	}
	if missing != nil {
		t.Fatalf("GetById(99) = %+v, want nil", missing)
	}
}

func TestInsertCreatesAndReportsConflict(t *testing.T) {
	var gotPath string
	repo, _ := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if strings.HasSuffix(r.URL.Path, "/8") {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":{"type":"version_conflict_engine_exception","reason":"document already exists"}}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"7","result":"created"}`))
	})

	if err := repo.Insert(context.Background(), models.Category{ID: 7, Name: "drinks"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if gotPath != "/category/_create/7" {
		t.Fatalf("path = %q, want /category/_create/7", gotPath)
	}

	err := repo.Insert(context.Background(), models.Category{ID: 8, Name: "drinks"})
	var writeErr *IndexWriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("Insert conflict error = %v, want IndexWriteError", err)
	}
	if writeErr.Op != "insert" || writeErr.DocumentID != "8" {
		t.Fatalf("write error = %+v", writeErr)
	}
	if writeErr.Reason != "document already exists" {
		t.Fatalf("reason = %q", writeErr.Reason)
	}
}

func TestUpdateWrapsDocumentBody(t *testing.T) {
	var gotPath string
	var gotBody []byte
	repo, _ := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"_id":"7","result":"updated"}`))
	})

	if err := repo.Update(context.Background(), models.Category{ID: 7, Name: "snacks"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if gotPath != "/category/_update/7" {
		t.Fatalf("path = %q, want /category/_update/7", gotPath)
	}

	var envelope struct {
		Doc models.Category `json:"doc"`
	}
	if err := json.Unmarshal(gotBody, &envelope); err != nil {
		t.Fatalf("update body %s: %v", gotBody, err)
	}
	if envelope.Doc.ID != 7 || envelope.Doc.Name != "snacks" {
		t.Fatalf("update doc = %+v", envelope.Doc)
	}
}

func TestDeleteToleratesMissingDocument(t *testing.T) {
	repo, _ := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/99") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"result":"not_found"}`))
			return
		}
		if strings.HasSuffix(r.URL.Path, "/8") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"reason":"index is read-only"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"result":"deleted"}`))
	})

	if err := repo.Delete(context.Background(), models.Category{ID: 7}); err != nil {
		t.Fatalf("Delete(7): %v", err)
	}
	if err := repo.Delete(context.Background(), models.Category{ID: 99}); err != nil {
		t.Fatalf("Delete(99) on a missing document: %v", err)
	}

	err := repo.Delete(context.Background(), models.Category{ID: 8})
	var writeErr *IndexWriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("Delete(8) error = %v, want IndexWriteError", err)
	}
	if writeErr.Op != "delete" || writeErr.Reason != "index is read-only" {
		t.Fatalf("write error = %+v", writeErr)
	}
}

func TestFindSendsPagingAndDecodesHits(t *testing.T) {
	var gotPath string
	var gotBody []byte
	repo, _ := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"hits":{"total":{"value":2},"hits":[` +
			`{"_id":"7","_source":{"id":7,"name":"drinks"}},` +
			`{"_id":"8","_source":{"id":8,"name":"snacks"}}]}}`))
	})

	query := map[string]interface{}{"match": map[string]interface{}{"name": "s"}}
	got, err := repo.Find(context.Background(), query, 10, 2)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if gotPath != "/category/_search" {
		t.Fatalf("path = %q, want /category/_search", gotPath)
	}

	var request struct {
		From  int                    `json:"from"`
		Size  int                    `json:"size"`
		Query map[string]interface{} `json:"query"`
	}
	if err := json.Unmarshal(gotBody, &request); err != nil {
		t.Fatalf("search body %s: %v", gotBody, err)
	}
	if request.From != 10 || request.Size != 2 {
		t.Fatalf("paging = from %d size %d, want from 10 size 2", request.From, request.Size)
	}
	if request.Query == nil {
		t.Fatal("query missing from search body")
	}

	if len(got) != 2 || got[0].ID != 7 || got[1].Name != "snacks" {
		t.Fatalf("Find = %+v", got)
	}
}

func TestBulkAllBatchesAndRefreshes(t *testing.T) {
	var bulkCalls, refreshCalls int32
	repo, _ := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "_refresh") {
			atomic.AddInt32(&refreshCalls, 1)
			_, _ = w.Write([]byte(`{"_shards":{"total":1,"successful":1,"failed":0}}`))
			return
		}
		atomic.AddInt32(&bulkCalls, 1)
		writeBulkResponse(w, bulkDocIds(r), nil)
	})

	cfg := DefaultBulkConfig("category")
	cfg.BatchSize = 5
	results, done := repo.BulkAll(context.Background(), makeCategories(12), cfg)

	seen := map[int]bool{}
	for item := range results {
		if !item.Succeeded {
			t.Fatalf("item %d failed: %s", item.EntityId, item.ErrorReason)
		}
		if item.Operation != "index" {
			t.Fatalf("item %d operation = %q, want index", item.EntityId, item.Operation)
		}
		seen[item.EntityId] = true
	}
	if err := <-done; err != nil {
		t.Fatalf("terminal error: %v", err)
	}
	if len(seen) != 12 {
		t.Fatalf("results for %d ids, want 12", len(seen))
	}
	if got := atomic.LoadInt32(&bulkCalls); got != 3 {
		t.Fatalf("bulk calls = %d, want 3", got)
	}
	if got := atomic.LoadInt32(&refreshCalls); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}

func TestBulkAllEmitsPerItemRejections(t *testing.T) {
	repo, _ := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "_refresh") {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		writeBulkResponse(w, bulkDocIds(r), map[string]bool{"3": true})
	})

	results, done := repo.BulkAll(context.Background(), makeCategories(5), DefaultBulkConfig("category"))

	byId := map[int]BatchItemResult{}
	for item := range results {
		byId[item.EntityId] = item
	}
	if err := <-done; err != nil {
		t.Fatalf("terminal error: %v, want nil for per-item rejection", err)
	}
	if byId[3].Succeeded {
		t.Fatal("item 3 reported success, want rejection")
	}
	if byId[3].ErrorReason == "" {
		t.Fatal("item 3 rejection has no reason")
	}
	for _, id := range []int{1, 2, 4, 5} {
		if !byId[id].Succeeded {
			t.Fatalf("item %d failed: %s", id, byId[id].ErrorReason)
		}
	}
}

func TestBulkAllRetriesThenFailsTerminally(t *testing.T) {
	var bulkCalls int32
	repo, _ := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&bulkCalls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"type":"node_disconnected_exception","reason":"node down"}}`))
	})

	cfg := DefaultBulkConfig("category")
	cfg.MaxRetries = 2
	cfg.Backoff = 5 * time.Millisecond
	results, done := repo.BulkAll(context.Background(), makeCategories(10), cfg)

	count := 0
	for range results {
		count++
	}
	err := <-done
	if err == nil {
		t.Fatal("terminal error is nil, want failure after retries")
	}
	if count != 0 {
		t.Fatalf("emitted %d results from a failed batch, want 0", count)
	}
	// Initial attempt plus the two retries.
	if got := atomic.LoadInt32(&bulkCalls); got != 3 {
		t.Fatalf("bulk calls = %d, want 3", got)
	}
}

func TestBulkAllSuccessfulBatchesSurviveSiblingFailure(t *testing.T) {
	// One batch fails permanently, the other succeeds; parallelism 1 makes
	// the call order deterministic.
	var bulkCalls int32
	repo, _ := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "_refresh") {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		call := atomic.AddInt32(&bulkCalls, 1)
		ids := bulkDocIds(r)
		if call == 1 {
			writeBulkResponse(w, ids, nil)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"reason":"rejected"}}`))
	})

	cfg := DefaultBulkConfig("category")
	cfg.BatchSize = 5
	cfg.MaxDegreeOfParallelism = 1
	cfg.MaxRetries = 0
	cfg.Backoff = time.Millisecond
	results, done := repo.BulkAll(context.Background(), makeCategories(10), cfg)

	succeeded := map[int]bool{}
	for item := range results {
		if item.Succeeded {
			succeeded[item.EntityId] = true
		}
	}
	if err := <-done; err == nil {
		t.Fatal("terminal error is nil, want sibling failure to surface")
	}
	if len(succeeded) != 5 {
		t.Fatalf("results from the successful batch = %d, want 5", len(succeeded))
	}
}

func TestBulkAllEmptyInput(t *testing.T) {
	repo, _ := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for empty input")
	})

	results, done := repo.BulkAll(context.Background(), nil, DefaultBulkConfig("category"))
	for range results {
		t.Fatal("unexpected result")
	}
	if err := <-done; err != nil {
		t.Fatalf("terminal error: %v", err)
	}
}
