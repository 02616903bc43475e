// Package search talks to the document-search backend: index lifecycle,
// scrolled scans, bulk writes, scripted partial updates, multi-search, and
// geo aggregation. The adapter surfaces backend errors to its callers and
// never retries on its own; retry-vs-abort is a caller decision.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/olivere/elastic/v7"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/aviarydata/aviary/internal/config"
	"github.com/aviarydata/aviary/internal/domain"
	"github.com/aviarydata/aviary/internal/logging"
)

var (
	ErrNotFound = errors.New("document not found")
	// ErrBatchMismatch is returned when a multi-search response count does
	// not match the request count; the whole batch is treated as failed.
	ErrBatchMismatch = errors.New("multi-search response count does not match request count")
)

// BulkFailure identifies one document that failed inside a bulk write.
type BulkFailure struct {
	ID     string
	Reason string
}

// BulkError reports the per-document failures of a partially failed bulk
// write. Documents not listed were indexed successfully.
type BulkError struct {
	Index    string
	Failures []BulkFailure
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("bulk write to %q: %d document(s) failed", e.Index, len(e.Failures))
}

// Client wraps the backend connection. One Client is shared by all workers;
// the underlying HTTP transport is safe for concurrent use.
type Client struct {
	es       *elastic.Client
	shards   int
	replicas int
}

// NewClient connects to the search backend described by cfg.
func NewClient(cfg config.ElasticConfig) (*Client, error) {
	opts := []elastic.ClientOptionFunc{
		elastic.SetURL(cfg.URL),
		elastic.SetSniff(false),
		elastic.SetHealthcheck(false),
	}
	if cfg.Username != "" {
		opts = append(opts, elastic.SetBasicAuth(cfg.Username, cfg.Password))
	}
	es, err := elastic.NewClient(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to search backend")
	}
	shards := cfg.Shards
	if shards <= 0 {
		shards = 1
	}
	return &Client{es: es, shards: shards, replicas: cfg.Replicas}, nil
}

// CreateIndex creates an index with the given mapping. When dropIfExists is
// set the index is deleted and recreated unconditionally; otherwise an
// existing index is left untouched.
func (c *Client) CreateIndex(ctx context.Context, name string, mapping map[string]interface{}, dropIfExists bool) error {
	exists, err := c.es.IndexExists(name).Do(ctx)
	if err != nil {
		return errors.Wrapf(err, "checking index %q", name)
	}

	if exists && dropIfExists {
		if _, err := c.es.DeleteIndex(name).Do(ctx); err != nil {
			return errors.Wrapf(err, "deleting index %q", name)
		}
		exists = false
	}
	if exists {
		return nil
	}

	body := map[string]interface{}{
		"settings": map[string]interface{}{
			"index.number_of_shards":   c.shards,
			"index.number_of_replicas": c.replicas,
		},
		"mappings": mapping,
	}
	if _, err := c.es.CreateIndex(name).BodyJson(body).Do(ctx); err != nil {
		return errors.Wrapf(err, "creating index %q", name)
	}
	logging.Info("created index", zap.String("index", name))
	return nil
}

// EnsureIndexes creates every logical index that does not exist yet.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	for name, mapping := range map[string]map[string]interface{}{
		IndexUsers:       usersMapping(),
		IndexMetadata:    metadataMapping(),
		IndexCollections: collectionsMapping(),
		IndexSites:       sitesMapping(),
	} {
		if err := c.CreateIndex(ctx, name, mapping, false); err != nil {
			return err
		}
	}
	return nil
}

// RebuildIndex drops and recreates one logical index. All documents in it
// are lost.
func (c *Client) RebuildIndex(ctx context.Context, name string) error {
	mapping, err := mappingFor(name)
	if err != nil {
		return err
	}
	return c.CreateIndex(ctx, name, mapping, true)
}

func mappingFor(name string) (map[string]interface{}, error) {
	switch name {
	case IndexUsers:
		return usersMapping(), nil
	case IndexMetadata:
		return metadataMapping(), nil
	case IndexCollections:
		return collectionsMapping(), nil
	case IndexSites:
		return sitesMapping(), nil
	default:
		return nil, errors.Errorf("unknown index %q", name)
	}
}

// Document is one entry of a bulk write. An empty ID lets the backend
// assign one.
type Document struct {
	ID   string
	Body interface{}
}

// BulkIndex writes many documents in one round trip. Failure is reported
// per document: a *BulkError lists the documents that were rejected while
// the rest stay indexed. The caller decides whether partial success is
// acceptable.
func (c *Client) BulkIndex(ctx context.Context, index string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	bulk := c.es.Bulk()
	for _, doc := range docs {
		req := elastic.NewBulkIndexRequest().Index(index).Doc(doc.Body)
		if doc.ID != "" {
			req.Id(doc.ID)
		}
		bulk.Add(req)
	}
	resp, err := bulk.Do(ctx)
	if err != nil {
		return errors.Wrapf(err, "bulk write to %q", index)
	}
	if !resp.Errors {
		return nil
	}

	failures := make([]BulkFailure, 0)
	for _, item := range resp.Failed() {
		reason := "unknown"
		if item.Error != nil {
			reason = item.Error.Reason
		}
		failures = append(failures, BulkFailure{ID: item.Id, Reason: reason})
	}
	logging.Warn("bulk write partially failed",
		zap.String("index", index),
		zap.Int("failed", len(failures)),
		zap.Int("total", len(docs)))
	return &BulkError{Index: index, Failures: failures}
}

// AppendUploadRecord atomically appends one upload record to a collection
// document's uploads list with a server-side scripted update. The script
// append avoids the read-modify-write race two concurrent uploads to the
// same collection would otherwise hit.
func (c *Client) AppendUploadRecord(ctx context.Context, collectionID string, rec domain.UploadRecord) error {
	script := elastic.NewScript("ctx._source.uploads.add(params.upload)").
		Lang("painless").
		Param("upload", map[string]interface{}{
			"uploadUser":    rec.UploadUser,
			"uploadDate":    rec.UploadDate.UTC().Format(time.RFC3339),
			"imageCount":    rec.ImageCount,
			"uploadPath":    rec.UploadPath,
			"storageMethod": rec.StorageMethod,
		})
	_, err := c.es.Update().
		Index(IndexCollections).
		Id(collectionID).
		Script(script).
		Do(ctx)
	if err != nil {
		if elastic.IsNotFound(err) {
			return ErrNotFound
		}
		return errors.Wrapf(err, "appending upload record to collection %q", collectionID)
	}
	return nil
}

// UpsertCollection creates the collection document if absent, or updates
// its descriptive fields if present. The uploads list is only written on
// creation; after that it is owned by AppendUploadRecord so a concurrent
// upload can never be clobbered by a settings edit.
func (c *Client) UpsertCollection(ctx context.Context, col domain.Collection) error {
	partial := map[string]interface{}{
		"name":         col.Name,
		"organization": col.Organization,
		"contactInfo":  col.ContactInfo,
		"description":  col.Description,
		"permissions":  col.Permissions,
	}
	full := col
	if full.Uploads == nil {
		full.Uploads = []domain.UploadRecord{}
	}
	_, err := c.es.Update().
		Index(IndexCollections).
		Id(col.ID).
		Doc(partial).
		Upsert(full).
		Do(ctx)
	if err != nil {
		return errors.Wrapf(err, "saving collection %q", col.Name)
	}
	return nil
}

// GetCollection fetches one collection document by ID.
func (c *Client) GetCollection(ctx context.Context, id string) (*domain.Collection, error) {
	res, err := c.es.Get().Index(IndexCollections).Id(id).Do(ctx)
	if err != nil {
		if elastic.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "fetching collection %q", id)
	}
	if !res.Found {
		return nil, ErrNotFound
	}
	var col domain.Collection
	if err := json.Unmarshal(res.Source, &col); err != nil {
		return nil, errors.Wrapf(err, "decoding collection %q", id)
	}
	return &col, nil
}

// ListCollections scans the whole collections index.
func (c *Client) ListCollections(ctx context.Context) ([]domain.Collection, error) {
	scan := c.ScanAll(IndexCollections, 10, elastic.NewMatchAllQuery())
	defer scan.Close(ctx)

	var out []domain.Collection
	for scan.Next(ctx) {
		var col domain.Collection
		if err := json.Unmarshal(scan.Document(), &col); err != nil {
			return nil, errors.Wrap(err, "decoding collection")
		}
		out = append(out, col)
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MultiSearch executes the given requests as one batch and returns their
// results in request order. If the backend returns a different number of
// responses than requests the whole batch fails.
func (c *Client) MultiSearch(ctx context.Context, requests []*elastic.SearchRequest) ([]*elastic.SearchResult, error) {
	if len(requests) == 0 {
		return nil, nil
	}
	ms := c.es.MultiSearch()
	for _, req := range requests {
		ms.Add(req)
	}
	resp, err := ms.Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "multi-search")
	}
	if len(resp.Responses) != len(requests) {
		return nil, ErrBatchMismatch
	}
	return resp.Responses, nil
}

// Search exposes the raw search service for callers composing their own
// requests (aggregations, drill-downs).
func (c *Client) Search(indices ...string) *elastic.SearchService {
	return c.es.Search(indices...)
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.es.Stop()
}

// normalizeID turns a username into a stable document ID.
func normalizeID(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
