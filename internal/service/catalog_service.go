package service

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/aviarydata/aviary/internal/domain"
	"github.com/aviarydata/aviary/internal/grid"
	"github.com/aviarydata/aviary/internal/query"
	"github.com/aviarydata/aviary/internal/search"
	"github.com/aviarydata/aviary/internal/worker"
)

// DefaultQueryLimit caps how many documents a catalog query hands back in
// one call; callers page through the scan for more.
const DefaultQueryLimit = 10_000

const scanPageSize = 500

// CatalogService runs composed queries and geo aggregations over the
// metadata index, and maintains the sites index. Short user-triggered
// operations run on the immediate pool; RefreshSites is queued on the
// background pool and completes asynchronously.
type CatalogService interface {
	QueryImages(ctx context.Context, limit int, conditions ...query.Condition) ([]domain.ImageDocument, error)
	GeoBuckets(ctx context.Context, box search.BoundingBox, precision, sampleSize int, conditions ...query.Condition) ([]search.GeoBucket, error)
	BucketImages(ctx context.Context, bucket search.GeoBucket) ([]domain.ImageDocument, error)
	DetectSites(ctx context.Context, positions []domain.LatLng) ([]string, error)
	RefreshSites(ctx context.Context, sites []domain.Site) error
	ImageDownloadURL(ctx context.Context, storagePath string) (string, error)
}

type catalogService struct {
	client     *search.Client
	sessions   *grid.SessionPool
	immediate  *worker.Immediate
	background *worker.Background
}

func NewCatalogService(client *search.Client, sessions *grid.SessionPool, immediate *worker.Immediate, background *worker.Background) CatalogService {
	return &catalogService{
		client:     client,
		sessions:   sessions,
		immediate:  immediate,
		background: background,
	}
}

// QueryImages runs the composed conditions against the metadata index and
// collects up to limit matching documents through a scrolled scan.
func (s *catalogService) QueryImages(ctx context.Context, limit int, conditions ...query.Condition) ([]domain.ImageDocument, error) {
	if limit <= 0 || limit > DefaultQueryLimit {
		limit = DefaultQueryLimit
	}

	scan := s.client.ScanAll(search.IndexMetadata, scanPageSize, query.Compose(conditions...))
	defer scan.Close(ctx)

	docs := make([]domain.ImageDocument, 0)
	for len(docs) < limit && scan.Next(ctx) {
		var doc domain.ImageDocument
		if err := json.Unmarshal(scan.Document(), &doc); err != nil {
			return nil, errors.Wrap(err, "decoding image document")
		}
		docs = append(docs, doc)
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// GeoBuckets aggregates the filtered metadata index into geohash cells
// inside the viewport.
func (s *catalogService) GeoBuckets(ctx context.Context, box search.BoundingBox, precision, sampleSize int, conditions ...query.Condition) ([]search.GeoBucket, error) {
	if sampleSize <= 0 {
		sampleSize = 10
	}
	return s.client.GeoAggregate(ctx, box.Clamped(), precision, query.Compose(conditions...), sampleSize)
}

func (s *catalogService) BucketImages(ctx context.Context, bucket search.GeoBucket) ([]domain.ImageDocument, error) {
	return s.client.BucketDocuments(ctx, bucket)
}

func (s *catalogService) DetectSites(ctx context.Context, positions []domain.LatLng) ([]string, error) {
	var codes []string
	err := s.runImmediate(ctx, "detect sites", func(ctx context.Context, _ worker.TaskContext) error {
		var err error
		codes, err = s.client.DetectSites(ctx, positions)
		return err
	})
	return codes, err
}

// RefreshSites queues a drop-and-rebuild of the sites index on the
// background pool. A nil return means the rebuild was accepted, not that
// it finished.
func (s *catalogService) RefreshSites(ctx context.Context, sites []domain.Site) error {
	return s.background.Submit(worker.Task{
		Name: "refresh sites",
		Run: func(ctx context.Context, _ worker.TaskContext) error {
			return s.client.RefreshSites(ctx, sites)
		},
	})
}

// ImageDownloadURL generates a short-lived link for fetching one stored
// file straight off the grid. The grid session is checked out under the
// immediate worker's identity, so no two requests share one.
func (s *catalogService) ImageDownloadURL(ctx context.Context, storagePath string) (string, error) {
	var url string
	err := s.runImmediate(ctx, "download url", func(ctx context.Context, tc worker.TaskContext) error {
		checkout, err := s.sessions.Acquire(ctx, tc.WorkerID)
		if err != nil {
			return err
		}
		defer s.sessions.Release(checkout)
		url, err = checkout.Conn().DownloadURL(ctx, storagePath, grid.DefaultDownloadExpiry)
		return err
	})
	return url, err
}

// runImmediate executes run on the immediate pool and blocks until it
// finishes, so callers keep their synchronous signatures while concurrency
// stays bounded by the pool.
func (s *catalogService) runImmediate(ctx context.Context, name string, run func(ctx context.Context, tc worker.TaskContext) error) error {
	done := make(chan error, 1)
	err := s.immediate.Submit(ctx, worker.Task{
		Name:   name,
		Run:    run,
		OnDone: func(err error) { done <- err },
	})
	if err != nil {
		return err
	}
	return <-done
}
