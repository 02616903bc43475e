package upload

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aviarydata/aviary/internal/domain"
	"github.com/aviarydata/aviary/internal/grid"
	"github.com/aviarydata/aviary/internal/search"
	"github.com/aviarydata/aviary/internal/worker"
)

type fakeGridConn struct {
	mu      sync.Mutex
	mkdirs  []string
	puts    []string
	putErr  map[int]error // by put call index
	putSeen int
}

func (f *fakeGridConn) Mkdir(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mkdirs = append(f.mkdirs, path)
	return nil
}

func (f *fakeGridConn) Put(ctx context.Context, local, remote string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.putSeen
	f.putSeen++
	if err, ok := f.putErr[idx]; ok {
		return err
	}
	f.puts = append(f.puts, remote)
	return nil
}

func (f *fakeGridConn) List(ctx context.Context, p string) ([]string, error) { return nil, nil }
func (f *fakeGridConn) SetAccess(ctx context.Context, p, u string, l grid.AccessLevel) error {
	return nil
}
func (f *fakeGridConn) DownloadURL(ctx context.Context, p string, e time.Duration) (string, error) {
	return "", nil
}
func (f *fakeGridConn) Close() error { return nil }

type fakeIndexer struct {
	mu      sync.Mutex
	docs    []search.Document
	bulkErr error
	records []domain.UploadRecord
}

func (f *fakeIndexer) BulkIndex(ctx context.Context, index string, docs []search.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, docs...)
	return f.bulkErr
}

func (f *fakeIndexer) AppendUploadRecord(ctx context.Context, collectionID string, rec domain.UploadRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func testCollection(uploader string) domain.Collection {
	return domain.Collection{
		ID:   "col-1",
		Name: "Spring Survey",
		Permissions: []domain.Permission{
			{Username: uploader, Read: true, Upload: true},
		},
	}
}

func testRecords(t *testing.T, n int) []domain.ImageRecord {
	t.Helper()
	dir := t.TempDir()
	records := make([]domain.ImageRecord, 0, n)
	for i := 0; i < n; i++ {
		rel := fmt.Sprintf("flight/img-%04d.jpg", i)
		rec := writeLocalFile(t, dir, rel, "")
		rec.DateTaken = time.Date(2024, 6, 1, 10, 0, i, 0, time.UTC)
		rec.FileType = "JPG"
		records = append(records, rec)
	}
	return records
}

func runPipeline(t *testing.T, p *Pipeline, progress worker.ProgressFunc) error {
	t.Helper()
	if progress == nil {
		progress = func(float64, string) {}
	}
	return p.Run(context.Background(), worker.TaskContext{
		WorkerID: "background-0",
		Progress: progress,
	})
}

func TestPipelineHappyPath(t *testing.T) {
	conn := &fakeGridConn{}
	pool := grid.NewSessionPool(func(context.Context) (grid.Connection, error) { return conn, nil })
	indexer := &fakeIndexer{}

	pipeline := NewPipeline(indexer, pool, Params{
		Collection:    testCollection("casey"),
		Username:      "casey",
		TopFolder:     "survey",
		Records:       testRecords(t, 5),
		MaxPerArchive: 3, // chunk size 2, three archives
		TempDir:       t.TempDir(),
	})

	var fractions []float64
	err := runPipeline(t, pipeline, func(f float64, _ string) { fractions = append(fractions, f) })
	require.NoError(t, err)
	assert.Equal(t, StateDone, pipeline.State())

	// Sequential transfers reported as (i+1)/n.
	assert.Contains(t, fractions, 1.0/3.0)
	assert.Contains(t, fractions, 2.0/3.0)

	require.Len(t, conn.mkdirs, 1)
	uploadPath := conn.mkdirs[0]
	assert.Contains(t, uploadPath, "/collections/col-1/uploads/")
	assert.Contains(t, uploadPath, " casey")

	require.Len(t, conn.puts, 3)
	for i, remote := range conn.puts {
		assert.Equal(t, fmt.Sprintf("%s/archive-%d.tar", uploadPath, i), remote)
	}

	// One document per file, not per archive.
	require.Len(t, indexer.docs, 5)
	doc, ok := indexer.docs[0].Body.(domain.ImageDocument)
	require.True(t, ok)
	assert.Equal(t, uploadPath+"/survey/flight/img-0000.jpg", doc.StoragePath)
	assert.Equal(t, "col-1", doc.CollectionID)

	require.Len(t, indexer.records, 1)
	assert.Equal(t, 5, indexer.records[0].ImageCount)
	assert.Equal(t, uploadPath, indexer.records[0].UploadPath)
	assert.Equal(t, StorageMethodGrid, indexer.records[0].StorageMethod)

	// The worker's session went back to the pool.
	assert.Equal(t, 0, pool.ActiveSessions())
}

func TestPipelineLargeUploadChunking(t *testing.T) {
	conn := &fakeGridConn{}
	pool := grid.NewSessionPool(func(context.Context) (grid.Connection, error) { return conn, nil })
	indexer := &fakeIndexer{}

	pipeline := NewPipeline(indexer, pool, Params{
		Collection:    testCollection("casey"),
		Username:      "casey",
		TopFolder:     "survey",
		Records:       testRecords(t, 2150),
		MaxPerArchive: 900,
		TempDir:       t.TempDir(),
	})

	require.NoError(t, runPipeline(t, pipeline, nil))

	// 2150 files at 899 per archive: three transfers, one record.
	assert.Len(t, conn.puts, 3)
	assert.Len(t, indexer.docs, 2150)
	require.Len(t, indexer.records, 1)
	assert.Equal(t, 2150, indexer.records[0].ImageCount)
}

func TestPipelinePermissionPrecheck(t *testing.T) {
	dials := 0
	pool := grid.NewSessionPool(func(context.Context) (grid.Connection, error) {
		dials++
		return &fakeGridConn{}, nil
	})
	indexer := &fakeIndexer{}

	pipeline := NewPipeline(indexer, pool, Params{
		Collection:    testCollection("someone-else"),
		Username:      "casey",
		TopFolder:     "survey",
		Records:       testRecords(t, 2),
		MaxPerArchive: 900,
		TempDir:       t.TempDir(),
	})

	err := runPipeline(t, pipeline, nil)
	assert.ErrorIs(t, err, ErrNoUploadPermission)
	assert.Equal(t, StateFailed, pipeline.State())

	// Nothing moved: no session, no documents, no record.
	assert.Equal(t, 0, dials)
	assert.Empty(t, indexer.docs)
	assert.Empty(t, indexer.records)
}

func TestPipelineAbortsRemainingArchivesOnTransferFailure(t *testing.T) {
	conn := &fakeGridConn{putErr: map[int]error{1: errors.New("connection reset")}}
	pool := grid.NewSessionPool(func(context.Context) (grid.Connection, error) { return conn, nil })
	indexer := &fakeIndexer{}
	tempDir := t.TempDir()

	pipeline := NewPipeline(indexer, pool, Params{
		Collection:    testCollection("casey"),
		Username:      "casey",
		TopFolder:     "survey",
		Records:       testRecords(t, 5),
		MaxPerArchive: 3,
		TempDir:       tempDir,
	})

	err := runPipeline(t, pipeline, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive 2 of 3")
	assert.Equal(t, StateFailed, pipeline.State())

	// The first archive went through, the third was never attempted.
	assert.Len(t, conn.puts, 1)
	assert.Equal(t, 2, conn.putSeen)

	// No indexing, no upload record after a failed transfer.
	assert.Empty(t, indexer.docs)
	assert.Empty(t, indexer.records)

	// The session still went back and staged archives are gone.
	assert.Equal(t, 0, pool.ActiveSessions())
	assertNoStagedArchives(t, tempDir)
}

func TestPipelineSurfacesPartialIndexFailureAfterRecording(t *testing.T) {
	conn := &fakeGridConn{}
	pool := grid.NewSessionPool(func(context.Context) (grid.Connection, error) { return conn, nil })
	indexer := &fakeIndexer{
		bulkErr: &search.BulkError{
			Index:    search.IndexMetadata,
			Failures: []search.BulkFailure{{ID: "doc-3", Reason: "mapping conflict"}},
		},
	}

	pipeline := NewPipeline(indexer, pool, Params{
		Collection:    testCollection("casey"),
		Username:      "casey",
		TopFolder:     "survey",
		Records:       testRecords(t, 3),
		MaxPerArchive: 900,
		TempDir:       t.TempDir(),
	})

	err := runPipeline(t, pipeline, nil)

	// Successes stand: the upload record is written and the partial
	// failure surfaces to the caller.
	var bulkErr *search.BulkError
	require.True(t, errors.As(err, &bulkErr))
	assert.Equal(t, StateDone, pipeline.State())
	require.Len(t, indexer.records, 1)
	assert.Equal(t, 3, indexer.records[0].ImageCount)
}

func assertNoStagedArchives(t *testing.T, tempDir string) {
	t.Helper()
	var files []string
	err := filepath.WalkDir(tempDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, files)
}
