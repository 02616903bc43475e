package upload

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/aviarydata/aviary/internal/domain"
	"github.com/aviarydata/aviary/internal/grid"
	"github.com/aviarydata/aviary/internal/logging"
	"github.com/aviarydata/aviary/internal/search"
	"github.com/aviarydata/aviary/internal/worker"
)

// State is the pipeline's coarse position in the upload state machine.
type State string

const (
	StatePreparing       State = "preparing"
	StateChunking        State = "chunking"
	StateTransferring    State = "transferring"
	StateIndexing        State = "indexing"
	StateRecordingUpload State = "recording-upload"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// StorageMethodGrid marks upload records written through the grid path.
const StorageMethodGrid = "grid"

// Upload folders sort lexicographically by time.
const folderTimestampFormat = "2006.01.02.15.04.05"

// ErrNoUploadPermission aborts a pipeline before any transfer begins.
var ErrNoUploadPermission = errors.New("user may not upload to this collection")

// Indexer is the slice of the search adapter the pipeline writes through.
type Indexer interface {
	BulkIndex(ctx context.Context, index string, docs []search.Document) error
	AppendUploadRecord(ctx context.Context, collectionID string, rec domain.UploadRecord) error
}

// Params describes one upload job.
type Params struct {
	Collection domain.Collection
	Username   string
	// TopFolder names the root the relative paths sit under, both in the
	// archives and in the indexed storage paths.
	TopFolder string
	Records   []domain.ImageRecord

	MaxPerArchive int
	TempDir       string
}

// Pipeline drives one bulk upload through chunking, transfer, indexing,
// and the final upload-record append. One Pipeline is run once, on a
// background worker.
type Pipeline struct {
	params   Params
	indexer  Indexer
	sessions *grid.SessionPool

	mu    sync.Mutex
	state State
}

func NewPipeline(indexer Indexer, sessions *grid.SessionPool, params Params) *Pipeline {
	return &Pipeline{
		params:   params,
		indexer:  indexer,
		sessions: sessions,
		state:    StatePreparing,
	}
}

// State returns the pipeline's current position. Safe to read while the
// pipeline runs on its worker.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Pipeline) fail(err error) error {
	p.setState(StateFailed)
	return err
}

// UploadFolder names the grid folder one upload lands in. The timestamp
// prefix keeps sibling uploads sorted by time.
func UploadFolder(collectionID, username string, at time.Time) string {
	return fmt.Sprintf("/collections/%s/uploads/%s %s",
		collectionID, at.UTC().Format(folderTimestampFormat), username)
}

// Run executes the whole upload. Archive transfers are sequential; any
// transfer failure aborts the remaining archives and the indexing step.
// Per-document indexing failures do not abort the upload record append:
// the successes stand, and the bulk error surfaces to the caller after the
// record is written.
func (p *Pipeline) Run(ctx context.Context, tc worker.TaskContext) error {
	p.setState(StatePreparing)
	tc.Progress(0, "preparing upload")

	if !p.params.Collection.CanUpload(p.params.Username) {
		return p.fail(errors.Wrapf(ErrNoUploadPermission, "user %q, collection %q",
			p.params.Username, p.params.Collection.ID))
	}
	if len(p.params.Records) == 0 {
		return p.fail(errors.New("upload has no files"))
	}

	p.setState(StateChunking)
	tc.Progress(0, "building archives")

	tempDir, err := os.MkdirTemp(p.params.TempDir, "aviary-upload-")
	if err != nil {
		return p.fail(errors.Wrap(err, "creating staging directory"))
	}
	defer os.RemoveAll(tempDir)

	archives, err := BuildArchives(p.params.Records, p.params.TopFolder, tempDir, p.params.MaxPerArchive)
	if err != nil {
		return p.fail(err)
	}

	p.setState(StateTransferring)
	uploadPath := UploadFolder(p.params.Collection.ID, p.params.Username, time.Now())

	if err := p.transfer(ctx, tc, archives, uploadPath); err != nil {
		return p.fail(err)
	}

	p.setState(StateIndexing)
	tc.Progress(1, "indexing documents")

	bulkErr := p.index(ctx, uploadPath)
	var partial *search.BulkError
	if bulkErr != nil && !errors.As(bulkErr, &partial) {
		return p.fail(bulkErr)
	}

	p.setState(StateRecordingUpload)
	rec := domain.UploadRecord{
		UploadUser:    p.params.Username,
		UploadDate:    time.Now().UTC(),
		ImageCount:    len(p.params.Records),
		UploadPath:    uploadPath,
		StorageMethod: StorageMethodGrid,
	}
	if err := p.indexer.AppendUploadRecord(ctx, p.params.Collection.ID, rec); err != nil {
		return p.fail(errors.Wrap(err, "recording upload"))
	}

	p.setState(StateDone)
	tc.Progress(1, "upload complete")
	return bulkErr
}

// transfer moves every archive onto the grid sequentially. Local archive
// files are removed after their transfer attempt regardless of outcome.
func (p *Pipeline) transfer(ctx context.Context, tc worker.TaskContext, archives []Archive, uploadPath string) error {
	checkout, err := p.sessions.Acquire(ctx, tc.WorkerID)
	if err != nil {
		RemoveArchives(archives)
		return err
	}
	defer p.sessions.Release(checkout)
	conn := checkout.Conn()

	if err := conn.Mkdir(ctx, uploadPath); err != nil {
		RemoveArchives(archives)
		return errors.Wrapf(err, "creating upload folder %q", uploadPath)
	}

	total := len(archives)
	for i, archive := range archives {
		remotePath := fmt.Sprintf("%s/archive-%d.tar", uploadPath, i)
		putErr := conn.Put(ctx, archive.Path, remotePath)
		os.Remove(archive.Path)
		if putErr != nil {
			RemoveArchives(archives[i+1:])
			return errors.Wrapf(putErr, "transferring archive %d of %d", i+1, total)
		}
		tc.Progress(float64(i+1)/float64(total),
			fmt.Sprintf("transferred archive %d of %d", i+1, total))
	}
	return nil
}

// index writes one metadata document per uploaded file.
func (p *Pipeline) index(ctx context.Context, uploadPath string) error {
	docs := make([]search.Document, 0, len(p.params.Records))
	for _, rec := range p.params.Records {
		storagePath := uploadPath + "/" + EntryName(p.params.TopFolder, rec.RelativePath)
		doc := domain.NewImageDocument(storagePath, p.params.Collection.ID, rec)
		docs = append(docs, search.Document{Body: doc})
	}

	err := p.indexer.BulkIndex(ctx, search.IndexMetadata, docs)
	var partial *search.BulkError
	if errors.As(err, &partial) {
		logging.Warn("some documents were rejected during upload indexing",
			zap.String("collection", p.params.Collection.ID),
			zap.Int("failed", len(partial.Failures)),
			zap.Int("total", len(docs)))
	}
	return err
}
