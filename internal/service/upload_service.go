package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/aviarydata/aviary/internal/config"
	"github.com/aviarydata/aviary/internal/domain"
	"github.com/aviarydata/aviary/internal/grid"
	"github.com/aviarydata/aviary/internal/upload"
	"github.com/aviarydata/aviary/internal/worker"
)

var ErrUploadNotFound = errors.New("no upload with this id")

// UploadStatus is a point-in-time snapshot of one launched upload.
type UploadStatus struct {
	ID           string       `json:"id"`
	CollectionID string       `json:"collectionID"`
	State        upload.State `json:"state"`
	Fraction     float64      `json:"fraction"`
	Message      string       `json:"message"`
	Error        string       `json:"error,omitempty"`
}

// UploadService launches upload pipelines on the background pool and
// tracks their progress for polling.
type UploadService interface {
	// Launch validates the request, queues the pipeline, and returns its
	// tracking ID. The upload itself runs on a background worker.
	Launch(ctx context.Context, collection domain.Collection, username, topFolder string, records []domain.ImageRecord) (string, error)
	Status(id string) (UploadStatus, error)
}

type uploadService struct {
	indexer    upload.Indexer
	sessions   *grid.SessionPool
	background *worker.Background
	cfg        config.UploadConfig

	mu       sync.Mutex
	statuses map[string]*UploadStatus
}

func NewUploadService(indexer upload.Indexer, sessions *grid.SessionPool, background *worker.Background, cfg config.UploadConfig) UploadService {
	return &uploadService{
		indexer:    indexer,
		sessions:   sessions,
		background: background,
		cfg:        cfg,
		statuses:   make(map[string]*UploadStatus),
	}
}

func (s *uploadService) Launch(ctx context.Context, collection domain.Collection, username, topFolder string, records []domain.ImageRecord) (string, error) {
	if !collection.CanUpload(username) {
		return "", upload.ErrNoUploadPermission
	}
	if len(records) == 0 {
		return "", errors.New("upload has no files")
	}

	pipeline := upload.NewPipeline(s.indexer, s.sessions, upload.Params{
		Collection:    collection,
		Username:      username,
		TopFolder:     topFolder,
		Records:       records,
		MaxPerArchive: s.cfg.MaxFilesPerArchive,
		TempDir:       s.cfg.TempDir,
	})

	id := uuid.NewString()
	s.mu.Lock()
	s.statuses[id] = &UploadStatus{
		ID:           id,
		CollectionID: collection.ID,
		State:        upload.StatePreparing,
	}
	s.mu.Unlock()

	task := worker.Task{
		Name: fmt.Sprintf("upload %s to %s", id, collection.ID),
		Run: func(ctx context.Context, tc worker.TaskContext) error {
			return pipeline.Run(ctx, tc)
		},
		OnProgress: func(fraction float64, message string) {
			s.update(id, func(st *UploadStatus) {
				st.State = pipeline.State()
				st.Fraction = fraction
				st.Message = message
			})
		},
		OnDone: func(err error) {
			s.update(id, func(st *UploadStatus) {
				st.State = pipeline.State()
				if err != nil {
					st.Error = err.Error()
				}
			})
		},
	}
	if err := s.background.Submit(task); err != nil {
		s.mu.Lock()
		delete(s.statuses, id)
		s.mu.Unlock()
		return "", err
	}
	return id, nil
}

func (s *uploadService) update(id string, apply func(*UploadStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.statuses[id]; ok {
		apply(st)
	}
}

func (s *uploadService) Status(id string) (UploadStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[id]
	if !ok {
		return UploadStatus{}, ErrUploadNotFound
	}
	return *st, nil
}
