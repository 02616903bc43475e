package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/aviarydata/aviary/internal/domain"
	"github.com/aviarydata/aviary/internal/grid"
	"github.com/aviarydata/aviary/internal/search"
)

// --- Error Definitions ---
var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrNotOwner           = errors.New("only the collection owner may change it")
)

// CollectionStore is the slice of the search adapter collection management
// needs.
type CollectionStore interface {
	GetCollection(ctx context.Context, id string) (*domain.Collection, error)
	ListCollections(ctx context.Context) ([]domain.Collection, error)
	UpsertCollection(ctx context.Context, col domain.Collection) error
}

type CollectionService interface {
	List(ctx context.Context) ([]domain.Collection, error)
	Get(ctx context.Context, id string) (*domain.Collection, error)
	Create(ctx context.Context, name, organization, owner string) (*domain.Collection, error)
	Update(ctx context.Context, username string, col domain.Collection) error
}

type collectionService struct {
	store    CollectionStore
	sessions *grid.SessionPool
}

func NewCollectionService(store CollectionStore, sessions *grid.SessionPool) CollectionService {
	return &collectionService{store: store, sessions: sessions}
}

func (s *collectionService) List(ctx context.Context) ([]domain.Collection, error) {
	return s.store.ListCollections(ctx)
}

func (s *collectionService) Get(ctx context.Context, id string) (*domain.Collection, error) {
	col, err := s.store.GetCollection(ctx, id)
	if errors.Is(err, search.ErrNotFound) {
		return nil, ErrCollectionNotFound
	}
	return col, err
}

// Create registers a collection document and prepares its grid folders:
// the collection root, its uploads folder, and the owner's access grant.
func (s *collectionService) Create(ctx context.Context, name, organization, owner string) (*domain.Collection, error) {
	if name == "" || owner == "" {
		return nil, errors.New("collection name and owner cannot be empty")
	}

	col := domain.NewCollection(name, organization, owner)
	if err := s.store.UpsertCollection(ctx, col); err != nil {
		return nil, err
	}

	if err := s.prepareGridFolders(ctx, col); err != nil {
		return nil, err
	}
	return &col, nil
}

// Update replaces a collection's descriptive fields and access list. Only
// the owner may update; the uploads log is never touched here. Changed
// permissions are pushed down to the grid.
func (s *collectionService) Update(ctx context.Context, username string, col domain.Collection) error {
	existing, err := s.Get(ctx, col.ID)
	if err != nil {
		return err
	}
	if existing.Owner() != username {
		return ErrNotOwner
	}

	if err := s.store.UpsertCollection(ctx, col); err != nil {
		return err
	}
	return s.applyGridAccess(ctx, col)
}

func (s *collectionService) prepareGridFolders(ctx context.Context, col domain.Collection) error {
	checkout, err := s.sessions.Acquire(ctx, apiWorkerID())
	if err != nil {
		return err
	}
	defer s.sessions.Release(checkout)
	conn := checkout.Conn()

	root := collectionFolder(col.ID)
	if err := conn.Mkdir(ctx, root); err != nil {
		return err
	}
	if err := conn.Mkdir(ctx, root+"/uploads"); err != nil {
		return err
	}

	return s.grantAll(ctx, conn, col)
}

func (s *collectionService) applyGridAccess(ctx context.Context, col domain.Collection) error {
	checkout, err := s.sessions.Acquire(ctx, apiWorkerID())
	if err != nil {
		return err
	}
	defer s.sessions.Release(checkout)
	return s.grantAll(ctx, checkout.Conn(), col)
}

func (s *collectionService) grantAll(ctx context.Context, conn grid.Connection, col domain.Collection) error {
	root := collectionFolder(col.ID)
	for _, perm := range col.Permissions {
		level, ok := accessLevelFor(perm)
		if !ok {
			continue
		}
		if err := conn.SetAccess(ctx, root, perm.Username, level); err != nil {
			return err
		}
	}
	return nil
}

func collectionFolder(id string) string {
	return fmt.Sprintf("/collections/%s", id)
}

// apiWorkerID gives each request-path grid checkout its own identity.
// Checkouts under one ID share a session, and a session must never be
// held by two goroutines at once.
func apiWorkerID() string {
	return "api-" + uuid.NewString()
}

// accessLevelFor maps a permission entry onto the grid's strongest
// matching level. An entry with no bits set grants nothing.
func accessLevelFor(p domain.Permission) (grid.AccessLevel, bool) {
	switch {
	case p.Owner:
		return grid.AccessOwn, true
	case p.Upload:
		return grid.AccessUpload, true
	case p.Read:
		return grid.AccessRead, true
	default:
		return "", false
	}
}
