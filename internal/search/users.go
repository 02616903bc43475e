package search

import (
	"context"
	"encoding/json"
	"time"

	"github.com/olivere/elastic/v7"
	"github.com/pkg/errors"

	"github.com/aviarydata/aviary/internal/domain"
	"github.com/aviarydata/aviary/internal/logging"
)

// userDoc is the stored shape of a user. It exists because domain.User
// deliberately keeps the password hash out of its JSON form.
type userDoc struct {
	Username     string              `json:"username"`
	PasswordHash string              `json:"passwordHash,omitempty"`
	Settings     domain.UserSettings `json:"settings"`
	CreatedAt    time.Time           `json:"createdAt"`
}

func (d userDoc) toDomain() *domain.User {
	return &domain.User{
		Username:     d.Username,
		PasswordHash: d.PasswordHash,
		Settings:     d.Settings,
		CreatedAt:    d.CreatedAt,
	}
}

// EnsureUser creates the user document on first login and leaves an
// existing one untouched. New users start with default settings.
func (c *Client) EnsureUser(ctx context.Context, user domain.User) error {
	id := normalizeID(user.Username)
	if id == "" {
		return errors.New("ensure user: empty username")
	}

	_, err := c.es.Get().
		Index(IndexUsers).
		Id(id).
		FetchSource(false).
		Do(ctx)
	if err == nil {
		return nil
	}
	if !elastic.IsNotFound(err) {
		return errors.Wrapf(err, "looking up user %q", id)
	}

	doc := userDoc{
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		Settings:     user.Settings,
		CreatedAt:    user.CreatedAt,
	}
	if doc.Settings == (domain.UserSettings{}) {
		doc.Settings = domain.DefaultSettings()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	_, err = c.es.Index().
		Index(IndexUsers).
		Id(id).
		BodyJson(doc).
		Do(ctx)
	if err != nil {
		return errors.Wrapf(err, "creating user %q", id)
	}
	logging.Infof("created user document for %s", id)
	return nil
}

// GetUser fetches one user by username. ErrNotFound when the document does
// not exist.
func (c *Client) GetUser(ctx context.Context, username string) (*domain.User, error) {
	id := normalizeID(username)
	res, err := c.es.Get().
		Index(IndexUsers).
		Id(id).
		Do(ctx)
	if err != nil {
		if elastic.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "fetching user %q", id)
	}

	var doc userDoc
	if err := json.Unmarshal(res.Source, &doc); err != nil {
		return nil, errors.Wrap(err, "decoding user document")
	}
	return doc.toDomain(), nil
}

// PullSettings reads the stored settings for a user.
func (c *Client) PullSettings(ctx context.Context, username string) (domain.UserSettings, error) {
	user, err := c.GetUser(ctx, username)
	if err != nil {
		return domain.UserSettings{}, err
	}
	return user.Settings, nil
}

// PushSettings replaces a user's stored settings with a partial document
// update, leaving the rest of the user document alone.
func (c *Client) PushSettings(ctx context.Context, username string, settings domain.UserSettings) error {
	id := normalizeID(username)
	_, err := c.es.Update().
		Index(IndexUsers).
		Id(id).
		Doc(map[string]interface{}{"settings": settings}).
		Do(ctx)
	if err != nil {
		if elastic.IsNotFound(err) {
			return ErrNotFound
		}
		return errors.Wrapf(err, "updating settings for %q", id)
	}
	return nil
}
