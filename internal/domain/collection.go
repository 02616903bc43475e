package domain

import (
	"time"

	"github.com/google/uuid"
)

// Permission is one entry of a collection's access list. The three levels
// nest: an owner can upload, an uploader can read.
type Permission struct {
	Username string `json:"username"`
	Read     bool   `json:"read"`
	Upload   bool   `json:"upload"`
	Owner    bool   `json:"owner"`
}

// UploadRecord is an immutable log entry appended to a collection document
// describing one completed bulk transfer. Appends go through a server-side
// scripted update, never a document overwrite.
type UploadRecord struct {
	UploadUser    string    `json:"uploadUser"`
	UploadDate    time.Time `json:"uploadDate"`
	ImageCount    int       `json:"imageCount"`
	UploadPath    string    `json:"uploadPath"`
	StorageMethod string    `json:"storageMethod"`
}

// Collection is one document in the collections index: a named set of
// uploaded imagery with an access list and an append-only upload log.
type Collection struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Organization string         `json:"organization"`
	ContactInfo  string         `json:"contactInfo"`
	Description  string         `json:"description"`
	Permissions  []Permission   `json:"permissions"`
	Uploads      []UploadRecord `json:"uploads"`
}

// NewCollection creates a collection owned by the given user.
func NewCollection(name, organization, owner string) Collection {
	return Collection{
		ID:           uuid.NewString(),
		Name:         name,
		Organization: organization,
		Permissions: []Permission{
			{Username: owner, Read: true, Upload: true, Owner: true},
		},
		Uploads: []UploadRecord{},
	}
}

// PermissionFor returns the permission entry for a user, or a zero entry if
// the user is not on the access list.
func (c Collection) PermissionFor(username string) Permission {
	for _, p := range c.Permissions {
		if p.Username == username {
			return p
		}
	}
	return Permission{Username: username}
}

// CanUpload reports whether the user may upload into this collection.
func (c Collection) CanUpload(username string) bool {
	p := c.PermissionFor(username)
	return p.Upload || p.Owner
}

// Owner returns the username of the owning permission entry, or "".
func (c Collection) Owner() string {
	for _, p := range c.Permissions {
		if p.Owner {
			return p.Username
		}
	}
	return ""
}
