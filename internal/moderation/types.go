package moderation

import (
	"context"
	"strings"
	"time"
)

// StatusUntreated is the status given to publications created without one.
const StatusUntreated = "untreated"

// Notification kinds emitted by moderation transitions.
const (
	KindApproved       = "PUBLICATION_APPROVED"
	KindInCatalog      = "PUBLICATION_IN_CATALOG"
	KindInPublications = "PUBLICATION_IN_PUBLICATIONS"
)

// Publication is a marketplace listing together with its moderation state.
//
// VerifiedBy and VerifiedAt are set together and only while Verified is true.
// A nil VerifiedBy on a verified publication means system attribution.
// InCatalog and InPublications are kept through an unverify, so every public
// read must also require Verified.
type Publication struct {
	ID             int64      `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Type           string     `json:"type"`
	Price          float64    `json:"price"`
	Status         string     `json:"status"`
	Verified       bool       `json:"verified"`
	VerifiedBy     *int64     `json:"verifiedBy"`
	VerifiedAt     *time.Time `json:"verifiedAt"`
	InCatalog      bool       `json:"inCatalog"`
	InPublications bool       `json:"inPublications"`
	OwnerID        *int64     `json:"ownerId"`
	File           *File      `json:"file,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// File describes an attachment stored by the upload collaborator.
type File struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
	Size int64  `json:"size"`
}

// ListedInCatalog reports whether the publication belongs on the public listing.
func (p Publication) ListedInCatalog() bool {
	return p.Verified && p.InCatalog
}

// ListedInPublications reports whether the publication belongs on the publications page.
func (p Publication) ListedInPublications() bool {
	return p.Verified && p.InPublications
}

// OwnedBy reports whether userID owns the publication.
func (p Publication) OwnedBy(userID int64) bool {
	return p.OwnerID != nil && *p.OwnerID == userID
}

// Draft is the caller-supplied content of a new publication. Moderation
// fields are absent: new publications always start unverified.
type Draft struct {
	Title       string  `json:"title" validate:"required,max=255"`
	Description string  `json:"description" validate:"required"`
	Type        string  `json:"type" validate:"required,max=100"`
	Price       float64 `json:"price" validate:"gt=0"`
	Status      string  `json:"status" validate:"max=64"`
	OwnerID     *int64  `json:"ownerId"`
}

// Patch changes several content fields at once. Nil fields are left alone.
type Patch struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Type        *string  `json:"type"`
	Price       *float64 `json:"price"`
	Status      *string  `json:"status"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Type == nil && p.Price == nil && p.Status == nil
}

// Filter selects publications in Store.ListPublications. Nil fields match anything.
type Filter struct {
	Verified       *bool
	InCatalog      *bool
	InPublications *bool
	Status         string
	OwnerID        *int64
}

// Match reports whether p satisfies the filter.
func (f Filter) Match(p Publication) bool {
	if f.Verified != nil && p.Verified != *f.Verified {
		return false
	}
	if f.InCatalog != nil && p.InCatalog != *f.InCatalog {
		return false
	}
	if f.InPublications != nil && p.InPublications != *f.InPublications {
		return false
	}
	if f.Status != "" && !strings.EqualFold(p.Status, f.Status) {
		return false
	}
	if f.OwnerID != nil && !p.OwnedBy(*f.OwnerID) {
		return false
	}
	return true
}

// Store persists publications. UpdatePublication must run fn and write its
// result as one atomic unit; if fn returns an error nothing is written.
// Unknown ids yield errs.ErrNotFound.
type Store interface {
	CreatePublication(ctx context.Context, p Publication) (Publication, error)
	GetPublication(ctx context.Context, id int64) (Publication, error)
	UpdatePublication(ctx context.Context, id int64, fn func(*Publication) error) (Publication, error)
	DeletePublication(ctx context.Context, id int64) error
	DeleteByOwner(ctx context.Context, ownerID int64) (int, error)
	ListPublications(ctx context.Context, f Filter) ([]Publication, error)
}

// Notifier receives moderation notifications for publication owners.
type Notifier interface {
	Notify(ctx context.Context, userID int64, message, kind string, referenceID int64) error
}

// Owners resolves owner ids. Only existence is checked.
type Owners interface {
	Exists(ctx context.Context, userID int64) (bool, error)
}

func boolPtr(b bool) *bool { return &b }
