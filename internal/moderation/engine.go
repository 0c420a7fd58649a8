package moderation

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"serviceelectro.org/internal/errs"
	"serviceelectro.org/internal/obs"
)

// ErrAlreadyVerified is returned when verifying a verified publication.
var ErrAlreadyVerified = errs.Conflict("publication is already verified")

// Engine owns the publication verification and visibility state machine.
// Every transition is a single Store.UpdatePublication call; notifications
// are sent only after it returns successfully.
type Engine struct {
	store    Store
	owners   Owners
	notifier Notifier
	validate *validator.Validate
	now      func() time.Time
	log      zerolog.Logger
}

// Option configures Engine.
type Option func(*Engine)

// WithNotifier sets the owner notification sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithOwners enables account existence checks for owners on Create and
// for the attributed admin on Verify.
func WithOwners(o Owners) Option {
	return func(e *Engine) { e.owners = o }
}

// WithClock injects the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine constructs an Engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		validate: validator.New(),
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create stores a new, unverified publication.
func (e *Engine) Create(ctx context.Context, d Draft) (Publication, error) {
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	d.Type = strings.TrimSpace(d.Type)
	d.Status = strings.TrimSpace(d.Status)
	if err := e.validate.Struct(d); err != nil {
		return Publication{}, errs.FromValidator(err)
	}
	if math.IsInf(d.Price, 0) {
		return Publication{}, errs.Invalid("price", "must be a finite number")
	}
	if d.Status == "" {
		d.Status = StatusUntreated
	}
	if d.OwnerID != nil && e.owners != nil {
		ok, err := e.owners.Exists(ctx, *d.OwnerID)
		if err != nil {
			return Publication{}, fmt.Errorf("check owner: %w", err)
		}
		if !ok {
			return Publication{}, errs.NotFound("account", *d.OwnerID)
		}
	}

	now := e.now().UTC()
	p, err := e.store.CreatePublication(ctx, Publication{
		Title:       d.Title,
		Description: d.Description,
		Type:        d.Type,
		Price:       d.Price,
		Status:      d.Status,
		OwnerID:     d.OwnerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Publication{}, err
	}
	e.log.Info().Int64("publication_id", p.ID).Msg("publication created")
	return p, nil
}

// Verify moves an unverified publication to verified, attributed to adminID,
// and notifies the owner.
func (e *Engine) Verify(ctx context.Context, id, adminID int64) (Publication, error) {
	if adminID <= 0 {
		return Publication{}, errs.Invalid("adminId", "is required")
	}
	if e.owners != nil {
		ok, err := e.owners.Exists(ctx, adminID)
		if err != nil {
			return Publication{}, fmt.Errorf("check admin: %w", err)
		}
		if !ok {
			return Publication{}, errs.NotFound("account", adminID)
		}
	}
	now := e.now().UTC()
	p, err := e.store.UpdatePublication(ctx, id, func(p *Publication) error {
		if p.Verified {
			return ErrAlreadyVerified
		}
		by := adminID
		p.Verified = true
		p.VerifiedBy = &by
		p.VerifiedAt = &now
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Publication{}, err
	}
	obs.ObserveTransition("verify")
	e.log.Info().Int64("publication_id", id).Int64("admin_id", adminID).Msg("publication verified")
	e.notify(ctx, p, KindApproved, fmt.Sprintf("Your publication %q has been approved.", p.Title))
	return p, nil
}

// Unverify returns a publication to the unverified state. The visibility
// flags are kept so a later verification restores them.
func (e *Engine) Unverify(ctx context.Context, id int64) (Publication, error) {
	now := e.now().UTC()
	p, err := e.store.UpdatePublication(ctx, id, func(p *Publication) error {
		p.Verified = false
		p.VerifiedBy = nil
		p.VerifiedAt = nil
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Publication{}, err
	}
	obs.ObserveTransition("unverify")
	e.log.Info().Int64("publication_id", id).Msg("publication unverified")
	return p, nil
}

type visibilityFlag struct {
	name    string
	kind    string
	field   func(*Publication) *bool
	message string
}

var (
	catalogFlag = visibilityFlag{
		name:    "catalog",
		kind:    KindInCatalog,
		field:   func(p *Publication) *bool { return &p.InCatalog },
		message: "Your publication %q is now listed in the catalog.",
	}
	publicationsFlag = visibilityFlag{
		name:    "publications",
		kind:    KindInPublications,
		field:   func(p *Publication) *bool { return &p.InPublications },
		message: "Your publication %q is now listed on the publications page.",
	}
)

// SetInCatalog sets the catalog flag. Setting it on an unverified
// publication verifies it with system attribution first.
func (e *Engine) SetInCatalog(ctx context.Context, id int64, value bool) (Publication, error) {
	return e.setVisibility(ctx, id, value, catalogFlag)
}

// SetInPublications sets the publications-page flag, like SetInCatalog.
func (e *Engine) SetInPublications(ctx context.Context, id int64, value bool) (Publication, error) {
	return e.setVisibility(ctx, id, value, publicationsFlag)
}

func (e *Engine) setVisibility(ctx context.Context, id int64, value bool, flag visibilityFlag) (Publication, error) {
	now := e.now().UTC()
	var turnedOn, autoVerified bool
	p, err := e.store.UpdatePublication(ctx, id, func(p *Publication) error {
		turnedOn, autoVerified = false, false
		field := flag.field(p)
		if value && !p.Verified {
			p.Verified = true
			p.VerifiedBy = nil
			p.VerifiedAt = &now
			autoVerified = true
		}
		turnedOn = value && !*field
		*field = value
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Publication{}, err
	}

	if autoVerified {
		obs.ObserveTransition("auto_verify")
	}
	state := "off"
	if value {
		state = "on"
	}
	obs.ObserveTransition(flag.name + "_" + state)
	e.log.Info().
		Int64("publication_id", id).
		Str("flag", flag.name).
		Bool("value", value).
		Bool("auto_verified", autoVerified).
		Msg("publication visibility changed")

	if turnedOn {
		e.notify(ctx, p, flag.kind, fmt.Sprintf(flag.message, p.Title))
	}
	return p, nil
}

// UpdateStatus replaces the free-text status.
func (e *Engine) UpdateStatus(ctx context.Context, id int64, status string) (Publication, error) {
	return e.Update(ctx, id, Patch{Status: &status})
}

// UpdateTitle replaces the title.
func (e *Engine) UpdateTitle(ctx context.Context, id int64, title string) (Publication, error) {
	return e.Update(ctx, id, Patch{Title: &title})
}

// UpdateDescription replaces the description.
func (e *Engine) UpdateDescription(ctx context.Context, id int64, description string) (Publication, error) {
	return e.Update(ctx, id, Patch{Description: &description})
}

// UpdateType replaces the listing type.
func (e *Engine) UpdateType(ctx context.Context, id int64, typ string) (Publication, error) {
	return e.Update(ctx, id, Patch{Type: &typ})
}

// UpdatePrice replaces the price, which must be positive.
func (e *Engine) UpdatePrice(ctx context.Context, id int64, price float64) (Publication, error) {
	return e.Update(ctx, id, Patch{Price: &price})
}

// Update applies a content patch atomically. Verification state is untouched.
func (e *Engine) Update(ctx context.Context, id int64, patch Patch) (Publication, error) {
	patch, err := normalizePatch(patch)
	if err != nil {
		return Publication{}, err
	}
	now := e.now().UTC()
	return e.store.UpdatePublication(ctx, id, func(p *Publication) error {
		if patch.Title != nil {
			p.Title = *patch.Title
		}
		if patch.Description != nil {
			p.Description = *patch.Description
		}
		if patch.Type != nil {
			p.Type = *patch.Type
		}
		if patch.Price != nil {
			p.Price = *patch.Price
		}
		if patch.Status != nil {
			p.Status = *patch.Status
		}
		p.UpdatedAt = now
		return nil
	})
}

func normalizePatch(patch Patch) (Patch, error) {
	if patch.Empty() {
		return patch, errs.Invalid("patch", "no fields to update")
	}
	verr := &errs.ValidationError{}
	text := func(field string, v **string) {
		if *v == nil {
			return
		}
		trimmed := strings.TrimSpace(**v)
		if trimmed == "" {
			verr.Fields = append(verr.Fields, errs.FieldError{Field: field, Message: "must not be blank"})
			return
		}
		*v = &trimmed
	}
	text("title", &patch.Title)
	text("description", &patch.Description)
	text("type", &patch.Type)
	text("status", &patch.Status)
	if patch.Price != nil {
		if price := *patch.Price; !(price > 0) || math.IsInf(price, 0) {
			verr.Fields = append(verr.Fields, errs.FieldError{Field: "price", Message: "must be greater than 0"})
		}
	}
	if len(verr.Fields) > 0 {
		return patch, verr
	}
	return patch, nil
}

// AttachFile records the stored attachment of a publication.
func (e *Engine) AttachFile(ctx context.Context, id int64, f File) (Publication, error) {
	if strings.TrimSpace(f.Name) == "" {
		return Publication{}, errs.Invalid("file", "is required")
	}
	now := e.now().UTC()
	return e.store.UpdatePublication(ctx, id, func(p *Publication) error {
		p.File = &f
		p.UpdatedAt = now
		return nil
	})
}

// Delete removes a publication.
func (e *Engine) Delete(ctx context.Context, id int64) error {
	if err := e.store.DeletePublication(ctx, id); err != nil {
		return err
	}
	e.log.Info().Int64("publication_id", id).Msg("publication deleted")
	return nil
}

// DeleteByOwner removes every publication of ownerID. It is the cascade used
// when an account is deleted.
func (e *Engine) DeleteByOwner(ctx context.Context, ownerID int64) (int, error) {
	return e.store.DeleteByOwner(ctx, ownerID)
}

// Get returns a publication regardless of its moderation state.
func (e *Engine) Get(ctx context.Context, id int64) (Publication, error) {
	return e.store.GetPublication(ctx, id)
}

// GetPublic returns a publication only when it is verified.
func (e *Engine) GetPublic(ctx context.Context, id int64) (Publication, error) {
	p, err := e.store.GetPublication(ctx, id)
	if err != nil {
		return Publication{}, err
	}
	if !p.Verified {
		return Publication{}, errs.NotFound("publication", id)
	}
	return p, nil
}

// ListPublic returns the catalog: verified publications flagged in-catalog.
func (e *Engine) ListPublic(ctx context.Context) ([]Publication, error) {
	return e.store.ListPublications(ctx, Filter{Verified: boolPtr(true), InCatalog: boolPtr(true)})
}

// ListPublicationsPage returns verified publications flagged for the publications page.
func (e *Engine) ListPublicationsPage(ctx context.Context) ([]Publication, error) {
	return e.store.ListPublications(ctx, Filter{Verified: boolPtr(true), InPublications: boolPtr(true)})
}

// ListAll returns every publication.
func (e *Engine) ListAll(ctx context.Context) ([]Publication, error) {
	return e.store.ListPublications(ctx, Filter{})
}

// ListUnverified returns publications awaiting verification.
func (e *Engine) ListUnverified(ctx context.Context) ([]Publication, error) {
	return e.store.ListPublications(ctx, Filter{Verified: boolPtr(false)})
}

// ListByStatus returns publications whose status matches, ignoring case.
func (e *Engine) ListByStatus(ctx context.Context, status string) ([]Publication, error) {
	status = strings.TrimSpace(status)
	if status == "" {
		return nil, errs.Invalid("status", "must not be blank")
	}
	return e.store.ListPublications(ctx, Filter{Status: status})
}

// ListByOwner returns every publication of ownerID.
func (e *Engine) ListByOwner(ctx context.Context, ownerID int64) ([]Publication, error) {
	return e.store.ListPublications(ctx, Filter{OwnerID: &ownerID})
}

// notify delivers an owner notification. Failures, panics included, are
// logged and counted but never reach the caller.
func (e *Engine) notify(ctx context.Context, p Publication, kind, message string) {
	if e.notifier == nil || p.OwnerID == nil {
		return
	}
	ownerID := *p.OwnerID
	defer func() {
		if r := recover(); r != nil {
			obs.ObserveNotificationFailure()
			e.log.Error().
				Interface("panic", r).
				Int64("publication_id", p.ID).
				Str("kind", kind).
				Msg("notification dispatch panicked")
		}
	}()
	if err := e.notifier.Notify(context.WithoutCancel(ctx), ownerID, message, kind, p.ID); err != nil {
		obs.ObserveNotificationFailure()
		e.log.Warn().
			Err(err).
			Int64("publication_id", p.ID).
			Int64("user_id", ownerID).
			Str("kind", kind).
			Msg("notification dispatch failed")
	}
}
