package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"serviceelectro.org/internal/auth"
	"serviceelectro.org/internal/errs"
	"serviceelectro.org/internal/ids"
	"serviceelectro.org/internal/moderation"
)

const (
	maxUploadBytes = 10 << 20
	filesPrefix    = "/api/pub/files/"
)

// createPublicationRequest is a Draft that also tolerates the moderation
// and bookkeeping fields of a Publication. Those values are discarded.
type createPublicationRequest struct {
	moderation.Draft
	ID             json.RawMessage `json:"id"`
	Verified       json.RawMessage `json:"verified"`
	VerifiedBy     json.RawMessage `json:"verifiedBy"`
	VerifiedAt     json.RawMessage `json:"verifiedAt"`
	InCatalog      json.RawMessage `json:"inCatalog"`
	InPublications json.RawMessage `json:"inPublications"`
	File           json.RawMessage `json:"file"`
	CreatedAt      json.RawMessage `json:"createdAt"`
	UpdatedAt      json.RawMessage `json:"updatedAt"`
}

func (a *API) handleListPublic(w http.ResponseWriter, r *http.Request) {
	pubs, err := a.moderation.ListPublic(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeList(w, pubs)
}

func (a *API) handleListPublicationsPage(w http.ResponseWriter, r *http.Request) {
	pubs, err := a.moderation.ListPublicationsPage(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeList(w, pubs)
}

func (a *API) handleGetPublic(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	p, err := a.moderation.GetPublic(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleFile(w http.ResponseWriter, r *http.Request) {
	name := filepath.FromSlash(r.PathValue("name"))
	if a.uploadDir == "" || !filepath.IsLocal(name) {
		writeError(w, r, http.StatusNotFound, "file not found")
		return
	}
	full := filepath.Join(a.uploadDir, name)
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		writeError(w, r, http.StatusNotFound, "file not found")
		return
	}
	http.ServeFile(w, r, full)
}

func (a *API) handleCreatePublication(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	var req createPublicationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	d := req.Draft
	if !p.IsAdmin() {
		owner := p.UserID
		d.OwnerID = &owner
	}
	pub, err := a.moderation.Create(r.Context(), d)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/pub/"+strconv.FormatInt(pub.ID, 10))
	writeJSON(w, http.StatusCreated, pub)
}

func (a *API) handleListByOwner(w http.ResponseWriter, r *http.Request) {
	ownerID, err := pathID(r, "userId")
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	p, err := principal(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if !p.CanActFor(ownerID) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	pubs, err := a.moderation.ListByOwner(r.Context(), ownerID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeList(w, pubs)
}

func (a *API) handleUpdatePublication(w http.ResponseWriter, r *http.Request) {
	id, ok := a.ownedPublication(w, r)
	if !ok {
		return
	}
	var patch moderation.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pub, err := a.moderation.Update(r.Context(), id, patch)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pub)
}

func (a *API) handleDeletePublication(w http.ResponseWriter, r *http.Request) {
	id, ok := a.ownedPublication(w, r)
	if !ok {
		return
	}
	if err := a.moderation.Delete(r.Context(), id); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	id, ok := a.ownedPublication(w, r)
	if !ok {
		return
	}
	if a.uploadDir == "" {
		writeError(w, r, http.StatusServiceUnavailable, "uploads are disabled")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	src, header, err := r.FormFile("file")
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
		return
	}
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer src.Close()

	mt, err := mimetype.DetectReader(src)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unreadable upload")
		return
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		a.writeServiceError(w, r, fmt.Errorf("rewind upload: %w", err))
		return
	}

	name := strings.ToLower(ids.New()) + mt.Extension()
	size, err := a.saveUpload(name, src)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	pub, err := a.moderation.AttachFile(r.Context(), id, moderation.File{
		Name: filepath.Base(header.Filename),
		URL:  filesPrefix + name,
		Type: mt.String(),
		Size: size,
	})
	if err != nil {
		_ = os.Remove(filepath.Join(a.uploadDir, name))
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pub)
}

func (a *API) saveUpload(name string, src io.Reader) (int64, error) {
	if err := os.MkdirAll(a.uploadDir, 0o755); err != nil {
		return 0, fmt.Errorf("create upload dir: %w", err)
	}
	dst, err := os.OpenFile(filepath.Join(a.uploadDir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create upload: %w", err)
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst.Name())
		return 0, fmt.Errorf("write upload: %w", err)
	}
	return n, nil
}

// ownedPublication resolves the {id} path value and checks that the caller
// owns the publication or is an admin. It writes the error response itself.
func (a *API) ownedPublication(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeServiceError(w, r, err)
		return 0, false
	}
	p, err := principal(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return 0, false
	}
	pub, err := a.moderation.Get(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return 0, false
	}
	if !canModify(p, pub) {
		a.writeServiceError(w, r, fmt.Errorf("%w: publication %d", errs.ErrForbidden, id))
		return 0, false
	}
	return id, true
}

func canModify(p auth.Principal, pub moderation.Publication) bool {
	if p.IsAdmin() {
		return true
	}
	return pub.OwnedBy(p.UserID)
}
