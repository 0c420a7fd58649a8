package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"serviceelectro.org/internal/errs"
	"serviceelectro.org/internal/moderation"
)

var _ moderation.Store = (*Store)(nil)

const publicationColumns = `id, title, description, type, price, status, verified, verified_by, verified_at,
	in_catalog, in_publications, owner_id, file_name, file_url, file_type, file_size, created_at, updated_at`

func scanPublication(row rowScanner) (moderation.Publication, error) {
	var (
		p          moderation.Publication
		verifiedBy sql.NullInt64
		verifiedAt sql.NullTime
		ownerID    sql.NullInt64
		fileName   sql.NullString
		fileURL    sql.NullString
		fileType   sql.NullString
		fileSize   sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Type, &p.Price, &p.Status, &p.Verified, &verifiedBy, &verifiedAt,
		&p.InCatalog, &p.InPublications, &ownerID, &fileName, &fileURL, &fileType, &fileSize, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return moderation.Publication{}, err
	}
	p.VerifiedBy = int64PtrFromNull(verifiedBy)
	p.VerifiedAt = timePtrFromNull(verifiedAt)
	p.OwnerID = int64PtrFromNull(ownerID)
	if fileName.Valid && fileName.String != "" {
		p.File = &moderation.File{Name: fileName.String, URL: fileURL.String, Type: fileType.String, Size: fileSize.Int64}
	}
	return p, nil
}

func fileColumns(f *moderation.File) (sql.NullString, sql.NullString, sql.NullString, sql.NullInt64) {
	if f == nil {
		return sql.NullString{}, sql.NullString{}, sql.NullString{}, sql.NullInt64{}
	}
	return sql.NullString{String: f.Name, Valid: true},
		sql.NullString{String: f.URL, Valid: f.URL != ""},
		sql.NullString{String: f.Type, Valid: f.Type != ""},
		sql.NullInt64{Int64: f.Size, Valid: true}
}

func (s *Store) CreatePublication(ctx context.Context, p moderation.Publication) (moderation.Publication, error) {
	if s.db == nil {
		return moderation.Publication{}, errNoDB
	}
	name, url, typ, size := fileColumns(p.File)
	row := s.db.QueryRowContext(ctx, `
		insert into publications (title, description, type, price, status, verified, verified_by, verified_at,
			in_catalog, in_publications, owner_id, file_name, file_url, file_type, file_size, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		returning `+publicationColumns,
		p.Title, p.Description, p.Type, p.Price, p.Status, p.Verified, nullInt64(p.VerifiedBy), nullTime(p.VerifiedAt),
		p.InCatalog, p.InPublications, nullInt64(p.OwnerID), name, url, typ, size, p.CreatedAt, p.UpdatedAt)
	created, err := scanPublication(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return moderation.Publication{}, errs.NotFound("account", derefOr(p.OwnerID, 0))
		}
		return moderation.Publication{}, err
	}
	return created, nil
}

func (s *Store) GetPublication(ctx context.Context, id int64) (moderation.Publication, error) {
	if s.db == nil {
		return moderation.Publication{}, errNoDB
	}
	p, err := scanPublication(s.db.QueryRowContext(ctx, `select `+publicationColumns+` from publications where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return moderation.Publication{}, errs.NotFound("publication", id)
	}
	return p, err
}

// UpdatePublication locks the row, applies fn and writes the result back in
// one transaction. A verified_by naming a missing account is ErrNotFound.
func (s *Store) UpdatePublication(ctx context.Context, id int64, fn func(*moderation.Publication) error) (moderation.Publication, error) {
	var out moderation.Publication
	err := s.withTx(ctx, nil, func(ctx context.Context, tx dbtx) error {
		p, err := scanPublication(tx.QueryRowContext(ctx,
			`select `+publicationColumns+` from publications where id = $1 for update`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return errs.NotFound("publication", id)
		}
		if err != nil {
			return err
		}
		if err := fn(&p); err != nil {
			return err
		}
		name, url, typ, size := fileColumns(p.File)
		if _, err := tx.ExecContext(ctx, `
			update publications set
				title = $2, description = $3, type = $4, price = $5, status = $6,
				verified = $7, verified_by = $8, verified_at = $9,
				in_catalog = $10, in_publications = $11,
				file_name = $12, file_url = $13, file_type = $14, file_size = $15,
				updated_at = $16
			where id = $1
		`, id, p.Title, p.Description, p.Type, p.Price, p.Status,
			p.Verified, nullInt64(p.VerifiedBy), nullTime(p.VerifiedAt),
			p.InCatalog, p.InPublications,
			name, url, typ, size,
			p.UpdatedAt); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return errs.NotFound("account", derefOr(p.VerifiedBy, 0))
			}
			return fmt.Errorf("update publication: %w", err)
		}
		p.ID = id
		out = p
		return nil
	})
	if err != nil {
		return moderation.Publication{}, err
	}
	return out, nil
}

func (s *Store) DeletePublication(ctx context.Context, id int64) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from publications where id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, errs.NotFound("publication", id))
}

func (s *Store) DeleteByOwner(ctx context.Context, ownerID int64) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from publications where owner_id = $1`, ownerID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) ListPublications(ctx context.Context, f moderation.Filter) ([]moderation.Publication, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	where, args := publicationWhere(f)
	rows, err := s.db.QueryContext(ctx, `select `+publicationColumns+` from publications`+where+` order by id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []moderation.Publication
	for rows.Next() {
		p, err := scanPublication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func publicationWhere(f moderation.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Verified != nil {
		add("verified = $%d", *f.Verified)
	}
	if f.InCatalog != nil {
		add("in_catalog = $%d", *f.InCatalog)
	}
	if f.InPublications != nil {
		add("in_publications = $%d", *f.InPublications)
	}
	if f.Status != "" {
		add("lower(status) = lower($%d)", f.Status)
	}
	if f.OwnerID != nil {
		add("owner_id = $%d", *f.OwnerID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " where " + strings.Join(conds, " and "), args
}

func derefOr(v *int64, def int64) int64 {
	if v == nil {
		return def
	}
	return *v
}
