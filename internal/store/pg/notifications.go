package pg

import (
	"context"

	"serviceelectro.org/internal/errs"
	"serviceelectro.org/internal/notify"
)

var _ notify.Store = (*Store)(nil)

func (s *Store) SaveNotification(ctx context.Context, n notify.Notification) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into notifications (id, user_id, message, kind, reference_id, read, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, n.ID, n.UserID, n.Message, n.Kind, n.ReferenceID, n.Read, n.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return errs.NotFound("account", n.UserID)
		}
		return err
	}
	return nil
}

func (s *Store) ListForUser(ctx context.Context, userID int64) ([]notify.Notification, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, message, kind, reference_id, read, created_at
		from notifications
		where user_id = $1
		order by id desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notify.Notification
	for rows.Next() {
		var n notify.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.Kind, &n.ReferenceID, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) MarkRead(ctx context.Context, userID int64, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `update notifications set read = true where id = $1 and user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	return requireAffected(res, errs.NotFound("notification", id))
}
