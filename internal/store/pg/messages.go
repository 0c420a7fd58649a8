package pg

import (
	"context"
	"database/sql"
	"errors"

	"serviceelectro.org/internal/errs"
	"serviceelectro.org/internal/messaging"
)

var _ messaging.Store = (*Store)(nil)

const messageColumns = `id, sender_id, receiver_id, content, read, created_at, updated_at`

func scanMessage(row rowScanner) (messaging.Message, error) {
	var m messaging.Message
	err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Read, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (s *Store) SaveMessage(ctx context.Context, m messaging.Message) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into messages (id, sender_id, receiver_id, content, read, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.SenderID, m.ReceiverID, m.Content, m.Read, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrForeignKeyViolation:
				return errs.NotFound("account", m.ReceiverID)
			case pgErrUniqueViolation:
				return errs.Conflict("message " + m.ID + " already exists")
			}
		}
		return err
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (messaging.Message, error) {
	if s.db == nil {
		return messaging.Message{}, errNoDB
	}
	m, err := scanMessage(s.db.QueryRowContext(ctx, `select `+messageColumns+` from messages where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return messaging.Message{}, errs.NotFound("message", id)
	}
	return m, err
}

func (s *Store) ListInbox(ctx context.Context, receiverID int64) ([]messaging.Message, error) {
	return s.queryMessages(ctx, `where receiver_id = $1 order by id desc`, receiverID)
}

func (s *Store) ListSent(ctx context.Context, senderID int64) ([]messaging.Message, error) {
	return s.queryMessages(ctx, `where sender_id = $1 order by id desc`, senderID)
}

func (s *Store) ListConversation(ctx context.Context, userA, userB int64) ([]messaging.Message, error) {
	return s.queryMessages(ctx, `
		where (sender_id = $1 and receiver_id = $2) or (sender_id = $2 and receiver_id = $1)
		order by id`, userA, userB)
}

func (s *Store) ListAllMessages(ctx context.Context) ([]messaging.Message, error) {
	return s.queryMessages(ctx, `order by id desc`)
}

func (s *Store) MarkMessageRead(ctx context.Context, receiverID int64, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx,
		`update messages set read = true, updated_at = now() where id = $1 and receiver_id = $2`, id, receiverID)
	if err != nil {
		return err
	}
	return requireAffected(res, errs.NotFound("message", id))
}

func (s *Store) MarkAllMessagesRead(ctx context.Context, receiverID int64) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx,
		`update messages set read = true, updated_at = now() where receiver_id = $1 and not read`, receiverID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) CountUnreadMessages(ctx context.Context, receiverID int64) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from messages where receiver_id = $1 and not read`, receiverID).Scan(&n)
	return n, err
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from messages where id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, errs.NotFound("message", id))
}

func (s *Store) DeleteMessagesForUser(ctx context.Context, userID int64) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from messages where sender_id = $1 or receiver_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) queryMessages(ctx context.Context, clause string, args ...any) ([]messaging.Message, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+messageColumns+` from messages `+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []messaging.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
