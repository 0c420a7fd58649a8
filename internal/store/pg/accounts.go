package pg

import (
	"context"
	"database/sql"
	"errors"

	"serviceelectro.org/internal/account"
	"serviceelectro.org/internal/errs"
)

var _ account.Store = (*Store)(nil)

const accountColumns = `id, email, username, password_hash, role, online, email_verified, created_at, updated_at`

func scanAccount(row rowScanner) (account.Account, error) {
	var (
		a    account.Account
		role string
	)
	if err := row.Scan(&a.ID, &a.Email, &a.Username, &a.PasswordHash, &role, &a.Online, &a.EmailVerified, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return account.Account{}, err
	}
	a.Role = account.ParseRole(role)
	return a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a account.Account) (account.Account, error) {
	if s.db == nil {
		return account.Account{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (email, username, password_hash, role)
		values ($1, $2, $3, $4)
		returning `+accountColumns,
		account.NormalizeEmail(a.Email), a.Username, a.PasswordHash, string(account.ParseRole(string(a.Role))))
	created, err := scanAccount(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return account.Account{}, account.ErrEmailTaken
		}
		return account.Account{}, err
	}
	return created, nil
}

func (s *Store) GetAccount(ctx context.Context, id int64) (account.Account, error) {
	if s.db == nil {
		return account.Account{}, errNoDB
	}
	a, err := scanAccount(s.db.QueryRowContext(ctx, `select `+accountColumns+` from users where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, errs.NotFound("account", id)
	}
	return a, err
}

func (s *Store) FindByEmail(ctx context.Context, email string) (account.Account, error) {
	if s.db == nil {
		return account.Account{}, errNoDB
	}
	email = account.NormalizeEmail(email)
	a, err := scanAccount(s.db.QueryRowContext(ctx, `select `+accountColumns+` from users where lower(email) = $1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, errs.NotFound("account", email)
	}
	return a, err
}

func (s *Store) ListAccounts(ctx context.Context) ([]account.Account, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+accountColumns+` from users order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []account.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteAccount removes the user row; publications and notifications go with
// it through their on-delete-cascade foreign keys.
func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, errs.NotFound("account", id))
}

func (s *Store) SetOnline(ctx context.Context, id int64, online bool) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `update users set online = $2, updated_at = now() where id = $1`, id, online)
	if err != nil {
		return err
	}
	return requireAffected(res, errs.NotFound("account", id))
}

func (s *Store) SetEmailVerified(ctx context.Context, id int64, verified bool) (account.Account, error) {
	if s.db == nil {
		return account.Account{}, errNoDB
	}
	a, err := scanAccount(s.db.QueryRowContext(ctx, `
		update users set email_verified = $2, updated_at = now()
		where id = $1
		returning `+accountColumns, id, verified))
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, errs.NotFound("account", id)
	}
	return a, err
}
